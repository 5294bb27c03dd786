package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/banshee-data/autotune/internal/report"
	"github.com/banshee-data/autotune/internal/triallog"
)

func handleReport(args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	logPath := fs.String("log", "trials.jsonl", "Trial log to export")
	outDir := fs.String("out", "report", "Output directory")
	formats := fs.String("formats", "all", "Comma separated formats: csv, sqlite, png, html")
	name := fs.String("name", "", "Base name of the CSV, SQLite and HTML files (default: log file name)")
	runID := fs.String("run", "", "Only export this run")
	asJSON := fs.Bool("json", false, "Print the parsed report as JSON instead of exporting")
	assetsHost := fs.String("assets-host", "", "Host serving echarts assets for the HTML page")
	serve := fs.String("serve", "", "After exporting, serve the output directory and a SQL console over the SQLite export on this address")
	fs.Parse(args)

	rep, err := triallog.ParseFile(*logPath)
	if err != nil {
		return err
	}
	if *runID != "" {
		run := rep.Run(*runID)
		if run == nil {
			return fmt.Errorf("run %s not found in %s", *runID, *logPath)
		}
		rep = &triallog.Report{Runs: []*triallog.RunReport{run}}
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	fmts, err := report.ParseFormats(*formats)
	if err != nil {
		return err
	}
	base := *name
	if base == "" {
		base = strings.TrimSuffix(filepath.Base(*logPath), filepath.Ext(*logPath))
	}
	files, err := report.Export(context.Background(), rep, report.Options{
		Dir:     *outDir,
		Name:    base,
		Formats: fmts,
		HTML:    report.HTMLOptions{AssetsHost: *assetsHost, Title: base},
	})
	for _, f := range files {
		fmt.Println(f)
	}
	if err != nil || *serve == "" {
		return err
	}
	i := slices.IndexFunc(files, func(f string) bool { return strings.HasSuffix(f, ".db") })
	if i < 0 {
		return fmt.Errorf("--serve needs the %s format", report.FormatSQLite)
	}
	return serveReport(*serve, *outDir, files[i])
}

// serveReport serves dir and a SQL console over the database at dbPath
// until interrupted.
func serveReport(addr, dir, dbPath string) error {
	store, err := report.OpenStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	mux := http.NewServeMux()
	if err := store.AttachAdminRoutes(mux, filepath.Base(dbPath)); err != nil {
		return err
	}
	mux.Handle("/", http.FileServer(http.Dir(dir)))
	server := &http.Server{Addr: addr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()
	log.Printf("serving %s on http://%s/ (SQL console at /debug/tailsql/)", dir, addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
