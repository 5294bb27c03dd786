package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/banshee-data/autotune/internal/bridge"
	"github.com/banshee-data/autotune/internal/config"
	"github.com/banshee-data/autotune/internal/driver"
	"github.com/banshee-data/autotune/internal/monitoring"
	"github.com/banshee-data/autotune/internal/stop"
	"github.com/banshee-data/autotune/internal/triallog"
	"github.com/banshee-data/autotune/internal/watch"
)

// commonFlags are shared by run, batch and resume.
type commonFlags struct {
	target      *string
	logPath     *string
	stopFile    *string
	artifacts   *string
	debugListen *string
	watchListen *string
	quiet       *bool
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		target:      fs.String("target", "", "Bridge transport URL (overrides the routine's bridge.target)"),
		logPath:     fs.String("log", "trials.jsonl", "Trial log path"),
		stopFile:    fs.String("stop-file", "", "Stop once this file exists"),
		artifacts:   fs.String("artifacts", "", "Directory for scored artifacts"),
		debugListen: fs.String("debug-listen", "", "Address for the /debug/ HTTP server"),
		watchListen: fs.String("watch-listen", "", "Address for the gRPC progress stream read by 'autotune watch'"),
		quiet:       fs.Bool("quiet", false, "Only log failures and summaries"),
	}
}

// session owns the resources of one command: bridge, log, stop sources,
// metrics and the optional debug server.
type session struct {
	client  *bridge.Client
	log     *triallog.Log
	stop    stop.Signal
	flag    *stop.Flag
	osStop  *stop.OS
	metrics *monitoring.Metrics
	hub     *watch.Hub
	listen  string
	// watchListen is the gRPC progress stream address.
	watchListen string

	mu     sync.Mutex
	status map[string]driver.Summary
	order  []string
}

func openSession(ctx context.Context, cf commonFlags, b *config.Bridge, opts bridge.Options) (*session, error) {
	target := *cf.target
	if target == "" && b != nil {
		target = b.Target
	}
	if target == "" {
		return nil, errors.New("no bridge target: pass --target or set bridge.target")
	}

	client, err := bridge.Dial(ctx, target, opts)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", target, err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping %s: %w", target, err)
	}

	tl, err := triallog.Open(*cf.logPath)
	if err != nil {
		client.Close()
		return nil, err
	}

	s := &session{
		client:  client,
		log:     tl,
		flag:    &stop.Flag{},
		osStop:  stop.NewOS(),
		metrics: monitoring.NewMetrics(),
		hub:     watch.NewHub(),
		listen:  *cf.debugListen,
		status:  make(map[string]driver.Summary),

		watchListen: *cf.watchListen,
	}
	signals := []stop.Signal{s.flag, s.osStop}
	if *cf.stopFile != "" {
		signals = append(signals, stop.NewFile(*cf.stopFile, stop.DefaultFilePollInterval))
	}
	s.stop = stop.Any(signals...)
	if *cf.quiet {
		monitoring.SetLogger(quietLogger)
	}
	log.Printf("connected to %s, logging trials to %s", target, tl.Path())
	return s, nil
}

// observe records the latest summary of a run for the status route and
// passes it to watch viewers.
func (s *session) observe(sum driver.Summary) {
	s.mu.Lock()
	if _, ok := s.status[sum.RunID]; !ok {
		s.order = append(s.order, sum.RunID)
	}
	s.status[sum.RunID] = sum
	s.mu.Unlock()
	s.hub.Publish(sum)
}

func (s *session) snapshot() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]driver.Summary, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.status[id])
	}
	return out
}

// do runs work while the debug server and progress stream (if any) are
// up, then shuts them down.
func (s *session) do(ctx context.Context, work func(ctx context.Context) error) error {
	if s.listen == "" && s.watchListen == "" {
		return work(ctx)
	}

	var lis net.Listener
	if s.watchListen != "" {
		var err error
		if lis, err = net.Listen("tcp", s.watchListen); err != nil {
			return fmt.Errorf("watch server: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	finished := func() {
		select {
		case <-done:
		case <-gctx.Done():
		}
	}

	if s.listen != "" {
		mux := http.NewServeMux()
		monitoring.AttachDebugRoutes(mux, monitoring.DebugRoutes{
			Metrics: s.metrics,
			Status:  s.snapshot,
			Stop:    s.flag.Stop,
		})
		s.client.AttachAdminRoutes(mux)
		server := &http.Server{Addr: s.listen, Handler: mux}
		g.Go(func() error {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("debug server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			finished()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
		log.Printf("debug routes on http://%s/debug/", s.listen)
	}

	if lis != nil {
		server := grpc.NewServer()
		watch.NewServer(s.hub).Register(server)
		g.Go(func() error {
			if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("watch server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			finished()
			// Closing the hub ends every stream so GracefulStop can return.
			s.hub.Close()
			server.GracefulStop()
			return nil
		})
		log.Printf("streaming run progress on %s", lis.Addr())
	}

	g.Go(func() error {
		defer close(done)
		return work(gctx)
	})
	return g.Wait()
}

func (s *session) Close() {
	s.osStop.Close()
	if err := s.log.Close(); err != nil {
		log.Printf("close trial log: %v", err)
	}
	if err := s.client.Close(); err != nil {
		log.Printf("close bridge: %v", err)
	}
}

// quietLogger keeps failure and summary lines only.
func quietLogger(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	for _, keep := range []string{"failed", "summary:", "error", "stopped"} {
		if strings.Contains(strings.ToLower(msg), keep) {
			log.Print(msg)
			return
		}
	}
}

// exitCode maps run outcomes to process exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, driver.ErrInvalidConfig), errors.Is(err, config.ErrInvalid):
		return 2
	case errors.Is(err, errStopped):
		return 130
	default:
		return 1
	}
}

var errStopped = errors.New("stopped before completion")
