package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/banshee-data/autotune/internal/triallog"
)

// Format names an export format.
type Format string

const (
	FormatCSV    Format = "csv"
	FormatSQLite Format = "sqlite"
	FormatPNG    Format = "png"
	FormatHTML   Format = "html"
)

// AllFormats lists every format in export order.
var AllFormats = []Format{FormatCSV, FormatSQLite, FormatPNG, FormatHTML}

// ErrUnknownFormat is returned by ParseFormats.
var ErrUnknownFormat = errors.New("unknown report format")

// ParseFormats parses a comma separated format list; "all" or an empty
// string selects every format.
func ParseFormats(s string) ([]Format, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "all" {
		return slices.Clone(AllFormats), nil
	}
	var out []Format
	for _, part := range strings.Split(s, ",") {
		f := Format(strings.ToLower(strings.TrimSpace(part)))
		if !slices.Contains(AllFormats, f) {
			return nil, fmt.Errorf("%w %q (known: csv, sqlite, png, html)", ErrUnknownFormat, part)
		}
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out, nil
}

// Options configures Export.
type Options struct {
	// Dir receives every output file.
	Dir string
	// Name is the base name of the CSV, SQLite and HTML files.
	Name    string
	Formats []Format
	HTML    HTMLOptions
}

// Export writes rep in each requested format and returns the files written.
func Export(ctx context.Context, rep *triallog.Report, o Options) ([]string, error) {
	if o.Name == "" {
		o.Name = "autotune"
	}
	if len(o.Formats) == 0 {
		o.Formats = AllFormats
	}
	if err := os.MkdirAll(o.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	base := filepath.Join(o.Dir, fileSafe(o.Name))

	var written []string
	for _, f := range o.Formats {
		var (
			files []string
			err   error
		)
		switch f {
		case FormatCSV:
			files, err = exportCSV(rep, base)
		case FormatSQLite:
			files, err = exportSQLite(ctx, rep, base+".db")
		case FormatPNG:
			for _, run := range rep.Runs {
				var runFiles []string
				runFiles, err = WritePlots(run, o.Dir)
				files = append(files, runFiles...)
				if err != nil {
					break
				}
			}
		case FormatHTML:
			files, err = exportHTML(rep, base+".html", o.HTML)
		default:
			err = fmt.Errorf("%w %q", ErrUnknownFormat, f)
		}
		written = append(written, files...)
		if err != nil {
			return written, fmt.Errorf("%s export: %w", f, err)
		}
		logf("wrote %s export: %d file(s)", f, len(files))
	}
	return written, nil
}

func exportCSV(rep *triallog.Report, base string) ([]string, error) {
	summaryPath, trialsPath := base+"-summary.csv", base+"-trials.csv"
	summary, err := os.Create(summaryPath)
	if err != nil {
		return nil, err
	}
	defer summary.Close()
	trials, err := os.Create(trialsPath)
	if err != nil {
		return nil, err
	}
	defer trials.Close()

	if err := NewCSVWriter(summary, trials).WriteReport(rep); err != nil {
		return nil, err
	}
	if err := summary.Close(); err != nil {
		return nil, err
	}
	if err := trials.Close(); err != nil {
		return nil, err
	}
	return []string{summaryPath, trialsPath}, nil
}

func exportSQLite(ctx context.Context, rep *triallog.Report, path string) ([]string, error) {
	store, err := OpenStore(path)
	if err != nil {
		return nil, err
	}
	if err := store.SaveReport(ctx, rep); err != nil {
		store.Close()
		return nil, err
	}
	if err := store.Close(); err != nil {
		return nil, err
	}
	return []string{path}, nil
}

func exportHTML(rep *triallog.Report, path string, o HTMLOptions) ([]string, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if err := WriteHTML(f, rep, o); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return []string{path}, nil
}
