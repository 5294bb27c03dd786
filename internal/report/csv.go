package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/autotune/internal/triallog"
)

// CSVWriter writes a trial table and a run summary table.
type CSVWriter struct {
	Summary *csv.Writer
	Trials  *csv.Writer
}

// NewCSVWriter creates a CSVWriter over the given summary and trial outputs.
func NewCSVWriter(summary, trials io.Writer) *CSVWriter {
	return &CSVWriter{
		Summary: csv.NewWriter(summary),
		Trials:  csv.NewWriter(trials),
	}
}

// SummaryHeader is the column list of the summary table.
var SummaryHeader = []string{
	"run_id", "routine", "algorithm", "cost_function", "maximize", "status",
	"termination", "error", "segments", "evaluations", "failures", "best_index",
	"best_cost", "best_params", "ok_mean", "ok_stddev", "ok_min", "ok_max",
	"started_at", "ended_at", "elapsed_s",
}

// TrialHeader is the column list of the trial table. Parameters are packed
// into one name=value column since runs in one log can differ in shape.
var TrialHeader = []string{
	"run_id", "routine", "index", "time", "status", "failure", "reason",
	"cost", "duration_s", "params", "normalized", "artifact",
}

// WriteHeaders writes both headers.
func (c *CSVWriter) WriteHeaders() error {
	if err := c.Summary.Write(SummaryHeader); err != nil {
		return err
	}
	return c.Trials.Write(TrialHeader)
}

// WriteRun writes one summary row and one row per trial of run.
func (c *CSVWriter) WriteRun(run *triallog.RunReport) error {
	names := run.ParamNames()
	for i := range run.Trials {
		t := &run.Trials[i]
		row := []string{
			run.RunID,
			run.Routine,
			strconv.Itoa(t.Index),
			formatTime(t.Time),
			t.Status,
			t.Failure,
			t.Reason,
			formatFloat(t.CostValue()),
			strconv.FormatFloat(t.DurationSec, 'f', 3, 64),
			formatParams(names, t.Params),
			formatVector(t.Normalized),
			t.ArtifactRef,
		}
		if err := c.Trials.Write(row); err != nil {
			return err
		}
	}

	st := Summarise(run)
	bestIndex, bestCost, bestParams := "", "", ""
	if run.Best != nil {
		bestIndex = strconv.Itoa(run.Best.Index)
		bestCost = formatFloat(run.Best.CostValue())
		bestParams = formatParams(names, run.Best.Params)
	}
	row := []string{
		run.RunID,
		run.Routine,
		run.Algorithm,
		run.CostFunction,
		strconv.FormatBool(run.Maximize),
		run.Status,
		run.Termination,
		run.Error,
		strconv.Itoa(run.Segments),
		strconv.Itoa(run.Evaluations),
		strconv.Itoa(run.Failures),
		bestIndex,
		bestCost,
		bestParams,
		formatFloat(st.Mean),
		formatFloat(st.StdDev),
		formatFloat(st.Min),
		formatFloat(st.Max),
		formatTime(run.StartedAt),
		formatTime(run.EndedAt),
		strconv.FormatFloat(run.ElapsedSec, 'f', 3, 64),
	}
	return c.Summary.Write(row)
}

// WriteReport writes headers and every run, then flushes.
func (c *CSVWriter) WriteReport(rep *triallog.Report) error {
	if err := c.WriteHeaders(); err != nil {
		return err
	}
	for _, run := range rep.Runs {
		if err := c.WriteRun(run); err != nil {
			return fmt.Errorf("run %s: %w", run.RunID, err)
		}
	}
	return c.Flush()
}

// Flush flushes both writers and returns the first write error.
func (c *CSVWriter) Flush() error {
	c.Summary.Flush()
	c.Trials.Flush()
	if err := c.Summary.Error(); err != nil {
		return err
	}
	return c.Trials.Error()
}

// formatFloat leaves NaN cells empty.
func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatParams(names []string, values map[string]float64) string {
	parts := make([]string, 0, len(names))
	for _, n := range names {
		if v, ok := values[n]; ok {
			parts = append(parts, n+"="+strconv.FormatFloat(v, 'g', -1, 64))
		}
	}
	return strings.Join(parts, ";")
}

func formatVector(x []float64) string {
	parts := make([]string, len(x))
	for i, v := range x {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ";")
}
