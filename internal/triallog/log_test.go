package triallog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/autotune/internal/monitoring"
)

var t0 = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func muteLogs(t *testing.T) {
	t.Helper()
	prev := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(prev) })
}

func sampleStart() RunStart {
	return RunStart{
		Routine:      "p90",
		Algorithm:    "nm",
		CostFunction: "zerorealint",
		Params: []ParamInfo{
			{Name: "p1", Unit: "us", Lower: 0, Upper: 100, Initial: 50},
		},
		Tolerance:      0.01,
		MaxEvaluations: 40,
	}
}

func trial(i int, p1 float64, cost float64) TrialRecord {
	return TrialRecord{
		Index:       i,
		Params:      map[string]float64{"p1": p1},
		Normalized:  []float64{p1 / 100},
		Units:       map[string]string{"p1": "us"},
		Cost:        CostPtr(cost),
		Status:      "ok",
		DurationSec: 0.5,
	}
}

func failedTrial(i int, p1 float64) TrialRecord {
	return TrialRecord{
		Index:      i,
		Params:     map[string]float64{"p1": p1},
		Normalized: []float64{p1 / 100},
		Status:     "evaluation-failed",
		Failure:    "acquire-timeout",
		Reason:     "no reply within 10m0s",
	}
}

func writeLog(t *testing.T, recs ...Record) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trials.jsonl")
	l, err := Open(path)
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, l.Append(r))
	}
	require.NoError(t, l.Close())
	return path
}

func TestAppendWritesOneLinePerRecord(t *testing.T) {
	path := writeLog(t,
		NewRunStart("r1", t0, sampleStart()),
		NewTrial("r1", t0.Add(time.Second), trial(0, 50, 3)),
		NewTrial("r1", t0.Add(2*time.Second), failedTrial(1, 60)),
	)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	assert.Contains(t, lines[0], `"schema":"autotune.trial/v1"`)
	assert.Contains(t, lines[2], `"cost":null`)
}

func TestAppendAfterClose(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "x.jsonl"))
	require.NoError(t, err)
	require.NoError(t, l.Close())
	assert.Error(t, l.Append(NewRunStart("r", t0, sampleStart())))
	assert.NoError(t, l.Close())
}

func TestOpenTrimsTornTail(t *testing.T) {
	muteLogs(t)
	path := writeLog(t,
		NewRunStart("r1", t0, sampleStart()),
		NewTrial("r1", t0, trial(0, 50, 3)),
	)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString(`{"schema":"autotune.trial/v1","kind":"tri`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(NewTrial("r1", t0, trial(1, 40, 2))))
	require.NoError(t, l.Close())

	rep, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, rep.Runs, 1)
	assert.Equal(t, 2, rep.Runs[0].Evaluations)
}

func TestIterate(t *testing.T) {
	path := writeLog(t,
		NewRunStart("r1", t0, sampleStart()),
		NewTrial("r1", t0, trial(0, 50, 3)),
		NewRunEnd("r1", t0, RunEnd{Termination: "converged", Evaluations: 1}),
	)
	var kinds []Kind
	for rec, err := range Iterate(path) {
		require.NoError(t, err)
		kinds = append(kinds, rec.Kind)
	}
	if diff := cmp.Diff([]Kind{KindRunStart, KindTrial, KindRunEnd}, kinds); diff != "" {
		t.Errorf("kinds mismatch (-want +got):\n%s", diff)
	}
}

func TestIterateMissingFile(t *testing.T) {
	n := 0
	for _, err := range Iterate(filepath.Join(t.TempDir(), "none.jsonl")) {
		n++
		if err == nil {
			t.Errorf("expected error for missing file")
		}
	}
	if n != 1 {
		t.Errorf("expected exactly one yield, got %d", n)
	}
}

func TestIterateStopsOnMalformedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("not json\n"), 0o644))
	var gotErr error
	for _, err := range Iterate(path) {
		gotErr = err
	}
	if !errors.Is(gotErr, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", gotErr)
	}
}
