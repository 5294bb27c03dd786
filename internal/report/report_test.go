package report

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/autotune/internal/monitoring"
	"github.com/banshee-data/autotune/internal/triallog"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func quiet(t *testing.T) {
	t.Helper()
	prev := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = prev })
}

var twoParams = []triallog.ParamInfo{
	{Name: "p1", Unit: "us", Lower: 0, Upper: 100, Initial: 50},
	{Name: "d1", Unit: "s", Lower: 0.5, Upper: 5, Initial: 1},
}

func trial(i int, cost float64, p1, d1 float64) triallog.TrialRecord {
	tr := triallog.TrialRecord{
		Index:       i,
		Params:      map[string]float64{"p1": p1, "d1": d1},
		Normalized:  []float64{p1 / 100, (d1 - 0.5) / 4.5},
		Cost:        triallog.CostPtr(cost),
		Status:      "ok",
		DurationSec: 0.25,
	}
	if tr.Cost == nil {
		tr.Status = "evaluation-failed"
		tr.Failure = "acquire-timeout"
		tr.Reason = "no reply within 50ms"
	}
	return tr
}

// sampleReport writes two runs to a log and parses it back. r1 completes
// with costs 5, failed, 3, 4; r2 maximises and is interrupted after one
// trial.
func sampleReport(t *testing.T) *triallog.Report {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trials.jsonl")
	l, err := triallog.Open(path)
	require.NoError(t, err)

	at := func(s int) time.Time { return t0.Add(time.Duration(s) * time.Second) }

	recs := []triallog.Record{
		triallog.NewRunStart("r1", at(0), triallog.RunStart{
			Routine: "p90", Algorithm: "nm", CostFunction: "minrealint",
			Params: twoParams, Tolerance: 0.01, MaxEvaluations: 40,
		}),
		triallog.NewTrial("r1", at(1), trial(0, 5, 50, 1)),
		triallog.NewTrial("r1", at(2), trial(1, math.NaN(), 60, 1)),
		triallog.NewTrial("r1", at(3), trial(2, 3, 30, 2)),
		triallog.NewTrial("r1", at(4), trial(3, 4, 40, 1.5)),
		triallog.NewRunEnd("r1", at(5), triallog.RunEnd{
			Termination: "converged", BestIndex: 2, BestCost: triallog.CostPtr(3),
			Evaluations: 4, Failures: 1, ElapsedSec: 5,
		}),
		triallog.NewRunStart("r2", at(10), triallog.RunStart{
			Routine: "shim", Algorithm: "mds", CostFunction: "maxrealint",
			Params: twoParams[:1], Tolerance: 0.01, MaxEvaluations: 20, Maximize: true,
		}),
		triallog.NewTrial("r2", at(11), triallog.TrialRecord{
			Index: 0, Params: map[string]float64{"p1": 50}, Normalized: []float64{0.5},
			Cost: triallog.CostPtr(7.5), Status: "ok", DurationSec: 1,
		}),
	}
	for _, r := range recs {
		require.NoError(t, l.Append(r))
	}
	require.NoError(t, l.Close())

	rep, err := triallog.ParseFile(path)
	require.NoError(t, err)
	require.Len(t, rep.Runs, 2)
	return rep
}
