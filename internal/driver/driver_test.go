package driver

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/autotune/internal/artifact"
	"github.com/banshee-data/autotune/internal/bridge"
	"github.com/banshee-data/autotune/internal/costfn"
	"github.com/banshee-data/autotune/internal/monitoring"
	"github.com/banshee-data/autotune/internal/params"
	"github.com/banshee-data/autotune/internal/stop"
	"github.com/banshee-data/autotune/internal/triallog"
)

func startSimHost(t *testing.T, h *bridge.SimHost, opts bridge.Options) *bridge.Client {
	t.Helper()
	cp, hp := bridge.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Serve(ctx, hp)
	c := bridge.NewClient(cp, opts)
	t.Cleanup(func() {
		cancel()
		c.Close()
		hp.Close()
	})
	return c
}

func TestRun_PulseScenario(t *testing.T) {
	quiet(t)
	model := bridge.PulseModel("p1", 40)
	host := bridge.NewSimHost(model, nil)
	client := startSimHost(t, host, bridge.Options{
		CommandTimeout: time.Second,
		AcquireTimeout: 2 * time.Second,
		Shape:          artifact.Real1D,
	})
	log := &memLog{}

	state, err := Run(context.Background(), Config{
		Space:          params.Space{{Name: "p1", Lower: 0, Upper: 100, Initial: 50, Unit: "us"}},
		CostFunction:   "zerorealint",
		Algorithm:      "nm",
		Tolerance:      0.01,
		MaxEvaluations: 40,
		Bridge:         client,
		Log:            log,
	})
	require.NoError(t, err)

	initial, err := model(map[string]float64{"p1": 50})
	require.NoError(t, err)
	initialCost, err := costfn.Default().Evaluate("zerorealint", initial, nil)
	require.NoError(t, err)

	assert.LessOrEqual(t, state.Evaluations(), 40)
	assert.Contains(t, []Termination{TermConverged, TermMaxEvaluations}, state.Termination)
	require.NotNil(t, state.Best)
	assert.LessOrEqual(t, state.Best.Cost, initialCost)
	assert.Len(t, log.trials(), state.Evaluations())
	assert.Equal(t, state.Evaluations(), host.Count(bridge.VerbAcquire))
	assert.Equal(t, state.Evaluations(), host.Count(bridge.VerbSafe))

	assert.Equal(t, triallog.KindRunStart, log.recs[0].Kind)
	end := log.last()
	require.Equal(t, triallog.KindRunEnd, end.Kind)
	assert.Equal(t, string(state.Termination), end.End.Termination)
	assert.Equal(t, state.Best.Index, end.End.BestIndex)
}

func TestRun_AcquireTimeoutsExhaustRetryBudget(t *testing.T) {
	quiet(t)
	host := bridge.NewSimHost(bridge.PulseModel("p1", 40), nil)
	host.Inject(bridge.Fault{Verb: bridge.VerbAcquire, Mode: bridge.FaultSilent, Times: 3})
	client := startSimHost(t, host, bridge.Options{
		CommandTimeout: time.Second,
		AcquireTimeout: 50 * time.Millisecond,
	})
	log := &memLog{}

	state, err := Run(context.Background(), Config{
		Space:          params.Space{{Name: "p1", Lower: 0, Upper: 100, Initial: 50, Unit: "us"}},
		CostFunction:   "zerorealint",
		Algorithm:      "nm",
		Tolerance:      0.01,
		MaxEvaluations: 40,
		RetryBudget:    3,
		Bridge:         client,
		Log:            log,
	})
	if !errors.Is(err, ErrRetryBudgetExhausted) {
		t.Fatalf("expected ErrRetryBudgetExhausted, got %v", err)
	}
	require.NotNil(t, state)
	assert.Equal(t, TermRetryBudget, state.Termination)
	assert.Nil(t, state.Best)

	trials := log.trials()
	require.Len(t, trials, 3)
	for i, tr := range trials {
		assert.Equal(t, i, tr.Index)
		assert.Equal(t, string(bridge.StatusFailed), tr.Status)
		assert.Equal(t, string(bridge.FailAcquireTimeout), tr.Failure)
		assert.Nil(t, tr.Cost)
		assert.Equal(t, []float64{0.5}, tr.Normalized)
	}
	end := log.last()
	require.Equal(t, triallog.KindRunEnd, end.Kind)
	assert.Equal(t, string(TermRetryBudget), end.End.Termination)
	assert.NotEmpty(t, end.End.Error)
	assert.Equal(t, 3, end.End.Failures)
}

func TestRun_OneEvaluationPerAppend(t *testing.T) {
	quiet(t)
	ev := &events{}
	b := &fakeBridge{events: ev, fn: centred}
	log := &memLog{events: ev}

	state, err := Run(context.Background(), baseConfig(b, log))
	require.NoError(t, err)
	require.NotEmpty(t, state.Trials)

	seq := ev.seq
	require.Equal(t, "run_start", seq[0])
	require.Equal(t, "run_end", seq[len(seq)-1])
	body := seq[1 : len(seq)-1]
	require.Equal(t, 0, len(body)%2, "unpaired events: %v", body)
	for i := 0; i < len(body); i += 2 {
		if body[i] != "eval" || body[i+1] != "trial" {
			t.Fatalf("expected eval then trial at %d, got %v", i, body[i:i+2])
		}
	}
	assert.Equal(t, b.Calls(), state.Evaluations())
}

func TestRun_FindsBowlMinimum(t *testing.T) {
	quiet(t)
	for _, alg := range []string{"nm", "mds", "bobyqa", "gonum-nm"} {
		t.Run(alg, func(t *testing.T) {
			b := &fakeBridge{fn: centred}
			cfg := baseConfig(b, &memLog{})
			cfg.Algorithm = alg
			cfg.MaxEvaluations = 400

			state, err := Run(context.Background(), cfg)
			require.NoError(t, err)
			require.NotNil(t, state.Best)
			assert.InDelta(t, 30, state.Best.Params[0], 3)
			assert.InDelta(t, 2, state.Best.Params[1], 0.3)
		})
	}
}

func TestRun_NonFiniteCostIsFailedTrial(t *testing.T) {
	quiet(t)
	inner := centred
	b := &fakeBridge{fn: func(call int, x, phys []float64) bridge.Evaluation {
		if call == 0 {
			return ok(realArtifact(math.NaN()))
		}
		if call == 1 {
			return ok(realArtifact(math.Inf(1)))
		}
		return inner(call, x, phys)
	}}
	log := &memLog{}
	cfg := baseConfig(b, log)
	cfg.MaxEvaluations = 5

	state, err := Run(context.Background(), cfg)
	require.NoError(t, err)

	trials := log.trials()
	require.GreaterOrEqual(t, len(trials), 3)
	for _, tr := range trials[:2] {
		assert.Equal(t, string(bridge.StatusFailed), tr.Status)
		assert.Equal(t, string(bridge.FailCost), tr.Failure)
		assert.Nil(t, tr.Cost)
		assert.Contains(t, tr.Reason, "not finite")
	}
	// The retry happens at the same point.
	assert.Equal(t, trials[0].Normalized, trials[2].Normalized)
	assert.Equal(t, string(bridge.StatusOK), trials[2].Status)

	assert.True(t, math.IsNaN(state.Trials[0].Cost))
	assert.Equal(t, 2, state.Failures())
	require.NotNil(t, state.Best)
	assert.True(t, finite(state.Best.Cost))
}

func TestRun_Maximize(t *testing.T) {
	quiet(t)
	inner := centred
	b := &fakeBridge{fn: func(call int, x, phys []float64) bridge.Evaluation {
		ev := inner(call, x, phys)
		ev.Artifact.Real[0] = -ev.Artifact.Real[0]
		return ev
	}}
	cfg := baseConfig(b, &memLog{})
	cfg.Maximize = true
	cfg.MaxEvaluations = 300

	state, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, state.Best)
	assert.Greater(t, state.Best.Cost, state.Trials[0].Cost)
	for _, tr := range state.Trials {
		if tr.OK() {
			assert.LessOrEqual(t, tr.Cost, state.Best.Cost)
		}
	}
	assert.InDelta(t, 30, state.Best.Params[0], 3)
}

func TestRun_StopSignalBetweenTrials(t *testing.T) {
	quiet(t)
	var flag stop.Flag
	b := &fakeBridge{fn: centred}
	cfg := baseConfig(b, &memLog{})
	cfg.Stop = &flag
	cfg.Observer = func(s Summary) {
		if s.Evaluations == 5 {
			flag.Stop()
		}
	}

	state, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, TermStopped, state.Termination)
	assert.Equal(t, 5, state.Evaluations())
	assert.Equal(t, 5, b.Calls())
}

func TestRun_StoppedBeforeFirstTrial(t *testing.T) {
	quiet(t)
	var flag stop.Flag
	flag.Stop()
	b := &fakeBridge{fn: centred}
	log := &memLog{}
	cfg := baseConfig(b, log)
	cfg.Stop = &flag

	state, err := Run(context.Background(), cfg)
	if !errors.Is(err, ErrNoValidEvaluation) {
		t.Fatalf("expected ErrNoValidEvaluation, got %v", err)
	}
	assert.Equal(t, TermStopped, state.Termination)
	assert.Equal(t, 0, b.Calls())
	assert.Len(t, log.recs, 2)
}

func TestRun_AbortedEvaluationIsFatal(t *testing.T) {
	quiet(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := &fakeBridge{fn: func(call int, x, phys []float64) bridge.Evaluation {
		if call == 2 {
			cancel()
			return bridge.Evaluation{Status: bridge.StatusAborted, Failure: bridge.FailAborted, Reason: "context canceled"}
		}
		return centred(call, x, phys)
	}}
	log := &memLog{}

	state, err := Run(ctx, baseConfig(b, log))
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
	assert.Equal(t, TermAborted, state.Termination)
	trials := log.trials()
	require.Len(t, trials, 3)
	assert.Equal(t, string(bridge.StatusAborted), trials[2].Status)
	assert.Equal(t, 3, b.Calls())
}

func TestRun_CancelledContextBeforeStart(t *testing.T) {
	quiet(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := &fakeBridge{fn: centred}

	state, err := Run(ctx, baseConfig(b, &memLog{}))
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, TermAborted, state.Termination)
	assert.Equal(t, 0, b.Calls())
}

func TestRun_OutOfBoundsProposalsAreNotEvaluated(t *testing.T) {
	quiet(t)
	b := &fakeBridge{fn: bowl(0, 0)}
	log := &memLog{}
	cfg := baseConfig(b, log)
	cfg.MaxEvaluations = 150

	state, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	for _, tr := range log.trials() {
		assert.True(t, params.InUnitBox(tr.Normalized), "trial %d outside the box: %v", tr.Index, tr.Normalized)
	}
	assert.Equal(t, b.Calls(), state.Evaluations())
	assert.InDelta(t, 0, state.Best.Params[0], 5)
}

func TestRun_ConfigErrorsBeforeAnyEvaluation(t *testing.T) {
	quiet(t)
	tests := []struct {
		name   string
		mutate func(*Config)
		target error
	}{
		{"unknown cost function", func(c *Config) { c.CostFunction = "minrealnt" }, costfn.ErrUnknownCostFunction},
		{"shape mismatch", func(c *Config) { c.CostFunction = "minabsint" }, costfn.ErrShapeMismatch},
		{"bad option", func(c *Config) { c.CostOptions = map[string]string{"bounds": "9..1"} }, costfn.ErrInvalidOption},
		{"unknown algorithm", func(c *Config) { c.Algorithm = "simplex" }, nil},
		{"bad bounds", func(c *Config) { c.Space[0].Lower = 200 }, params.ErrInvalidSpace},
		{"zero tolerance", func(c *Config) { c.Tolerance = 0 }, nil},
		{"no evaluations", func(c *Config) { c.MaxEvaluations = 0 }, nil},
		{"no log", func(c *Config) { c.Log = nil }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBridge{fn: centred}
			log := &memLog{}
			cfg := baseConfig(b, log)
			cfg.Space = twoParamSpace()
			tt.mutate(&cfg)

			state, err := Run(context.Background(), cfg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "expected ErrInvalidConfig, got %v", err)
			if tt.target != nil {
				assert.True(t, errors.Is(err, tt.target), "expected %v, got %v", tt.target, err)
			}
			assert.Nil(t, state)
			assert.Equal(t, 0, b.Calls())
			assert.Empty(t, log.recs)
		})
	}
}

func TestRun_KeepsArtifacts(t *testing.T) {
	quiet(t)
	dir := t.TempDir()
	b := &fakeBridge{fn: centred}
	cfg := baseConfig(b, &memLog{})
	cfg.RunID = "keep"
	cfg.MaxEvaluations = 3
	cfg.ArtifactDir = filepath.Join(dir, "artifacts")

	state, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, state.Trials, 3)
	for _, tr := range state.Trials {
		require.NotEmpty(t, tr.ArtifactRef)
		_, err := os.Stat(filepath.Join(cfg.ArtifactDir, tr.ArtifactRef))
		assert.NoError(t, err)
	}
	assert.Equal(t, "keep-0000.json", state.Trials[0].ArtifactRef)
}

func TestRun_MetricsAndSummary(t *testing.T) {
	quiet(t)
	m := monitoring.NewMetrics()
	b := &fakeBridge{fn: centred}
	cfg := baseConfig(b, &memLog{})
	cfg.Metrics = m
	cfg.MaxEvaluations = 4
	var last Summary
	cfg.Observer = func(s Summary) { last = s }

	state, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 4, last.Evaluations)
	assert.Equal(t, string(TermMaxEvaluations), last.Termination)
	require.NotNil(t, last.BestCost)
	assert.Equal(t, state.Best.Cost, *last.BestCost)
	assert.Contains(t, last.BestParams, "p1")
	assert.Equal(t, 250*time.Millisecond, state.Trials[0].Duration)
}
