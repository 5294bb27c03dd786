package driver

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/autotune/internal/artifact"
	"github.com/banshee-data/autotune/internal/bridge"
	"github.com/banshee-data/autotune/internal/monitoring"
	"github.com/banshee-data/autotune/internal/params"
	"github.com/banshee-data/autotune/internal/timeutil"
	"github.com/banshee-data/autotune/internal/triallog"
)

var epoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func quiet(t *testing.T) {
	t.Helper()
	prev := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(prev) })
}

// events is a shared, ordered record of bridge calls and log appends.
type events struct {
	mu  sync.Mutex
	seq []string
}

func (e *events) add(s string) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq = append(e.seq, s)
}

// memLog keeps records in memory.
type memLog struct {
	mu     sync.Mutex
	recs   []triallog.Record
	events *events
}

func (l *memLog) Append(r triallog.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recs = append(l.recs, r)
	l.events.add(string(r.Kind))
	return nil
}

func (l *memLog) trials() []triallog.TrialRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []triallog.TrialRecord
	for _, r := range l.recs {
		if r.Kind == triallog.KindTrial {
			out = append(out, *r.Trial)
		}
	}
	return out
}

func (l *memLog) last() triallog.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recs[len(l.recs)-1]
}

// fakeBridge answers evaluations from a function of the physical point.
type fakeBridge struct {
	mu     sync.Mutex
	calls  int
	events *events
	fn     func(call int, x, phys []float64) bridge.Evaluation
}

func (f *fakeBridge) Evaluate(ctx context.Context, space params.Space, x []float64) bridge.Evaluation {
	f.mu.Lock()
	call := f.calls
	f.calls++
	f.mu.Unlock()
	f.events.add("eval")

	phys, err := space.Physical(x)
	if err != nil {
		return bridge.Evaluation{Status: bridge.StatusFailed, Failure: bridge.FailTransport, Reason: err.Error()}
	}
	ev := f.fn(call, x, phys)
	ev.Physical = phys
	return ev
}

func (f *fakeBridge) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func realArtifact(v float64) *artifact.Artifact {
	return &artifact.Artifact{Shape: artifact.Real1D, Real: []float64{v}}
}

func ok(a *artifact.Artifact) bridge.Evaluation {
	return bridge.Evaluation{Artifact: a, Status: bridge.StatusOK}
}

// bowl returns the squared distance of the normalised point from target as
// a one-point real trace, so minrealint finds target.
func bowl(target ...float64) func(int, []float64, []float64) bridge.Evaluation {
	return func(_ int, x, _ []float64) bridge.Evaluation {
		sum := 0.0
		for i, v := range x {
			d := v - target[i]
			sum += d * d
		}
		return ok(realArtifact(sum))
	}
}

func twoParamSpace() params.Space {
	return params.Space{
		{Name: "p1", Lower: 0, Upper: 100, Initial: 50, Unit: "us"},
		{Name: "d1", Lower: 0.5, Upper: 5, Initial: 1, Unit: "s"},
	}
}

func baseConfig(b Evaluator, l TrialLog) Config {
	return Config{
		Routine:        "bowl",
		Space:          twoParamSpace(),
		CostFunction:   "minrealint",
		Algorithm:      "nm",
		Tolerance:      0.01,
		MaxEvaluations: 60,
		Bridge:         b,
		Log:            l,
		Clock:          timeutil.NewSteppingMockClock(epoch, 250*time.Millisecond),
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// centred has its minimum at p1=30 us, d1=2 s in twoParamSpace.
var centred = bowl(0.3, 1.0/3)
