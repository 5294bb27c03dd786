// Package driver runs the optimisation loop: it asks an algorithm for the
// next point, evaluates it on the instrument through the bridge, scores the
// artifact, appends the trial to the log and decides whether to stop.
//
// Everything happens on the caller's goroutine, one evaluation at a time.
// The stop signal is polled between trials only, never while an
// acquisition is in flight.
package driver

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/google/uuid"

	"github.com/banshee-data/autotune/internal/artifact"
	"github.com/banshee-data/autotune/internal/bridge"
	"github.com/banshee-data/autotune/internal/costfn"
	"github.com/banshee-data/autotune/internal/monitoring"
	"github.com/banshee-data/autotune/internal/optimizer"
	"github.com/banshee-data/autotune/internal/params"
	"github.com/banshee-data/autotune/internal/stop"
	"github.com/banshee-data/autotune/internal/timeutil"
	"github.com/banshee-data/autotune/internal/triallog"
)

var (
	// ErrInvalidConfig wraps every configuration problem found before the
	// first evaluation.
	ErrInvalidConfig = errors.New("invalid run configuration")
	// ErrRetryBudgetExhausted means one point failed RetryBudget times in a
	// row.
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")
	// ErrNoValidEvaluation means the run ended without a single usable cost.
	ErrNoValidEvaluation = errors.New("no valid evaluation")
	// ErrAborted means the context was cancelled during the run.
	ErrAborted = errors.New("run aborted")
	// ErrTooManyRejections means the algorithm kept proposing points outside
	// the parameter bounds.
	ErrTooManyRejections = errors.New("too many out-of-bounds proposals")
	// ErrReplayMismatch means a resumed algorithm proposed a different point
	// than the one recorded in the log.
	ErrReplayMismatch = errors.New("replay diverged from trial log")
	// ErrUnknownRun is returned by Resume when the log has no such run.
	ErrUnknownRun = errors.New("run not found in trial log")
)

const (
	// DefaultRetryBudget is the number of consecutive failures tolerated at
	// one point.
	DefaultRetryBudget = 3
	// maxConsecutiveRejections bounds out-of-bounds proposals in a row.
	maxConsecutiveRejections = 1000
	// replayTolerance is the largest per-coordinate difference allowed
	// between a replayed proposal and the logged point.
	replayTolerance = 1e-9
)

// Evaluator performs one measurement at a normalised point. *bridge.Client
// implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, space params.Space, x []float64) bridge.Evaluation
}

// TrialLog receives every record of a run. *triallog.Log implements it.
type TrialLog interface {
	Append(rec triallog.Record) error
}

// Config describes one run.
type Config struct {
	// RunID names the run in the log; a random UUID is used when empty.
	RunID   string
	Routine string

	Space          params.Space
	CostFunction   string
	CostOptions    map[string]string
	Algorithm      string
	Tolerance      float64
	MaxEvaluations int
	Maximize       bool
	// RetryBudget defaults to DefaultRetryBudget.
	RetryBudget int
	// Shape is what the acquisition produces; it gates the cost function
	// before any evaluation and is the shape a *bridge.Client fetches.
	// Defaults to the bridge's configured shape when the bridge reports
	// one, otherwise 1d-real.
	Shape artifact.Shape

	Bridge   Evaluator
	Registry *costfn.Registry
	Log      TrialLog
	Stop     stop.Signal
	Clock    timeutil.Clock
	// ArtifactDir, when set, keeps every scored artifact as JSON.
	ArtifactDir string
	Metrics     *monitoring.Metrics
	// Observer is called after every logged trial and once at the end.
	Observer func(Summary)
}

type shaper interface {
	Options() bridge.Options
}

type shapeSetter interface {
	WithShape(artifact.Shape) *bridge.Client
}

// withDefaults fills optional fields and validates the rest. Every problem
// it reports wraps ErrInvalidConfig.
func (c Config) withDefaults() (Config, error) {
	if c.RetryBudget <= 0 {
		c.RetryBudget = DefaultRetryBudget
	}
	if c.Registry == nil {
		c.Registry = costfn.Default()
	}
	if c.Stop == nil {
		c.Stop = stop.Never
	}
	if c.Clock == nil {
		c.Clock = timeutil.RealClock{}
	}
	if c.RunID == "" {
		c.RunID = uuid.NewString()
	}
	if s, ok := c.Bridge.(shapeSetter); ok && c.Shape != "" {
		c.Bridge = s.WithShape(c.Shape)
	}
	if c.Shape == "" {
		if s, ok := c.Bridge.(shaper); ok {
			c.Shape = s.Options().Shape
		} else {
			c.Shape = artifact.Real1D
		}
	}
	c.CostOptions = maps.Clone(c.CostOptions)

	if c.Bridge == nil {
		return c, fmt.Errorf("%w: no bridge", ErrInvalidConfig)
	}
	if c.Log == nil {
		return c, fmt.Errorf("%w: no trial log", ErrInvalidConfig)
	}
	if err := c.Space.Validate(); err != nil {
		return c, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := optimizer.Validate(c.Algorithm); err != nil {
		return c, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if !(c.Tolerance > 0 && c.Tolerance < 1) {
		return c, fmt.Errorf("%w: tolerance %v must be in (0, 1)", ErrInvalidConfig, c.Tolerance)
	}
	if c.MaxEvaluations <= 0 {
		return c, fmt.Errorf("%w: max evaluations must be positive, got %d", ErrInvalidConfig, c.MaxEvaluations)
	}
	if err := c.Registry.Check(c.CostFunction, c.Shape, c.CostOptions); err != nil {
		return c, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return c, nil
}

// Run validates cfg and optimises from the initial point until a
// termination condition holds. The returned state is non-nil whenever the
// run started, including when it ended with an error.
func Run(ctx context.Context, cfg Config) (*RunState, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	r, err := newRunner(cfg, nil)
	if err != nil {
		return nil, err
	}
	return r.run(ctx)
}

// Resume reconstructs run runID from the log at logPath and continues it.
// The search settings recorded in the log (space, algorithm, cost function
// and options, tolerance, direction, acquisition shape and retry budget)
// replace those in cfg; a larger MaxEvaluations in cfg extends the budget.
// Logged trials are replayed through a fresh algorithm and every replayed
// proposal must match its logged point. New records are appended through
// cfg.Log under the same run id.
func Resume(ctx context.Context, cfg Config, logPath, runID string) (*RunState, error) {
	rep, err := triallog.ParseFile(logPath)
	if err != nil {
		return nil, fmt.Errorf("resume: %w", err)
	}
	run := rep.Run(runID)
	if run == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}

	cfg.RunID = run.RunID
	cfg.Routine = run.Routine
	cfg.Algorithm = run.Algorithm
	cfg.CostFunction = run.CostFunction
	cfg.CostOptions = run.CostOptions
	cfg.Tolerance = run.Tolerance
	cfg.Maximize = run.Maximize
	if run.Shape != "" {
		cfg.Shape = artifact.Shape(run.Shape)
	}
	if run.RetryBudget > 0 {
		cfg.RetryBudget = run.RetryBudget
	}
	if cfg.MaxEvaluations < run.MaxEvaluations {
		cfg.MaxEvaluations = run.MaxEvaluations
	}
	cfg.Space = make(params.Space, len(run.Params))
	for i, p := range run.Params {
		cfg.Space[i] = params.Spec{
			Name:      p.Name,
			Lower:     p.Lower,
			Upper:     p.Upper,
			Initial:   p.Initial,
			Unit:      p.Unit,
			Tolerance: p.Tolerance,
		}
	}

	cfg, err = cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	r, err := newRunner(cfg, run.Trials)
	if err != nil {
		return nil, err
	}
	return r.run(ctx)
}
