package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/banshee-data/autotune/internal/bridge"
	"github.com/banshee-data/autotune/internal/monitoring"
	"github.com/banshee-data/autotune/internal/optimizer"
	"github.com/banshee-data/autotune/internal/params"
	"github.com/banshee-data/autotune/internal/triallog"
)

var logf = monitoring.Component("driver")

type runner struct {
	cfg    Config
	state  *RunState
	alg    optimizer.Algorithm
	tracer trace.Tracer
	replay []triallog.TrialRecord
}

func newRunner(cfg Config, replay []triallog.TrialRecord) (*runner, error) {
	xtol := cfg.Space.Tolerances(cfg.Tolerance)
	alg, err := optimizer.New(cfg.Algorithm, cfg.Space.Initial(), xtol)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return &runner{
		cfg: cfg,
		state: &RunState{
			RunID:          cfg.RunID,
			Routine:        cfg.Routine,
			Algorithm:      cfg.Algorithm,
			CostFunction:   cfg.CostFunction,
			Space:          cfg.Space,
			Tolerance:      cfg.Tolerance,
			MaxEvaluations: cfg.MaxEvaluations,
			Maximize:       cfg.Maximize,
		},
		alg:    alg,
		tracer: otel.Tracer("autotune/driver"),
		replay: replay,
	}, nil
}

// sign maps a cost in the caller's convention to the minimised one.
func (r *runner) sign() float64 {
	if r.cfg.Maximize {
		return -1
	}
	return 1
}

func (r *runner) run(ctx context.Context) (*RunState, error) {
	defer r.alg.Close()
	ctx, span := r.tracer.Start(ctx, "driver.Run", trace.WithAttributes(
		attribute.String("run.id", r.cfg.RunID),
		attribute.String("run.algorithm", r.cfg.Algorithm),
		attribute.String("run.cost_function", r.cfg.CostFunction),
		attribute.Int("run.dimensions", r.cfg.Space.Dim()),
		attribute.Bool("run.resumed", r.replay != nil),
	))
	defer span.End()

	s := r.state
	s.StartedAt = r.cfg.Clock.Now()
	r.cfg.Metrics.RunStarted()

	if err := r.cfg.Log.Append(triallog.NewRunStart(s.RunID, s.StartedAt, r.startRecord())); err != nil {
		r.cfg.Metrics.RunFinished(s.Algorithm, string(TermError), 0)
		return nil, fmt.Errorf("write run start: %w", err)
	}
	if r.replay != nil {
		logf("resuming run %s: replaying %d logged trials", s.RunID, len(r.replay))
	} else {
		logf("run %s: %s on %s, %d parameters, max %d evaluations",
			s.RunID, s.Algorithm, s.CostFunction, s.Space.Dim(), s.MaxEvaluations)
	}

	term, runErr := r.loop(ctx)
	if runErr == nil && s.Best == nil {
		runErr = ErrNoValidEvaluation
	}
	s.Termination = term
	s.CompletedAt = r.cfg.Clock.Now()
	elapsed := s.CompletedAt.Sub(s.StartedAt)

	if err := r.cfg.Log.Append(triallog.NewRunEnd(s.RunID, s.CompletedAt, r.endRecord(runErr, elapsed))); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("write run end: %w", err))
	}
	r.cfg.Metrics.RunFinished(s.Algorithm, string(term), elapsed)
	r.notify()

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		logf("run %s ended (%s) after %d evaluations: %v", s.RunID, term, s.Evaluations(), runErr)
		return s, runErr
	}
	logf("run %s ended (%s) after %d evaluations, best cost %g at %s",
		s.RunID, term, s.Evaluations(), s.Best.Cost, s.Space.Format(s.Best.Params))
	return s, nil
}

// loop proposes, evaluates and records until a termination condition holds.
func (r *runner) loop(ctx context.Context) (Termination, error) {
	s := r.state
	rejected := 0
	for {
		live := len(r.replay) == 0
		if live && r.cfg.Stop.Stopped() {
			return TermStopped, nil
		}
		if live && ctx.Err() != nil {
			return TermAborted, fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
		}
		if s.Evaluations() >= r.cfg.MaxEvaluations {
			return TermMaxEvaluations, nil
		}

		x, ok := r.alg.Propose()
		if !ok {
			if r.alg.Converged() {
				return TermConverged, nil
			}
			return TermIterationLimit, nil
		}
		if !params.InUnitBox(x) {
			rejected++
			if rejected > maxConsecutiveRejections {
				return TermRejected, fmt.Errorf("%w: %d in a row", ErrTooManyRejections, rejected)
			}
			r.alg.Report(math.Inf(1))
			continue
		}
		rejected = 0

		term, err := r.evaluatePoint(ctx, x)
		if term != TermNone || err != nil {
			return term, err
		}
	}
}

// evaluatePoint evaluates x until it yields a cost or its retry budget runs
// out. Replayed failures do not count against the budget of a resumed run.
func (r *runner) evaluatePoint(ctx context.Context, x []float64) (Termination, error) {
	s := r.state
	failures := 0
	for {
		var (
			t        Trial
			replayed bool
		)
		if len(r.replay) > 0 {
			var err error
			if t, err = r.replayNext(x); err != nil {
				return TermError, err
			}
			replayed = true
		} else {
			t = r.evaluate(ctx, x)
			if err := r.cfg.Log.Append(triallog.NewTrial(s.RunID, t.Timestamp, r.trialRecord(t))); err != nil {
				return TermError, fmt.Errorf("append trial %d: %w", t.Index, err)
			}
			r.cfg.Metrics.ObserveTrial(s.Algorithm, string(t.Status), t.Duration)
		}
		s.record(t)
		if replayed {
			s.Replayed++
		} else {
			r.notify()
		}

		if t.OK() {
			if s.Best != nil {
				r.cfg.Metrics.SetBestCost(r.metricsRoutine(), s.Best.Cost)
			}
			r.alg.Report(r.sign() * t.Cost)
			if r.alg.Converged() {
				return TermConverged, nil
			}
			return TermNone, nil
		}

		if !replayed {
			logf("trial %d failed at %s: %s: %s", t.Index, s.Space.Format(t.Params), t.Failure, t.Reason)
			if t.Status == bridge.StatusAborted {
				return TermAborted, fmt.Errorf("%w: %s", ErrAborted, t.Reason)
			}
			failures++
			if failures >= r.cfg.RetryBudget {
				return TermRetryBudget, fmt.Errorf("%w: %d consecutive failures at %s, last: %s",
					ErrRetryBudgetExhausted, failures, s.Space.Format(t.Params), t.Reason)
			}
		}
		if s.Evaluations() >= r.cfg.MaxEvaluations {
			return TermMaxEvaluations, nil
		}
		if len(r.replay) == 0 && r.cfg.Stop.Stopped() {
			return TermStopped, nil
		}
	}
}

// evaluate runs one live evaluation of x and scores it.
func (r *runner) evaluate(ctx context.Context, x []float64) Trial {
	s := r.state
	start := r.cfg.Clock.Now()
	ctx, span := r.tracer.Start(ctx, "driver.evaluate", trace.WithAttributes(
		attribute.Int("trial.index", s.Evaluations()),
		attribute.Float64Slice("trial.normalized", x),
	))
	defer span.End()

	t := Trial{
		Index:      s.Evaluations(),
		Normalized: append([]float64(nil), x...),
		Cost:       math.NaN(),
		Timestamp:  start,
	}
	ev := r.cfg.Bridge.Evaluate(ctx, s.Space, x)
	t.Status, t.Failure, t.Reason = ev.Status, ev.Failure, ev.Reason
	t.Params = ev.Physical
	if t.Params == nil {
		t.Params, _ = s.Space.Physical(x)
	}

	if ev.Status == bridge.StatusOK {
		cost, err := r.cfg.Registry.Evaluate(r.cfg.CostFunction, ev.Artifact, r.cfg.CostOptions)
		if err != nil {
			t.Status, t.Failure, t.Reason = bridge.StatusFailed, bridge.FailCost, err.Error()
		} else {
			t.Cost = cost
			t.ArtifactRef = r.keepArtifact(t.Index, ev)
		}
	}
	t.Duration = r.cfg.Clock.Since(start)

	span.SetAttributes(attribute.String("trial.status", string(t.Status)))
	if t.OK() {
		span.SetAttributes(attribute.Float64("trial.cost", t.Cost))
	} else {
		span.SetStatus(codes.Error, t.Reason)
	}
	return t
}

// keepArtifact writes the artifact under ArtifactDir and returns its file
// name, or "" when retention is off or the write failed.
func (r *runner) keepArtifact(index int, ev bridge.Evaluation) string {
	if r.cfg.ArtifactDir == "" || ev.Artifact == nil {
		return ""
	}
	name := fmt.Sprintf("%s-%04d.json", r.state.RunID, index)
	data, err := json.Marshal(ev.Artifact)
	if err == nil {
		err = os.MkdirAll(r.cfg.ArtifactDir, 0o755)
	}
	if err == nil {
		err = os.WriteFile(filepath.Join(r.cfg.ArtifactDir, name), data, 0o644)
	}
	if err != nil {
		logf("keep artifact for trial %d: %v", index, err)
		return ""
	}
	return name
}

// replayNext consumes the next logged trial, which must have been taken at
// x.
func (r *runner) replayNext(x []float64) (Trial, error) {
	rec := r.replay[0]
	r.replay = r.replay[1:]
	index := r.state.Evaluations()

	if len(rec.Normalized) != len(x) {
		return Trial{}, fmt.Errorf("%w: trial %d has %d coordinates, algorithm proposed %d",
			ErrReplayMismatch, index, len(rec.Normalized), len(x))
	}
	for i := range x {
		if math.Abs(rec.Normalized[i]-x[i]) > replayTolerance {
			return Trial{}, fmt.Errorf("%w: trial %d coordinate %d: logged %v, proposed %v",
				ErrReplayMismatch, index, i, rec.Normalized[i], x[i])
		}
	}

	phys := make([]float64, r.state.Space.Dim())
	for i, p := range r.state.Space {
		v, ok := rec.Params[p.Name]
		if !ok {
			v = math.NaN()
		}
		phys[i] = v
	}
	t := Trial{
		Index:       index,
		Params:      phys,
		Normalized:  append([]float64(nil), rec.Normalized...),
		ArtifactRef: rec.ArtifactRef,
		Cost:        rec.CostValue(),
		Status:      bridge.Status(rec.Status),
		Failure:     bridge.Failure(rec.Failure),
		Reason:      rec.Reason,
		Timestamp:   rec.Time,
		Duration:    time.Duration(rec.DurationSec * float64(time.Second)),
	}
	if t.Status == bridge.StatusOK && math.IsNaN(t.Cost) {
		return Trial{}, fmt.Errorf("%w: trial %d is ok but has no cost", ErrReplayMismatch, index)
	}
	return t, nil
}

func (r *runner) metricsRoutine() string {
	if r.cfg.Routine != "" {
		return r.cfg.Routine
	}
	return r.cfg.CostFunction
}

func (r *runner) notify() {
	if r.cfg.Observer != nil {
		r.cfg.Observer(r.state.Summary())
	}
}

func (r *runner) startRecord() triallog.RunStart {
	infos := make([]triallog.ParamInfo, len(r.cfg.Space))
	for i, p := range r.cfg.Space {
		infos[i] = triallog.ParamInfo{
			Name:      p.Name,
			Unit:      p.Unit,
			Lower:     p.Lower,
			Upper:     p.Upper,
			Initial:   p.Initial,
			Tolerance: p.Tolerance,
		}
	}
	return triallog.RunStart{
		Routine:        r.cfg.Routine,
		Algorithm:      r.cfg.Algorithm,
		CostFunction:   r.cfg.CostFunction,
		CostOptions:    r.cfg.CostOptions,
		Params:         infos,
		Tolerance:      r.cfg.Tolerance,
		MaxEvaluations: r.cfg.MaxEvaluations,
		Maximize:       r.cfg.Maximize,
		Shape:          string(r.cfg.Shape),
		RetryBudget:    r.cfg.RetryBudget,
		Resumed:        r.replay != nil,
	}
}

func (r *runner) trialRecord(t Trial) triallog.TrialRecord {
	units := make(map[string]string)
	for _, p := range r.cfg.Space {
		if p.Unit != "" {
			units[p.Name] = p.Unit
		}
	}
	if len(units) == 0 {
		units = nil
	}
	return triallog.TrialRecord{
		Index:       t.Index,
		Params:      byName(r.cfg.Space, t.Params),
		Normalized:  t.Normalized,
		Units:       units,
		Cost:        triallog.CostPtr(t.Cost),
		Status:      string(t.Status),
		Failure:     string(t.Failure),
		Reason:      t.Reason,
		DurationSec: t.Duration.Seconds(),
		ArtifactRef: t.ArtifactRef,
	}
}

func (r *runner) endRecord(runErr error, elapsed time.Duration) triallog.RunEnd {
	s := r.state
	end := triallog.RunEnd{
		Termination: string(s.Termination),
		BestIndex:   -1,
		Evaluations: s.Evaluations(),
		Failures:    s.Failures(),
		ElapsedSec:  elapsed.Seconds(),
	}
	if runErr != nil {
		end.Error = runErr.Error()
	}
	if s.Best != nil {
		end.BestIndex = s.Best.Index
		end.BestCost = triallog.CostPtr(s.Best.Cost)
		end.BestParams = byName(s.Space, s.Best.Params)
	}
	return end
}
