package driver

import (
	"math"
	"time"

	"github.com/banshee-data/autotune/internal/bridge"
	"github.com/banshee-data/autotune/internal/params"
)

// Termination names why a run ended.
type Termination string

const (
	TermNone           Termination = ""
	TermConverged      Termination = "converged"
	TermMaxEvaluations Termination = "max-evaluations"
	TermStopped        Termination = "stopped"
	TermRetryBudget    Termination = "retry-budget-exhausted"
	TermAborted        Termination = "aborted"
	TermIterationLimit Termination = "iteration-limit"
	TermRejected       Termination = "too-many-rejections"
	TermError          Termination = "error"
)

// Trial is one logged evaluation. Cost is NaN unless Status is ok, and is
// always in the caller's sign convention, even when maximising.
type Trial struct {
	Index       int
	Params      []float64
	Normalized  []float64
	ArtifactRef string
	Cost        float64
	Status      bridge.Status
	Failure     bridge.Failure
	Reason      string
	Timestamp   time.Time
	Duration    time.Duration
}

// OK reports whether the trial produced a usable cost.
func (t Trial) OK() bool {
	return t.Status == bridge.StatusOK && !math.IsNaN(t.Cost)
}

// RunState is the in-memory state of one optimisation run.
type RunState struct {
	RunID          string
	Routine        string
	Algorithm      string
	CostFunction   string
	Space          params.Space
	Tolerance      float64
	MaxEvaluations int
	Maximize       bool

	Best        *Trial
	Trials      []Trial
	Termination Termination
	StartedAt   time.Time
	CompletedAt time.Time
	// Replayed counts the trials reconstructed from the log on resume.
	Replayed int
}

// Evaluations returns the number of logged trials.
func (s *RunState) Evaluations() int {
	return len(s.Trials)
}

// Failures returns the number of trials without a usable cost.
func (s *RunState) Failures() int {
	n := 0
	for _, t := range s.Trials {
		if !t.OK() {
			n++
		}
	}
	return n
}

// better reports whether cost a beats b in this run's direction.
func (s *RunState) better(a, b float64) bool {
	if s.Maximize {
		return a > b
	}
	return a < b
}

func (s *RunState) record(t Trial) {
	s.Trials = append(s.Trials, t)
	if !t.OK() {
		return
	}
	if s.Best == nil || s.better(t.Cost, s.Best.Cost) {
		best := t
		s.Best = &best
	}
}

// BestSettings returns the best point as instrument settings, in parameter
// order, or nil when no trial succeeded.
func (s *RunState) BestSettings() bridge.Snapshot {
	if s == nil || s.Best == nil {
		return nil
	}
	out := make(bridge.Snapshot, 0, len(s.Space))
	for i, p := range s.Space {
		if i >= len(s.Best.Params) || math.IsNaN(s.Best.Params[i]) {
			continue
		}
		out = append(out, bridge.Setting{Name: p.Name, Value: s.Best.Params[i], Unit: p.Unit})
	}
	return out
}

// Summary is a JSON-safe view of a RunState for status pages.
type Summary struct {
	RunID        string             `json:"run_id"`
	Routine      string             `json:"routine,omitempty"`
	Algorithm    string             `json:"algorithm"`
	CostFunction string             `json:"cost_function"`
	Evaluations  int                `json:"evaluations"`
	Failures     int                `json:"failures"`
	Replayed     int                `json:"replayed,omitempty"`
	BestIndex    int                `json:"best_index"`
	BestCost     *float64           `json:"best_cost"`
	BestParams   map[string]float64 `json:"best_params,omitempty"`
	Termination  string             `json:"termination,omitempty"`
	StartedAt    time.Time          `json:"started_at"`
	CompletedAt  time.Time          `json:"completed_at,omitzero"`
}

// Summary returns the status view of s.
func (s *RunState) Summary() Summary {
	sum := Summary{
		RunID:        s.RunID,
		Routine:      s.Routine,
		Algorithm:    s.Algorithm,
		CostFunction: s.CostFunction,
		Evaluations:  s.Evaluations(),
		Failures:     s.Failures(),
		Replayed:     s.Replayed,
		BestIndex:    -1,
		Termination:  string(s.Termination),
		StartedAt:    s.StartedAt,
		CompletedAt:  s.CompletedAt,
	}
	if s.Best != nil {
		c := s.Best.Cost
		sum.BestIndex = s.Best.Index
		sum.BestCost = &c
		sum.BestParams = byName(s.Space, s.Best.Params)
	}
	return sum
}

func byName(space params.Space, values []float64) map[string]float64 {
	out := make(map[string]float64, len(space))
	for i, p := range space {
		if i < len(values) {
			out[p.Name] = values[i]
		}
	}
	return out
}
