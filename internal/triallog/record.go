// Package triallog is the append-only, crash-tolerant record of every
// optimisation run. Each line of the log is one JSON record; a run is
// bracketed by run_start and run_end records with one trial record per
// evaluation in between.
package triallog

import (
	"encoding/json"
	"math"
	"time"
)

// SchemaVersion tags every record.
const SchemaVersion = "autotune.trial/v1"

// Kind distinguishes record types.
type Kind string

const (
	KindRunStart Kind = "run_start"
	KindTrial    Kind = "trial"
	KindRunEnd   Kind = "run_end"
)

// Record is one line of the log. Exactly one of Start, Trial and End is set,
// matching Kind.
type Record struct {
	Schema string       `json:"schema"`
	Kind   Kind         `json:"kind"`
	RunID  string       `json:"run_id"`
	Time   time.Time    `json:"time"`
	Start  *RunStart    `json:"start,omitempty"`
	Trial  *TrialRecord `json:"trial,omitempty"`
	End    *RunEnd      `json:"end,omitempty"`
}

// ParamInfo describes one optimised parameter.
type ParamInfo struct {
	Name      string  `json:"name"`
	Unit      string  `json:"unit,omitempty"`
	Lower     float64 `json:"lb"`
	Upper     float64 `json:"ub"`
	Initial   float64 `json:"init"`
	Tolerance float64 `json:"tol,omitempty"`
}

// RunStart opens a run, or reopens it when Resumed is set.
type RunStart struct {
	Routine        string            `json:"routine,omitempty"`
	Algorithm      string            `json:"algorithm"`
	CostFunction   string            `json:"cost_function"`
	CostOptions    map[string]string `json:"cost_options,omitempty"`
	Params         []ParamInfo       `json:"params"`
	Tolerance      float64           `json:"tolerance"`
	MaxEvaluations int               `json:"max_evaluations"`
	Maximize       bool              `json:"maximize,omitempty"`
	Shape          string            `json:"shape,omitempty"`
	RetryBudget    int               `json:"retry_budget,omitempty"`
	Resumed        bool              `json:"resumed,omitempty"`
}

// TrialRecord is one evaluation. Cost is nil unless Status is "ok".
type TrialRecord struct {
	Index       int                `json:"index"`
	Params      map[string]float64 `json:"params"`
	Normalized  []float64          `json:"normalized"`
	Units       map[string]string  `json:"units,omitempty"`
	Cost        *float64           `json:"cost"`
	Status      string             `json:"status"`
	Failure     string             `json:"failure,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	DurationSec float64            `json:"duration_s"`
	ArtifactRef string             `json:"artifact,omitempty"`
	// Time is filled from the enclosing record by Parse.
	Time time.Time `json:"time,omitzero"`
}

// CostValue returns the cost, or NaN when the trial failed.
func (t *TrialRecord) CostValue() float64 {
	if t == nil || t.Cost == nil {
		return math.NaN()
	}
	return *t.Cost
}

// RunEnd closes a run.
type RunEnd struct {
	Termination string             `json:"termination"`
	Error       string             `json:"error,omitempty"`
	BestIndex   int                `json:"best_index"`
	BestCost    *float64           `json:"best_cost"`
	BestParams  map[string]float64 `json:"best_params,omitempty"`
	Evaluations int                `json:"evaluations"`
	Failures    int                `json:"failures"`
	ElapsedSec  float64            `json:"elapsed_s"`
}

// CostPtr returns a pointer to c, or nil when c is not finite, so that
// failed and unknown costs encode as JSON null.
func CostPtr(c float64) *float64 {
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return nil
	}
	return &c
}

// NewRunStart builds a run_start record.
func NewRunStart(runID string, at time.Time, s RunStart) Record {
	return Record{Schema: SchemaVersion, Kind: KindRunStart, RunID: runID, Time: at.UTC(), Start: &s}
}

// NewTrial builds a trial record.
func NewTrial(runID string, at time.Time, t TrialRecord) Record {
	return Record{Schema: SchemaVersion, Kind: KindTrial, RunID: runID, Time: at.UTC(), Trial: &t}
}

// NewRunEnd builds a run_end record.
func NewRunEnd(runID string, at time.Time, e RunEnd) Record {
	return Record{Schema: SchemaVersion, Kind: KindRunEnd, RunID: runID, Time: at.UTC(), End: &e}
}

func (r Record) marshal() ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
