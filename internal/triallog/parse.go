package triallog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"os"
	"time"
)

// ErrMalformed is returned for any log line that is not a valid record,
// other than a torn final line.
var ErrMalformed = errors.New("malformed trial log")

// Run completion states reported by Parse.
const (
	StatusCompleted   = "completed"
	StatusInterrupted = "interrupted"
)

// Report is the parsed content of a trial log.
type Report struct {
	Runs []*RunReport `json:"runs"`
}

// Run returns the run with the given id, or nil.
func (r *Report) Run(id string) *RunReport {
	for _, run := range r.Runs {
		if run.RunID == id {
			return run
		}
	}
	return nil
}

// RunReport summarises one run, merged across resume boundaries.
type RunReport struct {
	RunID          string            `json:"run_id"`
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

	Trials      []TrialRecord `json:"trials"`
	Best        *TrialRecord  `json:"best,omitempty"`
	Evaluations int           `json:"evaluations"`
	Failures    int           `json:"failures"`
	Status      string        `json:"status"`
	Termination string        `json:"termination,omitempty"`
	Error       string        `json:"error,omitempty"`
	Segments    int           `json:"segments"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     time.Time     `json:"ended_at"`
	ElapsedSec  float64       `json:"elapsed_s"`
}

// ParamNames returns the parameter names in coordinate order.
func (r *RunReport) ParamNames() []string {
	names := make([]string, len(r.Params))
	for i, p := range r.Params {
		names[i] = p.Name
	}
	return names
}

// CostTrace returns the cost of every trial in order; failed trials are NaN.
func (r *RunReport) CostTrace() []float64 {
	out := make([]float64, len(r.Trials))
	for i := range r.Trials {
		out[i] = r.Trials[i].CostValue()
	}
	return out
}

// ParamTrace returns the physical value of one parameter for every trial.
func (r *RunReport) ParamTrace(name string) []float64 {
	out := make([]float64, len(r.Trials))
	for i, t := range r.Trials {
		v, ok := t.Params[name]
		if !ok {
			v = math.NaN()
		}
		out[i] = v
	}
	return out
}

// BestTrace returns the running best cost after each trial, NaN until the
// first successful one.
func (r *RunReport) BestTrace() []float64 {
	out := make([]float64, len(r.Trials))
	best := math.NaN()
	for i := range r.Trials {
		c := r.Trials[i].CostValue()
		if !math.IsNaN(c) && (math.IsNaN(best) || r.better(c, best)) {
			best = c
		}
		out[i] = best
	}
	return out
}

func (r *RunReport) better(a, b float64) bool {
	if r.Maximize {
		return a > b
	}
	return a < b
}

// Iterate yields the records of the log at path in order. A torn final line
// is skipped; any other bad line yields an error and stops the sequence.
func Iterate(path string) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		data, err := os.ReadFile(path)
		if err != nil {
			yield(Record{}, fmt.Errorf("read trial log: %w", err))
			return
		}
		for rec, err := range Records(data) {
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}

// Records yields the records encoded in data.
func Records(data []byte) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		torn := len(data) > 0 && data[len(data)-1] != '\n'
		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 0, 64*1024), max(len(data)+1, 64*1024))
		lineNo := 0
		total := bytes.Count(data, []byte{'\n'})
		if torn {
			total++
		}
		for sc.Scan() {
			lineNo++
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			rec, err := decodeLine(line)
			if err != nil {
				if torn && lineNo == total {
					return
				}
				yield(Record{}, fmt.Errorf("%w: line %d: %v", ErrMalformed, lineNo, err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield(Record{}, fmt.Errorf("scan trial log: %w", err))
		}
	}
}

func decodeLine(line []byte) (Record, error) {
	var rec Record
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rec); err != nil {
		return Record{}, err
	}
	if dec.More() {
		return Record{}, errors.New("trailing data after record")
	}
	if rec.Schema != SchemaVersion {
		return Record{}, fmt.Errorf("unsupported schema %q", rec.Schema)
	}
	if rec.RunID == "" {
		return Record{}, errors.New("missing run_id")
	}
	switch rec.Kind {
	case KindRunStart:
		if rec.Start == nil {
			return Record{}, errors.New("run_start without start section")
		}
	case KindTrial:
		if rec.Trial == nil {
			return Record{}, errors.New("trial without trial section")
		}
	case KindRunEnd:
		if rec.End == nil {
			return Record{}, errors.New("run_end without end section")
		}
	default:
		return Record{}, fmt.Errorf("unknown record kind %q", rec.Kind)
	}
	return rec, nil
}

// ParseFile reads and parses the log at path.
func ParseFile(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trial log: %w", err)
	}
	return Parse(data)
}

// Parse builds a report from log bytes. It does not depend on anything but
// data, so parsing the same bytes twice yields identical reports.
func Parse(data []byte) (*Report, error) {
	rep := &Report{Runs: []*RunReport{}}
	byID := make(map[string]*RunReport)
	lineNo := 0

	for rec, err := range Records(data) {
		if err != nil {
			return nil, err
		}
		lineNo++
		run := byID[rec.RunID]
		switch rec.Kind {
		case KindRunStart:
			if run == nil {
				run = &RunReport{RunID: rec.RunID, StartedAt: rec.Time, Trials: []TrialRecord{}}
				byID[rec.RunID] = run
				rep.Runs = append(rep.Runs, run)
			}
			applyStart(run, rec.Start)
			run.Segments++
			run.Status = StatusInterrupted
			run.EndedAt = rec.Time
		case KindTrial:
			if run == nil {
				return nil, fmt.Errorf("%w: record %d: trial for run %s before its run_start", ErrMalformed, lineNo, rec.RunID)
			}
			tr := *rec.Trial
			if tr.Time.IsZero() {
				tr.Time = rec.Time
			}
			run.Trials = append(run.Trials, tr)
			run.Evaluations++
			if rec.Trial.Cost == nil {
				run.Failures++
			}
			run.EndedAt = rec.Time
		case KindRunEnd:
			if run == nil {
				return nil, fmt.Errorf("%w: record %d: run_end for run %s before its run_start", ErrMalformed, lineNo, rec.RunID)
			}
			run.Status = StatusCompleted
			run.Termination = rec.End.Termination
			run.Error = rec.End.Error
			run.EndedAt = rec.Time
			run.ElapsedSec += rec.End.ElapsedSec
		}
	}

	for _, run := range rep.Runs {
		run.Best = bestTrial(run)
	}
	return rep, nil
}

func applyStart(run *RunReport, s *RunStart) {
	run.Routine = s.Routine
	run.Algorithm = s.Algorithm
	run.CostFunction = s.CostFunction
	run.CostOptions = s.CostOptions
	run.Params = s.Params
	run.Tolerance = s.Tolerance
	run.MaxEvaluations = s.MaxEvaluations
	run.Maximize = s.Maximize
	if s.Shape != "" {
		run.Shape = s.Shape
	}
	if s.RetryBudget > 0 {
		run.RetryBudget = s.RetryBudget
	}
}

func bestTrial(run *RunReport) *TrialRecord {
	var best *TrialRecord
	for i := range run.Trials {
		t := &run.Trials[i]
		if t.Cost == nil {
			continue
		}
		if best == nil || run.better(*t.Cost, *best.Cost) {
			best = t
		}
	}
	if best == nil {
		return nil
	}
	cp := *best
	return &cp
}
