package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/autotune/internal/triallog"
)

// Store is a SQLite database of parsed runs. Saving a run replaces any
// earlier copy, so re-exporting a growing log is safe.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the database at path and migrates
// it to the latest schema.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// SaveReport writes every run of rep in one transaction.
func (s *Store) SaveReport(ctx context.Context, rep *triallog.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, run := range rep.Runs {
		if err := saveRun(ctx, tx, run); err != nil {
			return fmt.Errorf("run %s: %w", run.RunID, err)
		}
	}
	return tx.Commit()
}

func saveRun(ctx context.Context, tx *sql.Tx, run *triallog.RunReport) error {
	for _, table := range []string{"trials", "run_params", "runs"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE run_id = ?", run.RunID); err != nil {
			return err
		}
	}

	var costOptions any
	if len(run.CostOptions) > 0 {
		b, err := json.Marshal(run.CostOptions)
		if err != nil {
			return err
		}
		costOptions = string(b)
	}
	var bestIndex, bestCost any
	if run.Best != nil {
		bestIndex = run.Best.Index
		bestCost = nullable(run.Best.CostValue())
	}
	st := Summarise(run)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO runs (
			run_id, routine, algorithm, cost_function, cost_options, maximize,
			tolerance, max_evaluations, status, termination, error, segments,
			evaluations, failures, best_index, best_cost, ok_mean, ok_stddev,
			started_at, ended_at, elapsed_s
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Routine, run.Algorithm, run.CostFunction, costOptions, run.Maximize,
		run.Tolerance, run.MaxEvaluations, run.Status, run.Termination, run.Error, run.Segments,
		run.Evaluations, run.Failures, bestIndex, bestCost, nullable(st.Mean), nullable(st.StdDev),
		formatTime(run.StartedAt), formatTime(run.EndedAt), run.ElapsedSec,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for i, p := range run.Params {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run_params (run_id, position, name, unit, lb, ub, init, tol)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, i, p.Name, p.Unit, p.Lower, p.Upper, p.Initial, p.Tolerance)
		if err != nil {
			return fmt.Errorf("insert parameter %s: %w", p.Name, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trials (
			run_id, trial_index, time, status, failure, reason, cost,
			duration_s, params, normalized, artifact
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i := range run.Trials {
		t := &run.Trials[i]
		params, err := json.Marshal(t.Params)
		if err != nil {
			return err
		}
		normalized, err := json.Marshal(t.Normalized)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			run.RunID, t.Index, formatTime(t.Time), t.Status, t.Failure, t.Reason,
			nullable(t.CostValue()), t.DurationSec, string(params), string(normalized), t.ArtifactRef,
		); err != nil {
			return fmt.Errorf("insert trial %d: %w", t.Index, err)
		}
	}
	return nil
}

// nullable maps NaN to SQL NULL.
func nullable(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// RunRow is one row of the runs table.
type RunRow struct {
	RunID        string
	Routine      string
	Algorithm    string
	CostFunction string
	Maximize     bool
	Status       string
	Termination  string
	Segments     int
	Evaluations  int
	Failures     int
	BestIndex    *int
	BestCost     *float64
	OKMean       *float64
	OKStdDev     *float64
}

// Runs lists stored runs by start time.
func (s *Store) Runs(ctx context.Context) ([]RunRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, routine, algorithm, cost_function, maximize, status,
		       termination, segments, evaluations, failures, best_index,
		       best_cost, ok_mean, ok_stddev
		FROM runs ORDER BY started_at, run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var r RunRow
		if err := rows.Scan(&r.RunID, &r.Routine, &r.Algorithm, &r.CostFunction, &r.Maximize,
			&r.Status, &r.Termination, &r.Segments, &r.Evaluations, &r.Failures,
			&r.BestIndex, &r.BestCost, &r.OKMean, &r.OKStdDev); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TrialRow is one row of the trials table.
type TrialRow struct {
	Index    int
	Time     time.Time
	Status   string
	Failure  string
	Cost     *float64
	Params   map[string]float64
	Duration time.Duration
}

// Trials returns the stored trials of runID in index order.
func (s *Store) Trials(ctx context.Context, runID string) ([]TrialRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trial_index, time, status, failure, cost, params, duration_s
		FROM trials WHERE run_id = ? ORDER BY trial_index`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TrialRow
	for rows.Next() {
		var (
			r        TrialRow
			ts       sql.NullString
			params   string
			duration float64
		)
		if err := rows.Scan(&r.Index, &ts, &r.Status, &r.Failure, &r.Cost, &params, &duration); err != nil {
			return nil, err
		}
		if ts.String != "" {
			if r.Time, err = time.Parse(time.RFC3339Nano, ts.String); err != nil {
				return nil, fmt.Errorf("trial %d: %w", r.Index, err)
			}
		}
		if err := json.Unmarshal([]byte(params), &r.Params); err != nil {
			return nil, fmt.Errorf("trial %d params: %w", r.Index, err)
		}
		r.Duration = time.Duration(duration * float64(time.Second))
		out = append(out, r)
	}
	return out, rows.Err()
}
