// Package sequencer runs a batch of optimisation routines one after another
// on the same instrument, restoring the instrument between routines.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/autotune/internal/bridge"
	"github.com/banshee-data/autotune/internal/costfn"
	"github.com/banshee-data/autotune/internal/driver"
	"github.com/banshee-data/autotune/internal/monitoring"
	"github.com/banshee-data/autotune/internal/stop"
	"github.com/banshee-data/autotune/internal/timeutil"
	"github.com/banshee-data/autotune/internal/triallog"
)

// ErrBatchStopped is recorded against items that never ran because the
// batch was stopped.
var ErrBatchStopped = errors.New("batch stopped")

var logf = monitoring.Component("sequencer")

// restoreTimeout bounds the restore and safe commands after each item.
const restoreTimeout = time.Minute

// Instrument is what the sequencer needs from the bridge. *bridge.Client
// implements it.
type Instrument interface {
	driver.Evaluator
	Snapshot(ctx context.Context, names []string) (bridge.Snapshot, error)
	Restore(ctx context.Context, snap bridge.Snapshot) error
	Safe(ctx context.Context) error
}

// Item is one routine of a batch. Run carries the search settings; the
// shared fields (bridge, log, stop, clock, registry, metrics) come from
// Config.
type Item struct {
	Name string
	Run  driver.Config
	// KeepOptimized leaves the best parameter values applied after the
	// item instead of restoring the snapshot taken before it.
	KeepOptimized bool
}

// ItemResult is the outcome of one item. State is nil when the run never
// started.
type ItemResult struct {
	Item  string
	State *driver.RunState
	Err   error
	// Before is the instrument state captured before the item ran.
	Before bridge.Snapshot
}

// Config holds what every item shares.
type Config struct {
	Instrument Instrument
	Log        driver.TrialLog
	// LogPath, when set, is parsed at the end to log a per-item summary.
	LogPath     string
	Stop        stop.Signal
	Clock       timeutil.Clock
	Registry    *costfn.Registry
	Metrics     *monitoring.Metrics
	ArtifactDir string
	Observer    func(item string, s driver.Summary)
}

// RunAll runs items in order. A run-fatal error is recorded against its item
// and the batch moves on; a stop request or cancelled context ends the
// batch after the current item, and every item left is marked with
// ErrBatchStopped.
func RunAll(ctx context.Context, items []Item, cfg Config) []ItemResult {
	if cfg.Stop == nil {
		cfg.Stop = stop.Never
	}
	results := make([]ItemResult, 0, len(items))
	for i, item := range items {
		if cfg.Stop.Stopped() || ctx.Err() != nil {
			cause := ErrBatchStopped
			if err := ctx.Err(); err != nil {
				cause = fmt.Errorf("%w: %w", ErrBatchStopped, err)
			}
			for _, rest := range items[i:] {
				results = append(results, ItemResult{Item: rest.Name, Err: cause})
			}
			logf("batch stopped before item %q, %d items skipped", item.Name, len(items)-i)
			break
		}
		logf("item %d/%d: %s", i+1, len(items), item.Name)
		res := runItem(ctx, item, cfg)
		if res.Err != nil {
			logf("item %q failed: %v", item.Name, res.Err)
		}
		results = append(results, res)
	}
	if cfg.LogPath != "" {
		summarise(cfg.LogPath, results)
	}
	return results
}

func runItem(ctx context.Context, item Item, cfg Config) ItemResult {
	res := ItemResult{Item: item.Name}
	names := item.Run.Space.Names()

	snap, err := cfg.Instrument.Snapshot(ctx, names)
	if err != nil {
		res.Err = fmt.Errorf("snapshot before %s: %w", item.Name, err)
		settle(ctx, cfg.Instrument, nil)
		return res
	}
	res.Before = snap

	rc := item.Run
	if rc.Routine == "" {
		rc.Routine = item.Name
	}
	rc.RunID = ""
	rc.Bridge = cfg.Instrument
	rc.Log = cfg.Log
	rc.Stop = cfg.Stop
	rc.Clock = cfg.Clock
	rc.Registry = cfg.Registry
	rc.Metrics = cfg.Metrics
	rc.ArtifactDir = cfg.ArtifactDir
	if cfg.Observer != nil {
		rc.Observer = func(s driver.Summary) { cfg.Observer(item.Name, s) }
	}

	res.State, res.Err = driver.Run(ctx, rc)

	after := snap
	if item.KeepOptimized && res.State != nil && res.State.Best != nil {
		after = optimised(snap, res.State)
	}
	if err := settle(ctx, cfg.Instrument, after); err != nil {
		res.Err = errors.Join(res.Err, err)
	}
	return res
}

// optimised returns snap with the best values of the run substituted.
func optimised(snap bridge.Snapshot, s *driver.RunState) bridge.Snapshot {
	out := make(bridge.Snapshot, len(snap))
	copy(out, snap)
	for i, p := range s.Space {
		v := s.Best.Params[i]
		if math.IsNaN(v) {
			continue
		}
		for j := range out {
			if out[j].Name == p.Name {
				out[j].Value = v
				out[j].Unit = p.Unit
			}
		}
	}
	return out
}

// settle restores snap, when given, and then asks for the safe state. It
// runs even when ctx is already cancelled.
func settle(ctx context.Context, inst Instrument, snap bridge.Snapshot) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), restoreTimeout)
	defer cancel()
	var errs []error
	if snap != nil {
		if err := inst.Restore(ctx, snap); err != nil {
			errs = append(errs, fmt.Errorf("restore: %w", err))
		}
	}
	if err := inst.Safe(ctx); err != nil {
		errs = append(errs, fmt.Errorf("safe: %w", err))
	}
	return errors.Join(errs...)
}

func summarise(path string, results []ItemResult) {
	rep, err := triallog.ParseFile(path)
	if err != nil {
		logf("summary: %v", err)
		return
	}
	for _, res := range results {
		if res.State == nil {
			logf("summary: %-20s not run: %v", res.Item, res.Err)
			continue
		}
		run := rep.Run(res.State.RunID)
		if run == nil {
			logf("summary: %-20s run %s missing from %s", res.Item, res.State.RunID, path)
			continue
		}
		best := "none"
		if run.Best != nil {
			best = fmt.Sprintf("%g", run.Best.CostValue())
		}
		logf("summary: %-20s %-22s evaluations=%d failures=%d best=%s",
			res.Item, run.Termination, run.Evaluations, run.Failures, best)
	}
}
