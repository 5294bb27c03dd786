package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/banshee-data/autotune/internal/bridge"
	"github.com/banshee-data/autotune/internal/config"
	"github.com/banshee-data/autotune/internal/driver"
)

// settleTimeout bounds applying the best values and the final safe.
const settleTimeout = time.Minute

func handleRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	routinePath := fs.String("routine", "", "Routine file, .json or .yaml (required)")
	runID := fs.String("run-id", "", "Run id (default: random UUID)")
	algorithm := fs.String("algorithm", "", "Override the routine's search algorithm")
	maxEvals := fs.Int("max-evals", 0, "Override the routine's evaluation limit")
	noApply := fs.Bool("no-apply", false, "Leave the instrument as the last trial set it instead of applying the best values")
	cf := addCommonFlags(fs)
	fs.Parse(args)

	if *routinePath == "" {
		fmt.Fprintln(os.Stderr, "Error: --routine is required")
		fs.Usage()
		os.Exit(2)
	}
	r, err := config.LoadRoutine(*routinePath, nil)
	if err != nil {
		return err
	}
	if *algorithm != "" || *maxEvals > 0 {
		if *algorithm != "" {
			r.Algorithm = *algorithm
		}
		if *maxEvals > 0 {
			r.MaxEvaluations = *maxEvals
		}
		if err := r.Validate(nil); err != nil {
			return err
		}
	}

	// SIGINT and SIGTERM are stop requests honoured between evaluations;
	// the context is only cancelled by the debug server failing.
	ctx := context.Background()

	s, err := openSession(ctx, cf, r.Bridge, r.BridgeOptions())
	if err != nil {
		return err
	}
	defer s.Close()

	cfg := s.driverConfig(r.DriverConfig(), *cf.artifacts)
	cfg.RunID = *runID

	return s.do(ctx, func(ctx context.Context) error {
		state, err := driver.Run(ctx, cfg)
		if serr := settleInstrument(ctx, s.client, state, !*noApply); serr != nil {
			log.Printf("settling instrument: %v", serr)
		}
		return outcome(state, err)
	})
}

func handleResume(args []string) error {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	routinePath := fs.String("routine", "", "Routine file supplying bridge settings (optional with --target)")
	runID := fs.String("run", "", "Id of the run to continue (required)")
	maxEvals := fs.Int("max-evals", 0, "Raise the evaluation limit of the resumed run")
	noApply := fs.Bool("no-apply", false, "Leave the instrument as the last trial set it instead of applying the best values")
	cf := addCommonFlags(fs)
	fs.Parse(args)

	if *runID == "" {
		fmt.Fprintln(os.Stderr, "Error: --run is required")
		fs.Usage()
		os.Exit(2)
	}

	var (
		b    *config.Bridge
		opts bridge.Options
		base driver.Config
	)
	if *routinePath != "" {
		r, err := config.LoadRoutine(*routinePath, nil)
		if err != nil {
			return err
		}
		b, opts, base = r.Bridge, r.BridgeOptions(), r.DriverConfig()
	}
	if *maxEvals > 0 {
		base.MaxEvaluations = *maxEvals
	}

	// SIGINT and SIGTERM are stop requests honoured between evaluations;
	// the context is only cancelled by the debug server failing.
	ctx := context.Background()

	s, err := openSession(ctx, cf, b, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	cfg := s.driverConfig(base, *cf.artifacts)
	return s.do(ctx, func(ctx context.Context) error {
		state, err := driver.Resume(ctx, cfg, *cf.logPath, *runID)
		if serr := settleInstrument(ctx, s.client, state, !*noApply); serr != nil {
			log.Printf("settling instrument: %v", serr)
		}
		return outcome(state, err)
	})
}

// driverConfig fills the fields a session shares across runs.
func (s *session) driverConfig(cfg driver.Config, artifacts string) driver.Config {
	cfg.Bridge = s.client
	cfg.Log = s.log
	cfg.Stop = s.stop
	cfg.Metrics = s.metrics
	cfg.ArtifactDir = artifacts
	cfg.Observer = s.observe
	return cfg
}

// instrument is the part of *bridge.Client used once a single run is over.
type instrument interface {
	Restore(ctx context.Context, snap bridge.Snapshot) error
	Safe(ctx context.Context) error
}

// settleInstrument writes the best values of a single run back to the
// instrument when apply is set, then sends safe. Safe is sent even when
// applying fails. The sequencer does this itself for batches.
func settleInstrument(ctx context.Context, inst instrument, state *driver.RunState, apply bool) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	var errs []error
	if best := state.BestSettings(); apply && len(best) > 0 {
		if err := inst.Restore(ctx, best); err != nil {
			errs = append(errs, fmt.Errorf("apply best values: %w", err))
		} else {
			log.Printf("best values set on the instrument: %s", state.Space.Format(state.Best.Params))
		}
	}
	if err := inst.Safe(ctx); err != nil {
		errs = append(errs, fmt.Errorf("safe: %w", err))
	}
	return errors.Join(errs...)
}

func outcome(state *driver.RunState, err error) error {
	if state != nil {
		sum := state.Summary()
		best := "none"
		if sum.BestCost != nil {
			best = fmt.Sprintf("%g at %s", *sum.BestCost, state.Space.Format(state.Best.Params))
		}
		log.Printf("run %s: %s after %d evaluations (%d failed), best %s",
			sum.RunID, sum.Termination, sum.Evaluations, sum.Failures, best)
		if err == nil && state.Termination == driver.TermStopped {
			return errStopped
		}
	}
	if err != nil && errors.Is(err, driver.ErrAborted) {
		return fmt.Errorf("%w: %w", errStopped, err)
	}
	return err
}
