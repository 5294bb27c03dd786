package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/autotune/internal/config"
	"github.com/banshee-data/autotune/internal/driver"
	"github.com/banshee-data/autotune/internal/sequencer"
)

func handleBatch(args []string) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	batchPath := fs.String("batch", "", "Batch file, .json or .yaml (required)")
	cf := addCommonFlags(fs)
	fs.Parse(args)

	if *batchPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --batch is required")
		fs.Usage()
		os.Exit(2)
	}
	b, err := config.LoadBatch(*batchPath, nil)
	if err != nil {
		return err
	}

	opts := b.Routines[0].BridgeOptions()
	if bs := b.BridgeSettings(); bs != nil {
		opts.CommandTimeout = bs.CommandTimeout.Std()
		opts.AcquireTimeout = bs.AcquireTimeout.Std()
	}

	ctx := context.Background()
	s, err := openSession(ctx, cf, b.BridgeSettings(), opts)
	if err != nil {
		return err
	}
	defer s.Close()

	var results []sequencer.ItemResult
	err = s.do(ctx, func(ctx context.Context) error {
		results = sequencer.RunAll(ctx, b.SequencerItems(), sequencer.Config{
			Instrument:  s.client,
			Log:         s.log,
			LogPath:     *cf.logPath,
			Stop:        s.stop,
			Metrics:     s.metrics,
			ArtifactDir: *cf.artifacts,
			Observer:    func(_ string, sum driver.Summary) { s.observe(sum) },
		})
		return nil
	})
	if err != nil {
		return err
	}
	return batchOutcome(results)
}

// batchOutcome fails when any item failed; a stopped batch maps to
// errStopped.
func batchOutcome(results []sequencer.ItemResult) error {
	var failed, stopped int
	for _, r := range results {
		switch {
		case r.Err == nil:
		case errors.Is(r.Err, sequencer.ErrBatchStopped):
			stopped++
		default:
			failed++
			log.Printf("item %s failed: %v", r.Item, r.Err)
		}
	}
	log.Printf("batch finished: %d item(s), %d failed, %d not run", len(results), failed, stopped)
	switch {
	case failed > 0:
		return fmt.Errorf("%d of %d item(s) failed", failed, len(results))
	case stopped > 0:
		return errStopped
	}
	return nil
}
