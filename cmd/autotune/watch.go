package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/banshee-data/autotune/internal/driver"
	"github.com/banshee-data/autotune/internal/watch"
)

func handleWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	addr := fs.String("addr", "localhost:7071", "Progress stream address of a running autotune (its --watch-listen)")
	runID := fs.String("run", "", "Only follow this run")
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cc, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connect to %s: %w", *addr, err)
	}
	defer cc.Close()

	for sum, err := range watch.Follow(ctx, cc, *runID) {
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		printProgress(os.Stdout, sum)
	}
	return nil
}

// printProgress writes one line per summary.
func printProgress(w io.Writer, sum driver.Summary) {
	best := "none"
	if sum.BestCost != nil {
		best = fmt.Sprintf("%g (trial %d)", *sum.BestCost, sum.BestIndex)
	}
	state := sum.Termination
	if state == "" {
		state = "running"
	}
	fmt.Fprintf(w, "%s %s/%s evaluations=%d failures=%d best=%s %s\n",
		sum.RunID, sum.Algorithm, sum.CostFunction, sum.Evaluations, sum.Failures, best, state)
}
