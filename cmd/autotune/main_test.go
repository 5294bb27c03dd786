package main

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/banshee-data/autotune/internal/config"
	"github.com/banshee-data/autotune/internal/driver"
	"github.com/banshee-data/autotune/internal/sequencer"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: tolerance", driver.ErrInvalidConfig), 2},
		{fmt.Errorf("routine x: %w", config.ErrInvalid), 2},
		{errStopped, 130},
		{fmt.Errorf("%w: %w", errStopped, driver.ErrAborted), 130},
		{driver.ErrRetryBudgetExhausted, 1},
		{errors.New("boom"), 1},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v): expected %d, got %d", tt.err, tt.want, got)
		}
	}
}

func TestBatchOutcome(t *testing.T) {
	if err := batchOutcome([]sequencer.ItemResult{{Item: "a"}, {Item: "b"}}); err != nil {
		t.Errorf("expected success, got %v", err)
	}

	stopped := []sequencer.ItemResult{{Item: "a"}, {Item: "b", Err: sequencer.ErrBatchStopped}}
	if err := batchOutcome(stopped); !errors.Is(err, errStopped) {
		t.Errorf("expected errStopped, got %v", err)
	}

	failed := []sequencer.ItemResult{
		{Item: "a", Err: driver.ErrRetryBudgetExhausted},
		{Item: "b", Err: sequencer.ErrBatchStopped},
	}
	err := batchOutcome(failed)
	if err == nil || err.Error() != "1 of 2 item(s) failed" {
		t.Errorf("expected one failed item, got %v", err)
	}
}

func TestPrintProgress(t *testing.T) {
	var b strings.Builder
	printProgress(&b, driver.Summary{RunID: "r1", Algorithm: "nm", CostFunction: "minabsint", Evaluations: 3, BestIndex: -1})
	cost := 0.5
	printProgress(&b, driver.Summary{
		RunID: "r1", Algorithm: "nm", CostFunction: "minabsint",
		Evaluations: 9, Failures: 1, BestIndex: 4, BestCost: &cost, Termination: "converged",
	})
	want := "r1 nm/minabsint evaluations=3 failures=0 best=none running\n" +
		"r1 nm/minabsint evaluations=9 failures=1 best=0.5 (trial 4) converged\n"
	if got := b.String(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
