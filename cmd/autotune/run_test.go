package main

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/autotune/internal/artifact"
	"github.com/banshee-data/autotune/internal/bridge"
	"github.com/banshee-data/autotune/internal/driver"
	"github.com/banshee-data/autotune/internal/monitoring"
	"github.com/banshee-data/autotune/internal/params"
)

func quietRun(t *testing.T) {
	t.Helper()
	prev := monitoring.Logf
	monitoring.SetLogger(nil)
	out := log.Writer()
	log.SetOutput(io.Discard)
	t.Cleanup(func() {
		monitoring.SetLogger(prev)
		log.SetOutput(out)
	})
}

func simClient(t *testing.T, h *bridge.SimHost) *bridge.Client {
	t.Helper()
	cp, hp := bridge.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Serve(ctx, hp)
	c := bridge.NewClient(cp, bridge.Options{
		CommandTimeout: time.Second,
		AcquireTimeout: time.Second,
		Shape:          artifact.Real1D,
	})
	t.Cleanup(func() {
		cancel()
		c.Close()
		hp.Close()
	})
	return c
}

func finishedRun() *driver.RunState {
	return &driver.RunState{
		RunID: "r1",
		Space: params.Space{
			{Name: "p1", Lower: 0, Upper: 100, Initial: 50, Unit: "us"},
			{Name: "d1", Lower: 0.5, Upper: 5, Initial: 1, Unit: "s"},
		},
		Best: &driver.Trial{Index: 7, Params: []float64{30, 2}, Cost: 0.1, Status: bridge.StatusOK},
	}
}

func TestSettleInstrument_AppliesBestValues(t *testing.T) {
	quietRun(t)
	host := bridge.NewSimHost(bridge.BowlModel(nil), map[string]float64{"p1": 99, "d1": 4.5})
	c := simClient(t, host)

	require.NoError(t, settleInstrument(context.Background(), c, finishedRun(), true))
	assert.Equal(t, map[string]float64{"p1": 30, "d1": 2}, host.Values())
	assert.Equal(t, 2, host.Count(bridge.VerbSet))
	assert.Equal(t, 1, host.Count(bridge.VerbSafe))

	snap, err := c.Snapshot(context.Background(), []string{"p1"})
	require.NoError(t, err)
	assert.Equal(t, "us", snap[0].Unit)
}

func TestSettleInstrument_NoApply(t *testing.T) {
	quietRun(t)
	host := bridge.NewSimHost(bridge.BowlModel(nil), map[string]float64{"p1": 99, "d1": 4.5})
	c := simClient(t, host)

	require.NoError(t, settleInstrument(context.Background(), c, finishedRun(), false))
	assert.Equal(t, map[string]float64{"p1": 99, "d1": 4.5}, host.Values())
	assert.Equal(t, 0, host.Count(bridge.VerbSet))
	assert.Equal(t, 1, host.Count(bridge.VerbSafe))
}

func TestSettleInstrument_NothingToApply(t *testing.T) {
	quietRun(t)
	host := bridge.NewSimHost(bridge.BowlModel(nil), map[string]float64{"p1": 99})
	c := simClient(t, host)

	require.NoError(t, settleInstrument(context.Background(), c, nil, true))
	noBest := finishedRun()
	noBest.Best = nil
	require.NoError(t, settleInstrument(context.Background(), c, noBest, true))
	assert.Equal(t, 0, host.Count(bridge.VerbSet))
	assert.Equal(t, 2, host.Count(bridge.VerbSafe))
}

func TestSettleInstrument_SafeAfterApplyFails(t *testing.T) {
	quietRun(t)
	host := bridge.NewSimHost(bridge.BowlModel(nil), nil)
	host.Inject(bridge.Fault{Verb: bridge.VerbSet, Mode: bridge.FaultError, Reason: "parameter locked"})
	c := simClient(t, host)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := settleInstrument(ctx, c, finishedRun(), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply best values")
	assert.Contains(t, err.Error(), "parameter locked")
	assert.Equal(t, 1, host.Count(bridge.VerbSafe))
}
