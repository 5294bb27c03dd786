package watch

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/banshee-data/autotune/internal/driver"
	"github.com/banshee-data/autotune/internal/monitoring"
)

func quiet(t *testing.T) {
	t.Helper()
	prev := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(prev) })
}

func startServer(t *testing.T, hub *Hub) *grpc.ClientConn {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer()
	NewServer(hub).Register(srv)
	go srv.Serve(lis)

	cc, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() {
		cc.Close()
		srv.Stop()
	})
	return cc
}

func TestHub_SubscribeAndClose(t *testing.T) {
	quiet(t)
	hub := NewHub()
	hub.Publish(driver.Summary{RunID: "r1", Evaluations: 1})
	hub.Publish(driver.Summary{RunID: "r2", Evaluations: 1})
	hub.Publish(driver.Summary{RunID: "r1", Evaluations: 2})

	current, updates, cancel := hub.Subscribe()
	defer cancel()
	require.Len(t, current, 2)
	assert.Equal(t, "r1", current[0].RunID)
	assert.Equal(t, 2, current[0].Evaluations)
	assert.Equal(t, "r2", current[1].RunID)

	hub.Publish(driver.Summary{RunID: "r2", Evaluations: 2})
	got := <-updates
	assert.Equal(t, "r2", got.RunID)
	assert.Equal(t, 2, got.Evaluations)

	hub.Close()
	_, ok := <-updates
	assert.False(t, ok)
	cancel()

	// Publishing after close is ignored.
	hub.Publish(driver.Summary{RunID: "r3"})
	assert.Len(t, hub.Latest(), 2)

	_, late, lateCancel := hub.Subscribe()
	defer lateCancel()
	_, ok = <-late
	assert.False(t, ok)
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	quiet(t)
	hub := NewHub()
	_, updates, cancel := hub.Subscribe()
	defer cancel()
	for i := range subscriberBuffer + 10 {
		hub.Publish(driver.Summary{RunID: "r1", Evaluations: i + 1})
	}
	assert.Len(t, updates, subscriberBuffer)
	assert.Equal(t, subscriberBuffer+10, hub.Latest()[0].Evaluations)
}

func TestFollow_StreamsCurrentThenUpdates(t *testing.T) {
	quiet(t)
	hub := NewHub()
	hub.Publish(driver.Summary{RunID: "r1", Algorithm: "nm", Evaluations: 1, BestIndex: -1})
	cc := startServer(t, hub)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var got []driver.Summary
	for sum, err := range Follow(ctx, cc, "") {
		require.NoError(t, err)
		got = append(got, sum)
		switch len(got) {
		case 1:
			cost := 0.25
			hub.Publish(driver.Summary{
				RunID:       "r1",
				Algorithm:   "nm",
				Evaluations: 2,
				Failures:    1,
				BestIndex:   1,
				BestCost:    &cost,
				BestParams:  map[string]float64{"p1": 30, "d1": 2},
				Termination: "converged",
			})
		case 2:
			hub.Close()
		}
	}

	require.Len(t, got, 2)
	assert.Equal(t, "r1", got[0].RunID)
	assert.Equal(t, -1, got[0].BestIndex)
	assert.Nil(t, got[0].BestCost)

	last := got[1]
	assert.Equal(t, "nm", last.Algorithm)
	assert.Equal(t, 2, last.Evaluations)
	assert.Equal(t, 1, last.Failures)
	assert.Equal(t, 1, last.BestIndex)
	require.NotNil(t, last.BestCost)
	assert.Equal(t, 0.25, *last.BestCost)
	assert.Equal(t, map[string]float64{"p1": 30, "d1": 2}, last.BestParams)
	assert.Equal(t, "converged", last.Termination)
}

func TestFollow_FiltersByRun(t *testing.T) {
	quiet(t)
	hub := NewHub()
	hub.Publish(driver.Summary{RunID: "r1", Evaluations: 4})
	hub.Publish(driver.Summary{RunID: "r2", Evaluations: 7})
	cc := startServer(t, hub)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var ids []string
	for sum, err := range Follow(ctx, cc, "r2") {
		require.NoError(t, err)
		ids = append(ids, sum.RunID)
		assert.Equal(t, 7, sum.Evaluations)
		hub.Close()
	}
	assert.Equal(t, []string{"r2"}, ids)
}

func TestFollow_Unreachable(t *testing.T) {
	quiet(t)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	lis.Close()

	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer cc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var errs int
	for _, err := range Follow(ctx, cc, "") {
		assert.Error(t, err)
		errs++
	}
	assert.Equal(t, 1, errs)
}
