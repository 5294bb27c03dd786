package report

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveAndQuery(t *testing.T) {
	quiet(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")

	store, err := OpenStore(path)
	require.NoError(t, err)
	defer store.Close()

	version, dirty, err := store.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	rep := sampleReport(t)
	require.NoError(t, store.SaveReport(ctx, rep))
	// Saving again replaces rather than duplicates.
	require.NoError(t, store.SaveReport(ctx, rep))

	runs, err := store.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	r1 := runs[0]
	assert.Equal(t, "r1", r1.RunID)
	assert.Equal(t, "completed", r1.Status)
	assert.Equal(t, 4, r1.Evaluations)
	assert.Equal(t, 1, r1.Failures)
	require.NotNil(t, r1.BestIndex)
	assert.Equal(t, 2, *r1.BestIndex)
	require.NotNil(t, r1.BestCost)
	assert.Equal(t, 3.0, *r1.BestCost)
	require.NotNil(t, r1.OKMean)
	assert.InDelta(t, 4.0, *r1.OKMean, 1e-12)

	r2 := runs[1]
	assert.True(t, r2.Maximize)
	assert.Equal(t, "interrupted", r2.Status)
	assert.Nil(t, r2.OKStdDev)

	trials, err := store.Trials(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, trials, 4)
	assert.Nil(t, trials[1].Cost)
	assert.Equal(t, "acquire-timeout", trials[1].Failure)
	require.NotNil(t, trials[2].Cost)
	assert.Equal(t, 3.0, *trials[2].Cost)
	assert.Equal(t, map[string]float64{"p1": 30, "d1": 2}, trials[2].Params)
	assert.True(t, trials[0].Time.Equal(t0.Add(1e9)))
	assert.Equal(t, 250e6, float64(trials[0].Duration))
}

func TestStore_ReopenIsNoOp(t *testing.T) {
	quiet(t)
	path := filepath.Join(t.TempDir(), "runs.db")
	store, err := OpenStore(path)
	require.NoError(t, err)
	require.NoError(t, store.SaveReport(context.Background(), sampleReport(t)))
	require.NoError(t, store.Close())

	store, err = OpenStore(path)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.Runs(context.Background())
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestStore_AdminRoutes(t *testing.T) {
	quiet(t)
	store, err := OpenStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.SaveReport(context.Background(), sampleReport(t)))

	mux := http.NewServeMux()
	require.NoError(t, store.AttachAdminRoutes(mux, "runs.db"))

	get := func(remote, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	rec := get("127.0.0.1:1234", "/debug/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tailsql")

	rec = get("127.0.0.1:1234", "/debug/tailsql/")
	assert.Equal(t, http.StatusOK, rec.Code)

	// The console is only offered to local callers.
	rec = get("203.0.113.7:1234", "/debug/tailsql/")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
