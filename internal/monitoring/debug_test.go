package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAttachDebugRoutes(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()
	SetLogger(nil)

	stopped := false
	mux := http.NewServeMux()
	AttachDebugRoutes(mux, DebugRoutes{
		Metrics: NewMetrics(),
		Status:  func() any { return map[string]int{"evaluations": 7} },
		Stop:    func() { stopped = true },
	})

	// tsweb only serves debug pages to loopback callers.
	get := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.RemoteAddr = "127.0.0.1:1234"
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	rec := get(http.MethodGet, "/debug/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"evaluations": 7`)

	rec = get(http.MethodGet, "/debug/stop")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.False(t, stopped)

	rec = get(http.MethodPost, "/debug/stop")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, stopped)

	rec = get(http.MethodGet, "/debug/autotune-metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "autotune_active_runs"))
}
