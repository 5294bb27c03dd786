package monitoring

import (
	"encoding/json"
	"fmt"
	"net/http"

	"tailscale.com/tsweb"
)

// DebugRoutes configures AttachDebugRoutes. Nil fields leave the matching
// route out.
type DebugRoutes struct {
	Metrics *Metrics
	// Status returns a JSON-encodable snapshot of the current run.
	Status func() any
	// Stop requests that the current run end after its evaluation.
	Stop func()
}

// AttachDebugRoutes registers the run status, stop and metrics routes under
// /debug/ on mux.
func AttachDebugRoutes(mux *http.ServeMux, routes DebugRoutes) {
	debug := tsweb.Debugger(mux)
	if routes.Status != nil {
		debug.HandleFunc("status", "current optimisation run", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			if err := enc.Encode(routes.Status()); err != nil {
				Logf("debug status: %v", err)
			}
		})
	}
	if routes.Stop != nil {
		debug.HandleFunc("stop", "stop the current run after its evaluation (POST)", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				w.Header().Set("Allow", http.MethodPost)
				http.Error(w, "use POST", http.StatusMethodNotAllowed)
				return
			}
			routes.Stop()
			Logf("stop requested via debug route from %s", r.RemoteAddr)
			fmt.Fprintln(w, "stop requested")
		})
	}
	if routes.Metrics != nil {
		debug.Handle("autotune-metrics", "optimisation run metrics (Prometheus)", routes.Metrics.Handler())
	}
}
