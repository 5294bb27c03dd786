package monitoring

import (
	"math"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects optimisation run metrics on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	trials       *prometheus.CounterVec
	evalDuration *prometheus.HistogramVec
	bestCost     *prometheus.GaugeVec
	runs         *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	activeRuns   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them, together with the
// Go runtime collectors, on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		trials: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autotune_trials_total",
				Help: "Evaluations logged, by algorithm and status.",
			},
			[]string{"algorithm", "status"},
		),
		evalDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autotune_evaluation_duration_seconds",
				Help:    "Wall time of one bridge evaluation including scoring.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
			},
			[]string{"algorithm"},
		),
		bestCost: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "autotune_best_cost",
				Help: "Best finite cost found so far by the current run of each routine.",
			},
			[]string{"routine"},
		),
		runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autotune_runs_total",
				Help: "Finished runs, by termination reason.",
			},
			[]string{"algorithm", "termination"},
		),
		runDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autotune_run_duration_seconds",
				Help:    "Wall time of whole optimisation runs.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 16),
			},
			[]string{"algorithm"},
		),
		activeRuns: f.NewGauge(prometheus.GaugeOpts{
			Name: "autotune_active_runs",
			Help: "Runs currently in progress.",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveTrial records one logged evaluation.
func (m *Metrics) ObserveTrial(algorithm, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.trials.WithLabelValues(algorithm, status).Inc()
	m.evalDuration.WithLabelValues(algorithm).Observe(d.Seconds())
}

// SetBestCost publishes the best cost of a routine. Non-finite values are
// ignored.
func (m *Metrics) SetBestCost(routine string, cost float64) {
	if m == nil || math.IsNaN(cost) || math.IsInf(cost, 0) {
		return
	}
	m.bestCost.WithLabelValues(routine).Set(cost)
}

// RunStarted marks a run as active.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.activeRuns.Inc()
}

// RunFinished records the end of a run started with RunStarted.
func (m *Metrics) RunFinished(algorithm, termination string, d time.Duration) {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
	m.runs.WithLabelValues(algorithm, termination).Inc()
	m.runDuration.WithLabelValues(algorithm).Observe(d.Seconds())
}
