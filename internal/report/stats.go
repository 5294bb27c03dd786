// Package report turns parsed trial logs into files people read: CSV
// tables, a SQLite database, PNG traces and an HTML chart page.
package report

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/autotune/internal/triallog"
)

// Stats summarises the successful costs of one run.
type Stats struct {
	OK     int     `json:"ok"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Summarise computes Stats over the finite costs of run. Fields other than
// OK are NaN when no trial succeeded; StdDev is NaN with a single success.
func Summarise(run *triallog.RunReport) Stats {
	costs := okCosts(run)
	s := Stats{OK: len(costs), Mean: math.NaN(), StdDev: math.NaN(), Min: math.NaN(), Max: math.NaN()}
	if len(costs) == 0 {
		return s
	}
	s.Min = floats.Min(costs)
	s.Max = floats.Max(costs)
	if len(costs) == 1 {
		s.Mean = costs[0]
		return s
	}
	s.Mean, s.StdDev = stat.MeanStdDev(costs, nil)
	return s
}

func okCosts(run *triallog.RunReport) []float64 {
	out := make([]float64, 0, len(run.Trials))
	for _, c := range run.CostTrace() {
		if !math.IsNaN(c) && !math.IsInf(c, 0) {
			out = append(out, c)
		}
	}
	return out
}
