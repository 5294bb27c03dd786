package bridge

import (
	"fmt"
	"math"

	"github.com/banshee-data/autotune/internal/artifact"
)

// simPoints is the length of simulated 1D spectra.
const simPoints = 256

// lorentzian returns a peak of the given height and half-width (in points)
// centred on c, sampled on n points.
func lorentzian(n int, c, hw, height float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		d := (float64(i) - c) / hw
		out[i] = height / (1 + d*d)
	}
	return out
}

// PulseModel simulates a pulse-width calibration: a single peak whose height
// follows sin(pi/2 * p/p90), where p is the value of param. The height
// crosses zero at every multiple of 2*p90. Unknown param values are an
// error.
func PulseModel(param string, p90 float64) Model {
	return func(values map[string]float64) (*artifact.Artifact, error) {
		p, ok := values[param]
		if !ok {
			return nil, fmt.Errorf("parameter %s not set", param)
		}
		height := math.Sin(math.Pi / 2 * p / p90)
		return &artifact.Artifact{
			Shape: artifact.Real1D,
			Real:  lorentzian(simPoints, simPoints/2, 3, height),
			Axis:  artifact.Axis{Offset: 4.7, SpectralWidth: 12, Frequency: 400, Size: simPoints},
		}, nil
	}
}

// BowlModel simulates a signal whose integral is the squared distance of the
// parameters from target, so minimising the real integral finds target.
// Parameters absent from values count as zero.
func BowlModel(target map[string]float64) Model {
	return func(values map[string]float64) (*artifact.Artifact, error) {
		sum := 0.0
		for name, t := range target {
			d := values[name] - t
			sum += d * d
		}
		re := make([]float64, simPoints)
		for i := range re {
			re[i] = sum / simPoints
		}
		im := make([]float64, simPoints)
		return &artifact.Artifact{
			Shape: artifact.Complex1D,
			Real:  re,
			Imag:  im,
			Axis:  artifact.Axis{Offset: 4.7, SpectralWidth: 12, Frequency: 400, Size: simPoints},
		}, nil
	}
}
