package costfn

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/autotune/internal/artifact"
)

var boundsOption = OptionSpec{
	Name:        "bounds",
	Kind:        KindBounds,
	Description: "chemical shift window in ppm, e.g. \"5..8\", \"9.3..\" or \"..-2\"",
}

var twoDOptions = []OptionSpec{
	{Name: "f1_bounds", Kind: KindBounds, Description: "indirect dimension window in ppm"},
	{Name: "f2_bounds", Kind: KindBounds, Description: "direct dimension window in ppm"},
}

// Default returns a registry pre-loaded with the built-in cost functions.
func Default() *Registry {
	reg := NewRegistry()

	reg.MustRegister(&Descriptor{
		Name:        "minabsint",
		Version:     "v1",
		Description: "Minimises the integral of the magnitude spectrum.",
		Shape:       artifact.Complex1D,
		Options:     []OptionSpec{boundsOption},
		Score: func(a *artifact.Artifact, o Options) (float64, error) {
			mag, err := a.MagnitudeIn(o.Bounds("bounds"))
			if err != nil {
				return 0, err
			}
			return floats.Sum(mag), nil
		},
	})

	reg.MustRegister(&Descriptor{
		Name:        "maxabsint",
		Version:     "v1",
		Description: "Maximises the integral of the magnitude spectrum.",
		Shape:       artifact.Complex1D,
		Options:     []OptionSpec{boundsOption},
		Score: func(a *artifact.Artifact, o Options) (float64, error) {
			mag, err := a.MagnitudeIn(o.Bounds("bounds"))
			if err != nil {
				return 0, err
			}
			return -floats.Sum(mag), nil
		},
	})

	reg.MustRegister(&Descriptor{
		Name:        "minrealint",
		Version:     "v1",
		Description: "Minimises the integral of the real spectrum.",
		Shape:       artifact.Real1D,
		Options:     []OptionSpec{boundsOption},
		Score: func(a *artifact.Artifact, o Options) (float64, error) {
			re, err := a.RealIn(o.Bounds("bounds"))
			if err != nil {
				return 0, err
			}
			return floats.Sum(re), nil
		},
	})

	reg.MustRegister(&Descriptor{
		Name:        "maxrealint",
		Version:     "v1",
		Description: "Maximises the integral of the real spectrum.",
		Shape:       artifact.Real1D,
		Options:     []OptionSpec{boundsOption},
		Score: func(a *artifact.Artifact, o Options) (float64, error) {
			re, err := a.RealIn(o.Bounds("bounds"))
			if err != nil {
				return 0, err
			}
			return -floats.Sum(re), nil
		},
	})

	reg.MustRegister(&Descriptor{
		Name:        "zerorealint",
		Version:     "v1",
		Description: "Drives the integral of the real spectrum towards zero.",
		Shape:       artifact.Real1D,
		Options:     []OptionSpec{boundsOption},
		Score: func(a *artifact.Artifact, o Options) (float64, error) {
			re, err := a.RealIn(o.Bounds("bounds"))
			if err != nil {
				return 0, err
			}
			return math.Abs(floats.Sum(re)), nil
		},
	})

	reg.MustRegister(&Descriptor{
		Name:        "specdiff",
		Version:     "v1",
		Description: "Distance between the spectrum and a reference trace after normalisation.",
		Shape:       artifact.Real1D,
		Options: []OptionSpec{
			boundsOption,
			{Name: "reference", Kind: KindFloats, Description: "reference trace, comma separated"},
			{Name: "normalize", Kind: KindEnum, Default: "l2", Choices: []string{"l2", "max", "sum", "none"}},
		},
		Score: scoreSpecDiff,
	})

	reg.MustRegister(&Descriptor{
		Name:        "noe_1d",
		Version:     "v1",
		Description: "Maximises signal either side of a selective pulse, excluding its bandwidth.",
		Shape:       artifact.Real1D,
		Options: []OptionSpec{
			{Name: "offset_hz", Kind: KindFloat, Description: "selective pulse frequency; defaults to artifact meta offset_hz"},
			{Name: "bandwidth_hz", Kind: KindFloat, Default: "50"},
		},
		Score: scoreNOE1D,
	})

	reg.MustRegister(&Descriptor{
		Name:        "asaphsqc",
		Version:     "v1",
		Description: "Maximises the sum of the f2 projection (column maxima) of the rr quadrant.",
		Shape:       artifact.Quad2D,
		Options:     twoDOptions,
		Score: func(a *artifact.Artifact, o Options) (float64, error) {
			rows, err := a.QuadrantIn(artifact.RR, o.Bounds("f1_bounds"), o.Bounds("f2_bounds"))
			if err != nil {
				return 0, err
			}
			proj := append([]float64(nil), rows[0]...)
			for _, row := range rows[1:] {
				for j, v := range row {
					proj[j] = math.Max(proj[j], v)
				}
			}
			return -floats.Sum(proj), nil
		},
	})

	for _, q := range []artifact.Quadrant{artifact.RR, artifact.RI, artifact.IR, artifact.II} {
		reg.MustRegister(quadrantIntegral(q))
	}

	return reg
}

func quadrantIntegral(q artifact.Quadrant) *Descriptor {
	opts := append([]OptionSpec{}, twoDOptions...)
	opts = append(opts, OptionSpec{Name: "sign", Kind: KindFloat, Default: "1", Description: "+1 to minimise, -1 to maximise"})
	return &Descriptor{
		Name:        "int2d_" + q.String(),
		Version:     "v1",
		Description: fmt.Sprintf("Signed integral of the %s quadrant of a 2D spectrum.", q),
		Shape:       artifact.Quad2D,
		Options:     opts,
		Score: func(a *artifact.Artifact, o Options) (float64, error) {
			rows, err := a.QuadrantIn(q, o.Bounds("f1_bounds"), o.Bounds("f2_bounds"))
			if err != nil {
				return 0, err
			}
			sign, _ := o.Float("sign")
			total := 0.0
			for _, row := range rows {
				total += floats.Sum(row)
			}
			return sign * total, nil
		},
	}
}

func normalise(x []float64, mode string) ([]float64, error) {
	out := append([]float64(nil), x...)
	var n float64
	switch mode {
	case "none":
		return out, nil
	case "max":
		n = floats.Max(out)
	case "sum":
		n = floats.Sum(out)
	default:
		n = floats.Norm(out, 2)
	}
	if n == 0 {
		return nil, errors.New("cannot normalise a trace with zero " + mode)
	}
	floats.Scale(1/n, out)
	return out, nil
}

func scoreSpecDiff(a *artifact.Artifact, o Options) (float64, error) {
	ref := o.Floats("reference")
	if len(ref) == 0 {
		return 0, errors.New("no reference trace given")
	}
	spec, err := a.RealIn(o.Bounds("bounds"))
	if err != nil {
		return 0, err
	}
	if len(spec) != len(ref) {
		return 0, fmt.Errorf("reference has %d points, spectrum window has %d", len(ref), len(spec))
	}
	mode := o.String("normalize")
	nref, err := normalise(ref, mode)
	if err != nil {
		return 0, fmt.Errorf("reference: %w", err)
	}
	nspec, err := normalise(spec, mode)
	if err != nil {
		return 0, fmt.Errorf("spectrum: %w", err)
	}
	return floats.Distance(nref, nspec, 2), nil
}

func scoreNOE1D(a *artifact.Artifact, o Options) (float64, error) {
	f, ok := o.Float("offset_hz")
	if !ok {
		f, ok = a.Meta["offset_hz"]
	}
	if !ok {
		return 0, errors.New("selective pulse offset unknown: set offset_hz")
	}
	bw, _ := o.Float("bandwidth_hz")
	upper, err := a.Axis.HzToPPM(f + bw/2)
	if err != nil {
		return 0, err
	}
	lower, err := a.Axis.HzToPPM(f - bw/2)
	if err != nil {
		return 0, err
	}
	above, err := a.RealIn(artifact.Bounds{Lower: upper, HasLower: true})
	if err != nil {
		return 0, err
	}
	below, err := a.RealIn(artifact.Bounds{Upper: lower, HasUpper: true})
	if err != nil {
		return 0, err
	}
	return -math.Abs(floats.Sum(above) + floats.Sum(below)), nil
}
