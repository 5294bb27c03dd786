// Package artifact holds the measurement data returned by an acquisition
// host and the helpers cost functions use to slice it by chemical shift.
package artifact

import (
	"errors"
	"fmt"
	"math"
)

// Shape names the kind of data an acquisition produces.
type Shape string

const (
	Real1D    Shape = "1d-real"
	Complex1D Shape = "1d-complex"
	Quad2D    Shape = "2d"
)

// Valid reports whether s is a known shape.
func (s Shape) Valid() bool {
	switch s {
	case Real1D, Complex1D, Quad2D:
		return true
	}
	return false
}

// Provides reports whether data of shape s can satisfy a consumer that needs
// shape want. A complex 1D trace also carries its real part.
func (s Shape) Provides(want Shape) bool {
	if s == want {
		return true
	}
	return s == Complex1D && want == Real1D
}

// Quadrant indexes the four parts of a hypercomplex 2D dataset.
type Quadrant int

const (
	RR Quadrant = iota
	RI
	IR
	II
)

var quadrantNames = [4]string{"rr", "ri", "ir", "ii"}

func (q Quadrant) String() string {
	if q < RR || q > II {
		return fmt.Sprintf("quadrant(%d)", int(q))
	}
	return quadrantNames[q]
}

// ErrShape is wrapped by every malformed-artifact error.
var ErrShape = errors.New("artifact shape")

// Artifact is one processed measurement. 1D data lives in Real (and Imag for
// complex traces) indexed along Axis. 2D data lives in Quadrants, each a
// row-major Rows x Cols grid; rows run along Indirect (f1), columns along
// Axis (f2). Index 0 is the highest chemical shift, matching spectrometer
// display order.
type Artifact struct {
	Shape     Shape              `json:"shape"`
	Real      []float64          `json:"real,omitempty"`
	Imag      []float64          `json:"imag,omitempty"`
	Quadrants [4][]float64       `json:"quadrants,omitempty"`
	Rows      int                `json:"rows,omitempty"`
	Cols      int                `json:"cols,omitempty"`
	Axis      Axis               `json:"axis"`
	Indirect  Axis               `json:"indirect,omitempty"`
	Meta      map[string]float64 `json:"meta,omitempty"`
}

// Validate checks that the data lengths agree with the declared shape.
func (a *Artifact) Validate() error {
	if a == nil {
		return fmt.Errorf("%w: nil artifact", ErrShape)
	}
	switch a.Shape {
	case Real1D:
		if len(a.Real) == 0 {
			return fmt.Errorf("%w: %s artifact has no points", ErrShape, a.Shape)
		}
	case Complex1D:
		if len(a.Real) == 0 || len(a.Real) != len(a.Imag) {
			return fmt.Errorf("%w: complex artifact has %d real and %d imaginary points",
				ErrShape, len(a.Real), len(a.Imag))
		}
	case Quad2D:
		if a.Rows <= 0 || a.Cols <= 0 {
			return fmt.Errorf("%w: 2d artifact has %dx%d grid", ErrShape, a.Rows, a.Cols)
		}
		for q, data := range a.Quadrants {
			if len(data) != a.Rows*a.Cols {
				return fmt.Errorf("%w: quadrant %s has %d points, want %d",
					ErrShape, Quadrant(q), len(data), a.Rows*a.Cols)
			}
		}
	default:
		return fmt.Errorf("%w: unknown shape %q", ErrShape, a.Shape)
	}
	return nil
}

// axisFor returns the axis to use for n points, filling Size when the host
// left it unset.
func axisFor(ax Axis, n int) Axis {
	if ax.Size == 0 {
		ax.Size = n
	}
	return ax
}

// RealIn returns the real points inside the given bounds.
func (a *Artifact) RealIn(b Bounds) ([]float64, error) {
	if a.Shape != Real1D && a.Shape != Complex1D {
		return nil, fmt.Errorf("%w: real trace requested from %s artifact", ErrShape, a.Shape)
	}
	lo, hi, err := axisFor(a.Axis, len(a.Real)).Window(b)
	if err != nil {
		return nil, err
	}
	return a.Real[lo : hi+1], nil
}

// ImagIn returns the imaginary points inside the given bounds.
func (a *Artifact) ImagIn(b Bounds) ([]float64, error) {
	if a.Shape != Complex1D {
		return nil, fmt.Errorf("%w: imaginary trace requested from %s artifact", ErrShape, a.Shape)
	}
	lo, hi, err := axisFor(a.Axis, len(a.Imag)).Window(b)
	if err != nil {
		return nil, err
	}
	return a.Imag[lo : hi+1], nil
}

// MagnitudeIn returns |re + i*im| for each point inside the bounds.
func (a *Artifact) MagnitudeIn(b Bounds) ([]float64, error) {
	re, err := a.RealIn(b)
	if err != nil {
		return nil, err
	}
	im, err := a.ImagIn(b)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(re))
	for i := range re {
		out[i] = math.Hypot(re[i], im[i])
	}
	return out, nil
}

// QuadrantIn returns the rows of quadrant q inside the f1 and f2 bounds.
func (a *Artifact) QuadrantIn(q Quadrant, f1, f2 Bounds) ([][]float64, error) {
	if a.Shape != Quad2D {
		return nil, fmt.Errorf("%w: quadrant %s requested from %s artifact", ErrShape, q, a.Shape)
	}
	if q < RR || q > II {
		return nil, fmt.Errorf("%w: invalid quadrant %d", ErrShape, int(q))
	}
	data := a.Quadrants[q]
	if len(data) != a.Rows*a.Cols {
		return nil, fmt.Errorf("%w: quadrant %s has %d points, want %d", ErrShape, q, len(data), a.Rows*a.Cols)
	}
	r0, r1, err := axisFor(a.Indirect, a.Rows).Window(f1)
	if err != nil {
		return nil, fmt.Errorf("f1: %w", err)
	}
	c0, c1, err := axisFor(a.Axis, a.Cols).Window(f2)
	if err != nil {
		return nil, fmt.Errorf("f2: %w", err)
	}
	rows := make([][]float64, 0, r1-r0+1)
	for r := r0; r <= r1; r++ {
		rows = append(rows, data[r*a.Cols+c0:r*a.Cols+c1+1])
	}
	return rows, nil
}
