// Package params describes the search space of an optimisation run: an
// ordered list of instrument parameters with bounds, a starting value and a
// unit, plus the mapping between physical units and the unit hypercube the
// optimisers work in.
package params

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidSpace is wrapped by every validation failure.
var ErrInvalidSpace = errors.New("invalid parameter space")

// Spec defines one optimisation parameter. Position in a Space maps to the
// optimiser coordinate index.
type Spec struct {
	Name    string  `json:"name" yaml:"name" validate:"required"`
	Lower   float64 `json:"lb" yaml:"lb"`
	Upper   float64 `json:"ub" yaml:"ub"`
	Initial float64 `json:"init" yaml:"init"`
	// Unit is passed verbatim to the acquisition host ("us", "ms", "W", "dB").
	Unit string `json:"unit,omitempty" yaml:"unit,omitempty"`
	// Tolerance is the physical step below which the optimiser may stop
	// refining this parameter. Zero means "use the run tolerance".
	Tolerance float64 `json:"tol,omitempty" yaml:"tol,omitempty" validate:"gte=0"`
}

// Span returns Upper - Lower.
func (s Spec) Span() float64 {
	return s.Upper - s.Lower
}

// Space is an ordered parameter list.
type Space []Spec

// Dim returns the number of dimensions.
func (s Space) Dim() int {
	return len(s)
}

// Names returns the parameter names in declared order.
func (s Space) Names() []string {
	names := make([]string, len(s))
	for i, p := range s {
		names[i] = p.Name
	}
	return names
}

// Units returns the parameter units in declared order.
func (s Space) Units() []string {
	units := make([]string, len(s))
	for i, p := range s {
		units[i] = p.Unit
	}
	return units
}

// Validate checks every Spec and the space as a whole. An initial value on a
// bound is accepted; anything outside the bounds is rejected.
func (s Space) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("%w: no parameters", ErrInvalidSpace)
	}
	seen := make(map[string]bool, len(s))
	for i, p := range s {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return fmt.Errorf("%w: parameter %d has no name", ErrInvalidSpace, i)
		}
		if strings.ContainsAny(name, " \t\r\n") {
			return fmt.Errorf("%w: parameter name %q contains whitespace", ErrInvalidSpace, p.Name)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate parameter %q", ErrInvalidSpace, name)
		}
		seen[name] = true

		for _, v := range []float64{p.Lower, p.Upper, p.Initial, p.Tolerance} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: parameter %q has a non-finite value", ErrInvalidSpace, name)
			}
		}
		if p.Lower >= p.Upper {
			return fmt.Errorf("%w: parameter %q: lower bound %g must be less than upper bound %g",
				ErrInvalidSpace, name, p.Lower, p.Upper)
		}
		if p.Initial < p.Lower || p.Initial > p.Upper {
			return fmt.Errorf("%w: parameter %q: initial value %g outside [%g, %g]",
				ErrInvalidSpace, name, p.Initial, p.Lower, p.Upper)
		}
		if p.Tolerance < 0 || p.Tolerance >= p.Span() {
			return fmt.Errorf("%w: parameter %q: tolerance %g must be in [0, %g)",
				ErrInvalidSpace, name, p.Tolerance, p.Span())
		}
		if strings.ContainsAny(p.Unit, " \t\r\n") {
			return fmt.Errorf("%w: parameter %q: unit %q contains whitespace", ErrInvalidSpace, name, p.Unit)
		}
	}
	return nil
}

// Normalise maps physical values onto [0,1] per dimension using the bounds.
func (s Space) Normalise(physical []float64) ([]float64, error) {
	if len(physical) != len(s) {
		return nil, fmt.Errorf("normalise: got %d values for %d parameters", len(physical), len(s))
	}
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = (physical[i] - p.Lower) / p.Span()
	}
	return out, nil
}

// Physical maps normalised coordinates back to physical units.
func (s Space) Physical(normalised []float64) ([]float64, error) {
	if len(normalised) != len(s) {
		return nil, fmt.Errorf("unscale: got %d values for %d parameters", len(normalised), len(s))
	}
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Lower + normalised[i]*p.Span()
	}
	return out, nil
}

// Initial returns the normalised starting point.
func (s Space) Initial() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = (p.Initial - p.Lower) / p.Span()
	}
	return out
}

// Tolerances returns per-dimension tolerances in normalised units. A
// parameter without its own tolerance gets runTol, which is already
// normalised.
func (s Space) Tolerances(runTol float64) []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		if p.Tolerance > 0 {
			out[i] = p.Tolerance / p.Span()
		} else {
			out[i] = runTol
		}
	}
	return out
}

// InUnitBox reports whether every coordinate lies in [0,1].
func InUnitBox(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return false
		}
	}
	return true
}

// ClampUnit clamps every coordinate into [0,1] in place and returns x.
func ClampUnit(x []float64) []float64 {
	for i, v := range x {
		x[i] = math.Min(1, math.Max(0, v))
	}
	return x
}

// Format renders physical values as "name=value unit" pairs for log lines.
func (s Space) Format(physical []float64) string {
	parts := make([]string, 0, len(s))
	for i, p := range s {
		if i >= len(physical) {
			break
		}
		part := fmt.Sprintf("%s=%.6g", p.Name, physical[i])
		if p.Unit != "" {
			part += " " + p.Unit
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ", ")
}
