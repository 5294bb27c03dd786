package artifact

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Axis calibrates point indices against chemical shift.
type Axis struct {
	// Offset is the centre of the spectral window in ppm.
	Offset float64 `json:"offset"`
	// SpectralWidth is the full window width in ppm.
	SpectralWidth float64 `json:"sw"`
	// Frequency is the observe frequency in MHz, used to convert Hz offsets.
	Frequency float64 `json:"sf,omitempty"`
	Size      int     `json:"size,omitempty"`
}

// Calibrated reports whether the axis can map ppm to points.
func (ax Axis) Calibrated() bool {
	return ax.SpectralWidth > 0 && ax.Size > 1
}

// HzToPPM converts an absolute frequency offset in Hz to ppm.
func (ax Axis) HzToPPM(hz float64) (float64, error) {
	if ax.Frequency <= 0 {
		return 0, fmt.Errorf("axis has no observe frequency")
	}
	return hz / ax.Frequency, nil
}

// Point rounds a chemical shift to the nearest index. ok is false when the
// shift lies outside the spectral window.
func (ax Axis) Point(shift float64) (idx int, ok bool) {
	highest := ax.Offset + ax.SpectralWidth/2
	lowest := ax.Offset - ax.SpectralWidth/2
	if shift > highest || shift < lowest {
		return 0, false
	}
	spacing := ax.SpectralWidth / float64(ax.Size-1)
	return int(math.Round((highest - shift) / spacing)), true
}

// Window converts ppm bounds into an inclusive index range. Open ends and
// shifts beyond the window extend to the edge of the data.
func (ax Axis) Window(b Bounds) (lo, hi int, err error) {
	if ax.Size <= 0 {
		return 0, 0, fmt.Errorf("%w: empty axis", ErrShape)
	}
	lo, hi = 0, ax.Size-1
	if b.IsZero() {
		return lo, hi, nil
	}
	if !ax.Calibrated() {
		return 0, 0, fmt.Errorf("%w: bounds %s need a calibrated axis", ErrShape, b)
	}
	// Higher shifts sit at lower indices.
	if b.HasUpper {
		if p, ok := ax.Point(b.Upper); ok {
			lo = p
		} else if b.Upper < ax.Offset {
			return 0, 0, fmt.Errorf("%w: bounds %s lie outside the spectral window", ErrShape, b)
		}
	}
	if b.HasLower {
		if p, ok := ax.Point(b.Lower); ok {
			hi = p
		} else if b.Lower > ax.Offset {
			return 0, 0, fmt.Errorf("%w: bounds %s lie outside the spectral window", ErrShape, b)
		}
	}
	if lo > hi {
		return 0, 0, fmt.Errorf("%w: bounds %s select no points", ErrShape, b)
	}
	return lo, hi, nil
}

// Bounds is a chemical-shift interval; either end may be open.
type Bounds struct {
	Lower, Upper       float64
	HasLower, HasUpper bool
}

// IsZero reports whether both ends are open.
func (b Bounds) IsZero() bool {
	return !b.HasLower && !b.HasUpper
}

func (b Bounds) String() string {
	var sb strings.Builder
	if b.HasLower {
		sb.WriteString(strconv.FormatFloat(b.Lower, 'g', -1, 64))
	}
	sb.WriteString("..")
	if b.HasUpper {
		sb.WriteString(strconv.FormatFloat(b.Upper, 'g', -1, 64))
	}
	return sb.String()
}

// ParseBounds accepts "", "a..b", "a.." and "..b".
func ParseBounds(s string) (Bounds, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Bounds{}, nil
	}
	lowerStr, upperStr, found := strings.Cut(s, "..")
	if !found {
		return Bounds{}, fmt.Errorf("invalid bounds %q: expected lower..upper", s)
	}
	var b Bounds
	if lowerStr != "" {
		v, err := strconv.ParseFloat(lowerStr, 64)
		if err != nil {
			return Bounds{}, fmt.Errorf("invalid bounds %q: %w", s, err)
		}
		b.Lower, b.HasLower = v, true
	}
	if upperStr != "" {
		v, err := strconv.ParseFloat(upperStr, 64)
		if err != nil {
			return Bounds{}, fmt.Errorf("invalid bounds %q: %w", s, err)
		}
		b.Upper, b.HasUpper = v, true
	}
	if b.IsZero() {
		return Bounds{}, fmt.Errorf("invalid bounds %q: both ends open", s)
	}
	if b.HasLower && b.HasUpper && b.Lower > b.Upper {
		return Bounds{}, fmt.Errorf("invalid bounds %q: lower exceeds upper", s)
	}
	return b, nil
}

// MustParseBounds is ParseBounds for literals in code and tests.
func MustParseBounds(s string) Bounds {
	b, err := ParseBounds(s)
	if err != nil {
		panic(err)
	}
	return b
}
