package optimizer

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// NewBOBYQA returns a bound-constrained trust-region search driven by a
// separable quadratic model. The model is refitted by least squares over
// every evaluated point near the incumbent, using at least 2n+1 of them. The
// trust region is measured in multiples of each dimension's tolerance; it
// starts at ten tolerances (fewer when the unit box is too small) and the
// search converges when a step at one tolerance no longer improves.
//
// Proposals never leave the unit box.
func NewBOBYQA(x0, xtol []float64) Algorithm {
	return newSearch("bobyqa", func(eval evalFunc) bool {
		return bobyqa(x0, xtol, eval)
	})
}

type sample struct {
	x []float64
	f float64
}

const (
	trShrinkRatio = 0.1
	trExpandRatio = 0.7
)

func bobyqa(x0, xtol []float64, eval evalFunc) bool {
	n := len(x0)

	rbeg := 10.0
	for _, t := range xtol {
		rbeg = math.Min(rbeg, 0.499/t)
	}
	rbeg = math.Max(rbeg, 1)
	r := rbeg

	var history []sample
	evalAt := func(x []float64) (float64, bool) {
		f, ok := eval(x)
		if ok && !math.IsInf(f, 0) && !math.IsNaN(f) {
			history = append(history, sample{x: clone(x), f: f})
		}
		return f, ok
	}

	xc := clampUnit(clone(x0))
	fc, ok := evalAt(xc)
	if !ok {
		return false
	}

	radius := make([]float64, n)
	for iter := 0; iter < maxIterationsPerDim*n; iter++ {
		for j := range radius {
			radius[j] = r * xtol[j]
		}

		// Two axis samples per dimension around the incumbent.
		for j := 0; j < n; j++ {
			for _, off := range axisOffsets(xc[j], radius[j]) {
				x := clone(xc)
				x[j] += off
				if sampled(history, x) {
					continue
				}
				if _, ok := evalAt(x); !ok {
					return false
				}
			}
		}

		improved := false
		g, h, err := fitSeparableModel(history, xc, radius)
		if err == nil {
			step := modelStep(g, h, xc, radius)
			pred := -(floats.Dot(g, step) + 0.5*weightedSquares(h, step))
			if pred > 0 && !negligible(step, xtol) {
				xn := clone(xc)
				floats.Add(xn, step)
				clampUnit(xn)
				fn, ok := evalAt(xn)
				if !ok {
					return false
				}
				if fn < fc {
					ratio := (fc - fn) / pred
					switch {
					case ratio >= trExpandRatio && atEdge(step, radius):
						r = math.Min(2*r, rbeg)
					case ratio < trShrinkRatio:
						r = math.Max(1, r/2)
					}
				}
			}
		}

		// Move to the best point seen, which may be an axis sample.
		for _, s := range history {
			if s.f < fc {
				xc, fc = clone(s.x), s.f
				improved = true
			}
		}

		if !improved {
			if r <= 1 {
				return true
			}
			r = math.Max(1, r/2)
		}
	}
	return false
}

// axisOffsets picks two distinct offsets of at most h that keep x inside
// [0,1], preferring +h and -h.
func axisOffsets(x, h float64) []float64 {
	out := make([]float64, 0, 2)
	for k := 0; k < 8 && len(out) < 2; k++ {
		step := h / math.Pow(2, float64(k))
		for _, off := range []float64{step, -step} {
			if len(out) < 2 && x+off >= 0 && x+off <= 1 {
				out = append(out, off)
			}
		}
	}
	return out
}

func sampled(history []sample, x []float64) bool {
	for _, s := range history {
		if floats.EqualApprox(s.x, x, 1e-12) {
			return true
		}
	}
	return false
}

var errTooFewPoints = errors.New("too few interpolation points")

// fitSeparableModel fits f(xc+d) ~ c + g.d + 0.5 * sum h_j d_j^2 over the
// samples inside twice the trust region. Offsets are scaled by the radius
// so the system stays well conditioned.
func fitSeparableModel(history []sample, xc, radius []float64) (g, h []float64, err error) {
	n := len(xc)
	var near []sample
	for _, s := range history {
		inside := true
		for j := range xc {
			if math.Abs(s.x[j]-xc[j]) > 2*radius[j] {
				inside = false
				break
			}
		}
		if inside {
			near = append(near, s)
		}
	}
	cols := 2*n + 1
	if len(near) < cols {
		return nil, nil, errTooFewPoints
	}

	a := mat.NewDense(len(near), cols, nil)
	b := mat.NewVecDense(len(near), nil)
	for i, s := range near {
		a.Set(i, 0, 1)
		for j := 0; j < n; j++ {
			u := (s.x[j] - xc[j]) / radius[j]
			a.Set(i, 1+j, u)
			a.Set(i, 1+n+j, 0.5*u*u)
		}
		b.SetVec(i, s.f)
	}

	var coef mat.VecDense
	if err := coef.SolveVec(a, b); err != nil {
		return nil, nil, err
	}
	g = make([]float64, n)
	h = make([]float64, n)
	for j := 0; j < n; j++ {
		g[j] = coef.AtVec(1+j) / radius[j]
		h[j] = coef.AtVec(1+n+j) / (radius[j] * radius[j])
	}
	return g, h, nil
}

// modelStep minimises the separable model inside the trust box intersected
// with the unit box.
func modelStep(g, h, xc, radius []float64) []float64 {
	step := make([]float64, len(g))
	for j := range step {
		lo := math.Max(-radius[j], -xc[j])
		hi := math.Min(radius[j], 1-xc[j])
		var s float64
		switch {
		case h[j] > 0:
			s = -g[j] / h[j]
		case g[j] > 0:
			s = lo
		case g[j] < 0:
			s = hi
		}
		step[j] = math.Min(hi, math.Max(lo, s))
	}
	return step
}

func weightedSquares(w, x []float64) float64 {
	sum := 0.0
	for i := range x {
		sum += w[i] * x[i] * x[i]
	}
	return sum
}

func negligible(step, xtol []float64) bool {
	for j := range step {
		if math.Abs(step[j]) >= 0.5*xtol[j] {
			return false
		}
	}
	return true
}

func atEdge(step, radius []float64) bool {
	for j := range step {
		if math.Abs(step[j]) >= 0.99*radius[j] {
			return true
		}
	}
	return false
}

func clampUnit(x []float64) []float64 {
	for i, v := range x {
		x[i] = math.Min(1, math.Max(0, v))
	}
	return x
}
