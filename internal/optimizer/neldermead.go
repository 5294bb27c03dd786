package optimizer

// Nelder-Mead coefficients following Kelley, "Iterative Methods for
// Optimization", algorithm 8.1.1.
const (
	nmInsideContraction  = -0.5
	nmOutsideContraction = 0.5
	nmReflect            = 1.0
	nmExpand             = 2.0
)

// NewNelderMead returns a Nelder-Mead search started from a Spendley
// simplex. It converges once every dimension of the simplex spans no more
// than its tolerance.
func NewNelderMead(x0, xtol []float64) Algorithm {
	return newSearch("nm", func(eval evalFunc) bool {
		return nelderMead(x0, xtol, eval)
	})
}

func nelderMead(x0, xtol []float64, eval evalFunc) bool {
	n := len(x0)
	s := newSpendleySimplex(x0, simplexLengths(xtol))
	if !s.evaluate(eval, 0) {
		return false
	}
	s.sort()

	for iter := 0; !s.converged(xtol); iter++ {
		if iter >= maxIterationsPerDim*n {
			return false
		}
		xbar := s.centroid()
		worst := s.worst()

		xr := along(xbar, worst.x, nmReflect)
		fr, ok := eval(xr)
		if !ok {
			return false
		}

		switch {
		case s.v[0].f <= fr && fr < s.v[n-1].f:
			s.replaceWorst(xr, fr)

		case fr < s.v[0].f:
			xe := along(xbar, worst.x, nmExpand)
			fe, ok := eval(xe)
			if !ok {
				return false
			}
			if fe < fr {
				s.replaceWorst(xe, fe)
			} else {
				s.replaceWorst(xr, fr)
			}

		case fr < worst.f:
			xc := along(xbar, worst.x, nmOutsideContraction)
			fc, ok := eval(xc)
			if !ok {
				return false
			}
			if fc <= fr {
				s.replaceWorst(xc, fc)
			} else if !shrink(s, eval) {
				return false
			}

		default:
			xc := along(xbar, worst.x, nmInsideContraction)
			fc, ok := eval(xc)
			if !ok {
				return false
			}
			if fc < worst.f {
				s.replaceWorst(xc, fc)
			} else if !shrink(s, eval) {
				return false
			}
		}
		s.sort()
	}
	return true
}

// shrink moves every vertex but the best to x1 - (xi - x1)/2 and
// re-evaluates them (Kelley step 3f).
func shrink(s *simplex, eval evalFunc) bool {
	best := s.v[0].x
	for i := 1; i < len(s.v); i++ {
		for j := range s.v[i].x {
			s.v[i].x[j] = best[j] - (s.v[i].x[j]-best[j])/2
		}
	}
	return s.evaluate(eval, 1)
}
