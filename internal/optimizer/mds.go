package optimizer

const (
	mdsExpand   = 2.0
	mdsContract = 0.5
)

// NewMultiDirectional returns a multidirectional search (Kelley algorithm
// 8.2.1). Each iteration reflects, and possibly expands, every edge from the
// best vertex, so it costs n or 2n evaluations.
func NewMultiDirectional(x0, xtol []float64) Algorithm {
	return newSearch("mds", func(eval evalFunc) bool {
		return multiDirectional(x0, xtol, eval)
	})
}

func multiDirectional(x0, xtol []float64, eval evalFunc) bool {
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
		best := s.v[0]

		reflected, ok := mdsStep(s, best.x, -1, eval)
		if !ok {
			return false
		}
		if best.f > minCost(reflected) {
			expanded, ok := mdsStep(s, best.x, -mdsExpand, eval)
			if !ok {
				return false
			}
			if minCost(reflected) > minCost(expanded) {
				copy(s.v[1:], expanded)
			} else {
				copy(s.v[1:], reflected)
			}
		} else {
			contracted, ok := mdsStep(s, best.x, mdsContract, eval)
			if !ok {
				return false
			}
			copy(s.v[1:], contracted)
		}
		s.sort()
	}
	return true
}

// mdsStep evaluates best + mu*(xj - best) for every non-best vertex.
func mdsStep(s *simplex, best []float64, mu float64, eval evalFunc) ([]vertex, bool) {
	out := make([]vertex, 0, len(s.v)-1)
	for _, v := range s.v[1:] {
		x := make([]float64, len(best))
		for j := range x {
			x[j] = best[j] + mu*(v.x[j]-best[j])
		}
		f, ok := eval(x)
		if !ok {
			return nil, false
		}
		out = append(out, vertex{x: x, f: f})
	}
	return out, true
}

func minCost(vs []vertex) float64 {
	m := vs[0].f
	for _, v := range vs[1:] {
		if v.f < m {
			m = v.f
		}
	}
	return m
}
