package optimizer

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

type vertex struct {
	x []float64
	f float64
}

// simplex holds n+1 vertices kept sorted by ascending cost.
type simplex struct {
	v []vertex
}

// newSpendleySimplex builds the regular simplex of Spendley, Hext and
// Himsworth (1962) with x0 as the first vertex, scaled per dimension.
func newSpendleySimplex(x0, length []float64) *simplex {
	n := float64(len(x0))
	p := (n - 1 + math.Sqrt(n+1)) / (n * math.Sqrt2)
	q := (math.Sqrt(n+1) - 1) / (n * math.Sqrt2)

	s := &simplex{v: make([]vertex, len(x0)+1)}
	s.v[0] = vertex{x: clone(x0), f: math.Inf(1)}
	for i := 1; i <= len(x0); i++ {
		x := clone(x0)
		for j := range x {
			if j == i-1 {
				x[j] += length[j] * p
			} else {
				x[j] += length[j] * q
			}
		}
		s.v[i] = vertex{x: x, f: math.Inf(1)}
	}
	return s
}

func (s *simplex) sort() {
	sort.SliceStable(s.v, func(i, j int) bool { return s.v[i].f < s.v[j].f })
}

func (s *simplex) worst() vertex {
	return s.v[len(s.v)-1]
}

func (s *simplex) replaceWorst(x []float64, f float64) {
	s.v[len(s.v)-1] = vertex{x: clone(x), f: f}
}

// centroid of every vertex except the worst.
func (s *simplex) centroid() []float64 {
	n := len(s.v) - 1
	c := make([]float64, len(s.v[0].x))
	for _, v := range s.v[:n] {
		floats.Add(c, v.x)
	}
	floats.Scale(1/float64(n), c)
	return c
}

// converged reports whether every dimension spans no more than its
// tolerance.
func (s *simplex) converged(xtol []float64) bool {
	for j, tol := range xtol {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, v := range s.v {
			lo = math.Min(lo, v.x[j])
			hi = math.Max(hi, v.x[j])
		}
		if hi-lo > tol {
			return false
		}
	}
	return true
}

// evaluate fills in the cost of every vertex from index start.
func (s *simplex) evaluate(eval evalFunc, start int) bool {
	for i := start; i < len(s.v); i++ {
		f, ok := eval(s.v[i].x)
		if !ok {
			return false
		}
		s.v[i].f = f
	}
	return true
}

// along returns (1+mu)*c - mu*w.
func along(c, w []float64, mu float64) []float64 {
	x := make([]float64, len(c))
	for i := range x {
		x[i] = (1+mu)*c[i] - mu*w[i]
	}
	return x
}
