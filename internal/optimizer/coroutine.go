package optimizer

import (
	"iter"
	"math"
)

// evalFunc evaluates x and returns its cost. ok is false when the caller has
// abandoned the search; the algorithm must return promptly.
type evalFunc func(x []float64) (cost float64, ok bool)

// search turns a straight-line algorithm written against evalFunc into the
// Propose/Report protocol by running it as a coroutine.
type search struct {
	name      string
	next      func() ([]float64, bool)
	stop      func()
	pending   []float64
	cost      float64
	done      bool
	converged bool

	bestX []float64
	bestF float64
}

func newSearch(name string, run func(eval evalFunc) (converged bool)) *search {
	s := &search{name: name, bestF: math.Inf(1)}
	seq := func(yield func([]float64) bool) {
		s.converged = run(func(x []float64) (float64, bool) {
			if !yield(clone(x)) {
				return math.Inf(1), false
			}
			return s.cost, true
		})
	}
	s.next, s.stop = iter.Pull(seq)
	s.advance()
	return s
}

// advance resumes the algorithm until it proposes a point or returns.
func (s *search) advance() {
	x, ok := s.next()
	if !ok {
		s.done = true
		s.pending = nil
		return
	}
	s.pending = x
}

func (s *search) Name() string { return s.name }

func (s *search) Propose() ([]float64, bool) {
	if s.done {
		return nil, false
	}
	return clone(s.pending), true
}

func (s *search) Report(cost float64) {
	if s.done {
		return
	}
	if math.IsNaN(cost) {
		cost = math.Inf(1)
	}
	if cost < s.bestF || s.bestX == nil {
		s.bestX, s.bestF = clone(s.pending), cost
	}
	s.cost = cost
	s.advance()
}

func (s *search) Converged() bool {
	return s.done && s.converged
}

func (s *search) Best() ([]float64, float64) {
	return clone(s.bestX), s.bestF
}

func (s *search) Close() {
	s.stop()
	s.done = true
}
