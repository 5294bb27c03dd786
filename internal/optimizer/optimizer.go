// Package optimizer provides the derivative-free minimisers behind the
// optimisation driver. Every algorithm works on the unit hypercube and is
// driven one evaluation at a time: Propose a point, Report its cost, repeat
// until Propose returns false.
//
// Algorithms are deterministic: the same sequence of reported costs always
// yields the same sequence of proposals, which is what makes replay-based
// resume possible.
package optimizer

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Algorithm is a minimiser driven by its caller.
type Algorithm interface {
	Name() string
	// Propose returns the next point to evaluate. ok is false once the
	// algorithm has stopped, either converged or out of iterations.
	Propose() (x []float64, ok bool)
	// Report gives the cost of the most recent proposal. Non-finite costs
	// are treated as +Inf.
	Report(cost float64)
	Converged() bool
	// Best returns the lowest-cost point reported so far.
	Best() (x []float64, cost float64)
	// Close releases resources held by a running algorithm.
	Close()
}

// ErrUnknownAlgorithm is returned by New for unregistered names.
var ErrUnknownAlgorithm = errors.New("unknown algorithm")

// Factory builds an algorithm starting from x0 with per-dimension
// convergence tolerances xtol, both in normalised units.
type Factory func(x0, xtol []float64) Algorithm

var factories = map[string]Factory{
	"nm":       NewNelderMead,
	"mds":      NewMultiDirectional,
	"bobyqa":   NewBOBYQA,
	"gonum-nm": NewGonumNelderMead,
}

// maxIterationsPerDim bounds the number of major iterations at
// maxIterationsPerDim * dimension.
const maxIterationsPerDim = 500

// Names lists the registered algorithms.
func Names() []string {
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks that name refers to a registered algorithm.
func Validate(name string) error {
	if _, ok := factories[name]; !ok {
		return fmt.Errorf("%w %q (known: %v)", ErrUnknownAlgorithm, name, Names())
	}
	return nil
}

// New constructs the named algorithm.
func New(name string, x0, xtol []float64) (Algorithm, error) {
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (known: %v)", ErrUnknownAlgorithm, name, Names())
	}
	if len(x0) == 0 {
		return nil, errors.New("optimizer: empty starting point")
	}
	if len(x0) != len(xtol) {
		return nil, fmt.Errorf("optimizer: starting point has %d dimensions but %d tolerances", len(x0), len(xtol))
	}
	for i, t := range xtol {
		if !(t > 0) || math.IsInf(t, 0) {
			return nil, fmt.Errorf("optimizer: tolerance %d must be positive, got %v", i, t)
		}
	}
	return f(clone(x0), clone(xtol)), nil
}

func clone(x []float64) []float64 {
	return append([]float64(nil), x...)
}

// simplexLengths returns the per-dimension size of an initial simplex: ten
// tolerances, capped so that a centred start stays inside the unit box.
func simplexLengths(xtol []float64) []float64 {
	out := make([]float64, len(xtol))
	for i, t := range xtol {
		out[i] = math.Min(10*t, 0.5)
	}
	return out
}
