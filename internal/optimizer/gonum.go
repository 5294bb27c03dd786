package optimizer

import (
	"math"

	"gonum.org/v1/gonum/optimize"
)

// NewGonumNelderMead runs gonum's Nelder-Mead implementation under the
// Propose/Report protocol. gonum's method is driven through its Task
// channels directly, so each function evaluation becomes one proposal.
//
// gonum does not expose its simplex, so convergence is judged on the
// evaluated points: the search stops once the last 2(n+1) evaluations span
// no more than the tolerance in every dimension.
func NewGonumNelderMead(x0, xtol []float64) Algorithm {
	return newSearch("gonum-nm", func(eval evalFunc) bool {
		return gonumNelderMead(x0, xtol, eval)
	})
}

func gonumNelderMead(x0, xtol []float64, eval evalFunc) bool {
	n := len(x0)
	size := math.Inf(1)
	for _, l := range simplexLengths(xtol) {
		size = math.Min(size, l)
	}
	method := &optimize.NelderMead{SimplexSize: size}
	method.Init(n, 1)

	operation := make(chan optimize.Task)
	result := make(chan optimize.Task)
	start := optimize.Task{
		ID:       0,
		Op:       optimize.NoOperation,
		Location: &optimize.Location{X: clone(x0), F: math.NaN()},
	}
	go method.Run(operation, result, []optimize.Task{start})

	// finish tells the method to stop and waits for it to close operation.
	finish := func() {
		result <- optimize.Task{Op: optimize.PostIteration}
		close(result)
		for range operation {
		}
	}

	window := newPointWindow(2*(n+1), n)
	major := 0
	for task := range operation {
		switch task.Op {
		case optimize.FuncEvaluation:
			f, ok := eval(task.X)
			if !ok {
				finish()
				return false
			}
			if math.IsNaN(f) {
				f = math.Inf(1)
			}
			window.add(task.X)
			task.F = f
			result <- task

		case optimize.MajorIteration:
			major++
			if window.within(xtol) {
				finish()
				return true
			}
			if major >= maxIterationsPerDim*n {
				finish()
				return false
			}
			result <- task

		case optimize.MethodDone:
			// The method failed, typically on a non-finite starting cost.
			finish()
			return false

		default:
			result <- task
		}
	}
	close(result)
	return false
}

// pointWindow keeps the last size points seen.
type pointWindow struct {
	pts  [][]float64
	size int
	dim  int
}

func newPointWindow(size, dim int) *pointWindow {
	return &pointWindow{size: size, dim: dim}
}

func (w *pointWindow) add(x []float64) {
	w.pts = append(w.pts, clone(x))
	if len(w.pts) > w.size {
		w.pts = w.pts[1:]
	}
}

func (w *pointWindow) within(xtol []float64) bool {
	if len(w.pts) < w.size {
		return false
	}
	for j := 0; j < w.dim; j++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, p := range w.pts {
			lo = math.Min(lo, p[j])
			hi = math.Max(hi, p[j])
		}
		if hi-lo > xtol[j] {
			return false
		}
	}
	return true
}
