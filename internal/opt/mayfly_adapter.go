package opt

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"github.com/cwbudde/mayfly"

	"github.com/cwbudde/lsqfit/internal/residual"
)

// Mayfly wraps the external Mayfly metaheuristic as a derivative-free global
// search for a starting point. It minimizes the sum of squared residuals
// inside per-parameter bounds and is meant to seed one of the local solvers.
type Mayfly struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a new Mayfly seeding search.
func NewMayfly(maxIters, popSize int, seed int64) *Mayfly {
	return &Mayfly{
		maxIters: maxIters,
		popSize:  popSize,
		seed:     seed,
	}
}

// Search returns the best parameters found inside [lower, upper] and their
// sum of squared residuals.
func (m *Mayfly) Search(f residual.Func, target, lower, upper []float64) ([]float64, float64, error) {
	dim := len(lower)
	if dim == 0 || len(upper) != dim {
		return nil, 0, fmt.Errorf("%w: bounds of length %d and %d", ErrInvalidInput, len(lower), len(upper))
	}
	for i := range lower {
		if !(upper[i] > lower[i]) {
			return nil, 0, fmt.Errorf("%w: empty bound interval for parameter %d", ErrInvalidInput, i)
		}
	}

	// The library takes scalar bounds, so the search runs on the unit cube and
	// each coordinate is mapped onto its own interval.
	toParams := func(u []float64) []float64 {
		p := make([]float64, dim)
		for i, v := range u {
			v = math.Min(1, math.Max(0, v))
			p[i] = lower[i] + v*(upper[i]-lower[i])
		}
		return p
	}
	cost := func(u []float64) float64 {
		r, err := residual.Evaluate(f, toParams(u), target)
		if err != nil {
			return math.Inf(1)
		}
		return r.SumSquares()
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = cost
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = 0
	config.UpperBound = 1
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		return nil, 0, fmt.Errorf("mayfly search failed: %w", err)
	}

	best := toParams(result.GlobalBest.Position)
	slog.Info("Seeding search complete", "iterations", m.maxIters, "population", m.popSize, "cost", result.GlobalBest.Cost)
	return best, result.GlobalBest.Cost, nil
}
