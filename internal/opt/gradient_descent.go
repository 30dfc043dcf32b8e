package opt

import (
	"errors"
	"log/slog"

	"github.com/cwbudde/lsqfit/internal/linalg"
	"github.com/cwbudde/lsqfit/internal/residual"
)

// GradientDescentConfig configures diagonally scaled gradient descent.
type GradientDescentConfig struct {
	// Tolerance on the sum of squared residuals.
	Tolerance float64

	// MaxIters bounds the number of parameter updates.
	MaxIters int

	// Rate is the fixed step rate r; the system solved each iteration is
	// (1/r)·diag(JᵗJ)·Δ = -Jᵗe.
	Rate float64

	Observer Observer
}

// DefaultGradientDescentConfig returns the standard gradient-descent settings.
func DefaultGradientDescentConfig() GradientDescentConfig {
	return GradientDescentConfig{
		Tolerance: 1e-6,
		MaxIters:  10_000,
		Rate:      1,
	}
}

// GradientDescent takes fixed-rate first-order steps, each gradient component
// scaled by the matching diagonal entry of JᵗJ.
type GradientDescent struct {
	config GradientDescentConfig
}

// NewGradientDescent creates a gradient-descent optimizer.
func NewGradientDescent(config GradientDescentConfig) *GradientDescent {
	def := DefaultGradientDescentConfig()
	setIfPositive(&def.Tolerance, config.Tolerance)
	setIfPositiveInt(&def.MaxIters, config.MaxIters)
	setIfPositive(&def.Rate, config.Rate)
	def.Observer = config.Observer
	return &GradientDescent{config: def}
}

// Name implements Optimizer.
func (g *GradientDescent) Name() string { return SolverGradientDescent }

// Optimize implements Optimizer.
func (g *GradientDescent) Optimize(f residual.Func, target, params, mask []float64) (*Result, error) {
	s, err := newSystem(f, target, params, mask)
	if err != nil {
		return nil, err
	}
	return g.run(s, params)
}

// OptimizeWithInput implements Optimizer.
func (g *GradientDescent) OptimizeWithInput(f residual.InputFunc, target, params, input []float64) (*Result, error) {
	s, err := newInputSystem(f, target, params, input)
	if err != nil {
		return nil, err
	}
	return g.run(s, params)
}

// OptimizeBatch implements BatchOptimizer. The error driving each step is
// the per-output mean over all samples.
func (g *GradientDescent) OptimizeBatch(f residual.InputFunc, targets [][]float64, params []float64, inputs [][]float64) (*Result, error) {
	s, err := newBatchSystem(f, targets, params, inputs)
	if err != nil {
		return nil, err
	}
	return g.run(s, params)
}

func (g *GradientDescent) run(s *system, params []float64) (*Result, error) {
	cfg := g.config
	p := clone(params)
	res := &Result{}
	best, bestCost := p, 0.0

	for iter := 0; ; iter++ {
		r, err := s.evaluate(p)
		if err != nil {
			return nil, invalid(err)
		}
		cost := r.SumSquares()
		if iter == 0 {
			res.InitialCost = cost
			bestCost = cost
		}
		if cost < bestCost {
			best, bestCost = p, cost
		}
		if cfg.Observer != nil {
			cfg.Observer(Step{Iteration: iter, Cost: cost, Accepted: true, Params: clone(p)})
		}

		if cost < cfg.Tolerance {
			return g.finish(res, s, p, cost, iter, StatusConverged), nil
		}
		if iter >= cfg.MaxIters {
			return g.finish(res, s, p, cost, iter, StatusMaxIterations), nil
		}

		j, err := s.jacobian(p)
		if err != nil {
			return nil, invalid(err)
		}
		jtj, grad, err := normalEquations(j, r.Error)
		if err != nil {
			return nil, err
		}
		delta, err := linalg.Solve(scaledDiagonal(jtj, 1/cfg.Rate), grad)
		if err != nil {
			if errors.Is(err, linalg.ErrSingular) {
				slog.Warn("Diagonal system is singular, stopping", "solver", g.Name(), "iteration", iter, "error", err)
				return g.finish(res, s, best, bestCost, iter, StatusSingular), nil
			}
			return nil, err
		}
		p = addStep(p, delta)
	}
}

func (g *GradientDescent) finish(res *Result, s *system, p []float64, cost float64, iter int, status Status) *Result {
	res.Params = clone(p)
	res.Cost = cost
	res.Iterations = iter
	res.Evaluations = s.evals
	res.Status = status
	slog.Info("Optimization finished", "solver", g.Name(), "status", status, "iterations", iter, "cost", cost)
	return res
}
