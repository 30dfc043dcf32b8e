package opt

import (
	"errors"
	"log/slog"

	"github.com/cwbudde/lsqfit/internal/linalg"
	"github.com/cwbudde/lsqfit/internal/residual"
)

// NewtonConfig configures Gauss-Newton iteration.
type NewtonConfig struct {
	// Tolerance on the sum of squared residuals.
	Tolerance float64

	// MaxIters bounds the number of parameter updates.
	MaxIters int

	// UseInverse computes the step through an explicit inverse of JᵗJ
	// instead of solving the normal equations.
	UseInverse bool

	Observer Observer
}

// DefaultNewtonConfig returns the standard Gauss-Newton settings.
func DefaultNewtonConfig() NewtonConfig {
	return NewtonConfig{
		Tolerance: 1e-5,
		MaxIters:  10_000,
	}
}

// Newton is undamped Gauss-Newton iteration. Every solved step is applied, so
// ill-conditioned problems may diverge.
type Newton struct {
	config NewtonConfig
}

// NewNewton creates a Gauss-Newton optimizer.
func NewNewton(config NewtonConfig) *Newton {
	def := DefaultNewtonConfig()
	setIfPositive(&def.Tolerance, config.Tolerance)
	setIfPositiveInt(&def.MaxIters, config.MaxIters)
	def.UseInverse = config.UseInverse
	def.Observer = config.Observer
	return &Newton{config: def}
}

// Name implements Optimizer.
func (n *Newton) Name() string { return SolverNewton }

// Optimize implements Optimizer.
func (n *Newton) Optimize(f residual.Func, target, params, mask []float64) (*Result, error) {
	s, err := newSystem(f, target, params, mask)
	if err != nil {
		return nil, err
	}
	return n.run(s, params)
}

// OptimizeWithInput implements Optimizer.
func (n *Newton) OptimizeWithInput(f residual.InputFunc, target, params, input []float64) (*Result, error) {
	s, err := newInputSystem(f, target, params, input)
	if err != nil {
		return nil, err
	}
	return n.run(s, params)
}

func (n *Newton) run(s *system, params []float64) (*Result, error) {
	cfg := n.config
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
		slog.Debug("Newton iteration", "iteration", iter, "cost", cost)

		if cost < cfg.Tolerance {
			return n.finish(res, s, p, cost, iter, StatusConverged), nil
		}
		if iter >= cfg.MaxIters {
			return n.finish(res, s, p, cost, iter, StatusMaxIterations), nil
		}

		j, err := s.jacobian(p)
		if err != nil {
			return nil, invalid(err)
		}
		delta, err := n.step(j, r.Error)
		if err != nil {
			if errors.Is(err, linalg.ErrSingular) {
				slog.Warn("Normal equations are singular, stopping", "solver", n.Name(), "iteration", iter, "error", err)
				return n.finish(res, s, best, bestCost, iter, StatusSingular), nil
			}
			return nil, err
		}
		p = addStep(p, delta)
	}
}

func (n *Newton) step(j *linalg.Matrix, e []float64) (*linalg.Matrix, error) {
	jtj, g, err := normalEquations(j, e)
	if err != nil {
		return nil, err
	}
	if !n.config.UseInverse {
		return linalg.Solve(jtj, g)
	}
	inv, err := linalg.Invert(jtj)
	if err != nil {
		return nil, err
	}
	return linalg.Multiply(inv, g)
}

func (n *Newton) finish(res *Result, s *system, p []float64, cost float64, iter int, status Status) *Result {
	res.Params = clone(p)
	res.Cost = cost
	res.Iterations = iter
	res.Evaluations = s.evals
	res.Status = status
	slog.Info("Optimization finished", "solver", n.Name(), "status", status, "iterations", iter, "cost", cost)
	return res
}
