package opt

import (
	"errors"
	"log/slog"
	"math"

	"github.com/cwbudde/lsqfit/internal/linalg"
	"github.com/cwbudde/lsqfit/internal/residual"
)

const (
	// dampingFactor multiplies λ on rejection and divides it on acceptance.
	dampingFactor = 10

	// lambdaScale seeds λ from the mean diagonal of JᵗJ.
	lambdaScale = 1e-3

	// minLambda keeps λ strictly positive after many acceptances.
	minLambda = 1e-300
)

// LevenbergMarquardtConfig configures the damped Gauss-Newton solver.
type LevenbergMarquardtConfig struct {
	// Tolerance on the L2 norm of the residual.
	Tolerance float64

	// MaxIters bounds the outer iterations.
	MaxIters int

	// MaxRetries bounds the damping attempts per outer iteration of Optimize.
	MaxRetries int

	// MaxLambda abandons OptimizeWithInput once λ grows past it, and ends
	// Optimize after a retry round without improvement leaves λ above it.
	MaxLambda float64

	// InitialLambda overrides the lazy 1e-3·mean(diag(JᵗJ)) start when positive.
	InitialLambda float64

	Observer Observer
}

// DefaultLevenbergMarquardtConfig returns the standard damping settings.
func DefaultLevenbergMarquardtConfig() LevenbergMarquardtConfig {
	return LevenbergMarquardtConfig{
		Tolerance:  0.01,
		MaxIters:   10_000,
		MaxRetries: 10,
		MaxLambda:  1e9,
	}
}

// LevenbergMarquardt solves (JᵗJ + λ·diag(JᵗJ))·Δ = -Jᵗe and adapts λ:
// a step that strictly lowers the error is accepted and λ shrinks tenfold,
// anything else grows λ tenfold and is retried with the same Jacobian.
type LevenbergMarquardt struct {
	config LevenbergMarquardtConfig
}

// NewLevenbergMarquardt creates a Levenberg-Marquardt optimizer.
func NewLevenbergMarquardt(config LevenbergMarquardtConfig) *LevenbergMarquardt {
	def := DefaultLevenbergMarquardtConfig()
	setIfPositive(&def.Tolerance, config.Tolerance)
	setIfPositiveInt(&def.MaxIters, config.MaxIters)
	setIfPositiveInt(&def.MaxRetries, config.MaxRetries)
	setIfPositive(&def.MaxLambda, config.MaxLambda)
	setIfPositive(&def.InitialLambda, config.InitialLambda)
	def.Observer = config.Observer
	return &LevenbergMarquardt{config: def}
}

// Name implements Optimizer.
func (lm *LevenbergMarquardt) Name() string { return SolverLevenbergMarquardt }

// Optimize implements Optimizer. Each outer iteration tries at most
// MaxRetries damping values; when none improves the iteration still counts,
// unless λ has passed MaxLambda, which ends the fit with StatusDampingRunaway.
func (lm *LevenbergMarquardt) Optimize(f residual.Func, target, params, mask []float64) (*Result, error) {
	s, err := newSystem(f, target, params, mask)
	if err != nil {
		return nil, err
	}
	return lm.run(s, params, false)
}

// OptimizeWithInput implements Optimizer. Damping grows without a retry
// bound until a step improves; once λ exceeds MaxLambda the fit is
// abandoned with StatusDampingRunaway.
func (lm *LevenbergMarquardt) OptimizeWithInput(f residual.InputFunc, target, params, input []float64) (*Result, error) {
	s, err := newInputSystem(f, target, params, input)
	if err != nil {
		return nil, err
	}
	return lm.run(s, params, true)
}

func (lm *LevenbergMarquardt) run(s *system, params []float64, untilImproved bool) (*Result, error) {
	cfg := lm.config
	p := clone(params)

	r, err := s.evaluate(p)
	if err != nil {
		return nil, invalid(err)
	}
	cost := r.Norm()
	res := &Result{InitialCost: cost}
	lambda := cfg.InitialLambda

	iter := 0
	for ; iter < cfg.MaxIters; iter++ {
		if cost < cfg.Tolerance {
			return lm.finish(res, s, p, cost, lambda, iter, StatusConverged), nil
		}

		j, err := s.jacobian(p)
		if err != nil {
			return nil, invalid(err)
		}
		jtj, g, err := normalEquations(j, r.Error)
		if err != nil {
			return nil, err
		}
		if lambda == 0 {
			lambda = initialLambda(jtj)
		}

		for attempt := 1; ; attempt++ {
			candidate, next, err := lm.trial(s, p, jtj, g, lambda)
			if err != nil {
				return nil, err
			}
			if next != nil && next.Norm() < cost {
				p, r, cost = candidate, next, next.Norm()
				lambda = math.Max(lambda/dampingFactor, minLambda)
				lm.observe(iter, cost, lambda, true, p)
				break
			}

			lambda = math.Min(lambda*dampingFactor, math.MaxFloat64)
			lm.observe(iter, cost, lambda, false, p)

			if untilImproved {
				if lambda > cfg.MaxLambda {
					slog.Warn("Damping runaway, abandoning optimization", "solver", lm.Name(), "iteration", iter, "lambda", lambda)
					return lm.finish(res, s, p, cost, lambda, iter, StatusDampingRunaway), nil
				}
				continue
			}
			if attempt >= cfg.MaxRetries {
				// A whole retry round failed; past MaxLambda the steps are
				// too small to improve, so the fit has settled.
				if lambda > cfg.MaxLambda {
					slog.Info("No improving step past damping limit, stopping", "solver", lm.Name(), "iteration", iter, "lambda", lambda)
					return lm.finish(res, s, p, cost, lambda, iter, StatusDampingRunaway), nil
				}
				slog.Debug("No improving step within retry budget", "iteration", iter, "lambda", lambda)
				break
			}
		}
		slog.Debug("Levenberg-Marquardt iteration", "iteration", iter, "cost", cost, "lambda", lambda)
	}

	status := StatusMaxIterations
	if cost < cfg.Tolerance {
		status = StatusConverged
	}
	return lm.finish(res, s, p, cost, lambda, iter, status), nil
}

// trial solves the damped system for one λ and evaluates the candidate.
// A singular system yields a nil residual, which the caller treats as a
// rejected step.
func (lm *LevenbergMarquardt) trial(s *system, p []float64, jtj, g *linalg.Matrix, lambda float64) ([]float64, *residual.Residual, error) {
	a, err := linalg.Add(jtj, scaledDiagonal(jtj, lambda))
	if err != nil {
		return nil, nil, err
	}
	delta, err := linalg.Solve(a, g)
	if err != nil {
		if errors.Is(err, linalg.ErrSingular) {
			slog.Debug("Damped system is singular", "lambda", lambda)
			return nil, nil, nil
		}
		return nil, nil, err
	}

	candidate := addStep(p, delta)
	next, err := s.evaluate(candidate)
	if err != nil {
		return nil, nil, invalid(err)
	}
	return candidate, next, nil
}

func (lm *LevenbergMarquardt) observe(iter int, cost, lambda float64, accepted bool, p []float64) {
	if lm.config.Observer == nil {
		return
	}
	lm.config.Observer(Step{
		Iteration: iter,
		Cost:      cost,
		Lambda:    lambda,
		Accepted:  accepted,
		Params:    clone(p),
	})
}

func (lm *LevenbergMarquardt) finish(res *Result, s *system, p []float64, cost, lambda float64, iter int, status Status) *Result {
	res.Params = clone(p)
	res.Cost = cost
	res.Lambda = lambda
	res.Iterations = iter
	res.Evaluations = s.evals
	res.Status = status
	slog.Info("Optimization finished", "solver", lm.Name(), "status", status, "iterations", iter, "cost", cost, "lambda", lambda)
	return res
}

// initialLambda returns 1e-3 times the mean diagonal of JᵗJ. A flat Jacobian
// has a zero diagonal, in which case lambdaScale itself is used so λ stays
// positive.
func initialLambda(jtj *linalg.Matrix) float64 {
	d := jtj.Diag()
	var sum float64
	for _, v := range d {
		sum += v
	}
	lambda := sum / float64(len(d)) * lambdaScale
	if !(lambda > 0) || math.IsInf(lambda, 0) {
		return lambdaScale
	}
	return lambda
}
