package opt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cwbudde/lsqfit/internal/residual"
)

// Optimizer refines a parameter vector so that a model matches its target in
// the least-squares sense.
//
// Errors are returned only for inconsistent inputs (empty parameters, output
// length not matching the target, bad mask). Convergence, an exhausted
// iteration budget, a singular system or runaway damping are all reported
// through Result.Status; Result.Params is always a finite parameter vector
// that was actually evaluated.
type Optimizer interface {
	// Name identifies the solver.
	Name() string

	// Optimize fits f(params) to target. mask, when non-nil, weights each
	// output's contribution to the Jacobian.
	Optimize(f residual.Func, target, params, mask []float64) (*Result, error)

	// OptimizeWithInput fits f(params, input) to target.
	OptimizeWithInput(f residual.InputFunc, target, params, input []float64) (*Result, error)
}

// BatchOptimizer fits one parameter vector to many (input, target) pairs at once
// by averaging errors and gradients across the samples.
type BatchOptimizer interface {
	OptimizeBatch(f residual.InputFunc, targets [][]float64, params []float64, inputs [][]float64) (*Result, error)
}

// Status describes how an optimization ended.
type Status string

const (
	StatusConverged      Status = "converged"
	StatusMaxIterations  Status = "max-iterations"
	StatusDampingRunaway Status = "damping-runaway"
	StatusSingular       Status = "singular"
)

// Result holds the output of one optimization call.
type Result struct {
	Params      []float64 `json:"params"`
	Cost        float64   `json:"cost"` // solver error metric at Params
	InitialCost float64   `json:"initialCost"`
	Iterations  int       `json:"iterations"`
	Evaluations int       `json:"evaluations"`
	Lambda      float64   `json:"lambda,omitempty"`
	Status      Status    `json:"status"`
}

// Step is reported to an Observer after every evaluated update.
type Step struct {
	Iteration int
	Cost      float64
	Lambda    float64
	Accepted  bool
	Params    []float64
}

// Observer receives optimization steps. It runs on the optimizing goroutine.
type Observer func(Step)

var (
	// ErrInvalidInput wraps every precondition violation.
	ErrInvalidInput = errors.New("invalid optimization input")

	// ErrUnknownSolver is returned by New for an unrecognized solver name.
	ErrUnknownSolver = errors.New("unknown solver")
)

// Settings collects the tunables of every solver. Zero fields keep the
// solver's default.
type Settings struct {
	Tolerance     float64 `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
	MaxIters      int     `json:"maxIters,omitempty" yaml:"maxIters,omitempty"`
	MaxRetries    int     `json:"maxRetries,omitempty" yaml:"maxRetries,omitempty"`
	Rate          float64 `json:"rate,omitempty" yaml:"rate,omitempty"`
	MaxLambda     float64 `json:"maxLambda,omitempty" yaml:"maxLambda,omitempty"`
	InitialLambda float64 `json:"initialLambda,omitempty" yaml:"initialLambda,omitempty"`
	UseInverse    bool    `json:"useInverse,omitempty" yaml:"useInverse,omitempty"`
}

// Solver names accepted by New.
const (
	SolverLevenbergMarquardt = "levmar"
	SolverNewton             = "newton"
	SolverGradientDescent    = "gradient"
)

// New builds the solver registered under name.
func New(name string, s Settings, observer Observer) (Optimizer, error) {
	switch strings.ToLower(name) {
	case SolverLevenbergMarquardt, "lm", "levenberg-marquardt":
		cfg := DefaultLevenbergMarquardtConfig()
		setIfPositive(&cfg.Tolerance, s.Tolerance)
		setIfPositiveInt(&cfg.MaxIters, s.MaxIters)
		setIfPositiveInt(&cfg.MaxRetries, s.MaxRetries)
		setIfPositive(&cfg.MaxLambda, s.MaxLambda)
		setIfPositive(&cfg.InitialLambda, s.InitialLambda)
		cfg.Observer = observer
		return NewLevenbergMarquardt(cfg), nil
	case SolverNewton, "gauss-newton", "gn":
		cfg := DefaultNewtonConfig()
		setIfPositive(&cfg.Tolerance, s.Tolerance)
		setIfPositiveInt(&cfg.MaxIters, s.MaxIters)
		cfg.UseInverse = s.UseInverse
		cfg.Observer = observer
		return NewNewton(cfg), nil
	case SolverGradientDescent, "gd", "gradient-descent":
		cfg := DefaultGradientDescentConfig()
		setIfPositive(&cfg.Tolerance, s.Tolerance)
		setIfPositiveInt(&cfg.MaxIters, s.MaxIters)
		setIfPositive(&cfg.Rate, s.Rate)
		cfg.Observer = observer
		return NewGradientDescent(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSolver, name)
	}
}

func setIfPositive(dst *float64, v float64) {
	if v > 0 {
		*dst = v
	}
}

func setIfPositiveInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}
