// Package residual defines the model function shapes accepted by the solvers
// and evaluates residuals against a target.
package residual

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Func maps a parameter vector to an output vector.
// It must be deterministic and return the same length on every call.
type Func func(params []float64) []float64

// InputFunc maps a parameter vector and an input vector to an output vector.
type InputFunc func(params, input []float64) []float64

// Bind fixes the input of f, turning it into a Func.
func Bind(f InputFunc, input []float64) Func {
	return func(params []float64) []float64 {
		return f(params, input)
	}
}

var (
	// ErrLengthMismatch is returned when a model output does not match the target length.
	ErrLengthMismatch = errors.New("output length does not match target")

	// ErrNoSamples is returned for an empty batch.
	ErrNoSamples = errors.New("no samples")
)

// Residual is the difference between a model prediction and its target.
type Residual struct {
	Predicted []float64
	Error     []float64 // Predicted - target
}

// SumSquares returns Σ error².
func (r *Residual) SumSquares() float64 {
	return floats.Dot(r.Error, r.Error)
}

// Norm returns the L2 norm of the error.
func (r *Residual) Norm() float64 {
	return math.Sqrt(r.SumSquares())
}

// Evaluate computes f(params) - target.
func Evaluate(f Func, params, target []float64) (*Residual, error) {
	return newResidual(f(params), target)
}

// EvaluateWithInput computes f(params, input) - target.
func EvaluateWithInput(f InputFunc, params, input, target []float64) (*Residual, error) {
	return newResidual(f(params, input), target)
}

// EvaluateBatch evaluates every (input, target) pair and averages both the
// predictions and the errors across samples.
func EvaluateBatch(f InputFunc, params []float64, inputs, targets [][]float64) (*Residual, error) {
	if len(inputs) == 0 {
		return nil, ErrNoSamples
	}
	if len(inputs) != len(targets) {
		return nil, fmt.Errorf("%w: %d inputs, %d targets", ErrLengthMismatch, len(inputs), len(targets))
	}

	var sum *Residual
	for i, x := range inputs {
		r, err := EvaluateWithInput(f, params, x, targets[i])
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		if sum == nil {
			sum = &Residual{
				Predicted: append([]float64(nil), r.Predicted...),
				Error:     r.Error,
			}
			continue
		}
		if len(r.Error) != len(sum.Error) {
			return nil, fmt.Errorf("sample %d: %w: %d outputs, want %d", i, ErrLengthMismatch, len(r.Error), len(sum.Error))
		}
		floats.Add(sum.Predicted, r.Predicted)
		floats.Add(sum.Error, r.Error)
	}

	n := 1 / float64(len(inputs))
	floats.Scale(n, sum.Predicted)
	floats.Scale(n, sum.Error)
	return sum, nil
}

func newResidual(predicted, target []float64) (*Residual, error) {
	if len(predicted) != len(target) {
		return nil, fmt.Errorf("%w: got %d outputs, target has %d", ErrLengthMismatch, len(predicted), len(target))
	}
	errv := make([]float64, len(target))
	floats.SubTo(errv, predicted, target)
	return &Residual{Predicted: predicted, Error: errv}, nil
}
