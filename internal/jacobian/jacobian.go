// Package jacobian estimates Jacobians of model functions with forward
// finite differences.
//
// For parameters P and model f with M outputs, column n of the M×N result is
//
//	(f(P + d_n·e_n) - f(P)) / d_n,   d_n = max(1e-6, |P_n|·1e-4)
//
// stored column-major so that column n occupies data[n*M:(n+1)*M]. The
// baseline f(P) is evaluated once per estimate, giving N+1 evaluations.
package jacobian

import (
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/lsqfit/internal/linalg"
	"github.com/cwbudde/lsqfit/internal/residual"
)

const (
	// MinStep is the smallest perturbation used for any parameter.
	MinStep = 1e-6

	// RelativeStep scales the perturbation with the parameter magnitude.
	RelativeStep = 1e-4
)

var (
	// ErrNoParams is returned for an empty parameter vector.
	ErrNoParams = errors.New("no parameters")

	// ErrOutputLength is returned when a perturbed evaluation changes the output length.
	ErrOutputLength = errors.New("model output length changed between evaluations")

	// ErrMaskLength is returned when the mask does not cover every output.
	ErrMaskLength = errors.New("mask length does not match output length")

	// ErrNoSamples is returned by Batch for an empty input set.
	ErrNoSamples = errors.New("no input samples")
)

// Step returns the forward-difference step for a parameter value.
func Step(p float64) float64 {
	return math.Max(MinStep, math.Abs(p)*RelativeStep)
}

// Forward estimates the Jacobian of f at params. When mask is non-nil each
// gradient element is multiplied by the matching mask value.
func Forward(f residual.Func, params, mask []float64) (*linalg.Matrix, error) {
	if len(params) == 0 {
		return nil, ErrNoParams
	}

	y0 := f(params)
	if mask != nil && len(mask) != len(y0) {
		return nil, fmt.Errorf("%w: mask has %d entries, model has %d outputs", ErrMaskLength, len(mask), len(y0))
	}

	cols := make([][]float64, len(params))
	perturbed := make([]float64, len(params))
	for n, p := range params {
		copy(perturbed, params)
		d := Step(p)
		perturbed[n] += d

		y1 := f(perturbed)
		if len(y1) != len(y0) {
			return nil, fmt.Errorf("%w: parameter %d gave %d outputs, baseline %d", ErrOutputLength, n, len(y1), len(y0))
		}

		grad := make([]float64, len(y0))
		for m := range grad {
			grad[m] = (y1[m] - y0[m]) / d
			if mask != nil {
				grad[m] *= mask[m]
			}
		}
		cols[n] = grad
	}

	return linalg.FromColumns(cols)
}

// WithInput estimates the Jacobian of f with respect to params at a fixed input.
func WithInput(f residual.InputFunc, params, input []float64) (*linalg.Matrix, error) {
	return Forward(residual.Bind(f, input), params, nil)
}

// Batch estimates the Jacobian averaged over all input samples: for every
// parameter perturbation the per-sample gradients are averaged into one column.
func Batch(f residual.InputFunc, params []float64, inputs [][]float64) (*linalg.Matrix, error) {
	if len(params) == 0 {
		return nil, ErrNoParams
	}
	if len(inputs) == 0 {
		return nil, ErrNoSamples
	}

	base := make([][]float64, len(inputs))
	for s, x := range inputs {
		base[s] = f(params, x)
		if len(base[s]) != len(base[0]) {
			return nil, fmt.Errorf("%w: sample %d gave %d outputs, sample 0 gave %d", ErrOutputLength, s, len(base[s]), len(base[0]))
		}
	}
	outputs := len(base[0])
	scale := 1 / float64(len(inputs))

	cols := make([][]float64, len(params))
	perturbed := make([]float64, len(params))
	for n, p := range params {
		copy(perturbed, params)
		d := Step(p)
		perturbed[n] += d

		grad := make([]float64, outputs)
		for s, x := range inputs {
			y1 := f(perturbed, x)
			if len(y1) != outputs {
				return nil, fmt.Errorf("%w: sample %d, parameter %d", ErrOutputLength, s, n)
			}
			for m := range grad {
				grad[m] += (y1[m] - base[s][m]) / d
			}
		}
		for m := range grad {
			grad[m] *= scale
		}
		cols[n] = grad
	}

	return linalg.FromColumns(cols)
}
