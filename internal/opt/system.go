package opt

import (
	"fmt"

	"github.com/cwbudde/lsqfit/internal/jacobian"
	"github.com/cwbudde/lsqfit/internal/linalg"
	"github.com/cwbudde/lsqfit/internal/residual"
)

// system binds a model, its target and the Jacobian strategy for one call.
// It owns the evaluation counter; nothing in it is shared between calls.
type system struct {
	evaluate func(p []float64) (*residual.Residual, error)
	jacobian func(p []float64) (*linalg.Matrix, error)
	evals    int
}

func newSystem(f residual.Func, target, params, mask []float64) (*system, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("%w: empty parameter vector", ErrInvalidInput)
	}
	if mask != nil && len(mask) != len(target) {
		return nil, fmt.Errorf("%w: mask has %d entries, target has %d", ErrInvalidInput, len(mask), len(target))
	}

	s := &system{}
	counted := func(p []float64) []float64 {
		s.evals++
		return f(p)
	}
	s.evaluate = func(p []float64) (*residual.Residual, error) {
		return residual.Evaluate(counted, p, target)
	}
	s.jacobian = func(p []float64) (*linalg.Matrix, error) {
		return jacobian.Forward(counted, p, mask)
	}
	return s, nil
}

func newInputSystem(f residual.InputFunc, target, params, input []float64) (*system, error) {
	return newSystem(residual.Bind(f, input), target, params, nil)
}

func newBatchSystem(f residual.InputFunc, targets [][]float64, params []float64, inputs [][]float64) (*system, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("%w: empty parameter vector", ErrInvalidInput)
	}
	if len(inputs) == 0 || len(inputs) != len(targets) {
		return nil, fmt.Errorf("%w: %d inputs, %d targets", ErrInvalidInput, len(inputs), len(targets))
	}

	s := &system{}
	counted := func(p, x []float64) []float64 {
		s.evals++
		return f(p, x)
	}
	s.evaluate = func(p []float64) (*residual.Residual, error) {
		return residual.EvaluateBatch(counted, p, inputs, targets)
	}
	s.jacobian = func(p []float64) (*linalg.Matrix, error) {
		return jacobian.Batch(counted, p, inputs)
	}
	return s, nil
}

// normalEquations returns JᵗJ and -Jᵗe.
func normalEquations(j *linalg.Matrix, e []float64) (*linalg.Matrix, *linalg.Matrix, error) {
	jt := linalg.Transpose(j)
	jtj, err := linalg.Multiply(jt, j)
	if err != nil {
		return nil, nil, err
	}
	jte, err := linalg.Multiply(jt, linalg.ColumnVector(e))
	if err != nil {
		return nil, nil, err
	}
	return jtj, linalg.Scale(-1, jte), nil
}

// scaledDiagonal returns alpha·diag(m) as a square matrix.
func scaledDiagonal(m *linalg.Matrix, alpha float64) *linalg.Matrix {
	d := m.Diag()
	for i := range d {
		d[i] *= alpha
	}
	return linalg.Diagonal(d)
}

func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidInput, err)
}

func addStep(p []float64, delta *linalg.Matrix) []float64 {
	next := make([]float64, len(p))
	for i := range p {
		next[i] = p[i] + delta.At(i, 0)
	}
	return next
}

func clone(p []float64) []float64 {
	return append([]float64(nil), p...)
}
