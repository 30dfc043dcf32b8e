package linalg

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"
)

const (
	opTranspose = "Transpose"
	opMultiply  = "Multiply"
	opSolve     = "Solve"
	opInvert    = "Invert"
	opAdd       = "Add"
)

// Transpose returns aᵗ.
func Transpose(a *Matrix) *Matrix {
	t := Zeros(a.cols, a.rows)
	for c := 0; c < a.cols; c++ {
		for r := 0; r < a.rows; r++ {
			t.data[r*t.rows+c] = a.data[c*a.rows+r]
		}
	}
	return t
}

// Multiply returns the product of an M×P matrix a and a P×N matrix b.
func Multiply(a, b *Matrix) (*Matrix, error) {
	if a.cols != b.rows {
		return nil, fmt.Errorf("%s: %w: %dx%d by %dx%d", opMultiply, ErrDimensionMismatch, a.rows, a.cols, b.rows, b.cols)
	}
	c := Zeros(a.rows, b.cols)
	if a.rows == 0 || a.cols == 0 || b.cols == 0 {
		return c, nil
	}

	// Column-major data read as row-major is the transpose, so C = A·B is
	// computed as Cᵗ = Bᵗ·Aᵗ on the same buffers.
	bt := blas64.General{Rows: b.cols, Cols: b.rows, Stride: b.rows, Data: b.data}
	at := blas64.General{Rows: a.cols, Cols: a.rows, Stride: a.rows, Data: a.data}
	ct := blas64.General{Rows: c.cols, Cols: c.rows, Stride: c.rows, Data: c.data}
	blas64.Gemm(blas.NoTrans, blas.NoTrans, 1, bt, at, 0, ct)

	return c, nil
}

// Add returns a + b.
func Add(a, b *Matrix) (*Matrix, error) {
	if a.rows != b.rows || a.cols != b.cols {
		return nil, fmt.Errorf("%s: %w: %dx%d and %dx%d", opAdd, ErrDimensionMismatch, a.rows, a.cols, b.rows, b.cols)
	}
	out := a.Clone()
	for i, v := range b.data {
		out.data[i] += v
	}
	return out, nil
}

// Scale returns alpha·a.
func Scale(alpha float64, a *Matrix) *Matrix {
	out := a.Clone()
	for i := range out.data {
		out.data[i] *= alpha
	}
	return out
}

// Solve returns x with a·x = b in the least-squares sense. Square systems
// are solved through LU, over- and under-determined ones through QR/LQ.
// An exactly singular or rank-deficient a yields ErrSingular.
func Solve(a, b *Matrix) (*Matrix, error) {
	if a.rows != b.rows {
		return nil, fmt.Errorf("%s: %w: A is %dx%d, b is %dx%d", opSolve, ErrDimensionMismatch, a.rows, a.cols, b.rows, b.cols)
	}
	if a.rows == 0 || a.cols == 0 || b.cols == 0 {
		return nil, fmt.Errorf("%s: %w: empty operand", opSolve, ErrDimensionMismatch)
	}

	var x mat.Dense
	if err := x.Solve(toDense(a), toDense(b)); err != nil {
		if !wellPosed(err) {
			return nil, fmt.Errorf("%s: %w", opSolve, ErrSingular)
		}
		slog.Debug("Solving ill-conditioned system", "op", opSolve, "error", err)
	}

	out := fromDense(&x)
	if !finite(out.data) {
		return nil, fmt.Errorf("%s: %w: non-finite solution", opSolve, ErrSingular)
	}
	return out, nil
}

// Invert returns a⁻¹ computed from an LU factorization.
func Invert(a *Matrix) (*Matrix, error) {
	if a.rows != a.cols {
		return nil, fmt.Errorf("%s: %w: %dx%d", opInvert, ErrNotSquare, a.rows, a.cols)
	}
	if a.rows == 0 {
		return Zeros(0, 0), nil
	}

	var inv mat.Dense
	if err := inv.Inverse(toDense(a)); err != nil {
		if !wellPosed(err) {
			return nil, fmt.Errorf("%s: %w", opInvert, ErrSingular)
		}
		slog.Debug("Inverting ill-conditioned matrix", "op", opInvert, "error", err)
	}

	out := fromDense(&inv)
	if !finite(out.data) {
		return nil, fmt.Errorf("%s: %w: non-finite inverse", opInvert, ErrSingular)
	}
	return out, nil
}

// wellPosed reports whether a gonum error is only an ill-conditioning
// warning. An infinite condition number means an exactly zero pivot.
func wellPosed(err error) bool {
	if errors.Is(err, mat.ErrSingular) {
		return false
	}
	var cond mat.Condition
	if errors.As(err, &cond) {
		return !math.IsInf(float64(cond), 1)
	}
	return false
}

func toDense(m *Matrix) *mat.Dense {
	d := mat.NewDense(m.rows, m.cols, nil)
	for c := 0; c < m.cols; c++ {
		for r := 0; r < m.rows; r++ {
			d.Set(r, c, m.data[c*m.rows+r])
		}
	}
	return d
}

func fromDense(d *mat.Dense) *Matrix {
	rows, cols := d.Dims()
	m := Zeros(rows, cols)
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			m.data[c*rows+r] = d.At(r, c)
		}
	}
	return m
}

func finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
