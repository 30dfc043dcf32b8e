// Package linalg provides the small dense linear-algebra kernel set used by the
// solvers: transpose, multiply, solve and invert over column-major matrices.
//
// Matrices are stored column-major, so element (r, c) of an r×c matrix lives
// at data[c*rows+r]. A Jacobian assembled column by column is therefore a
// valid Matrix without any reordering. The numeric work is delegated to gonum's
// BLAS and LAPACK implementations.
package linalg

import (
	"errors"
	"fmt"
)

var (
	// ErrDimensionMismatch is returned when operand shapes are not conformable.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrSingular is returned when a factorization hits an exactly singular
	// (or rank-deficient) matrix.
	ErrSingular = errors.New("matrix is singular")

	// ErrNotSquare is returned by operations that need a square matrix.
	ErrNotSquare = errors.New("matrix is not square")
)

// Matrix is a dense column-major matrix.
type Matrix struct {
	data []float64
	rows int
	cols int
}

// NewMatrix creates a rows×cols matrix from column-major data.
// The data is copied. A nil slice yields a zero matrix.
func NewMatrix(rows, cols int, data []float64) (*Matrix, error) {
	if rows < 0 || cols < 0 {
		return nil, fmt.Errorf("NewMatrix: %w: negative shape %dx%d", ErrDimensionMismatch, rows, cols)
	}
	m := Zeros(rows, cols)
	if data == nil {
		return m, nil
	}
	if len(data) != rows*cols {
		return nil, fmt.Errorf("NewMatrix: %w: %d values for %dx%d", ErrDimensionMismatch, len(data), rows, cols)
	}
	copy(m.data, data)
	return m, nil
}

// Zeros returns a rows×cols zero matrix. It panics on a negative shape.
func Zeros(rows, cols int) *Matrix {
	if rows < 0 || cols < 0 {
		panic(fmt.Sprintf("linalg: negative shape %dx%d", rows, cols))
	}
	return &Matrix{
		data: make([]float64, rows*cols),
		rows: rows,
		cols: cols,
	}
}

// Identity returns the n×n identity matrix.
func Identity(n int) *Matrix {
	m := Zeros(n, n)
	for i := 0; i < n; i++ {
		m.data[i*n+i] = 1
	}
	return m
}

// ColumnVector returns len(v)×1 matrix holding a copy of v.
func ColumnVector(v []float64) *Matrix {
	m := Zeros(len(v), 1)
	copy(m.data, v)
	return m
}

// Diagonal returns a square matrix with v on its diagonal.
func Diagonal(v []float64) *Matrix {
	n := len(v)
	m := Zeros(n, n)
	for i, x := range v {
		m.data[i*n+i] = x
	}
	return m
}

// FromColumns builds a matrix from equally sized columns.
func FromColumns(cols [][]float64) (*Matrix, error) {
	if len(cols) == 0 {
		return Zeros(0, 0), nil
	}
	rows := len(cols[0])
	m := Zeros(rows, len(cols))
	for c, col := range cols {
		if len(col) != rows {
			return nil, fmt.Errorf("FromColumns: %w: column %d has %d rows, want %d", ErrDimensionMismatch, c, len(col), rows)
		}
		copy(m.data[c*rows:(c+1)*rows], col)
	}
	return m, nil
}

// Rows returns the number of rows.
func (m *Matrix) Rows() int { return m.rows }

// Cols returns the number of columns.
func (m *Matrix) Cols() int { return m.cols }

// Dims returns rows and columns.
func (m *Matrix) Dims() (int, int) { return m.rows, m.cols }

// At returns element (r, c).
func (m *Matrix) At(r, c int) float64 {
	m.check(r, c)
	return m.data[c*m.rows+r]
}

// Set stores v at (r, c).
func (m *Matrix) Set(r, c int, v float64) {
	m.check(r, c)
	m.data[c*m.rows+r] = v
}

// Col returns a copy of column c.
func (m *Matrix) Col(c int) []float64 {
	m.check(0, c)
	out := make([]float64, m.rows)
	copy(out, m.data[c*m.rows:(c+1)*m.rows])
	return out
}

// Diag returns a copy of the main diagonal.
func (m *Matrix) Diag() []float64 {
	n := min(m.rows, m.cols)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = m.data[i*m.rows+i]
	}
	return out
}

// Data returns a copy of the column-major backing data.
func (m *Matrix) Data() []float64 {
	out := make([]float64, len(m.data))
	copy(out, m.data)
	return out
}

// Clone returns a deep copy of m.
func (m *Matrix) Clone() *Matrix {
	return &Matrix{data: m.Data(), rows: m.rows, cols: m.cols}
}

func (m *Matrix) check(r, c int) {
	if r < 0 || r >= m.rows || c < 0 || c >= m.cols {
		panic(fmt.Sprintf("linalg: index (%d,%d) out of range for %dx%d", r, c, m.rows, m.cols))
	}
}
