// Package matrix provides the dense 2D container all layers compute on.
//
// Storage is row-major float64. Shapes are fixed at construction; contents
// are mutable. Every accessor is bounds checked and every binary operation
// checks shape compatibility, panicking with a wrapped ErrDimensionMismatch
// or ErrIndexOutOfRange otherwise.
package matrix

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Matrix is a dense row-major matrix.
type Matrix struct {
	rows int
	cols int
	data []float64
}

// New returns a zero matrix.
func New(rows, cols int) *Matrix {
	if rows <= 0 || cols <= 0 {
		panic(fmt.Errorf("%w: %dx%d", ErrEmpty, rows, cols))
	}
	return &Matrix{rows: rows, cols: cols, data: make([]float64, rows*cols)}
}

// NewRandom returns a matrix with elements drawn uniformly from [min, max).
func NewRandom(rows, cols int, min, max float64, src rand.Source) *Matrix {
	m := New(rows, cols)
	u := distuv.Uniform{Min: min, Max: max, Src: src}
	for i := range m.data {
		m.data[i] = u.Rand()
	}
	return m
}

// NewFromSlice wraps data, which must hold exactly rows*cols values.
// The slice is used directly, not copied.
func NewFromSlice(rows, cols int, data []float64) *Matrix {
	if rows <= 0 || cols <= 0 {
		panic(fmt.Errorf("%w: %dx%d", ErrEmpty, rows, cols))
	}
	if len(data) != rows*cols {
		panic(fmt.Errorf("%w: %d values for %dx%d", ErrDimensionMismatch, len(data), rows, cols))
	}
	return &Matrix{rows: rows, cols: cols, data: data}
}

// Column returns a single-column matrix holding values.
func Column(values ...float64) *Matrix {
	data := make([]float64, len(values))
	copy(data, values)
	return NewFromSlice(len(values), 1, data)
}

// Rows returns the number of rows.
func (m *Matrix) Rows() int { return m.rows }

// Cols returns the number of columns.
func (m *Matrix) Cols() int { return m.cols }

// Len returns rows*cols.
func (m *Matrix) Len() int { return len(m.data) }

// Data exposes the backing row-major slice.
func (m *Matrix) Data() []float64 { return m.data }

// SameShape reports whether m and o have identical dimensions.
func (m *Matrix) SameShape(o *Matrix) bool {
	return m.rows == o.rows && m.cols == o.cols
}

func (m *Matrix) index(i, j int) int {
	if i < 0 || i >= m.rows || j < 0 || j >= m.cols {
		panic(fmt.Errorf("%w: (%d,%d) in %dx%d", ErrIndexOutOfRange, i, j, m.rows, m.cols))
	}
	return i*m.cols + j
}

// At returns the element at row i, column j.
func (m *Matrix) At(i, j int) float64 {
	return m.data[m.index(i, j)]
}

// Set sets the element at row i, column j.
func (m *Matrix) Set(i, j int, v float64) {
	m.data[m.index(i, j)] = v
}

// Clone returns a deep copy.
func (m *Matrix) Clone() *Matrix {
	data := make([]float64, len(m.data))
	copy(data, m.data)
	return &Matrix{rows: m.rows, cols: m.cols, data: data}
}

// Zero sets every element to zero.
func (m *Matrix) Zero() {
	for i := range m.data {
		m.data[i] = 0
	}
}

// CopyFrom copies o's contents into m.
func (m *Matrix) CopyFrom(o *Matrix) {
	if !m.SameShape(o) {
		panic(mismatch("copy", m, o))
	}
	copy(m.data, o.data)
}

// Equal reports whether m and o have the same shape and identical elements.
func (m *Matrix) Equal(o *Matrix) bool {
	return m.SameShape(o) && floats.Equal(m.data, o.data)
}

// EqualApprox reports whether m and o have the same shape and elements
// within tol of each other.
func (m *Matrix) EqualApprox(o *Matrix, tol float64) bool {
	return m.SameShape(o) && floats.EqualApprox(m.data, o.data, tol)
}

// HasNaN reports whether any element is NaN or infinite.
func (m *Matrix) HasNaN() bool {
	for _, v := range m.data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}

// String formats the matrix one row per line.
func (m *Matrix) String() string {
	var sb strings.Builder
	for i := 0; i < m.rows; i++ {
		sb.WriteByte('[')
		for j := 0; j < m.cols; j++ {
			if j > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%.4f", m.data[i*m.cols+j])
		}
		sb.WriteString("]\n")
	}
	return sb.String()
}
