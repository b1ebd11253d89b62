package matrix

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Dot returns the matrix product a·b.
func Dot(a, b *Matrix) *Matrix {
	if a.cols != b.rows {
		panic(mismatch("dot", a, b))
	}
	out := New(a.rows, b.cols)
	n, p := a.cols, b.cols
	for i := 0; i < a.rows; i++ {
		row := a.data[i*n : (i+1)*n]
		dst := out.data[i*p : (i+1)*p]
		for k, av := range row {
			src := b.data[k*p : (k+1)*p]
			for j, bv := range src {
				dst[j] += av * bv
			}
		}
	}
	return out
}

// Add returns a+b.
func Add(a, b *Matrix) *Matrix {
	if !a.SameShape(b) {
		panic(mismatch("add", a, b))
	}
	out := a.Clone()
	floats.Add(out.data, b.data)
	return out
}

// Sub returns a-b.
func Sub(a, b *Matrix) *Matrix {
	if !a.SameShape(b) {
		panic(mismatch("sub", a, b))
	}
	out := a.Clone()
	floats.Sub(out.data, b.data)
	return out
}

// MulElem returns the Hadamard product a⊙b.
func MulElem(a, b *Matrix) *Matrix {
	if !a.SameShape(b) {
		panic(mismatch("mul", a, b))
	}
	out := a.Clone()
	floats.Mul(out.data, b.data)
	return out
}

// AddInPlace adds o into m.
func (m *Matrix) AddInPlace(o *Matrix) {
	if !m.SameShape(o) {
		panic(mismatch("add", m, o))
	}
	floats.Add(m.data, o.data)
}

// AddScaledInPlace adds alpha*o into m.
func (m *Matrix) AddScaledInPlace(alpha float64, o *Matrix) {
	if !m.SameShape(o) {
		panic(mismatch("add", m, o))
	}
	floats.AddScaled(m.data, alpha, o.data)
}

// Scale returns c*m.
func (m *Matrix) Scale(c float64) *Matrix {
	out := m.Clone()
	floats.Scale(c, out.data)
	return out
}

// ScaleInPlace multiplies every element of m by c.
func (m *Matrix) ScaleInPlace(c float64) {
	floats.Scale(c, m.data)
}

// AddScalar returns m with c added to every element.
func (m *Matrix) AddScalar(c float64) *Matrix {
	out := m.Clone()
	floats.AddConst(c, out.data)
	return out
}

// Apply returns a new matrix with f applied to every element.
func (m *Matrix) Apply(f func(float64) float64) *Matrix {
	out := New(m.rows, m.cols)
	for i, v := range m.data {
		out.data[i] = f(v)
	}
	return out
}

// Transpose returns mᵀ.
func (m *Matrix) Transpose() *Matrix {
	out := New(m.cols, m.rows)
	for i := 0; i < m.rows; i++ {
		for j := 0; j < m.cols; j++ {
			out.data[j*m.rows+i] = m.data[i*m.cols+j]
		}
	}
	return out
}

// Sum returns the sum of all elements.
func (m *Matrix) Sum() float64 {
	return floats.Sum(m.data)
}

// Max returns the largest element.
func (m *Matrix) Max() float64 {
	return floats.Max(m.data)
}

// Norm returns the Frobenius norm.
func (m *Matrix) Norm() float64 {
	return floats.Norm(m.data, 2)
}

// IndexOfMax returns the row of the largest element of a single-column
// matrix. The first occurrence wins on ties.
func (m *Matrix) IndexOfMax() int {
	if m.cols != 1 {
		panic(fmt.Errorf("%w: %dx%d", ErrNotColumn, m.rows, m.cols))
	}
	return floats.MaxIdx(m.data)
}
