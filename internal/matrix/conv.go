package matrix

import "fmt"

// Rotate180 returns m with both axes reversed.
func Rotate180(m *Matrix) *Matrix {
	out := New(m.rows, m.cols)
	n := len(m.data)
	for i, v := range m.data {
		out.data[n-1-i] = v
	}
	return out
}

// Pad returns m surrounded by p rows and columns of zeros on every side.
func Pad(m *Matrix, p int) *Matrix {
	if p < 0 {
		panic(fmt.Errorf("%w: negative padding %d", ErrDimensionMismatch, p))
	}
	out := New(m.rows+2*p, m.cols+2*p)
	for i := 0; i < m.rows; i++ {
		copy(out.data[(i+p)*out.cols+p:(i+p)*out.cols+p+m.cols], m.data[i*m.cols:(i+1)*m.cols])
	}
	return out
}

// CrossCorrelationValid slides kernel over input without padding.
//
// Output shape per axis is (in-k)/stride + 1, truncating.
func CrossCorrelationValid(input, kernel *Matrix, stride int) *Matrix {
	if stride < 1 {
		panic(fmt.Errorf("%w: stride %d", ErrDimensionMismatch, stride))
	}
	if kernel.rows > input.rows || kernel.cols > input.cols {
		panic(mismatch("cross-correlation", input, kernel))
	}
	outRows := (input.rows-kernel.rows)/stride + 1
	outCols := (input.cols-kernel.cols)/stride + 1
	out := New(outRows, outCols)
	kr, kc, ic := kernel.rows, kernel.cols, input.cols
	for i := 0; i < outRows; i++ {
		for j := 0; j < outCols; j++ {
			r0, c0 := i*stride, j*stride
			sum := 0.0
			for u := 0; u < kr; u++ {
				in := input.data[(r0+u)*ic+c0 : (r0+u)*ic+c0+kc]
				k := kernel.data[u*kc : (u+1)*kc]
				for v, kv := range k {
					sum += in[v] * kv
				}
			}
			out.data[i*outCols+j] = sum
		}
	}
	return out
}

// ConvolutionFull convolves input with kernel over every overlap.
//
// The kernel is flipped 180° and input positions outside the matrix read as
// zero. With stride s the input is treated as dilated by s, which makes this
// the adjoint of CrossCorrelationValid with the same kernel and stride.
// Output shape per axis is (in-1)*stride + k, i.e. in+k-1 at stride 1.
func ConvolutionFull(input, kernel *Matrix, stride int) *Matrix {
	if stride < 1 {
		panic(fmt.Errorf("%w: stride %d", ErrDimensionMismatch, stride))
	}
	outRows := (input.rows-1)*stride + kernel.rows
	outCols := (input.cols-1)*stride + kernel.cols
	out := New(outRows, outCols)
	kc := kernel.cols
	for i := 0; i < input.rows; i++ {
		for j := 0; j < input.cols; j++ {
			v := input.data[i*input.cols+j]
			r0, c0 := i*stride, j*stride
			for u := 0; u < kernel.rows; u++ {
				dst := out.data[(r0+u)*outCols+c0 : (r0+u)*outCols+c0+kc]
				k := kernel.data[u*kc : (u+1)*kc]
				for w, kv := range k {
					dst[w] += v * kv
				}
			}
		}
	}
	return out
}
