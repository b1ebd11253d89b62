package matrix

import "fmt"

// Flatten concatenates ms into a single column: channels in order, each
// channel row-major.
func Flatten(ms []*Matrix) *Matrix {
	if len(ms) == 0 {
		panic(fmt.Errorf("%w: flatten of no matrices", ErrEmpty))
	}
	n := 0
	for _, m := range ms {
		n += len(m.data)
	}
	data := make([]float64, 0, n)
	for _, m := range ms {
		data = append(data, m.data...)
	}
	return NewFromSlice(n, 1, data)
}

// Unflatten splits a column produced by Flatten back into rows×cols channels.
func Unflatten(flat *Matrix, rows, cols int) []*Matrix {
	size := rows * cols
	if size <= 0 || flat.Len()%size != 0 {
		panic(fmt.Errorf("%w: %d values into %dx%d channels", ErrDimensionMismatch, flat.Len(), rows, cols))
	}
	out := make([]*Matrix, flat.Len()/size)
	for c := range out {
		data := make([]float64, size)
		copy(data, flat.data[c*size:(c+1)*size])
		out[c] = NewFromSlice(rows, cols, data)
	}
	return out
}

// CloneAll deep-copies every matrix in ms.
func CloneAll(ms []*Matrix) []*Matrix {
	out := make([]*Matrix, len(ms))
	for i, m := range ms {
		out[i] = m.Clone()
	}
	return out
}
