package layer

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/FlavioCFOliveira/convnet/internal/matrix"
)

// Pooling implements 2D max pooling.
// Downsamples by taking the maximum over sliding windows.
// Stores argmax indices for correct gradient flow during backward pass.
//
//	outRows = (inRows - poolSize) / stride + 1
//	outCols = (inCols - poolSize) / stride + 1
type Pooling struct {
	poolSize int
	stride   int

	in  Shape
	out Shape

	initialized bool
}

// NewPooling creates a max pooling layer.
func NewPooling(poolSize, stride int) *Pooling {
	return &Pooling{poolSize: poolSize, stride: stride}
}

// Initialize computes the pooled output shape.
func (p *Pooling) Initialize(in Shape, _ rand.Source) (Shape, error) {
	if p.poolSize <= 0 || p.stride <= 0 {
		return Shape{}, fmt.Errorf("%w: pool size %d stride %d", ErrUnsupportedConfiguration, p.poolSize, p.stride)
	}
	if !in.Valid() {
		return Shape{}, fmt.Errorf("%w: pooling input %v", ErrIncompatibleInput, in)
	}
	if p.poolSize > in.Rows || p.poolSize > in.Cols {
		return Shape{}, fmt.Errorf("%w: pool %d larger than input %v", ErrUnsupportedConfiguration, p.poolSize, in)
	}
	p.in = in
	p.out = Shape{
		Depth: in.Depth,
		Rows:  (in.Rows-p.poolSize)/p.stride + 1,
		Cols:  (in.Cols-p.poolSize)/p.stride + 1,
	}
	p.initialized = true
	return p.out, nil
}

// Forward takes the window maxima per channel. aux holds, per channel, the
// flat row-major input index of each maximum; the first maximum wins ties.
func (p *Pooling) Forward(inputs []*matrix.Matrix) ([]*matrix.Matrix, []*matrix.Matrix) {
	mustInit(p.initialized, KindPooling)
	checkInputs(KindPooling, inputs, p.in)

	outputs := make([]*matrix.Matrix, len(inputs))
	indices := make([]*matrix.Matrix, len(inputs))
	cols := p.in.Cols
	for ch, x := range inputs {
		src := x.Data()
		out := matrix.New(p.out.Rows, p.out.Cols)
		idx := matrix.New(p.out.Rows, p.out.Cols)
		for i := 0; i < p.out.Rows; i++ {
			for j := 0; j < p.out.Cols; j++ {
				r0, c0 := i*p.stride, j*p.stride
				best := r0*cols + c0
				for u := 0; u < p.poolSize; u++ {
					for v := 0; v < p.poolSize; v++ {
						k := (r0+u)*cols + c0 + v
						if src[k] > src[best] {
							best = k
						}
					}
				}
				out.Set(i, j, src[best])
				idx.Set(i, j, float64(best))
			}
		}
		outputs[ch] = out
		indices[ch] = idx
	}
	return outputs, indices
}

// Backward routes each incoming gradient to its recorded maximum; every
// other input position receives zero.
func (p *Pooling) Backward(grad, _, aux []*matrix.Matrix, _ float64, _ Gradients) []*matrix.Matrix {
	mustInit(p.initialized, KindPooling)
	dx := make([]*matrix.Matrix, len(grad))
	for ch, g := range grad {
		d := matrix.New(p.in.Rows, p.in.Cols)
		dst := d.Data()
		idx := aux[ch].Data()
		for k, v := range g.Data() {
			dst[int(idx[k])] += v
		}
		dx[ch] = d
	}
	return dx
}

// NewGradients returns an empty accumulator; pooling has no parameters.
func (p *Pooling) NewGradients() Gradients { return Gradients{} }

// Accumulate is a no-op.
func (p *Pooling) Accumulate(Gradients) {}

// Gradients returns an empty accumulator.
func (p *Pooling) Gradients() Gradients { return Gradients{} }

// UpdateWeightsAndBiases is a no-op.
func (p *Pooling) UpdateWeightsAndBiases(int) {}

// Params returns nil.
func (p *Pooling) Params() []*matrix.Matrix { return nil }

// Descriptor returns the layer hyperparameters.
func (p *Pooling) Descriptor() Descriptor {
	return Descriptor{Kind: KindPooling, PoolSize: p.poolSize, Stride: p.stride}
}

// InputShape returns the initialised input shape.
func (p *Pooling) InputShape() Shape { return p.in }

// OutputShape returns the initialised output shape.
func (p *Pooling) OutputShape() Shape { return p.out }
