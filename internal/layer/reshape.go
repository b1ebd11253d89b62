package layer

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/FlavioCFOliveira/convnet/internal/matrix"
)

// Reshape flattens channel feature maps into one column so convolutional
// layers can feed fully connected ones. Backward restores the channel shape.
type Reshape struct {
	in  Shape
	out Shape

	initialized bool
}

// NewReshape creates a reshape layer.
func NewReshape() *Reshape {
	return &Reshape{}
}

// Initialize records the channel shape and returns the flat shape.
func (r *Reshape) Initialize(in Shape, _ rand.Source) (Shape, error) {
	if !in.Valid() {
		return Shape{}, fmt.Errorf("%w: reshape input %v", ErrIncompatibleInput, in)
	}
	r.in = in
	r.out = Shape{Depth: 1, Rows: in.Size(), Cols: 1}
	r.initialized = true
	return r.out, nil
}

// Forward flattens the inputs. There is no auxiliary state.
func (r *Reshape) Forward(inputs []*matrix.Matrix) ([]*matrix.Matrix, []*matrix.Matrix) {
	mustInit(r.initialized, KindReshape)
	checkInputs(KindReshape, inputs, r.in)
	return []*matrix.Matrix{matrix.Flatten(inputs)}, nil
}

// Backward splits the gradient back into the original channels.
func (r *Reshape) Backward(grad, _, _ []*matrix.Matrix, _ float64, _ Gradients) []*matrix.Matrix {
	mustInit(r.initialized, KindReshape)
	return matrix.Unflatten(grad[0], r.in.Rows, r.in.Cols)
}

// NewGradients returns an empty accumulator.
func (r *Reshape) NewGradients() Gradients { return Gradients{} }

// Accumulate is a no-op.
func (r *Reshape) Accumulate(Gradients) {}

// Gradients returns an empty accumulator.
func (r *Reshape) Gradients() Gradients { return Gradients{} }

// UpdateWeightsAndBiases is a no-op.
func (r *Reshape) UpdateWeightsAndBiases(int) {}

// Params returns nil.
func (r *Reshape) Params() []*matrix.Matrix { return nil }

// Descriptor returns the layer kind.
func (r *Reshape) Descriptor() Descriptor { return Descriptor{Kind: KindReshape} }

// InputShape returns the initialised input shape.
func (r *Reshape) InputShape() Shape { return r.in }

// OutputShape returns the initialised output shape.
func (r *Reshape) OutputShape() Shape { return r.out }
