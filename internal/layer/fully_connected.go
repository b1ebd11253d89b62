package layer

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/FlavioCFOliveira/convnet/internal/activations"
	"github.com/FlavioCFOliveira/convnet/internal/matrix"
)

// MaxGradientNorm bounds the Frobenius norm of a batch-averaged weight update.
const MaxGradientNorm = 0.5

// FullyConnected is a dense layer: activation(W·x + b).
//
// Weights are layerSize×prevSize and biases layerSize×1. Weight
// initialisation follows the activation: He for ReLU, Xavier otherwise.
type FullyConnected struct {
	size int
	act  activations.Activation

	in  Shape
	out Shape

	weights *matrix.Matrix
	biases  *matrix.Matrix

	// accumulator, same order as Params
	acc Gradients

	initialized bool
}

// NewFullyConnected creates a dense layer with size output units.
func NewFullyConnected(size int, act activations.Activation) *FullyConnected {
	return &FullyConnected{size: size, act: act}
}

// Initialize allocates weights for a flat input of in.Rows values.
func (d *FullyConnected) Initialize(in Shape, src rand.Source) (Shape, error) {
	if d.size <= 0 {
		return Shape{}, fmt.Errorf("%w: fully connected size %d", ErrUnsupportedConfiguration, d.size)
	}
	if !in.Flat() || !in.Valid() {
		return Shape{}, fmt.Errorf("%w: fully connected layer needs a flat input, got %v", ErrIncompatibleInput, in)
	}
	prev := in.Rows
	if activations.PrefersHe(d.act) {
		d.weights = matrix.He(d.size, prev, prev, src)
	} else {
		d.weights = matrix.Xavier(d.size, prev, prev, d.size, src)
	}
	d.biases = matrix.New(d.size, 1)
	d.acc = zerosLike(d.Params())
	d.in = in
	d.out = Shape{Depth: 1, Rows: d.size, Cols: 1}
	d.initialized = true
	return d.out, nil
}

// Forward computes activation(W·x + b). The pre-activation is returned as aux.
func (d *FullyConnected) Forward(inputs []*matrix.Matrix) ([]*matrix.Matrix, []*matrix.Matrix) {
	mustInit(d.initialized, KindFullyConnected)
	checkInputs(KindFullyConnected, inputs, d.in)
	z := matrix.Dot(d.weights, inputs[0])
	z.AddInPlace(d.biases)
	return []*matrix.Matrix{d.act.Activate(z)}, []*matrix.Matrix{z}
}

// Backward accumulates ΔW += (dz·lr)·xᵀ and Δb += dz·lr where
// dz = activation'(z) ⊙ err, and returns Wᵀ·dz without the learning rate.
func (d *FullyConnected) Backward(grad, inputs, aux []*matrix.Matrix, learningRate float64, acc Gradients) []*matrix.Matrix {
	mustInit(d.initialized, KindFullyConnected)
	if acc == nil {
		acc = d.acc
	}
	dz := matrix.MulElem(d.act.Derivative(aux[0]), grad[0])
	scaled := dz.Scale(learningRate)
	acc[0].AddInPlace(matrix.Dot(scaled, inputs[0].Transpose()))
	acc[1].AddInPlace(scaled)
	return []*matrix.Matrix{matrix.Dot(d.weights.Transpose(), dz)}
}

// NewGradients returns a zero accumulator shaped like the parameters.
func (d *FullyConnected) NewGradients() Gradients {
	mustInit(d.initialized, KindFullyConnected)
	return zerosLike(d.Params())
}

// Accumulate merges g into the layer accumulator.
func (d *FullyConnected) Accumulate(g Gradients) {
	d.acc.Add(g)
}

// Gradients returns the layer accumulator.
func (d *FullyConnected) Gradients() Gradients {
	return d.acc
}

// UpdateWeightsAndBiases subtracts the batch-averaged accumulator.
// The weight step is clipped to MaxGradientNorm.
func (d *FullyConnected) UpdateWeightsAndBiases(batchSize int) {
	mustInit(d.initialized, KindFullyConnected)
	inv := 1 / float64(batchSize)
	dw := d.acc[0].Scale(inv)
	if norm := dw.Norm(); norm > MaxGradientNorm {
		dw.ScaleInPlace(MaxGradientNorm / norm)
	}
	d.weights.AddScaledInPlace(-1, dw)
	d.biases.AddScaledInPlace(-inv, d.acc[1])
	d.acc.Zero()
}

// Params returns weights then biases.
func (d *FullyConnected) Params() []*matrix.Matrix {
	return []*matrix.Matrix{d.weights, d.biases}
}

// Weights returns the weight matrix.
func (d *FullyConnected) Weights() *matrix.Matrix { return d.weights }

// Biases returns the bias column.
func (d *FullyConnected) Biases() *matrix.Matrix { return d.biases }

// Activation returns the activation function used by this layer.
func (d *FullyConnected) Activation() activations.Activation { return d.act }

// Descriptor returns the layer hyperparameters.
func (d *FullyConnected) Descriptor() Descriptor {
	return Descriptor{Kind: KindFullyConnected, Size: d.size, Activation: d.act.String()}
}

// InputShape returns the initialised input shape.
func (d *FullyConnected) InputShape() Shape { return d.in }

// OutputShape returns the initialised output shape.
func (d *FullyConnected) OutputShape() Shape { return d.out }
