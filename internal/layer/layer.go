// Package layer provides neural network layer implementations.
//
// Every layer follows the same lifecycle: Initialize once with the shape
// produced by the previous layer, then any number of Forward/Backward pairs
// whose parameter gradients are summed into an accumulator, then
// UpdateWeightsAndBiases at each batch boundary to apply and reset it.
package layer

import (
	"errors"
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/FlavioCFOliveira/convnet/internal/activations"
	"github.com/FlavioCFOliveira/convnet/internal/matrix"
)

var (
	// ErrUnsupportedConfiguration is returned for hyperparameters the layer
	// cannot honour, such as a convolution stride other than 1.
	ErrUnsupportedConfiguration = errors.New("unsupported layer configuration")
	// ErrIncompatibleInput is returned when the incoming shape cannot feed the layer.
	ErrIncompatibleInput = errors.New("incompatible layer input")
)

// Kind names a layer variant.
type Kind string

const (
	KindFullyConnected Kind = "FullyConnected"
	KindConvolution    Kind = "Convolution"
	KindPooling        Kind = "Pooling"
	KindDropout        Kind = "Dropout"
	KindReshape        Kind = "Reshape"
)

// Spatial reports whether the kind operates on channel feature maps.
func (k Kind) Spatial() bool {
	return k == KindConvolution || k == KindPooling
}

// Shape is the shape of the matrices flowing between layers:
// Depth channels of Rows×Cols each. A flat vector is {1, n, 1}.
type Shape struct {
	Depth int
	Rows  int
	Cols  int
}

// Flat reports whether s describes a single column vector.
func (s Shape) Flat() bool {
	return s.Depth == 1 && s.Cols == 1
}

// Size returns the total number of elements.
func (s Shape) Size() int {
	return s.Depth * s.Rows * s.Cols
}

// Valid reports whether every dimension is positive.
func (s Shape) Valid() bool {
	return s.Depth > 0 && s.Rows > 0 && s.Cols > 0
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d, %d, %d)", s.Depth, s.Rows, s.Cols)
}

// Descriptor is the hyperparameter record of a layer. It is enough to
// rebuild the layer given its input shape.
type Descriptor struct {
	Kind        Kind
	Size        int
	KernelSize  int
	Depth       int
	Stride      int
	PoolSize    int
	Activation  string
	DropoutRate float64
}

// Gradients holds one accumulator per trainable parameter, in Params order.
type Gradients []*matrix.Matrix

// Add sums o into g elementwise.
func (g Gradients) Add(o Gradients) {
	if len(g) != len(o) {
		panic(fmt.Errorf("%w: %d gradients with %d", matrix.ErrDimensionMismatch, len(g), len(o)))
	}
	for i := range g {
		g[i].AddInPlace(o[i])
	}
}

// Zero resets every accumulator.
func (g Gradients) Zero() {
	for _, m := range g {
		m.Zero()
	}
}

// Clone deep-copies the accumulators.
func (g Gradients) Clone() Gradients {
	return Gradients(matrix.CloneAll(g))
}

func zerosLike(params []*matrix.Matrix) Gradients {
	g := make(Gradients, len(params))
	for i, p := range params {
		g[i] = matrix.New(p.Rows(), p.Cols())
	}
	return g
}

// Layer is a neural network layer.
type Layer interface {
	// Initialize allocates parameters and accumulators for the given input
	// shape and returns the output shape. Calling it again re-draws the
	// parameters.
	Initialize(in Shape, src rand.Source) (Shape, error)

	// Forward returns the activated outputs and the auxiliary state
	// Backward needs for the same sample.
	Forward(inputs []*matrix.Matrix) (outputs, aux []*matrix.Matrix)

	// Backward adds this sample's parameter gradients, scaled by
	// learningRate, into acc and returns the gradient for the previous
	// layer. A nil acc accumulates into the layer's own accumulator, which
	// is not safe for concurrent use.
	Backward(grad, inputs, aux []*matrix.Matrix, learningRate float64, acc Gradients) []*matrix.Matrix

	// NewGradients returns a zero scratch accumulator for Backward.
	NewGradients() Gradients

	// Accumulate merges a scratch accumulator into the layer's accumulator.
	Accumulate(g Gradients)

	// Gradients returns the layer's accumulator.
	Gradients() Gradients

	// UpdateWeightsAndBiases applies accumulator/batchSize to the
	// parameters and zeroes the accumulator.
	UpdateWeightsAndBiases(batchSize int)

	// Params returns the live parameter matrices.
	Params() []*matrix.Matrix

	// Descriptor returns the layer's hyperparameters.
	Descriptor() Descriptor

	// InputShape and OutputShape return the shapes set by Initialize.
	InputShape() Shape
	OutputShape() Shape
}

// Inferer is implemented by layers whose inference pass differs from the
// training forward pass.
type Inferer interface {
	Infer(inputs []*matrix.Matrix) []*matrix.Matrix
}

// New creates an uninitialised layer from its descriptor.
func New(d Descriptor) (Layer, error) {
	switch d.Kind {
	case KindFullyConnected:
		act, err := activations.Parse(d.Activation)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.Kind, err)
		}
		return NewFullyConnected(d.Size, act), nil
	case KindConvolution:
		act, err := activations.Parse(d.Activation)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.Kind, err)
		}
		return NewConvolution(d.KernelSize, d.Depth, d.Stride, act), nil
	case KindPooling:
		return NewPooling(d.PoolSize, d.Stride), nil
	case KindDropout:
		return NewDropout(d.DropoutRate), nil
	case KindReshape:
		return NewReshape(), nil
	default:
		return nil, fmt.Errorf("unknown layer kind %q", d.Kind)
	}
}

func mustInit(initialized bool, k Kind) {
	if !initialized {
		panic(fmt.Sprintf("%s: layer used before Initialize", k))
	}
}

func checkInputs(k Kind, got []*matrix.Matrix, want Shape) {
	if len(got) != want.Depth {
		panic(fmt.Errorf("%w: %s expects %d input channels, got %d", matrix.ErrDimensionMismatch, k, want.Depth, len(got)))
	}
	for _, m := range got {
		if m.Rows() != want.Rows || m.Cols() != want.Cols {
			panic(fmt.Errorf("%w: %s expects %dx%d inputs, got %dx%d", matrix.ErrDimensionMismatch,
				k, want.Rows, want.Cols, m.Rows(), m.Cols()))
		}
	}
}
