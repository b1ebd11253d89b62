package layer

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/FlavioCFOliveira/convnet/internal/activations"
	"github.com/FlavioCFOliveira/convnet/internal/matrix"
)

// Convolution implements a 2D convolutional layer without padding.
//
// Kernels are indexed [outputDepth][inputDepth], each kernelSize×kernelSize.
// Every output channel has a bias map the size of the valid
// cross-correlation output:
//
//	outRows = inRows - kernelSize + 1
//	outCols = inCols - kernelSize + 1
//
// Only stride 1 is supported.
type Convolution struct {
	kernelSize int
	depth      int
	stride     int
	act        activations.Activation

	in  Shape
	out Shape

	kernels [][]*matrix.Matrix
	biases  []*matrix.Matrix

	acc Gradients

	initialized bool
}

// NewConvolution creates a convolution layer producing depth feature maps.
func NewConvolution(kernelSize, depth, stride int, act activations.Activation) *Convolution {
	return &Convolution{kernelSize: kernelSize, depth: depth, stride: stride, act: act}
}

// Initialize allocates kernels and bias maps for the input shape.
func (c *Convolution) Initialize(in Shape, src rand.Source) (Shape, error) {
	if c.stride != 1 {
		return Shape{}, fmt.Errorf("%w: convolution stride %d, only 1 is supported", ErrUnsupportedConfiguration, c.stride)
	}
	if c.kernelSize <= 0 || c.depth <= 0 {
		return Shape{}, fmt.Errorf("%w: convolution kernel %d depth %d", ErrUnsupportedConfiguration, c.kernelSize, c.depth)
	}
	if !in.Valid() {
		return Shape{}, fmt.Errorf("%w: convolution input %v", ErrIncompatibleInput, in)
	}
	if c.kernelSize > in.Rows || c.kernelSize > in.Cols {
		return Shape{}, fmt.Errorf("%w: kernel %d larger than input %v", ErrUnsupportedConfiguration, c.kernelSize, in)
	}

	k := c.kernelSize
	fanIn := in.Depth * k * k
	fanOut := c.depth * k * k
	he := activations.PrefersHe(c.act)

	c.in = in
	c.out = Shape{
		Depth: c.depth,
		Rows:  (in.Rows-k)/c.stride + 1,
		Cols:  (in.Cols-k)/c.stride + 1,
	}
	c.kernels = make([][]*matrix.Matrix, c.depth)
	c.biases = make([]*matrix.Matrix, c.depth)
	for o := 0; o < c.depth; o++ {
		c.kernels[o] = make([]*matrix.Matrix, in.Depth)
		for ch := 0; ch < in.Depth; ch++ {
			if he {
				c.kernels[o][ch] = matrix.He(k, k, fanIn, src)
			} else {
				c.kernels[o][ch] = matrix.Xavier(k, k, fanIn, fanOut, src)
			}
		}
		c.biases[o] = matrix.New(c.out.Rows, c.out.Cols)
	}
	c.acc = zerosLike(c.Params())
	c.initialized = true
	return c.out, nil
}

// Forward sums the valid cross-correlation of every input channel with its
// kernel, adds the bias map and applies the activation. Pre-activations are
// returned as aux.
func (c *Convolution) Forward(inputs []*matrix.Matrix) ([]*matrix.Matrix, []*matrix.Matrix) {
	mustInit(c.initialized, KindConvolution)
	checkInputs(KindConvolution, inputs, c.in)

	outputs := make([]*matrix.Matrix, c.depth)
	preAct := make([]*matrix.Matrix, c.depth)
	for o := 0; o < c.depth; o++ {
		z := c.biases[o].Clone()
		for ch, x := range inputs {
			z.AddInPlace(matrix.CrossCorrelationValid(x, c.kernels[o][ch], c.stride))
		}
		preAct[o] = z
		outputs[o] = c.act.Activate(z)
	}
	return outputs, preAct
}

// Backward computes dZ = dA ⊙ activation'(Z) per output channel, accumulates
// kernel gradients as CrossCorrelationValid(input, dZ)·lr and bias gradients
// as dZ·lr, and returns Σ ConvolutionFull(dZ, kernel) per input channel.
func (c *Convolution) Backward(grad, inputs, aux []*matrix.Matrix, learningRate float64, acc Gradients) []*matrix.Matrix {
	mustInit(c.initialized, KindConvolution)
	if acc == nil {
		acc = c.acc
	}
	inDepth := c.in.Depth
	dx := make([]*matrix.Matrix, inDepth)
	for ch := range dx {
		dx[ch] = matrix.New(c.in.Rows, c.in.Cols)
	}

	for o := 0; o < c.depth; o++ {
		dz := matrix.MulElem(grad[o], c.act.Derivative(aux[o]))
		for ch := 0; ch < inDepth; ch++ {
			dk := matrix.CrossCorrelationValid(inputs[ch], dz, c.stride)
			acc[o*inDepth+ch].AddScaledInPlace(learningRate, dk)
			dx[ch].AddInPlace(matrix.ConvolutionFull(dz, c.kernels[o][ch], c.stride))
		}
		acc[c.depth*inDepth+o].AddScaledInPlace(learningRate, dz)
	}
	return dx
}

// NewGradients returns a zero accumulator shaped like the parameters.
func (c *Convolution) NewGradients() Gradients {
	mustInit(c.initialized, KindConvolution)
	return zerosLike(c.Params())
}

// Accumulate merges g into the layer accumulator.
func (c *Convolution) Accumulate(g Gradients) {
	c.acc.Add(g)
}

// Gradients returns the layer accumulator.
func (c *Convolution) Gradients() Gradients {
	return c.acc
}

// UpdateWeightsAndBiases subtracts the batch-averaged accumulator.
func (c *Convolution) UpdateWeightsAndBiases(batchSize int) {
	mustInit(c.initialized, KindConvolution)
	inv := -1 / float64(batchSize)
	for i, p := range c.Params() {
		p.AddScaledInPlace(inv, c.acc[i])
	}
	c.acc.Zero()
}

// Params returns kernels in [output][input] order followed by bias maps.
func (c *Convolution) Params() []*matrix.Matrix {
	params := make([]*matrix.Matrix, 0, c.depth*c.in.Depth+c.depth)
	for _, row := range c.kernels {
		params = append(params, row...)
	}
	return append(params, c.biases...)
}

// Kernel returns the kernel connecting input channel in to output channel out.
func (c *Convolution) Kernel(out, in int) *matrix.Matrix { return c.kernels[out][in] }

// Bias returns the bias map of output channel out.
func (c *Convolution) Bias(out int) *matrix.Matrix { return c.biases[out] }

// Descriptor returns the layer hyperparameters.
func (c *Convolution) Descriptor() Descriptor {
	return Descriptor{
		Kind:       KindConvolution,
		KernelSize: c.kernelSize,
		Depth:      c.depth,
		Stride:     c.stride,
		Activation: c.act.String(),
	}
}

// InputShape returns the initialised input shape.
func (c *Convolution) InputShape() Shape { return c.in }

// OutputShape returns the initialised output shape.
func (c *Convolution) OutputShape() Shape { return c.out }
