package layer

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/FlavioCFOliveira/convnet/internal/matrix"
)

// MaxDropoutRate is the largest accepted dropout rate.
const MaxDropoutRate = 0.9

// Dropout implements inverted dropout regularization.
//
// The mask keeps a unit with probability 1-rate and scales kept units by
// 1/(1-rate). A mask is drawn at Initialize and again at every
// UpdateWeightsAndBiases, so all samples of a batch see the same mask.
// Inference (Infer) passes inputs through unchanged.
type Dropout struct {
	rate float64

	in Shape

	masks []*matrix.Matrix
	src   rand.Source

	initialized bool
}

// NewDropout creates a dropout layer with the given drop probability.
func NewDropout(rate float64) *Dropout {
	return &Dropout{rate: rate}
}

// Initialize validates the rate and draws the first mask.
func (d *Dropout) Initialize(in Shape, src rand.Source) (Shape, error) {
	if d.rate < 0 || d.rate > MaxDropoutRate {
		return Shape{}, fmt.Errorf("%w: dropout rate %v outside [0, %v]", ErrUnsupportedConfiguration, d.rate, MaxDropoutRate)
	}
	if !in.Valid() {
		return Shape{}, fmt.Errorf("%w: dropout input %v", ErrIncompatibleInput, in)
	}
	d.in = in
	d.src = src
	d.masks = make([]*matrix.Matrix, in.Depth)
	for ch := range d.masks {
		d.masks[ch] = matrix.New(in.Rows, in.Cols)
	}
	d.initialized = true
	d.resample()
	return in, nil
}

func (d *Dropout) resample() {
	keep := 1 - d.rate
	scale := 1 / keep
	b := distuv.Bernoulli{P: keep, Src: d.src}
	for _, m := range d.masks {
		data := m.Data()
		for i := range data {
			data[i] = b.Rand() * scale
		}
	}
}

// Forward multiplies every channel by the current mask. aux is the mask.
func (d *Dropout) Forward(inputs []*matrix.Matrix) ([]*matrix.Matrix, []*matrix.Matrix) {
	mustInit(d.initialized, KindDropout)
	checkInputs(KindDropout, inputs, d.in)
	outputs := make([]*matrix.Matrix, len(inputs))
	for ch, x := range inputs {
		outputs[ch] = matrix.MulElem(x, d.masks[ch])
	}
	return outputs, d.masks
}

// Infer returns the inputs unchanged.
func (d *Dropout) Infer(inputs []*matrix.Matrix) []*matrix.Matrix {
	return inputs
}

// Backward multiplies the incoming gradient by the mask used in Forward.
func (d *Dropout) Backward(grad, _, aux []*matrix.Matrix, _ float64, _ Gradients) []*matrix.Matrix {
	mustInit(d.initialized, KindDropout)
	dx := make([]*matrix.Matrix, len(grad))
	for ch, g := range grad {
		dx[ch] = matrix.MulElem(g, aux[ch])
	}
	return dx
}

// NewGradients returns an empty accumulator; dropout has no parameters.
func (d *Dropout) NewGradients() Gradients { return Gradients{} }

// Accumulate is a no-op.
func (d *Dropout) Accumulate(Gradients) {}

// Gradients returns an empty accumulator.
func (d *Dropout) Gradients() Gradients { return Gradients{} }

// UpdateWeightsAndBiases draws the mask for the next batch.
func (d *Dropout) UpdateWeightsAndBiases(int) {
	mustInit(d.initialized, KindDropout)
	d.resample()
}

// Rate returns the drop probability.
func (d *Dropout) Rate() float64 { return d.rate }

// Params returns nil.
func (d *Dropout) Params() []*matrix.Matrix { return nil }

// Descriptor returns the layer hyperparameters.
func (d *Dropout) Descriptor() Descriptor {
	return Descriptor{Kind: KindDropout, DropoutRate: d.rate}
}

// InputShape returns the initialised input shape.
func (d *Dropout) InputShape() Shape { return d.in }

// OutputShape returns the initialised output shape, equal to the input.
func (d *Dropout) OutputShape() Shape { return d.in }
