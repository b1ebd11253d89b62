package layer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FlavioCFOliveira/convnet/internal/activations"
	"github.com/FlavioCFOliveira/convnet/internal/matrix"
	"github.com/FlavioCFOliveira/convnet/internal/rng"
)

// halfSquaredError returns 0.5*Σ(out-target)² and its gradient out-target.
func halfSquaredError(outs, targets []*matrix.Matrix) (float64, []*matrix.Matrix) {
	cost := 0.0
	grads := make([]*matrix.Matrix, len(outs))
	for i := range outs {
		diff := matrix.Sub(outs[i], targets[i])
		cost += 0.5 * matrix.MulElem(diff, diff).Sum()
		grads[i] = diff
	}
	return cost, grads
}

// numericGradient perturbs every element of p and measures the cost change.
func numericGradient(p *matrix.Matrix, cost func() float64) *matrix.Matrix {
	const h = 1e-6
	g := matrix.New(p.Rows(), p.Cols())
	data := p.Data()
	for i := range data {
		orig := data[i]
		data[i] = orig + h
		plus := cost()
		data[i] = orig - h
		minus := cost()
		data[i] = orig
		g.Data()[i] = (plus - minus) / (2 * h)
	}
	return g
}

func randomInputs(shape Shape, seed uint64) []*matrix.Matrix {
	src := rng.New(seed)
	ins := make([]*matrix.Matrix, shape.Depth)
	for i := range ins {
		ins[i] = matrix.NewRandom(shape.Rows, shape.Cols, -1, 1, src)
	}
	return ins
}

// checkGradients compares the analytic parameter and input gradients of l
// against central differences of a half squared error.
func checkGradients(t *testing.T, l Layer, in Shape) {
	t.Helper()
	out, err := l.Initialize(in, rng.New(1))
	require.NoError(t, err)

	inputs := randomInputs(in, 2)
	targets := randomInputs(out, 3)

	cost := func() float64 {
		outs, _ := l.Forward(inputs)
		c, _ := halfSquaredError(outs, targets)
		return c
	}

	outs, aux := l.Forward(inputs)
	_, grad := halfSquaredError(outs, targets)
	acc := l.NewGradients()
	dx := l.Backward(grad, inputs, aux, 1, acc)

	for i, p := range l.Params() {
		want := numericGradient(p, cost)
		assert.InDeltaSlice(t, want.Data(), acc[i].Data(), 1e-5, "param %d", i)
	}
	require.Len(t, dx, len(inputs))
	for i, x := range inputs {
		want := numericGradient(x, cost)
		assert.InDeltaSlice(t, want.Data(), dx[i].Data(), 1e-5, "input %d", i)
	}
}

// TestFullyConnectedForward tests W·x + b with hand-set weights.
func TestFullyConnectedForward(t *testing.T) {
	d := NewFullyConnected(2, activations.ReLU{})
	_, err := d.Initialize(Shape{1, 3, 1}, rng.New(1))
	require.NoError(t, err)

	d.Weights().CopyFrom(matrix.NewFromSlice(2, 3, []float64{1, 0, -1, 0.5, 0.5, 0.5}))
	d.Biases().CopyFrom(matrix.Column(0.1, -10))

	out, aux := d.Forward([]*matrix.Matrix{matrix.Column(1, 2, 3)})
	assert.InDeltaSlice(t, []float64{0, 0}, out[0].Data(), 1e-12)
	assert.InDeltaSlice(t, []float64{-1.9, -7}, aux[0].Data(), 1e-12)
}

// TestFullyConnectedGradients tests backward against finite differences.
func TestFullyConnectedGradients(t *testing.T) {
	checkGradients(t, NewFullyConnected(4, activations.Sigmoid{}), Shape{1, 5, 1})
	checkGradients(t, NewFullyConnected(3, activations.Tanh{}), Shape{1, 2, 1})
}

// TestFullyConnectedScalesByLearningRate tests that only the accumulated
// gradients carry the learning rate.
func TestFullyConnectedScalesByLearningRate(t *testing.T) {
	d := NewFullyConnected(3, activations.Sigmoid{})
	_, err := d.Initialize(Shape{1, 4, 1}, rng.New(4))
	require.NoError(t, err)
	inputs := randomInputs(Shape{1, 4, 1}, 5)
	grad := randomInputs(Shape{1, 3, 1}, 6)
	_, aux := d.Forward(inputs)

	one := d.NewGradients()
	dx1 := d.Backward(grad, inputs, aux, 1, one)
	tenth := d.NewGradients()
	dx2 := d.Backward(grad, inputs, aux, 0.1, tenth)

	assert.InDeltaSlice(t, one[0].Scale(0.1).Data(), tenth[0].Data(), 1e-15)
	assert.InDeltaSlice(t, one[1].Scale(0.1).Data(), tenth[1].Data(), 1e-15)
	assert.Equal(t, dx1[0].Data(), dx2[0].Data())
}

// TestBackwardAccumulates tests that repeated backward passes add up.
func TestBackwardAccumulates(t *testing.T) {
	d := NewFullyConnected(2, activations.Sigmoid{})
	_, err := d.Initialize(Shape{1, 3, 1}, rng.New(7))
	require.NoError(t, err)
	inputs := randomInputs(Shape{1, 3, 1}, 8)
	grad := randomInputs(Shape{1, 2, 1}, 9)
	_, aux := d.Forward(inputs)

	single := d.NewGradients()
	d.Backward(grad, inputs, aux, 0.5, single)

	d.Backward(grad, inputs, aux, 0.5, nil)
	d.Backward(grad, inputs, aux, 0.5, nil)
	assert.InDeltaSlice(t, single[0].Scale(2).Data(), d.Gradients()[0].Data(), 1e-12)

	scratch := d.NewGradients()
	d.Backward(grad, inputs, aux, 0.5, scratch)
	d.Accumulate(scratch)
	assert.InDeltaSlice(t, single[0].Scale(3).Data(), d.Gradients()[0].Data(), 1e-12)
}

// TestFullyConnectedUpdate tests averaging, bias update and reset.
func TestFullyConnectedUpdate(t *testing.T) {
	d := NewFullyConnected(1, activations.Sigmoid{})
	_, err := d.Initialize(Shape{1, 2, 1}, rng.New(1))
	require.NoError(t, err)
	d.Weights().CopyFrom(matrix.NewFromSlice(1, 2, []float64{1, 1}))

	d.Gradients()[0].CopyFrom(matrix.NewFromSlice(1, 2, []float64{0.2, 0.4}))
	d.Gradients()[1].CopyFrom(matrix.Column(0.6))
	d.UpdateWeightsAndBiases(2)

	assert.InDeltaSlice(t, []float64{0.9, 0.8}, d.Weights().Data(), 1e-12)
	assert.InDeltaSlice(t, []float64{-0.3}, d.Biases().Data(), 1e-12)
	assert.Equal(t, 0.0, d.Gradients()[0].Norm())
	assert.Equal(t, 0.0, d.Gradients()[1].Norm())
}

// TestFullyConnectedClipsWeightStep tests the gradient norm bound.
func TestFullyConnectedClipsWeightStep(t *testing.T) {
	d := NewFullyConnected(1, activations.Sigmoid{})
	_, err := d.Initialize(Shape{1, 2, 1}, rng.New(1))
	require.NoError(t, err)
	d.Weights().Zero()

	d.Gradients()[0].CopyFrom(matrix.NewFromSlice(1, 2, []float64{30, 40}))
	d.UpdateWeightsAndBiases(1)

	assert.InDelta(t, MaxGradientNorm, d.Weights().Norm(), 1e-12)
	assert.InDeltaSlice(t, []float64{-0.3, -0.4}, d.Weights().Data(), 1e-12)
}

// TestFullyConnectedRejectsSpatialInput tests the flat input requirement.
func TestFullyConnectedRejectsSpatialInput(t *testing.T) {
	_, err := NewFullyConnected(2, activations.ReLU{}).Initialize(Shape{2, 3, 3}, rng.New(1))
	assert.ErrorIs(t, err, ErrIncompatibleInput)
}

// TestFullyConnectedInitialisation tests He/Xavier selection bounds.
func TestFullyConnectedInitialisation(t *testing.T) {
	relu := NewFullyConnected(10, activations.ReLU{})
	_, err := relu.Initialize(Shape{1, 6, 1}, rng.New(1))
	require.NoError(t, err)
	for _, w := range relu.Weights().Data() {
		assert.True(t, w > -1 && w < 1)
	}

	soft := NewFullyConnected(10, activations.Softmax{})
	_, err = soft.Initialize(Shape{1, 14, 1}, rng.New(1))
	require.NoError(t, err)
	for _, w := range soft.Weights().Data() {
		assert.True(t, w > -0.5 && w < 0.5)
	}
}

// TestNewFromDescriptor tests that descriptors rebuild equivalent layers.
func TestNewFromDescriptor(t *testing.T) {
	layers := []Layer{
		NewFullyConnected(3, activations.Softmax{}),
		NewConvolution(3, 4, 1, activations.ReLU{}),
		NewPooling(2, 2),
		NewDropout(0.25),
		NewReshape(),
	}
	for _, l := range layers {
		rebuilt, err := New(l.Descriptor())
		require.NoError(t, err)
		assert.Equal(t, l.Descriptor(), rebuilt.Descriptor())
	}

	_, err := New(Descriptor{Kind: "Attention"})
	assert.Error(t, err)
	_, err = New(Descriptor{Kind: KindFullyConnected, Size: 2, Activation: "Mish"})
	assert.Error(t, err)
}

// TestWrongChannelCount tests input validation in Forward.
func TestWrongChannelCount(t *testing.T) {
	c := NewConvolution(2, 1, 1, activations.ReLU{})
	_, err := c.Initialize(Shape{2, 4, 4}, rng.New(1))
	require.NoError(t, err)
	err = matrix.Maybe(func() { c.Forward(randomInputs(Shape{1, 4, 4}, 1)) })
	assert.ErrorIs(t, err, matrix.ErrDimensionMismatch)
}
