package net

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FlavioCFOliveira/convnet/internal/activations"
	"github.com/FlavioCFOliveira/convnet/internal/layer"
	"github.com/FlavioCFOliveira/convnet/internal/loss"
	"github.com/FlavioCFOliveira/convnet/internal/matrix"
	"github.com/FlavioCFOliveira/convnet/internal/rng"
)

func oneHot(classes, k int) *matrix.Matrix {
	m := matrix.New(classes, 1)
	m.Set(k, 0, 1)
	return m
}

// randomSamples draws count samples of the given shape with random labels.
func randomSamples(shape layer.Shape, classes, count int, seed uint64) []Sample {
	src := rng.New(seed)
	r := rng.Rand(src)
	data := make([]Sample, count)
	for i := range data {
		in := make([]*matrix.Matrix, shape.Depth)
		for c := range in {
			in[c] = matrix.NewRandom(shape.Rows, shape.Cols, 0, 1, src)
		}
		data[i] = Sample{Input: in, Expected: oneHot(classes, r.Intn(classes))}
	}
	return data
}

func snapshot(n *Network) [][]*matrix.Matrix {
	var ps [][]*matrix.Matrix
	for _, l := range n.Layers() {
		ps = append(ps, matrix.CloneAll(l.Params()))
	}
	return ps
}

func sameParams(a, b *Network) bool {
	return equalSnapshots(snapshot(a), snapshot(b))
}

func equalSnapshots(a, b [][]*matrix.Matrix) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return false
		}
		for j := range a[i] {
			if !a[i][j].Equal(b[i][j]) {
				return false
			}
		}
	}
	return true
}

func convNet(t *testing.T, opts ...Option) *Network {
	t.Helper()
	n, err := Build(layer.Shape{Depth: 1, Rows: 6, Cols: 6}, []Template{
		Convolution(3, 2, 1, activations.ReLU{}),
		Pooling(2, 2),
		Dropout(0.25),
		FullyConnected(3, activations.Softmax{}),
	}, opts...)
	require.NoError(t, err)
	return n
}

type batchRecorder struct {
	BaseCallback
	mu      sync.Mutex
	errs    []float64
	percent []float64
	samples int
	epochs  []float64
}

func (r *batchRecorder) OnSample(epoch, index int, err float64) {
	r.mu.Lock()
	r.samples++
	r.mu.Unlock()
}

func (r *batchRecorder) OnBatchEnd(epoch int, percent, meanErr float64) {
	r.errs = append(r.errs, meanErr)
	r.percent = append(r.percent, percent)
}

func (r *batchRecorder) OnEpochEnd(epoch int, correctness float64) {
	r.epochs = append(r.epochs, correctness)
}

// TestTrainReducesErrorAfterFirstBatch tests that one batch update lowers the error.
func TestTrainReducesErrorAfterFirstBatch(t *testing.T) {
	n, err := Build(layer.Shape{Depth: 1, Rows: 4, Cols: 1}, []Template{
		FullyConnected(3, activations.ReLU{}),
		FullyConnected(2, activations.Softmax{}),
	}, WithSeed(3), WithShuffle(false))
	require.NoError(t, err)

	data := []Sample{
		{Input: []*matrix.Matrix{matrix.Column(1, 0, 0, 0)}, Expected: oneHot(2, 0)},
		{Input: []*matrix.Matrix{matrix.Column(0, 1, 0, 0)}, Expected: oneHot(2, 1)},
		{Input: []*matrix.Matrix{matrix.Column(0, 0, 1, 0)}, Expected: oneHot(2, 0)},
		{Input: []*matrix.Matrix{matrix.Column(0, 0, 0, 1)}, Expected: oneHot(2, 1)},
	}
	rec := &batchRecorder{}
	require.NoError(t, n.Train(context.Background(), data, 0.05, 2, 4, rec))

	require.Len(t, rec.errs, 2)
	assert.Less(t, rec.errs[1], rec.errs[0])
	assert.Equal(t, []float64{100, 100}, rec.percent)
	assert.Equal(t, 8, rec.samples)
	assert.Len(t, rec.epochs, 2)
}

// TestTrainDescendsMeanSquaredError tests training with MSE loss.
func TestTrainDescendsMeanSquaredError(t *testing.T) {
	n, err := Build(layer.Shape{Depth: 1, Rows: 3, Cols: 1}, []Template{
		FullyConnected(4, activations.Tanh{}),
		FullyConnected(2, activations.Sigmoid{}),
	}, WithSeed(5), WithShuffle(false), WithLoss(loss.MSE{}))
	require.NoError(t, err)

	data := randomSamples(layer.Shape{Depth: 1, Rows: 3, Cols: 1}, 2, 8, 9)
	rec := &batchRecorder{}
	require.NoError(t, n.Train(context.Background(), data, 0.01, 3, 8, rec))

	require.Len(t, rec.errs, 3)
	assert.Less(t, rec.errs[1], rec.errs[0])
	assert.Less(t, rec.errs[2], rec.errs[1])
}

// TestTrainIsIndependentOfWorkerCount tests that results match for any number of workers.
func TestTrainIsIndependentOfWorkerCount(t *testing.T) {
	data := randomSamples(layer.Shape{Depth: 1, Rows: 6, Cols: 6}, 3, 20, 11)

	serial := convNet(t, WithSeed(1), WithWorkers(1), WithShuffle(false))
	parallel := convNet(t, WithSeed(1), WithWorkers(8), WithShuffle(false))
	require.True(t, sameParams(serial, parallel))

	require.NoError(t, serial.Train(context.Background(), data, 0.1, 2, 6, nil))
	require.NoError(t, parallel.Train(context.Background(), data, 0.1, 2, 6, nil))

	assert.True(t, sameParams(serial, parallel))
	assert.Equal(t, serial.LastCorrectness(), parallel.LastCorrectness())
}

// TestTrainShuffleIsSeeded tests that shuffling follows the seed.
func TestTrainShuffleIsSeeded(t *testing.T) {
	data := randomSamples(layer.Shape{Depth: 1, Rows: 6, Cols: 6}, 3, 12, 4)
	a := convNet(t, WithSeed(2), WithWorkers(4))
	b := convNet(t, WithSeed(2), WithWorkers(2))

	require.NoError(t, a.Train(context.Background(), data, 0.1, 2, 5, nil))
	require.NoError(t, b.Train(context.Background(), data, 0.1, 2, 5, nil))
	assert.True(t, sameParams(a, b))
}

// TestTrainRejectsArguments tests argument validation.
func TestTrainRejectsArguments(t *testing.T) {
	n := convNet(t)
	data := randomSamples(layer.Shape{Depth: 1, Rows: 6, Cols: 6}, 3, 2, 1)
	ctx := context.Background()

	assert.ErrorIs(t, n.Train(ctx, nil, 0.1, 1, 1, nil), ErrInvalidArgument)
	assert.ErrorIs(t, n.Train(ctx, data, 0.1, 1, 0, nil), ErrInvalidArgument)
	assert.ErrorIs(t, n.Train(ctx, data, 0.1, -1, 1, nil), ErrInvalidArgument)
}

// TestTrainReportsShapeMismatch tests that a bad sample aborts the batch without an update.
func TestTrainReportsShapeMismatch(t *testing.T) {
	n := convNet(t)
	data := []Sample{{
		Input:    []*matrix.Matrix{matrix.New(6, 6)},
		Expected: oneHot(4, 0),
	}}
	before := snapshot(n)
	err := n.Train(context.Background(), data, 0.1, 1, 1, nil)
	assert.ErrorIs(t, err, matrix.ErrDimensionMismatch)
	assert.True(t, equalSnapshots(before, snapshot(n)))
}

type cancelAfterBatch struct {
	BaseCallback
	cancel context.CancelFunc
	net    *Network
	saved  [][]*matrix.Matrix
}

func (c *cancelAfterBatch) OnBatchEnd(epoch int, percent, meanErr float64) {
	if c.saved == nil {
		c.saved = snapshot(c.net)
		c.cancel()
	}
}

// TestTrainStopsOnCancel tests that cancellation stops training before the next update.
func TestTrainStopsOnCancel(t *testing.T) {
	n := convNet(t, WithSeed(6))
	data := randomSamples(layer.Shape{Depth: 1, Rows: 6, Cols: 6}, 3, 12, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cb := &cancelAfterBatch{cancel: cancel, net: n}
	err := n.Train(ctx, data, 0.1, 5, 4, cb)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, cb.saved)
	assert.True(t, equalSnapshots(cb.saved, snapshot(n)))
}

// TestTrainCancelledBeforeStart tests training with an already cancelled context.
func TestTrainCancelledBeforeStart(t *testing.T) {
	n := convNet(t)
	data := randomSamples(layer.Shape{Depth: 1, Rows: 6, Cols: 6}, 3, 4, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	before := snapshot(n)
	assert.ErrorIs(t, n.Train(ctx, data, 0.1, 1, 2, nil), context.Canceled)
	assert.True(t, equalSnapshots(before, snapshot(n)))
}

type cancelOnLastBatch struct {
	BaseCallback
	cancel context.CancelFunc
	epochs []float64
}

func (c *cancelOnLastBatch) OnBatchEnd(epoch int, percent, meanErr float64) {
	if percent >= 100 {
		c.cancel()
	}
}

func (c *cancelOnLastBatch) OnEpochEnd(epoch int, correctness float64) {
	c.epochs = append(c.epochs, correctness)
}

// TestTrainCancelledBeforeScoring tests that a cancellation landing after the
// last batch of an epoch is reported and leaves the recorded correctness alone.
func TestTrainCancelledBeforeScoring(t *testing.T) {
	n := convNet(t, WithSeed(8))
	data := randomSamples(layer.Shape{Depth: 1, Rows: 6, Cols: 6}, 3, 4, 6)
	require.NoError(t, n.Train(context.Background(), data, 0.1, 1, 4, nil))
	recorded := n.LastCorrectness()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cb := &cancelOnLastBatch{cancel: cancel}
	err := n.Train(ctx, data, 0.1, 1, 4, cb)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, cb.epochs)
	assert.Equal(t, recorded, n.LastCorrectness())
}

type rateChanger struct {
	BaseCallback
	net *Network
}

func (c rateChanger) OnBatchEnd(epoch int, percent, meanErr float64) {
	c.net.SetLearningRate(c.net.LearningRate() / 2)
}

// TestLearningRateChangesBetweenBatches tests learning rate changes from a callback.
func TestLearningRateChangesBetweenBatches(t *testing.T) {
	n := convNet(t)
	data := randomSamples(layer.Shape{Depth: 1, Rows: 6, Cols: 6}, 3, 6, 3)
	require.NoError(t, n.Train(context.Background(), data, 0.8, 1, 2, rateChanger{net: n}))
	assert.InDelta(t, 0.1, n.LearningRate(), 1e-12)
}

// TestCorrectness tests the correctness percentage.
func TestCorrectness(t *testing.T) {
	n := convNet(t)
	data := randomSamples(layer.Shape{Depth: 1, Rows: 6, Cols: 6}, 3, 8, 5)
	for i := range data {
		out, err := n.Predict(data[i].Input)
		require.NoError(t, err)
		k := out.IndexOfMax()
		if i%4 == 0 {
			k = (k + 1) % 3
		}
		data[i].Expected = oneHot(3, k)
	}

	c, err := n.Correctness(context.Background(), data)
	require.NoError(t, err)
	assert.InDelta(t, 75.0, c, 1e-9)

	c, err = n.Correctness(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = n.Correctness(ctx, data)
	assert.ErrorIs(t, err, context.Canceled)
}

// TestPredictIgnoresDropout tests that inference bypasses dropout.
func TestPredictIgnoresDropout(t *testing.T) {
	n := convNet(t)
	in := randomSamples(layer.Shape{Depth: 1, Rows: 6, Cols: 6}, 3, 1, 8)[0].Input
	a, err := n.Predict(in)
	require.NoError(t, err)
	b, err := n.Predict(in)
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
	assert.InDelta(t, 1.0, a.Sum(), 1e-6)
}

// TestPredictNeedsSingleOutput tests Predict on a network ending in feature maps.
func TestPredictNeedsSingleOutput(t *testing.T) {
	n, err := Build(layer.Shape{Depth: 1, Rows: 4, Cols: 4}, []Template{
		Convolution(2, 3, 1, activations.ReLU{}),
	})
	require.NoError(t, err)
	_, err = n.Predict([]*matrix.Matrix{matrix.New(4, 4)})
	assert.ErrorIs(t, err, ErrInvalidTopology)
}

// TestPredictRejectsWrongInput tests Predict with a wrongly shaped input.
func TestPredictRejectsWrongInput(t *testing.T) {
	n := convNet(t)
	_, err := n.Predict([]*matrix.Matrix{matrix.New(5, 5)})
	assert.ErrorIs(t, err, matrix.ErrDimensionMismatch)
}

// TestFeatureMaps tests per-layer outputs.
func TestFeatureMaps(t *testing.T) {
	n := convNet(t)
	in := randomSamples(layer.Shape{Depth: 1, Rows: 6, Cols: 6}, 3, 1, 8)[0].Input
	maps, err := n.FeatureMaps(in)
	require.NoError(t, err)
	require.Len(t, maps, len(n.Layers()))

	assert.Len(t, maps[0], 2)
	assert.Equal(t, 4, maps[0][0].Rows())
	out, err := n.Predict(in)
	require.NoError(t, err)
	assert.True(t, out.Equal(maps[len(maps)-1][0]))
}

// TestReinitialize tests that parameters are redrawn.
func TestReinitialize(t *testing.T) {
	n := convNet(t)
	before := snapshot(n)
	require.NoError(t, n.Reinitialize())
	assert.False(t, equalSnapshots(before, snapshot(n)))
}

// TestSummary tests the layer summary table.
func TestSummary(t *testing.T) {
	n := convNet(t)
	var buf bytes.Buffer
	n.Summary(&buf)
	out := buf.String()
	assert.Contains(t, out, "Convolution_0")
	assert.Contains(t, out, "Reshape_3")
	// 2*9+2*16 convolution, 3*8+3 dense.
	assert.Contains(t, out, "Total params: 77")
}
