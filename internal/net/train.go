package net

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/FlavioCFOliveira/convnet/internal/layer"
	"github.com/FlavioCFOliveira/convnet/internal/matrix"
)

// ErrInvalidArgument is returned for unusable training arguments.
var ErrInvalidArgument = errors.New("invalid training argument")

// Train runs mini-batch gradient descent over data for the given number of
// epochs. Samples of a batch are processed concurrently; their gradients
// are merged in sample order and applied once the whole batch is done, so
// the result does not depend on the number of workers.
//
// Cancelling ctx stops training before the next batch update; a batch in
// progress is discarded.
func (n *Network) Train(ctx context.Context, data []Sample, learningRate float64, epochs, batchSize int, cb Callback) error {
	switch {
	case len(data) == 0:
		return fmt.Errorf("%w: empty dataset", ErrInvalidArgument)
	case batchSize < 1:
		return fmt.Errorf("%w: batch size %d", ErrInvalidArgument, batchSize)
	case epochs < 0:
		return fmt.Errorf("%w: %d epochs", ErrInvalidArgument, epochs)
	}
	if cb == nil {
		cb = BaseCallback{}
	}

	n.SetLearningRate(learningRate)
	order := make([]int, len(data))
	for i := range order {
		order[i] = i
	}

	cb.OnTrainBegin(n)
	defer cb.OnTrainEnd(n)

	for epoch := 0; epoch < epochs; epoch++ {
		if n.shuffle {
			n.rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		}
		for start := 0; start < len(order); start += batchSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			end := min(start+batchSize, len(order))
			meanErr, err := n.trainBatch(ctx, epoch, start, data, order[start:end], cb)
			if err != nil {
				return err
			}
			cb.OnBatchEnd(epoch, float64(end)/float64(len(order))*100, meanErr)
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		correctness, err := n.Correctness(ctx, n.scoringSubset(data))
		if err != nil {
			return err
		}
		n.setLastCorrectness(correctness)
		log.Debug().Int("epoch", epoch).Float64("correctness", correctness).Msg("epoch finished")
		cb.OnEpochEnd(epoch, correctness)
	}
	return nil
}

// trainBatch backpropagates the samples at idx in parallel and applies the
// merged gradients. It returns the mean error over the batch.
func (n *Network) trainBatch(ctx context.Context, epoch, offset int, data []Sample, idx []int, cb Callback) (float64, error) {
	lr := n.LearningRate()
	partials := make([][]layer.Gradients, len(idx))
	errs := make([]float64, len(idx))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.workers)
	for i, sample := range idx {
		i, sample := i, sample
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cost, grads, err := n.backprop(data[sample], lr)
			if err != nil {
				return fmt.Errorf("sample %d: %w", sample, err)
			}
			errs[i], partials[i] = cost, grads
			cb.OnSample(epoch, offset+i, cost)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	for li, l := range n.layers {
		for _, p := range partials {
			l.Accumulate(p[li])
		}
		l.UpdateWeightsAndBiases(len(idx))
	}
	return floats.Sum(errs) / float64(len(idx)), nil
}

// backprop runs one sample forward and backward, collecting its parameter
// gradients into fresh per-layer accumulators.
func (n *Network) backprop(s Sample, lr float64) (cost float64, grads []layer.Gradients, err error) {
	inputs := make([][]*matrix.Matrix, len(n.layers)+1)
	aux := make([][]*matrix.Matrix, len(n.layers))
	err = matrix.Maybe(func() {
		inputs[0] = s.Input
		for i, l := range n.layers {
			inputs[i+1], aux[i] = l.Forward(inputs[i])
		}
	})
	if err != nil {
		return 0, nil, err
	}
	out, err := single(inputs[len(n.layers)])
	if err != nil {
		return 0, nil, err
	}

	err = matrix.Maybe(func() {
		cost = n.cost.Forward(out, s.Expected)
		grad := []*matrix.Matrix{n.cost.Backward(out, s.Expected)}
		grads = make([]layer.Gradients, len(n.layers))
		for i := len(n.layers) - 1; i >= 0; i-- {
			l := n.layers[i]
			grads[i] = l.NewGradients()
			grad = l.Backward(grad, inputs[i], aux[i], lr, grads[i])
		}
	})
	if err != nil {
		return 0, nil, err
	}
	return cost, grads, nil
}

// Correctness returns the percentage of samples whose predicted class,
// the index of the largest output, matches the expected one. A cancelled ctx
// yields ctx.Err() rather than a partial count.
func (n *Network) Correctness(ctx context.Context, data []Sample) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	var hits atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.workers)
	for _, s := range data {
		s := s
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := n.Predict(s.Input)
			if err != nil {
				return err
			}
			var hit bool
			if err := matrix.Maybe(func() { hit = out.IndexOfMax() == s.Expected.IndexOfMax() }); err != nil {
				return err
			}
			if hit {
				hits.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return float64(hits.Load()) / float64(len(data)) * 100, nil
}

// scoringSubset picks at most correctnessSample random samples.
func (n *Network) scoringSubset(data []Sample) []Sample {
	if n.correctnessSample <= 0 || len(data) <= n.correctnessSample {
		return data
	}
	subset := make([]Sample, n.correctnessSample)
	for i, j := range n.rand.Perm(len(data))[:n.correctnessSample] {
		subset[i] = data[j]
	}
	return subset
}
