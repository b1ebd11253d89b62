// Package net assembles layers into a trainable network.
package net

import (
	"fmt"
	"sync"

	"golang.org/x/exp/rand"

	"github.com/FlavioCFOliveira/convnet/internal/layer"
	"github.com/FlavioCFOliveira/convnet/internal/loss"
	"github.com/FlavioCFOliveira/convnet/internal/matrix"
)

// Sample is one labelled training example. Input holds one matrix per
// input channel and Expected is a one-hot column.
type Sample struct {
	Input    []*matrix.Matrix
	Expected *matrix.Matrix
}

// Network is an ordered stack of initialised layers.
type Network struct {
	layers []layer.Layer
	input  layer.Shape
	cost   loss.Loss

	src  rand.Source
	rand *rand.Rand

	workers           int
	shuffle           bool
	correctnessSample int

	mu              sync.RWMutex
	learningRate    float64
	lastCorrectness float64
}

// Layers returns the network's layers in forward order.
func (n *Network) Layers() []layer.Layer {
	return n.layers
}

// InputShape returns the shape the first layer expects.
func (n *Network) InputShape() layer.Shape {
	return n.input
}

// OutputShape returns the shape of the final layer's output.
func (n *Network) OutputShape() layer.Shape {
	return n.layers[len(n.layers)-1].OutputShape()
}

// Workers returns the parallelism bound used by Train and Correctness.
func (n *Network) Workers() int {
	return n.workers
}

// LearningRate returns the current learning rate.
func (n *Network) LearningRate() float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.learningRate
}

// SetLearningRate replaces the learning rate. It takes effect at the next batch.
func (n *Network) SetLearningRate(lr float64) {
	n.mu.Lock()
	n.learningRate = lr
	n.mu.Unlock()
}

// LastCorrectness returns the correctness measured at the most recent epoch end.
func (n *Network) LastCorrectness() float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lastCorrectness
}

func (n *Network) setLastCorrectness(c float64) {
	n.mu.Lock()
	n.lastCorrectness = c
	n.mu.Unlock()
}

// Predict runs an inference pass and returns the final output column.
// Dropout layers pass values through unchanged.
func (n *Network) Predict(input []*matrix.Matrix) (*matrix.Matrix, error) {
	var out []*matrix.Matrix
	err := matrix.Maybe(func() {
		out = input
		for _, l := range n.layers {
			out = infer(l, out)
		}
	})
	if err != nil {
		return nil, err
	}
	return single(out)
}

// FeatureMaps returns every layer's inference output for input, in layer order.
func (n *Network) FeatureMaps(input []*matrix.Matrix) ([][]*matrix.Matrix, error) {
	maps := make([][]*matrix.Matrix, 0, len(n.layers))
	err := matrix.Maybe(func() {
		out := input
		for _, l := range n.layers {
			out = infer(l, out)
			maps = append(maps, out)
		}
	})
	if err != nil {
		return nil, err
	}
	return maps, nil
}

// Reinitialize re-draws every layer's parameters and clears its accumulator.
func (n *Network) Reinitialize() error {
	return n.initialize()
}

func infer(l layer.Layer, in []*matrix.Matrix) []*matrix.Matrix {
	if i, ok := l.(layer.Inferer); ok {
		return i.Infer(in)
	}
	out, _ := l.Forward(in)
	return out
}

func single(out []*matrix.Matrix) (*matrix.Matrix, error) {
	if len(out) != 1 {
		return nil, fmt.Errorf("%w: final layer produced %d matrices", ErrInvalidTopology, len(out))
	}
	return out[0], nil
}
