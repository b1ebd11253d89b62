package matrix

import (
	"math"

	"golang.org/x/exp/rand"
)

// He returns a rows×cols matrix drawn uniformly from ±sqrt(6/fanIn).
// Used for ReLU layers.
func He(rows, cols, fanIn int, src rand.Source) *Matrix {
	limit := math.Sqrt(6 / float64(fanIn))
	return NewRandom(rows, cols, -limit, limit, src)
}

// Xavier returns a rows×cols matrix drawn uniformly from
// ±sqrt(6/(fanIn+fanOut)). Used for Sigmoid and Softmax layers.
func Xavier(rows, cols, fanIn, fanOut int, src rand.Source) *Matrix {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	return NewRandom(rows, cols, -limit, limit, src)
}
