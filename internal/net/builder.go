package net

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/rs/zerolog/log"
	"golang.org/x/exp/rand"

	"github.com/FlavioCFOliveira/convnet/internal/layer"
	"github.com/FlavioCFOliveira/convnet/internal/loss"
	"github.com/FlavioCFOliveira/convnet/internal/rng"
)

// ErrInvalidTopology is returned when a template sequence cannot form a network.
var ErrInvalidTopology = errors.New("invalid network topology")

// DefaultCorrectnessSample is the number of samples scored at each epoch end.
const DefaultCorrectnessSample = 1000

type options struct {
	seed              uint64
	src               rand.Source
	workers           int
	shuffle           bool
	correctnessSample int
	cost              loss.Loss
}

// Option configures Build.
type Option func(*options)

// WithSeed seeds weight initialisation, shuffling and dropout masks.
func WithSeed(seed uint64) Option {
	return func(o *options) { o.seed = seed }
}

// WithSource uses src for all randomness instead of a seeded source.
func WithSource(src rand.Source) Option {
	return func(o *options) { o.src = src }
}

// WithWorkers bounds the number of samples processed concurrently.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithShuffle enables or disables the per-epoch shuffle.
func WithShuffle(shuffle bool) Option {
	return func(o *options) { o.shuffle = shuffle }
}

// WithCorrectnessSample sets how many samples are scored at each epoch end.
func WithCorrectnessSample(n int) Option {
	return func(o *options) { o.correctnessSample = n }
}

// WithLoss replaces the cross-entropy training cost.
func WithLoss(l loss.Loss) Option {
	return func(o *options) { o.cost = l }
}

// Build validates templates, inserts the reshape bridge and initialises
// every layer in order starting from the input shape.
func Build(input layer.Shape, templates []Template, opts ...Option) (*Network, error) {
	o := options{
		seed:              rng.DefaultSeed,
		workers:           runtime.GOMAXPROCS(0),
		shuffle:           true,
		correctnessSample: DefaultCorrectnessSample,
		cost:              loss.CrossEntropy{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.src == nil {
		o.src = rng.New(o.seed)
	}
	if o.workers < 1 {
		o.workers = 1
	}

	descriptors, err := plan(input, templates)
	if err != nil {
		return nil, err
	}

	n := &Network{
		input:             input,
		src:               o.src,
		rand:              rng.Rand(o.src),
		workers:           o.workers,
		shuffle:           o.shuffle,
		correctnessSample: o.correctnessSample,
		cost:              o.cost,
	}
	for _, d := range descriptors {
		l, err := layer.New(d)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidTopology, err)
		}
		n.layers = append(n.layers, l)
	}
	if err := n.initialize(); err != nil {
		return nil, err
	}

	log.Debug().
		Str("input", input.String()).
		Str("output", n.OutputShape().String()).
		Int("layers", len(n.layers)).
		Msg("network built")
	return n, nil
}

// plan checks the ordering rules and returns the descriptors to build,
// including an inserted Reshape where spatial maps first meet a fully
// connected layer.
func plan(input layer.Shape, templates []Template) ([]layer.Descriptor, error) {
	if !input.Valid() {
		return nil, fmt.Errorf("%w: input shape %v", ErrInvalidTopology, input)
	}
	if len(templates) == 0 {
		return nil, fmt.Errorf("%w: no layers", ErrInvalidTopology)
	}

	out := make([]layer.Descriptor, 0, len(templates)+1)
	flat := input.Flat()
	dense := false
	reshaped := false
	for i, t := range templates {
		d := layer.Descriptor(t)
		switch {
		case d.Kind.Spatial() && (dense || reshaped):
			return nil, fmt.Errorf("%w: %s layer %d follows a flattening layer", ErrInvalidTopology, d.Kind, i)
		case d.Kind == layer.KindReshape:
			if reshaped || dense {
				return nil, fmt.Errorf("%w: reshape layer %d after the network is already flat", ErrInvalidTopology, i)
			}
			reshaped, flat = true, true
		case d.Kind == layer.KindFullyConnected:
			if !flat {
				out = append(out, layer.Descriptor{Kind: layer.KindReshape})
				reshaped, flat = true, true
			}
			dense = true
		case d.Kind.Spatial():
			flat = false
		}
		out = append(out, d)
	}
	return out, nil
}

func (n *Network) initialize() error {
	shape := n.input
	for i, l := range n.layers {
		next, err := l.Initialize(shape, n.src)
		if err != nil {
			kind := l.Descriptor().Kind
			if errors.Is(err, layer.ErrIncompatibleInput) {
				return fmt.Errorf("%w: layer %d (%s): %w", ErrInvalidTopology, i, kind, err)
			}
			return fmt.Errorf("layer %d (%s): %w", i, kind, err)
		}
		shape = next
	}
	return nil
}
