// Package convnet is the public entry point: it re-exports the network
// builder, the layer templates, persistence and the trainer.
package convnet

import (
	"github.com/FlavioCFOliveira/convnet/internal/activations"
	"github.com/FlavioCFOliveira/convnet/internal/dataset"
	"github.com/FlavioCFOliveira/convnet/internal/layer"
	"github.com/FlavioCFOliveira/convnet/internal/loss"
	"github.com/FlavioCFOliveira/convnet/internal/matrix"
	"github.com/FlavioCFOliveira/convnet/internal/net"
	"github.com/FlavioCFOliveira/convnet/internal/trainer"
)

// Re-export common types for easier access
type (
	Matrix     = matrix.Matrix
	Shape      = layer.Shape
	Template   = net.Template
	Network    = net.Network
	Sample     = net.Sample
	Option     = net.Option
	Callback   = net.Callback
	Activation = activations.Activation
	Loss       = loss.Loss
	Dataset    = dataset.Dataset
	Trainer    = trainer.Trainer
	Config     = trainer.Config
	Patience   = trainer.PatienceConfig
	Result     = trainer.Result
	Status     = trainer.Status
)

// Errors
var (
	ErrDimensionMismatch        = matrix.ErrDimensionMismatch
	ErrIndexOutOfRange          = matrix.ErrIndexOutOfRange
	ErrInvalidTopology          = net.ErrInvalidTopology
	ErrUnsupportedConfiguration = layer.ErrUnsupportedConfiguration
	ErrCorruptModel             = net.ErrCorruptModel
	ErrNumericDivergence        = trainer.ErrNumericDivergence
)

// Activations
var (
	ReLU    = activations.ReLU{}
	Sigmoid = activations.Sigmoid{}
	Tanh    = activations.Tanh{}
	Softmax = activations.Softmax{}
)

// Losses
var (
	MSE          = loss.MSE{}
	CrossEntropy = loss.CrossEntropy{}
)

// Layers
func FullyConnected(size int, act Activation) Template {
	return net.FullyConnected(size, act)
}

func Convolution(kernelSize, depth, stride int, act Activation) Template {
	return net.Convolution(kernelSize, depth, stride, act)
}

func Pooling(poolSize, stride int) Template {
	return net.Pooling(poolSize, stride)
}

func Dropout(rate float64) Template {
	return net.Dropout(rate)
}

func Reshape() Template {
	return net.Reshape()
}

// Network creation
func Build(input Shape, templates []Template, opts ...Option) (*Network, error) {
	return net.Build(input, templates, opts...)
}

func WithSeed(seed uint64) Option { return net.WithSeed(seed) }
func WithWorkers(n int) Option    { return net.WithWorkers(n) }
func WithShuffle(on bool) Option  { return net.WithShuffle(on) }
func WithLoss(l Loss) Option      { return net.WithLoss(l) }
func WithCorrectnessSample(n int) Option {
	return net.WithCorrectnessSample(n)
}

// Callbacks
func Logger(interval int) Callback {
	return net.Logger{Interval: interval}
}

func CSVLogger(dir string) Callback {
	return net.NewCSVLogger(dir)
}

func Async(cb Callback, buffer int) Callback {
	return net.Async(cb, buffer)
}

// Training
func NewTrainer(n *Network, cfg Config, opts ...trainer.Option) (*Trainer, error) {
	return trainer.New(n, cfg, opts...)
}

func DefaultConfig() Config {
	return trainer.DefaultConfig()
}

func LoadConfig(path string) (Config, error) {
	return trainer.LoadConfig(path)
}

// Data
func LoadCSV(path string, input Shape, classes int, opts ...dataset.Option) (*Dataset, error) {
	return dataset.LoadCSV(path, input, classes, opts...)
}

func Column(values ...float64) *Matrix {
	return matrix.Column(values...)
}

func OneHot(classes, label int) *Matrix {
	return dataset.OneHot(classes, label)
}

// Model Persistence
func Load(path string, opts ...Option) (*Network, error) {
	return net.Load(path, opts...)
}
