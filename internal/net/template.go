package net

import (
	"github.com/FlavioCFOliveira/convnet/internal/activations"
	"github.com/FlavioCFOliveira/convnet/internal/layer"
)

// Template declares one layer of a network before it is built.
type Template layer.Descriptor

// FullyConnected declares a dense layer of size units.
func FullyConnected(size int, act activations.Activation) Template {
	return Template{Kind: layer.KindFullyConnected, Size: size, Activation: act.String()}
}

// Convolution declares a convolution producing depth feature maps.
func Convolution(kernelSize, depth, stride int, act activations.Activation) Template {
	return Template{
		Kind:       layer.KindConvolution,
		KernelSize: kernelSize,
		Depth:      depth,
		Stride:     stride,
		Activation: act.String(),
	}
}

// Pooling declares a max pooling layer.
func Pooling(poolSize, stride int) Template {
	return Template{Kind: layer.KindPooling, PoolSize: poolSize, Stride: stride}
}

// Dropout declares a dropout layer.
func Dropout(rate float64) Template {
	return Template{Kind: layer.KindDropout, DropoutRate: rate}
}

// Reshape declares the flattening bridge explicitly. Build inserts one
// automatically when it is omitted.
func Reshape() Template {
	return Template{Kind: layer.KindReshape}
}
