// Package activations provides activation functions over column matrices.
package activations

import (
	"fmt"
	"math"

	"github.com/FlavioCFOliveira/convnet/internal/matrix"
)

// SoftmaxEpsilon is added to the softmax denominator.
const SoftmaxEpsilon = 1e-10

// Activation is an activation function with derivative.
type Activation interface {
	// Activate computes f(z) elementwise (or over the whole vector for Softmax).
	Activate(z *matrix.Matrix) *matrix.Matrix

	// Derivative computes f'(z) given the pre-activation values z.
	Derivative(z *matrix.Matrix) *matrix.Matrix

	// String returns the name used in model files.
	String() string
}

// ReLU activation function.
type ReLU struct{}

// Activate computes max(0, x)
func (ReLU) Activate(z *matrix.Matrix) *matrix.Matrix {
	return z.Apply(func(x float64) float64 { return math.Max(0, x) })
}

// Derivative returns 1 if x >= 0, else 0.
// The sub-gradient at 0 is taken as 1.
func (ReLU) Derivative(z *matrix.Matrix) *matrix.Matrix {
	return z.Apply(func(x float64) float64 {
		if x >= 0 {
			return 1
		}
		return 0
	})
}

func (ReLU) String() string { return "ReLU" }

// Sigmoid activation function.
type Sigmoid struct{}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Activate computes sigmoid(x)
func (Sigmoid) Activate(z *matrix.Matrix) *matrix.Matrix {
	return z.Apply(sigmoid)
}

// Derivative computes sigmoid(x) * (1 - sigmoid(x))
func (Sigmoid) Derivative(z *matrix.Matrix) *matrix.Matrix {
	return z.Apply(func(x float64) float64 {
		s := sigmoid(x)
		return s * (1 - s)
	})
}

func (Sigmoid) String() string { return "Sigmoid" }

// Tanh activation function.
type Tanh struct{}

// Activate computes tanh(x)
func (Tanh) Activate(z *matrix.Matrix) *matrix.Matrix {
	return z.Apply(math.Tanh)
}

// Derivative computes 1 - tanh(x)^2
func (Tanh) Derivative(z *matrix.Matrix) *matrix.Matrix {
	return z.Apply(func(x float64) float64 {
		t := math.Tanh(x)
		return 1 - t*t
	})
}

func (Tanh) String() string { return "Tanh" }

// Softmax activation function for the output layer.
type Softmax struct{}

// Activate computes exp(x_i) / (sum_j exp(x_j) + eps) over the whole matrix.
func (Softmax) Activate(z *matrix.Matrix) *matrix.Matrix {
	e := z.Apply(math.Exp)
	return e.Scale(1 / (e.Sum() + SoftmaxEpsilon))
}

// Derivative returns s*(1-s) elementwise where s = softmax(z).
//
// This is the diagonal of the softmax Jacobian only. Softmax is always
// paired with cross-entropy here, whose backward pass it scales.
func (s Softmax) Derivative(z *matrix.Matrix) *matrix.Matrix {
	return s.Activate(z).Apply(func(v float64) float64 { return v * (1 - v) })
}

func (Softmax) String() string { return "Softmax" }

// Parse returns the activation registered under name.
func Parse(name string) (Activation, error) {
	switch name {
	case "ReLU":
		return ReLU{}, nil
	case "Sigmoid":
		return Sigmoid{}, nil
	case "Tanh":
		return Tanh{}, nil
	case "Softmax":
		return Softmax{}, nil
	default:
		return nil, fmt.Errorf("unknown activation %q", name)
	}
}

// PrefersHe reports whether weights feeding act should use He initialisation
// rather than Xavier.
func PrefersHe(act Activation) bool {
	_, ok := act.(ReLU)
	return ok
}
