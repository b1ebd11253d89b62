// Package loss provides cost functions over column matrices.
package loss

import (
	"fmt"
	"math"

	"github.com/FlavioCFOliveira/convnet/internal/matrix"
)

// Epsilon lower-bounds predictions before the logarithm in CrossEntropy.
const Epsilon = 2.220446049250313e-16

// Loss is a loss function with derivative.
type Loss interface {
	// Forward computes the loss between predicted and expected values.
	Forward(pred, expected *matrix.Matrix) float64

	// Backward computes the error signal fed to the output layer.
	Backward(pred, expected *matrix.Matrix) *matrix.Matrix
}

func check(name string, pred, expected *matrix.Matrix) {
	if !pred.SameShape(expected) {
		panic(fmt.Errorf("%w: %s prediction %dx%d, expected %dx%d", matrix.ErrDimensionMismatch,
			name, pred.Rows(), pred.Cols(), expected.Rows(), expected.Cols()))
	}
}

// MSE (Mean Squared Error) loss.
type MSE struct{}

// Forward computes mean((expected - pred)^2)
func (MSE) Forward(pred, expected *matrix.Matrix) float64 {
	check("MSE", pred, expected)
	diff := matrix.Sub(expected, pred)
	return matrix.MulElem(diff, diff).Sum() / float64(diff.Len())
}

// Backward computes 2/n * (pred - expected)
func (MSE) Backward(pred, expected *matrix.Matrix) *matrix.Matrix {
	check("MSE", pred, expected)
	return matrix.Sub(pred, expected).Scale(2 / float64(pred.Len()))
}

// CrossEntropy loss for classification.
//
// Epsilon is added to every prediction before use so a zero probability
// never reaches the logarithm.
type CrossEntropy struct{}

// Forward computes -sum(expected * ln(pred + eps))
func (CrossEntropy) Forward(pred, expected *matrix.Matrix) float64 {
	check("CrossEntropy", pred, expected)
	p := pred.AddScalar(Epsilon)
	return -matrix.MulElem(expected, p.Apply(math.Log)).Sum()
}

// Backward computes (pred + eps) - expected.
// For cross entropy paired with softmax the gradient simplifies to this form.
func (CrossEntropy) Backward(pred, expected *matrix.Matrix) *matrix.Matrix {
	check("CrossEntropy", pred, expected)
	return matrix.Sub(pred.AddScalar(Epsilon), expected)
}
