package matrix

import (
	"errors"
	"fmt"
)

// Error is the sentinel type used for shape and bounds violations.
// Operations panic with values wrapping an Error, the same way gonum/mat
// panics with mat.ErrShape. Use Maybe to turn such panics into errors.
type Error struct{ string }

func (err Error) Error() string { return err.string }

var (
	ErrDimensionMismatch = Error{"matrix: dimension mismatch"}
	ErrIndexOutOfRange   = Error{"matrix: index out of range"}
	ErrNotColumn         = Error{"matrix: not a single-column matrix"}
	ErrEmpty             = Error{"matrix: zero-sized matrix"}
)

func mismatch(op string, a, b *Matrix) error {
	return fmt.Errorf("%w: %s %dx%d with %dx%d", ErrDimensionMismatch, op, a.rows, a.cols, b.rows, b.cols)
}

// Maybe runs fn and returns any matrix panic as an error.
// Panics that do not wrap an Error are re-raised.
func Maybe(fn func()) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		e, ok := r.(error)
		if !ok {
			panic(r)
		}
		var me Error
		if !errors.As(e, &me) {
			panic(r)
		}
		err = e
	}()
	fn()
	return nil
}
