// Package opt provides learning rate schedulers.
package opt

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Scheduler adjusts the learning rate from per-batch progress.
type Scheduler interface {
	// Observe records a batch's mean error and returns the learning rate
	// to use next and whether it changed.
	Observe(epoch int, percent, err float64, elapsed time.Duration, lr float64) (float64, bool)
}

// ErrInvalidConfig is returned for unusable scheduler settings.
var ErrInvalidConfig = errors.New("invalid scheduler configuration")

// Decay returns a modifier multiplying the learning rate by factor.
func Decay(factor float64) func(float64) float64 {
	return func(lr float64) float64 { return lr * factor }
}

// PatienceConfig configures a Patience scheduler.
type PatienceConfig struct {
	// IgnorePercent skips this share of the first epoch, while the error
	// is still falling steeply from its initial value.
	IgnorePercent float64
	// WindowSize is the number of batch errors fitted at a time.
	WindowSize int
	// MinLearningRate bounds the rate from below.
	MinLearningRate float64
	// Modifier shrinks the rate. Defaults to Decay(0.5).
	Modifier func(float64) float64
}

// Patience shrinks the learning rate whenever a window of batch errors
// stops trending downward. The trend is the slope of a least squares fit
// of error against elapsed time; the window is cleared after every fit.
// A Patience is not safe for concurrent use.
type Patience struct {
	cfg   PatienceConfig
	errs  []float64
	times []float64
}

// NewPatience validates cfg and returns a scheduler with an empty window.
func NewPatience(cfg PatienceConfig) (*Patience, error) {
	switch {
	case cfg.WindowSize < 2:
		return nil, fmt.Errorf("%w: window size %d, need at least 2", ErrInvalidConfig, cfg.WindowSize)
	case cfg.IgnorePercent < 0 || cfg.IgnorePercent > 100:
		return nil, fmt.Errorf("%w: ignore percent %v", ErrInvalidConfig, cfg.IgnorePercent)
	case cfg.MinLearningRate < 0 || math.IsNaN(cfg.MinLearningRate):
		return nil, fmt.Errorf("%w: minimum learning rate %v", ErrInvalidConfig, cfg.MinLearningRate)
	}
	if cfg.Modifier == nil {
		cfg.Modifier = Decay(0.5)
	}
	return &Patience{
		cfg:   cfg,
		errs:  make([]float64, 0, cfg.WindowSize),
		times: make([]float64, 0, cfg.WindowSize),
	}, nil
}

// Observe implements Scheduler.
func (p *Patience) Observe(epoch int, percent, err float64, elapsed time.Duration, lr float64) (float64, bool) {
	if epoch == 0 && percent <= p.cfg.IgnorePercent {
		return lr, false
	}
	p.errs = append(p.errs, err)
	p.times = append(p.times, elapsed.Seconds())
	if len(p.errs) < p.cfg.WindowSize {
		return lr, false
	}

	slope := p.slope()
	p.Reset()
	if slope < 0 {
		return lr, false
	}
	next := math.Max(p.cfg.Modifier(lr), p.cfg.MinLearningRate)
	log.Debug().
		Int("epoch", epoch).
		Float64("slope", slope).
		Float64("from", lr).
		Float64("to", next).
		Msg("error plateau, learning rate adjusted")
	return next, next != lr
}

// Window returns the number of errors currently held.
func (p *Patience) Window() int {
	return len(p.errs)
}

// Reset clears the window.
func (p *Patience) Reset() {
	p.errs = p.errs[:0]
	p.times = p.times[:0]
}

func (p *Patience) slope() float64 {
	x := p.times
	if floats.Max(x)-floats.Min(x) == 0 {
		x = make([]float64, len(p.errs))
		floats.Span(x, 0, float64(len(x)-1))
	}
	_, beta := stat.LinearRegression(x, p.errs, nil, false)
	return beta
}
