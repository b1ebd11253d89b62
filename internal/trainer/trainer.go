// Package trainer drives a network through a configured training run with
// adaptive learning rate, divergence detection, re-initialisation and run
// logging.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/FlavioCFOliveira/convnet/internal/net"
	"github.com/FlavioCFOliveira/convnet/internal/opt"
)

var (
	// ErrNumericDivergence is returned when a sample error or the learning
	// rate becomes NaN or infinite.
	ErrNumericDivergence = errors.New("training diverged")
	// ErrRunning is returned when Run is called while a run is in progress.
	ErrRunning = errors.New("training already running")
)

// Status is the outcome of a run.
type Status int

const (
	StatusCompleted Status = iota
	StatusCancelled
	StatusDiverged
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusDiverged:
		return "diverged"
	default:
		return "failed"
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(b []byte) error {
	for _, v := range []Status{StatusCompleted, StatusCancelled, StatusDiverged, StatusFailed} {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", b)
}

// Result summarises a run. Epochs and Correctness describe the last fully
// completed epoch of the final attempt.
type Result struct {
	Status       Status        `json:"status"`
	Epochs       int           `json:"epochs"`
	Correctness  float64       `json:"correctness"`
	LearningRate float64       `json:"learning_rate"`
	Attempts     int           `json:"attempts"`
	Duration     time.Duration `json:"duration"`
	LogDir       string        `json:"log_dir,omitempty"`
	Err          error         `json:"-"`
}

// Trainer runs training on a network. A Trainer runs at most one training
// at a time.
type Trainer struct {
	network   *net.Network
	cfg       Config
	scheduler opt.Scheduler
	callbacks net.Callbacks

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithCallback adds a progress callback to every run.
func WithCallback(cb net.Callback) Option {
	return func(t *Trainer) { t.callbacks = append(t.callbacks, cb) }
}

// WithScheduler replaces the scheduler built from the config.
func WithScheduler(s opt.Scheduler) Option {
	return func(t *Trainer) { t.scheduler = s }
}

// New validates cfg and returns a trainer for network.
func New(network *net.Network, cfg Config, opts ...Option) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sched, err := cfg.scheduler()
	if err != nil {
		return nil, err
	}
	t := &Trainer{network: network, cfg: cfg, scheduler: sched}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Start runs the training in the background. The channel yields the result,
// with Err set on failure, and is then closed.
func (t *Trainer) Start(ctx context.Context, data []net.Sample) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		res, err := t.Run(ctx, data)
		res.Err = err
		out <- res
	}()
	return out
}

// Stop cancels the run in progress, if any.
func (t *Trainer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
}

// Run trains the network on data and blocks until the run ends.
func (t *Trainer) Run(ctx context.Context, data []net.Sample) (Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	t.mu.Lock()
	if t.cancel != nil {
		t.mu.Unlock()
		return Result{Status: StatusFailed}, ErrRunning
	}
	t.cancel = cancel
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.cancel = nil
		t.mu.Unlock()
	}()

	start := time.Now()
	res := Result{}

	var run *runLog
	if t.cfg.LogDir != "" {
		var err error
		if run, err = newRunLog(t.cfg.LogDir, t.cfg); err != nil {
			res.Status = StatusFailed
			return res, err
		}
		res.LogDir = run.dir
	}

	log.Info().
		Int("samples", len(data)).
		Int("epochs", t.cfg.Epochs).
		Int("batch_size", t.cfg.BatchSize).
		Float64("learning_rate", t.cfg.LearningRate).
		Msg("training run started")

	var err error
	for {
		res.Attempts++
		var m *monitor
		m, err = t.attempt(ctx, cancel, data, run)
		res.Epochs, res.Correctness = m.epochs, m.correctness
		res.LearningRate = t.network.LearningRate()
		if err != nil || m.diverged.Load() {
			res.Status, err = t.classify(m, err)
			break
		}
		res.Status = StatusCompleted
		if !t.shouldReinit(res) {
			break
		}
		log.Warn().
			Int("attempt", res.Attempts).
			Float64("correctness", res.Correctness).
			Float64("required", t.cfg.Reinit.MinCorrectness).
			Msg("correctness too low, reinitializing")
		if err = t.network.Reinitialize(); err != nil {
			res.Status = StatusFailed
			break
		}
	}
	res.Duration = time.Since(start)

	if run != nil {
		if serr := run.finish(t.network, res, err); serr != nil {
			log.Error().Err(serr).Str("dir", run.dir).Msg("could not save run")
			if err == nil {
				res.Status, err = StatusFailed, serr
			}
		}
	}

	ev := log.Info()
	if res.Status != StatusCompleted {
		ev = log.Warn().Err(err)
	}
	ev.Str("status", res.Status.String()).
		Int("epochs", res.Epochs).
		Float64("correctness", res.Correctness).
		Int("attempts", res.Attempts).
		Dur("duration", res.Duration).
		Msg("training run finished")
	return res, err
}

func (t *Trainer) attempt(ctx context.Context, cancel context.CancelFunc, data []net.Sample, run *runLog) (*monitor, error) {
	if s, ok := t.scheduler.(interface{ Reset() }); ok {
		s.Reset()
	}
	m := &monitor{network: t.network, scheduler: t.scheduler, cancel: cancel}
	cbs := net.Callbacks{m}
	if run != nil {
		cbs = append(cbs, net.Async(net.NewCSVLogger(run.dir), 1024))
	}
	cbs = append(cbs, t.callbacks...)
	err := t.network.Train(ctx, data, t.cfg.LearningRate, t.cfg.Epochs, t.cfg.BatchSize, cbs)
	return m, err
}

func (t *Trainer) classify(m *monitor, err error) (Status, error) {
	switch {
	case m.diverged.Load():
		return StatusDiverged, fmt.Errorf("%w: %s", ErrNumericDivergence, m.reason())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StatusCancelled, err
	default:
		return StatusFailed, err
	}
}

func (t *Trainer) shouldReinit(res Result) bool {
	r := t.cfg.Reinit
	return r != nil && res.Correctness < r.MinCorrectness && res.Attempts <= r.MaxAttempts
}

// monitor watches a single attempt: it feeds the scheduler, detects
// divergence and records the last completed epoch.
type monitor struct {
	net.BaseCallback
	network   *net.Network
	scheduler opt.Scheduler
	cancel    context.CancelFunc
	start     time.Time

	diverged atomic.Bool
	mu       sync.Mutex
	why      string

	epochs      int
	correctness float64
}

func (m *monitor) OnTrainBegin(n *net.Network) {
	m.start = time.Now()
}

func (m *monitor) OnSample(epoch, index int, err float64) {
	if !finite(err) {
		m.diverge(fmt.Sprintf("epoch %d sample %d error %v", epoch, index, err))
	}
}

func (m *monitor) OnBatchEnd(epoch int, percent, meanErr float64) {
	if !finite(meanErr) {
		m.diverge(fmt.Sprintf("epoch %d batch error %v", epoch, meanErr))
		return
	}
	if m.scheduler == nil {
		return
	}
	lr := m.network.LearningRate()
	next, changed := m.scheduler.Observe(epoch, percent, meanErr, time.Since(m.start), lr)
	if !finite(next) {
		m.diverge(fmt.Sprintf("learning rate %v", next))
		return
	}
	if changed {
		log.Warn().Int("epoch", epoch).Float64("from", lr).Float64("to", next).Msg("learning rate changed")
		m.network.SetLearningRate(next)
	}
}

func (m *monitor) OnEpochEnd(epoch int, correctness float64) {
	m.epochs, m.correctness = epoch+1, correctness
}

func (m *monitor) diverge(why string) {
	if !m.diverged.CompareAndSwap(false, true) {
		return
	}
	m.mu.Lock()
	m.why = why
	m.mu.Unlock()
	log.Warn().Str("reason", why).Msg("numeric divergence, stopping")
	m.cancel()
}

func (m *monitor) reason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.why
}
