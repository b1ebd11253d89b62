package net

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Callback receives training progress. OnSample is called concurrently
// from the batch workers; the other methods are called from the training
// loop between batches.
type Callback interface {
	OnTrainBegin(n *Network)
	OnTrainEnd(n *Network)
	OnSample(epoch, index int, err float64)
	OnBatchEnd(epoch int, percent, meanErr float64)
	OnEpochEnd(epoch int, correctness float64)
}

// BaseCallback provides default empty implementations for Callback.
type BaseCallback struct{}

func (BaseCallback) OnTrainBegin(n *Network)                        {}
func (BaseCallback) OnTrainEnd(n *Network)                          {}
func (BaseCallback) OnSample(epoch, index int, err float64)         {}
func (BaseCallback) OnBatchEnd(epoch int, percent, meanErr float64) {}
func (BaseCallback) OnEpochEnd(epoch int, correctness float64)      {}

// Callbacks fans every event out to each callback in order.
type Callbacks []Callback

func (cs Callbacks) OnTrainBegin(n *Network) {
	for _, c := range cs {
		c.OnTrainBegin(n)
	}
}

func (cs Callbacks) OnTrainEnd(n *Network) {
	for _, c := range cs {
		c.OnTrainEnd(n)
	}
}

func (cs Callbacks) OnSample(epoch, index int, err float64) {
	for _, c := range cs {
		c.OnSample(epoch, index, err)
	}
}

func (cs Callbacks) OnBatchEnd(epoch int, percent, meanErr float64) {
	for _, c := range cs {
		c.OnBatchEnd(epoch, percent, meanErr)
	}
}

func (cs Callbacks) OnEpochEnd(epoch int, correctness float64) {
	for _, c := range cs {
		c.OnEpochEnd(epoch, correctness)
	}
}

// AsyncCallback delivers sample, batch and epoch events to a wrapped
// callback on its own goroutine through a bounded queue. Events that do
// not fit in the queue are dropped, so a slow consumer never stalls
// training. Begin and end events are delivered synchronously; OnTrainEnd
// waits for queued events to drain first.
type AsyncCallback struct {
	next   Callback
	buffer int

	mu      sync.Mutex
	events  chan func()
	done    chan struct{}
	dropped atomic.Uint64
}

// Async wraps cb with a queue of the given capacity.
func Async(cb Callback, buffer int) *AsyncCallback {
	if buffer < 1 {
		buffer = 1
	}
	return &AsyncCallback{next: cb, buffer: buffer}
}

// Dropped returns how many events were discarded because the queue was full.
func (a *AsyncCallback) Dropped() uint64 {
	return a.dropped.Load()
}

func (a *AsyncCallback) OnTrainBegin(n *Network) {
	a.next.OnTrainBegin(n)
	events := make(chan func(), a.buffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			ev()
		}
	}()
	a.mu.Lock()
	a.events, a.done = events, done
	a.mu.Unlock()
}

func (a *AsyncCallback) OnTrainEnd(n *Network) {
	a.mu.Lock()
	events, done := a.events, a.done
	a.events, a.done = nil, nil
	a.mu.Unlock()
	if events != nil {
		close(events)
		<-done
	}
	if d := a.Dropped(); d > 0 {
		log.Warn().Uint64("dropped", d).Msg("progress events dropped")
	}
	a.next.OnTrainEnd(n)
}

func (a *AsyncCallback) OnSample(epoch, index int, err float64) {
	a.push(func() { a.next.OnSample(epoch, index, err) })
}

func (a *AsyncCallback) OnBatchEnd(epoch int, percent, meanErr float64) {
	a.push(func() { a.next.OnBatchEnd(epoch, percent, meanErr) })
}

func (a *AsyncCallback) OnEpochEnd(epoch int, correctness float64) {
	a.push(func() { a.next.OnEpochEnd(epoch, correctness) })
}

func (a *AsyncCallback) push(ev func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.events == nil {
		a.dropped.Add(1)
		return
	}
	select {
	case a.events <- ev:
	default:
		a.dropped.Add(1)
	}
}

// Logger logs batch and epoch progress through zerolog.
type Logger struct {
	BaseCallback
	// Interval logs every Interval-th epoch; zero logs every epoch.
	Interval int
	// Batches also logs every batch at debug level.
	Batches bool
}

func (c Logger) OnTrainBegin(n *Network) {
	log.Info().
		Int("layers", len(n.Layers())).
		Float64("learning_rate", n.LearningRate()).
		Int("workers", n.Workers()).
		Msg("training started")
}

func (c Logger) OnBatchEnd(epoch int, percent, meanErr float64) {
	if c.Batches {
		log.Debug().Int("epoch", epoch).Float64("percent", percent).Float64("error", meanErr).Msg("batch")
	}
}

func (c Logger) OnEpochEnd(epoch int, correctness float64) {
	if c.Interval > 0 && epoch%c.Interval != 0 {
		return
	}
	log.Info().Int("epoch", epoch).Float64("correctness", correctness).Msg("epoch")
}

func (c Logger) OnTrainEnd(n *Network) {
	log.Info().Float64("correctness", n.LastCorrectness()).Msg("training finished")
}
