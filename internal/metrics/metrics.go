// Package metrics exports training progress as prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/FlavioCFOliveira/convnet/internal/net"
)

// Namespace prefixes every metric name.
const Namespace = "convnet"

// Callback is a net.Callback updating prometheus collectors.
type Callback struct {
	net.BaseCallback
	network *net.Network

	LearningRate prometheus.Gauge
	BatchError   prometheus.Gauge
	Correctness  prometheus.Gauge
	Epoch        prometheus.Gauge
	Samples      prometheus.Counter
	Batches      prometheus.Counter
	Runs         *prometheus.CounterVec
}

// NewCallback creates the collectors and registers them with reg.
func NewCallback(reg prometheus.Registerer) (*Callback, error) {
	c := &Callback{
		LearningRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "learning_rate",
			Help:      "Learning rate used by the last batch.",
		}),
		BatchError: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "batch_error",
			Help:      "Mean error of the last batch.",
		}),
		Correctness: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "correctness_percent",
			Help:      "Correctness measured at the last epoch end.",
		}),
		Epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "epoch",
			Help:      "Index of the epoch in progress.",
		}),
		Samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "samples_total",
			Help:      "Samples backpropagated.",
		}),
		Batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "batches_total",
			Help:      "Batches applied.",
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "runs_total",
			Help:      "Training runs by phase.",
		}, []string{"phase"}),
	}
	for _, col := range c.collectors() {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Callback) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.LearningRate, c.BatchError, c.Correctness, c.Epoch, c.Samples, c.Batches, c.Runs,
	}
}

func (c *Callback) OnTrainBegin(n *net.Network) {
	c.network = n
	c.LearningRate.Set(n.LearningRate())
	c.Runs.WithLabelValues("started").Inc()
}

func (c *Callback) OnTrainEnd(n *net.Network) {
	c.Runs.WithLabelValues("finished").Inc()
}

func (c *Callback) OnSample(epoch, index int, err float64) {
	c.Samples.Inc()
}

func (c *Callback) OnBatchEnd(epoch int, percent, meanErr float64) {
	c.Batches.Inc()
	c.BatchError.Set(meanErr)
	c.Epoch.Set(float64(epoch))
	if c.network != nil {
		c.LearningRate.Set(c.network.LearningRate())
	}
}

func (c *Callback) OnEpochEnd(epoch int, correctness float64) {
	c.Correctness.Set(correctness)
}
