// Command train builds a convolutional network, trains it on a CSV dataset
// or on generated data and saves the model.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/FlavioCFOliveira/convnet/internal/activations"
	"github.com/FlavioCFOliveira/convnet/internal/dataset"
	"github.com/FlavioCFOliveira/convnet/internal/layer"
	"github.com/FlavioCFOliveira/convnet/internal/metrics"
	"github.com/FlavioCFOliveira/convnet/internal/net"
	"github.com/FlavioCFOliveira/convnet/internal/rng"
	"github.com/FlavioCFOliveira/convnet/internal/trainer"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func main() {
	var (
		configPath = flag.String("config", "", "training config JSON file")
		dataPath   = flag.String("data", "", "CSV dataset (label first); generated data when empty")
		header     = flag.Bool("header", false, "CSV has a header line")
		depth      = flag.Int("depth", 1, "input channels")
		rows       = flag.Int("rows", 28, "input rows")
		cols       = flag.Int("cols", 28, "input columns")
		classes    = flag.Int("classes", 10, "number of classes")
		samples    = flag.Int("samples", 2000, "generated samples when no dataset is given")
		split      = flag.Float64("split", 0.8, "share of samples used for training")
		kernels    = flag.Int("kernels", 8, "convolution feature maps")
		hidden     = flag.Int("hidden", 64, "hidden fully connected units")
		dropout    = flag.Float64("dropout", 0.2, "dropout rate before the output layer")
		seed       = flag.Uint64("seed", rng.DefaultSeed, "random seed, 0 seeds from the clock")
		workers    = flag.Int("workers", 0, "parallel samples per batch, 0 for all CPUs")
		modelPath  = flag.String("model", "model.xml", "output model file")
		metricsOn  = flag.String("metrics", "", "serve prometheus metrics on this address, e.g. :2112")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg := trainer.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = trainer.LoadConfig(*configPath); err != nil {
			log.Fatal().Err(err).Msg("could not load config")
		}
	}

	shape := layer.Shape{Depth: *depth, Rows: *rows, Cols: *cols}
	src := rng.New(*seed)
	if *seed == 0 {
		src = rng.NewTimeSeeded()
	}
	var data *dataset.Dataset
	if *dataPath != "" {
		var opts []dataset.Option
		if *header {
			opts = append(opts, dataset.WithHeader())
		}
		var err error
		if data, err = dataset.LoadCSV(*dataPath, shape, *classes, opts...); err != nil {
			log.Fatal().Err(err).Str("path", *dataPath).Msg("could not load dataset")
		}
	} else {
		data = dataset.Synthetic(shape, *classes, *samples, src)
		log.Info().Int("samples", *samples).Msg("generated dataset")
	}
	train, test := data.Split(*split, src)

	opts := []net.Option{net.WithSource(rng.Derive(src))}
	if *workers > 0 {
		opts = append(opts, net.WithWorkers(*workers))
	}
	network, err := net.Build(shape, []net.Template{
		net.Convolution(5, *kernels, 1, activations.ReLU{}),
		net.Pooling(2, 2),
		net.FullyConnected(*hidden, activations.ReLU{}),
		net.Dropout(*dropout),
		net.FullyConnected(*classes, activations.Softmax{}),
	}, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("could not build network")
	}
	network.Summary(os.Stderr)

	callbacks := []trainer.Option{trainer.WithCallback(net.Logger{})}
	if *metricsOn != "" {
		cb, err := metrics.NewCallback(prometheus.DefaultRegisterer)
		if err != nil {
			log.Fatal().Err(err).Msg("could not register metrics")
		}
		callbacks = append(callbacks, trainer.WithCallback(net.Async(cb, 4096)))
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsOn, nil); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("addr", *metricsOn).Msg("metrics server stopped")
			}
		}()
	}

	tr, err := trainer.New(network, cfg, callbacks...)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid training config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	res, err := tr.Run(ctx, train.Samples)
	if err != nil && res.Status != trainer.StatusCancelled {
		log.Error().Err(err).Str("status", res.Status.String()).Msg("training failed")
	}

	if len(test.Samples) > 0 {
		correctness, err := network.Correctness(context.Background(), test.Samples)
		if err != nil {
			log.Fatal().Err(err).Msg("could not evaluate")
		}
		log.Info().Int("samples", len(test.Samples)).Float64("correctness", correctness).Msg("test set")
	}

	if res.Status == trainer.StatusDiverged {
		os.Exit(1)
	}
	if err := network.Save(*modelPath); err != nil {
		log.Fatal().Err(err).Msg("could not save model")
	}
}
