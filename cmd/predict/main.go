// Command predict loads a saved model and classifies the rows of a CSV
// dataset, reporting the per-row prediction and the overall correctness.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/FlavioCFOliveira/convnet/internal/dataset"
	"github.com/FlavioCFOliveira/convnet/internal/net"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func main() {
	var (
		modelPath = flag.String("model", "model.xml", "model file written by train")
		dataPath  = flag.String("data", "", "CSV dataset (label first)")
		header    = flag.Bool("header", false, "CSV has a header line")
		maxValue  = flag.Float64("max", 255, "input value mapped to 1")
		quiet     = flag.Bool("q", false, "only print the correctness")
	)
	flag.Parse()
	if *dataPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	network, err := net.Load(*modelPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *modelPath).Msg("could not load model")
	}

	opts := []dataset.Option{dataset.WithMaxValue(*maxValue)}
	if *header {
		opts = append(opts, dataset.WithHeader())
	}
	classes := network.OutputShape().Rows
	data, err := dataset.LoadCSV(*dataPath, network.InputShape(), classes, opts...)
	if err != nil {
		log.Fatal().Err(err).Str("path", *dataPath).Msg("could not load dataset")
	}

	if !*quiet {
		for i, s := range data.Samples {
			out, err := network.Predict(s.Input)
			if err != nil {
				log.Fatal().Err(err).Int("row", i).Msg("prediction failed")
			}
			k := out.IndexOfMax()
			fmt.Printf("%d\t%d\t%d\t%.4f\n", i, s.Expected.IndexOfMax(), k, out.At(k, 0))
		}
	}

	correctness, err := network.Correctness(context.Background(), data.Samples)
	if err != nil {
		log.Fatal().Err(err).Msg("could not evaluate")
	}
	fmt.Printf("correctness: %.2f%%\n", correctness)
}
