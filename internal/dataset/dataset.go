// Package dataset loads labelled samples for training.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/FlavioCFOliveira/convnet/internal/layer"
	"github.com/FlavioCFOliveira/convnet/internal/matrix"
	"github.com/FlavioCFOliveira/convnet/internal/net"
	"github.com/FlavioCFOliveira/convnet/internal/rng"
)

// ErrMalformed is returned for rows that cannot be turned into samples.
var ErrMalformed = errors.New("malformed dataset")

// Dataset is a collection of samples sharing one input shape.
type Dataset struct {
	Samples []net.Sample
	Shape   layer.Shape
	Classes int
}

type options struct {
	header   bool
	maxValue float64
}

// Option configures LoadCSV.
type Option func(*options)

// WithHeader skips the first line.
func WithHeader() Option {
	return func(o *options) { o.header = true }
}

// WithMaxValue sets the value mapped to 1. Defaults to 255.
func WithMaxValue(v float64) Option {
	return func(o *options) { o.maxValue = v }
}

// LoadCSV reads rows of the form label,v1,v2,... where label is a class
// index and the values fill shape channel by channel, row-major within a
// channel. Values are divided by the max value and labels one-hot encoded.
func LoadCSV(path string, shape layer.Shape, classes int, opts ...Option) (*Dataset, error) {
	o := options{maxValue: 255}
	for _, opt := range opts {
		opt(&o)
	}
	if !shape.Valid() || classes < 2 || o.maxValue <= 0 {
		return nil, fmt.Errorf("%w: shape %v with %d classes", ErrMalformed, shape, classes)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = 1 + shape.Size()
	reader.ReuseRecord = true

	d := &Dataset{Shape: shape, Classes: classes}
	for line := 1; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		if line == 1 && o.header {
			continue
		}
		s, err := parseRow(record, shape, classes, o.maxValue)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrMalformed, line, err)
		}
		d.Samples = append(d.Samples, s)
	}
	if len(d.Samples) == 0 {
		return nil, fmt.Errorf("%w: csv file has no data rows", ErrMalformed)
	}

	log.Info().Str("path", path).Int("samples", len(d.Samples)).Str("shape", shape.String()).Msg("dataset loaded")
	return d, nil
}

func parseRow(record []string, shape layer.Shape, classes int, maxValue float64) (net.Sample, error) {
	label, err := strconv.Atoi(record[0])
	if err != nil {
		return net.Sample{}, fmt.Errorf("label: %w", err)
	}
	if label < 0 || label >= classes {
		return net.Sample{}, fmt.Errorf("label %d outside [0, %d)", label, classes)
	}
	values := make([]float64, shape.Size())
	for j, field := range record[1:] {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return net.Sample{}, fmt.Errorf("col %d: %w", j+1, err)
		}
		values[j] = v
	}
	floats.Scale(1/maxValue, values)
	return sample(values, shape, OneHot(classes, label)), nil
}

func sample(values []float64, shape layer.Shape, expected *matrix.Matrix) net.Sample {
	flat := matrix.NewFromSlice(len(values), 1, values)
	return net.Sample{Input: matrix.Unflatten(flat, shape.Rows, shape.Cols), Expected: expected}
}

// OneHot returns a classes×1 column with a 1 at label.
func OneHot(classes, label int) *matrix.Matrix {
	m := matrix.New(classes, 1)
	m.Set(label, 0, 1)
	return m
}

// Normalize min-max scales every input position to [0, 1] across the
// dataset. Constant positions become 0.
func (d *Dataset) Normalize() {
	if len(d.Samples) == 0 {
		return
	}
	size := d.Shape.Size()
	lo := make([]float64, size)
	hi := make([]float64, size)
	copy(lo, flatten(d.Samples[0]))
	copy(hi, lo)
	for _, s := range d.Samples[1:] {
		for i, v := range flatten(s) {
			lo[i] = min(lo[i], v)
			hi[i] = max(hi[i], v)
		}
	}
	for _, s := range d.Samples {
		i := 0
		for _, ch := range s.Input {
			data := ch.Data()
			for j := range data {
				if diff := hi[i] - lo[i]; diff != 0 {
					data[j] = (data[j] - lo[i]) / diff
				} else {
					data[j] = 0
				}
				i++
			}
		}
	}
}

func flatten(s net.Sample) []float64 {
	return matrix.Flatten(s.Input).Data()
}

// Split shuffles the samples with src and returns the first ratio of them
// as train and the rest as test. The samples themselves are shared.
func (d *Dataset) Split(ratio float64, src rand.Source) (train, test *Dataset) {
	ratio = max(0, min(1, ratio))
	perm := rng.Rand(src).Perm(len(d.Samples))
	cut := int(float64(len(d.Samples)) * ratio)
	train = &Dataset{Shape: d.Shape, Classes: d.Classes}
	test = &Dataset{Shape: d.Shape, Classes: d.Classes}
	for i, j := range perm {
		if i < cut {
			train.Samples = append(train.Samples, d.Samples[j])
		} else {
			test.Samples = append(test.Samples, d.Samples[j])
		}
	}
	return train, test
}

// Synthetic generates count noisy samples where class k lights up a
// horizontal band of rows whose position depends on k.
func Synthetic(shape layer.Shape, classes, count int, src rand.Source) *Dataset {
	noise := distuv.Uniform{Min: 0, Max: 0.2, Src: src}
	r := rng.Rand(src)
	d := &Dataset{Shape: shape, Classes: classes}
	for i := 0; i < count; i++ {
		label := r.Intn(classes)
		band := label * shape.Rows / classes
		values := make([]float64, shape.Size())
		for c := 0; c < shape.Depth; c++ {
			for y := 0; y < shape.Rows; y++ {
				for x := 0; x < shape.Cols; x++ {
					v := noise.Rand()
					if y == band {
						v = 1 - v
					}
					values[(c*shape.Rows+y)*shape.Cols+x] = v
				}
			}
		}
		d.Samples = append(d.Samples, sample(values, shape, OneHot(classes, label)))
	}
	return d
}
