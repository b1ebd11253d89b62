package net

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// CSVLogger writes per-batch and per-epoch progress to two CSV files in Dir.
type CSVLogger struct {
	BaseCallback
	Dir string

	mu      sync.Mutex
	files   []*os.File
	batches *csv.Writer
	epochs  *csv.Writer
	start   time.Time
	lr      func() float64
}

// Iteration and epoch file names written by CSVLogger.
const (
	IterationsFile = "iterations.csv"
	EpochsFile     = "epochs.csv"
)

// NewCSVLogger creates a CSVLogger writing into dir.
func NewCSVLogger(dir string) *CSVLogger {
	return &CSVLogger{Dir: dir}
}

func (c *CSVLogger) OnTrainBegin(n *Network) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		log.Error().Err(err).Str("dir", c.Dir).Msg("csv logger disabled")
		return
	}
	batches, err := c.open(IterationsFile, "epoch", "percent", "error", "learning_rate", "seconds")
	if err != nil {
		return
	}
	epochs, err := c.open(EpochsFile, "epoch", "correctness", "learning_rate", "seconds")
	if err != nil {
		c.closeFiles()
		return
	}
	c.batches, c.epochs = batches, epochs
	c.start = time.Now()
	c.lr = n.LearningRate
}

func (c *CSVLogger) open(name string, header ...string) (*csv.Writer, error) {
	path := filepath.Join(c.Dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Error().Err(err).Str("file", path).Msg("could not open csv log")
		return nil, err
	}
	c.files = append(c.files, file)
	w := csv.NewWriter(file)
	if info, err := file.Stat(); err == nil && info.Size() == 0 {
		_ = w.Write(header)
		w.Flush()
	}
	return w, nil
}

func (c *CSVLogger) OnBatchEnd(epoch int, percent, meanErr float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.batches == nil {
		return
	}
	c.write(c.batches, strconv.Itoa(epoch), fmtFloat(percent), fmtFloat(meanErr), fmtFloat(c.lr()), c.elapsed())
}

func (c *CSVLogger) OnEpochEnd(epoch int, correctness float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epochs == nil {
		return
	}
	c.write(c.epochs, strconv.Itoa(epoch), fmtFloat(correctness), fmtFloat(c.lr()), c.elapsed())
}

func (c *CSVLogger) OnTrainEnd(n *Network) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeFiles()
}

func (c *CSVLogger) write(w *csv.Writer, record ...string) {
	if err := w.Write(record); err != nil {
		log.Error().Err(err).Msg("could not write csv record")
	}
	w.Flush()
}

func (c *CSVLogger) elapsed() string {
	return strconv.FormatFloat(time.Since(c.start).Seconds(), 'f', 3, 64)
}

func (c *CSVLogger) closeFiles() {
	if c.batches != nil {
		c.batches.Flush()
	}
	if c.epochs != nil {
		c.epochs.Flush()
	}
	for _, f := range c.files {
		f.Close()
	}
	c.files, c.batches, c.epochs = nil, nil, nil
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
