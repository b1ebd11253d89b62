package trainer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/FlavioCFOliveira/convnet/internal/opt"
)

// ErrInvalidConfig is returned for unusable training settings.
var ErrInvalidConfig = errors.New("invalid trainer configuration")

// Config holds the hyperparameters of a training run.
type Config struct {
	LearningRate    float64         `json:"learning_rate"`
	MinLearningRate float64         `json:"min_learning_rate"`
	Epochs          int             `json:"epochs"`
	BatchSize       int             `json:"batch_size"`
	Patience        *PatienceConfig `json:"patience,omitempty"`
	Reinit          *ReinitConfig   `json:"reinit,omitempty"`
	// LogDir enables run logging into a fresh subdirectory of LogDir.
	LogDir string `json:"log_dir,omitempty"`
}

// PatienceConfig enables the patience learning rate scheduler.
type PatienceConfig struct {
	IgnorePercent float64 `json:"ignore_percent"`
	WindowSize    int     `json:"window_size"`
	DecayFactor   float64 `json:"decay_factor"`
}

// ReinitConfig re-draws the weights and trains again while the final
// correctness stays below MinCorrectness, at most MaxAttempts times.
type ReinitConfig struct {
	MinCorrectness float64 `json:"min_correctness"`
	MaxAttempts    int     `json:"max_attempts"`
}

// DefaultConfig returns the settings used for fields a config file omits.
func DefaultConfig() Config {
	return Config{
		LearningRate:    0.01,
		MinLearningRate: 0.0001,
		Epochs:          10,
		BatchSize:       32,
	}
}

// LoadConfig reads a JSON config file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("could not load config '%s': %w", path, err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("could not unmarshal config '%s': %w: %w", path, ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	log.Info().Str("path", path).Msg("loaded training config")
	return cfg, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Validate checks the ranges of every field.
func (c Config) Validate() error {
	switch {
	case !finite(c.LearningRate) || c.LearningRate <= 0:
		return fmt.Errorf("%w: learning rate %v", ErrInvalidConfig, c.LearningRate)
	case !finite(c.MinLearningRate) || c.MinLearningRate < 0 || c.MinLearningRate > c.LearningRate:
		return fmt.Errorf("%w: minimum learning rate %v", ErrInvalidConfig, c.MinLearningRate)
	case c.Epochs < 1:
		return fmt.Errorf("%w: %d epochs", ErrInvalidConfig, c.Epochs)
	case c.BatchSize < 1:
		return fmt.Errorf("%w: batch size %d", ErrInvalidConfig, c.BatchSize)
	}
	if p := c.Patience; p != nil {
		if p.DecayFactor <= 0 || p.DecayFactor >= 1 {
			return fmt.Errorf("%w: decay factor %v outside (0, 1)", ErrInvalidConfig, p.DecayFactor)
		}
		if _, err := c.scheduler(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	if r := c.Reinit; r != nil {
		if r.MinCorrectness < 0 || r.MinCorrectness > 100 || r.MaxAttempts < 0 {
			return fmt.Errorf("%w: reinit %+v", ErrInvalidConfig, *r)
		}
	}
	return nil
}

// scheduler builds the configured scheduler, or nil without patience.
func (c Config) scheduler() (opt.Scheduler, error) {
	if c.Patience == nil {
		return nil, nil
	}
	return opt.NewPatience(opt.PatienceConfig{
		IgnorePercent:   c.Patience.IgnorePercent,
		WindowSize:      c.Patience.WindowSize,
		MinLearningRate: c.MinLearningRate,
		Modifier:        opt.Decay(c.Patience.DecayFactor),
	})
}
