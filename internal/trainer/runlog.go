package trainer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/FlavioCFOliveira/convnet/internal/net"
)

// Files written into a run directory, next to the CSV progress logs.
const (
	ConfigFile  = "config.json"
	SummaryFile = "summary.json"
	ModelFile   = "model.xml"
)

type runLog struct {
	id    string
	dir   string
	start time.Time
}

// Summary is the content of summary.json.
type Summary struct {
	ID       string    `json:"id"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Result   Result    `json:"result"`
	Error    string    `json:"error,omitempty"`
}

func newRunLog(root string, cfg Config) (*runLog, error) {
	start := time.Now()
	id := uuid.New().String()
	dir := filepath.Join(root, fmt.Sprintf("%s-%s", start.Format("20060102-150405"), id))
	r := &runLog{id: id, dir: dir, start: start}
	if err := saveJSON(dir, ConfigFile, cfg); err != nil {
		return nil, err
	}
	log.Info().Str("dir", dir).Msg("logging training run")
	return r, nil
}

func (r *runLog) finish(n *net.Network, res Result, runErr error) error {
	if err := n.Save(filepath.Join(r.dir, ModelFile)); err != nil {
		return err
	}
	s := Summary{ID: r.id, Started: r.start, Finished: time.Now(), Result: res}
	if runErr != nil {
		s.Error = runErr.Error()
	}
	return saveJSON(r.dir, SummaryFile, s)
}

func saveJSON(dir, name string, v interface{}) error {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("could not make dir: %s: %w", dir, err)
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("could not encode '%s': %w", name, err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, b, 0o644); err != nil {
		return fmt.Errorf("could not write file '%s': %w", p, err)
	}
	return nil
}

// LoadSummary reads the summary.json of a run directory.
func LoadSummary(dir string) (Summary, error) {
	var s Summary
	p := filepath.Join(dir, SummaryFile)
	b, err := os.ReadFile(p)
	if err != nil {
		return s, fmt.Errorf("could not read file '%s': %w", p, err)
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("could not unmarshal '%s': %w", p, err)
	}
	return s, nil
}
