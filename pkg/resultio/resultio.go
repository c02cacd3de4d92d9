// Package resultio persists and loads run-result files under spec.md §6's
// results/<runLabel>/benchmark-<timestamp>.json layout. File-system access
// itself is the only "real" part; parsing/printing a human-facing report is
// out of scope for this harness core.
package resultio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fairyhunter13/benchforge/internal/domain"
)

// RunFile is the top-level persisted shape for one benchmark run.
type RunFile struct {
	RunLabel  string                         `json:"runLabel"`
	Timestamp time.Time                      `json:"timestamp"`
	Results   []domain.ParallelTaskResult    `json:"results"`
}

// Path returns the canonical path for a run's result file.
func Path(outputDir, runLabel string, timestamp time.Time) string {
	fname := fmt.Sprintf("benchmark-%d.json", timestamp.UnixMilli())
	return filepath.Join(outputDir, runLabel, fname)
}

// Write persists a RunFile, creating the run's directory as needed.
func Write(outputDir, runLabel string, timestamp time.Time, results []domain.ParallelTaskResult) (string, error) {
	dir := filepath.Join(outputDir, runLabel)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("op=resultio.Write: %w", err)
	}

	path := Path(outputDir, runLabel, timestamp)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("op=resultio.Write: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(RunFile{RunLabel: runLabel, Timestamp: timestamp, Results: results}); err != nil {
		return "", fmt.Errorf("op=resultio.Write: %w", err)
	}
	return path, nil
}

// Read loads a previously persisted run file. It tolerates two shapes for
// backward-compatible consumption: a bare array of ParallelTaskResult, or the
// {"results": [...]} wrapper this package itself writes.
func Read(path string) (RunFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RunFile{}, fmt.Errorf("op=resultio.Read: %w", err)
	}

	var wrapped RunFile
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Results != nil {
		return wrapped, nil
	}

	var bare []domain.ParallelTaskResult
	if err := json.Unmarshal(data, &bare); err != nil {
		return RunFile{}, fmt.Errorf("%w: unrecognized result file shape at %s", domain.ErrInvalidArgument, path)
	}
	return RunFile{Results: bare}, nil
}
