// Package telemetry writes the run's measurements to CSV files next to a YAML copy of the
// configuration that produced them.
package telemetry

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/Carmen-Shannon/oxy-flock/engine/config"
)

// OutputManager writes timings.csv and stages.csv into one directory. A nil *OutputManager
// is valid and discards everything. Not safe for concurrent use.
type OutputManager struct {
	dir        string
	timingFile *os.File
	stageFile  *os.File

	timingHeaderWritten bool
	stageHeaderWritten  bool
}

// NewOutputManager creates the output directory and its CSV files.
// Returns nil if dir is empty (output disabled).
//
// Parameters:
//   - dir: the output directory
//
// Returns:
//   - *OutputManager: the manager, nil when dir is empty
//   - error: a file system error
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Printf("[Telemetry] failed to create %s: %v", dir, err)
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}
	f, err := os.Create(filepath.Join(dir, "timings.csv"))
	if err != nil {
		return nil, fmt.Errorf("creating timings.csv: %w", err)
	}
	om.timingFile = f

	f, err = os.Create(filepath.Join(dir, "stages.csv"))
	if err != nil {
		om.timingFile.Close()
		return nil, fmt.Errorf("creating stages.csv: %w", err)
	}
	om.stageFile = f
	return om, nil
}

// WriteConfig saves the configuration as config.yaml.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, "config.yaml"))
}

// WriteTimings appends one step to timings.csv. The header is written with the first row.
func (om *OutputManager) WriteTimings(record TimingRecord) error {
	if om == nil {
		return nil
	}
	if err := writeRecords([]TimingRecord{record}, om.timingFile, &om.timingHeaderWritten); err != nil {
		return fmt.Errorf("writing timings: %w", err)
	}
	return nil
}

// WriteStageSummary appends rolling stage statistics to stages.csv.
func (om *OutputManager) WriteStageSummary(records []StageSummaryRecord) error {
	if om == nil || len(records) == 0 {
		return nil
	}
	if err := writeRecords(records, om.stageFile, &om.stageHeaderWritten); err != nil {
		return fmt.Errorf("writing stage summary: %w", err)
	}
	return nil
}

// writeRecords marshals records, with headers only on the first write to f.
func writeRecords[T any](records []T, f *os.File, headerWritten *bool) error {
	if !*headerWritten {
		if err := gocsv.Marshal(records, f); err != nil {
			return err
		}
		*headerWritten = true
		return nil
	}
	return gocsv.MarshalWithoutHeaders(records, f)
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close closes all output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}
	var firstErr error
	for _, f := range []*os.File{om.timingFile, om.stageFile} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
