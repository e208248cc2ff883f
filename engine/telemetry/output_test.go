package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-flock/engine/config"
	"github.com/Carmen-Shannon/oxy-flock/engine/profiler"
	"github.com/Carmen-Shannon/oxy-flock/engine/simulation"
)

func TestDisabledManagerDiscards(t *testing.T) {
	om, err := NewOutputManager("")
	if err != nil || om != nil {
		t.Fatalf("NewOutputManager(\"\") = %v, %v; want nil, nil", om, err)
	}
	if err := om.WriteTimings(TimingRecord{}); err != nil {
		t.Error(err)
	}
	if err := om.WriteConfig(config.Default()); err != nil {
		t.Error(err)
	}
	if err := om.Close(); err != nil {
		t.Error(err)
	}
}

func TestTimingsHeaderWrittenOnce(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	om, err := NewOutputManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	timings := simulation.StageTimings{Sort: 1500 * time.Microsecond, Total: 3 * time.Millisecond, Valid: true}
	for step := uint64(1); step <= 3; step++ {
		if err := om.WriteTimings(NewTimingRecord(step, "grid", 8192, int(step%2), timings)); err != nil {
			t.Fatal(err)
		}
	}
	if err := om.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "timings.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Fatalf("timings.csv has %d lines, want header + 3 rows:\n%s", len(lines), data)
	}
	if !strings.HasPrefix(lines[0], "step,model,agents,parity,clear_us") {
		t.Errorf("header = %q", lines[0])
	}
	if strings.Count(string(data), "step,") != 1 {
		t.Error("header written more than once")
	}
	if !strings.Contains(lines[1], ",1500,") {
		t.Errorf("row %q does not carry the sort time in microseconds", lines[1])
	}
}

func TestStageSummaryAndConfig(t *testing.T) {
	dir := t.TempDir()
	om, err := NewOutputManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer om.Close()

	summary := map[string]profiler.StageStats{
		"update": {Mean: time.Millisecond, P95: 2 * time.Millisecond, Samples: 10},
		"clear":  {Mean: time.Microsecond, Samples: 10},
	}
	records := NewStageSummaryRecords(100, summary)
	if len(records) != 2 || records[0].Stage != "clear" || records[1].Stage != "update" {
		t.Fatalf("records = %+v, want clear then update", records)
	}
	if err := om.WriteStageSummary(records); err != nil {
		t.Fatal(err)
	}
	if err := om.WriteConfig(config.Default()); err != nil {
		t.Fatal(err)
	}
	if _, err := config.Load(filepath.Join(om.Dir(), "config.yaml")); err != nil {
		t.Errorf("written config does not load: %v", err)
	}
}
