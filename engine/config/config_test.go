package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Carmen-Shannon/oxy-flock/engine/device"
	"github.com/Carmen-Shannon/oxy-flock/engine/model"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("embedded defaults fail the schema: %v", err)
	}
	if cfg.Simulation.Model != uint32(model.IDGrid) || cfg.Simulation.Follow != -1 {
		t.Errorf("defaults: model %d follow %d", cfg.Simulation.Model, cfg.Simulation.Follow)
	}
	if cfg.BackendType() != device.BackendTypeWGPU {
		t.Errorf("default backend = %v, want wgpu", cfg.BackendType())
	}
}

func TestLoadWithoutPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if *cfg != *Default() {
		t.Errorf("Load(\"\") = %+v, want the defaults", *cfg)
	}
}

func TestOverlayKeepsUnsetDefaults(t *testing.T) {
	cfg, err := Parse([]byte("device:\n  backend: cpu\nsimulation:\n  model: 6\n  agents: 4096\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BackendType() != device.BackendTypeCPU {
		t.Error("overlay did not select the cpu backend")
	}
	if cfg.Simulation.Model != 6 || cfg.Simulation.Agents != 4096 {
		t.Errorf("overlay: model %d agents %d", cfg.Simulation.Model, cfg.Simulation.Agents)
	}
	def := Default()
	if cfg.Simulation.SortLocalSizeLimit != def.Simulation.SortLocalSizeLimit || cfg.Engine != def.Engine {
		t.Error("overlay replaced keys it did not set")
	}
}

func TestSchemaRejects(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"unknown backend", "device:\n  backend: vulkan\n"},
		{"unknown model", "simulation:\n  model: 3\n"},
		{"placement out of range", "simulation:\n  placement: 5\n"},
		{"too many agents", "simulation:\n  agents: 600000\n"},
		{"sort limit not a power of two", "simulation:\n  sortLocalSizeLimit: 100\n"},
		{"non-positive dt clamp", "simulation:\n  maxDt: 0\n"},
		{"zero tick rate", "engine:\n  tickRate: 0\n"},
		{"unknown key", "simulation:\n  agentz: 10\n"},
		{"malformed yaml", "simulation: [\n"},
	}
	for _, tc := range cases {
		if _, err := Parse([]byte(tc.yaml)); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: error = %v, want ErrInvalidConfig", tc.name, err)
		}
	}
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Device.Backend = "cpu"
	cfg.Simulation.Seed = 99
	cfg.Telemetry.Dir = "out"
	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := cfg.WriteYAML(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if *loaded != *cfg {
		t.Errorf("round trip = %+v, want %+v", *loaded, *cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error = %v, want ErrNotExist", err)
	}
}

func TestSimulationOptions(t *testing.T) {
	cfg := Default()
	opts, err := cfg.SimulationOptions()
	if err != nil {
		t.Fatal(err)
	}
	if len(opts) == 0 {
		t.Error("no simulation options")
	}
	cfg.Simulation.Model = 3
	if _, err := cfg.SimulationOptions(); !errors.Is(err, model.ErrUnknownModel) {
		t.Errorf("error = %v, want ErrUnknownModel", err)
	}
}
