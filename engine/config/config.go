// Package config loads the run configuration: embedded YAML defaults, an optional user file
// overlaid on top, and a JSON schema check of the merged result.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/Carmen-Shannon/oxy-flock/engine/device"
	"github.com/Carmen-Shannon/oxy-flock/engine/model"
	"github.com/Carmen-Shannon/oxy-flock/engine/scenario"
	"github.com/Carmen-Shannon/oxy-flock/engine/simulation"
)

//go:embed defaults.yaml
var defaultsYAML []byte

//go:embed config.schema.json
var schemaJSON []byte

const schemaURL = "config.schema.json"

// ErrInvalidConfig is returned when a configuration cannot be parsed or fails the schema.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the full run configuration.
type Config struct {
	Device     DeviceConfig     `yaml:"device" json:"device"`
	Simulation SimulationConfig `yaml:"simulation" json:"simulation"`
	Engine     EngineConfig     `yaml:"engine" json:"engine"`
	Window     WindowConfig     `yaml:"window" json:"window"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry"`
}

type DeviceConfig struct {
	Backend              string `yaml:"backend" json:"backend"` // wgpu or cpu
	ForceFallbackAdapter bool   `yaml:"forceFallbackAdapter" json:"forceFallbackAdapter"`
	Workers              int    `yaml:"workers" json:"workers"`     // CPU backend pool size, 0 = one per core
	KernelDir            string `yaml:"kernelDir" json:"kernelDir"` // overrides the embedded WGSL programs
}

type SimulationConfig struct {
	Model              uint32  `yaml:"model" json:"model"`
	Agents             uint32  `yaml:"agents" json:"agents"` // 0 = model default
	Placement          int     `yaml:"placement" json:"placement"`
	Seed               uint64  `yaml:"seed" json:"seed"`
	MaxDt              float64 `yaml:"maxDt" json:"maxDt"`
	SortLocalSizeLimit uint32  `yaml:"sortLocalSizeLimit" json:"sortLocalSizeLimit"`
	StageTimings       bool    `yaml:"stageTimings" json:"stageTimings"`
	Follow             int64   `yaml:"follow" json:"follow"` // -1 = nobody
	ReverseTracking    bool    `yaml:"reverseTracking" json:"reverseTracking"`
}

type EngineConfig struct {
	TickRate   float64 `yaml:"tickRate" json:"tickRate"`
	FrameLimit float64 `yaml:"frameLimit" json:"frameLimit"`
	Profiling  bool    `yaml:"profiling" json:"profiling"`
	WatchdogMs int     `yaml:"watchdogMs" json:"watchdogMs"`
	MaxSteps   uint64  `yaml:"maxSteps" json:"maxSteps"` // 0 = run until the window closes
}

type WindowConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Title   string `yaml:"title" json:"title"`
	Width   int    `yaml:"width" json:"width"`
	Height  int    `yaml:"height" json:"height"`
}

type TelemetryConfig struct {
	Dir string `yaml:"dir" json:"dir"` // empty disables telemetry output
}

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return c.Compile(schemaURL)
})

// Default returns the embedded defaults.
func Default() *Config {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		panic(fmt.Sprintf("config: embedded defaults: %v", err))
	}
	return cfg
}

// Load reads the defaults, overlays the YAML file at path when path is not empty, and
// validates the result. Keys the file sets replace the defaults; unknown keys are an error.
//
// Parameters:
//   - path: the user file, or "" for the defaults alone
//
// Returns:
//   - *Config: the merged configuration
//   - error: ErrInvalidConfig, or a file read error
func Load(path string) (*Config, error) {
	if path == "" {
		return Parse(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[Config] failed to read %s: %v", path, err)
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		log.Printf("[Config] %s: %v", path, err)
		return nil, err
	}
	return cfg, nil
}

// Parse overlays a YAML document on the defaults and validates the result.
//
// Parameters:
//   - data: the YAML document, may be empty
//
// Returns:
//   - *Config: the merged configuration
//   - error: ErrInvalidConfig
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks c against the embedded schema.
//
// Returns:
//   - error: ErrInvalidConfig describing the first violations
func (c *Config) Validate() error {
	sch, err := compileSchema()
	if err != nil {
		return fmt.Errorf("%w: schema: %v", ErrInvalidConfig, err)
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// WriteYAML writes c to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// BackendType maps the backend name to a device backend.
func (c *Config) BackendType() device.BackendType {
	if c.Device.Backend == "cpu" {
		return device.BackendTypeCPU
	}
	return device.BackendTypeWGPU
}

// DeviceOptions returns the device options of the configuration.
func (c *Config) DeviceOptions() []device.DeviceBuilderOption {
	opts := []device.DeviceBuilderOption{device.WithForceFallbackAdapter(c.Device.ForceFallbackAdapter)}
	if c.Device.Workers > 0 {
		opts = append(opts, device.WithWorkers(c.Device.Workers))
	}
	if c.Device.KernelDir != "" {
		opts = append(opts, device.WithKernelDir(c.Device.KernelDir))
	}
	return opts
}

// SimulationOptions returns the simulation options of the configuration.
//
// Returns:
//   - []simulation.SimulationBuilderOption: the options
//   - error: model.ErrUnknownModel
func (c *Config) SimulationOptions() ([]simulation.SimulationBuilderOption, error) {
	m, err := model.ByID(model.ID(c.Simulation.Model))
	if err != nil {
		return nil, err
	}
	return []simulation.SimulationBuilderOption{
		simulation.WithModel(m),
		simulation.WithAgentCount(c.Simulation.Agents),
		simulation.WithPlacement(scenario.Placement(c.Simulation.Placement)),
		simulation.WithSeed(c.Simulation.Seed),
		simulation.WithMaxDt(float32(c.Simulation.MaxDt)),
		simulation.WithSortLocalSizeLimit(c.Simulation.SortLocalSizeLimit),
		simulation.WithStageTimings(c.Simulation.StageTimings),
		simulation.WithReverseTracking(c.Simulation.ReverseTracking),
	}, nil
}

// Watchdog returns the step budget, 0 when the watchdog is off.
func (c *Config) Watchdog() time.Duration {
	return time.Duration(c.Engine.WatchdogMs) * time.Millisecond
}
