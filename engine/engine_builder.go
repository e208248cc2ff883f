package engine

import (
	"time"

	"github.com/Carmen-Shannon/oxy-flock/engine/profiler"
	"github.com/Carmen-Shannon/oxy-flock/engine/simulation"
	"github.com/Carmen-Shannon/oxy-flock/engine/telemetry"
	"github.com/Carmen-Shannon/oxy-flock/engine/window"
)

// EngineBuilderOption is a functional option for configuring an Engine.
// Use the With* functions to create options that are applied directly to the engine instance.
type EngineBuilderOption func(*engine)

// WithSimulation sets the simulation the engine steps. Required.
//
// Parameters:
//   - sim: the simulation to drive
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithSimulation(sim simulation.Simulation) EngineBuilderOption {
	return func(e *engine) {
		e.sim = sim
	}
}

// WithProfiling enables or disables performance profiling output.
//
// Parameters:
//   - enabled: if true, enables performance profiling
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithProfiling(enabled bool) EngineBuilderOption {
	return func(e *engine) {
		e.profilingEnabled.Store(enabled)
	}
}

// WithProfiler replaces the engine's profiler, e.g. to share its statistics with a caller.
func WithProfiler(p *profiler.Profiler) EngineBuilderOption {
	return func(e *engine) {
		if p != nil {
			e.profiler = p
		}
	}
}

// WithTelemetry sets where per-step timings and stage summaries are written.
// A nil manager disables telemetry.
func WithTelemetry(m *telemetry.OutputManager) EngineBuilderOption {
	return func(e *engine) {
		e.telemetry = m
	}
}

// WithTickRate sets the simulation step rate in steps per second.
// Values <= 0 will be treated as the default (60Hz).
//
// Parameters:
//   - fps: target steps per second (default 60)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithTickRate(fps float64) EngineBuilderOption {
	return func(e *engine) {
		if fps <= 0 {
			fps = 60.0
		}
		e.engineTickRate = time.Duration(float64(time.Second) / fps)
	}
}

// WithWindow sets the diagnostics window. Without one the engine runs headless.
//
// Parameters:
//   - w: a pre-configured Window instance
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithWindow(w window.Window) EngineBuilderOption {
	return func(e *engine) {
		e.window = w
	}
}

// WithRenderFrameLimit caps how often the diagnostics loop refreshes the title, the profiler
// and the telemetry files. Values <= 0 are treated as the default (30Hz).
//
// Parameters:
//   - fps: maximum diagnostics frames per second
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithRenderFrameLimit(fps float64) EngineBuilderOption {
	return func(e *engine) {
		if fps <= 0 {
			fps = 30.0
		}
		e.diagnosticsInterval = time.Duration(float64(time.Second) / fps)
	}
}

// WithWatchdog sets a per-step time budget. A step still running when the budget runs out is
// logged and counted; the step itself is not interrupted. 0 disables the watchdog.
func WithWatchdog(budget time.Duration) EngineBuilderOption {
	return func(e *engine) {
		if budget < 0 {
			budget = 0
		}
		e.watchdog = budget
	}
}

// WithMaxSteps makes Run return after n successful steps. 0 runs until Quit or the window closes.
func WithMaxSteps(n uint64) EngineBuilderOption {
	return func(e *engine) {
		e.maxSteps = n
	}
}
