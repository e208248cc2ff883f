package engine

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/oxy-flock/common"
	"github.com/Carmen-Shannon/oxy-flock/engine/model"
	"github.com/Carmen-Shannon/oxy-flock/engine/profiler"
	"github.com/Carmen-Shannon/oxy-flock/engine/simulation"
	"github.com/Carmen-Shannon/oxy-flock/engine/telemetry"
	"github.com/Carmen-Shannon/oxy-flock/engine/window"
)

// stepReport is what the tick goroutine hands the diagnostics goroutine after a step.
type stepReport struct {
	step    uint64
	model   string
	agents  uint32
	parity  int
	timings simulation.StageTimings
}

// Stats counts what the engine loop has done since Run started.
type Stats struct {
	Steps    uint64 // successful steps
	Failed   uint64 // steps skipped after a stage error
	Overruns uint64 // steps that exceeded the watchdog budget
}

// engine implements the Engine interface.
// Coordinates the tick, diagnostics and window threads.
type engine struct {
	sim simulation.Simulation

	tickRateChannel chan time.Duration // Channel for dynamic tick rate updates
	reports         chan stepReport

	running atomic.Bool
	paused  atomic.Bool
	wg      sync.WaitGroup

	quitChannel chan struct{}
	quitOnce    sync.Once // Ensures quitChannel is only closed once

	window       window.Window
	windowClosed bool

	profiler         *profiler.Profiler
	profilingEnabled atomic.Bool
	telemetry        *telemetry.OutputManager

	engineTickRate time.Duration
	tickCallback   func(deltaTime float32)

	diagnosticsInterval time.Duration // minimum diagnostics frame duration
	watchdog            time.Duration // step budget; 0 = no watchdog
	maxSteps            uint64        // quit after this many successful steps; 0 = unbounded

	steps    atomic.Uint64
	failed   atomic.Uint64
	overruns atomic.Uint64
}

// Engine drives a Simulation at a fixed tick rate and reports on it.
// It runs the step loop, the diagnostics loop and, when present, the window message loop.
type Engine interface {
	// Simulation returns the simulation the engine steps.
	//
	// Returns:
	//   - simulation.Simulation: the simulation
	Simulation() simulation.Simulation

	// Window returns the diagnostics window, nil when running headless.
	//
	// Returns:
	//   - window.Window: the window instance
	Window() window.Window

	// EnableProfiler enables performance profiling output to the log.
	EnableProfiler()

	// DisableProfiler disables performance profiling output.
	DisableProfiler()

	// SetTickRate sets the simulation step rate in steps per second.
	//
	// Parameters:
	//   - fps: target steps per second (defaults to 60 if <= 0)
	SetTickRate(fps float64)

	// SetTickCallback registers a function called after every successful step.
	//
	// Parameters:
	//   - callback: function receiving the step's delta time in seconds
	SetTickCallback(callback func(deltaTime float32))

	// TogglePause pauses or resumes stepping.
	//
	// Returns:
	//   - bool: true if the engine is now paused
	TogglePause() bool

	// HandleKey applies the simulation control bound to a key:
	// 1-5 select a model, R restarts, P cycles the placement, +/- grow and shrink the flock,
	// F follows or releases agent 0, T toggles profiling and Space pauses.
	//
	// Parameters:
	//   - keyCode: the virtual key code
	HandleKey(keyCode uint32)

	// Stats returns the step counters.
	//
	// Returns:
	//   - Stats: the counters
	Stats() Stats

	// Run starts the engine loops and blocks until the window closes, the step limit is
	// reached or Quit is called.
	Run()

	// Quit signals all engine goroutines to stop.
	// Safe to call multiple times; subsequent calls are no-ops.
	Quit()
}

// NewEngine creates a new Engine instance with the provided options.
// WithSimulation is required.
//
// Parameters:
//   - options: functional options for engine configuration (simulation, tick rate, etc.)
//
// Returns:
//   - Engine: the newly created engine
func NewEngine(options ...EngineBuilderOption) Engine {
	e := &engine{
		tickRateChannel:     make(chan time.Duration, 1),
		reports:             make(chan stepReport, 256),
		quitChannel:         make(chan struct{}),
		profiler:            profiler.NewProfiler(),
		engineTickRate:      time.Second / 60,
		diagnosticsInterval: time.Second / 30,
	}

	for _, opt := range options {
		opt(e)
	}
	if e.sim == nil {
		panic("engine: NewEngine requires a simulation")
	}

	if e.window != nil {
		e.window.SetKeyDownCallback(e.HandleKey)
		e.window.SetUpdateCallback(func() {
			select {
			case <-e.quitChannel:
				if !e.windowClosed {
					e.windowClosed = true
					e.window.Close()
				}
			default:
			}
		})
	}

	return e
}

func (e *engine) Simulation() simulation.Simulation {
	return e.sim
}

func (e *engine) Window() window.Window {
	return e.window
}

func (e *engine) Run() {
	e.running.Store(true)
	e.handle()
	if e.window != nil {
		e.window.ProcessMessages()
		if !e.windowClosed {
			e.windowClosed = true
			e.window.Close()
		}
		e.signalQuit()
	} else {
		<-e.quitChannel
	}
	e.wg.Wait()
	e.flushDiagnostics()
	e.running.Store(false)

	s := e.Stats()
	log.Printf("[Engine] stopped after %d steps (%d failed, %d over budget)", s.Steps, s.Failed, s.Overruns)
}

// Quit signals all engine goroutines to stop and shuts down the engine.
// Safe to call multiple times; subsequent calls are no-ops due to sync.Once.
func (e *engine) Quit() {
	e.signalQuit()
}

// signalQuit closes the quit channel to signal all goroutines to exit.
// Uses sync.Once to ensure the channel is only closed once.
func (e *engine) signalQuit() {
	e.quitOnce.Do(func() {
		close(e.quitChannel)
	})
}

// handle launches the tick and diagnostics goroutines.
// Each goroutine is tracked by the engine's WaitGroup.
func (e *engine) handle() {
	e.wg.Add(2)
	go e.handleEngine()
	go e.handleDiagnostics()
}

// handleEngine runs the fixed-rate step loop in its own goroutine.
// Steps the simulation at the configured tick rate and listens for dynamic rate changes
// via tickRateChannel. Exits when the quit channel is closed.
func (e *engine) handleEngine() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.engineTickRate)
	defer ticker.Stop()

	lastTick := time.Now()

	for {
		select {
		case <-e.quitChannel:
			return
		case <-ticker.C:
			now := time.Now()
			dt := float32(now.Sub(lastTick).Seconds())
			lastTick = now

			if e.paused.Load() {
				continue
			}
			if !e.step(dt) {
				continue
			}
			if e.tickCallback != nil {
				e.tickCallback(dt)
			}
			if e.maxSteps > 0 && e.steps.Load() >= e.maxSteps {
				e.signalQuit()
				return
			}
		case newRate := <-e.tickRateChannel:
			ticker.Reset(newRate)
			e.engineTickRate = newRate
		}
	}
}

// step runs one simulation step under the watchdog and reports it. A failed step is logged
// and skipped.
func (e *engine) step(dt float32) bool {
	n := e.steps.Load() + 1
	if e.watchdog > 0 {
		started := time.Now()
		timer := time.AfterFunc(e.watchdog, func() {
			e.overruns.Add(1)
			log.Printf("[Engine] step %d still running after %v, budget %v", n, time.Since(started).Round(time.Millisecond), e.watchdog)
		})
		defer timer.Stop()
	}

	if err := e.sim.Step(dt); err != nil {
		e.failed.Add(1)
		log.Printf("[Engine] skipping step %d: %v", n, err)
		return false
	}
	e.steps.Add(1)

	report := stepReport{
		step:    n,
		model:   e.sim.Model().Name(),
		agents:  e.sim.AgentCount(),
		parity:  e.sim.Parity(),
		timings: e.sim.LastStageTimings(),
	}
	select {
	case e.reports <- report:
	default:
		// diagnostics are behind; drop the report
	}
	return true
}

// handleDiagnostics runs the frame-limited diagnostics loop in its own goroutine: it records
// step reports, writes the stage summary once a second and refreshes the window title.
// Recovers from panics to avoid crashing the process and signals quit on recovery.
func (e *engine) handleDiagnostics() {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Engine] diagnostics goroutine recovered from panic: %v", r)
			e.signalQuit()
		}
	}()

	lastSummary := time.Now()
	lastFrame := time.Now()
	rate := newRateMeter()

	for {
		select {
		case <-e.quitChannel:
			return
		default:
		}
		frameStart := time.Now()

		last, ok := e.drainReports()
		if time.Since(lastSummary) >= time.Second {
			lastSummary = time.Now()
			e.writeStageSummary()
		}
		if e.window != nil {
			e.window.SetTitle(e.title(last, ok, rate.update(e.steps.Load(), frameStart.Sub(lastFrame))))
		}
		lastFrame = frameStart

		if remaining := e.diagnosticsInterval - time.Since(frameStart); remaining > 0 {
			select {
			case <-e.quitChannel:
				return
			case <-time.After(remaining):
			}
		}
	}
}

// drainReports consumes every pending step report and returns the newest one.
func (e *engine) drainReports() (stepReport, bool) {
	var last stepReport
	got := false
	for {
		select {
		case r := <-e.reports:
			e.record(r)
			last, got = r, true
		default:
			return last, got
		}
	}
}

// record feeds one step to the profiler and the telemetry files.
func (e *engine) record(r stepReport) {
	e.profiler.RecordStages(r.timings)
	if e.profilingEnabled.Load() {
		e.profiler.Tick()
	}
	if err := e.telemetry.WriteTimings(telemetry.NewTimingRecord(r.step, r.model, r.agents, r.parity, r.timings)); err != nil {
		log.Printf("[Telemetry] %v", err)
	}
}

func (e *engine) writeStageSummary() {
	records := telemetry.NewStageSummaryRecords(e.steps.Load(), e.profiler.Summary())
	if err := e.telemetry.WriteStageSummary(records); err != nil {
		log.Printf("[Telemetry] %v", err)
	}
}

// flushDiagnostics records whatever the diagnostics goroutine did not get to.
func (e *engine) flushDiagnostics() {
	e.drainReports()
	if e.telemetry != nil {
		e.writeStageSummary()
	}
}

// title formats the window title from the newest step report.
func (e *engine) title(r stepReport, ok bool, stepsPerSecond float64) string {
	var b strings.Builder
	m := e.sim.Model()
	fmt.Fprintf(&b, "oxy-flock | %s | %d agents | %s | %.0f steps/s", m.Name(), e.sim.AgentCount(), e.sim.Placement(), stepsPerSecond)
	if ok {
		fmt.Fprintf(&b, " | step %.2f ms", float64(r.timings.Total.Microseconds())/1000)
		if r.timings.Valid {
			fmt.Fprintf(&b, " (sort %.2f ms, update %.2f ms)",
				float64(r.timings.Sort.Microseconds())/1000, float64(r.timings.Update.Microseconds())/1000)
		}
	}
	if e.paused.Load() {
		b.WriteString(" | paused")
	}
	return b.String()
}

// EnableProfiler enables performance profiling output to the log.
func (e *engine) EnableProfiler() {
	e.profilingEnabled.Store(true)
}

// DisableProfiler disables performance profiling output.
func (e *engine) DisableProfiler() {
	e.profilingEnabled.Store(false)
}

// SetTickRate sets the step rate in steps per second.
// If the engine is running, the change takes effect immediately.
func (e *engine) SetTickRate(fps float64) {
	if fps <= 0 {
		fps = 60
	}
	newRate := time.Duration(float64(time.Second) / fps)

	if e.running.Load() {
		// Non-blocking send - if channel is full, replace the pending value
		select {
		case e.tickRateChannel <- newRate:
		default:
			select {
			case <-e.tickRateChannel:
			default:
			}
			e.tickRateChannel <- newRate
		}
	} else {
		e.engineTickRate = newRate
	}
}

// SetTickCallback registers the function called after each successful step.
func (e *engine) SetTickCallback(callback func(deltaTime float32)) {
	e.tickCallback = callback
}

func (e *engine) TogglePause() bool {
	for {
		old := e.paused.Load()
		if e.paused.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

func (e *engine) Stats() Stats {
	return Stats{
		Steps:    e.steps.Load(),
		Failed:   e.failed.Load(),
		Overruns: e.overruns.Load(),
	}
}

func (e *engine) HandleKey(keyCode uint32) {
	var err error
	switch keyCode {
	case common.Key1, common.Key2, common.Key3, common.Key4, common.Key5:
		ids := model.IDs()
		idx := int(keyCode - common.Key1)
		if idx >= len(ids) {
			return
		}
		var m model.Model
		if m, err = model.ByID(ids[idx]); err == nil {
			err = e.sim.SetModel(m)
		}
	case common.KeyR:
		err = e.sim.Restart()
	case common.KeyP:
		err = e.sim.NextPlacement()
	case common.KeyEqual, common.KeyKPAdd:
		err = e.sim.GrowAgents()
	case common.KeyMinus, common.KeyKPSubtract:
		err = e.sim.ShrinkAgents()
	case common.KeyF:
		if e.sim.Following() {
			e.sim.Unfollow()
		} else {
			err = e.sim.SetFollowed(0)
		}
	case common.KeyT:
		if e.profilingEnabled.Load() {
			e.DisableProfiler()
		} else {
			e.EnableProfiler()
		}
	case common.KeySpace:
		e.TogglePause()
	default:
		return
	}
	if err != nil {
		log.Printf("[Engine] key %d: %v", keyCode, err)
	}
}

// rateMeter smooths the step rate shown in the title.
type rateMeter struct {
	lastSteps uint64
	rate      float64
}

func newRateMeter() *rateMeter {
	return &rateMeter{}
}

// update folds the steps taken over elapsed into an exponential moving average.
func (m *rateMeter) update(steps uint64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return m.rate
	}
	instant := float64(steps-m.lastSteps) / elapsed.Seconds()
	m.lastSteps = steps
	if m.rate == 0 {
		m.rate = instant
	} else {
		m.rate = 0.9*m.rate + 0.1*instant
	}
	return m.rate
}
