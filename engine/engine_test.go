package engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-flock/common"
	"github.com/Carmen-Shannon/oxy-flock/engine/device"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/kernel"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/kernels"
	"github.com/Carmen-Shannon/oxy-flock/engine/model"
	"github.com/Carmen-Shannon/oxy-flock/engine/scenario"
	"github.com/Carmen-Shannon/oxy-flock/engine/simulation"
	"github.com/Carmen-Shannon/oxy-flock/engine/telemetry"
)

func newTestSimulation(t *testing.T, options ...simulation.SimulationBuilderOption) simulation.Simulation {
	t.Helper()
	dev, err := device.NewDevice(device.BackendTypeCPU, device.WithWorkers(2))
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	t.Cleanup(dev.Release)
	opts := append([]simulation.SimulationBuilderOption{
		simulation.WithModel(model.Goal()),
		simulation.WithAgentCount(256),
		simulation.WithSeed(7),
	}, options...)
	sim, err := simulation.NewSimulation(dev, opts...)
	if err != nil {
		t.Fatalf("NewSimulation: %v", err)
	}
	t.Cleanup(sim.Release)
	return sim
}

// runWithTimeout fails the test if Run does not return in time.
func runWithTimeout(t *testing.T, e Engine, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		e.Run()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		e.Quit()
		t.Fatalf("Run did not return within %v", timeout)
	}
}

func TestNewEnginePanicsWithoutSimulation(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewEngine without a simulation did not panic")
		}
	}()
	NewEngine()
}

func TestHeadlessRunStopsAtMaxSteps(t *testing.T) {
	sim := newTestSimulation(t, simulation.WithStageTimings(true))
	dir := t.TempDir()
	om, err := telemetry.NewOutputManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer om.Close()

	ticks := 0
	e := NewEngine(
		WithSimulation(sim),
		WithTickRate(500),
		WithMaxSteps(5),
		WithTelemetry(om),
	)
	e.SetTickCallback(func(float32) { ticks++ })
	runWithTimeout(t, e, 10*time.Second)

	if got := e.Stats(); got.Steps != 5 || got.Failed != 0 {
		t.Errorf("Stats = %+v, want 5 steps and no failures", got)
	}
	if sim.Steps() != 5 || ticks != 5 {
		t.Errorf("simulation steps = %d, callbacks = %d, want 5 each", sim.Steps(), ticks)
	}

	data, err := os.ReadFile(filepath.Join(dir, "timings.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 6 {
		t.Errorf("timings.csv has %d lines, want header + 5 rows:\n%s", len(lines), data)
	}
	stages, err := os.ReadFile(filepath.Join(dir, "stages.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(stages), "sort") {
		t.Errorf("stages.csv has no sort row:\n%s", stages)
	}
}

func TestQuitStopsHeadlessRun(t *testing.T) {
	e := NewEngine(WithSimulation(newTestSimulation(t)), WithTickRate(200))
	go func() {
		time.Sleep(50 * time.Millisecond)
		e.Quit()
		e.Quit()
	}()
	runWithTimeout(t, e, 5*time.Second)
}

func TestWatchdogCountsSlowSteps(t *testing.T) {
	slow := model.NewModel(
		model.WithID(98),
		model.WithName("slow"),
		model.WithKernel(kernels.SimulateSimple, func(*kernel.HostContext) error {
			time.Sleep(40 * time.Millisecond)
			return nil
		}),
		model.WithGrid(common.UVec3{X: 4, Y: 4, Z: 4}, common.Vec3{X: 1, Y: 1, Z: 1}, common.Vec3{}),
		model.WithDefaultAgents(16),
	)
	sim := newTestSimulation(t, simulation.WithModel(slow), simulation.WithAgentCount(0))

	e := NewEngine(
		WithSimulation(sim),
		WithTickRate(100),
		WithMaxSteps(2),
		WithWatchdog(5*time.Millisecond),
	)
	runWithTimeout(t, e, 10*time.Second)

	if got := e.Stats(); got.Steps != 2 || got.Overruns < 1 {
		t.Errorf("Stats = %+v, want 2 steps with at least one overrun", got)
	}
}

func TestKeysControlTheSimulation(t *testing.T) {
	sim := newTestSimulation(t)
	e := NewEngine(WithSimulation(sim))

	e.HandleKey(common.KeyP)
	if sim.Placement() != scenario.TwoGroups {
		t.Errorf("P: placement = %v, want two groups", sim.Placement())
	}

	e.HandleKey(common.KeyEqual)
	if sim.AgentCount() != model.MinAgents {
		t.Errorf("+: agents = %d, want %d", sim.AgentCount(), model.MinAgents)
	}
	e.HandleKey(common.KeyKPSubtract)
	if sim.AgentCount() != model.MinAgents {
		t.Errorf("-: agents = %d, want the %d floor", sim.AgentCount(), model.MinAgents)
	}

	e.HandleKey(common.KeyF)
	if slot, _, _, err := sim.Followed(); err != nil || slot != 0 || !sim.Following() {
		t.Errorf("F: Followed = %d, %v, want slot 0", slot, err)
	}
	e.HandleKey(common.KeyF)
	if sim.Following() {
		t.Error("second F kept following")
	}

	ids := model.IDs()
	e.HandleKey(common.Key1 + uint32(len(ids)-1))
	if sim.Model().ID() != ids[len(ids)-1] {
		t.Errorf("model key selected %d, want %d", sim.Model().ID(), ids[len(ids)-1])
	}

	e.HandleKey(common.KeySpace)
	if e.TogglePause() {
		t.Error("Space did not pause the engine")
	}
}

func TestFollowKeyUnfollowsWhenReadbackFails(t *testing.T) {
	sim := newTestSimulation(t)
	e := NewEngine(WithSimulation(sim))
	if err := sim.SetFollowed(7); err != nil {
		t.Fatal(err)
	}
	sim.Release()
	if _, _, _, err := sim.Followed(); err == nil {
		t.Fatal("Followed succeeded on a released simulation")
	}
	e.HandleKey(common.KeyF)
	if sim.Following() {
		t.Error("F re-followed an agent instead of releasing the followed one")
	}
}

func TestPausedEngineDoesNotStep(t *testing.T) {
	sim := newTestSimulation(t)
	e := NewEngine(WithSimulation(sim), WithTickRate(500))
	e.TogglePause()
	go func() {
		time.Sleep(50 * time.Millisecond)
		e.Quit()
	}()
	runWithTimeout(t, e, 5*time.Second)
	if sim.Steps() != 0 {
		t.Errorf("paused engine stepped %d times", sim.Steps())
	}
}
