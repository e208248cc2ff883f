package simulation

import (
	"cmp"
	"errors"
	"slices"
	"testing"

	"github.com/Carmen-Shannon/oxy-flock/common"
	"github.com/Carmen-Shannon/oxy-flock/engine/device"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/buffer"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/kernel"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/kernels"
	"github.com/Carmen-Shannon/oxy-flock/engine/model"
	"github.com/Carmen-Shannon/oxy-flock/engine/scenario"
	"github.com/Carmen-Shannon/oxy-flock/engine/tracker"
)

const testDt = 0.1

func newTestDevice(t *testing.T) device.Device {
	t.Helper()
	dev, err := device.NewDevice(device.BackendTypeCPU, device.WithWorkers(4))
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	t.Cleanup(dev.Release)
	return dev
}

// newTestSimulation runs the goal model with a few hundred agents and a small sort limit so
// the global merge passes are exercised.
func newTestSimulation(t *testing.T, dev device.Device, options ...SimulationBuilderOption) Simulation {
	t.Helper()
	opts := append([]SimulationBuilderOption{
		WithModel(model.Goal()),
		WithAgentCount(300),
		WithSortLocalSizeLimit(64),
		WithSeed(42),
	}, options...)
	sim, err := NewSimulation(dev, opts...)
	if err != nil {
		t.Fatalf("NewSimulation: %v", err)
	}
	t.Cleanup(sim.Release)
	return sim
}

func step(t *testing.T, sim Simulation, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := sim.Step(testDt); err != nil {
			t.Fatalf("Step %d: %v", i+1, err)
		}
	}
}

// readVec4s reads the first AgentCount entries of buf.
func readVec4s(t *testing.T, dev device.Device, sim Simulation, buf buffer.Buffer) []common.Vec4 {
	t.Helper()
	raw, err := dev.ReadBuffer(buf, 0, uint64(sim.AgentCount())*common.Vec4Size)
	if err != nil {
		t.Fatalf("ReadBuffer: %v", err)
	}
	return common.UnmarshalVec4s(raw)
}

func TestNewSimulationDefaults(t *testing.T) {
	sim := newTestSimulation(t, newTestDevice(t))
	if sim.AgentCount() != 300 || sim.PaddedAgentCount() != 512 {
		t.Errorf("agents = %d padded %d, want 300 padded 512", sim.AgentCount(), sim.PaddedAgentCount())
	}
	if sim.CellCount() != 16*16*16 {
		t.Errorf("cells = %d, want %d", sim.CellCount(), 16*16*16)
	}
	if sim.Model().ID() != model.IDGoal {
		t.Errorf("model = %d, want %d", sim.Model().ID(), model.IDGoal)
	}
	if sim.Parity() != 0 || sim.Steps() != 0 {
		t.Errorf("fresh simulation at parity %d after %d steps", sim.Parity(), sim.Steps())
	}
	if sim.Placement() != scenario.Cube {
		t.Errorf("placement = %v, want cube", sim.Placement())
	}
}

func TestNewSimulationPanicsWithoutDevice(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewSimulation(nil) did not panic")
		}
	}()
	NewSimulation(nil)
}

func TestStepFlipsParity(t *testing.T) {
	sim := newTestSimulation(t, newTestDevice(t))
	before := sim.ActivePositionBuffer()
	step(t, sim, 1)
	if sim.Parity() != 1 {
		t.Fatalf("parity after one step = %d, want 1", sim.Parity())
	}
	if sim.ActivePositionBuffer() == before {
		t.Error("active positions did not move to the other buffer set")
	}
	step(t, sim, 1)
	if sim.Parity() != 0 || sim.ActivePositionBuffer() != before {
		t.Errorf("parity after two steps = %d, want 0 with the original buffers", sim.Parity())
	}
	if sim.Steps() != 2 {
		t.Errorf("Steps() = %d, want 2", sim.Steps())
	}
}

func TestNonPositiveDtDoesNothing(t *testing.T) {
	sim := newTestSimulation(t, newTestDevice(t))
	for _, dt := range []float32{0, -1} {
		if err := sim.Step(dt); err != nil {
			t.Fatalf("Step(%v): %v", dt, err)
		}
	}
	if sim.Parity() != 0 || sim.Steps() != 0 {
		t.Errorf("non-positive dt advanced the simulation: parity %d, steps %d", sim.Parity(), sim.Steps())
	}
}

func TestFailedStepKeepsParity(t *testing.T) {
	dev := newTestDevice(t)
	boom := errors.New("update exploded")
	failing := model.NewModel(
		model.WithID(99),
		model.WithName("failing"),
		model.WithKernel(kernels.SimulateSimple, func(*kernel.HostContext) error { return boom }),
		model.WithGrid(common.UVec3{X: 4, Y: 4, Z: 4}, common.Vec3{X: 1, Y: 1, Z: 1}, common.Vec3{}),
		model.WithDefaultAgents(16),
	)
	sim, err := NewSimulation(dev, WithModel(failing))
	if err != nil {
		t.Fatalf("NewSimulation: %v", err)
	}
	t.Cleanup(sim.Release)

	before, _, err := sim.ReadAgents()
	if err != nil {
		t.Fatal(err)
	}
	if err := sim.Step(testDt); !errors.Is(err, boom) {
		t.Fatalf("Step error = %v, want %v", err, boom)
	}
	if sim.Parity() != 0 || sim.Steps() != 0 {
		t.Errorf("failed step moved parity to %d after %d steps", sim.Parity(), sim.Steps())
	}
	after, _, err := sim.ReadAgents()
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(before, after) {
		t.Error("failed step changed the active positions")
	}
}

func TestRangesCoverEveryAgentAfterStep(t *testing.T) {
	sim := newTestSimulation(t, newTestDevice(t))
	step(t, sim, 2)
	ranges, err := sim.CellRanges()
	if err != nil {
		t.Fatal(err)
	}
	var total uint32
	next := uint32(0)
	for _, r := range ranges {
		if r.Start != next {
			t.Fatalf("cell %d starts at %d, want %d", r.Cell, r.Start, next)
		}
		total += r.Len()
		next = r.End
	}
	if total != sim.AgentCount() {
		t.Errorf("ranges hold %d agents, want %d", total, sim.AgentCount())
	}
}

// Goals are gathered with their agents and never change, so they identify agents across steps.
func TestGoalsFollowTheirAgents(t *testing.T) {
	dev := newTestDevice(t)
	sim := newTestSimulation(t, dev)
	goals := readVec4s(t, dev, sim, sim.ActiveGoalBuffer())

	step(t, sim, 3)
	after := readVec4s(t, dev, sim, sim.ActiveGoalBuffer())
	byX := func(a, b common.Vec4) int { return cmp.Compare(a.X, b.X) }
	want, got := slices.Clone(goals), slices.Clone(after)
	slices.SortFunc(want, byX)
	slices.SortFunc(got, byX)
	if !slices.Equal(want, got) {
		t.Error("goals after stepping are not a permutation of the initial goals")
	}
}

func TestFollowedAgentKeepsItsGoal(t *testing.T) {
	for _, reverse := range []bool{false, true} {
		dev := newTestDevice(t)
		sim := newTestSimulation(t, dev, WithReverseTracking(reverse))
		const slot = 123
		goal := readVec4s(t, dev, sim, sim.ActiveGoalBuffer())[slot]
		if err := sim.SetFollowed(slot); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 4; i++ {
			step(t, sim, 1)
			now, pos, _, err := sim.Followed()
			if err != nil {
				t.Fatalf("reverse=%v: Followed: %v", reverse, err)
			}
			goals := readVec4s(t, dev, sim, sim.ActiveGoalBuffer())
			if goals[now] != goal {
				t.Fatalf("reverse=%v step %d: slot %d has goal %v, want %v", reverse, i+1, now, goals[now], goal)
			}
			positions := readVec4s(t, dev, sim, sim.ActivePositionBuffer())
			if positions[now] != pos {
				t.Errorf("reverse=%v: Followed position %v, buffer holds %v", reverse, pos, positions[now])
			}
		}
	}
}

func TestTrackIdentity(t *testing.T) {
	dev := newTestDevice(t)
	sim := newTestSimulation(t, dev)
	if got, err := sim.TrackIdentity(7); err != nil || got != 7 {
		t.Errorf("TrackIdentity before any step = %d, %v; want 7", got, err)
	}
	goals := readVec4s(t, dev, sim, sim.ActiveGoalBuffer())
	step(t, sim, 1)
	after := readVec4s(t, dev, sim, sim.ActiveGoalBuffer())
	for _, slot := range []uint32{0, 7, 299} {
		now, err := sim.TrackIdentity(slot)
		if err != nil {
			t.Fatal(err)
		}
		if after[now] != goals[slot] {
			t.Errorf("agent from slot %d tracked to %d with a different goal", slot, now)
		}
	}
	if _, err := sim.TrackIdentity(300); !errors.Is(err, tracker.ErrSlotNotFound) {
		t.Errorf("TrackIdentity(300) error = %v, want ErrSlotNotFound", err)
	}
}

func TestStageTimings(t *testing.T) {
	sim := newTestSimulation(t, newTestDevice(t), WithStageTimings(true))
	step(t, sim, 1)
	tm := sim.LastStageTimings()
	if !tm.Valid {
		t.Fatal("stage timings not valid with timing enabled")
	}
	sum := tm.Clear + tm.Hash + tm.Sort + tm.Reorder + tm.Update
	if tm.Total < sum {
		t.Errorf("total %v is shorter than the stages together %v", tm.Total, sum)
	}
	if len(tm.Durations()) != len(StageNames) {
		t.Errorf("Durations has %d entries, want %d", len(tm.Durations()), len(StageNames))
	}

	untimed := newTestSimulation(t, newTestDevice(t))
	step(t, untimed, 1)
	if untimed.LastStageTimings().Valid {
		t.Error("stage timings valid without timing enabled")
	}
}

func TestSetAgentCount(t *testing.T) {
	sim := newTestSimulation(t, newTestDevice(t))
	for _, n := range []uint32{0, model.MaxAgents + 1} {
		if err := sim.SetAgentCount(n); !errors.Is(err, ErrAgentCount) {
			t.Errorf("SetAgentCount(%d) error = %v, want ErrAgentCount", n, err)
		}
	}
	if sim.AgentCount() != 300 {
		t.Fatalf("rejected count changed the agents to %d", sim.AgentCount())
	}

	step(t, sim, 1)
	if err := sim.SetAgentCount(1000); err != nil {
		t.Fatal(err)
	}
	if sim.AgentCount() != 1000 || sim.PaddedAgentCount() != 1024 || sim.Parity() != 0 {
		t.Errorf("after resize: %d agents, %d padded, parity %d", sim.AgentCount(), sim.PaddedAgentCount(), sim.Parity())
	}
	step(t, sim, 1)

	if err := sim.GrowAgents(); err != nil {
		t.Fatal(err)
	}
	if sim.AgentCount() != model.MinAgents {
		t.Errorf("grow from 1000 gave %d, want %d", sim.AgentCount(), model.MinAgents)
	}
	if err := sim.ShrinkAgents(); err != nil {
		t.Fatal(err)
	}
	if sim.AgentCount() != model.MinAgents {
		t.Errorf("shrink below the minimum gave %d, want %d", sim.AgentCount(), model.MinAgents)
	}
}

func TestSingleAgent(t *testing.T) {
	sim := newTestSimulation(t, newTestDevice(t), WithAgentCount(1))
	step(t, sim, 3)
	ranges, err := sim.CellRanges()
	if err != nil {
		t.Fatal(err)
	}
	if len(ranges) != 1 || ranges[0].Start != 0 || ranges[0].End != 1 {
		t.Errorf("ranges = %+v, want one cell holding [0, 1)", ranges)
	}
}

func TestSetModel(t *testing.T) {
	sim := newTestSimulation(t, newTestDevice(t))
	if err := sim.SetModel(nil); !errors.Is(err, model.ErrUnknownModel) {
		t.Errorf("SetModel(nil) error = %v, want ErrUnknownModel", err)
	}
	obstacle := model.Obstacle()
	if err := sim.SetModel(obstacle); err != nil {
		t.Fatal(err)
	}
	if sim.Model().ID() != model.IDObstacle || sim.AgentCount() != obstacle.DefaultAgents() {
		t.Errorf("after switch: model %d with %d agents", sim.Model().ID(), sim.AgentCount())
	}
	if err := sim.SetAgentCount(256); err != nil {
		t.Fatal(err)
	}
	step(t, sim, 2)
	if sim.Params().NumObstacles != uint32(len(obstacle.Obstacles())) {
		t.Errorf("NumObstacles = %d, want %d", sim.Params().NumObstacles, len(obstacle.Obstacles()))
	}
}

func TestNextPlacementRestarts(t *testing.T) {
	sim := newTestSimulation(t, newTestDevice(t))
	step(t, sim, 1)
	if err := sim.NextPlacement(); err != nil {
		t.Fatal(err)
	}
	if sim.Placement() != scenario.TwoGroups || sim.Parity() != 0 || sim.Steps() != 0 {
		t.Errorf("after NextPlacement: %v at parity %d after %d steps", sim.Placement(), sim.Parity(), sim.Steps())
	}
}

func TestSameSeedSameFlock(t *testing.T) {
	a := newTestSimulation(t, newTestDevice(t))
	b := newTestSimulation(t, newTestDevice(t))
	step(t, a, 2)
	step(t, b, 2)
	pa, va, err := a.ReadAgents()
	if err != nil {
		t.Fatal(err)
	}
	pb, vb, err := b.ReadAgents()
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(pa, pb) || !slices.Equal(va, vb) {
		t.Error("two simulations with the same seed diverged")
	}
}

func TestFollowRejectsBadSlot(t *testing.T) {
	sim := newTestSimulation(t, newTestDevice(t))
	if _, _, _, err := sim.Followed(); !errors.Is(err, ErrNotFollowing) {
		t.Errorf("Followed before SetFollowed error = %v", err)
	}
	if err := sim.SetFollowed(300); !errors.Is(err, tracker.ErrSlotNotFound) {
		t.Errorf("SetFollowed(300) error = %v, want ErrSlotNotFound", err)
	}
	if err := sim.SetFollowed(3); err != nil {
		t.Fatal(err)
	}
	sim.Unfollow()
	if _, _, _, err := sim.Followed(); !errors.Is(err, ErrNotFollowing) {
		t.Errorf("Followed after Unfollow error = %v", err)
	}
}

func TestFollowingTracksState(t *testing.T) {
	sim := newTestSimulation(t, newTestDevice(t))
	if sim.Following() {
		t.Fatal("fresh simulation follows an agent")
	}
	if err := sim.SetFollowed(299); err != nil {
		t.Fatal(err)
	}
	if !sim.Following() {
		t.Error("SetFollowed did not start following")
	}
	if err := sim.SetAgentCount(100); err != nil {
		t.Fatal(err)
	}
	if sim.Following() {
		t.Error("still following slot 299 with 100 agents")
	}

	if err := sim.SetFollowed(5); err != nil {
		t.Fatal(err)
	}
	sim.Release()
	if _, _, _, err := sim.Followed(); !errors.Is(err, device.ErrReleased) {
		t.Fatalf("Followed after Release error = %v, want ErrReleased", err)
	}
	if !sim.Following() {
		t.Error("a failed readback stopped following")
	}
}

func TestStepAfterRelease(t *testing.T) {
	sim := newTestSimulation(t, newTestDevice(t))
	sim.Release()
	if err := sim.Step(testDt); !errors.Is(err, device.ErrReleased) {
		t.Errorf("Step after Release error = %v, want ErrReleased", err)
	}
}
