package model

import (
	"cmp"
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/Carmen-Shannon/oxy-flock/common"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/buffer"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/kernel"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/kernels"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/shader"
	"github.com/Carmen-Shannon/oxy-flock/engine/params"
)

// agents is a host-side update input: sorted positions and velocities plus the outputs.
type agents struct {
	pos, vel, outPos, outVel []common.Vec4
	goal, obstacles          []common.Vec4
	start, end               []uint32
}

func newAgents(pos, vel []common.Vec4) *agents {
	return &agents{
		pos:    pos,
		vel:    vel,
		outPos: make([]common.Vec4, len(pos)),
		outVel: make([]common.Vec4, len(pos)),
	}
}

func words(vs []common.Vec4) []uint32 {
	if len(vs) == 0 {
		return nil
	}
	return common.CastSlice[uint32](vs)
}

// run invokes a host function over every work-group of a dispatch covering p.PaddedBodies.
func (a *agents) run(t *testing.T, fn kernel.HostFunc, p params.SimParams) {
	t.Helper()
	bindings := map[int][]uint32{
		BindingSortedPos: words(a.pos),
		BindingSortedVel: words(a.vel),
		BindingOutPos:    words(a.outPos),
		BindingOutVel:    words(a.outVel),
	}
	if a.start != nil {
		bindings[BindingCellStart] = a.start
		bindings[BindingCellEnd] = a.end
	}
	if a.goal != nil {
		bindings[BindingGoal] = words(a.goal)
	}
	if a.obstacles != nil {
		bindings[BindingObstacles] = words(a.obstacles)
	}
	uniform := p.Marshal()
	groups := common.DivCeil(p.PaddedBodies, params.LocalPref)
	for g := range groups {
		if err := fn(kernel.NewHostContext(g, groups, params.LocalPref, uniform, bindings)); err != nil {
			t.Fatalf("host kernel: %v", err)
		}
	}
}

// sortAndBin orders the agents by cell and fills the range tables, as the pipeline does
// before the update.
func (a *agents) sortAndBin(p params.SimParams) {
	idx := make([]int, len(a.pos))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(x, y int) int {
		return cmp.Compare(p.Hash(a.pos[x]), p.Hash(a.pos[y]))
	})
	pos, vel := make([]common.Vec4, len(idx)), make([]common.Vec4, len(idx))
	for s, i := range idx {
		pos[s], vel[s] = a.pos[i], a.vel[i]
	}
	a.pos, a.vel = pos, vel
	a.start = make([]uint32, p.NumCells)
	a.end = make([]uint32, p.NumCells)
	for c := range a.start {
		a.start[c], a.end[c] = params.EmptyCell, params.EmptyCell
	}
	for s := range a.pos {
		h := p.Hash(a.pos[s])
		if a.start[h] == params.EmptyCell {
			a.start[h] = uint32(s)
		}
		a.end[h] = uint32(s) + 1
	}
}

func configured(m Model, numBodies uint32, dt float32) params.SimParams {
	p := params.SimParams{NumBodies: numBodies}
	m.Configure(&p)
	p.Dt = dt
	return p
}

func near(a, b common.Vec4, eps float64) bool {
	return math.Abs(float64(a.X-b.X)) <= eps && math.Abs(float64(a.Y-b.Y)) <= eps && math.Abs(float64(a.Z-b.Z)) <= eps
}

func TestRegistry(t *testing.T) {
	want := []ID{IDSimple, IDGrid, IDGrid2D, IDGoal, IDObstacle}
	if got := IDs(); !slices.Equal(got, want) {
		t.Fatalf("IDs() = %v, want %v", got, want)
	}
	for _, id := range want {
		m, err := ByID(id)
		if err != nil {
			t.Fatalf("ByID(%d): %v", id, err)
		}
		if m.ID() != id {
			t.Errorf("ByID(%d) returned model %d", id, m.ID())
		}
		if m.HostFunc() == nil || m.Kernel() == "" || m.Name() == "" {
			t.Errorf("model %d is incomplete", id)
		}
	}
	for _, id := range []ID{0, 3, 5, 7, 9} {
		if _, err := ByID(id); !errors.Is(err, ErrUnknownModel) {
			t.Errorf("ByID(%d) = %v, want ErrUnknownModel", id, err)
		}
	}
}

func TestConfigure(t *testing.T) {
	p := params.SimParams{NumBodies: 5000, Dt: 0.5}
	Grid().Configure(&p)
	if p.GridSize != (common.UVec3{X: 80, Y: 80, Z: 80}) || p.NumCells != 512000 {
		t.Errorf("grid %v with %d cells", p.GridSize, p.NumCells)
	}
	if p.NumBodies != 5000 || p.PaddedBodies != 8192 {
		t.Errorf("bodies %d padded %d", p.NumBodies, p.PaddedBodies)
	}
	if p.WAlignment != 0.2 || p.WSeparation != 0.01 || p.WCohesion != 0.002 || p.WOwn != 1.05 {
		t.Errorf("weights %+v", p)
	}
	if p.MaxVel != 9.5 || p.MaxVelCor != 10 || p.Flags != 0 {
		t.Errorf("caps %v/%v flags %d", p.MaxVel, p.MaxVelCor, p.Flags)
	}

	o := params.SimParams{NumBodies: 100}
	m := Obstacle()
	m.Configure(&o)
	if o.NumObstacles != uint32(len(m.Obstacles())) || o.NumObstacles != 30 {
		t.Errorf("obstacles %d, model has %d", o.NumObstacles, len(m.Obstacles()))
	}
	if o.Flags != params.FlagGoal|params.FlagObstacles || !m.UsesGoal() {
		t.Errorf("obstacle flags %b", o.Flags)
	}
	if g2 := configured(Grid2D(), 1, 0); g2.Flags != params.FlagPlanar || g2.GridSize.Y != 1 {
		t.Errorf("grid 2D params %+v", g2)
	}
}

// The bindings a model hands to the device are exactly the ones its program declares.
func TestBindingsMatchPrograms(t *testing.T) {
	fake := buffer.NewHostBuffer("b", 16)
	all := UpdateBuffers{fake, fake, fake, fake, fake, fake, fake, fake}
	for _, id := range IDs() {
		m, _ := ByID(id)
		s, err := shader.NewShaderFromFS(kernels.Sources, m.Kernel(), m.Kernel()+".wgsl")
		if err != nil {
			t.Fatalf("%s: %v", m.Kernel(), err)
		}
		var declared []int
		for _, b := range s.Bindings() {
			if b.Binding != 0 {
				declared = append(declared, b.Binding)
			}
		}
		var given []int
		for idx := range m.Bindings(all) {
			given = append(given, idx)
		}
		slices.Sort(declared)
		slices.Sort(given)
		if !slices.Equal(declared, given) {
			t.Errorf("%s declares %v, model binds %v", m.Name(), declared, given)
		}
		if m.UsesRanges() != slices.Contains(declared, BindingCellStart) {
			t.Errorf("%s UsesRanges() = %v", m.Name(), m.UsesRanges())
		}
	}
}

func TestLoneAgentKeepsVelocity(t *testing.T) {
	m := NewModel(
		WithKernel(kernels.SimulateSimple, hostSimple),
		WithGrid(common.UVec3{X: 10, Y: 10, Z: 10}, common.Vec3{X: 10, Y: 10, Z: 10}, common.Vec3{}),
		WithSpeedCaps(10, 10),
	)
	p := configured(m, 1, 0.5)
	a := newAgents(
		[]common.Vec4{common.NewVec4(50, 50, 50, 1)},
		[]common.Vec4{common.NewVec4(2, 0, -2, 0)},
	)
	a.run(t, m.HostFunc(), p)
	if want := common.NewVec4(51, 50, 49, 1); a.outPos[0] != want {
		t.Errorf("position %v, want %v", a.outPos[0], want)
	}
	if want := common.NewVec4(2, 0, -2, 0); a.outVel[0] != want {
		t.Errorf("velocity %v, want %v", a.outVel[0], want)
	}
}

func TestPaddingSlotsCopyThrough(t *testing.T) {
	m := Simple()
	p := configured(m, 3, 1)
	pad := common.NewVec4(7, 7, 7, 7)
	pos := []common.Vec4{common.NewVec4(10, 10, 10, 1), common.NewVec4(20, 10, 10, 1), common.NewVec4(10, 20, 10, 1), pad}
	vel := []common.Vec4{{}, {}, {}, pad}
	a := newAgents(pos, vel)
	a.run(t, m.HostFunc(), p)
	if a.outPos[3] != pad || a.outVel[3] != pad {
		t.Errorf("padding slot rewritten: %v %v", a.outPos[3], a.outVel[3])
	}
}

func TestSpeedIsCapped(t *testing.T) {
	m := Grid()
	p := configured(m, 1, 0.1)
	a := newAgents([]common.Vec4{common.NewVec4(600, 600, 600, 1)}, []common.Vec4{common.NewVec4(100, 0, 0, 0)})
	a.sortAndBin(p)
	a.run(t, m.HostFunc(), p)
	if speed := math.Abs(float64(a.outVel[0].X)); math.Abs(speed-9.5) > 1e-4 {
		t.Errorf("speed %v, want 9.5", speed)
	}
}

func TestAgentsReflectOffBounds(t *testing.T) {
	m := Grid()
	p := configured(m, 2, 1)
	hi := float32(80 * 15)
	a := newAgents(
		[]common.Vec4{common.NewVec4(0.5, 600, 600, 1), common.NewVec4(hi-0.5, 600, 600, 1)},
		[]common.Vec4{common.NewVec4(-5, 0, 0, 0), common.NewVec4(5, 0, 0, 0)},
	)
	a.sortAndBin(p)
	a.run(t, m.HostFunc(), p)
	for i := range 2 {
		x, vx := a.outPos[i].X, a.outVel[i].X
		if x < 0 || x > hi {
			t.Errorf("agent %d left the world: x = %v", i, x)
		}
		if (x == 0 && vx <= 0) || (x == hi && vx >= 0) {
			t.Errorf("agent %d at %v still heads out with %v", i, x, vx)
		}
	}
}

func TestPlanarModelDropsVerticalMotion(t *testing.T) {
	m := Grid2D()
	p := configured(m, 1, 1)
	a := newAgents([]common.Vec4{common.NewVec4(100, 7, 100, 1)}, []common.Vec4{common.NewVec4(1, 3, 1, 0)})
	a.sortAndBin(p)
	a.run(t, m.HostFunc(), p)
	if a.outVel[0].Y != 0 || a.outPos[0].Y != 7 {
		t.Errorf("planar agent moved vertically: pos %v vel %v", a.outPos[0], a.outVel[0])
	}
}

// With the neighbour radius at most one cell, the grid search finds exactly the neighbours
// the brute-force scan finds.
func TestGridMatchesBruteForce(t *testing.T) {
	base := configured(Grid(), 0, 0.25)
	var pos, vel []common.Vec4
	for i := range 200 {
		f := float32(i)
		pos = append(pos, common.NewVec4(300+float32(i%7)*6.5, 300+float32(i%5)*7.25, 300+f*0.9, 1))
		vel = append(vel, common.NewVec4(float32(i%3)-1, 0.5, float32(i%4)-1.5, 0))
	}
	p := base.WithBodies(uint32(len(pos)))
	padded := int(p.PaddedBodies)
	for len(pos) < padded {
		pos = append(pos, common.Vec4{})
		vel = append(vel, common.Vec4{})
	}

	grid := newAgents(slices.Clone(pos[:200]), slices.Clone(vel[:200]))
	grid.sortAndBin(p)
	grid.pos = append(grid.pos, pos[200:]...)
	grid.vel = append(grid.vel, vel[200:]...)
	grid.outPos, grid.outVel = make([]common.Vec4, padded), make([]common.Vec4, padded)
	brute := newAgents(slices.Clone(grid.pos), slices.Clone(grid.vel))

	grid.run(t, hostGrid, p)
	brute.run(t, hostSimple, p)
	for i := range 200 {
		if !near(grid.outPos[i], brute.outPos[i], 1e-4) || !near(grid.outVel[i], brute.outVel[i], 1e-4) {
			t.Fatalf("slot %d: grid %v/%v, brute force %v/%v", i, grid.outPos[i], grid.outVel[i], brute.outPos[i], brute.outVel[i])
		}
	}
}

func TestGoalAttracts(t *testing.T) {
	m := Goal()
	p := configured(m, 1, 0.1)
	a := newAgents([]common.Vec4{common.NewVec4(50, 50, 50, 1)}, []common.Vec4{{}})
	a.goal = []common.Vec4{common.NewVec4(200, 50, 50, 0)}
	a.sortAndBin(p)
	a.run(t, m.HostFunc(), p)
	if a.outVel[0].X <= 0 || a.outPos[0].X <= 50 {
		t.Errorf("agent did not head for its goal: pos %v vel %v", a.outPos[0], a.outVel[0])
	}
}

func TestObstacleRepels(t *testing.T) {
	m := Obstacle()
	p := configured(m, 1, 0.1)
	// Switch the goal term off to isolate the obstacle.
	p.Flags = params.FlagObstacles
	o := m.Obstacles()[0]
	start := common.NewVec4(o.X+o.W+1, o.Y, o.Z, 1)
	a := newAgents([]common.Vec4{start}, []common.Vec4{{}})
	a.goal = []common.Vec4{{}}
	a.obstacles = m.Obstacles()
	a.sortAndBin(p)
	a.run(t, m.HostFunc(), p)
	if a.outVel[0].X <= 0 {
		t.Errorf("agent beside the obstacle was not pushed away: vel %v", a.outVel[0])
	}
}

func TestClampAgents(t *testing.T) {
	cases := []struct{ in, want uint32 }{{0, MinAgents}, {4096, 4096}, {1 << 30, MaxAgents}}
	for _, c := range cases {
		if got := ClampAgents(c.in); got != c.want {
			t.Errorf("ClampAgents(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}
