// Package model holds the update-kernel strategies: each Model names the WGSL program that
// advances the sorted agents by one step, configures the SimParams it expects, and carries a
// host implementation of the same rule for the CPU device.
package model

import (
	"slices"

	"github.com/Carmen-Shannon/oxy-flock/common"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/buffer"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/kernel"
	"github.com/Carmen-Shannon/oxy-flock/engine/params"
)

// model is the implementation of the Model interface.
type model struct {
	id            ID
	name          string
	kernel        string
	grid          common.UVec3
	cellSize      common.Vec3
	origin        common.Vec3
	weights       Weights
	maxVel        float32
	maxVelCor     float32
	flags         uint32
	defaultAgents uint32
	obstacles     []common.Vec4
	bindings      []int
	host          kernel.HostFunc
}

// Model defines one flocking variant: the update program it dispatches and the grid,
// weights and caps it runs with.
type Model interface {
	// ID retrieves the model identifier.
	//
	// Returns:
	//   - ID: the identifier
	ID() ID

	// Name retrieves the human-readable model name.
	//
	// Returns:
	//   - string: the name
	Name() string

	// Kernel retrieves the name of the update program this model dispatches.
	//
	// Returns:
	//   - string: the kernel name
	Kernel() string

	// Configure writes the model's grid geometry, weights, caps and flags into p.
	// NumBodies is kept and PaddedBodies re-derived from it; Dt is left for the step to set.
	//
	// Parameters:
	//   - p: the parameters to configure
	Configure(p *params.SimParams)

	// DefaultAgents returns the agent count the model starts with.
	//
	// Returns:
	//   - uint32: the default agent count
	DefaultAgents() uint32

	// UsesRanges reports whether the update program reads the cell range tables.
	//
	// Returns:
	//   - bool: true for grid-searching models
	UsesRanges() bool

	// UsesGoal reports whether the update program steers toward per-agent goals.
	//
	// Returns:
	//   - bool: true if goals are read
	UsesGoal() bool

	// Obstacles returns the model's spherical obstacles (xyz centre, w radius).
	//
	// Returns:
	//   - []common.Vec4: the obstacles, empty for most models
	Obstacles() []common.Vec4

	// HostFunc returns the host implementation of the update program.
	//
	// Returns:
	//   - kernel.HostFunc: the host function
	HostFunc() kernel.HostFunc

	// Bindings picks from b the buffers the update program declares, keyed by binding index.
	//
	// Parameters:
	//   - b: every buffer the step can offer
	//
	// Returns:
	//   - map[int]buffer.Buffer: the program's bindings
	Bindings(b UpdateBuffers) map[int]buffer.Buffer
}

var _ Model = &model{}

// NewModel creates a new Model instance with the specified options applied.
// Without WithBindings the model binds only positions and velocities.
//
// Parameters:
//   - options: a variadic list of ModelBuilderOption functions to configure the Model
//
// Returns:
//   - Model: a new instance of Model configured with the provided options
func NewModel(options ...ModelBuilderOption) Model {
	m := &model{
		cellSize:  common.Vec3{X: 1, Y: 1, Z: 1},
		grid:      common.UVec3{X: 1, Y: 1, Z: 1},
		weights:   Weights{Own: 1},
		maxVel:    1,
		maxVelCor: 1,
		bindings:  []int{BindingSortedPos, BindingSortedVel, BindingOutPos, BindingOutVel},
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

func (m *model) ID() ID {
	return m.id
}

func (m *model) Name() string {
	return m.name
}

func (m *model) Kernel() string {
	return m.kernel
}

func (m *model) Configure(p *params.SimParams) {
	*p = params.NewSimParams(m.grid, m.cellSize, m.origin, p.NumBodies)
	p.WSeparation = m.weights.Separation
	p.WAlignment = m.weights.Alignment
	p.WCohesion = m.weights.Cohesion
	p.WOwn = m.weights.Own
	p.WPath = m.weights.Path
	p.MaxVel = m.maxVel
	p.MaxVelCor = m.maxVelCor
	p.Flags = m.flags
	p.NumObstacles = uint32(len(m.obstacles))
}

func (m *model) DefaultAgents() uint32 {
	return m.defaultAgents
}

func (m *model) UsesRanges() bool {
	return slices.Contains(m.bindings, BindingCellStart)
}

func (m *model) UsesGoal() bool {
	return m.flags&params.FlagGoal != 0
}

func (m *model) Obstacles() []common.Vec4 {
	return m.obstacles
}

func (m *model) HostFunc() kernel.HostFunc {
	return m.host
}

func (m *model) Bindings(b UpdateBuffers) map[int]buffer.Buffer {
	all := map[int]buffer.Buffer{
		BindingSortedPos: b.SortedPos,
		BindingSortedVel: b.SortedVel,
		BindingCellStart: b.CellStart,
		BindingCellEnd:   b.CellEnd,
		BindingGoal:      b.Goal,
		BindingObstacles: b.Obstacles,
		BindingOutPos:    b.OutPos,
		BindingOutVel:    b.OutVel,
	}
	out := make(map[int]buffer.Buffer, len(m.bindings))
	for _, idx := range m.bindings {
		out[idx] = all[idx]
	}
	return out
}
