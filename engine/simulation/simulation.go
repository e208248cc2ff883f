// Package simulation runs the per-step pipeline: clear the cell tables, hash, sort, extract
// the cell ranges while gathering agents into sorted order, run the model's update kernel
// into the other buffer set, and flip the parity.
package simulation

import (
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-flock/common"
	"github.com/Carmen-Shannon/oxy-flock/engine/binning"
	"github.com/Carmen-Shannon/oxy-flock/engine/device"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/buffer"
	"github.com/Carmen-Shannon/oxy-flock/engine/model"
	"github.com/Carmen-Shannon/oxy-flock/engine/params"
	"github.com/Carmen-Shannon/oxy-flock/engine/scenario"
	"github.com/Carmen-Shannon/oxy-flock/engine/sorter"
	"github.com/Carmen-Shannon/oxy-flock/engine/tracker"
)

var (
	// ErrAgentCount is returned for an agent count of zero or above model.MaxAgents.
	ErrAgentCount = errors.New("simulation: agent count out of range")

	// ErrNotFollowing is returned by Followed when no agent is being followed.
	ErrNotFollowing = errors.New("simulation: no agent is followed")
)

// DefaultMaxDt is the largest time step a single Step advances by.
const DefaultMaxDt float32 = 1

// simulation is the implementation of the Simulation interface.
type simulation struct {
	mu sync.RWMutex

	dev        device.Device
	sorter     sorter.Sorter
	ownsSorter bool
	localLimit uint32
	binner     binning.Binner
	tracker    tracker.Tracker
	reverse    bool
	providers  *bind_group_provider.Cache

	model      model.Model
	params     params.SimParams
	agentCount uint32
	placement  scenario.Placement
	seed       uint64
	rng        *rand.Rand
	maxDt      float32

	bufs   *buffers
	parity int
	steps  uint64

	stageTimings bool
	timings      StageTimings

	following  bool
	followSlot uint32
	followed   uint32

	released bool
}

// Simulation owns the agent buffers of one flock and advances them step by step on a Device.
// Step must not be called concurrently with itself; every other method may be called from
// any goroutine and never observes a half-finished step.
type Simulation interface {
	// Step advances the flock by dt seconds. dt is clamped to the configured maximum and a
	// dt of zero or less does nothing. On error the parity is left as it was, so the active
	// buffers keep the previous step's agents.
	//
	// Parameters:
	//   - dt: the time step in seconds
	//
	// Returns:
	//   - error: the first stage error
	Step(dt float32) error

	// ActivePositionBuffer returns the buffer holding the current positions.
	//
	// Returns:
	//   - buffer.Buffer: positions, one Vec4 per padded slot
	ActivePositionBuffer() buffer.Buffer

	// ActiveVelocityBuffer returns the buffer holding the current velocities.
	//
	// Returns:
	//   - buffer.Buffer: velocities, one Vec4 per padded slot
	ActiveVelocityBuffer() buffer.Buffer

	// ActiveGoalBuffer returns the buffer holding the current goals, in the same slot order
	// as the positions.
	//
	// Returns:
	//   - buffer.Buffer: goals, one Vec4 per padded slot
	ActiveGoalBuffer() buffer.Buffer

	// ActiveColorBuffer returns the buffer holding the current colours, in the same slot
	// order as the positions.
	//
	// Returns:
	//   - buffer.Buffer: colours, one Vec4 per padded slot
	ActiveColorBuffer() buffer.Buffer

	// SortedIndexBuffer returns the sorted index of the latest step: entry i holds the slot
	// the agent now in slot i occupied before that step.
	//
	// Returns:
	//   - buffer.Buffer: PaddedAgentCount words
	SortedIndexBuffer() buffer.Buffer

	// Parity returns which buffer set is active, 0 or 1.
	Parity() int

	// Steps returns the number of successful steps since the last restart.
	Steps() uint64

	// AgentCount returns the number of simulated agents.
	AgentCount() uint32

	// PaddedAgentCount returns the agent count rounded up to a power of two.
	PaddedAgentCount() uint32

	// CellCount returns the number of grid cells.
	CellCount() uint32

	// Params returns a copy of the current simulation parameters.
	Params() params.SimParams

	// Model returns the active update strategy.
	Model() model.Model

	// Placement returns the placement used by the next restart.
	Placement() scenario.Placement

	// TrackIdentity returns the slot now held by the agent that occupied slot before the
	// latest step. Before the first step every agent is still in its own slot.
	//
	// Parameters:
	//   - slot: the agent's slot before the latest step
	//
	// Returns:
	//   - uint32: the agent's current slot
	//   - error: tracker.ErrSlotNotFound, or a device error
	TrackIdentity(slot uint32) (uint32, error)

	// LastStageTimings returns the timings of the latest successful step.
	//
	// Returns:
	//   - StageTimings: per-stage durations, valid only with stage timings enabled
	LastStageTimings() StageTimings

	// ReadAgents waits for the device and reads back the active positions and velocities.
	//
	// Returns:
	//   - []common.Vec4: AgentCount positions
	//   - []common.Vec4: AgentCount velocities
	//   - error: a device error
	ReadAgents() ([]common.Vec4, []common.Vec4, error)

	// CellRanges reads back the non-empty cells of the latest step.
	//
	// Returns:
	//   - []binning.CellRange: the non-empty cells in cell order
	//   - error: a device error
	CellRanges() ([]binning.CellRange, error)

	// Restart regenerates the agents with the current placement and resets the parity.
	//
	// Returns:
	//   - error: a generation or upload error
	Restart() error

	// SetModel switches the update strategy, resets the agent count to the model's default
	// and restarts.
	//
	// Parameters:
	//   - m: the new model
	//
	// Returns:
	//   - error: model.ErrUnknownModel for nil, or a kernel, allocation or upload error
	SetModel(m model.Model) error

	// SetAgentCount resizes the flock and restarts.
	//
	// Parameters:
	//   - n: the new agent count, 1 to model.MaxAgents
	//
	// Returns:
	//   - error: ErrAgentCount, or an allocation or upload error
	SetAgentCount(n uint32) error

	// GrowAgents doubles the agent count within [model.MinAgents, model.MaxAgents].
	GrowAgents() error

	// ShrinkAgents halves the agent count within [model.MinAgents, model.MaxAgents].
	ShrinkAgents() error

	// NextPlacement cycles to the next placement and restarts.
	NextPlacement() error

	// SetFollowed starts following the agent in slot. The slot is re-tracked after every step.
	//
	// Parameters:
	//   - slot: the agent's current slot
	//
	// Returns:
	//   - error: tracker.ErrSlotNotFound for a slot beyond the agent count
	SetFollowed(slot uint32) error

	// Unfollow stops following.
	Unfollow()

	// Following reports whether an agent is followed. Following stops on its own when the
	// agent is lost or the agent count drops below its slot.
	Following() bool

	// Followed reads back the followed agent.
	//
	// Returns:
	//   - uint32: its current slot
	//   - common.Vec4: its position
	//   - common.Vec4: its velocity
	//   - error: ErrNotFollowing, or a device error
	Followed() (uint32, common.Vec4, common.Vec4, error)

	// Release frees every buffer, the cached bind groups and the stages built by the simulation.
	Release()
}

var _ Simulation = &simulation{}

// NewSimulation creates a Simulation on dev, builds its stages, allocates the buffers of the
// selected model and uploads the first placement. Without WithModel the grid model is used.
//
// Parameters:
//   - dev: the device to run on
//   - options: variadic list of SimulationBuilderOption functions
//
// Returns:
//   - Simulation: the simulation, ready to Step
//   - error: a stage, allocation or upload error
func NewSimulation(dev device.Device, options ...SimulationBuilderOption) (Simulation, error) {
	if dev == nil {
		panic("simulation: NewSimulation requires a device")
	}
	s := &simulation{
		dev:        dev,
		localLimit: params.DefaultLocalSizeLimit,
		seed:       1,
		maxDt:      DefaultMaxDt,
		providers:  bind_group_provider.NewCache(),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.model == nil {
		s.model = model.Grid()
	}
	s.rng = rand.New(rand.NewPCG(s.seed, s.seed^0x5851f42d4c957f2d))

	if err := s.buildStages(); err != nil {
		s.Release()
		return nil, err
	}
	if err := s.configure(s.model, s.agentCount); err != nil {
		s.Release()
		return nil, err
	}
	log.Printf("[Simulation] %s model with %d agents (%d padded, %d cells)",
		s.model.Name(), s.params.NumBodies, s.params.PaddedBodies, s.params.NumCells)
	return s, nil
}

func (s *simulation) buildStages() error {
	if s.sorter == nil {
		srt, err := sorter.NewBitonicSorter(s.dev, sorter.WithLocalSizeLimit(s.localLimit))
		if err != nil {
			return err
		}
		s.sorter, s.ownsSorter = srt, true
	}
	b, err := binning.NewBinner(s.dev)
	if err != nil {
		return err
	}
	s.binner = b
	t, err := tracker.NewTracker(s.dev, tracker.WithReverse(s.reverse))
	if err != nil {
		return err
	}
	s.tracker = t
	return nil
}

// configure makes m the active model with count agents (0 selects the model default),
// reallocating the buffers and restarting. The previous state survives a failure.
func (s *simulation) configure(m model.Model, count uint32) error {
	if m == nil {
		return fmt.Errorf("%w: nil model", model.ErrUnknownModel)
	}
	if count == 0 {
		count = common.Coalesce(m.DefaultAgents(), model.MinAgents)
	}
	if count > model.MaxAgents {
		log.Printf("[Simulation] %d agents exceeds the maximum of %d", count, model.MaxAgents)
		return fmt.Errorf("%w: %d", ErrAgentCount, count)
	}
	if err := s.loadModel(m); err != nil {
		return err
	}
	p := params.SimParams{NumBodies: count}
	m.Configure(&p)

	bufs, err := allocate(s.dev, p, m.Obstacles())
	if err != nil {
		log.Printf("[Simulation] failed to allocate %d agents: %v", count, err)
		return err
	}
	if s.bufs != nil {
		s.bufs.release()
	}
	s.bufs = bufs
	s.model, s.params = m, p
	if s.following && s.followSlot >= count {
		s.following = false
	}
	return s.restart()
}

// loadModel registers the model's update program unless the device already has it.
func (s *simulation) loadModel(m model.Model) error {
	if s.dev.Kernel(m.Kernel()) != nil {
		return nil
	}
	k, err := s.dev.LoadKernel(m.Kernel(), m.HostFunc())
	if err != nil {
		log.Printf("[Simulation] failed to load %s for the %s model: %v", m.Kernel(), m.Name(), err)
		return err
	}
	if err := s.dev.RegisterKernels(k); err != nil {
		log.Printf("[Simulation] failed to register %s: %v", m.Kernel(), err)
		return err
	}
	return nil
}

// restart uploads a fresh placement into buffer set 0.
func (s *simulation) restart() error {
	agents, err := scenario.Generate(s.placement, s.params, s.rng)
	if err != nil {
		return err
	}
	set := s.bufs.sets[0]
	bg := s.providers.Provider("upload", map[int]buffer.Buffer{0: set.pos, 1: set.vel, 2: set.goal, 3: set.color})
	writes := []bind_group_provider.BufferWrite{
		{Provider: bg, Binding: 0, Data: common.MarshalVec4s(agents.Pos)},
		{Provider: bg, Binding: 1, Data: common.MarshalVec4s(agents.Vel)},
		{Provider: bg, Binding: 2, Data: common.MarshalVec4s(agents.Goal)},
		{Provider: bg, Binding: 3, Data: common.MarshalVec4s(agents.Color)},
	}
	if err := s.dev.WriteBuffers(writes); err != nil {
		log.Printf("[Simulation] failed to upload the %s placement: %v", s.placement, err)
		return err
	}
	s.parity = 0
	s.steps = 0
	s.timings = StageTimings{}
	s.followed = s.followSlot
	return nil
}

func (s *simulation) Step(dt float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return device.ErrReleased
	}
	if dt <= 0 {
		return nil
	}
	p := s.params
	p.Dt = min(dt, s.maxDt)

	in, out := s.bufs.sets[s.parity], s.bufs.sets[1-s.parity]
	tables := binning.CellTables{Start: s.bufs.start, End: s.bufs.end}
	sorted := s.sortedPairs(p)
	gathered := binning.AgentBuffers{Pos: s.bufs.scratch.pos, Vel: s.bufs.scratch.vel, Goal: out.goal, Color: out.color}

	var t StageTimings
	stages := []struct {
		name string
		dst  *time.Duration
		run  func() error
	}{
		{"clear", &t.Clear, func() error { return s.binner.Clear(tables, p.NumCells) }},
		{"hash", &t.Hash, func() error { return s.binner.Hash(in.pos, s.bufs.keys, s.bufs.vals, p) }},
		{"sort", &t.Sort, func() error {
			return s.sorter.Sort(s.bufs.sortedKeys, s.bufs.sortedVals, s.bufs.keys, s.bufs.vals, 1, p.PaddedBodies, 1)
		}},
		{"reorder", &t.Reorder, func() error {
			return s.binner.ExtractAndReorder(tables, sorted, in.agentBuffers(), gathered, p)
		}},
		{"update", &t.Update, func() error { return s.update(p, out) }},
	}

	begin := time.Now()
	for _, stage := range stages {
		started := time.Now()
		if err := stage.run(); err != nil {
			log.Printf("[Simulation] %s stage of step %d failed: %v", stage.name, s.steps+1, err)
			return fmt.Errorf("%s stage: %w", stage.name, err)
		}
		if s.stageTimings {
			if err := s.dev.Wait(); err != nil {
				log.Printf("[Simulation] wait after %s stage failed: %v", stage.name, err)
				return fmt.Errorf("%s stage: %w", stage.name, err)
			}
			*stage.dst = time.Since(started)
		}
	}
	t.Total = time.Since(begin)
	t.Valid = s.stageTimings

	s.timings = t
	s.parity = 1 - s.parity
	s.steps++

	if s.following {
		slot, err := s.tracker.Track(sorted.Vals, s.followed, p)
		if err != nil {
			log.Printf("[Simulation] lost followed agent in slot %d: %v", s.followed, err)
			s.following = false
			return nil
		}
		s.followed = slot
	}
	return nil
}

// sortedPairs returns the pairs the extract stage reads. A single padded slot is never
// sorted, so the hashed pairs are already in order.
func (s *simulation) sortedPairs(p params.SimParams) binning.KeyValues {
	if p.PaddedBodies < 2 {
		return binning.KeyValues{Keys: s.bufs.keys, Vals: s.bufs.vals}
	}
	return binning.KeyValues{Keys: s.bufs.sortedKeys, Vals: s.bufs.sortedVals}
}

// update dispatches the model's program from the sorted scratch set into out.
func (s *simulation) update(p params.SimParams, out agentSet) error {
	name := s.model.Kernel()
	k := s.dev.Kernel(name)
	if k == nil {
		return fmt.Errorf("%w: %s", device.ErrUnknownKernel, name)
	}
	bg := s.providers.Provider("update."+name, s.model.Bindings(model.UpdateBuffers{
		SortedPos: s.bufs.scratch.pos,
		SortedVel: s.bufs.scratch.vel,
		CellStart: s.bufs.start,
		CellEnd:   s.bufs.end,
		Goal:      out.goal,
		Obstacles: s.bufs.obstacles,
		OutPos:    out.pos,
		OutVel:    out.vel,
	}))
	return s.dev.Dispatch(name, bg, p.Marshal(), common.DivCeil(p.PaddedBodies, k.LocalSize()))
}

func (s *simulation) ActivePositionBuffer() buffer.Buffer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bufs.sets[s.parity].pos
}

func (s *simulation) ActiveVelocityBuffer() buffer.Buffer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bufs.sets[s.parity].vel
}

func (s *simulation) ActiveGoalBuffer() buffer.Buffer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bufs.sets[s.parity].goal
}

func (s *simulation) ActiveColorBuffer() buffer.Buffer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bufs.sets[s.parity].color
}

func (s *simulation) SortedIndexBuffer() buffer.Buffer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedPairs(s.params).Vals
}

func (s *simulation) Parity() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.parity
}

func (s *simulation) Steps() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.steps
}

func (s *simulation) AgentCount() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params.NumBodies
}

func (s *simulation) PaddedAgentCount() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params.PaddedBodies
}

func (s *simulation) CellCount() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params.NumCells
}

func (s *simulation) Params() params.SimParams {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

func (s *simulation) Model() model.Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

func (s *simulation) Placement() scenario.Placement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.placement
}

func (s *simulation) TrackIdentity(slot uint32) (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.steps == 0 {
		if slot >= s.params.NumBodies {
			return 0, fmt.Errorf("%w: slot %d of %d agents", tracker.ErrSlotNotFound, slot, s.params.NumBodies)
		}
		return slot, nil
	}
	return s.tracker.Track(s.sortedPairs(s.params).Vals, slot, s.params)
}

func (s *simulation) LastStageTimings() StageTimings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timings
}

func (s *simulation) ReadAgents() ([]common.Vec4, []common.Vec4, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.dev.Wait(); err != nil {
		return nil, nil, err
	}
	set := s.bufs.sets[s.parity]
	size := uint64(s.params.NumBodies) * common.Vec4Size
	pos, err := s.dev.ReadBuffer(set.pos, 0, size)
	if err != nil {
		log.Printf("[Simulation] failed to read positions: %v", err)
		return nil, nil, err
	}
	vel, err := s.dev.ReadBuffer(set.vel, 0, size)
	if err != nil {
		log.Printf("[Simulation] failed to read velocities: %v", err)
		return nil, nil, err
	}
	return common.UnmarshalVec4s(pos), common.UnmarshalVec4s(vel), nil
}

func (s *simulation) CellRanges() ([]binning.CellRange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.binner.Ranges(binning.CellTables{Start: s.bufs.start, End: s.bufs.end}, s.params.NumCells)
}

func (s *simulation) Restart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restart()
}

func (s *simulation) SetModel(m model.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.configure(m, 0); err != nil {
		return err
	}
	s.agentCount = 0
	log.Printf("[Simulation] switched to the %s model with %d agents", m.Name(), s.params.NumBodies)
	return nil
}

func (s *simulation) SetAgentCount(n uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setAgentCount(n)
}

func (s *simulation) setAgentCount(n uint32) error {
	if n == 0 || n > model.MaxAgents {
		log.Printf("[Simulation] agent count %d outside [1, %d]", n, model.MaxAgents)
		return fmt.Errorf("%w: %d", ErrAgentCount, n)
	}
	if err := s.configure(s.model, n); err != nil {
		return err
	}
	s.agentCount = n
	return nil
}

func (s *simulation) GrowAgents() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setAgentCount(model.ClampAgents(s.params.NumBodies * 2))
}

func (s *simulation) ShrinkAgents() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setAgentCount(model.ClampAgents(s.params.NumBodies / 2))
}

func (s *simulation) NextPlacement() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placement = s.placement.Next()
	return s.restart()
}

func (s *simulation) SetFollowed(slot uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot >= s.params.NumBodies {
		return fmt.Errorf("%w: slot %d of %d agents", tracker.ErrSlotNotFound, slot, s.params.NumBodies)
	}
	s.following = true
	s.followSlot, s.followed = slot, slot
	return nil
}

func (s *simulation) Unfollow() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.following = false
}

func (s *simulation) Following() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.following
}

func (s *simulation) Followed() (uint32, common.Vec4, common.Vec4, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.following {
		return 0, common.Vec4{}, common.Vec4{}, ErrNotFollowing
	}
	set := s.bufs.sets[s.parity]
	off := uint64(s.followed) * common.Vec4Size
	pos, err := s.dev.ReadBuffer(set.pos, off, common.Vec4Size)
	if err != nil {
		return 0, common.Vec4{}, common.Vec4{}, err
	}
	vel, err := s.dev.ReadBuffer(set.vel, off, common.Vec4Size)
	if err != nil {
		return 0, common.Vec4{}, common.Vec4{}, err
	}
	return s.followed, common.UnmarshalVec4s(pos)[0], common.UnmarshalVec4s(vel)[0], nil
}

func (s *simulation) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	s.providers.Release()
	if s.bufs != nil {
		s.bufs.release()
	}
	if s.binner != nil {
		s.binner.Release()
	}
	if s.tracker != nil {
		s.tracker.Release()
	}
	if s.sorter != nil && s.ownsSorter {
		s.sorter.Release()
	}
}
