package model

import (
	"fmt"
	"log"
	"slices"

	"github.com/Carmen-Shannon/oxy-flock/common"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/kernels"
	"github.com/Carmen-Shannon/oxy-flock/engine/params"
)

const (
	// MinAgents and MaxAgents bound the agent count a user can select.
	MinAgents uint32 = 2048
	MaxAgents uint32 = 524288

	defaultAgents   uint32  = 8192
	planarAgents    uint32  = 65536
	defaultCellSize float32 = 15
)

var (
	cell   = common.Vec3{X: defaultCellSize, Y: defaultCellSize, Z: defaultCellSize}
	origin = common.Vec3{}

	rangeBindings = []int{BindingSortedPos, BindingSortedVel, BindingCellStart, BindingCellEnd, BindingOutPos, BindingOutVel}
)

// Simple is the brute-force reference model on an 80³ world.
func Simple() Model {
	return NewModel(
		WithID(IDSimple),
		WithName("simple"),
		WithKernel(kernels.SimulateSimple, hostSimple),
		WithGrid(common.UVec3{X: 80, Y: 80, Z: 80}, cell, origin),
		WithWeights(Weights{Alignment: 0.2, Separation: 0.01, Cohesion: 0.002, Own: 1.05}),
		WithSpeedCaps(10, 10),
		WithDefaultAgents(defaultAgents),
	)
}

// Grid searches neighbours through the uniform grid of 80³ cells.
func Grid() Model {
	return NewModel(
		WithID(IDGrid),
		WithName("grid"),
		WithKernel(kernels.SimulateGrid, hostGrid),
		WithGrid(common.UVec3{X: 80, Y: 80, Z: 80}, cell, origin),
		WithWeights(Weights{Alignment: 0.2, Separation: 0.01, Cohesion: 0.002, Own: 1.05}),
		WithSpeedCaps(9.5, 10),
		WithDefaultAgents(defaultAgents),
		WithBindings(rangeBindings...),
	)
}

// Grid2D is the grid model on a single layer of 160x160 cells with vertical motion removed.
func Grid2D() Model {
	return NewModel(
		WithID(IDGrid2D),
		WithName("grid 2D"),
		WithKernel(kernels.SimulateGrid, hostGrid),
		WithGrid(common.UVec3{X: 160, Y: 1, Z: 160}, cell, origin),
		WithWeights(Weights{Alignment: 0.4, Separation: 0.01, Cohesion: 0.05, Own: 1.1}),
		WithSpeedCaps(9.5, 10),
		WithFlags(params.FlagPlanar),
		WithDefaultAgents(planarAgents),
		WithBindings(rangeBindings...),
	)
}

// Goal steers every agent toward its own goal point on a 16³ grid.
func Goal() Model {
	return NewModel(
		WithID(IDGoal),
		WithName("goal"),
		WithKernel(kernels.SimulateGoal, hostGrid),
		WithGrid(common.UVec3{X: 16, Y: 16, Z: 16}, cell, origin),
		WithWeights(Weights{Alignment: 0.02, Separation: 0.01, Cohesion: 0.02, Own: 1, Path: 5.5}),
		WithSpeedCaps(9.5, 10),
		WithFlags(params.FlagGoal),
		WithDefaultAgents(defaultAgents),
		WithBindings(append(slices.Clone(rangeBindings), BindingGoal)...),
	)
}

// Obstacle is the goal model with three columns in the way.
func Obstacle() Model {
	return NewModel(
		WithID(IDObstacle),
		WithName("obstacle"),
		WithKernel(kernels.SimulateObstacle, hostGrid),
		WithGrid(common.UVec3{X: 16, Y: 16, Z: 16}, cell, origin),
		WithWeights(Weights{Alignment: 0, Separation: 0.001, Cohesion: 0.02, Own: 0.8, Path: 2}),
		WithSpeedCaps(9.5, 10),
		WithFlags(params.FlagGoal|params.FlagObstacles),
		WithDefaultAgents(defaultAgents),
		WithObstacles(slices.Concat(
			column(8, 6, 10),
			column(8, 9, 10),
			column(6, 7, 10),
		)...),
		WithBindings(append(slices.Clone(rangeBindings), BindingGoal, BindingObstacles)...),
	)
}

// column stacks spheres up a one-cell-wide column standing on cell (x, 0, z), height cells tall.
// The radius reaches the corners of the cell's square cross-section.
func column(x, z, height uint32) []common.Vec4 {
	const radius = defaultCellSize * 0.7072
	cx := (float32(x) + 0.5) * defaultCellSize
	cz := (float32(z) + 0.5) * defaultCellSize
	out := make([]common.Vec4, height)
	for k := range out {
		out[k] = common.NewVec4(cx, (float32(k)+0.5)*defaultCellSize, cz, radius)
	}
	return out
}

var registry = map[ID]func() Model{
	IDSimple:   Simple,
	IDGrid:     Grid,
	IDGrid2D:   Grid2D,
	IDGoal:     Goal,
	IDObstacle: Obstacle,
}

// ByID returns a fresh instance of the model registered under id.
//
// Parameters:
//   - id: the model identifier
//
// Returns:
//   - Model: the model
//   - error: ErrUnknownModel if nothing is registered under id
func ByID(id ID) (Model, error) {
	build, ok := registry[id]
	if !ok {
		log.Printf("[Model] no model with id %d", id)
		return nil, fmt.Errorf("%w: %d", ErrUnknownModel, id)
	}
	return build(), nil
}

// IDs returns the registered identifiers in ascending order.
func IDs() []ID {
	ids := make([]ID, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ClampAgents bounds n to [MinAgents, MaxAgents].
func ClampAgents(n uint32) uint32 {
	return common.Clamp(n, MinAgents, MaxAgents)
}
