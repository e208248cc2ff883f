// Package params holds the uniform structs shared between the host and the compute kernels.
// Each struct has a Marshal method producing the exact bytes the WGSL struct of the same name
// expects, and an embedded WGSL source that the shader pre-processor injects via @oxy:include.
package params

import (
	"math"

	"github.com/Carmen-Shannon/oxy-flock/common"
)

const (
	// EmptyCell marks a grid cell with no agents. Both start and end of an empty cell hold it.
	EmptyCell uint32 = 0xFFFFFFFF

	// PaddingKey is the hash given to padding slots so they sort after every real cell id.
	PaddingKey uint32 = 0xFFFFFFFF

	// LocalPref is the work-group size of the per-agent kernels.
	LocalPref uint32 = 256

	// DefaultLocalSizeLimit is the number of elements one bitonic local-sort work-group handles.
	DefaultLocalSizeLimit uint32 = 2048
)

const (
	// FlagPlanar confines motion to the XZ plane.
	FlagPlanar uint32 = 1 << iota
	// FlagGoal enables the goal-seeking term.
	FlagGoal
	// FlagObstacles enables obstacle repulsion.
	FlagObstacles
)

// SimParams is the per-simulation uniform read by the hash, extract and update kernels.
// Size: 96 bytes.
type SimParams struct {
	GridSize     common.UVec3 // offset 0
	NumCells     uint32       // offset 12
	WorldOrigin  common.Vec3  // offset 16
	NumBodies    uint32       // offset 28
	CellSize     common.Vec3  // offset 32
	PaddedBodies uint32       // offset 44
	WSeparation  float32      // offset 48
	WAlignment   float32      // offset 52
	WCohesion    float32      // offset 56
	WOwn         float32      // offset 60
	WPath        float32      // offset 64
	MaxVel       float32      // offset 68
	MaxVelCor    float32      // offset 72
	NumObstacles uint32       // offset 76
	Dt           float32      // offset 80
	Flags        uint32       // offset 84
	_pad0        uint32       // offset 88
	_pad1        uint32       // offset 92
}

// NewSimParams builds the geometric part of a SimParams. Weights, caps and flags are left
// zero for the update strategy to fill in.
//
// Parameters:
//   - grid: number of cells along each axis
//   - cellSize: edge length of one cell along each axis
//   - origin: world-space position of the grid corner
//   - numBodies: number of real agents
//
// Returns:
//   - SimParams: parameters with NumCells and PaddedBodies derived
func NewSimParams(grid common.UVec3, cellSize, origin common.Vec3, numBodies uint32) SimParams {
	return SimParams{
		GridSize:     grid,
		NumCells:     grid.Product(),
		WorldOrigin:  origin,
		NumBodies:    numBodies,
		CellSize:     cellSize,
		PaddedBodies: common.NextPowerOfTwo(numBodies),
	}
}

// WithBodies returns a copy of p resized for numBodies agents.
func (p SimParams) WithBodies(numBodies uint32) SimParams {
	p.NumBodies = numBodies
	p.PaddedBodies = common.NextPowerOfTwo(numBodies)
	return p
}

// Extent returns the world-space size of the grid.
func (p SimParams) Extent() common.Vec3 {
	return common.Vec3{
		X: float32(p.GridSize.X) * p.CellSize.X,
		Y: float32(p.GridSize.Y) * p.CellSize.Y,
		Z: float32(p.GridSize.Z) * p.CellSize.Z,
	}
}

// CellOf returns the clamped cell coordinate containing pos.
// Positions outside the grid are clamped to the nearest boundary cell.
func (p SimParams) CellOf(pos common.Vec4) common.UVec3 {
	return common.UVec3{
		X: clampAxis(pos.X, p.WorldOrigin.X, p.CellSize.X, p.GridSize.X),
		Y: clampAxis(pos.Y, p.WorldOrigin.Y, p.CellSize.Y, p.GridSize.Y),
		Z: clampAxis(pos.Z, p.WorldOrigin.Z, p.CellSize.Z, p.GridSize.Z),
	}
}

// CellHash linearises a cell coordinate with x varying fastest.
func (p SimParams) CellHash(c common.UVec3) uint32 {
	return (c.Z*p.GridSize.Y+c.Y)*p.GridSize.X + c.X
}

// Hash returns the cell id of pos. Same arithmetic as the getGridHash kernel.
func (p SimParams) Hash(pos common.Vec4) uint32 {
	return p.CellHash(p.CellOf(pos))
}

func clampAxis(v, origin, size float32, n uint32) uint32 {
	if n == 0 {
		return 0
	}
	c := float32(math.Floor(float64((v - origin) / size)))
	if c < 0 || c != c {
		return 0
	}
	if c > float32(n-1) {
		return n - 1
	}
	return uint32(c)
}
