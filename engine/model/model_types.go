package model

import (
	"errors"

	"github.com/Carmen-Shannon/oxy-flock/engine/device/buffer"
)

// ID identifies a flocking model. The values match the number keys that select them.
type ID uint32

const (
	IDSimple   ID = 1
	IDGrid     ID = 2
	IDGrid2D   ID = 4
	IDGoal     ID = 6
	IDObstacle ID = 8
)

// ErrUnknownModel is returned for an ID with no registered model.
var ErrUnknownModel = errors.New("model: unknown model")

// Binding indices shared by the update programs. Each program declares only the subset it reads.
const (
	BindingSortedPos = 1
	BindingSortedVel = 2
	BindingCellStart = 3
	BindingCellEnd   = 4
	BindingGoal      = 5
	BindingObstacles = 6
	BindingOutPos    = 7
	BindingOutVel    = 8
)

// UpdateBuffers are the buffers an update kernel may read and write in one step. Positions
// and velocities are read in sorted order and written to the set that becomes active.
type UpdateBuffers struct {
	SortedPos buffer.Buffer
	SortedVel buffer.Buffer
	CellStart buffer.Buffer
	CellEnd   buffer.Buffer
	// Goal is in sorted order, one Vec4 per padded slot.
	Goal buffer.Buffer
	// Obstacles holds at least one Vec4 (xyz centre, w radius) even when the model has none.
	Obstacles buffer.Buffer
	OutPos    buffer.Buffer
	OutVel    buffer.Buffer
}

// Weights are the steering coefficients of a model.
type Weights struct {
	Separation float32
	Alignment  float32
	Cohesion   float32
	Own        float32
	Path       float32
}
