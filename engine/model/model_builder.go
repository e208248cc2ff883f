package model

import (
	"github.com/Carmen-Shannon/oxy-flock/common"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/kernel"
)

// ModelBuilderOption is a functional option for configuring a Model via NewModel.
type ModelBuilderOption func(*model)

// WithID is an option builder that sets the identifier of the Model.
//
// Parameters:
//   - id: the model identifier
//
// Returns:
//   - ModelBuilderOption: a function that applies the id option to a model
func WithID(id ID) ModelBuilderOption {
	return func(m *model) {
		m.id = id
	}
}

// WithName is an option builder that sets the name of the Model.
//
// Parameters:
//   - name: the model name
//
// Returns:
//   - ModelBuilderOption: a function that applies the name option to a model
func WithName(name string) ModelBuilderOption {
	return func(m *model) {
		m.name = name
	}
}

// WithKernel is an option builder that sets the update program and its host implementation.
//
// Parameters:
//   - name: the kernel name
//   - host: the host implementation for the CPU device
//
// Returns:
//   - ModelBuilderOption: a function that applies the kernel option to a model
func WithKernel(name string, host kernel.HostFunc) ModelBuilderOption {
	return func(m *model) {
		m.kernel = name
		m.host = host
	}
}

// WithGrid is an option builder that sets the grid geometry.
//
// Parameters:
//   - grid: number of cells per axis
//   - cellSize: edge length of a cell per axis
//   - origin: world position of the grid corner
//
// Returns:
//   - ModelBuilderOption: a function that applies the grid option to a model
func WithGrid(grid common.UVec3, cellSize, origin common.Vec3) ModelBuilderOption {
	return func(m *model) {
		m.grid = grid
		m.cellSize = cellSize
		m.origin = origin
	}
}

// WithWeights is an option builder that sets the steering coefficients.
//
// Parameters:
//   - w: the weights
//
// Returns:
//   - ModelBuilderOption: a function that applies the weights option to a model
func WithWeights(w Weights) ModelBuilderOption {
	return func(m *model) {
		m.weights = w
	}
}

// WithSpeedCaps is an option builder that sets the velocity and correction limits.
//
// Parameters:
//   - maxVel: the largest speed an agent may reach
//   - maxVelCor: the largest steering correction per step
//
// Returns:
//   - ModelBuilderOption: a function that applies the caps to a model
func WithSpeedCaps(maxVel, maxVelCor float32) ModelBuilderOption {
	return func(m *model) {
		m.maxVel = maxVel
		m.maxVelCor = maxVelCor
	}
}

// WithFlags is an option builder that sets the params.Flag* bits of the Model.
//
// Parameters:
//   - flags: the flag bits
//
// Returns:
//   - ModelBuilderOption: a function that applies the flags to a model
func WithFlags(flags uint32) ModelBuilderOption {
	return func(m *model) {
		m.flags = flags
	}
}

// WithDefaultAgents is an option builder that sets the starting agent count.
//
// Parameters:
//   - n: the agent count
//
// Returns:
//   - ModelBuilderOption: a function that applies the agent count to a model
func WithDefaultAgents(n uint32) ModelBuilderOption {
	return func(m *model) {
		m.defaultAgents = n
	}
}

// WithObstacles is an option builder that sets the spherical obstacles.
//
// Parameters:
//   - obstacles: xyz centre, w radius
//
// Returns:
//   - ModelBuilderOption: a function that applies the obstacles to a model
func WithObstacles(obstacles ...common.Vec4) ModelBuilderOption {
	return func(m *model) {
		m.obstacles = obstacles
	}
}

// WithBindings is an option builder that lists the binding indices the update program declares.
//
// Parameters:
//   - bindings: Binding* indices
//
// Returns:
//   - ModelBuilderOption: a function that applies the bindings to a model
func WithBindings(bindings ...int) ModelBuilderOption {
	return func(m *model) {
		m.bindings = bindings
	}
}
