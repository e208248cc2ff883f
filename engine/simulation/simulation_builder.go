package simulation

import (
	"github.com/Carmen-Shannon/oxy-flock/engine/model"
	"github.com/Carmen-Shannon/oxy-flock/engine/scenario"
	"github.com/Carmen-Shannon/oxy-flock/engine/sorter"
)

// SimulationBuilderOption is a functional option used to configure a Simulation during construction.
type SimulationBuilderOption func(*simulation)

// WithModel sets the update strategy the simulation starts with.
//
// Parameters:
//   - m: the model
//
// Returns:
//   - SimulationBuilderOption: a function that applies the model option to a simulation
func WithModel(m model.Model) SimulationBuilderOption {
	return func(s *simulation) {
		s.model = m
	}
}

// WithAgentCount sets the starting agent count. Zero keeps the model's default.
//
// Parameters:
//   - n: the agent count
//
// Returns:
//   - SimulationBuilderOption: a function that applies the agent count option to a simulation
func WithAgentCount(n uint32) SimulationBuilderOption {
	return func(s *simulation) {
		s.agentCount = n
	}
}

// WithPlacement sets the initial placement.
//
// Parameters:
//   - p: the placement
//
// Returns:
//   - SimulationBuilderOption: a function that applies the placement option to a simulation
func WithPlacement(p scenario.Placement) SimulationBuilderOption {
	return func(s *simulation) {
		s.placement = p
	}
}

// WithSeed seeds the random source the placements draw from.
//
// Parameters:
//   - seed: the seed
//
// Returns:
//   - SimulationBuilderOption: a function that applies the seed option to a simulation
func WithSeed(seed uint64) SimulationBuilderOption {
	return func(s *simulation) {
		s.seed = seed
	}
}

// WithSorter supplies a sorter built elsewhere. The simulation does not release it.
//
// Parameters:
//   - srt: the sorter
//
// Returns:
//   - SimulationBuilderOption: a function that applies the sorter option to a simulation
func WithSorter(srt sorter.Sorter) SimulationBuilderOption {
	return func(s *simulation) {
		s.sorter = srt
	}
}

// WithSortLocalSizeLimit sets the local size limit of the sorter the simulation builds.
// Ignored when WithSorter is given.
//
// Parameters:
//   - n: the local size limit, a power of two
//
// Returns:
//   - SimulationBuilderOption: a function that applies the limit to a simulation
func WithSortLocalSizeLimit(n uint32) SimulationBuilderOption {
	return func(s *simulation) {
		if n > 0 {
			s.localLimit = n
		}
	}
}

// WithStageTimings makes every stage wait for the device so its duration can be measured.
//
// Parameters:
//   - enabled: true to time each stage
//
// Returns:
//   - SimulationBuilderOption: a function that applies the timing option to a simulation
func WithStageTimings(enabled bool) SimulationBuilderOption {
	return func(s *simulation) {
		s.stageTimings = enabled
	}
}

// WithReverseTracking tracks the followed agent through the reverse permutation kernel.
//
// Parameters:
//   - enabled: true for reverse tracking
//
// Returns:
//   - SimulationBuilderOption: a function that applies the tracking option to a simulation
func WithReverseTracking(enabled bool) SimulationBuilderOption {
	return func(s *simulation) {
		s.reverse = enabled
	}
}

// WithMaxDt sets the largest time step one Step advances by.
//
// Parameters:
//   - dt: the maximum step in seconds; values <= 0 keep DefaultMaxDt
//
// Returns:
//   - SimulationBuilderOption: a function that applies the clamp to a simulation
func WithMaxDt(dt float32) SimulationBuilderOption {
	return func(s *simulation) {
		if dt > 0 {
			s.maxDt = dt
		}
	}
}
