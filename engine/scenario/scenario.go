// Package scenario generates the initial agent data for a step-zero upload: positions,
// velocities, goals and colours for one of five placements.
package scenario

import (
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/Carmen-Shannon/oxy-flock/common"
	"github.com/Carmen-Shannon/oxy-flock/engine/params"
)

// Placement selects an initial layout.
type Placement int

const (
	// Cube scatters agents uniformly inside the world, two cells in from every wall, each
	// with a random velocity and its own position as goal.
	Cube Placement = iota
	// TwoGroups places two equal balls on the z axis heading toward each other; each agent's
	// goal is a point in the opposite ball.
	TwoGroups
	// SmallAndLarge places one eighth of the agents in a small ball facing the rest in a
	// large ball; each group heads for the other group's centre.
	SmallAndLarge
	// FourGroups places four balls on the z and x axes, each pair heading toward each other.
	FourGroups
	// Crossing places two balls whose goals cross the other's path at a right angle.
	Crossing

	// NumPlacements is the number of placements.
	NumPlacements = 5
)

// setupRadius is the radius of the placement balls, in cells.
const setupRadius = 2.0

var (
	// AgentColor is the colour of agents in the Cube placement.
	AgentColor = common.NewVec4(0, 0, 0, 1)

	Green  = common.NewVec4(0.17, 0.37, 0.21, 1)
	Red    = common.NewVec4(0.69, 0.12, 0.12, 1)
	Yellow = common.NewVec4(0.77, 0.59, 0.09, 1)
	Blue   = common.NewVec4(0.09, 0.59, 0.77, 1)
)

// ErrUnknownPlacement is returned for a placement outside [0, NumPlacements).
var ErrUnknownPlacement = errors.New("scenario: unknown placement")

var placementNames = [NumPlacements]string{"cube", "two groups", "small and large", "four groups", "crossing"}

func (p Placement) String() string {
	if p < 0 || p >= NumPlacements {
		return fmt.Sprintf("placement(%d)", int(p))
	}
	return placementNames[p]
}

// Next returns the placement after p, wrapping to Cube.
func (p Placement) Next() Placement {
	return (p + 1) % NumPlacements
}

// Agents is host-side agent data, one entry per padded slot. Slots at or beyond the agent
// count are zero.
type Agents struct {
	Pos   []common.Vec4
	Vel   []common.Vec4
	Goal  []common.Vec4
	Color []common.Vec4
}

// Generate builds the agent data of a placement for the geometry and agent count in p.
// Velocities are drawn up to p.MaxVel.
//
// Parameters:
//   - placement: the layout
//   - p: the simulation parameters; grid, origin, cell size, NumBodies and MaxVel are read
//   - rng: the random source
//
// Returns:
//   - Agents: p.PaddedBodies entries per attribute
//   - error: ErrUnknownPlacement
func Generate(placement Placement, p params.SimParams, rng *rand.Rand) (Agents, error) {
	if placement < 0 || placement >= NumPlacements {
		log.Printf("[Scenario] unknown placement %d", int(placement))
		return Agents{}, fmt.Errorf("%w: %d", ErrUnknownPlacement, int(placement))
	}
	padded := max(p.PaddedBodies, p.NumBodies)
	g := &generator{
		s: sampler{rng: rng, p: p},
		a: Agents{
			Pos:   make([]common.Vec4, padded),
			Vel:   make([]common.Vec4, padded),
			Goal:  make([]common.Vec4, padded),
			Color: make([]common.Vec4, padded),
		},
		n:      int(p.NumBodies),
		maxVel: float64(p.MaxVel),
	}
	switch placement {
	case Cube:
		g.cube()
	case TwoGroups:
		g.twoGroups()
	case SmallAndLarge:
		g.smallAndLarge()
	case FourGroups:
		g.fourGroups()
	case Crossing:
		g.crossing()
	}
	return g.a, nil
}

// sampler draws points relative to the world box.
type sampler struct {
	rng *rand.Rand
	p   params.SimParams
}

func (s sampler) uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*s.rng.Float64()
}

// at returns the point at fractions (fx, fy, fz) of the world extent.
func (s sampler) at(fx, fy, fz float64) r3.Vec {
	ext := s.p.Extent()
	o := s.p.WorldOrigin
	return r3.Vec{
		X: float64(o.X) + fx*float64(ext.X),
		Y: float64(o.Y) + fy*float64(ext.Y),
		Z: float64(o.Z) + fz*float64(ext.Z),
	}
}

// ball returns a random point in a ball of radius cells around centre. The radius is scaled
// per axis by the cell size.
func (s sampler) ball(centre r3.Vec, radius float64) r3.Vec {
	theta := s.uniform(0, math.Pi)
	phi := s.uniform(0, 2*math.Pi)
	cs := s.p.CellSize
	return r3.Add(centre, r3.Vec{
		X: s.uniform(0, radius*float64(cs.X)) * math.Sin(theta) * math.Cos(phi),
		Y: s.uniform(0, radius*float64(cs.Y)) * math.Sin(theta) * math.Sin(phi),
		Z: s.uniform(0, radius*float64(cs.Z)) * math.Cos(theta),
	})
}

// inset returns a uniform coordinate on one axis, two cells in from both walls. Axes too
// thin for the inset use their centre.
func (s sampler) inset(origin, cellSize float32, cells uint32) float64 {
	lo := float64(origin) + 2*float64(cellSize)
	hi := float64(origin) + float64(cells)*float64(cellSize) - 2*float64(cellSize)
	if hi <= lo {
		return float64(origin) + float64(cells)*float64(cellSize)/2
	}
	return s.uniform(lo, hi)
}

type generator struct {
	s      sampler
	a      Agents
	n      int
	maxVel float64
}

func point(v r3.Vec, w float32) common.Vec4 {
	return common.NewVec4(float32(v.X), float32(v.Y), float32(v.Z), w)
}

// set writes agent i if it exists.
func (g *generator) set(i int, pos, vel r3.Vec, color common.Vec4) {
	if i >= g.n {
		return
	}
	g.a.Pos[i] = point(pos, 1)
	g.a.Vel[i] = point(vel, 0)
	g.a.Color[i] = color
}

func (g *generator) goal(i int, at r3.Vec) {
	if i >= g.n {
		return
	}
	g.a.Goal[i] = point(at, 0)
}

func (g *generator) alongZ(forward bool) r3.Vec {
	if forward {
		return r3.Vec{Z: g.s.uniform(0, g.maxVel)}
	}
	return r3.Vec{Z: g.s.uniform(-g.maxVel, 0)}
}

func (g *generator) alongX(forward bool) r3.Vec {
	if forward {
		return r3.Vec{X: g.s.uniform(0, g.maxVel)}
	}
	return r3.Vec{X: g.s.uniform(-g.maxVel, 0)}
}

func (g *generator) cube() {
	p := g.s.p
	for i := range g.n {
		pos := r3.Vec{
			X: g.s.inset(p.WorldOrigin.X, p.CellSize.X, p.GridSize.X),
			Y: g.s.inset(p.WorldOrigin.Y, p.CellSize.Y, p.GridSize.Y),
			Z: g.s.inset(p.WorldOrigin.Z, p.CellSize.Z, p.GridSize.Z),
		}
		vel := r3.Vec{
			X: g.s.uniform(-g.maxVel, g.maxVel),
			Y: g.s.uniform(-g.maxVel, g.maxVel),
			Z: g.s.uniform(-g.maxVel, g.maxVel),
		}
		g.set(i, pos, vel, AgentColor)
		g.goal(i, pos)
	}
}

func (g *generator) twoGroups() {
	const r = setupRadius / 2
	for i := 0; i < g.n; i += 2 {
		front := g.s.ball(g.s.at(0.5, 0.5, 0.25), r)
		g.set(i, front, g.alongZ(true), Green)
		g.goal(i+1, front)

		back := g.s.ball(g.s.at(0.5, 0.5, 0.75), r)
		g.set(i+1, back, g.alongZ(false), Red)
		g.goal(i, back)
	}
}

func (g *generator) smallAndLarge() {
	small := g.n / 8
	for i := range small {
		g.set(i, g.s.ball(g.s.at(0.5, 0.5, 0.25), setupRadius/4), g.alongZ(true), Green)
		g.goal(i, g.s.at(0.5, 0.5, 0.75))
	}
	for i := small; i < g.n; i++ {
		g.set(i, g.s.ball(g.s.at(0.5, 0.5, 0.75), setupRadius), g.alongZ(false), Red)
		g.goal(i, g.s.at(0.5, 0.5, 0.25))
	}
}

func (g *generator) fourGroups() {
	const r = setupRadius / 2
	for i := 0; i < g.n; i += 4 {
		a := g.s.ball(g.s.at(0.5, 0.5, 0.25), r)
		g.set(i, a, g.alongZ(true), Red)
		g.goal(i+1, a)

		b := g.s.ball(g.s.at(0.5, 0.5, 0.75), r)
		g.set(i+1, b, g.alongZ(false), Green)
		g.goal(i, b)

		c := g.s.ball(g.s.at(0.25, 0.5, 0.5), r)
		g.set(i+2, c, g.alongX(true), Yellow)
		g.goal(i+3, c)

		d := g.s.ball(g.s.at(0.75, 0.5, 0.5), r)
		g.set(i+3, d, g.alongX(false), Blue)
		g.goal(i+2, d)
	}
}

func (g *generator) crossing() {
	const r = setupRadius / 2
	for i := 0; i < g.n; i += 2 {
		g.set(i, g.s.ball(g.s.at(0.5, 0.5, 0.25), r), g.alongZ(true), Green)
		g.goal(i, g.s.ball(g.s.at(0.5, 0.5, 0.75), r))

		g.set(i+1, g.s.ball(g.s.at(0.75, 0.5, 0.5), r), g.alongX(false), Red)
		g.goal(i+1, g.s.ball(g.s.at(0.25, 0.5, 0.5), r))
	}
}
