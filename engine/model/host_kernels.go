package model

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/Carmen-Shannon/oxy-flock/common"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/kernel"
	"github.com/Carmen-Shannon/oxy-flock/engine/params"
)

// The host kernels follow flock_rules.wgsl term for term, in float64.

func vec(v common.Vec4) r3.Vec {
	return r3.Vec{X: float64(v.X), Y: float64(v.Y), Z: float64(v.Z)}
}

func vec4(v r3.Vec, w float32) common.Vec4 {
	return common.NewVec4(float32(v.X), float32(v.Y), float32(v.Z), w)
}

// rules evaluates the steering terms under one set of parameters.
type rules struct {
	p params.SimParams
}

func (r rules) neighbourRadius() float64 {
	return float64(min(r.p.CellSize.X, r.p.CellSize.Y, r.p.CellSize.Z))
}

type neighbourhood struct {
	count      int
	sumPos     r3.Vec
	sumVel     r3.Vec
	separation r3.Vec
}

func (n *neighbourhood) gather(p, q, qv r3.Vec, radius float64) {
	d := r3.Sub(p, q)
	dist2 := r3.Norm2(d)
	if dist2 == 0 || dist2 >= radius*radius {
		return
	}
	n.count++
	n.sumPos = r3.Add(n.sumPos, q)
	n.sumVel = r3.Add(n.sumVel, qv)
	n.separation = r3.Add(n.separation, r3.Scale(1/dist2, d))
}

func (r rules) flockSteer(n neighbourhood, p, v r3.Vec) r3.Vec {
	if n.count == 0 {
		return r3.Vec{}
	}
	inv := 1 / float64(n.count)
	align := r3.Scale(float64(r.p.WAlignment), r3.Sub(r3.Scale(inv, n.sumVel), v))
	cohere := r3.Scale(float64(r.p.WCohesion), r3.Sub(r3.Scale(inv, n.sumPos), p))
	separate := r3.Scale(float64(r.p.WSeparation), n.separation)
	return r3.Add(r3.Add(align, cohere), separate)
}

func (r rules) goalSteer(p, v, goal r3.Vec) r3.Vec {
	d := r3.Sub(goal, p)
	l := r3.Norm(d)
	if l < 1e-4 {
		return r3.Vec{}
	}
	desired := r3.Scale(float64(r.p.MaxVel)/l, d)
	return r3.Scale(float64(r.p.WPath), r3.Sub(desired, v))
}

func (r rules) obstacleSteer(p r3.Vec, o common.Vec4) r3.Vec {
	margin := r.neighbourRadius()
	d := r3.Sub(p, vec(o))
	dist := r3.Norm(d)
	reach := float64(o.W) + margin
	if dist >= reach || dist < 1e-4 {
		return r3.Vec{}
	}
	return r3.Scale((reach-dist)/margin*float64(r.p.MaxVelCor)/dist, d)
}

func clampLength(v r3.Vec, maxLen float64) r3.Vec {
	l := r3.Norm(v)
	if l > maxLen && l > 0 {
		return r3.Scale(maxLen/l, v)
	}
	return v
}

// integrate applies steer, caps the speed, advances by dt and reflects off the world bounds.
func (r rules) integrate(p, v, steer r3.Vec) (r3.Vec, r3.Vec) {
	nv := r3.Add(r3.Scale(float64(r.p.WOwn), v), clampLength(steer, float64(r.p.MaxVelCor)))
	if r.p.Flags&params.FlagPlanar != 0 {
		nv.Y = 0
	}
	nv = clampLength(nv, float64(r.p.MaxVel))
	np := r3.Add(p, r3.Scale(float64(r.p.Dt), nv))

	lo := r3.Vec{X: float64(r.p.WorldOrigin.X), Y: float64(r.p.WorldOrigin.Y), Z: float64(r.p.WorldOrigin.Z)}
	ext := r.p.Extent()
	hi := r3.Add(lo, r3.Vec{X: float64(ext.X), Y: float64(ext.Y), Z: float64(ext.Z)})
	reflect := func(pos, vel *float64, lo, hi float64) {
		switch {
		case *pos < lo:
			*pos = lo
			*vel = abs(*vel)
		case *pos > hi:
			*pos = hi
			*vel = -abs(*vel)
		}
	}
	reflect(&np.X, &nv.X, lo.X, hi.X)
	reflect(&np.Y, &nv.Y, lo.Y, hi.Y)
	reflect(&np.Z, &nv.Z, lo.Z, hi.Z)
	return np, nv
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// update runs the per-agent loop shared by every model; neighbours supplies the
// neighbourhood of sorted slot i.
func update(ctx *kernel.HostContext, neighbours func(r rules, i uint32, p r3.Vec) neighbourhood) error {
	r := rules{p: params.UnmarshalSimParams(ctx.Uniform)}
	pos, vel := ctx.Vec4s(BindingSortedPos), ctx.Vec4s(BindingSortedVel)
	outPos, outVel := ctx.Vec4s(BindingOutPos), ctx.Vec4s(BindingOutVel)
	goals, obstacles := ctx.Vec4s(BindingGoal), ctx.Vec4s(BindingObstacles)
	useGoal := r.p.Flags&params.FlagGoal != 0 && goals != nil
	useObstacles := r.p.Flags&params.FlagObstacles != 0 && obstacles != nil

	lo, hi := ctx.Invocations(r.p.PaddedBodies)
	for i := lo; i < hi; i++ {
		if i >= r.p.NumBodies {
			outPos[i] = pos[i]
			outVel[i] = vel[i]
			continue
		}
		p, v := vec(pos[i]), vec(vel[i])
		steer := r.flockSteer(neighbours(r, i, p), p, v)
		if useGoal {
			steer = r3.Add(steer, r.goalSteer(p, v, vec(goals[i])))
		}
		if useObstacles {
			for k := uint32(0); k < r.p.NumObstacles && int(k) < len(obstacles); k++ {
				steer = r3.Add(steer, r.obstacleSteer(p, obstacles[k]))
			}
		}
		np, nv := r.integrate(p, v, steer)
		outPos[i] = vec4(np, pos[i].W)
		outVel[i] = vec4(nv, vel[i].W)
	}
	return nil
}

// hostSimple compares every agent with every other agent.
func hostSimple(ctx *kernel.HostContext) error {
	pos, vel := ctx.Vec4s(BindingSortedPos), ctx.Vec4s(BindingSortedVel)
	return update(ctx, func(r rules, i uint32, p r3.Vec) neighbourhood {
		var n neighbourhood
		radius := r.neighbourRadius()
		for j := uint32(0); j < r.p.NumBodies; j++ {
			if j != i {
				n.gather(p, vec(pos[j]), vec(vel[j]), radius)
			}
		}
		return n
	})
}

// hostGrid searches the 27 cells around the agent's cell through the range tables.
func hostGrid(ctx *kernel.HostContext) error {
	pos, vel := ctx.Vec4s(BindingSortedPos), ctx.Vec4s(BindingSortedVel)
	start, end := ctx.Words(BindingCellStart), ctx.Words(BindingCellEnd)
	return update(ctx, func(r rules, i uint32, p r3.Vec) neighbourhood {
		var n neighbourhood
		radius := r.neighbourRadius()
		c := r.p.CellOf(pos[i])
		g := r.p.GridSize
		for dz := -1; dz <= 1; dz++ {
			z := int(c.Z) + dz
			if z < 0 || z >= int(g.Z) {
				continue
			}
			for dy := -1; dy <= 1; dy++ {
				y := int(c.Y) + dy
				if y < 0 || y >= int(g.Y) {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					x := int(c.X) + dx
					if x < 0 || x >= int(g.X) {
						continue
					}
					h := r.p.CellHash(common.UVec3{X: uint32(x), Y: uint32(y), Z: uint32(z)})
					if start[h] == params.EmptyCell {
						continue
					}
					for j := start[h]; j < end[h]; j++ {
						if j != i {
							n.gather(p, vec(pos[j]), vec(vel[j]), radius)
						}
					}
				}
			}
		}
		return n
	})
}
