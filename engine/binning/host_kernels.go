package binning

import (
	"github.com/Carmen-Shannon/oxy-flock/engine/device/kernel"
	"github.com/Carmen-Shannon/oxy-flock/engine/params"
)

func hostMemSet(ctx *kernel.HostContext) error {
	fp := params.UnmarshalFillParams(ctx.Uniform)
	dst := ctx.Words(fillDst)
	lo, hi := ctx.Invocations(fp.Count)
	for i := lo; i < hi; i++ {
		dst[i] = fp.Value
	}
	return nil
}

func hostGridHash(ctx *kernel.HostContext) error {
	p := params.UnmarshalSimParams(ctx.Uniform)
	pos := ctx.Vec4s(hashPos)
	keys, vals := ctx.Words(hashKeys), ctx.Words(hashVals)
	lo, hi := ctx.Invocations(p.PaddedBodies)
	for i := lo; i < hi; i++ {
		if i < p.NumBodies {
			keys[i] = p.Hash(pos[i])
		} else {
			keys[i] = params.PaddingKey
		}
		vals[i] = i
	}
	return nil
}

// hostFindGridEdgeAndReorder writes each cell boundary from the slot where the key changes,
// so every table entry has exactly one writer across all groups.
func hostFindGridEdgeAndReorder(ctx *kernel.HostContext) error {
	p := params.UnmarshalSimParams(ctx.Uniform)
	keys, vals := ctx.Words(edgeKeys), ctx.Words(edgeVals)
	start, end := ctx.Words(edgeStart), ctx.Words(edgeEnd)
	pos, vel := ctx.Vec4s(edgePos), ctx.Vec4s(edgeVel)
	sortedPos, sortedVel := ctx.Vec4s(edgeSortedPos), ctx.Vec4s(edgeSortedVel)

	n := p.PaddedBodies
	lo, hi := ctx.Invocations(n)
	for i := lo; i < hi; i++ {
		hash := keys[i]
		if i == 0 || hash != keys[i-1] {
			if hash < p.NumCells {
				start[hash] = i
			}
			if i > 0 && keys[i-1] < p.NumCells {
				end[keys[i-1]] = i
			}
		}
		if i == n-1 && hash < p.NumCells {
			end[hash] = n
		}
		src := vals[i]
		sortedPos[i] = pos[src]
		sortedVel[i] = vel[src]
	}
	return nil
}

func hostReorderAttributes(ctx *kernel.HostContext) error {
	p := params.UnmarshalSimParams(ctx.Uniform)
	vals := ctx.Words(gatherVals)
	goal, color := ctx.Vec4s(gatherGoal), ctx.Vec4s(gatherColor)
	sortedGoal, sortedColor := ctx.Vec4s(gatherSortedGoal), ctx.Vec4s(gatherSortedColor)
	lo, hi := ctx.Invocations(p.PaddedBodies)
	for i := lo; i < hi; i++ {
		src := vals[i]
		sortedGoal[i] = goal[src]
		sortedColor[i] = color[src]
	}
	return nil
}
