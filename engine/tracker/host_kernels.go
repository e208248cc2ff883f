package tracker

import (
	"github.com/Carmen-Shannon/oxy-flock/engine/device/kernel"
	"github.com/Carmen-Shannon/oxy-flock/engine/params"
)

func hostReversePermutation(ctx *kernel.HostContext) error {
	p := params.UnmarshalSimParams(ctx.Uniform)
	vals, inverse := ctx.Words(bindingSortedVals), ctx.Words(bindingReverseIndex)
	lo, hi := ctx.Invocations(p.PaddedBodies)
	for i := lo; i < hi; i++ {
		inverse[vals[i]] = i
	}
	return nil
}
