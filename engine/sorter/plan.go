package sorter

import (
	"github.com/Carmen-Shannon/oxy-flock/common"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/kernels"
	"github.com/Carmen-Shannon/oxy-flock/engine/params"
)

// Step is one dispatch of a sort.
type Step struct {
	// Kernel is the program name, e.g. kernels.BitonicMergeGlobal.
	Kernel string

	// Size is the bitonic stage size the pass belongs to.
	Size uint32

	// Stride is the comparator distance of the pass, or of its first sub-pass for local passes.
	Stride uint32

	// GlobalSize is the number of comparators across the whole batch.
	GlobalSize uint32

	// LocalSize is the number of comparators one work-group evaluates.
	LocalSize uint32

	// WorkGroups is the dispatch size.
	WorkGroups uint32
}

// plan builds the schedule for validated input. Local passes cover limit elements per
// work-group. Global merges run one comparator per invocation in work-groups of
// params.LocalPref, the invocation cap of a WGSL work-group.
func plan(batch, arrayLength, limit uint32) []Step {
	count := batch * arrayLength
	localStep := func(name string, size, stride uint32) Step {
		return Step{
			Kernel:     name,
			Size:       size,
			Stride:     stride,
			GlobalSize: count / 2,
			LocalSize:  limit / 2,
			WorkGroups: common.DivCeil(count, limit),
		}
	}

	if arrayLength <= limit {
		return []Step{localStep(kernels.BitonicSortLocal, arrayLength, arrayLength/2)}
	}

	steps := []Step{localStep(kernels.BitonicSortLocal1, limit, limit/2)}
	for size := 2 * limit; size <= arrayLength; size <<= 1 {
		for stride := size / 2; stride > 0; stride >>= 1 {
			if stride < limit {
				steps = append(steps, localStep(kernels.BitonicMergeLocal, size, stride))
				break
			}
			steps = append(steps, Step{
				Kernel:     kernels.BitonicMergeGlobal,
				Size:       size,
				Stride:     stride,
				GlobalSize: count / 2,
				LocalSize:  params.LocalPref,
				WorkGroups: common.DivCeil(count/2, params.LocalPref),
			})
		}
	}
	return steps
}
