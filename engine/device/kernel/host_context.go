package kernel

import "github.com/Carmen-Shannon/oxy-flock/common"

// HostFunc is the host implementation of a kernel. The CPU device calls it once per
// work-group, possibly concurrently for different groups of the same dispatch. Writes from
// different groups must be disjoint, exactly as for the WGSL program.
type HostFunc func(ctx *HostContext) error

// HostContext is what one work-group of a host kernel sees.
type HostContext struct {
	// GroupID is the index of this work-group within the dispatch.
	GroupID uint32

	// NumGroups is the number of work-groups in the dispatch.
	NumGroups uint32

	// LocalSize is the number of invocations per work-group.
	LocalSize uint32

	// Uniform holds the bytes written as the kernel's var<uniform> for this dispatch.
	Uniform []byte

	bindings map[int][]uint32
}

// NewHostContext builds the context of one work-group.
//
// Parameters:
//   - groupID: the work-group index
//   - numGroups: the dispatch size in work-groups
//   - localSize: invocations per work-group
//   - uniform: the uniform bytes of the dispatch
//   - bindings: word views of the bound storage buffers, keyed by binding index
//
// Returns:
//   - *HostContext: the context
func NewHostContext(groupID, numGroups, localSize uint32, uniform []byte, bindings map[int][]uint32) *HostContext {
	return &HostContext{
		GroupID:   groupID,
		NumGroups: numGroups,
		LocalSize: localSize,
		Uniform:   uniform,
		bindings:  bindings,
	}
}

// Words returns the word view of a bound buffer, nil if the binding is not bound.
func (c *HostContext) Words(binding int) []uint32 {
	return c.bindings[binding]
}

// Vec4s returns a Vec4 view of a bound buffer sharing its memory.
func (c *HostContext) Vec4s(binding int) []common.Vec4 {
	return common.CastSlice[common.Vec4](c.bindings[binding])
}

// Invocations returns the global invocation ids [lo, hi) of this work-group, clipped to
// total. hi <= lo when the whole group is out of range.
func (c *HostContext) Invocations(total uint32) (lo, hi uint32) {
	lo = c.GroupID * c.LocalSize
	hi = min(lo+c.LocalSize, total)
	return lo, hi
}
