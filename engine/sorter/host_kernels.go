package sorter

import (
	"github.com/Carmen-Shannon/oxy-flock/engine/device/kernel"
	"github.com/Carmen-Shannon/oxy-flock/engine/params"
)

// The host kernels below evaluate the same comparator sequence as the WGSL programs, with a
// per-group copy of the chunk standing in for work-group storage.

func compareAndSwap(keys, vals []uint32, a, b uint32, dir bool) {
	if (keys[a] > keys[b]) == dir {
		keys[a], keys[b] = keys[b], keys[a]
		vals[a], vals[b] = vals[b], vals[a]
	}
}

// chunk is the slice of the batch one local work-group owns.
type chunk struct {
	base, valid uint32
	keys, vals  []uint32
}

// loadChunk copies the group's elements from the given bindings. ok is false for a group
// past the end of the data.
func (s *bitonicSorter) loadChunk(ctx *kernel.HostContext, count uint32, keyBinding, valBinding int) (chunk, bool) {
	base := ctx.GroupID * s.localSizeLimit
	if base >= count {
		return chunk{}, false
	}
	valid := min(s.localSizeLimit, count-base)
	c := chunk{
		base:  base,
		valid: valid,
		keys:  make([]uint32, valid),
		vals:  make([]uint32, valid),
	}
	copy(c.keys, ctx.Words(keyBinding)[base:base+valid])
	copy(c.vals, ctx.Words(valBinding)[base:base+valid])
	return c, true
}

// store writes a chunk back to the destination bindings.
func (c chunk) store(ctx *kernel.HostContext) {
	copy(ctx.Words(bindingDstKey)[c.base:], c.keys)
	copy(ctx.Words(bindingDstVal)[c.base:], c.vals)
}

// pass runs one column of comparators over the chunk. dirOf gives the direction of
// comparator c (the index within the group).
func (s *bitonicSorter) pass(c chunk, stride uint32, dirOf func(c uint32) bool) {
	for i := uint32(0); i < s.localSizeLimit/2; i++ {
		pos := 2*i - (i & (stride - 1))
		if pos+stride < c.valid {
			compareAndSwap(c.keys, c.vals, pos, pos+stride, dirOf(i))
		}
	}
}

func (s *bitonicSorter) hostSortLocal(ctx *kernel.HostContext) error {
	p := params.UnmarshalSortParams(ctx.Uniform)
	c, ok := s.loadChunk(ctx, p.Count, bindingSrcKey, bindingSrcVal)
	if !ok {
		return nil
	}
	dir := p.Dir != 0
	for size := uint32(2); size < p.ArrayLength; size <<= 1 {
		for stride := size / 2; stride > 0; stride >>= 1 {
			s.pass(c, stride, func(i uint32) bool { return dir != (i&(size/2) != 0) })
		}
	}
	for stride := p.ArrayLength / 2; stride > 0; stride >>= 1 {
		s.pass(c, stride, func(uint32) bool { return dir })
	}
	c.store(ctx)
	return nil
}

func (s *bitonicSorter) hostSortLocal1(ctx *kernel.HostContext) error {
	p := params.UnmarshalSortParams(ctx.Uniform)
	c, ok := s.loadChunk(ctx, p.Count, bindingSrcKey, bindingSrcVal)
	if !ok {
		return nil
	}
	for size := uint32(2); size < s.localSizeLimit; size <<= 1 {
		for stride := size / 2; stride > 0; stride >>= 1 {
			s.pass(c, stride, func(i uint32) bool { return i&(size/2) != 0 })
		}
	}
	odd := ctx.GroupID&1 != 0
	for stride := s.localSizeLimit / 2; stride > 0; stride >>= 1 {
		s.pass(c, stride, func(uint32) bool { return odd })
	}
	c.store(ctx)
	return nil
}

func (s *bitonicSorter) hostMergeLocal(ctx *kernel.HostContext) error {
	p := params.UnmarshalSortParams(ctx.Uniform)
	c, ok := s.loadChunk(ctx, p.Count, bindingDstKey, bindingDstVal)
	if !ok {
		return nil
	}
	dir := p.Dir != 0
	first := ctx.GroupID * (s.localSizeLimit / 2)
	dirOf := func(i uint32) bool {
		comparator := (first + i) & (p.ArrayLength/2 - 1)
		return dir != (comparator&(p.Size/2) != 0)
	}
	for stride := p.Stride; stride > 0; stride >>= 1 {
		s.pass(c, stride, dirOf)
	}
	c.store(ctx)
	return nil
}

func hostMergeGlobal(ctx *kernel.HostContext) error {
	p := params.UnmarshalSortParams(ctx.Uniform)
	keys, vals := ctx.Words(bindingDstKey), ctx.Words(bindingDstVal)
	dir := p.Dir != 0
	lo, hi := ctx.Invocations(p.Count / 2)
	for g := lo; g < hi; g++ {
		comparator := g & (p.ArrayLength/2 - 1)
		ddd := dir != (comparator&(p.Size/2) != 0)
		pos := 2*g - (g & (p.Stride - 1))
		compareAndSwap(keys, vals, pos, pos+p.Stride, ddd)
	}
	return nil
}
