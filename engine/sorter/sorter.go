// Package sorter implements a batched bitonic sorting network over (key, value) pairs of
// uint32 held in device buffers. Every pass is a kernel dispatch on the device's ordered queue,
// so the sorter never waits on the device itself.
package sorter

import (
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/Carmen-Shannon/oxy-flock/common"
	"github.com/Carmen-Shannon/oxy-flock/engine/device"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/buffer"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/kernel"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/kernels"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/shader"
	"github.com/Carmen-Shannon/oxy-flock/engine/params"
)

// Binding indices shared by the bitonic programs. Merge programs bind only the destination.
const (
	bindingDstKey = 1
	bindingDstVal = 2
	bindingSrcKey = 3
	bindingSrcVal = 4
)

var (
	// ErrNotPowerOfTwo is returned when the array length or the local size limit is not a power of two.
	ErrNotPowerOfTwo = errors.New("sorter: length is not a power of two")

	// ErrBatchTooSmall is returned for a batch of zero arrays.
	ErrBatchTooSmall = errors.New("sorter: batch must hold at least one array")

	// ErrAliasedBuffers is returned when a source buffer is also a destination buffer.
	ErrAliasedBuffers = errors.New("sorter: source and destination buffers must be distinct")
)

// bitonicSorter is the implementation of the Sorter interface.
type bitonicSorter struct {
	dev            device.Device
	localSizeLimit uint32
	providers      *bind_group_provider.Cache
}

// Sorter sorts batches of (key, value) arrays on a Device.
type Sorter interface {
	// Sort sorts batch independent arrays of arrayLength pairs, concatenated in srcKey and
	// srcVal, into dstKey and dstVal. Arrays shorter than two elements are left alone.
	// Validation happens before any dispatch, so a rejected call leaves the destination untouched.
	//
	// Parameters:
	//   - dstKey, dstVal: destination buffers, distinct from the sources
	//   - srcKey, srcVal: source buffers holding batch*arrayLength words each
	//   - batch: the number of arrays, at least 1
	//   - arrayLength: the length of each array, a power of two
	//   - dir: 1 (or any non-zero value) for ascending order, 0 for descending
	//
	// Returns:
	//   - error: ErrNotPowerOfTwo, ErrBatchTooSmall, ErrAliasedBuffers, or a device error
	Sort(dstKey, dstVal, srcKey, srcVal buffer.Buffer, batch, arrayLength, dir uint32) error

	// Plan returns the dispatch schedule Sort would issue, without touching the device.
	//
	// Parameters:
	//   - batch: the number of arrays
	//   - arrayLength: the length of each array
	//   - dir: the sort direction
	//
	// Returns:
	//   - []Step: the passes in submission order; empty when arrayLength < 2
	//   - error: ErrNotPowerOfTwo or ErrBatchTooSmall
	Plan(batch, arrayLength, dir uint32) ([]Step, error)

	// LocalSizeLimit returns the number of elements one local pass sorts in shared memory.
	//
	// Returns:
	//   - uint32: the local size limit
	LocalSizeLimit() uint32

	// Release frees the cached bind groups. The sorter's kernels stay registered on the device.
	Release()
}

var _ Sorter = &bitonicSorter{}

// NewBitonicSorter creates a Sorter and registers its kernels on dev. Kernels are registered
// under names qualified by the local size limit, so sorters with different limits can share
// a device.
//
// Parameters:
//   - dev: the device to sort on
//   - options: variadic list of SorterBuilderOption functions
//
// Returns:
//   - Sorter: the sorter
//   - error: ErrNotPowerOfTwo for a bad local size limit, or a kernel build error
func NewBitonicSorter(dev device.Device, options ...SorterBuilderOption) (Sorter, error) {
	if dev == nil {
		panic("sorter: NewBitonicSorter requires a device")
	}
	s := &bitonicSorter{
		dev:            dev,
		localSizeLimit: params.DefaultLocalSizeLimit,
		providers:      bind_group_provider.NewCache(),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.localSizeLimit < 2 || !common.IsPowerOfTwo(s.localSizeLimit) {
		log.Printf("[Sorter] local size limit %d is not a power of two >= 2", s.localSizeLimit)
		return nil, fmt.Errorf("%w: local size limit %d", ErrNotPowerOfTwo, s.localSizeLimit)
	}
	if err := s.registerKernels(); err != nil {
		return nil, err
	}
	return s, nil
}

// registerKernels loads the four bitonic programs with LOCAL_SIZE_LIMIT baked in.
func (s *bitonicSorter) registerKernels() error {
	hosts := map[string]kernel.HostFunc{
		kernels.BitonicSortLocal:   s.hostSortLocal,
		kernels.BitonicSortLocal1:  s.hostSortLocal1,
		kernels.BitonicMergeGlobal: hostMergeGlobal,
		kernels.BitonicMergeLocal:  s.hostMergeLocal,
	}
	ks := make([]kernel.Kernel, 0, len(hosts))
	for _, base := range []string{
		kernels.BitonicSortLocal,
		kernels.BitonicSortLocal1,
		kernels.BitonicMergeGlobal,
		kernels.BitonicMergeLocal,
	} {
		loaded, err := s.dev.LoadKernel(base, hosts[base], shader.WithConst("LOCAL_SIZE_LIMIT", s.localSizeLimit))
		if err != nil {
			log.Printf("[Sorter] failed to load %s: %v", base, err)
			return err
		}
		ks = append(ks, kernel.NewKernel(s.kernelName(base),
			kernel.WithShader(loaded.Shader()),
			kernel.WithHostFunc(hosts[base]),
		))
	}
	if err := s.dev.RegisterKernels(ks...); err != nil {
		log.Printf("[Sorter] failed to register kernels: %v", err)
		return err
	}
	return nil
}

// kernelName qualifies a program name with the local size limit baked into it.
func (s *bitonicSorter) kernelName(base string) string {
	return fmt.Sprintf("%s@%d", base, s.localSizeLimit)
}

func (s *bitonicSorter) LocalSizeLimit() uint32 {
	return s.localSizeLimit
}

func (s *bitonicSorter) Sort(dstKey, dstVal, srcKey, srcVal buffer.Buffer, batch, arrayLength, dir uint32) error {
	if arrayLength < 2 {
		return nil
	}
	if dir != 0 {
		dir = 1
	}
	steps, err := s.Plan(batch, arrayLength, dir)
	if err != nil {
		return err
	}
	count := batch * arrayLength
	if err := checkBuffers(dstKey, dstVal, srcKey, srcVal, uint64(count)*4); err != nil {
		log.Printf("[Sorter] rejected sort of %d x %d: %v", batch, arrayLength, err)
		return err
	}

	bg := s.providerFor(dstKey, dstVal, srcKey, srcVal)
	for _, step := range steps {
		u := params.SortParams{
			ArrayLength: arrayLength,
			Size:        step.Size,
			Stride:      step.Stride,
			Dir:         dir,
			Count:       count,
		}
		if err := s.dev.Dispatch(s.kernelName(step.Kernel), bg, u.Marshal(), step.WorkGroups); err != nil {
			log.Printf("[Sorter] %s (size %d, stride %d) failed: %v", step.Kernel, step.Size, step.Stride, err)
			return err
		}
	}
	return nil
}

func (s *bitonicSorter) Plan(batch, arrayLength, dir uint32) ([]Step, error) {
	if arrayLength < 2 {
		return nil, nil
	}
	if batch == 0 {
		log.Printf("[Sorter] batch of zero arrays")
		return nil, ErrBatchTooSmall
	}
	if !common.IsPowerOfTwo(arrayLength) {
		log.Printf("[Sorter] array length %d is not a power of two", arrayLength)
		return nil, fmt.Errorf("%w: %d", ErrNotPowerOfTwo, arrayLength)
	}
	if uint64(batch)*uint64(arrayLength) > math.MaxUint32 {
		log.Printf("[Sorter] %d x %d elements overflow the index range", batch, arrayLength)
		return nil, fmt.Errorf("%w: %d x %d elements", device.ErrInvalidDispatch, batch, arrayLength)
	}
	return plan(batch, arrayLength, s.localSizeLimit), nil
}

// checkBuffers validates the four sort buffers before anything is dispatched.
func checkBuffers(dstKey, dstVal, srcKey, srcVal buffer.Buffer, need uint64) error {
	bufs := []buffer.Buffer{dstKey, dstVal, srcKey, srcVal}
	for _, b := range bufs {
		if b == nil {
			return fmt.Errorf("%w: nil buffer", device.ErrInvalidDispatch)
		}
		if b.Released() {
			return fmt.Errorf("%w: buffer %s", device.ErrReleased, b.Label())
		}
		if b.Size() < need {
			return fmt.Errorf("%w: %s has %d bytes, need %d", device.ErrBufferTooSmall, b.Label(), b.Size(), need)
		}
	}
	if dstKey == dstVal || srcKey == srcVal {
		return fmt.Errorf("%w: keys and values share a buffer", ErrAliasedBuffers)
	}
	for _, dst := range bufs[:2] {
		for _, src := range bufs[2:] {
			if dst == src {
				return fmt.Errorf("%w: %s is both read and written", ErrAliasedBuffers, dst.Label())
			}
		}
	}
	return nil
}

// providerFor returns the cached binding set of a buffer tuple.
func (s *bitonicSorter) providerFor(dstKey, dstVal, srcKey, srcVal buffer.Buffer) bind_group_provider.BindGroupProvider {
	return s.providers.Provider("sort", map[int]buffer.Buffer{
		bindingDstKey: dstKey,
		bindingDstVal: dstVal,
		bindingSrcKey: srcKey,
		bindingSrcVal: srcVal,
	})
}

func (s *bitonicSorter) Release() {
	s.providers.Release()
}
