// Package tracker follows one agent across steps. The sort permutes agent slots every step, so
// an agent's slot after the update is the sorted position whose value is its previous slot.
package tracker

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/Carmen-Shannon/oxy-flock/common"
	"github.com/Carmen-Shannon/oxy-flock/engine/device"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/buffer"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/kernels"
	"github.com/Carmen-Shannon/oxy-flock/engine/params"
)

const (
	bindingSortedVals   = 1
	bindingReverseIndex = 2
)

// ErrSlotNotFound is returned when no sorted position carries the requested slot.
var ErrSlotNotFound = errors.New("tracker: slot not found in sorted index")

// tracker is the implementation of the Tracker interface.
type tracker struct {
	dev       device.Device
	reverse   bool
	mu        sync.Mutex
	inverse   buffer.Buffer
	providers *bind_group_provider.Cache
}

// Tracker maps an agent's previous slot to its slot after the latest sort.
type Tracker interface {
	// Track finds the sorted position i with sorted[i] == slot. It reads back from the device
	// and therefore waits for all submitted work; call it at most once per step.
	//
	// Parameters:
	//   - sorted: the SortedIndexArray of the latest step, p.PaddedBodies words
	//   - slot: the agent's slot before that step
	//   - p: the parameters the step ran with
	//
	// Returns:
	//   - uint32: the agent's new slot
	//   - error: ErrSlotNotFound, or a device error
	Track(sorted buffer.Buffer, slot uint32, p params.SimParams) (uint32, error)

	// Reverse reports whether lookups go through the reverse permutation kernel.
	//
	// Returns:
	//   - bool: true in reverse mode
	Reverse() bool

	// Release frees the reverse index buffer and cached bind groups.
	Release()
}

var _ Tracker = &tracker{}

// NewTracker creates a Tracker. In reverse mode the reversePermutation kernel is registered on dev.
//
// Parameters:
//   - dev: the device holding the sorted index
//   - options: variadic list of TrackerBuilderOption functions
//
// Returns:
//   - Tracker: the tracker
//   - error: a kernel load or registration error
func NewTracker(dev device.Device, options ...TrackerBuilderOption) (Tracker, error) {
	if dev == nil {
		panic("tracker: NewTracker requires a device")
	}
	t := &tracker{
		dev:       dev,
		providers: bind_group_provider.NewCache(),
	}
	for _, opt := range options {
		opt(t)
	}
	if !t.reverse {
		return t, nil
	}
	k, err := dev.LoadKernel(kernels.ReversePermutation, hostReversePermutation)
	if err != nil {
		log.Printf("[Tracker] failed to load %s: %v", kernels.ReversePermutation, err)
		return nil, err
	}
	if err := dev.RegisterKernels(k); err != nil {
		log.Printf("[Tracker] failed to register %s: %v", kernels.ReversePermutation, err)
		return nil, err
	}
	return t, nil
}

func (t *tracker) Reverse() bool {
	return t.reverse
}

func (t *tracker) Track(sorted buffer.Buffer, slot uint32, p params.SimParams) (uint32, error) {
	if slot >= p.NumBodies {
		return 0, fmt.Errorf("%w: slot %d of %d agents", ErrSlotNotFound, slot, p.NumBodies)
	}
	if t.reverse {
		return t.trackReverse(sorted, slot, p)
	}
	raw, err := t.dev.ReadBuffer(sorted, 0, uint64(p.PaddedBodies)*4)
	if err != nil {
		log.Printf("[Tracker] failed to read sorted index: %v", err)
		return 0, err
	}
	i, ok := FindSortedSlot(common.UnmarshalUint32s(raw), slot)
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrSlotNotFound, slot)
	}
	return i, nil
}

// trackReverse inverts the whole permutation on the device and reads back one word.
func (t *tracker) trackReverse(sorted buffer.Buffer, slot uint32, p params.SimParams) (uint32, error) {
	inverse, err := t.inverseBuffer(uint64(p.PaddedBodies) * 4)
	if err != nil {
		return 0, err
	}
	k := t.dev.Kernel(kernels.ReversePermutation)
	if k == nil {
		return 0, fmt.Errorf("%w: %s", device.ErrUnknownKernel, kernels.ReversePermutation)
	}
	bg := t.providers.Provider("reverse", map[int]buffer.Buffer{
		bindingSortedVals:   sorted,
		bindingReverseIndex: inverse,
	})
	if err := t.dev.Dispatch(kernels.ReversePermutation, bg, p.Marshal(), common.DivCeil(p.PaddedBodies, k.LocalSize())); err != nil {
		log.Printf("[Tracker] reverse permutation failed: %v", err)
		return 0, err
	}
	raw, err := t.dev.ReadBuffer(inverse, uint64(slot)*4, 4)
	if err != nil {
		log.Printf("[Tracker] failed to read reverse index: %v", err)
		return 0, err
	}
	return common.UnmarshalUint32s(raw)[0], nil
}

// inverseBuffer returns a reverse index buffer of at least size bytes, growing it when the
// agent count has grown.
func (t *tracker) inverseBuffer(size uint64) (buffer.Buffer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inverse != nil && t.inverse.Size() >= size {
		return t.inverse, nil
	}
	if t.inverse != nil {
		t.inverse.Release()
	}
	buf, err := t.dev.CreateBuffer("reverseIndex", size)
	if err != nil {
		log.Printf("[Tracker] failed to allocate reverse index: %v", err)
		t.inverse = nil
		return nil, err
	}
	t.inverse = buf
	return buf, nil
}

func (t *tracker) Release() {
	t.providers.Release()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inverse != nil {
		t.inverse.Release()
		t.inverse = nil
	}
}

// FindSortedSlot scans sorted for target.
//
// Parameters:
//   - sorted: a downloaded SortedIndexArray
//   - target: the slot to look for
//
// Returns:
//   - uint32: the position holding target
//   - bool: false if target does not occur
func FindSortedSlot(sorted []uint32, target uint32) (uint32, bool) {
	for i, v := range sorted {
		if v == target {
			return uint32(i), true
		}
	}
	return 0, false
}

// Reverse inverts a permutation: out[sorted[i]] = i. Entries outside the range are skipped.
//
// Parameters:
//   - sorted: a permutation of [0, len(sorted))
//
// Returns:
//   - []uint32: the inverse permutation
func Reverse(sorted []uint32) []uint32 {
	out := make([]uint32, len(sorted))
	for i, v := range sorted {
		if int(v) < len(out) {
			out[v] = uint32(i)
		}
	}
	return out
}
