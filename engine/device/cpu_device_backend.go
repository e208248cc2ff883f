package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-flock/common"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/buffer"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/kernel"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/shader"
)

// cpuDeviceBackendImpl executes host functions on a worker pool. Every dispatch runs to
// completion before Dispatch returns, which trivially preserves submission order.
type cpuDeviceBackendImpl struct {
	mu      *sync.Mutex
	workers int
	pool    worker.DynamicWorkerPool
}

var _ DeviceBackend = &cpuDeviceBackendImpl{}

func newCPUDeviceBackend(workers int) *cpuDeviceBackendImpl {
	// Queue size of 256 matches the upper bound on tasks submitted per dispatch.
	return &cpuDeviceBackendImpl{
		mu:      &sync.Mutex{},
		workers: workers,
		pool:    worker.NewDynamicWorkerPool(workers, 256, 1*time.Second),
	}
}

func (b *cpuDeviceBackendImpl) RegisterKernel(k kernel.Kernel) error {
	return nil
}

func (b *cpuDeviceBackendImpl) CreateBuffer(label string, size uint64) (buffer.Buffer, error) {
	return buffer.NewHostBuffer(label, size), nil
}

func (b *cpuDeviceBackendImpl) WriteBuffer(buf buffer.Buffer, offset uint64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	dst := common.SliceToBytes(buf.(buffer.HostBuffer).Words())
	copy(dst[offset:], data)
	return nil
}

func (b *cpuDeviceBackendImpl) ReadBuffer(buf buffer.Buffer, offset, size uint64) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	src := common.SliceToBytes(buf.(buffer.HostBuffer).Words())
	out := make([]byte, size)
	copy(out, src[offset:offset+size])
	return out, nil
}

func (b *cpuDeviceBackendImpl) Dispatch(k kernel.Kernel, bindings bind_group_provider.BindGroupProvider, uniform []byte, workGroups uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	views := hostBindings(k, bindings)
	localSize := k.LocalSize()
	fn := k.HostFunc()

	// Groups are split into contiguous chunks, at most one task per chunk, so large
	// dispatches do not flood the pool queue.
	tasks := min(workGroups, uint32(b.workers*4), 256)
	per := common.DivCeil(workGroups, tasks)

	var wg sync.WaitGroup
	var errMu sync.Mutex
	var firstErr error
	for t := uint32(0); t < tasks; t++ {
		lo := t * per
		hi := min(lo+per, workGroups)
		if lo >= hi {
			break
		}
		wg.Add(1)
		b.pool.SubmitTask(worker.Task{
			ID: int(t),
			Do: func() (any, error) {
				defer wg.Done()
				for g := lo; g < hi; g++ {
					if err := fn(kernel.NewHostContext(g, workGroups, localSize, uniform, views)); err != nil {
						errMu.Lock()
						if firstErr == nil {
							firstErr = fmt.Errorf("work-group %d: %w", g, err)
						}
						errMu.Unlock()
						return nil, err
					}
				}
				return nil, nil
			},
		})
	}
	wg.Wait()
	return firstErr
}

// hostBindings builds the word views a host function sees: the declared storage bindings
// of a WGSL-backed kernel, or every buffer of the provider for a host-only kernel.
func hostBindings(k kernel.Kernel, bindings bind_group_provider.BindGroupProvider) map[int][]uint32 {
	views := make(map[int][]uint32)
	if bindings == nil {
		return views
	}
	declared := k.Bindings()
	if declared == nil {
		for binding, buf := range bindings.Buffers() {
			if hb, ok := buf.(buffer.HostBuffer); ok {
				views[binding] = hb.Words()
			}
		}
		return views
	}
	for _, decl := range declared {
		if decl.Space == shader.AddressSpaceUniform {
			continue
		}
		if hb, ok := bindings.Buffer(decl.Binding).(buffer.HostBuffer); ok {
			views[decl.Binding] = hb.Words()
		}
	}
	return views
}

func (b *cpuDeviceBackendImpl) Wait() error {
	return nil
}

func (b *cpuDeviceBackendImpl) Release() {
	b.pool.Stop()
}
