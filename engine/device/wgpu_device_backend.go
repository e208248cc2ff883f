package device

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/Carmen-Shannon/oxy-flock/engine/device/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/buffer"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/kernel"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

type wgpuDeviceBackendImpl struct {
	mu     *sync.Mutex
	device *wgpu.Device
	queue  *wgpu.Queue

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	surface  *wgpu.Surface
}

var _ DeviceBackend = &wgpuDeviceBackendImpl{}

func newWGPUDeviceBackend(surfaceDescriptor *wgpu.SurfaceDescriptor, forceFallbackAdapter bool) (*wgpuDeviceBackendImpl, error) {
	runtime.LockOSThread()
	w := &wgpuDeviceBackendImpl{
		mu:       &sync.Mutex{},
		instance: wgpu.CreateInstance(nil),
	}
	if surfaceDescriptor != nil {
		w.surface = w.instance.CreateSurface(surfaceDescriptor)
	}

	a, err := w.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: forceFallbackAdapter,
		CompatibleSurface:    w.surface,
	})
	if err != nil {
		return nil, fmt.Errorf("request adapter: %w", err)
	}
	w.adapter = a

	// The extract and update kernels bind eight storage buffers each, exactly the default
	// limit; raised so externally supplied update programs get some room.
	limits := wgpu.DefaultLimits()
	limits.MaxStorageBuffersPerShaderStage = 10

	d, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Compute Device",
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: limits,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("request device: %w", err)
	}
	w.device = d
	w.queue = d.GetQueue()
	return w, nil
}

func (b *wgpuDeviceBackendImpl) RegisterKernel(k kernel.Kernel) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := k.Shader()
	module, err := b.device.CreateShaderModule(s.Module())
	if err != nil {
		return err
	}
	defer module.Release()

	desc := s.BindGroupLayoutDescriptor(0)
	bgl, err := b.device.CreateBindGroupLayout(&desc)
	if err != nil {
		return fmt.Errorf("failed to create bind group layout: %w", err)
	}
	k.SetBindGroupLayout(bgl)

	layout, err := b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            k.Name(),
		BindGroupLayouts: []*wgpu.BindGroupLayout{bgl},
	})
	if err != nil {
		return err
	}
	defer layout.Release()

	created, err := b.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  k.Name() + " Compute Pipeline",
		Layout: layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: s.EntryPoint(),
		},
	})
	if err != nil {
		return err
	}
	k.SetComputePipeline(created)

	if ub, ok := s.UniformBinding(); ok {
		size := roundUp16(ub.MinSize)
		buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: k.Name() + " Uniform Buffer",
			Size:  size,
			Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			return err
		}
		k.SetUniformBuffer(buffer.NewGPUBuffer(k.Name()+" Uniform Buffer", size, buf))
	}
	return nil
}

func (b *wgpuDeviceBackendImpl) CreateBuffer(label string, size uint64) (buffer.Buffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc,
	})
	if err != nil {
		return nil, err
	}
	return buffer.NewGPUBuffer(label, size, buf), nil
}

func (b *wgpuDeviceBackendImpl) WriteBuffer(buf buffer.Buffer, offset uint64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	handle := buf.(buffer.GPUBuffer).Handle()
	if handle == nil {
		return ErrReleased
	}
	b.queue.WriteBuffer(handle, offset, data)
	return nil
}

func (b *wgpuDeviceBackendImpl) ReadBuffer(buf buffer.Buffer, offset, size uint64) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	src := buf.(buffer.GPUBuffer).Handle()
	if src == nil {
		return nil, ErrReleased
	}

	staging, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: buf.Label() + " Readback",
		Size:  size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, err
	}
	defer staging.Release()

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, err
	}
	encoder.CopyBufferToBuffer(src, offset, staging, 0, size)
	commandBuffer, err := encoder.Finish(nil)
	encoder.Release()
	if err != nil {
		return nil, err
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()

	done := false
	status := wgpu.BufferMapAsyncStatusSuccess
	staging.MapAsync(wgpu.MapModeRead, 0, size, func(s wgpu.BufferMapAsyncStatus) {
		status = s
		done = true
	})
	for !done {
		b.device.Poll(true, nil)
	}
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return nil, fmt.Errorf("map %s: status %v", buf.Label(), status)
	}

	mapped := staging.GetMappedRange(0, uint(size))
	out := make([]byte, size)
	copy(out, mapped)
	staging.Unmap()
	return out, nil
}

func (b *wgpuDeviceBackendImpl) Dispatch(k kernel.Kernel, bindings bind_group_provider.BindGroupProvider, uniform []byte, workGroups uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pipeline := k.ComputePipeline()
	if pipeline == nil {
		return errors.New("kernel has no compute pipeline")
	}

	ub := k.UniformBuffer()
	if ub != nil && len(uniform) > 0 {
		b.queue.WriteBuffer(ub.(buffer.GPUBuffer).Handle(), 0, uniform)
	}

	bindGroup, err := b.bindGroup(k, bindings)
	if err != nil {
		return err
	}
	if bindings == nil {
		defer bindGroup.Release()
	}

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.DispatchWorkgroups(workGroups, 1, 1)
	pass.End()

	commandBuffer, err := encoder.Finish(nil)
	encoder.Release()
	if err != nil {
		return err
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()
	return nil
}

// bindGroup returns the bind group of k over bindings, creating and caching it on the
// provider on first use. Without a provider the group is not cached.
func (b *wgpuDeviceBackendImpl) bindGroup(k kernel.Kernel, bindings bind_group_provider.BindGroupProvider) (*wgpu.BindGroup, error) {
	if bindings != nil {
		if bg := bindings.BindGroup(k.Name()); bg != nil {
			return bg, nil
		}
	}

	declared := k.Bindings()
	entries := make([]wgpu.BindGroupEntry, 0, len(declared))
	for _, decl := range declared {
		var handle *wgpu.Buffer
		if decl.Space == shader.AddressSpaceUniform {
			handle = k.UniformBuffer().(buffer.GPUBuffer).Handle()
		} else {
			handle = bindings.Buffer(decl.Binding).(buffer.GPUBuffer).Handle()
		}
		entries = append(entries, wgpu.BindGroupEntry{
			Binding: uint32(decl.Binding),
			Buffer:  handle,
			Offset:  0,
			Size:    wgpu.WholeSize,
		})
	}

	label := k.Name() + " Bind Group"
	if bindings != nil {
		label = bindings.Label() + " " + label
	}
	bg, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   label,
		Layout:  k.BindGroupLayout(),
		Entries: entries,
	})
	if err != nil {
		return nil, err
	}
	if bindings != nil {
		bindings.SetBindGroup(k.Name(), bg)
	}
	return bg, nil
}

func (b *wgpuDeviceBackendImpl) Wait() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.device.Poll(true, nil)
	return nil
}

func (b *wgpuDeviceBackendImpl) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queue != nil {
		b.queue.Release()
		b.queue = nil
	}
	if b.device != nil {
		b.device.Release()
		b.device = nil
	}
	if b.adapter != nil {
		b.adapter.Release()
		b.adapter = nil
	}
	if b.surface != nil {
		b.surface.Release()
		b.surface = nil
	}
	if b.instance != nil {
		b.instance.Release()
		b.instance = nil
	}
}

func roundUp16(n uint64) uint64 {
	return (n + 15) &^ 15
}
