package device

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/Carmen-Shannon/oxy-flock/engine/device/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/buffer"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/kernel"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/kernels"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

// MaxWorkGroups is the largest work-group count accepted by a single one-dimensional dispatch.
const MaxWorkGroups = 65535

var (
	// ErrUnknownKernel is returned when a kernel name has not been registered or has no source.
	ErrUnknownKernel = errors.New("device: unknown kernel")

	// ErrBufferTooSmall is returned when a buffer cannot hold a binding or a copy range.
	ErrBufferTooSmall = errors.New("device: buffer too small")

	// ErrInvalidDispatch is returned for malformed dispatches: a zero or oversized work-group
	// count, a missing binding, a buffer from another backend or a short uniform.
	ErrInvalidDispatch = errors.New("device: invalid dispatch")

	// ErrReleased is returned when a released device or buffer is used.
	ErrReleased = errors.New("device: released")
)

// device is the implementation of the Device interface.
type device struct {
	mu *sync.Mutex

	kernelCache map[string]kernel.Kernel

	backendType BackendType
	backend     DeviceBackend
	released    bool

	// Pre-creation config collected from builder options
	forceFallbackAdapter bool
	surfaceDescriptor    *wgpu.SurfaceDescriptor
	workers              int
	kernelDir            string
}

// Device is a compute device with a single in-order submission stream. Every buffer write
// and kernel dispatch executes in the order it was issued, so a dispatch always observes the
// writes of every dispatch issued before it. The host only blocks in ReadBuffer and Wait.
//
// Errors are logged with a [Device] tag where they occur and returned to the caller.
type Device interface {
	// Backend returns the backend this device executes on.
	//
	// Returns:
	//   - BackendType: the backend
	Backend() BackendType

	// LoadKernel builds a kernel from its program source: <name>.wgsl in the kernel directory
	// when one is configured and the file exists, otherwise the built-in program.
	//
	// Parameters:
	//   - name: the program name, which is also the kernel name
	//   - host: the host implementation used by the CPU backend; may be nil for WGPU
	//   - opts: shader options, e.g. shader.WithConst
	//
	// Returns:
	//   - kernel.Kernel: the unregistered kernel
	//   - error: ErrUnknownKernel when no source exists, or a shader error
	LoadKernel(name string, host kernel.HostFunc, opts ...shader.ShaderBuilderOption) (kernel.Kernel, error)

	// RegisterKernels builds the backend programs of the kernels and caches them by name.
	// Kernels whose names are already registered are skipped.
	//
	// Parameters:
	//   - kernels: the kernels to register
	//
	// Returns:
	//   - error: an error if any program fails to build; earlier kernels stay registered
	RegisterKernels(kernels ...kernel.Kernel) error

	// Kernel retrieves a registered kernel, or nil.
	//
	// Parameters:
	//   - name: the kernel name
	//
	// Returns:
	//   - kernel.Kernel: the kernel or nil
	Kernel(name string) kernel.Kernel

	// Kernels retrieves all registered kernels.
	//
	// Returns:
	//   - map[string]kernel.Kernel: kernels keyed by name
	Kernels() map[string]kernel.Kernel

	// CreateBuffer allocates a zeroed storage buffer usable as any kernel binding and as a
	// copy source or destination. size is rounded up to a multiple of 4.
	//
	// Parameters:
	//   - label: a debug label
	//   - size: size in bytes, greater than zero
	//
	// Returns:
	//   - buffer.Buffer: the buffer
	//   - error: an error if the allocation failed
	CreateBuffer(label string, size uint64) (buffer.Buffer, error)

	// WriteBuffer enqueues a copy of data into buf at offset.
	//
	// Parameters:
	//   - buf: the destination buffer
	//   - offset: destination byte offset, a multiple of 4
	//   - data: the bytes to copy, a multiple of 4 long
	//
	// Returns:
	//   - error: ErrBufferTooSmall, ErrReleased or ErrInvalidDispatch for misaligned input
	WriteBuffer(buf buffer.Buffer, offset uint64, data []byte) error

	// WriteBuffers applies a batch of BufferWrite operations in order.
	//
	// Parameters:
	//   - writes: the writes to apply
	//
	// Returns:
	//   - error: the first failing write's error
	WriteBuffers(writes []bind_group_provider.BufferWrite) error

	// ReadBuffer waits for every submitted operation and returns a copy of a range of buf.
	//
	// Parameters:
	//   - buf: the source buffer
	//   - offset: source byte offset, a multiple of 4
	//   - size: number of bytes, a multiple of 4
	//
	// Returns:
	//   - []byte: the copied bytes
	//   - error: ErrBufferTooSmall, ErrReleased, or a backend readback error
	ReadBuffer(buf buffer.Buffer, offset, size uint64) ([]byte, error)

	// Dispatch enqueues one execution of a registered kernel. The kernel's uniform binding, if
	// it has one, is filled with uniform; every other binding it declares must be present in
	// bindings with a buffer at least as large as the binding's minimum size.
	//
	// Parameters:
	//   - name: the kernel name
	//   - bindings: storage buffers keyed by binding index
	//   - uniform: the bytes of the kernel's uniform; ignored for kernels without one
	//   - workGroups: the number of work-groups, 1..MaxWorkGroups
	//
	// Returns:
	//   - error: ErrUnknownKernel, ErrInvalidDispatch, ErrBufferTooSmall, ErrReleased, or a backend error
	Dispatch(name string, bindings bind_group_provider.BindGroupProvider, uniform []byte, workGroups uint32) error

	// Wait blocks until every submitted operation has completed.
	//
	// Returns:
	//   - error: a backend error
	Wait() error

	// Release frees all kernels and backend objects. Buffers created by the device must be
	// released by their owners first.
	Release()
}

var _ Device = &device{}

// NewDevice creates a Device on the requested backend.
//
// Parameters:
//   - backendType: the backend to execute on
//   - options: variadic list of DeviceBuilderOption functions
//
// Returns:
//   - Device: the device
//   - error: an error if the WGPU adapter or device could not be obtained
func NewDevice(backendType BackendType, options ...DeviceBuilderOption) (Device, error) {
	d := &device{
		mu:          &sync.Mutex{},
		kernelCache: make(map[string]kernel.Kernel),
		backendType: backendType,
		workers:     max(runtime.NumCPU()-1, 1),
	}

	// Apply options first so config flags are available before the backend is created.
	for _, opt := range options {
		opt(d)
	}

	switch backendType {
	case BackendTypeCPU:
		d.backend = newCPUDeviceBackend(d.workers)
	case BackendTypeWGPU:
		fallthrough
	default:
		b, err := newWGPUDeviceBackend(d.surfaceDescriptor, d.forceFallbackAdapter)
		if err != nil {
			log.Printf("[Device] failed to create WGPU backend: %v", err)
			return nil, err
		}
		d.backend = b
	}
	log.Printf("[Device] created %s device", d.backendType)
	return d, nil
}

func (d *device) Backend() BackendType {
	return d.backendType
}

func (d *device) LoadKernel(name string, host kernel.HostFunc, opts ...shader.ShaderBuilderOption) (kernel.Kernel, error) {
	fsys, path := d.kernelSource(name)
	if fsys == nil {
		log.Printf("[Device] no program source for kernel %s", name)
		return nil, fmt.Errorf("%w: %s", ErrUnknownKernel, name)
	}
	s, err := shader.NewShaderFromFS(fsys, name, path, opts...)
	if err != nil {
		log.Printf("[Device] failed to build kernel %s: %v", name, err)
		return nil, err
	}
	kopts := []kernel.KernelBuilderOption{kernel.WithShader(s)}
	if host != nil {
		kopts = append(kopts, kernel.WithHostFunc(host))
	}
	return kernel.NewKernel(name, kopts...), nil
}

// kernelSource resolves where the program of a kernel is read from.
func (d *device) kernelSource(name string) (fs.FS, string) {
	file := name + ".wgsl"
	if d.kernelDir != "" {
		if _, err := os.Stat(filepath.Join(d.kernelDir, file)); err == nil {
			return os.DirFS(d.kernelDir), file
		}
	}
	if _, err := fs.Stat(kernels.Sources, file); err == nil {
		return kernels.Sources, file
	}
	return nil, ""
}

func (d *device) RegisterKernels(ks ...kernel.Kernel) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return ErrReleased
	}
	for _, k := range ks {
		if _, exists := d.kernelCache[k.Name()]; exists {
			continue
		}
		if d.backendType == BackendTypeCPU && k.HostFunc() == nil {
			log.Printf("[Device] kernel %s has no host function", k.Name())
			return fmt.Errorf("%w: %s has no host function", ErrUnknownKernel, k.Name())
		}
		if d.backendType == BackendTypeWGPU && k.Shader() == nil {
			log.Printf("[Device] kernel %s has no WGSL program", k.Name())
			return fmt.Errorf("%w: %s has no WGSL program", ErrUnknownKernel, k.Name())
		}
		if err := d.backend.RegisterKernel(k); err != nil {
			log.Printf("[Device] failed to register kernel %s: %v", k.Name(), err)
			return fmt.Errorf("register kernel %s: %w", k.Name(), err)
		}
		d.kernelCache[k.Name()] = k
	}
	return nil
}

func (d *device) Kernel(name string) kernel.Kernel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.kernelCache[name]
}

func (d *device) Kernels() map[string]kernel.Kernel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.kernelCache
}

func (d *device) CreateBuffer(label string, size uint64) (buffer.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return nil, ErrReleased
	}
	if size == 0 {
		return nil, fmt.Errorf("%w: buffer %s has zero size", ErrBufferTooSmall, label)
	}
	buf, err := d.backend.CreateBuffer(label, (size+3)&^3)
	if err != nil {
		log.Printf("[Device] failed to create buffer %s (%d bytes): %v", label, size, err)
		return nil, err
	}
	return buf, nil
}

func (d *device) WriteBuffer(buf buffer.Buffer, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeBuffer(buf, offset, data)
}

func (d *device) WriteBuffers(writes []bind_group_provider.BufferWrite) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, w := range writes {
		buf := w.Provider.Buffer(w.Binding)
		if buf == nil {
			log.Printf("[Device] write to unbound binding %d of %s", w.Binding, w.Provider.Label())
			return fmt.Errorf("%w: binding %d of %s is not bound", ErrInvalidDispatch, w.Binding, w.Provider.Label())
		}
		if err := d.writeBuffer(buf, w.Offset, w.Data); err != nil {
			return err
		}
	}
	return nil
}

func (d *device) writeBuffer(buf buffer.Buffer, offset uint64, data []byte) error {
	if err := d.checkRange(buf, offset, uint64(len(data))); err != nil {
		log.Printf("[Device] write to %s rejected: %v", labelOf(buf), err)
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := d.backend.WriteBuffer(buf, offset, data); err != nil {
		log.Printf("[Device] write to %s failed: %v", buf.Label(), err)
		return err
	}
	return nil
}

func (d *device) ReadBuffer(buf buffer.Buffer, offset, size uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkRange(buf, offset, size); err != nil {
		log.Printf("[Device] read of %s rejected: %v", labelOf(buf), err)
		return nil, err
	}
	if size == 0 {
		return []byte{}, nil
	}
	out, err := d.backend.ReadBuffer(buf, offset, size)
	if err != nil {
		log.Printf("[Device] read of %s failed: %v", buf.Label(), err)
		return nil, err
	}
	return out, nil
}

// checkRange validates a copy range against a buffer.
func (d *device) checkRange(buf buffer.Buffer, offset, size uint64) error {
	if d.released {
		return ErrReleased
	}
	if buf == nil {
		return fmt.Errorf("%w: nil buffer", ErrInvalidDispatch)
	}
	if buf.Released() {
		return fmt.Errorf("%w: buffer %s", ErrReleased, buf.Label())
	}
	if offset%4 != 0 || size%4 != 0 {
		return fmt.Errorf("%w: range [%d, +%d) of %s is not 4-byte aligned", ErrInvalidDispatch, offset, size, buf.Label())
	}
	if offset+size > buf.Size() {
		return fmt.Errorf("%w: range [%d, +%d) exceeds %s (%d bytes)", ErrBufferTooSmall, offset, size, buf.Label(), buf.Size())
	}
	return d.checkOwnership(buf)
}

// checkOwnership rejects buffers created by a different backend.
func (d *device) checkOwnership(buf buffer.Buffer) error {
	switch d.backendType {
	case BackendTypeCPU:
		if _, ok := buf.(buffer.HostBuffer); !ok {
			return fmt.Errorf("%w: %s is not a host buffer", ErrInvalidDispatch, buf.Label())
		}
	default:
		if _, ok := buf.(buffer.GPUBuffer); !ok {
			return fmt.Errorf("%w: %s is not a GPU buffer", ErrInvalidDispatch, buf.Label())
		}
	}
	return nil
}

func (d *device) Dispatch(name string, bindings bind_group_provider.BindGroupProvider, uniform []byte, workGroups uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return ErrReleased
	}
	k, exists := d.kernelCache[name]
	if !exists {
		log.Printf("[Device] dispatch of unknown kernel %s", name)
		return fmt.Errorf("%w: %s", ErrUnknownKernel, name)
	}
	if err := d.validateDispatch(k, bindings, uniform, workGroups); err != nil {
		log.Printf("[Device] dispatch of %s rejected: %v", name, err)
		return err
	}
	if err := d.backend.Dispatch(k, bindings, uniform, workGroups); err != nil {
		log.Printf("[Device] dispatch of %s failed: %v", name, err)
		return fmt.Errorf("dispatch %s: %w", name, err)
	}
	return nil
}

// validateDispatch checks a dispatch against the bindings the kernel declares.
func (d *device) validateDispatch(k kernel.Kernel, bindings bind_group_provider.BindGroupProvider, uniform []byte, workGroups uint32) error {
	if workGroups == 0 || workGroups > MaxWorkGroups {
		return fmt.Errorf("%w: %d work-groups (allowed 1..%d)", ErrInvalidDispatch, workGroups, MaxWorkGroups)
	}
	for _, b := range k.Bindings() {
		if b.Group != 0 {
			return fmt.Errorf("%w: binding %s is in group %d, only group 0 is supported", ErrInvalidDispatch, b.Name, b.Group)
		}
		if b.Space == shader.AddressSpaceUniform {
			if uint64(len(uniform)) < b.MinSize {
				return fmt.Errorf("%w: uniform %s needs %d bytes, got %d", ErrInvalidDispatch, b.Name, b.MinSize, len(uniform))
			}
			continue
		}
		if bindings == nil {
			return fmt.Errorf("%w: binding %d (%s) is not bound", ErrInvalidDispatch, b.Binding, b.Name)
		}
		buf := bindings.Buffer(b.Binding)
		if buf == nil {
			return fmt.Errorf("%w: binding %d (%s) is not bound in %s", ErrInvalidDispatch, b.Binding, b.Name, bindings.Label())
		}
		if buf.Released() {
			return fmt.Errorf("%w: binding %d (%s) buffer %s", ErrReleased, b.Binding, b.Name, buf.Label())
		}
		if buf.Size() < b.MinSize {
			return fmt.Errorf("%w: binding %d (%s) needs %d bytes, %s has %d", ErrBufferTooSmall, b.Binding, b.Name, b.MinSize, buf.Label(), buf.Size())
		}
		if err := d.checkOwnership(buf); err != nil {
			return err
		}
	}
	return nil
}

func (d *device) Wait() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return ErrReleased
	}
	return d.backend.Wait()
}

func (d *device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return
	}
	for name, k := range d.kernelCache {
		k.Release()
		delete(d.kernelCache, name)
	}
	d.backend.Release()
	d.released = true
}

func labelOf(buf buffer.Buffer) string {
	if buf == nil {
		return "<nil>"
	}
	return buf.Label()
}
