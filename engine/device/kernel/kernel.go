package kernel

import (
	"sync"

	"github.com/Carmen-Shannon/oxy-flock/engine/device/buffer"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

// kernel is the implementation of the Kernel interface.
// It holds the program definition and the device objects created for it at registration.
type kernel struct {
	mu sync.Mutex

	// name is the unique key the kernel is dispatched by
	name string

	// program definition; at least one of shader and hostFunc is set
	shader    shader.Shader
	hostFunc  HostFunc
	localSize uint32

	// the following are device objects populated by the GPU device during registration

	computePipeline *wgpu.ComputePipeline
	bindGroupLayout *wgpu.BindGroupLayout
	uniformBuffer   buffer.Buffer
}

// Kernel is a compute program that a Device can dispatch by name. A kernel carries a WGSL
// shader for the GPU backend, a host function for the CPU backend, or both. The WGSL shader
// is also the source of truth for the kernel's bindings and work-group size on either backend.
type Kernel interface {
	// Name returns the unique key of this kernel.
	//
	// Returns:
	//   - string: the kernel name
	Name() string

	// Shader returns the WGSL program, or nil for host-only kernels.
	//
	// Returns:
	//   - shader.Shader: the parsed program or nil
	Shader() shader.Shader

	// HostFunc returns the host implementation, or nil for GPU-only kernels.
	//
	// Returns:
	//   - HostFunc: the host implementation or nil
	HostFunc() HostFunc

	// LocalSize returns the number of invocations per work-group: the x dimension of the
	// shader's @workgroup_size, or the value given with WithLocalSize for host-only kernels.
	//
	// Returns:
	//   - uint32: invocations per work-group, at least 1
	LocalSize() uint32

	// Bindings returns the buffer bindings declared by the shader, nil for host-only kernels.
	//
	// Returns:
	//   - []shader.Binding: the declared bindings
	Bindings() []shader.Binding

	// ComputePipeline returns the pipeline built by the GPU device, or nil.
	//
	// Returns:
	//   - *wgpu.ComputePipeline: the pipeline or nil
	ComputePipeline() *wgpu.ComputePipeline

	// SetComputePipeline stores the pipeline built by the GPU device.
	//
	// Parameters:
	//   - p: the WebGPU compute pipeline
	SetComputePipeline(p *wgpu.ComputePipeline)

	// BindGroupLayout returns the group 0 layout built by the GPU device, or nil.
	//
	// Returns:
	//   - *wgpu.BindGroupLayout: the layout or nil
	BindGroupLayout() *wgpu.BindGroupLayout

	// SetBindGroupLayout stores the group 0 layout built by the GPU device.
	//
	// Parameters:
	//   - l: the layout
	SetBindGroupLayout(l *wgpu.BindGroupLayout)

	// UniformBuffer returns the buffer the device writes the per-dispatch uniform into, or nil.
	//
	// Returns:
	//   - buffer.Buffer: the uniform buffer or nil
	UniformBuffer() buffer.Buffer

	// SetUniformBuffer stores the uniform buffer created by the device.
	//
	// Parameters:
	//   - b: the uniform buffer
	SetUniformBuffer(b buffer.Buffer)

	// Release frees the device objects held by this kernel.
	Release()
}

var _ Kernel = &kernel{}

// NewKernel creates a new Kernel with all specified options applied.
//
// Parameters:
//   - name: the unique key of the kernel
//   - opts: a variadic list of KernelBuilderOption functions
//
// Returns:
//   - Kernel: the configured kernel
func NewKernel(name string, opts ...KernelBuilderOption) Kernel {
	k := &kernel{name: name}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

func (k *kernel) Name() string {
	return k.name
}

func (k *kernel) Shader() shader.Shader {
	return k.shader
}

func (k *kernel) HostFunc() HostFunc {
	return k.hostFunc
}

func (k *kernel) LocalSize() uint32 {
	if k.shader != nil {
		return max(k.shader.WorkgroupSize()[0], 1)
	}
	return max(k.localSize, 1)
}

func (k *kernel) Bindings() []shader.Binding {
	if k.shader == nil {
		return nil
	}
	return k.shader.Bindings()
}

func (k *kernel) ComputePipeline() *wgpu.ComputePipeline {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.computePipeline
}

func (k *kernel) SetComputePipeline(p *wgpu.ComputePipeline) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.computePipeline = p
}

func (k *kernel) BindGroupLayout() *wgpu.BindGroupLayout {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.bindGroupLayout
}

func (k *kernel) SetBindGroupLayout(l *wgpu.BindGroupLayout) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.bindGroupLayout = l
}

func (k *kernel) UniformBuffer() buffer.Buffer {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.uniformBuffer
}

func (k *kernel) SetUniformBuffer(b buffer.Buffer) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.uniformBuffer = b
}

func (k *kernel) Release() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.uniformBuffer != nil {
		k.uniformBuffer.Release()
		k.uniformBuffer = nil
	}
	if k.bindGroupLayout != nil {
		k.bindGroupLayout.Release()
		k.bindGroupLayout = nil
	}
	if k.computePipeline != nil {
		k.computePipeline.Release()
		k.computePipeline = nil
	}
}
