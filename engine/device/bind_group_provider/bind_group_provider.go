package bind_group_provider

import (
	"maps"
	"sync"

	"github.com/Carmen-Shannon/oxy-flock/engine/device/buffer"
	"github.com/cogentcore/webgpu/wgpu"
)

// bindGroupProvider is the unexported implementation of BindGroupProvider.
type bindGroupProvider struct {
	mu sync.Mutex

	// label is a debug label added for convenience.
	label string

	// buffers holds the storage buffers of this binding set, keyed by binding index.
	// The provider does not own them and never releases them.
	buffers map[int]buffer.Buffer

	// bindGroups caches one GPU bind group per kernel name. Populated by the GPU device on
	// first dispatch and dropped whenever a buffer is replaced.
	bindGroups map[string]*wgpu.BindGroup
}

// BindGroupProvider is the set of storage buffers a kernel dispatch binds, keyed by binding
// index in group 0. The uniform binding of a kernel is owned by the device and never appears
// here.
//
// Usage pattern:
//  1. Caller creates a provider with the buffers one dispatch (or a family of dispatches) reads and writes
//  2. Caller passes it to Device.Dispatch; the device binds only the bindings the kernel declares
//  3. The GPU device caches the bind group it built on the provider, keyed by kernel name
//  4. Caller releases the provider when its buffers are released
type BindGroupProvider interface {
	// Label returns the debug label for this provider.
	//
	// Returns:
	//   - string: the debug label
	Label() string

	// Buffer returns the buffer bound at a binding index.
	//
	// Parameters:
	//   - binding: the binding index
	//
	// Returns:
	//   - buffer.Buffer: the buffer, or nil if the binding is not set
	Buffer(binding int) buffer.Buffer

	// Buffers returns a copy of all bindings of this provider.
	//
	// Returns:
	//   - map[int]buffer.Buffer: buffers keyed by binding index
	Buffers() map[int]buffer.Buffer

	// SetBuffer replaces the buffer at a binding index and drops every cached bind group.
	//
	// Parameters:
	//   - binding: the binding index
	//   - buf: the buffer to bind
	SetBuffer(binding int, buf buffer.Buffer)

	// BindGroup returns the cached GPU bind group built for a kernel, or nil.
	//
	// Parameters:
	//   - kernel: the kernel name
	//
	// Returns:
	//   - *wgpu.BindGroup: the cached bind group or nil
	BindGroup(kernel string) *wgpu.BindGroup

	// SetBindGroup caches a GPU bind group for a kernel. Called by the GPU device.
	//
	// Parameters:
	//   - kernel: the kernel name
	//   - bg: the created bind group
	SetBindGroup(kernel string, bg *wgpu.BindGroup)

	// Release releases the cached bind groups. Bound buffers are left alone.
	Release()
}

// Compile-time check that bindGroupProvider implements BindGroupProvider
var _ BindGroupProvider = &bindGroupProvider{}

// NewBindGroupProvider creates a new BindGroupProvider with the provided options.
//
// Parameters:
//   - label: a debug label
//   - options: a variadic list of options to configure the provider
//
// Returns:
//   - BindGroupProvider: a new instance configured with the provided options
func NewBindGroupProvider(label string, options ...BindGroupProviderOption) BindGroupProvider {
	p := &bindGroupProvider{
		label:      label,
		buffers:    make(map[int]buffer.Buffer),
		bindGroups: make(map[string]*wgpu.BindGroup),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

func (p *bindGroupProvider) Label() string {
	return p.label
}

func (p *bindGroupProvider) Buffer(binding int) buffer.Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffers[binding]
}

func (p *bindGroupProvider) Buffers() map[int]buffer.Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return maps.Clone(p.buffers)
}

func (p *bindGroupProvider) SetBuffer(binding int, buf buffer.Buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buffers[binding] = buf
	p.dropBindGroups()
}

func (p *bindGroupProvider) BindGroup(kernel string) *wgpu.BindGroup {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bindGroups[kernel]
}

func (p *bindGroupProvider) SetBindGroup(kernel string, bg *wgpu.BindGroup) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if old := p.bindGroups[kernel]; old != nil && old != bg {
		old.Release()
	}
	p.bindGroups[kernel] = bg
}

func (p *bindGroupProvider) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropBindGroups()
}

func (p *bindGroupProvider) dropBindGroups() {
	for k, bg := range p.bindGroups {
		if bg != nil {
			bg.Release()
		}
		delete(p.bindGroups, k)
	}
}
