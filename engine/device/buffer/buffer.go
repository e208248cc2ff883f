// Package buffer defines the device buffer handle shared by every backend. A Buffer is
// opaque outside its Device: the GPU backend hands out buffers wrapping a *wgpu.Buffer and the
// CPU backend hands out buffers backed by a host word slice.
package buffer

import (
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
)

// Buffer is a fixed-size region of device memory.
type Buffer interface {
	// Label returns the debug label given at creation.
	//
	// Returns:
	//   - string: the label
	Label() string

	// Size returns the size of the buffer in bytes.
	//
	// Returns:
	//   - uint64: the size in bytes, always a multiple of 4
	Size() uint64

	// Released reports whether Release has been called.
	//
	// Returns:
	//   - bool: true once the buffer has been released
	Released() bool

	// Release frees the underlying memory. Further use through a Device fails.
	Release()
}

// HostBuffer is a Buffer whose contents live in host memory as little-endian 32-bit words.
type HostBuffer interface {
	Buffer

	// Words returns the backing word slice. Kernels read and write it in place.
	//
	// Returns:
	//   - []uint32: Size()/4 words
	Words() []uint32
}

// GPUBuffer is a Buffer backed by a WebGPU buffer.
type GPUBuffer interface {
	Buffer

	// Handle returns the WebGPU buffer, nil after Release.
	//
	// Returns:
	//   - *wgpu.Buffer: the buffer handle
	Handle() *wgpu.Buffer
}

type hostBuffer struct {
	mu       sync.Mutex
	label    string
	words    []uint32
	released bool
}

var _ HostBuffer = &hostBuffer{}

// NewHostBuffer allocates a zeroed host buffer. size is rounded up to a multiple of 4.
//
// Parameters:
//   - label: a debug label
//   - size: requested size in bytes
//
// Returns:
//   - HostBuffer: the new buffer
func NewHostBuffer(label string, size uint64) HostBuffer {
	return &hostBuffer{
		label: label,
		words: make([]uint32, (size+3)/4),
	}
}

func (b *hostBuffer) Label() string {
	return b.label
}

func (b *hostBuffer) Size() uint64 {
	return uint64(len(b.words)) * 4
}

func (b *hostBuffer) Words() []uint32 {
	return b.words
}

func (b *hostBuffer) Released() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.released
}

func (b *hostBuffer) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released = true
}

type gpuBuffer struct {
	mu     sync.Mutex
	label  string
	size   uint64
	handle *wgpu.Buffer
}

var _ GPUBuffer = &gpuBuffer{}

// NewGPUBuffer wraps a WebGPU buffer created by a Device.
//
// Parameters:
//   - label: the debug label used at creation
//   - size: the size the buffer was created with
//   - handle: the WebGPU buffer
//
// Returns:
//   - GPUBuffer: the wrapped buffer
func NewGPUBuffer(label string, size uint64, handle *wgpu.Buffer) GPUBuffer {
	return &gpuBuffer{label: label, size: size, handle: handle}
}

func (b *gpuBuffer) Label() string {
	return b.label
}

func (b *gpuBuffer) Size() uint64 {
	return b.size
}

func (b *gpuBuffer) Handle() *wgpu.Buffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handle
}

func (b *gpuBuffer) Released() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handle == nil
}

func (b *gpuBuffer) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handle != nil {
		b.handle.Release()
		b.handle = nil
	}
}
