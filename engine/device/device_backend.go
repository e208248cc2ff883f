package device

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-flock/engine/device/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/buffer"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/kernel"
)

// BackendType identifies the implementation executing kernels for a Device.
type BackendType int

const (
	// BackendTypeWGPU runs the WGSL programs on a WebGPU adapter.
	BackendTypeWGPU BackendType = iota

	// BackendTypeCPU runs the host functions of the kernels on a worker pool.
	BackendTypeCPU
)

// String returns the lower-case backend name used in configuration files.
func (b BackendType) String() string {
	switch b {
	case BackendTypeCPU:
		return "cpu"
	default:
		return "wgpu"
	}
}

// ParseBackendType maps a configuration name ("wgpu" or "cpu") to a BackendType.
func ParseBackendType(name string) (BackendType, error) {
	switch name {
	case "cpu":
		return BackendTypeCPU, nil
	case "wgpu":
		return BackendTypeWGPU, nil
	default:
		return BackendTypeWGPU, fmt.Errorf("device: unknown backend %q", name)
	}
}

// DeviceBackend is the low-level interface every backend implements. The Device facade
// validates arguments before calling into it, so backends may assume well-formed input.
type DeviceBackend interface {
	// RegisterKernel builds the backend program objects of a kernel.
	//
	// Parameters:
	//   - k: the kernel to build
	//
	// Returns:
	//   - error: an error if the program could not be built
	RegisterKernel(k kernel.Kernel) error

	// CreateBuffer allocates a zeroed storage buffer.
	//
	// Parameters:
	//   - label: a debug label
	//   - size: size in bytes, a multiple of 4
	//
	// Returns:
	//   - buffer.Buffer: the buffer
	//   - error: an error if the allocation failed
	CreateBuffer(label string, size uint64) (buffer.Buffer, error)

	// WriteBuffer enqueues a host-to-device copy, ordered with dispatches.
	//
	// Parameters:
	//   - buf: the destination buffer
	//   - offset: destination byte offset
	//   - data: bytes to copy
	//
	// Returns:
	//   - error: an error if the copy could not be enqueued
	WriteBuffer(buf buffer.Buffer, offset uint64, data []byte) error

	// ReadBuffer waits for all submitted work and copies a range of a buffer to the host.
	//
	// Parameters:
	//   - buf: the source buffer
	//   - offset: source byte offset
	//   - size: number of bytes
	//
	// Returns:
	//   - []byte: the copied bytes
	//   - error: an error if the readback failed
	ReadBuffer(buf buffer.Buffer, offset, size uint64) ([]byte, error)

	// Dispatch enqueues one kernel execution of workGroups work-groups.
	//
	// Parameters:
	//   - k: the registered kernel
	//   - bindings: the storage buffers to bind
	//   - uniform: the bytes of the kernel's uniform for this dispatch
	//   - workGroups: the number of work-groups
	//
	// Returns:
	//   - error: an error if the dispatch could not be enqueued or, for synchronous backends, failed
	Dispatch(k kernel.Kernel, bindings bind_group_provider.BindGroupProvider, uniform []byte, workGroups uint32) error

	// Wait blocks until every submitted operation has completed.
	//
	// Returns:
	//   - error: an error if waiting failed
	Wait() error

	// Release frees backend objects.
	Release()
}
