package device

import "github.com/cogentcore/webgpu/wgpu"

// DeviceBuilderOption is a functional option applied to a device during construction via NewDevice.
type DeviceBuilderOption func(*device)

// WithForceFallbackAdapter forces WGPU to use a CPU/software fallback adapter. This requires a
// software Vulkan ICD to be installed (e.g. SwiftShader or lavapipe).
//
// Parameters:
//   - force: true to force the fallback adapter
//
// Returns:
//   - DeviceBuilderOption: a function that applies the option to a device
func WithForceFallbackAdapter(force bool) DeviceBuilderOption {
	return func(d *device) {
		d.forceFallbackAdapter = force
	}
}

// WithSurfaceDescriptor makes the WGPU backend request an adapter compatible with a window
// surface. Without it the adapter is requested headless.
//
// Parameters:
//   - desc: the platform surface descriptor, usually from window.SurfaceDescriptor
//
// Returns:
//   - DeviceBuilderOption: a function that applies the option to a device
func WithSurfaceDescriptor(desc *wgpu.SurfaceDescriptor) DeviceBuilderOption {
	return func(d *device) {
		d.surfaceDescriptor = desc
	}
}

// WithWorkers sets the number of workers of the CPU backend's pool.
//
// Parameters:
//   - n: the worker count; values below 1 keep the default of NumCPU-1
//
// Returns:
//   - DeviceBuilderOption: a function that applies the option to a device
func WithWorkers(n int) DeviceBuilderOption {
	return func(d *device) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithKernelDir loads kernel programs from a directory before falling back to the built-in
// programs. A file named <kernel>.wgsl in dir replaces the built-in program of that name.
//
// Parameters:
//   - dir: the directory holding .wgsl files
//
// Returns:
//   - DeviceBuilderOption: a function that applies the option to a device
func WithKernelDir(dir string) DeviceBuilderOption {
	return func(d *device) {
		d.kernelDir = dir
	}
}
