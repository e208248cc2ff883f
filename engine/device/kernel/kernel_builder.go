package kernel

import "github.com/Carmen-Shannon/oxy-flock/engine/device/shader"

// KernelBuilderOption is a functional option used to configure a Kernel during construction.
type KernelBuilderOption func(*kernel)

// WithShader sets the WGSL program of this kernel.
//
// Parameters:
//   - s: the parsed compute shader
//
// Returns:
//   - KernelBuilderOption: a function that sets the shader
func WithShader(s shader.Shader) KernelBuilderOption {
	return func(k *kernel) {
		k.shader = s
	}
}

// WithHostFunc sets the host implementation run by the CPU device.
//
// Parameters:
//   - fn: the host function, called once per work-group
//
// Returns:
//   - KernelBuilderOption: a function that sets the host function
func WithHostFunc(fn HostFunc) KernelBuilderOption {
	return func(k *kernel) {
		k.hostFunc = fn
	}
}

// WithLocalSize sets the work-group size of a host-only kernel. Ignored when a shader is set.
//
// Parameters:
//   - n: invocations per work-group
//
// Returns:
//   - KernelBuilderOption: a function that sets the local size
func WithLocalSize(n uint32) KernelBuilderOption {
	return func(k *kernel) {
		k.localSize = n
	}
}
