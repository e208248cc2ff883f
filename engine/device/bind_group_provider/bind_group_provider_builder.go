package bind_group_provider

import "github.com/Carmen-Shannon/oxy-flock/engine/device/buffer"

// BindGroupProviderOption is a functional option used to configure a BindGroupProvider during construction.
type BindGroupProviderOption func(*bindGroupProvider)

// WithBuffer sets a buffer for a specific binding index.
//
// Parameters:
//   - binding: the binding index
//   - buf: the buffer to bind
//
// Returns:
//   - BindGroupProviderOption: a function that sets the buffer for the binding
func WithBuffer(binding int, buf buffer.Buffer) BindGroupProviderOption {
	return func(p *bindGroupProvider) {
		p.buffers[binding] = buf
	}
}

// WithBuffers sets several bindings at once.
//
// Parameters:
//   - buffers: buffers keyed by binding index
//
// Returns:
//   - BindGroupProviderOption: a function that sets the buffers
func WithBuffers(buffers map[int]buffer.Buffer) BindGroupProviderOption {
	return func(p *bindGroupProvider) {
		for binding, buf := range buffers {
			p.buffers[binding] = buf
		}
	}
}
