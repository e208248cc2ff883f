package shader

import "maps"

// ShaderBuilderOption is a functional option used to configure a Shader during construction.
type ShaderBuilderOption func(*shader)

// WithConst supplies the value emitted for an @oxy:const annotation.
//
// Parameters:
//   - name: the constant name as written in the annotation
//   - value: the value baked into the kernel
//
// Returns:
//   - ShaderBuilderOption: a function that records the constant
func WithConst(name string, value uint32) ShaderBuilderOption {
	return func(s *shader) {
		s.consts[name] = value
	}
}

// WithConsts supplies several @oxy:const values at once.
//
// Parameters:
//   - consts: constant values keyed by name
//
// Returns:
//   - ShaderBuilderOption: a function that records the constants
func WithConsts(consts map[string]uint32) ShaderBuilderOption {
	return func(s *shader) {
		maps.Copy(s.consts, consts)
	}
}
