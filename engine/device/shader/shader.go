package shader

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/cogentcore/webgpu/wgpu"
)

// ErrNoEntryPoint is returned when a kernel source declares no @compute function.
var ErrNoEntryPoint = errors.New("shader: no @compute entry point")

// AddressSpace identifies how a binding is declared in WGSL.
type AddressSpace int

const (
	// AddressSpaceNone is a handle binding (sampler, texture); compute kernels here never use one.
	AddressSpaceNone AddressSpace = iota

	// AddressSpaceUniform is a var<uniform> binding. The device owns the buffer behind it.
	AddressSpaceUniform

	// AddressSpaceStorageRead is a var<storage, read> binding.
	AddressSpaceStorageRead

	// AddressSpaceStorageReadWrite is a var<storage, read_write> binding.
	AddressSpaceStorageReadWrite
)

// Binding describes one buffer binding declared by a kernel.
type Binding struct {
	Group   int
	Binding int
	Name    string
	Type    string
	Space   AddressSpace

	// MinSize is the smallest buffer that satisfies the binding: the struct size for a
	// struct, one element stride for a runtime-sized array.
	MinSize uint64
}

// shader is the implementation of the Shader interface.
type shader struct {
	key           string
	source        string
	entryPoint    string
	workGroupSize [3]uint32
	bindings      []Binding
	module        *wgpu.ShaderModuleDescriptor

	consts map[string]uint32
	pp     PreProcessor
}

// Shader is a loaded, pre-processed and parsed WGSL compute kernel. It exposes what a
// Device needs to build a pipeline and what a host backend needs to validate bindings.
type Shader interface {
	// Key retrieves the unique identifier for this shader.
	//
	// Returns:
	//   - string: the shader's unique key
	Key() string

	// Source retrieves the processed WGSL source code.
	//
	// Returns:
	//   - string: the WGSL source with every @oxy: annotation expanded
	Source() string

	// EntryPoint returns the name of the @compute function.
	//
	// Returns:
	//   - string: the entry point name
	EntryPoint() string

	// WorkgroupSize returns the @workgroup_size dimensions, [1, 1, 1] when not specified.
	//
	// Returns:
	//   - [3]uint32: the workgroup size as [x, y, z]
	WorkgroupSize() [3]uint32

	// Bindings returns every buffer binding, sorted by group then binding index.
	//
	// Returns:
	//   - []Binding: the declared bindings
	Bindings() []Binding

	// Binding looks up a binding by group and index.
	//
	// Parameters:
	//   - group: the bind group index
	//   - binding: the binding index within the group
	//
	// Returns:
	//   - Binding: the binding, zero if absent
	//   - bool: true if the binding is declared
	Binding(group, binding int) (Binding, bool)

	// BindingByName looks up a binding by its WGSL variable name.
	//
	// Parameters:
	//   - name: the variable name
	//
	// Returns:
	//   - Binding: the binding, zero if absent
	//   - bool: true if the name is declared
	BindingByName(name string) (Binding, bool)

	// UniformBinding returns the single var<uniform> binding, if the kernel declares one.
	//
	// Returns:
	//   - Binding: the uniform binding
	//   - bool: true if the kernel has a uniform
	UniformBinding() (Binding, bool)

	// BindGroupLayoutDescriptor builds the layout descriptor of one bind group.
	//
	// Parameters:
	//   - group: the bind group index
	//
	// Returns:
	//   - wgpu.BindGroupLayoutDescriptor: entries sorted by binding index, compute visibility
	BindGroupLayoutDescriptor(group int) wgpu.BindGroupLayoutDescriptor

	// Module returns the wgpu.ShaderModuleDescriptor for this shader.
	//
	// Returns:
	//   - *wgpu.ShaderModuleDescriptor: the descriptor containing the processed WGSL and label
	Module() *wgpu.ShaderModuleDescriptor

	// Declarations returns the @oxy:group annotations parsed from the source.
	//
	// Returns:
	//   - []Annotation: the group annotations in source order
	Declarations() []Annotation
}

var _ Shader = &shader{}

// NewShader pre-processes and parses a WGSL compute kernel.
//
// Parameters:
//   - key: a unique identifier for the shader
//   - source: the raw WGSL source, possibly containing @oxy: annotations
//   - opts: builder options, e.g. WithConst
//
// Returns:
//   - Shader: the parsed shader
//   - error: a pre-processor error or ErrNoEntryPoint
func NewShader(key, source string, opts ...ShaderBuilderOption) (Shader, error) {
	s := &shader{
		key:    key,
		consts: make(map[string]uint32),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pp = NewPreProcessor(s.consts)
	if err := s.parseSource(source); err != nil {
		return nil, fmt.Errorf("shader %s: %w", key, err)
	}
	return s, nil
}

// NewShaderFromFS reads a kernel from fsys and builds it with NewShader.
//
// Parameters:
//   - fsys: the file system holding the source, e.g. an embed.FS or os.DirFS
//   - key: a unique identifier for the shader
//   - path: the path of the .wgsl file within fsys
//   - opts: builder options
//
// Returns:
//   - Shader: the parsed shader
//   - error: a read error, a pre-processor error or ErrNoEntryPoint
func NewShaderFromFS(fsys fs.FS, key, path string, opts ...ShaderBuilderOption) (Shader, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("shader %s: failed to read source file %q: %w", key, path, err)
	}
	return NewShader(key, string(data), opts...)
}

func (s *shader) Key() string {
	return s.key
}

func (s *shader) Source() string {
	return s.source
}

func (s *shader) EntryPoint() string {
	return s.entryPoint
}

func (s *shader) WorkgroupSize() [3]uint32 {
	return s.workGroupSize
}

func (s *shader) Bindings() []Binding {
	return s.bindings
}

func (s *shader) Binding(group, binding int) (Binding, bool) {
	for _, b := range s.bindings {
		if b.Group == group && b.Binding == binding {
			return b, true
		}
	}
	return Binding{}, false
}

func (s *shader) BindingByName(name string) (Binding, bool) {
	for _, b := range s.bindings {
		if b.Name == name {
			return b, true
		}
	}
	return Binding{}, false
}

func (s *shader) UniformBinding() (Binding, bool) {
	for _, b := range s.bindings {
		if b.Space == AddressSpaceUniform {
			return b, true
		}
	}
	return Binding{}, false
}

func (s *shader) BindGroupLayoutDescriptor(group int) wgpu.BindGroupLayoutDescriptor {
	var entries []wgpu.BindGroupLayoutEntry
	for _, b := range s.bindings {
		if b.Group != group {
			continue
		}
		entry := wgpu.BindGroupLayoutEntry{
			Binding:    uint32(b.Binding),
			Visibility: wgpu.ShaderStageCompute,
		}
		switch b.Space {
		case AddressSpaceUniform:
			entry.Buffer.Type = wgpu.BufferBindingTypeUniform
		case AddressSpaceStorageRead:
			entry.Buffer.Type = wgpu.BufferBindingTypeReadOnlyStorage
		case AddressSpaceStorageReadWrite:
			entry.Buffer.Type = wgpu.BufferBindingTypeStorage
		}
		entry.Buffer.MinBindingSize = b.MinSize
		entries = append(entries, entry)
	}
	return wgpu.BindGroupLayoutDescriptor{
		Label:   fmt.Sprintf("%s_group%d", s.key, group),
		Entries: entries,
	}
}

func (s *shader) Module() *wgpu.ShaderModuleDescriptor {
	return s.module
}

func (s *shader) Declarations() []Annotation {
	return s.pp.Declarations()
}

// parseSource runs the pre-processor, builds the module descriptor and extracts the entry
// point, workgroup size and bindings.
func (s *shader) parseSource(raw string) error {
	source, err := s.pp.Process(raw)
	if err != nil {
		return err
	}
	s.source = source
	s.entryPoint = parseEntryPoint(source)
	if s.entryPoint == "" {
		return ErrNoEntryPoint
	}
	s.workGroupSize = parseWorkgroupSize(source)
	s.bindings = parseBindings(source)
	s.module = &wgpu.ShaderModuleDescriptor{
		Label: s.key,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: s.source,
		},
	}
	return nil
}
