package shader

import (
	"errors"
	"strings"
	"testing"

	"github.com/Carmen-Shannon/oxy-flock/engine/device/kernels"
)

const annotatedSource = `//@oxy:include sort_params
//@oxy:const LOCAL_SIZE_LIMIT
//@oxy:group 0 0 storage_uniform params sort_params
//@oxy:group 0 1 storage_read_write keys array<u32>
//@oxy:group 0 2 storage_read pos array<vec4<f32>>

var<workgroup> scratch: array<u32, LOCAL_SIZE_LIMIT>;

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    keys[gid.x] = params.count;
}
`

func TestPreProcessorExpandsAnnotations(t *testing.T) {
	pp := NewPreProcessor(map[string]uint32{"LOCAL_SIZE_LIMIT": 512})
	out, err := pp.Process(annotatedSource)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	for _, want := range []string{
		"struct SortParams",
		"const LOCAL_SIZE_LIMIT: u32 = 512u;",
		"@group(0) @binding(0) var<uniform> params: SortParams;",
		"@group(0) @binding(1) var<storage, read_write> keys: array<u32>;",
		"@group(0) @binding(2) var<storage, read> pos: array<vec4<f32>>;",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("processed source is missing %q", want)
		}
	}
	if strings.Contains(out, "@oxy:") {
		t.Errorf("processed source still contains annotations")
	}
	if got := len(pp.Declarations()); got != 3 {
		t.Errorf("got %d declarations, want 3", got)
	}
}

func TestPreProcessorErrors(t *testing.T) {
	cases := map[string]string{
		"missing const":      "//@oxy:const LOCAL_SIZE_LIMIT\n",
		"unknown include":    "//@oxy:include nope\n",
		"unknown space":      "//@oxy:group 0 1 storage_private keys array<u32>\n",
		"snippet as a type":  "//@oxy:group 0 1 storage_read keys flock_rules\n",
		"short group":        "//@oxy:group 0 1 storage_read keys\n",
		"bad binding number": "//@oxy:group 0 x storage_read keys array<u32>\n",
		"unknown annotation": "//@oxy:provider camera\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewPreProcessor(nil).Process(src); err == nil {
				t.Fatalf("expected an error for %q", src)
			}
		})
	}
}

func TestAnnotationInCodeIsIgnored(t *testing.T) {
	src := "let s = \"@oxy:include sim_params\";\n"
	out, err := NewPreProcessor(nil).Process(src)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out != src {
		t.Fatalf("non-comment line was rewritten: %q", out)
	}
}

func TestNewShaderParsesBindings(t *testing.T) {
	s, err := NewShader("test", annotatedSource, WithConst("LOCAL_SIZE_LIMIT", 256))
	if err != nil {
		t.Fatalf("NewShader: %v", err)
	}
	if s.EntryPoint() != "main" {
		t.Errorf("entry point %q", s.EntryPoint())
	}
	if s.WorkgroupSize() != [3]uint32{64, 1, 1} {
		t.Errorf("workgroup size %v", s.WorkgroupSize())
	}
	if got := len(s.Bindings()); got != 3 {
		t.Fatalf("got %d bindings, want 3", got)
	}

	u, ok := s.UniformBinding()
	if !ok || u.Binding != 0 || u.MinSize != 32 {
		t.Errorf("uniform binding %+v", u)
	}
	keys, ok := s.BindingByName("keys")
	if !ok || keys.Space != AddressSpaceStorageReadWrite || keys.MinSize != 4 {
		t.Errorf("keys binding %+v", keys)
	}
	pos, ok := s.Binding(0, 2)
	if !ok || pos.Space != AddressSpaceStorageRead || pos.MinSize != 16 {
		t.Errorf("pos binding %+v", pos)
	}

	desc := s.BindGroupLayoutDescriptor(0)
	if len(desc.Entries) != 3 {
		t.Errorf("layout has %d entries", len(desc.Entries))
	}
}

func TestNewShaderWithoutEntryPoint(t *testing.T) {
	_, err := NewShader("none", "fn helper() -> u32 { return 1u; }\n")
	if !errors.Is(err, ErrNoEntryPoint) {
		t.Fatalf("got %v, want ErrNoEntryPoint", err)
	}
}

func TestBuiltInKernelsParse(t *testing.T) {
	for _, name := range kernels.Names {
		t.Run(name, func(t *testing.T) {
			s, err := NewShaderFromFS(kernels.Sources, name, name+".wgsl", WithConst("LOCAL_SIZE_LIMIT", 2048))
			if err != nil {
				t.Fatalf("NewShaderFromFS: %v", err)
			}
			if s.EntryPoint() != name {
				t.Errorf("entry point %q, want %q", s.EntryPoint(), name)
			}
			if s.WorkgroupSize()[0] != 256 {
				t.Errorf("workgroup size %v", s.WorkgroupSize())
			}
			u, ok := s.UniformBinding()
			if !ok || u.Binding != 0 {
				t.Errorf("uniform binding %+v", u)
			}
			for _, b := range s.Bindings() {
				if b.Group != 0 {
					t.Errorf("binding %s is in group %d", b.Name, b.Group)
				}
				if b.MinSize == 0 {
					t.Errorf("binding %s has no resolved size", b.Name)
				}
			}
		})
	}
}

func TestSimParamsUniformSize(t *testing.T) {
	s, err := NewShaderFromFS(kernels.Sources, kernels.FindGridEdgeAndReorder, kernels.FindGridEdgeAndReorder+".wgsl")
	if err != nil {
		t.Fatalf("NewShaderFromFS: %v", err)
	}
	u, _ := s.UniformBinding()
	if u.MinSize != 96 {
		t.Errorf("SimParams resolved to %d bytes, want 96", u.MinSize)
	}
	if got := len(s.Bindings()); got != 9 {
		t.Errorf("got %d bindings, want 9", got)
	}
}
