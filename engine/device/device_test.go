package device

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Carmen-Shannon/oxy-flock/common"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/kernel"
	"github.com/Carmen-Shannon/oxy-flock/engine/device/kernels"
	"github.com/Carmen-Shannon/oxy-flock/engine/params"
)

func newCPUDevice(t *testing.T) Device {
	t.Helper()
	d, err := NewDevice(BackendTypeCPU, WithWorkers(4))
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	t.Cleanup(d.Release)
	return d
}

func fillHost(ctx *kernel.HostContext) error {
	p := params.UnmarshalFillParams(ctx.Uniform)
	dst := ctx.Words(1)
	lo, hi := ctx.Invocations(p.Count)
	for i := lo; i < hi; i++ {
		dst[i] = p.Value
	}
	return nil
}

func registerFill(t *testing.T, d Device) {
	t.Helper()
	k, err := d.LoadKernel(kernels.MemSet, fillHost)
	if err != nil {
		t.Fatalf("LoadKernel: %v", err)
	}
	if err := d.RegisterKernels(k); err != nil {
		t.Fatalf("RegisterKernels: %v", err)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	d := newCPUDevice(t)
	buf, err := d.CreateBuffer("round_trip", 10)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	if buf.Size() != 12 {
		t.Fatalf("size rounded to %d, want 12", buf.Size())
	}
	if err := d.WriteBuffer(buf, 4, common.MarshalUint32s([]uint32{7, 9})); err != nil {
		t.Fatalf("WriteBuffer: %v", err)
	}
	out, err := d.ReadBuffer(buf, 0, 12)
	if err != nil {
		t.Fatalf("ReadBuffer: %v", err)
	}
	got := common.UnmarshalUint32s(out)
	if got[0] != 0 || got[1] != 7 || got[2] != 9 {
		t.Fatalf("read back %v", got)
	}
}

func TestBufferRangeValidation(t *testing.T) {
	d := newCPUDevice(t)
	buf, _ := d.CreateBuffer("ranges", 16)

	if err := d.WriteBuffer(buf, 2, make([]byte, 4)); !errors.Is(err, ErrInvalidDispatch) {
		t.Errorf("misaligned write: got %v", err)
	}
	if err := d.WriteBuffer(buf, 12, make([]byte, 8)); !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("overflowing write: got %v", err)
	}
	if _, err := d.ReadBuffer(buf, 0, 20); !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("overflowing read: got %v", err)
	}
	if _, err := d.CreateBuffer("empty", 0); !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("zero-size buffer: got %v", err)
	}

	buf.Release()
	if _, err := d.ReadBuffer(buf, 0, 4); !errors.Is(err, ErrReleased) {
		t.Errorf("read of released buffer: got %v", err)
	}
}

func TestDispatchRunsEveryGroup(t *testing.T) {
	d := newCPUDevice(t)
	registerFill(t, d)

	const n = 256*37 + 5
	buf, _ := d.CreateBuffer("fill", n*4)
	bg := bind_group_provider.NewBindGroupProvider("fill", bind_group_provider.WithBuffer(1, buf))
	fp := params.NewFillParams(params.EmptyCell, n)

	if err := d.Dispatch(kernels.MemSet, bg, fp.Marshal(), common.DivCeil(n, 256)); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	out, err := d.ReadBuffer(buf, 0, n*4)
	if err != nil {
		t.Fatalf("ReadBuffer: %v", err)
	}
	for i, w := range common.UnmarshalUint32s(out) {
		if w != params.EmptyCell {
			t.Fatalf("word %d = %#x", i, w)
		}
	}
}

func TestDispatchValidation(t *testing.T) {
	d := newCPUDevice(t)
	registerFill(t, d)

	buf, _ := d.CreateBuffer("fill", 64)
	bg := bind_group_provider.NewBindGroupProvider("fill", bind_group_provider.WithBuffer(1, buf))
	fp := params.NewFillParams(1, 16)
	uniform := fp.Marshal()

	if err := d.Dispatch("nope", bg, uniform, 1); !errors.Is(err, ErrUnknownKernel) {
		t.Errorf("unknown kernel: got %v", err)
	}
	if err := d.Dispatch(kernels.MemSet, bg, uniform, 0); !errors.Is(err, ErrInvalidDispatch) {
		t.Errorf("zero work-groups: got %v", err)
	}
	if err := d.Dispatch(kernels.MemSet, bg, uniform, MaxWorkGroups+1); !errors.Is(err, ErrInvalidDispatch) {
		t.Errorf("too many work-groups: got %v", err)
	}
	if err := d.Dispatch(kernels.MemSet, bg, uniform[:8], 1); !errors.Is(err, ErrInvalidDispatch) {
		t.Errorf("short uniform: got %v", err)
	}
	empty := bind_group_provider.NewBindGroupProvider("empty")
	if err := d.Dispatch(kernels.MemSet, empty, uniform, 1); !errors.Is(err, ErrInvalidDispatch) {
		t.Errorf("missing binding: got %v", err)
	}
	if err := d.Dispatch(kernels.MemSet, nil, uniform, 1); !errors.Is(err, ErrInvalidDispatch) {
		t.Errorf("nil bindings: got %v", err)
	}

	buf.Release()
	if err := d.Dispatch(kernels.MemSet, bg, uniform, 1); !errors.Is(err, ErrReleased) {
		t.Errorf("released binding: got %v", err)
	}
}

func TestHostFuncErrorIsReturned(t *testing.T) {
	d := newCPUDevice(t)
	boom := errors.New("boom")
	k, err := d.LoadKernel(kernels.MemSet, func(ctx *kernel.HostContext) error {
		if ctx.GroupID == 3 {
			return boom
		}
		return nil
	})
	if err != nil {
		t.Fatalf("LoadKernel: %v", err)
	}
	if err := d.RegisterKernels(k); err != nil {
		t.Fatalf("RegisterKernels: %v", err)
	}
	buf, _ := d.CreateBuffer("fill", 4096)
	bg := bind_group_provider.NewBindGroupProvider("fill", bind_group_provider.WithBuffer(1, buf))
	fp := params.NewFillParams(0, 1024)
	if err := d.Dispatch(kernels.MemSet, bg, fp.Marshal(), 4); !errors.Is(err, boom) {
		t.Fatalf("got %v, want the host error", err)
	}
}

func TestRegisterRequiresHostFuncOnCPU(t *testing.T) {
	d := newCPUDevice(t)
	k, err := d.LoadKernel(kernels.MemSet, nil)
	if err != nil {
		t.Fatalf("LoadKernel: %v", err)
	}
	if err := d.RegisterKernels(k); !errors.Is(err, ErrUnknownKernel) {
		t.Fatalf("got %v, want ErrUnknownKernel", err)
	}
	if d.Kernel(kernels.MemSet) != nil {
		t.Fatalf("kernel was registered")
	}
}

func TestLoadKernel(t *testing.T) {
	dir := t.TempDir()
	custom := `//@oxy:include fill_params
//@oxy:group 0 0 storage_uniform params fill_params
//@oxy:group 0 1 storage_read_write dst array<u32>

@compute @workgroup_size(64)
fn memSet(@builtin(global_invocation_id) gid: vec3<u32>) {
    dst[gid.x] = params.value;
}
`
	if err := os.WriteFile(filepath.Join(dir, "memSet.wgsl"), []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}
	d, err := NewDevice(BackendTypeCPU, WithKernelDir(dir))
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	defer d.Release()

	k, err := d.LoadKernel(kernels.MemSet, fillHost)
	if err != nil {
		t.Fatalf("LoadKernel: %v", err)
	}
	if k.LocalSize() != 64 {
		t.Errorf("directory program not used: local size %d", k.LocalSize())
	}

	builtin, err := d.LoadKernel(kernels.GetGridHash, fillHost)
	if err != nil {
		t.Fatalf("LoadKernel built-in: %v", err)
	}
	if builtin.LocalSize() != 256 {
		t.Errorf("built-in local size %d", builtin.LocalSize())
	}

	if _, err := d.LoadKernel("doesNotExist", fillHost); !errors.Is(err, ErrUnknownKernel) {
		t.Errorf("missing program: got %v", err)
	}
}

func TestParseBackendType(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want BackendType
	}{
		{"cpu", BackendTypeCPU},
		{"wgpu", BackendTypeWGPU},
	} {
		got, err := ParseBackendType(tc.in)
		if err != nil || got != tc.want {
			t.Errorf("ParseBackendType(%q) = %v, %v", tc.in, got, err)
		}
	}
	if _, err := ParseBackendType("metal"); err == nil {
		t.Errorf("expected an error for an unknown backend")
	}
}

func TestReleasedDevice(t *testing.T) {
	d, err := NewDevice(BackendTypeCPU)
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	d.Release()
	if _, err := d.CreateBuffer("late", 4); !errors.Is(err, ErrReleased) {
		t.Fatalf("got %v, want ErrReleased", err)
	}
}
