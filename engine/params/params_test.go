package params

import (
	"strings"
	"testing"

	"github.com/Carmen-Shannon/oxy-flock/common"
)

func TestMarshalMatchesSize(t *testing.T) {
	p := NewSimParams(common.UVec3{X: 4, Y: 2, Z: 3}, common.Vec3{X: 1, Y: 1, Z: 1}, common.Vec3{}, 5)
	if got := len(p.Marshal()); got != p.ByteSize() || got != 96 {
		t.Fatalf("SimParams marshal length %d, size %d", got, p.ByteSize())
	}
	s := SortParams{ArrayLength: 8, Size: 4, Stride: 2, Dir: 1}
	if got := len(s.Marshal()); got != s.ByteSize() {
		t.Fatalf("SortParams marshal length %d, size %d", got, s.ByteSize())
	}
	f := NewFillParams(EmptyCell, 10)
	if got := len(f.Marshal()); got != f.ByteSize() {
		t.Fatalf("FillParams marshal length %d, size %d", got, f.ByteSize())
	}
}

func TestSortParamsCarryStageSize(t *testing.T) {
	s := SortParams{ArrayLength: 1024, Size: 512, Stride: 128, Dir: 1, Count: 4096}
	if s.ByteSize() != 32 {
		t.Fatalf("SortParams size %d, want 32", s.ByteSize())
	}
	got := UnmarshalSortParams(s.Marshal())
	if got.Size != 512 || got.Stride != 128 {
		t.Errorf("stage size %d stride %d, want 512 and 128", got.Size, got.Stride)
	}
	if got != s {
		t.Errorf("decoded params differ: %+v vs %+v", got, s)
	}
}

func TestSimParamsUnmarshal(t *testing.T) {
	p := NewSimParams(common.UVec3{X: 80, Y: 80, Z: 80}, common.Vec3{X: 15, Y: 15, Z: 15}, common.Vec3{X: -1, Y: 2, Z: 3}, 8192)
	p.WSeparation = 0.01
	p.MaxVel = 9.5
	p.Dt = 0.016
	p.Flags = FlagGoal | FlagObstacles
	if got := UnmarshalSimParams(p.Marshal()); got != p {
		t.Fatalf("decoded params differ: %+v vs %+v", got, p)
	}
}

func TestNewSimParamsDerived(t *testing.T) {
	p := NewSimParams(common.UVec3{X: 160, Y: 1, Z: 160}, common.Vec3{X: 15, Y: 15, Z: 15}, common.Vec3{}, 5000)
	if p.NumCells != 25600 {
		t.Errorf("NumCells = %d", p.NumCells)
	}
	if p.PaddedBodies != 8192 {
		t.Errorf("PaddedBodies = %d", p.PaddedBodies)
	}
	q := p.WithBodies(8192)
	if q.PaddedBodies != 8192 || q.NumBodies != 8192 {
		t.Errorf("WithBodies gave %d/%d", q.NumBodies, q.PaddedBodies)
	}
}

func TestHashClampsAndLinearises(t *testing.T) {
	p := NewSimParams(common.UVec3{X: 4, Y: 3, Z: 2}, common.Vec3{X: 10, Y: 10, Z: 10}, common.Vec3{}, 1)
	cases := []struct {
		pos  common.Vec4
		want uint32
	}{
		{common.NewVec4(0, 0, 0, 1), 0},
		{common.NewVec4(15, 0, 0, 1), 1},
		{common.NewVec4(0, 15, 0, 1), 4},
		{common.NewVec4(0, 0, 15, 1), 12},
		{common.NewVec4(39.9, 29.9, 19.9, 1), 23},
		{common.NewVec4(-100, -100, -100, 1), 0},
		{common.NewVec4(1000, 1000, 1000, 1), 23},
	}
	for _, c := range cases {
		if got := p.Hash(c.pos); got != c.want {
			t.Errorf("Hash(%v) = %d, want %d", c.pos, got, c.want)
		}
		if got := p.Hash(c.pos); got >= p.NumCells {
			t.Errorf("Hash(%v) = %d outside %d cells", c.pos, got, p.NumCells)
		}
	}
}

func TestWGSLSourcesDeclareStructs(t *testing.T) {
	for name, src := range map[string]string{
		"SimParams":  GPUSimParamsSource,
		"SortParams": GPUSortParamsSource,
		"FillParams": GPUFillParamsSource,
	} {
		if !strings.Contains(src, "struct "+name) {
			t.Errorf("%s source does not declare its struct", name)
		}
	}
}
