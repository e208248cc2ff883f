package params

import (
	_ "embed"
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-flock/common"
)

// GPUSimParamsSource is the canonical WGSL definition of the SimParams struct.
// Matches SimParams layout exactly (96 bytes, uniform aligned).
//
//go:embed assets/sim_params.wgsl
var GPUSimParamsSource string

// GPUSortParamsSource is the canonical WGSL definition of the SortParams struct used by the
// bitonic sort kernels. Matches SortParams layout exactly (32 bytes).
//
//go:embed assets/sort_params.wgsl
var GPUSortParamsSource string

// GPUFillParamsSource is the canonical WGSL definition of the FillParams struct used by the
// memSet kernel. Matches FillParams layout exactly (16 bytes).
//
//go:embed assets/fill_params.wgsl
var GPUFillParamsSource string

// SortParams is the per-dispatch uniform of the bitonic sort kernels.
// Size: 32 bytes.
type SortParams struct {
	ArrayLength uint32 // offset 0
	Size        uint32 // offset 4: merge stage size (unused by the local sorts)
	Stride      uint32 // offset 8: comparator distance (unused by the local sorts)
	Dir         uint32 // offset 12: 1 ascending, 0 descending
	Count       uint32 // offset 16: batch * arrayLength, the number of elements sorted
	_pad0       uint32 // offset 20
	_pad1       uint32 // offset 24
	_pad2       uint32 // offset 28
}

// ByteSize returns the size of the SortParams struct in bytes.
//
// Returns:
//   - int: The size of the struct in bytes.
func (s *SortParams) ByteSize() int {
	return int(unsafe.Sizeof(*s))
}

// Marshal serializes the SortParams struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 32-byte buffer ready for GPU upload.
func (s *SortParams) Marshal() []byte {
	buf := make([]byte, 0, 32)
	buf = binary.LittleEndian.AppendUint32(buf, s.ArrayLength)
	buf = binary.LittleEndian.AppendUint32(buf, s.Size)
	buf = binary.LittleEndian.AppendUint32(buf, s.Stride)
	buf = binary.LittleEndian.AppendUint32(buf, s.Dir)
	buf = binary.LittleEndian.AppendUint32(buf, s.Count)
	return append(buf, make([]byte, 12)...)
}

// UnmarshalSortParams decodes a SortParams uniform. Host kernels use it to read the same
// bytes the GPU kernels receive.
func UnmarshalSortParams(b []byte) SortParams {
	return SortParams{
		ArrayLength: binary.LittleEndian.Uint32(b[0:4]),
		Size:        binary.LittleEndian.Uint32(b[4:8]),
		Stride:      binary.LittleEndian.Uint32(b[8:12]),
		Dir:         binary.LittleEndian.Uint32(b[12:16]),
		Count:       binary.LittleEndian.Uint32(b[16:20]),
	}
}

// FillParams is the uniform of the memSet kernel.
// Size: 16 bytes.
type FillParams struct {
	Value uint32 // offset 0
	Count uint32 // offset 4
	_pad0 uint32 // offset 8
	_pad1 uint32 // offset 12
}

// NewFillParams builds the memSet uniform for count words set to value.
func NewFillParams(value, count uint32) FillParams {
	return FillParams{Value: value, Count: count}
}

// ByteSize returns the size of the FillParams struct in bytes.
func (f *FillParams) ByteSize() int {
	return int(unsafe.Sizeof(*f))
}

// Marshal serializes the FillParams struct into a byte buffer suitable for GPU upload.
func (f *FillParams) Marshal() []byte {
	buf := make([]byte, 0, 16)
	buf = binary.LittleEndian.AppendUint32(buf, f.Value)
	buf = binary.LittleEndian.AppendUint32(buf, f.Count)
	buf = binary.LittleEndian.AppendUint32(buf, 0)
	buf = binary.LittleEndian.AppendUint32(buf, 0)
	return buf
}

// UnmarshalFillParams decodes a FillParams uniform.
func UnmarshalFillParams(b []byte) FillParams {
	return FillParams{
		Value: binary.LittleEndian.Uint32(b[0:4]),
		Count: binary.LittleEndian.Uint32(b[4:8]),
	}
}

// Marshal serializes the SimParams struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 96-byte buffer ready for GPU upload.
func (p *SimParams) Marshal() []byte {
	buf := make([]byte, 0, 96)
	u := func(v uint32) { buf = binary.LittleEndian.AppendUint32(buf, v) }
	f := func(v float32) { u(math.Float32bits(v)) }

	u(p.GridSize.X)
	u(p.GridSize.Y)
	u(p.GridSize.Z)
	u(p.NumCells)
	f(p.WorldOrigin.X)
	f(p.WorldOrigin.Y)
	f(p.WorldOrigin.Z)
	u(p.NumBodies)
	f(p.CellSize.X)
	f(p.CellSize.Y)
	f(p.CellSize.Z)
	u(p.PaddedBodies)
	f(p.WSeparation)
	f(p.WAlignment)
	f(p.WCohesion)
	f(p.WOwn)
	f(p.WPath)
	f(p.MaxVel)
	f(p.MaxVelCor)
	u(p.NumObstacles)
	f(p.Dt)
	u(p.Flags)
	u(0)
	u(0)
	return buf
}

// ByteSize returns the size of the SimParams struct in bytes.
func (p *SimParams) ByteSize() int {
	return int(unsafe.Sizeof(*p))
}

// UnmarshalSimParams decodes a SimParams uniform produced by Marshal.
func UnmarshalSimParams(b []byte) SimParams {
	u := func(i int) uint32 { return binary.LittleEndian.Uint32(b[i*4 : i*4+4]) }
	f := func(i int) float32 { return math.Float32frombits(u(i)) }
	return SimParams{
		GridSize:     common.UVec3{X: u(0), Y: u(1), Z: u(2)},
		NumCells:     u(3),
		WorldOrigin:  common.Vec3{X: f(4), Y: f(5), Z: f(6)},
		NumBodies:    u(7),
		CellSize:     common.Vec3{X: f(8), Y: f(9), Z: f(10)},
		PaddedBodies: u(11),
		WSeparation:  f(12),
		WAlignment:   f(13),
		WCohesion:    f(14),
		WOwn:         f(15),
		WPath:        f(16),
		MaxVel:       f(17),
		MaxVelCor:    f(18),
		NumObstacles: u(19),
		Dt:           f(20),
		Flags:        u(21),
	}
}
