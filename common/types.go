// package common contains common types that are used throughout this engine. They are not interface-wrapped structs, just plain structs that express
// commonly used data-types.
package common

import (
	"encoding/binary"
	"math"
)

// Vec4 is a 4-component float vector laid out exactly like a WGSL vec4<f32> (16 bytes).
// Agent positions, velocities, goals and colors are all stored as Vec4 on the device.
type Vec4 struct {
	X, Y, Z, W float32
}

// Vec3 is a 3-component float vector. When embedded in a uniform struct it occupies 12 bytes
// and is usually followed by a 4-byte scalar to complete the 16-byte WGSL vec3 alignment.
type Vec3 struct {
	X, Y, Z float32
}

// UVec3 is a 3-component unsigned vector, used for grid dimensions and cell coordinates.
type UVec3 struct {
	X, Y, Z uint32
}

// Vec4Size is the size in bytes of a single Vec4 on the device.
const Vec4Size = 16

// NewVec4 builds a Vec4 from its four components.
func NewVec4(x, y, z, w float32) Vec4 {
	return Vec4{X: x, Y: y, Z: z, W: w}
}

// Product returns X*Y*Z, the number of cells described by a grid size.
//
// Returns:
//   - uint32: the product of the three components
func (u UVec3) Product() uint32 {
	return u.X * u.Y * u.Z
}

// Marshal serializes the Vec4 into a 16-byte little-endian buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 16-byte buffer
func (v Vec4) Marshal() []byte {
	buf := make([]byte, Vec4Size)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(v.X))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(v.Y))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(v.Z))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(v.W))
	return buf
}

// UnmarshalVec4s decodes a little-endian byte buffer into a slice of Vec4.
// Trailing bytes that do not form a whole Vec4 are ignored.
//
// Parameters:
//   - data: the raw bytes read back from a device buffer
//
// Returns:
//   - []Vec4: the decoded vectors
func UnmarshalVec4s(data []byte) []Vec4 {
	out := make([]Vec4, len(data)/Vec4Size)
	for i := range out {
		o := i * Vec4Size
		out[i] = Vec4{
			X: math.Float32frombits(binary.LittleEndian.Uint32(data[o : o+4])),
			Y: math.Float32frombits(binary.LittleEndian.Uint32(data[o+4 : o+8])),
			Z: math.Float32frombits(binary.LittleEndian.Uint32(data[o+8 : o+12])),
			W: math.Float32frombits(binary.LittleEndian.Uint32(data[o+12 : o+16])),
		}
	}
	return out
}

// MarshalVec4s encodes a slice of Vec4 into a little-endian byte buffer.
//
// Parameters:
//   - vs: the vectors to encode
//
// Returns:
//   - []byte: len(vs)*16 bytes
func MarshalVec4s(vs []Vec4) []byte {
	buf := make([]byte, len(vs)*Vec4Size)
	for i, v := range vs {
		copy(buf[i*Vec4Size:], v.Marshal())
	}
	return buf
}

// UnmarshalUint32s decodes a little-endian byte buffer into a slice of uint32.
//
// Parameters:
//   - data: the raw bytes read back from a device buffer
//
// Returns:
//   - []uint32: the decoded words
func UnmarshalUint32s(data []byte) []uint32 {
	out := make([]uint32, len(data)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(data[i*4 : i*4+4])
	}
	return out
}

// MarshalUint32s encodes a slice of uint32 into a little-endian byte buffer.
//
// Parameters:
//   - words: the values to encode
//
// Returns:
//   - []byte: len(words)*4 bytes
func MarshalUint32s(words []uint32) []byte {
	buf := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], w)
	}
	return buf
}
