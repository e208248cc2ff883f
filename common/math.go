package common

import (
	"math/bits"
	"unsafe"
)

// SliceToBytes converts any slice to a byte slice for GPU buffer uploads.
// Uses unsafe pointer operations to create a view into the original data.
// WARNING: The returned slice shares memory with the input - do not modify.
//
// Parameters:
//   - data: source slice of any type
//
// Returns:
//   - []byte: byte slice view of the input data, or nil if input is empty
func SliceToBytes[T any](data []T) []byte {
	if len(data) == 0 {
		return nil
	}
	var zero T
	size := unsafe.Sizeof(zero)
	totalBytes := int(size) * len(data)
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), totalBytes)
}

// CastSlice reinterprets a slice of one plain-data type as a slice of another sharing the
// same memory. The element count is scaled by the ratio of the element sizes; a trailing
// partial element is dropped. Both types must be free of pointers.
//
// Parameters:
//   - data: source slice
//
// Returns:
//   - []To: a view over the same memory, or nil if data is empty
func CastSlice[To, From any](data []From) []To {
	if len(data) == 0 {
		return nil
	}
	var from From
	var to To
	n := int(unsafe.Sizeof(from)) * len(data) / int(unsafe.Sizeof(to))
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*To)(unsafe.Pointer(&data[0])), n)
}

// IsPowerOfTwo reports whether n is an exact power of two. Zero is not.
func IsPowerOfTwo(n uint32) bool {
	return n != 0 && n&(n-1) == 0
}

// NextPowerOfTwo returns the smallest power of two that is >= n. Zero maps to one.
// Values above 1<<31 saturate at 1<<31.
//
// Parameters:
//   - n: the value to round up
//
// Returns:
//   - uint32: the rounded value
func NextPowerOfTwo(n uint32) uint32 {
	if n <= 1 {
		return 1
	}
	if n > 1<<31 {
		return 1 << 31
	}
	return 1 << bits.Len32(n-1)
}

// DivCeil divides a by b rounding up. b must be non-zero.
func DivCeil(a, b uint32) uint32 {
	return (a + b - 1) / b
}
