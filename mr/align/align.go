// Package align provides the power-of-two alignment helpers used by every
// allocator.
package align

import "math"

const (
	// DeviceAlignment is the alignment of every pointer returned by a device
	// memory resource.
	DeviceAlignment uint64 = 256

	// HostAlignment is the default alignment for host allocations.
	HostAlignment uint64 = 16
)

// IsPow2 reports whether value is a non-zero power of two.
//
// Example:
//
//	IsPow2(256) = true
//	IsPow2(0)   = false
//	IsPow2(384) = false
func IsPow2(value uint64) bool {
	return value != 0 && value&(value-1) == 0
}

// IsSupportedAlignment reports whether alignment can be used with AlignUp and
// AlignDown.
func IsSupportedAlignment(alignment uint64) bool {
	return IsPow2(alignment)
}

// AlignUp rounds value up to the next multiple of alignment, which must be a
// power of two. Callers must make sure value <= MaxAlignable(alignment).
//
// Example:
//
//	AlignUp(1, 256)   = 256
//	AlignUp(256, 256) = 256
//	AlignUp(257, 256) = 512
func AlignUp(value, alignment uint64) uint64 {
	return (value + alignment - 1) & ^(alignment - 1)
}

// AlignDown rounds value down to the previous multiple of alignment.
func AlignDown(value, alignment uint64) uint64 {
	return value & ^(alignment - 1)
}

// IsAligned reports whether value is a multiple of alignment.
func IsAligned(value, alignment uint64) bool {
	return value&(alignment-1) == 0
}

// IsPointerAligned reports whether the address ptr is a multiple of alignment.
func IsPointerAligned(ptr uintptr, alignment uint64) bool {
	return IsAligned(uint64(ptr), alignment)
}

// MaxAlignable is the largest value AlignUp can round without wrapping.
func MaxAlignable(alignment uint64) uint64 {
	return AlignDown(math.MaxUint64, alignment)
}
