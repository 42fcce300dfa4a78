package mr

import (
	"fmt"

	"github.com/joshuapare/gpumr/mr/align"
)

// Stream is an opaque execution-ordering identity. Work enqueued on the same
// stream executes in issue order.
type Stream uintptr

// DefaultStream is the stream used when the caller has no explicit stream.
const DefaultStream Stream = 0

// String formats the stream the way it appears in allocation logs.
func (s Stream) String() string {
	return fmt.Sprintf("0x%x", uintptr(s))
}

// Ptr is a device address. Device memory is never dereferenced by this
// package, so addresses are carried as integers.
type Ptr uintptr

// NullPtr is returned for zero-sized allocations.
const NullPtr Ptr = 0

// String formats the pointer as a hex address.
func (p Ptr) String() string {
	return fmt.Sprintf("0x%x", uintptr(p))
}

// Resource is the allocation capability implemented by every allocator and
// adaptor.
type Resource interface {
	// Allocate returns a region of at least size bytes usable on stream.
	// The region is aligned to align.DeviceAlignment.
	Allocate(size uint64, stream Stream) (Ptr, error)

	// Deallocate returns a region obtained from Allocate. The size and stream
	// must match the originating call.
	Deallocate(p Ptr, size uint64, stream Stream)

	// IsEqual reports whether memory allocated by one resource may be
	// deallocated by the other.
	IsEqual(other Resource) bool

	// MemInfo returns a best-effort view of free and total bytes.
	MemInfo(stream Stream) (free, total uint64)
}

// Upstreamer is implemented by resources that delegate to another resource.
type Upstreamer interface {
	Upstream() Resource
}

// Equal compares two resources, short-circuiting on identity.
func Equal(a, b Resource) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a == b {
		return true
	}
	return a.IsEqual(b)
}

// CheckSize rejects sizes that cannot be rounded up to the device alignment
// without overflowing.
func CheckSize(size uint64) error {
	if size > align.MaxAlignable(align.DeviceAlignment) {
		return fmt.Errorf("%w: size %d overflows the device address range", ErrInvalidArgument, size)
	}
	return nil
}

// AlignedSize returns size rounded up to the device alignment.
func AlignedSize(size uint64) uint64 {
	return align.AlignUp(size, align.DeviceAlignment)
}

// OutOfMemory wraps ErrOutOfMemory with a description of the failed request.
func OutOfMemory(what string, size uint64) error {
	return fmt.Errorf("%w: %s (failed to allocate %s)", ErrOutOfMemory, what, FormatBytes(size))
}
