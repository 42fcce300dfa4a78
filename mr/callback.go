package mr

import (
	"errors"
	"fmt"
)

// AllocateFunc allocates size bytes on stream for a Callback resource.
type AllocateFunc func(size uint64, stream Stream) (Ptr, error)

// DeallocateFunc frees a region returned by the matching AllocateFunc.
type DeallocateFunc func(p Ptr, size uint64, stream Stream)

// Callback is a resource whose allocation is delegated to caller-supplied
// functions.
type Callback struct {
	allocate   AllocateFunc
	deallocate DeallocateFunc
}

var _ Resource = (*Callback)(nil)

// NewCallback returns a resource backed by allocate and deallocate. It
// panics if either is nil.
func NewCallback(allocate AllocateFunc, deallocate DeallocateFunc) *Callback {
	if allocate == nil || deallocate == nil {
		panic(fmt.Errorf("%w: callback resource needs allocate and deallocate functions", ErrInvalidArgument))
	}
	return &Callback{allocate: allocate, deallocate: deallocate}
}

// Allocate satisfies Resource. Errors from the callback that do not wrap one
// of this package's sentinels are wrapped with ErrRuntime.
func (c *Callback) Allocate(size uint64, stream Stream) (Ptr, error) {
	if size == 0 {
		return NullPtr, nil
	}
	if err := CheckSize(size); err != nil {
		return NullPtr, err
	}
	p, err := c.allocate(size, stream)
	if err != nil {
		if isSentinel(err) {
			return NullPtr, err
		}
		return NullPtr, fmt.Errorf("%w: callback allocate: %w", ErrRuntime, err)
	}
	return p, nil
}

// Deallocate satisfies Resource.
func (c *Callback) Deallocate(p Ptr, size uint64, stream Stream) {
	if p == NullPtr {
		return
	}
	c.deallocate(p, size, stream)
}

// IsEqual reports identity. Two callback resources may wrap different
// allocators even when built from the same functions.
func (c *Callback) IsEqual(other Resource) bool {
	o, ok := other.(*Callback)
	return ok && o == c
}

// MemInfo reports nothing; the callbacks expose no capacity.
func (c *Callback) MemInfo(Stream) (free, total uint64) {
	return 0, 0
}

func isSentinel(err error) bool {
	return errors.Is(err, ErrOutOfMemory) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrLogic) ||
		errors.Is(err, ErrRuntime)
}
