// Package device provides the native device allocators and the Direct
// resource that passes requests straight through to them.
//
// Three Device implementations are available:
//
//   - Simulated: a fixed-capacity address space with no backing memory, for
//     tests and capacity planning
//   - Host: anonymous mmap regions on unix systems, for workloads that need
//     real memory without a GPU
//   - CUDA: the CUDA runtime's stream-ordered allocator (build tag cuda)
package device

import (
	"github.com/joshuapare/gpumr/internal/logger"
	"github.com/joshuapare/gpumr/mr"
)

// Device is the native allocation primitive a Direct resource forwards to.
type Device interface {
	// RawAllocate returns size bytes of device memory ordered on stream.
	RawAllocate(size uint64, stream mr.Stream) (mr.Ptr, error)

	// RawDeallocate frees memory returned by RawAllocate.
	RawDeallocate(p mr.Ptr, stream mr.Stream)

	// MemoryInfo reports free and total device memory.
	MemoryInfo() (free, total uint64, err error)
}

// Direct is a resource that calls the native device allocator for every
// request. It is the usual upstream of pools and arenas.
type Direct struct {
	dev Device
}

var _ mr.Resource = (*Direct)(nil)

// NewDirect returns a passthrough resource over dev.
func NewDirect(dev Device) *Direct {
	return &Direct{dev: dev}
}

// Device returns the native allocator behind the resource.
func (d *Direct) Device() Device { return d.dev }

// Allocate satisfies mr.Resource.
func (d *Direct) Allocate(size uint64, stream mr.Stream) (mr.Ptr, error) {
	if size == 0 {
		return mr.NullPtr, nil
	}
	if err := mr.CheckSize(size); err != nil {
		return mr.NullPtr, err
	}
	return d.dev.RawAllocate(size, stream)
}

// Deallocate satisfies mr.Resource.
func (d *Direct) Deallocate(p mr.Ptr, size uint64, stream mr.Stream) {
	if p == mr.NullPtr {
		mr.Assertf(size == 0, "null pointer deallocated with size %d", size)
		return
	}
	d.dev.RawDeallocate(p, stream)
}

// IsEqual reports whether other is a Direct resource over the same device.
func (d *Direct) IsEqual(other mr.Resource) bool {
	o, ok := other.(*Direct)
	return ok && o.dev == d.dev
}

// MemInfo satisfies mr.Resource.
func (d *Direct) MemInfo(mr.Stream) (free, total uint64) {
	free, total, err := d.dev.MemoryInfo()
	if err != nil {
		logger.Warn("device memory info unavailable", "err", err)
		return 0, 0
	}
	return free, total
}
