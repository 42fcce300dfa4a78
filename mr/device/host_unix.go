//go:build linux || darwin || freebsd

package device

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/joshuapare/gpumr/internal/logger"
	"github.com/joshuapare/gpumr/mr"
	"github.com/joshuapare/gpumr/mr/align"
)

// Host is a Device backed by anonymous mmap regions. Regions are page aligned,
// which satisfies the device alignment. Capacity is enforced by accounting,
// not by the kernel.
type Host struct {
	mu       sync.Mutex
	capacity uint64
	used     uint64
	pageSize uint64
	regions  map[mr.Ptr][]byte
}

var _ Device = (*Host)(nil)

// NewHost returns a host-memory device limited to capacity bytes.
func NewHost(capacity uint64) (*Host, error) {
	return &Host{
		capacity: capacity,
		pageSize: uint64(unix.Getpagesize()),
		regions:  make(map[mr.Ptr][]byte),
	}, nil
}

// RawAllocate satisfies Device.
func (h *Host) RawAllocate(size uint64, _ mr.Stream) (mr.Ptr, error) {
	length := align.AlignUp(size, h.pageSize)

	h.mu.Lock()
	if length > h.capacity-h.used {
		h.mu.Unlock()
		return mr.NullPtr, mr.OutOfMemory("host device capacity exhausted", size)
	}
	h.used += length
	h.mu.Unlock()

	data, err := unix.Mmap(-1, 0, int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		h.mu.Lock()
		h.used -= length
		h.mu.Unlock()
		if err == unix.ENOMEM {
			return mr.NullPtr, mr.OutOfMemory("mmap", size)
		}
		return mr.NullPtr, fmt.Errorf("%w: mmap %d bytes: %v", mr.ErrRuntime, length, err)
	}

	p := mr.Ptr(unsafe.Pointer(&data[0]))

	h.mu.Lock()
	h.regions[p] = data
	h.mu.Unlock()
	return p, nil
}

// RawDeallocate satisfies Device.
func (h *Host) RawDeallocate(p mr.Ptr, _ mr.Stream) {
	h.mu.Lock()
	data, ok := h.regions[p]
	if ok {
		delete(h.regions, p)
		h.used -= uint64(len(data))
	}
	h.mu.Unlock()

	if !ok {
		mr.Assertf(false, "host device: free of unknown pointer %s", p)
		return
	}
	if err := unix.Munmap(data); err != nil {
		logger.Error("munmap failed", "ptr", p, "len", len(data), "err", err)
	}
}

// MemoryInfo satisfies Device.
func (h *Host) MemoryInfo() (free, total uint64, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.capacity - h.used, h.capacity, nil
}

// Bytes returns the memory of the region starting at p, or nil if p was not
// returned by RawAllocate. Sub-allocations must slice into their region.
func (h *Host) Bytes(p mr.Ptr) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.regions[p]
}
