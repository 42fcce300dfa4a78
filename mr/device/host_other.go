//go:build !(linux || darwin || freebsd)

package device

import (
	"fmt"

	"github.com/joshuapare/gpumr/mr"
)

// Host is unavailable on this platform.
type Host struct{}

var _ Device = (*Host)(nil)

// NewHost reports that host-memory devices need a unix mmap.
func NewHost(uint64) (*Host, error) {
	return nil, fmt.Errorf("%w: host device requires mmap support", mr.ErrRuntime)
}

// RawAllocate satisfies Device.
func (h *Host) RawAllocate(size uint64, _ mr.Stream) (mr.Ptr, error) {
	return mr.NullPtr, mr.OutOfMemory("host device unavailable", size)
}

// RawDeallocate satisfies Device.
func (h *Host) RawDeallocate(mr.Ptr, mr.Stream) {}

// MemoryInfo satisfies Device.
func (h *Host) MemoryInfo() (free, total uint64, err error) {
	return 0, 0, fmt.Errorf("%w: host device unavailable", mr.ErrRuntime)
}

// Bytes always returns nil.
func (h *Host) Bytes(mr.Ptr) []byte { return nil }
