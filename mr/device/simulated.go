package device

import (
	"sync"

	"github.com/joshuapare/gpumr/mr"
)

// simulatedBase is where the simulated address space starts. It is aligned
// far beyond any alignment the allocators ask for.
const simulatedBase uintptr = 1 << 40

// Simulated is a Device that simulates a fixed-size GPU. Addresses are handed
// out sequentially and never reused; only capacity is recycled on free.
type Simulated struct {
	mu       sync.Mutex
	capacity uint64
	used     uint64
	next     uintptr
	live     map[mr.Ptr]uint64

	stats SimulatedStats
}

// SimulatedStats counts calls made to a Simulated device.
type SimulatedStats struct {
	Allocations   int    // successful RawAllocate calls
	Deallocations int    // RawDeallocate calls
	Failures      int    // RawAllocate calls rejected for lack of capacity
	LiveBytes     uint64 // bytes currently allocated
	LiveCount     int    // regions currently allocated
}

var _ Device = (*Simulated)(nil)

// NewSimulated returns a simulated device with capacity bytes of memory.
func NewSimulated(capacity uint64) *Simulated {
	return &Simulated{
		capacity: capacity,
		next:     simulatedBase,
		live:     make(map[mr.Ptr]uint64),
	}
}

// RawAllocate satisfies Device.
func (s *Simulated) RawAllocate(size uint64, _ mr.Stream) (mr.Ptr, error) {
	aligned := mr.AlignedSize(size)

	s.mu.Lock()
	defer s.mu.Unlock()

	if aligned > s.capacity-s.used {
		s.stats.Failures++
		return mr.NullPtr, mr.OutOfMemory("simulated device memory exhausted", size)
	}

	p := mr.Ptr(s.next)
	s.next += uintptr(aligned)
	s.used += aligned
	s.live[p] = aligned
	s.stats.Allocations++
	return p, nil
}

// RawDeallocate satisfies Device.
func (s *Simulated) RawDeallocate(p mr.Ptr, _ mr.Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()

	size, ok := s.live[p]
	if !ok {
		mr.Assertf(false, "simulated device: free of unknown pointer %s", p)
		return
	}
	delete(s.live, p)
	s.used -= size
	s.stats.Deallocations++
}

// MemoryInfo satisfies Device.
func (s *Simulated) MemoryInfo() (free, total uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity - s.used, s.capacity, nil
}

// Stats returns a snapshot of the call counters.
func (s *Simulated) Stats() SimulatedStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats
	st.LiveBytes = s.used
	st.LiveCount = len(s.live)
	return st
}
