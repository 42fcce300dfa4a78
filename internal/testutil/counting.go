package testutil

import (
	"sync"

	"github.com/joshuapare/gpumr/mr"
)

// Counting is a resource that records every call it forwards upstream.
type Counting struct {
	upstream mr.Resource

	mu            sync.Mutex
	requests      []uint64
	failures      int
	deallocations int
	live          map[mr.Ptr]uint64
}

var _ mr.Resource = (*Counting)(nil)

// NewCounting wraps upstream.
func NewCounting(upstream mr.Resource) *Counting {
	return &Counting{upstream: upstream, live: make(map[mr.Ptr]uint64)}
}

// Upstream returns the wrapped resource.
func (c *Counting) Upstream() mr.Resource { return c.upstream }

func (c *Counting) Allocate(size uint64, stream mr.Stream) (mr.Ptr, error) {
	p, err := c.upstream.Allocate(size, stream)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, size)
	if err != nil {
		c.failures++
		return p, err
	}
	if p != mr.NullPtr {
		c.live[p] = size
	}
	return p, nil
}

func (c *Counting) Deallocate(p mr.Ptr, size uint64, stream mr.Stream) {
	c.mu.Lock()
	c.deallocations++
	delete(c.live, p)
	c.mu.Unlock()

	c.upstream.Deallocate(p, size, stream)
}

func (c *Counting) IsEqual(other mr.Resource) bool {
	o, ok := other.(*Counting)
	return ok && mr.Equal(c.upstream, o.upstream)
}

func (c *Counting) MemInfo(stream mr.Stream) (uint64, uint64) {
	return c.upstream.MemInfo(stream)
}

// Allocations returns how many Allocate calls were forwarded, failed or not.
func (c *Counting) Allocations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// Requests returns the sizes passed to Allocate, in call order.
func (c *Counting) Requests() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.requests...)
}

// Failures returns how many forwarded Allocate calls failed.
func (c *Counting) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// Deallocations returns how many Deallocate calls were forwarded.
func (c *Counting) Deallocations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deallocations
}

// Outstanding returns the number and total size of live upstream allocations.
func (c *Counting) Outstanding() (count int, bytes uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.live {
		bytes += n
	}
	return len(c.live), bytes
}

// Reset clears the call history. Live allocations are kept.
func (c *Counting) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = nil
	c.failures = 0
	c.deallocations = 0
}
