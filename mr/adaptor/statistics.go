package adaptor

import (
	"sync/atomic"

	"github.com/joshuapare/gpumr/mr"
)

// Counter is a snapshot of one statistic.
type Counter struct {
	Value int64 // currently outstanding
	Peak  int64 // highest Value observed
	Total int64 // sum of all increments
}

type counter struct {
	value atomic.Int64
	peak  atomic.Int64
	total atomic.Int64
}

func (c *counter) add(n int64) {
	v := c.value.Add(n)
	if n <= 0 {
		return
	}
	c.total.Add(n)
	for p := c.peak.Load(); v > p; p = c.peak.Load() {
		if c.peak.CompareAndSwap(p, v) {
			return
		}
	}
}

func (c *counter) load() Counter {
	return Counter{Value: c.value.Load(), Peak: c.peak.Load(), Total: c.total.Load()}
}

// Statistics counts outstanding bytes and allocations without locking.
type Statistics struct {
	upstream mr.Resource

	bytes  counter
	allocs counter
}

var (
	_ mr.Resource   = (*Statistics)(nil)
	_ mr.Upstreamer = (*Statistics)(nil)
)

// NewStatistics wraps upstream. It panics if upstream is nil.
func NewStatistics(upstream mr.Resource) *Statistics {
	mustUpstream("statistics", upstream)
	return &Statistics{upstream: upstream}
}

// Upstream returns the wrapped resource.
func (s *Statistics) Upstream() mr.Resource { return s.upstream }

// Allocate satisfies mr.Resource.
func (s *Statistics) Allocate(size uint64, stream mr.Stream) (mr.Ptr, error) {
	p, err := s.upstream.Allocate(size, stream)
	if err != nil || p == mr.NullPtr {
		return p, err
	}
	s.bytes.add(int64(size))
	s.allocs.add(1)
	return p, nil
}

// Deallocate satisfies mr.Resource.
func (s *Statistics) Deallocate(p mr.Ptr, size uint64, stream mr.Stream) {
	s.upstream.Deallocate(p, size, stream)
	if p == mr.NullPtr {
		return
	}
	s.bytes.add(-int64(size))
	s.allocs.add(-1)
}

// IsEqual reports whether other is a Statistics adaptor over an equal
// upstream.
func (s *Statistics) IsEqual(other mr.Resource) bool {
	o, ok := other.(*Statistics)
	return ok && upstreamsEqual(s.upstream, o.upstream)
}

// MemInfo defers to upstream.
func (s *Statistics) MemInfo(stream mr.Stream) (free, total uint64) {
	return s.upstream.MemInfo(stream)
}

// Bytes returns the byte counter.
func (s *Statistics) Bytes() Counter { return s.bytes.load() }

// Allocations returns the allocation-count counter.
func (s *Statistics) Allocations() Counter { return s.allocs.load() }
