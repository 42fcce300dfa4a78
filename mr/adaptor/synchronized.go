package adaptor

import (
	"sync"

	"github.com/joshuapare/gpumr/mr"
)

// Synchronized serialises every call to an upstream that is not safe for
// concurrent use.
type Synchronized struct {
	mu       sync.Mutex
	upstream mr.Resource
}

var (
	_ mr.Resource   = (*Synchronized)(nil)
	_ mr.Upstreamer = (*Synchronized)(nil)
)

// NewSynchronized wraps upstream. It panics if upstream is nil.
func NewSynchronized(upstream mr.Resource) *Synchronized {
	mustUpstream("synchronized", upstream)
	return &Synchronized{upstream: upstream}
}

// Upstream returns the wrapped resource.
func (s *Synchronized) Upstream() mr.Resource { return s.upstream }

func (s *Synchronized) Allocate(size uint64, stream mr.Stream) (mr.Ptr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upstream.Allocate(size, stream)
}

func (s *Synchronized) Deallocate(p mr.Ptr, size uint64, stream mr.Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upstream.Deallocate(p, size, stream)
}

// IsEqual reports whether other is a Synchronized adaptor over an equal
// upstream.
func (s *Synchronized) IsEqual(other mr.Resource) bool {
	o, ok := other.(*Synchronized)
	return ok && upstreamsEqual(s.upstream, o.upstream)
}

func (s *Synchronized) MemInfo(stream mr.Stream) (free, total uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upstream.MemInfo(stream)
}
