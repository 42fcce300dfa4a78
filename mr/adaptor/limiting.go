package adaptor

import (
	"fmt"
	"sync/atomic"

	"github.com/joshuapare/gpumr/mr"
)

// Limiting rejects allocations that would push the aligned bytes
// outstanding through it past a fixed limit.
type Limiting struct {
	upstream  mr.Resource
	limit     uint64
	allocated atomic.Uint64
}

var (
	_ mr.Resource   = (*Limiting)(nil)
	_ mr.Upstreamer = (*Limiting)(nil)
)

// NewLimiting wraps upstream with a ceiling of limit bytes. It panics if
// upstream is nil.
func NewLimiting(upstream mr.Resource, limit uint64) *Limiting {
	mustUpstream("limiting", upstream)
	return &Limiting{upstream: upstream, limit: limit}
}

// Upstream returns the wrapped resource.
func (l *Limiting) Upstream() mr.Resource { return l.upstream }

// Allocate satisfies mr.Resource. The limit is checked before upstream is
// called.
func (l *Limiting) Allocate(size uint64, stream mr.Stream) (mr.Ptr, error) {
	if size == 0 {
		return l.upstream.Allocate(size, stream)
	}
	if err := mr.CheckSize(size); err != nil {
		return mr.NullPtr, err
	}
	need := mr.AlignedSize(size)

	for {
		cur := l.allocated.Load()
		if need > l.limit || cur > l.limit-need {
			return mr.NullPtr, fmt.Errorf("%w: exceeded memory limit of %s (failed to allocate %s)",
				mr.ErrOutOfMemory, mr.FormatBytes(l.limit), mr.FormatBytes(size))
		}
		if l.allocated.CompareAndSwap(cur, cur+need) {
			break
		}
	}

	p, err := l.upstream.Allocate(size, stream)
	if err != nil {
		l.allocated.Add(-need)
		return p, err
	}
	return p, nil
}

// Deallocate satisfies mr.Resource.
func (l *Limiting) Deallocate(p mr.Ptr, size uint64, stream mr.Stream) {
	l.upstream.Deallocate(p, size, stream)
	if p != mr.NullPtr {
		l.allocated.Add(-mr.AlignedSize(size))
	}
}

// IsEqual reports whether other is a Limiting adaptor over an equal upstream.
func (l *Limiting) IsEqual(other mr.Resource) bool {
	o, ok := other.(*Limiting)
	return ok && upstreamsEqual(l.upstream, o.upstream)
}

// MemInfo reports the headroom under the limit.
func (l *Limiting) MemInfo(mr.Stream) (free, total uint64) {
	used := l.allocated.Load()
	if used > l.limit {
		return 0, l.limit
	}
	return l.limit - used, l.limit
}

// AllocatedBytes returns the aligned bytes currently counted against the
// limit.
func (l *Limiting) AllocatedBytes() uint64 { return l.allocated.Load() }

// Limit returns the configured ceiling.
func (l *Limiting) Limit() uint64 { return l.limit }
