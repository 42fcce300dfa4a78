package adaptor

import (
	"errors"

	"github.com/joshuapare/gpumr/mr"
)

// FailureHandler is called when upstream runs out of memory. Returning true
// retries the allocation.
type FailureHandler func(size uint64, stream mr.Stream) bool

// FailureCallback gives a handler the chance to free memory and retry when
// upstream reports out of memory.
type FailureCallback struct {
	upstream mr.Resource
	handler  FailureHandler
}

var (
	_ mr.Resource   = (*FailureCallback)(nil)
	_ mr.Upstreamer = (*FailureCallback)(nil)
)

// NewFailureCallback wraps upstream. The handler decides how many retries
// are made; a nil handler never retries. It panics if upstream is nil.
func NewFailureCallback(upstream mr.Resource, handler FailureHandler) *FailureCallback {
	mustUpstream("failure callback", upstream)
	if handler == nil {
		handler = func(uint64, mr.Stream) bool { return false }
	}
	return &FailureCallback{upstream: upstream, handler: handler}
}

// Upstream returns the wrapped resource.
func (f *FailureCallback) Upstream() mr.Resource { return f.upstream }

// Allocate satisfies mr.Resource. Errors other than out-of-memory are
// returned without calling the handler.
func (f *FailureCallback) Allocate(size uint64, stream mr.Stream) (mr.Ptr, error) {
	for {
		p, err := f.upstream.Allocate(size, stream)
		if err == nil || !errors.Is(err, mr.ErrOutOfMemory) {
			return p, err
		}
		if !f.handler(size, stream) {
			return p, err
		}
	}
}

// Deallocate satisfies mr.Resource.
func (f *FailureCallback) Deallocate(p mr.Ptr, size uint64, stream mr.Stream) {
	f.upstream.Deallocate(p, size, stream)
}

// IsEqual reports whether other is a FailureCallback adaptor over an equal
// upstream.
func (f *FailureCallback) IsEqual(other mr.Resource) bool {
	o, ok := other.(*FailureCallback)
	return ok && upstreamsEqual(f.upstream, o.upstream)
}

// MemInfo defers to upstream.
func (f *FailureCallback) MemInfo(stream mr.Stream) (free, total uint64) {
	return f.upstream.MemInfo(stream)
}
