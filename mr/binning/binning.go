// Package binning routes allocations to per-size-class resources.
//
// Each bin serves every request no larger than its size class that a smaller
// bin does not take. Requests above the largest bin, or below the configured
// minimum, go to the fallback resource. Deallocation routes by the same size,
// so bins must be configured before memory is allocated through them.
package binning

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/joshuapare/gpumr/internal/logger"
	"github.com/joshuapare/gpumr/mr"
	"github.com/joshuapare/gpumr/mr/pool"
)

// maxBinExponent bounds WithBinRange so 1<<exp stays within a device size.
const maxBinExponent = 62

// Option configures a Resource.
type Option func(*Resource) error

// WithBinRange adds pool-backed bins of 1<<i bytes for every i in
// [minExp, maxExp].
func WithBinRange(minExp, maxExp uint) Option {
	return func(r *Resource) error {
		if minExp > maxExp || maxExp > maxBinExponent {
			return fmt.Errorf("%w: bin exponent range [%d, %d]", mr.ErrInvalidArgument, minExp, maxExp)
		}
		for i := minExp; i <= maxExp; i++ {
			if err := r.AddBin(uint64(1)<<i, nil); err != nil {
				return err
			}
		}
		return nil
	}
}

// WithMinimum sends requests smaller than size straight to the fallback.
func WithMinimum(size uint64) Option {
	return func(r *Resource) error {
		r.minimum = size
		return nil
	}
}

// WithFallback serves requests outside every bin from fb instead of the
// upstream.
func WithFallback(fb mr.Resource) Option {
	return func(r *Resource) error {
		if fb == nil {
			return fmt.Errorf("%w: binning fallback is nil", mr.ErrInvalidArgument)
		}
		r.fallback = fb
		return nil
	}
}

// WithOwnedUpstream makes Close also close the upstream if it is an
// io.Closer.
func WithOwnedUpstream() Option {
	return func(r *Resource) error {
		r.ownUpstream = true
		return nil
	}
}

type bin struct {
	size  uint64
	r     mr.Resource
	owned bool
}

// Bin describes one configured size class.
type Bin struct {
	Size     uint64
	Resource mr.Resource
}

// Resource is a binning resource.
type Resource struct {
	upstream    mr.Resource
	fallback    mr.Resource
	minimum     uint64
	ownUpstream bool

	mu   sync.RWMutex
	bins []bin // ascending by size
}

var (
	_ mr.Resource   = (*Resource)(nil)
	_ mr.Upstreamer = (*Resource)(nil)
	_ io.Closer     = (*Resource)(nil)
)

// New creates a binning resource. Without options it has no bins and sends
// everything to upstream.
func New(upstream mr.Resource, opts ...Option) (*Resource, error) {
	if upstream == nil {
		return nil, fmt.Errorf("%w: binning upstream is nil", mr.ErrInvalidArgument)
	}
	r := &Resource{upstream: upstream, fallback: upstream}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			_ = r.Close()
			return nil, err
		}
	}
	return r, nil
}

// Upstream returns the resource owned bins grow from.
func (r *Resource) Upstream() mr.Resource { return r.upstream }

// Fallback returns the resource serving requests outside every bin.
func (r *Resource) Fallback() mr.Resource { return r.fallback }

// AddBin adds a size class. A nil resource creates a pool over the upstream
// that is closed with the binning resource.
func (r *Resource) AddBin(size uint64, res mr.Resource) error {
	if size == 0 {
		return fmt.Errorf("%w: bin size must be non-zero", mr.ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	i, found := slices.BinarySearchFunc(r.bins, size, compareBin)
	if found {
		return fmt.Errorf("%w: bin of %s already exists", mr.ErrInvalidArgument, mr.FormatBytes(size))
	}

	b := bin{size: size, r: res}
	if res == nil {
		p, err := pool.New(r.upstream)
		if err != nil {
			return err
		}
		b.r, b.owned = p, true
	}
	r.bins = slices.Insert(r.bins, i, b)
	logger.Debug("binning bin added", "size", size, "owned", b.owned)
	return nil
}

// Bins returns the configured size classes in ascending order.
func (r *Resource) Bins() []Bin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Bin, len(r.bins))
	for i, b := range r.bins {
		out[i] = Bin{Size: b.size, Resource: b.r}
	}
	return out
}

// route returns the resource responsible for size.
func (r *Resource) route(size uint64) mr.Resource {
	if size < r.minimum {
		return r.fallback
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, _ := slices.BinarySearchFunc(r.bins, size, compareBin)
	if i == len(r.bins) {
		return r.fallback
	}
	return r.bins[i].r
}

// Allocate satisfies mr.Resource.
func (r *Resource) Allocate(size uint64, stream mr.Stream) (mr.Ptr, error) {
	if size == 0 {
		return mr.NullPtr, nil
	}
	return r.route(size).Allocate(size, stream)
}

// Deallocate satisfies mr.Resource.
func (r *Resource) Deallocate(p mr.Ptr, size uint64, stream mr.Stream) {
	if p == mr.NullPtr {
		return
	}
	r.route(size).Deallocate(p, size, stream)
}

// IsEqual reports identity.
func (r *Resource) IsEqual(other mr.Resource) bool {
	o, ok := other.(*Resource)
	return ok && o == r
}

// MemInfo defers to upstream.
func (r *Resource) MemInfo(stream mr.Stream) (free, total uint64) {
	return r.upstream.MemInfo(stream)
}

// Close closes the bins this resource created, and the upstream when owned.
func (r *Resource) Close() error {
	r.mu.Lock()
	bins := r.bins
	r.bins = nil
	r.mu.Unlock()

	var result *multierror.Error
	for _, b := range bins {
		if !b.owned {
			continue
		}
		if c, ok := b.r.(io.Closer); ok {
			if err := c.Close(); err != nil {
				result = multierror.Append(result, fmt.Errorf("bin %s: %w", mr.FormatBytes(b.size), err))
			}
		}
	}
	if c, ok := r.upstream.(io.Closer); ok && r.ownUpstream {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func compareBin(b bin, size uint64) int {
	return cmp.Compare(b.size, size)
}
