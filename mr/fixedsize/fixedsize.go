// Package fixedsize implements a resource that hands out blocks of a single
// size from a stack.
//
// Blocks are carved from upstream chunks of blocksToPreallocate blocks each.
// Every request up to the block size gets one whole block, so allocation and
// deallocation are a push or pop. It suits binning where a size class is
// known in advance.
package fixedsize

import (
	"fmt"
	"io"
	"sync"

	"github.com/joshuapare/gpumr/internal/checked"
	"github.com/joshuapare/gpumr/internal/logger"
	"github.com/joshuapare/gpumr/mr"
	"github.com/joshuapare/gpumr/mr/align"
)

const (
	// DefaultBlockSize is the block size used when none is configured.
	DefaultBlockSize uint64 = 1 << 20

	// DefaultBlocksToPreallocate is how many blocks each upstream chunk holds.
	DefaultBlocksToPreallocate = 128
)

// Option configures a Resource.
type Option func(*Resource) error

// WithBlockSize sets the block size. It is rounded up to the device
// alignment.
func WithBlockSize(size uint64) Option {
	return func(r *Resource) error {
		if size == 0 {
			return fmt.Errorf("%w: block size must be non-zero", mr.ErrInvalidArgument)
		}
		if err := mr.CheckSize(size); err != nil {
			return err
		}
		r.blockSize = align.AlignUp(size, align.DeviceAlignment)
		return nil
	}
}

// WithBlocksToPreallocate sets how many blocks each upstream chunk holds.
func WithBlocksToPreallocate(n int) Option {
	return func(r *Resource) error {
		if n <= 0 {
			return fmt.Errorf("%w: blocks to preallocate must be positive", mr.ErrInvalidArgument)
		}
		r.perChunk = n
		return nil
	}
}

type chunk struct {
	addr mr.Ptr
	size uint64
}

// Resource is a fixed-size block resource.
type Resource struct {
	upstream  mr.Resource
	blockSize uint64
	perChunk  int

	mu     sync.Mutex
	free   []mr.Ptr // LIFO
	chunks []chunk
	inUse  int
}

var (
	_ mr.Resource   = (*Resource)(nil)
	_ mr.Upstreamer = (*Resource)(nil)
	_ io.Closer     = (*Resource)(nil)
)

// New creates a fixed-size resource and takes its first chunk from upstream.
func New(upstream mr.Resource, opts ...Option) (*Resource, error) {
	if upstream == nil {
		return nil, fmt.Errorf("%w: fixed-size upstream is nil", mr.ErrInvalidArgument)
	}
	r := &Resource{
		upstream:  upstream,
		blockSize: DefaultBlockSize,
		perChunk:  DefaultBlocksToPreallocate,
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	if _, ok := checked.Mul(r.blockSize, uint64(r.perChunk)); !ok {
		return nil, fmt.Errorf("%w: %d blocks of %d bytes overflow", mr.ErrInvalidArgument, r.perChunk, r.blockSize)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.growLocked(mr.DefaultStream); err != nil {
		return nil, err
	}
	return r, nil
}

// Upstream returns the resource chunks come from.
func (r *Resource) Upstream() mr.Resource { return r.upstream }

// BlockSize returns the size of every block.
func (r *Resource) BlockSize() uint64 { return r.blockSize }

func (r *Resource) growLocked(stream mr.Stream) error {
	size := r.blockSize * uint64(r.perChunk)
	base, err := r.upstream.Allocate(size, stream)
	if err != nil {
		return err
	}
	r.chunks = append(r.chunks, chunk{addr: base, size: size})
	// push in reverse so blocks are handed out in address order
	for i := r.perChunk - 1; i >= 0; i-- {
		r.free = append(r.free, base+mr.Ptr(uint64(i)*r.blockSize))
	}
	logger.Debug("fixed-size resource grew", "block_size", r.blockSize, "blocks", r.perChunk, "chunks", len(r.chunks))
	return nil
}

// Allocate satisfies mr.Resource. Requests larger than the block size fail
// with mr.ErrInvalidArgument.
func (r *Resource) Allocate(size uint64, stream mr.Stream) (mr.Ptr, error) {
	if size == 0 {
		return mr.NullPtr, nil
	}
	if size > r.blockSize {
		return mr.NullPtr, fmt.Errorf("%w: %s exceeds the block size of %s",
			mr.ErrInvalidArgument, mr.FormatBytes(size), mr.FormatBytes(r.blockSize))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.free) == 0 {
		if err := r.growLocked(stream); err != nil {
			return mr.NullPtr, err
		}
	}
	p := r.free[len(r.free)-1]
	r.free = r.free[:len(r.free)-1]
	r.inUse++
	return p, nil
}

// Deallocate satisfies mr.Resource.
func (r *Resource) Deallocate(p mr.Ptr, size uint64, _ mr.Stream) {
	if p == mr.NullPtr {
		return
	}
	mr.Assertf(size <= r.blockSize, "deallocated size %d exceeds block size %d", size, r.blockSize)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.free = append(r.free, p)
	r.inUse--
}

// IsEqual reports identity.
func (r *Resource) IsEqual(other mr.Resource) bool {
	o, ok := other.(*Resource)
	return ok && o == r
}

// MemInfo reports free blocks against the blocks held.
func (r *Resource) MemInfo(mr.Stream) (free, total uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return uint64(len(r.free)) * r.blockSize, uint64(len(r.chunks)*r.perChunk) * r.blockSize
}

// FreeBlocks returns the number of blocks ready to hand out.
func (r *Resource) FreeBlocks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.free)
}

// Close returns every chunk to upstream.
func (r *Resource) Close() error {
	r.mu.Lock()
	chunks := r.chunks
	if r.inUse != 0 {
		mr.Assertf(false, "fixed-size resource closed with %d blocks outstanding", r.inUse)
		logger.Error("fixed-size resource closed with outstanding blocks", "blocks", r.inUse)
	}
	r.chunks, r.free, r.inUse = nil, nil, 0
	r.mu.Unlock()

	for _, c := range chunks {
		r.upstream.Deallocate(c.addr, c.size, mr.DefaultStream)
	}
	return nil
}
