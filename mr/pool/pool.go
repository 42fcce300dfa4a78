// Package pool implements a coalescing sub-allocator over an upstream
// resource.
//
// The pool takes large blocks from its upstream and carves requests out of
// them with a best-fit free list. Freed blocks are merged with free physical
// neighbours, so memory is reusable at any size without going back upstream.
// When nothing fits, the pool grows by at least the current pool size,
// doubling until the configured maximum.
//
// A single free list is shared across streams. A block freed on one stream
// may be handed to a different stream straight away; callers that free on one
// stream and allocate on another must order the two streams themselves.
package pool

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync"

	"github.com/joshuapare/gpumr/internal/freelist"
	"github.com/joshuapare/gpumr/internal/logger"
	"github.com/joshuapare/gpumr/mr"
)

// Pool is a thread-safe pool resource.
type Pool struct {
	upstream mr.Resource
	maximum  uint64
	owned    bool

	mu        sync.Mutex
	free      *freelist.List
	blocks    map[uintptr]uint64 // upstream allocations, start -> size
	poolSize  uint64             // sum of upstream allocations
	pending   uint64             // growth reserved by in-flight upstream calls
	allocated uint64             // aligned bytes handed out
	closed    bool
}

var (
	_ mr.Resource   = (*Pool)(nil)
	_ mr.Upstreamer = (*Pool)(nil)
	_ io.Closer     = (*Pool)(nil)
)

// New creates a pool over upstream.
func New(upstream mr.Resource, opts ...Option) (*Pool, error) {
	if upstream == nil {
		return nil, fmt.Errorf("%w: pool upstream is nil", mr.ErrInvalidArgument)
	}

	var cfg config
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if cfg.maximum != 0 && cfg.initial > cfg.maximum {
		return nil, fmt.Errorf("%w: initial pool size exceeds the maximum pool size", mr.ErrInvalidArgument)
	}

	p := &Pool{
		upstream: upstream,
		maximum:  cfg.maximum,
		owned:    cfg.owned,
		free:     freelist.New(),
		blocks:   make(map[uintptr]uint64),
	}
	if cfg.initial > 0 {
		b, err := p.upstream.Allocate(cfg.initial, mr.DefaultStream)
		if err != nil {
			return nil, fmt.Errorf("pool: initial growth: %w", err)
		}
		p.addUpstreamBlock(uintptr(b), cfg.initial)
	}
	return p, nil
}

// Upstream returns the resource the pool grows from.
func (p *Pool) Upstream() mr.Resource { return p.upstream }

var errClosed = fmt.Errorf("%w: allocate on closed pool", mr.ErrLogic)

// Allocate satisfies mr.Resource.
func (p *Pool) Allocate(size uint64, stream mr.Stream) (mr.Ptr, error) {
	if size == 0 {
		return mr.NullPtr, nil
	}
	if err := mr.CheckSize(size); err != nil {
		return mr.NullPtr, err
	}
	need := mr.AlignedSize(size)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return mr.NullPtr, errClosed
	}
	if b, ok := p.free.BestFit(need); ok {
		ptr := p.carve(b, need)
		p.mu.Unlock()
		return ptr, nil
	}
	grow, err := p.reserveGrowth(need)
	p.mu.Unlock()
	if err != nil {
		return mr.NullPtr, err
	}

	base, got, err := p.growUpstream(need, grow, stream)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending -= grow
	if err != nil {
		return mr.NullPtr, err
	}
	if p.closed {
		p.upstream.Deallocate(mr.Ptr(base), got, stream)
		return mr.NullPtr, errClosed
	}
	p.blocks[base] = got
	p.poolSize += got
	logger.Debug("pool grew", "by", got, "pool_size", p.poolSize, "request", size, "stream", stream)
	return p.carve(freelist.Block{Addr: base, Size: got, Head: true}, need), nil
}

// reserveGrowth picks how much to request from upstream and reserves it
// against the maximum. The caller holds p.mu.
func (p *Pool) reserveGrowth(need uint64) (uint64, error) {
	grow := max(need, p.poolSize)
	if p.maximum != 0 {
		used := p.poolSize + p.pending
		var remaining uint64
		if used < p.maximum {
			remaining = p.maximum - used
		}
		if need > remaining {
			return 0, mr.OutOfMemory("maximum pool size exceeded", need)
		}
		grow = min(grow, remaining)
	}
	p.pending += grow
	return grow, nil
}

// growUpstream asks upstream for grow bytes, halving on out-of-memory until
// the request would no longer cover need.
func (p *Pool) growUpstream(need, grow uint64, stream mr.Stream) (uintptr, uint64, error) {
	for {
		b, err := p.upstream.Allocate(grow, stream)
		if err == nil {
			return uintptr(b), grow, nil
		}
		if grow == need || !errors.Is(err, mr.ErrOutOfMemory) {
			return 0, 0, err
		}
		grow = max(need, mr.AlignedSize(grow/2))
	}
}

// carve hands out the front of b and returns the remainder to the free list.
// The caller holds p.mu.
func (p *Pool) carve(b freelist.Block, need uint64) mr.Ptr {
	head, rest := b.Split(need)
	p.free.Insert(rest)
	p.allocated += need
	return mr.Ptr(head.Addr)
}

// Deallocate satisfies mr.Resource.
func (p *Pool) Deallocate(ptr mr.Ptr, size uint64, stream mr.Stream) {
	if ptr == mr.NullPtr {
		mr.Assertf(size == 0, "null pointer deallocated with size %d", size)
		return
	}
	need := mr.AlignedSize(size)

	p.mu.Lock()
	defer p.mu.Unlock()

	addr := uintptr(ptr)
	if mr.DebugChecks {
		_, isFree := p.free.Get(addr)
		mr.Assertf(!isFree, "double free of %s", ptr)
		mr.Assertf(p.owns(addr, need), "pointer %s+%d was not allocated by this pool", ptr, size)
	}
	_, head := p.blocks[addr]
	p.free.Insert(freelist.Block{Addr: addr, Size: need, Head: head})
	p.allocated -= need
}

// owns reports whether [addr, addr+size) lies inside one upstream block.
func (p *Pool) owns(addr uintptr, size uint64) bool {
	for start, n := range p.blocks {
		if addr >= start && addr+uintptr(size) <= start+uintptr(n) {
			return true
		}
	}
	return false
}

// IsEqual reports identity; memory from one pool cannot be freed into another.
func (p *Pool) IsEqual(other mr.Resource) bool {
	o, ok := other.(*Pool)
	return ok && o == p
}

// MemInfo reports the pool's own free bytes against its current size.
func (p *Pool) MemInfo(mr.Stream) (free, total uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free.TotalBytes(), p.poolSize
}

// PoolSize returns the bytes currently held from upstream.
func (p *Pool) PoolSize() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.poolSize
}

// FreeBytes returns the bytes available without growing.
func (p *Pool) FreeBytes() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free.TotalBytes()
}

// AllocatedBytes returns the aligned bytes currently handed out.
func (p *Pool) AllocatedBytes() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated
}

// FreeBlocks returns how many free blocks the pool holds.
func (p *Pool) FreeBlocks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free.Len()
}

// Check verifies the free list. It is intended for tests.
func (p *Pool) Check() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.free.Check(); err != nil {
		return err
	}
	if p.free.TotalBytes()+p.allocated != p.poolSize {
		return fmt.Errorf("%w: free %d + allocated %d != pool size %d",
			freelist.ErrCorrupt, p.free.TotalBytes(), p.allocated, p.poolSize)
	}
	return nil
}

// Trim returns every wholly free upstream block to upstream and reports the
// bytes released.
func (p *Pool) Trim() uint64 {
	p.mu.Lock()
	var release []freelist.Block
	for _, start := range slices.Sorted(maps.Keys(p.blocks)) {
		size := p.blocks[start]
		if b, ok := p.free.Get(start); ok && b.Size == size {
			p.free.Remove(start)
			delete(p.blocks, start)
			p.poolSize -= size
			release = append(release, b)
		}
	}
	p.mu.Unlock()

	var released uint64
	for _, b := range release {
		p.upstream.Deallocate(mr.Ptr(b.Addr), b.Size, mr.DefaultStream)
		released += b.Size
	}
	if released > 0 {
		logger.Debug("pool trimmed", "released", released, "blocks", len(release))
	}
	return released
}

// Close returns all upstream blocks. Outstanding allocations become invalid.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.allocated != 0 {
		mr.Assertf(false, "pool closed with %d bytes outstanding", p.allocated)
		logger.Error("pool closed with outstanding allocations", "bytes", p.allocated)
	}
	blocks := p.blocks
	p.blocks = make(map[uintptr]uint64)
	p.free = freelist.New()
	p.poolSize, p.allocated = 0, 0
	p.mu.Unlock()

	for start, size := range blocks {
		p.upstream.Deallocate(mr.Ptr(start), size, mr.DefaultStream)
	}
	if c, ok := p.upstream.(io.Closer); ok && p.owned {
		return c.Close()
	}
	return nil
}

func (p *Pool) addUpstreamBlock(addr uintptr, size uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blocks[addr] = size
	p.poolSize += size
	p.free.Insert(freelist.Block{Addr: addr, Size: size, Head: true})
}
