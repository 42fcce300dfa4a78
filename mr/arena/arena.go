// Package arena implements a resource that spreads superblocks across
// per-stream arenas.
//
// Each stream allocates from its own arena under its own lock, so streams
// driven by different goroutines do not contend. Superblocks are taken from
// upstream in units of the superblock size and move between arenas through a
// shared global arena:
//
//   - a superblock that becomes wholly free is handed back to the global arena,
//     unless it is the last one its arena holds
//   - ReleaseArena hands every superblock of a stream to the global arena,
//     including those still in use
//   - when upstream is exhausted, wholly free superblocks kept warm by other
//     arenas are reclaimed
//
// Lock order is global arena before stream arena. A stream arena never takes
// the global lock while holding its own, and reclaiming from another arena
// only ever uses TryLock.
package arena

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"github.com/joshuapare/gpumr/internal/checked"
	"github.com/joshuapare/gpumr/internal/logger"
	"github.com/joshuapare/gpumr/mr"
)

// arena is a set of superblocks owned by one stream, or by the global arena.
type arena struct {
	_      cpu.CacheLinePad
	mu     sync.Mutex
	stream mr.Stream
	global bool
	supers []*superblock
	_      cpu.CacheLinePad
}

func (a *arena) attach(sb *superblock) {
	sb.owner.Store(a)
	a.supers = append(a.supers, sb)
}

func (a *arena) detach(sb *superblock) {
	a.supers = slices.DeleteFunc(a.supers, func(s *superblock) bool { return s == sb })
}

// bestFit returns the superblock holding the smallest free block of at least
// need bytes.
func (a *arena) bestFit(need uint64) *superblock {
	var (
		best     *superblock
		bestSize uint64
	)
	for _, sb := range a.supers {
		if b, ok := sb.free.Peek(need); ok && (best == nil || b.Size < bestSize) {
			best, bestSize = sb, b.Size
		}
	}
	return best
}

// Resource is an arena resource.
type Resource struct {
	upstream       mr.Resource
	superblockSize uint64
	maximum        uint64
	owned          bool
	dumpOnFailure  bool

	global arena
	index  index
	held   atomic.Uint64 // bytes held from upstream

	regMu  sync.RWMutex
	arenas map[mr.Stream]*arena

	closed atomic.Bool
}

var (
	_ mr.Resource   = (*Resource)(nil)
	_ mr.Upstreamer = (*Resource)(nil)
	_ io.Closer     = (*Resource)(nil)
)

// New creates an arena resource over upstream.
func New(upstream mr.Resource, opts ...Option) (*Resource, error) {
	if upstream == nil {
		return nil, fmt.Errorf("%w: arena upstream is nil", mr.ErrInvalidArgument)
	}
	cfg := config{superblockSize: DefaultSuperblockSize}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if cfg.maximum != 0 && cfg.maximum < cfg.superblockSize {
		return nil, fmt.Errorf("%w: maximum arena size %d is smaller than one superblock",
			mr.ErrInvalidArgument, cfg.maximum)
	}

	r := &Resource{
		upstream:       upstream,
		superblockSize: cfg.superblockSize,
		maximum:        cfg.maximum,
		owned:          cfg.owned,
		dumpOnFailure:  cfg.dumpOnFailure,
		arenas:         make(map[mr.Stream]*arena),
	}
	r.global.global = true
	return r, nil
}

// Upstream returns the resource superblocks come from.
func (r *Resource) Upstream() mr.Resource { return r.upstream }

// SuperblockSize returns the configured superblock size.
func (r *Resource) SuperblockSize() uint64 { return r.superblockSize }

func (r *Resource) arenaFor(stream mr.Stream) *arena {
	r.regMu.RLock()
	a, ok := r.arenas[stream]
	r.regMu.RUnlock()
	if ok {
		return a
	}

	r.regMu.Lock()
	defer r.regMu.Unlock()
	if a, ok = r.arenas[stream]; !ok {
		a = &arena{stream: stream}
		r.arenas[stream] = a
	}
	return a
}

var errClosed = fmt.Errorf("%w: allocate on closed arena resource", mr.ErrLogic)

// Allocate satisfies mr.Resource.
func (r *Resource) Allocate(size uint64, stream mr.Stream) (mr.Ptr, error) {
	if size == 0 {
		return mr.NullPtr, nil
	}
	if err := mr.CheckSize(size); err != nil {
		return mr.NullPtr, err
	}
	if r.closed.Load() {
		return mr.NullPtr, errClosed
	}
	need := mr.AlignedSize(size)
	a := r.arenaFor(stream)

	a.mu.Lock()
	if sb := a.bestFit(need); sb != nil {
		p, _ := sb.carve(need)
		a.mu.Unlock()
		return p, nil
	}
	a.mu.Unlock()

	if p, ok := r.adoptFromGlobal(a, need, false); ok {
		return p, nil
	}

	p, err := r.growFromUpstream(a, need, stream)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, mr.ErrOutOfMemory) {
		return mr.NullPtr, err
	}

	if p, ok := r.adoptFromGlobal(a, need, true); ok {
		return p, nil
	}

	// Hand wholly free superblocks back and try upstream once more; a larger
	// superblock may fit where several small free ones did not.
	if r.releaseFreeGlobal() > 0 {
		if p, err2 := r.growFromUpstream(a, need, stream); err2 == nil {
			return p, nil
		}
	}

	if r.dumpOnFailure {
		r.dump(size, stream)
	}
	return mr.NullPtr, err
}

// adoptFromGlobal moves a global superblock that fits need into a and carves
// from it. With reclaim set, wholly free superblocks kept by other arenas are
// pulled into the global arena first when nothing there fits.
func (r *Resource) adoptFromGlobal(a *arena, need uint64, reclaim bool) (mr.Ptr, bool) {
	g := &r.global
	g.mu.Lock()
	defer g.mu.Unlock()

	sb := g.bestFit(need)
	if sb == nil && reclaim {
		sb = r.reclaimLocked(a, need)
	}
	if sb == nil {
		return mr.NullPtr, false
	}
	g.detach(sb)

	a.mu.Lock()
	a.attach(sb)
	p, ok := sb.carve(need)
	a.mu.Unlock()
	mr.Assertf(ok, "adopted superblock no longer fits %d bytes", need)
	return p, ok
}

// reclaimLocked moves one wholly free superblock of at least need bytes from
// another arena into the global arena. The caller holds the global lock.
func (r *Resource) reclaimLocked(self *arena, need uint64) *superblock {
	r.regMu.RLock()
	donors := make([]*arena, 0, len(r.arenas))
	for _, a := range r.arenas {
		if a != self {
			donors = append(donors, a)
		}
	}
	r.regMu.RUnlock()

	for _, d := range donors {
		if !d.mu.TryLock() {
			continue
		}
		for _, sb := range d.supers {
			if sb.empty() && sb.size >= need {
				d.detach(sb)
				r.global.attach(sb)
				d.mu.Unlock()
				logger.Debug("arena superblock reclaimed", "from", d.stream, "size", sb.size)
				return sb
			}
		}
		d.mu.Unlock()
	}
	return nil
}

// growFromUpstream takes a new superblock large enough for need and carves
// from it in a.
func (r *Resource) growFromUpstream(a *arena, need uint64, stream mr.Stream) (mr.Ptr, error) {
	size, ok := checked.RoundUp(need, r.superblockSize)
	if !ok {
		return mr.NullPtr, mr.OutOfMemory("superblock size overflows", need)
	}
	if !r.reserve(size) {
		return mr.NullPtr, mr.OutOfMemory("maximum arena size exceeded", need)
	}
	base, err := r.upstream.Allocate(size, stream)
	if err != nil {
		r.held.Add(-size)
		return mr.NullPtr, err
	}
	if r.closed.Load() {
		r.upstream.Deallocate(base, size, stream)
		r.held.Add(-size)
		return mr.NullPtr, errClosed
	}

	sb := newSuperblock(uintptr(base), size)
	sb.owner.Store(a)
	r.index.insert(sb)

	a.mu.Lock()
	a.attach(sb)
	p, _ := sb.carve(need)
	a.mu.Unlock()

	logger.Debug("arena superblock allocated", "stream", stream, "size", size, "held", r.held.Load())
	return p, nil
}

func (r *Resource) reserve(size uint64) bool {
	for {
		held := r.held.Load()
		if r.maximum != 0 && (held > r.maximum || size > r.maximum-held) {
			return false
		}
		if r.held.CompareAndSwap(held, held+size) {
			return true
		}
	}
}

// releaseFreeGlobal returns wholly free global superblocks to upstream.
func (r *Resource) releaseFreeGlobal() uint64 {
	g := &r.global
	g.mu.Lock()
	var drop []*superblock
	for _, sb := range g.supers {
		if sb.empty() {
			drop = append(drop, sb)
		}
	}
	for _, sb := range drop {
		g.detach(sb)
	}
	g.mu.Unlock()

	return r.releaseUpstream(drop)
}

func (r *Resource) releaseUpstream(drop []*superblock) uint64 {
	if len(drop) == 0 {
		return 0
	}
	set := make(map[*superblock]bool, len(drop))
	var released uint64
	for _, sb := range drop {
		set[sb] = true
		released += sb.size
	}
	r.index.remove(set)
	for _, sb := range drop {
		r.upstream.Deallocate(mr.Ptr(sb.addr), sb.size, mr.DefaultStream)
	}
	r.held.Add(-released)
	return released
}

// lockOwner locks and returns the arena that currently owns sb.
func lockOwner(sb *superblock) *arena {
	for {
		a := sb.owner.Load()
		a.mu.Lock()
		if sb.owner.Load() == a {
			return a
		}
		a.mu.Unlock()
	}
}

// Deallocate satisfies mr.Resource. The block goes back to the arena that
// owns its superblock, which need not be the arena of stream.
func (r *Resource) Deallocate(p mr.Ptr, size uint64, stream mr.Stream) {
	if p == mr.NullPtr {
		mr.Assertf(size == 0, "null pointer deallocated with size %d", size)
		return
	}
	sb := r.index.lookup(uintptr(p))
	if sb == nil {
		mr.Assertf(false, "pointer %s was not allocated by this arena resource", p)
		logger.Error("arena deallocate of unknown pointer", "ptr", p, "size", size, "stream", stream)
		return
	}

	a := lockOwner(sb)
	sb.release(p, mr.AlignedSize(size))
	returned := !a.global && sb.empty() && len(a.supers) > 1
	if returned {
		a.detach(sb)
		sb.owner.Store(&r.global)
	}
	a.mu.Unlock()

	if returned {
		r.global.mu.Lock()
		r.global.supers = append(r.global.supers, sb)
		r.global.mu.Unlock()
	}
}

// ReleaseArena hands every superblock of stream to the global arena and
// forgets the stream. Blocks still in use stay valid and are returned to the
// global arena when freed. The stream must not be allocating concurrently.
func (r *Resource) ReleaseArena(stream mr.Stream) {
	r.regMu.Lock()
	a, ok := r.arenas[stream]
	delete(r.arenas, stream)
	r.regMu.Unlock()
	if !ok {
		return
	}

	r.global.mu.Lock()
	defer r.global.mu.Unlock()
	a.mu.Lock()
	supers := a.supers
	a.supers = nil
	for _, sb := range supers {
		r.global.attach(sb)
	}
	a.mu.Unlock()

	logger.Debug("arena released", "stream", stream, "superblocks", len(supers))
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

// HeldBytes returns the bytes currently held from upstream.
func (r *Resource) HeldBytes() uint64 { return r.held.Load() }

// Close returns every superblock to upstream. Outstanding allocations become
// invalid.
func (r *Resource) Close() error {
	if r.closed.Swap(true) {
		return nil
	}

	supers := slices.Clone(r.index.all())
	var outstanding uint64
	for _, sb := range supers {
		a := lockOwner(sb)
		outstanding += sb.allocated
		a.mu.Unlock()
	}
	if outstanding != 0 {
		mr.Assertf(false, "arena resource closed with %d bytes outstanding", outstanding)
		logger.Error("arena resource closed with outstanding allocations", "bytes", outstanding)
	}

	r.regMu.Lock()
	r.arenas = make(map[mr.Stream]*arena)
	r.regMu.Unlock()
	r.global.mu.Lock()
	r.global.supers = nil
	r.global.mu.Unlock()

	r.releaseUpstream(supers)

	if c, ok := r.upstream.(io.Closer); ok && r.owned {
		return c.Close()
	}
	return nil
}
