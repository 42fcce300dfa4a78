// Package freelist implements the coalescing free list shared by the pool and
// arena resources.
//
// Free blocks are kept in a slice ordered by size then address, which gives
// best-fit search by binary search, mirrored by two address indexes (start and
// end offsets) that find physical neighbours in O(1) when a block is returned.
//
// Lists are not safe for concurrent use; owners guard them with their own lock.
package freelist

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
)

// ErrCorrupt is returned by Check when the indexes disagree or blocks overlap.
var ErrCorrupt = errors.New("freelist: corrupt")

// Block is a contiguous extent of device memory.
type Block struct {
	Addr uintptr
	Size uint64
	// Head marks the first block of a distinct upstream allocation. A head
	// block never merges with the block physically before it, so upstream
	// allocations can always be handed back intact.
	Head bool
}

// End returns the address one past the block.
func (b Block) End() uintptr {
	return b.Addr + uintptr(b.Size)
}

// Contains reports whether addr lies inside the block.
func (b Block) Contains(addr uintptr) bool {
	return addr >= b.Addr && addr < b.End()
}

// MergeableWith reports whether next starts exactly where b ends and may be
// merged into it.
func (b Block) MergeableWith(next Block) bool {
	return b.End() == next.Addr && !next.Head
}

// Split carves size bytes off the front of b. The remainder is empty when
// size == b.Size.
func (b Block) Split(size uint64) (Block, Block) {
	head := Block{Addr: b.Addr, Size: size, Head: b.Head}
	rest := Block{Addr: b.Addr + uintptr(size), Size: b.Size - size}
	return head, rest
}

func (b Block) String() string {
	return fmt.Sprintf("[0x%x+%d]", b.Addr, b.Size)
}

// List is a coalescing free list.
type List struct {
	bySize []Block             // ordered by (Size, Addr)
	byAddr map[uintptr]Block   // start -> block
	byEnd  map[uintptr]uintptr // end -> start
	total  uint64

	// statistics for tests and debugging
	merges int
}

// New returns an empty list.
func New() *List {
	return &List{
		byAddr: make(map[uintptr]Block),
		byEnd:  make(map[uintptr]uintptr),
	}
}

// Len returns the number of free blocks.
func (l *List) Len() int { return len(l.bySize) }

// TotalBytes returns the sum of all free block sizes.
func (l *List) TotalBytes() uint64 { return l.total }

// Merges returns how many coalesce operations have happened.
func (l *List) Merges() int { return l.merges }

// Largest returns the size of the largest free block, or 0.
func (l *List) Largest() uint64 {
	if len(l.bySize) == 0 {
		return 0
	}
	return l.bySize[len(l.bySize)-1].Size
}

// Insert adds b to the list, merging it with free neighbours on both sides.
// The (possibly grown) block that ends up in the list is returned.
func (l *List) Insert(b Block) Block {
	if b.Size == 0 {
		return b
	}

	if next, ok := l.byAddr[b.End()]; ok && b.MergeableWith(next) {
		l.remove(next)
		b.Size += next.Size
		l.merges++
	}

	if start, ok := l.byEnd[b.Addr]; ok {
		if prev := l.byAddr[start]; prev.MergeableWith(b) {
			l.remove(prev)
			prev.Size += b.Size
			b = prev
			l.merges++
		}
	}

	l.add(b)
	return b
}

// BestFit removes and returns the smallest block of at least size bytes,
// preferring the lowest address among equal sizes.
func (l *List) BestFit(size uint64) (Block, bool) {
	i, _ := slices.BinarySearchFunc(l.bySize, Block{Size: size}, compareSizeAddr)
	if i == len(l.bySize) {
		return Block{}, false
	}
	b := l.bySize[i]
	l.remove(b)
	return b, true
}

// Peek returns the block BestFit would remove without removing it.
func (l *List) Peek(size uint64) (Block, bool) {
	i, _ := slices.BinarySearchFunc(l.bySize, Block{Size: size}, compareSizeAddr)
	if i == len(l.bySize) {
		return Block{}, false
	}
	return l.bySize[i], true
}

// Get returns the free block starting at addr.
func (l *List) Get(addr uintptr) (Block, bool) {
	b, ok := l.byAddr[addr]
	return b, ok
}

// Remove removes and returns the free block starting at addr.
func (l *List) Remove(addr uintptr) (Block, bool) {
	b, ok := l.byAddr[addr]
	if !ok {
		return Block{}, false
	}
	l.remove(b)
	return b, true
}

// Blocks returns a copy of the free blocks ordered by address.
func (l *List) Blocks() []Block {
	out := slices.Clone(l.bySize)
	slices.SortFunc(out, func(a, b Block) int { return cmp.Compare(a.Addr, b.Addr) })
	return out
}

// Check verifies the indexes agree with each other and that no two free
// blocks overlap.
func (l *List) Check() error {
	if len(l.byAddr) != len(l.bySize) || len(l.byEnd) != len(l.bySize) {
		return fmt.Errorf("%w: index sizes %d/%d/%d", ErrCorrupt, len(l.bySize), len(l.byAddr), len(l.byEnd))
	}
	if !slices.IsSortedFunc(l.bySize, compareSizeAddr) {
		return fmt.Errorf("%w: size order broken", ErrCorrupt)
	}

	var total uint64
	blocks := l.Blocks()
	for i, b := range blocks {
		total += b.Size
		if got, ok := l.byAddr[b.Addr]; !ok || got != b {
			return fmt.Errorf("%w: %s missing from address index", ErrCorrupt, b)
		}
		if start, ok := l.byEnd[b.End()]; !ok || start != b.Addr {
			return fmt.Errorf("%w: %s missing from end index", ErrCorrupt, b)
		}
		if i > 0 && blocks[i-1].End() > b.Addr {
			return fmt.Errorf("%w: %s overlaps %s", ErrCorrupt, blocks[i-1], b)
		}
	}
	if total != l.total {
		return fmt.Errorf("%w: total %d, counted %d", ErrCorrupt, l.total, total)
	}
	return nil
}

func (l *List) add(b Block) {
	i, _ := slices.BinarySearchFunc(l.bySize, b, compareSizeAddr)
	l.bySize = slices.Insert(l.bySize, i, b)
	l.byAddr[b.Addr] = b
	l.byEnd[b.End()] = b.Addr
	l.total += b.Size
}

func (l *List) remove(b Block) {
	i, found := slices.BinarySearchFunc(l.bySize, b, compareSizeAddr)
	if found {
		l.bySize = slices.Delete(l.bySize, i, i+1)
	}
	delete(l.byAddr, b.Addr)
	delete(l.byEnd, b.End())
	l.total -= b.Size
}

func compareSizeAddr(a, b Block) int {
	if c := cmp.Compare(a.Size, b.Size); c != 0 {
		return c
	}
	return cmp.Compare(a.Addr, b.Addr)
}
