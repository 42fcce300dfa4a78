package arena

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/joshuapare/gpumr/internal/freelist"
	"github.com/joshuapare/gpumr/mr"
)

// superblock is one upstream allocation. Its free list and allocated count
// are guarded by the mutex of whichever arena currently owns it.
type superblock struct {
	addr  uintptr
	size  uint64
	owner atomic.Pointer[arena]

	free      *freelist.List
	allocated uint64
}

func newSuperblock(addr uintptr, size uint64) *superblock {
	sb := &superblock{addr: addr, size: size, free: freelist.New()}
	sb.free.Insert(freelist.Block{Addr: addr, Size: size, Head: true})
	return sb
}

func (sb *superblock) contains(addr uintptr) bool {
	return addr >= sb.addr && addr < sb.addr+uintptr(sb.size)
}

func (sb *superblock) empty() bool { return sb.allocated == 0 }

func (sb *superblock) carve(need uint64) (mr.Ptr, bool) {
	b, ok := sb.free.BestFit(need)
	if !ok {
		return mr.NullPtr, false
	}
	head, rest := b.Split(need)
	sb.free.Insert(rest)
	sb.allocated += need
	return mr.Ptr(head.Addr), true
}

func (sb *superblock) release(p mr.Ptr, need uint64) {
	addr := uintptr(p)
	if mr.DebugChecks {
		_, isFree := sb.free.Get(addr)
		mr.Assertf(!isFree, "double free of %s", p)
		mr.Assertf(addr+uintptr(need) <= sb.addr+uintptr(sb.size), "block %s+%d crosses its superblock", p, need)
	}
	sb.free.Insert(freelist.Block{Addr: addr, Size: need, Head: addr == sb.addr})
	sb.allocated -= need
}

// index maps addresses to superblocks. Readers never lock; writers copy the
// sorted slice under mu and publish it atomically.
type index struct {
	mu   sync.Mutex
	list atomic.Pointer[[]*superblock]
}

func (ix *index) lookup(addr uintptr) *superblock {
	lp := ix.list.Load()
	if lp == nil {
		return nil
	}
	list := *lp
	i, found := slices.BinarySearchFunc(list, addr, compareAddr)
	if !found {
		i--
	}
	if i < 0 || !list[i].contains(addr) {
		return nil
	}
	return list[i]
}

func (ix *index) insert(sb *superblock) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var list []*superblock
	if lp := ix.list.Load(); lp != nil {
		list = slices.Clone(*lp)
	}
	i, _ := slices.BinarySearchFunc(list, sb.addr, compareAddr)
	list = slices.Insert(list, i, sb)
	ix.list.Store(&list)
}

func (ix *index) remove(drop map[*superblock]bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	lp := ix.list.Load()
	if lp == nil {
		return
	}
	list := slices.DeleteFunc(slices.Clone(*lp), func(sb *superblock) bool { return drop[sb] })
	ix.list.Store(&list)
}

func (ix *index) all() []*superblock {
	if lp := ix.list.Load(); lp != nil {
		return *lp
	}
	return nil
}

func compareAddr(sb *superblock, addr uintptr) int {
	return cmp.Compare(sb.addr, addr)
}
