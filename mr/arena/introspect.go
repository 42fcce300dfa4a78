package arena

import (
	"slices"

	"github.com/joshuapare/gpumr/internal/logger"
	"github.com/joshuapare/gpumr/mr"
)

// SuperblockInfo describes one superblock at a point in time.
type SuperblockInfo struct {
	Addr      mr.Ptr
	Size      uint64
	Allocated uint64
	FreeBytes uint64
	Largest   uint64 // largest free block
	Global    bool   // owned by the global arena
	Stream    mr.Stream
}

// Superblocks returns a snapshot of every superblock ordered by address.
func (r *Resource) Superblocks() []SuperblockInfo {
	supers := r.index.all()
	out := make([]SuperblockInfo, 0, len(supers))
	for _, sb := range supers {
		a := lockOwner(sb)
		out = append(out, SuperblockInfo{
			Addr:      mr.Ptr(sb.addr),
			Size:      sb.size,
			Allocated: sb.allocated,
			FreeBytes: sb.free.TotalBytes(),
			Largest:   sb.free.Largest(),
			Global:    a.global,
			Stream:    a.stream,
		})
		a.mu.Unlock()
	}
	return out
}

// Arenas returns the streams that currently have an arena.
func (r *Resource) Arenas() []mr.Stream {
	r.regMu.RLock()
	defer r.regMu.RUnlock()
	out := make([]mr.Stream, 0, len(r.arenas))
	for s := range r.arenas {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

func (r *Resource) dump(size uint64, stream mr.Stream) {
	infos := r.Superblocks()
	logger.Error("arena allocation failed",
		"size", size,
		"stream", stream,
		"held", r.held.Load(),
		"superblocks", len(infos),
		"arenas", len(r.Arenas()),
	)
	for _, sb := range infos {
		owner := "global"
		if !sb.Global {
			owner = sb.Stream.String()
		}
		logger.Error("arena superblock",
			"addr", sb.Addr,
			"size", mr.FormatBytes(sb.Size),
			"allocated", sb.Allocated,
			"largest_free", sb.Largest,
			"owner", owner,
		)
	}
}
