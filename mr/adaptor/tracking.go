package adaptor

import (
	"fmt"
	"log/slog"
	"maps"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/joshuapare/gpumr/internal/logger"
	"github.com/joshuapare/gpumr/mr"
)

// maxStackDepth bounds captured allocation stacks.
const maxStackDepth = 32

// AllocationInfo describes one outstanding allocation.
type AllocationInfo struct {
	Size   uint64
	Stream mr.Stream
	Stack  []uintptr // nil unless stacks are captured
}

// Tracking records every outstanding allocation.
type Tracking struct {
	upstream      mr.Resource
	captureStacks bool

	mu        sync.RWMutex
	allocs    map[mr.Ptr]AllocationInfo
	allocated uint64
}

var (
	_ mr.Resource   = (*Tracking)(nil)
	_ mr.Upstreamer = (*Tracking)(nil)
)

// NewTracking wraps upstream. With captureStacks set, the call stack of each
// allocation is kept for OutstandingString. It panics if upstream is nil.
func NewTracking(upstream mr.Resource, captureStacks bool) *Tracking {
	mustUpstream("tracking", upstream)
	return &Tracking{
		upstream:      upstream,
		captureStacks: captureStacks,
		allocs:        make(map[mr.Ptr]AllocationInfo),
	}
}

// Upstream returns the wrapped resource.
func (t *Tracking) Upstream() mr.Resource { return t.upstream }

// Allocate satisfies mr.Resource.
func (t *Tracking) Allocate(size uint64, stream mr.Stream) (mr.Ptr, error) {
	p, err := t.upstream.Allocate(size, stream)
	if err != nil || p == mr.NullPtr {
		return p, err
	}

	info := AllocationInfo{Size: size, Stream: stream}
	if t.captureStacks {
		pcs := make([]uintptr, maxStackDepth)
		info.Stack = pcs[:runtime.Callers(2, pcs)]
	}

	t.mu.Lock()
	t.allocs[p] = info
	t.allocated += size
	t.mu.Unlock()
	return p, nil
}

// Deallocate satisfies mr.Resource.
func (t *Tracking) Deallocate(p mr.Ptr, size uint64, stream mr.Stream) {
	if p != mr.NullPtr {
		t.mu.Lock()
		info, ok := t.allocs[p]
		if ok {
			delete(t.allocs, p)
			t.allocated -= info.Size
		}
		t.mu.Unlock()

		switch {
		case !ok:
			mr.Assertf(false, "deallocating untracked pointer %s", p)
			logger.Warn("tracking: deallocating untracked pointer", "ptr", p, "size", size)
		case info.Size != size:
			mr.Assertf(false, "pointer %s allocated with %d bytes, deallocated with %d", p, info.Size, size)
			logger.Warn("tracking: deallocation size mismatch", "ptr", p, "allocated", info.Size, "size", size)
		}
	}
	t.upstream.Deallocate(p, size, stream)
}

// IsEqual reports whether other is a Tracking adaptor over an equal upstream.
func (t *Tracking) IsEqual(other mr.Resource) bool {
	o, ok := other.(*Tracking)
	return ok && upstreamsEqual(t.upstream, o.upstream)
}

// MemInfo defers to upstream.
func (t *Tracking) MemInfo(stream mr.Stream) (free, total uint64) {
	return t.upstream.MemInfo(stream)
}

// AllocatedBytes returns the requested bytes currently outstanding.
func (t *Tracking) AllocatedBytes() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.allocated
}

// Outstanding returns a copy of the outstanding allocations.
func (t *Tracking) Outstanding() map[mr.Ptr]AllocationInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return maps.Clone(t.allocs)
}

// OutstandingString formats the outstanding allocations, with stacks when
// they were captured. It is empty when nothing is outstanding.
func (t *Tracking) OutstandingString() string {
	allocs := t.Outstanding()
	if len(allocs) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Outstanding Allocations:\n")
	for _, p := range slices.Sorted(maps.Keys(allocs)) {
		info := allocs[p]
		fmt.Fprintf(&sb, "%s: %d B, stream %s\n", p, info.Size, info.Stream)
		if len(info.Stack) == 0 {
			continue
		}
		frames := runtime.CallersFrames(info.Stack)
		for {
			f, more := frames.Next()
			fmt.Fprintf(&sb, "\t%s\n\t\t%s:%d\n", f.Function, f.File, f.Line)
			if !more {
				break
			}
		}
	}
	return sb.String()
}

// LogOutstanding writes the outstanding allocations to the debug log.
func (t *Tracking) LogOutstanding() {
	if !logger.Enabled(slog.LevelDebug) {
		return
	}
	logger.Debug("tracking: outstanding allocations",
		"count", len(t.Outstanding()),
		"bytes", t.AllocatedBytes(),
		"detail", t.OutstandingString(),
	)
}
