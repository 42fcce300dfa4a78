package testutil

import (
	"errors"
	"math/rand"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gpumr/mr"
	"github.com/joshuapare/gpumr/mr/align"
)

// Factory builds a fresh resource for one conformance test.
type Factory func(t *testing.T) mr.Resource

// Sizes exercised by the fixed-size allocation tests.
const (
	Size4B   uint64 = 4
	Size1KiB uint64 = 1 << 10
	Size1MiB uint64 = 1 << 20
	Size1GiB uint64 = 1 << 30

	// TooLarge exceeds any simulated device the tests create.
	TooLarge uint64 = 1 << 50
)

// Allocation is a live region recorded by a test.
type Allocation struct {
	P    mr.Ptr
	Size uint64
}

// RunResourceTests runs the behaviour every resource must share.
func RunResourceTests(t *testing.T, newResource Factory) {
	t.Run("SelfEquality", func(t *testing.T) {
		r := newResource(t)
		assert.True(t, r.IsEqual(r))
		assert.True(t, mr.Equal(r, r))
	})

	t.Run("ZeroSize", func(t *testing.T) {
		r := newResource(t)
		p, err := r.Allocate(0, mr.DefaultStream)
		require.NoError(t, err)
		assert.Equal(t, mr.NullPtr, p)
		r.Deallocate(p, 0, mr.DefaultStream)
	})

	t.Run("FixedSizes", func(t *testing.T) {
		r := newResource(t)
		for _, size := range []uint64{Size4B, Size1KiB, Size1MiB, Size1GiB} {
			p, err := r.Allocate(size, mr.DefaultStream)
			require.NoError(t, err, "size %d", size)
			require.NotEqual(t, mr.NullPtr, p)
			AssertAligned(t, p)
			r.Deallocate(p, size, mr.DefaultStream)
		}
	})

	t.Run("TooLarge", func(t *testing.T) {
		r := newResource(t)
		_, err := r.Allocate(TooLarge, mr.DefaultStream)
		require.Error(t, err)
		assert.True(t, errors.Is(err, mr.ErrOutOfMemory), "got %v", err)
	})

	t.Run("RandomAllocations", func(t *testing.T) {
		r := newResource(t)
		rng := rand.New(rand.NewSource(1))

		live := make([]Allocation, 0, 100)
		for range 100 {
			size := uint64(rng.Intn(int(Size1MiB))) + 1
			p, err := r.Allocate(size, mr.DefaultStream)
			require.NoError(t, err)
			AssertAligned(t, p)
			live = append(live, Allocation{p, size})
		}
		AssertNoOverlap(t, live)

		rng.Shuffle(len(live), func(i, j int) { live[i], live[j] = live[j], live[i] })
		for _, a := range live {
			r.Deallocate(a.P, a.Size, mr.DefaultStream)
		}
	})

	t.Run("MixedRandomAllocationFree", func(t *testing.T) {
		r := newResource(t)
		rng := rand.New(rand.NewSource(2))

		var live []Allocation
		for range 1000 {
			if len(live) == 0 || rng.Intn(3) > 0 {
				size := uint64(rng.Intn(int(Size1MiB))) + 1
				p, err := r.Allocate(size, mr.DefaultStream)
				require.NoError(t, err)
				live = append(live, Allocation{p, size})
				continue
			}
			i := rng.Intn(len(live))
			r.Deallocate(live[i].P, live[i].Size, mr.DefaultStream)
			live = slices.Delete(live, i, i+1)
		}
		AssertNoOverlap(t, live)
		for _, a := range live {
			r.Deallocate(a.P, a.Size, mr.DefaultStream)
		}
	})

	t.Run("Streams", func(t *testing.T) {
		r := newResource(t)
		streams := []mr.Stream{mr.DefaultStream, 1, 2, 3}

		var live []Allocation
		for _, s := range streams {
			for _, size := range []uint64{100, 5000, 300000} {
				p, err := r.Allocate(size, s)
				require.NoError(t, err)
				live = append(live, Allocation{p, size})
			}
		}
		AssertNoOverlap(t, live)
		for i, a := range live {
			r.Deallocate(a.P, a.Size, streams[i/3])
		}
	})

	t.Run("Concurrent", func(t *testing.T) {
		r := newResource(t)
		const goroutines, cycles = 8, 200

		var (
			mu   sync.Mutex
			seen = make(map[mr.Ptr]bool)
			wg   sync.WaitGroup
			errs = make(chan error, goroutines)
		)
		for g := range goroutines {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				rng := rand.New(rand.NewSource(int64(g)))
				stream := mr.Stream(g % 4)
				for range cycles {
					size := uint64(rng.Intn(64<<10)) + 1
					p, err := r.Allocate(size, stream)
					if err != nil {
						errs <- err
						return
					}
					mu.Lock()
					dup := seen[p]
					seen[p] = true
					mu.Unlock()
					if dup {
						errs <- errors.New("pointer handed out twice: " + p.String())
						return
					}
					mu.Lock()
					delete(seen, p)
					mu.Unlock()
					r.Deallocate(p, size, stream)
				}
			}(g)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
	})

	t.Run("MemInfo", func(t *testing.T) {
		r := newResource(t)
		free, total := r.MemInfo(mr.DefaultStream)
		assert.LessOrEqual(t, free, total)
	})
}

// AssertAligned checks that p satisfies the device alignment.
func AssertAligned(t *testing.T, p mr.Ptr) {
	t.Helper()
	assert.True(t, align.IsPointerAligned(uintptr(p), align.DeviceAlignment), "pointer %s is not aligned", p)
}

// AssertNoOverlap checks that no two live allocations overlap.
func AssertNoOverlap(t *testing.T, live []Allocation) {
	t.Helper()
	sorted := slices.Clone(live)
	slices.SortFunc(sorted, func(a, b Allocation) int {
		switch {
		case a.P < b.P:
			return -1
		case a.P > b.P:
			return 1
		}
		return 0
	})
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		assert.LessOrEqual(t, uintptr(prev.P)+uintptr(prev.Size), uintptr(cur.P),
			"allocation %s+%d overlaps %s", prev.P, prev.Size, cur.P)
	}
}
