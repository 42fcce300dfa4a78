package fixedsize

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gpumr/internal/testutil"
	"github.com/joshuapare/gpumr/mr"
	"github.com/joshuapare/gpumr/mr/binning"
)

func newTestResource(t *testing.T, up mr.Resource, opts ...Option) *Resource {
	t.Helper()
	r, err := New(up, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, r.Close()) })
	return r
}

func TestPreallocatesOneChunk(t *testing.T) {
	up, _ := testutil.SetupUpstream(t)
	r := newTestResource(t, up)

	assert.Equal(t, []uint64{DefaultBlockSize * DefaultBlocksToPreallocate}, up.Requests())
	assert.Equal(t, DefaultBlocksToPreallocate, r.FreeBlocks())
	free, total := r.MemInfo(0)
	assert.Equal(t, total, free)
}

func TestBlocksInAddressOrderAndLIFO(t *testing.T) {
	up, _ := testutil.SetupUpstream(t)
	r := newTestResource(t, up, WithBlockSize(4096), WithBlocksToPreallocate(4))

	a, err := r.Allocate(10, 0)
	require.NoError(t, err)
	b, err := r.Allocate(4096, 0)
	require.NoError(t, err)
	assert.Equal(t, a+4096, b)
	testutil.AssertAligned(t, a)

	r.Deallocate(a, 10, 0)
	c, err := r.Allocate(100, 0)
	require.NoError(t, err)
	assert.Equal(t, a, c, "last freed block is reused first")

	r.Deallocate(b, 4096, 0)
	r.Deallocate(c, 100, 0)
}

func TestGrowsByChunk(t *testing.T) {
	up, _ := testutil.SetupUpstream(t)
	r := newTestResource(t, up, WithBlockSize(1024), WithBlocksToPreallocate(2))

	var ptrs []mr.Ptr
	for range 5 {
		p, err := r.Allocate(1024, 0)
		require.NoError(t, err)
		ptrs = append(ptrs, p)
	}
	assert.Equal(t, []uint64{2048, 2048, 2048}, up.Requests())
	for _, p := range ptrs {
		r.Deallocate(p, 1024, 0)
	}
	assert.Equal(t, 6, r.FreeBlocks())
}

func TestRejectsOversizedRequests(t *testing.T) {
	up, _ := testutil.SetupUpstream(t)
	r := newTestResource(t, up, WithBlockSize(1000))
	assert.Equal(t, uint64(1024), r.BlockSize())

	_, err := r.Allocate(1025, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mr.ErrInvalidArgument))

	p, err := r.Allocate(0, 0)
	require.NoError(t, err)
	assert.Equal(t, mr.NullPtr, p)
}

func TestOptionValidation(t *testing.T) {
	up, _ := testutil.SetupUpstream(t)
	_, err := New(up, WithBlockSize(0))
	assert.True(t, errors.Is(err, mr.ErrInvalidArgument))
	_, err = New(up, WithBlocksToPreallocate(0))
	assert.True(t, errors.Is(err, mr.ErrInvalidArgument))
	_, err = New(nil)
	assert.True(t, errors.Is(err, mr.ErrInvalidArgument))
	_, err = New(up, WithBlockSize(1<<60), WithBlocksToPreallocate(1<<10))
	assert.True(t, errors.Is(err, mr.ErrInvalidArgument))

	small, _ := testutil.SetupUpstreamWithCapacity(t, 1<<20)
	_, err = New(small)
	assert.True(t, errors.Is(err, mr.ErrOutOfMemory))
}

func TestConcurrentAllocate(t *testing.T) {
	up, _ := testutil.SetupUpstream(t)
	r := newTestResource(t, up, WithBlockSize(256), WithBlocksToPreallocate(16))

	var (
		mu  sync.Mutex
		all []mr.Ptr
		wg  sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				p, err := r.Allocate(256, 0)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				all = append(all, p)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	seen := map[mr.Ptr]bool{}
	for _, p := range all {
		assert.False(t, seen[p], "block %s handed out twice", p)
		seen[p] = true
		r.Deallocate(p, 256, 0)
	}
	assert.Len(t, seen, 400)
}

func TestAsBinningBin(t *testing.T) {
	up, _ := testutil.SetupUpstream(t)
	fs := newTestResource(t, up, WithBlockSize(4096), WithBlocksToPreallocate(8))

	b, err := binning.New(up)
	require.NoError(t, err)
	defer b.Close()
	require.NoError(t, b.AddBin(4096, fs))

	before := fs.FreeBlocks()
	p, err := b.Allocate(3000, 0)
	require.NoError(t, err)
	assert.Equal(t, before-1, fs.FreeBlocks())
	b.Deallocate(p, 3000, 0)
	assert.Equal(t, before, fs.FreeBlocks())
}
