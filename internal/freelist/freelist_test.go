package freelist

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const base uintptr = 0x10000

func TestBestFitPrefersSmallestThenLowest(t *testing.T) {
	l := New()
	l.Insert(Block{Addr: base + 0x4000, Size: 512, Head: true})
	l.Insert(Block{Addr: base, Size: 1024, Head: true})
	l.Insert(Block{Addr: base + 0x2000, Size: 512, Head: true})
	require.NoError(t, l.Check())

	b, ok := l.BestFit(300)
	require.True(t, ok)
	assert.Equal(t, base+0x2000, b.Addr, "lowest address among equal sizes")
	assert.Equal(t, uint64(512), b.Size)

	b, ok = l.BestFit(600)
	require.True(t, ok)
	assert.Equal(t, base, b.Addr)

	_, ok = l.BestFit(600)
	assert.False(t, ok)
	assert.Equal(t, 1, l.Len())
	require.NoError(t, l.Check())
}

func TestPeekLeavesBlock(t *testing.T) {
	l := New()
	l.Insert(Block{Addr: base, Size: 1024, Head: true})

	b, ok := l.Peek(512)
	require.True(t, ok)
	assert.Equal(t, base, b.Addr)
	assert.Equal(t, 1, l.Len())

	_, ok = l.Peek(2048)
	assert.False(t, ok)
}

func TestCoalesceForward(t *testing.T) {
	l := New()
	l.Insert(Block{Addr: base + 256, Size: 256})
	got := l.Insert(Block{Addr: base, Size: 256, Head: true})

	assert.Equal(t, Block{Addr: base, Size: 512, Head: true}, got)
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, 1, l.Merges())
	require.NoError(t, l.Check())
}

func TestCoalesceBackward(t *testing.T) {
	l := New()
	l.Insert(Block{Addr: base, Size: 256, Head: true})
	got := l.Insert(Block{Addr: base + 256, Size: 768})

	assert.Equal(t, Block{Addr: base, Size: 1024, Head: true}, got)
	assert.Equal(t, uint64(1024), l.TotalBytes())
	require.NoError(t, l.Check())
}

func TestCoalesceBidirectional(t *testing.T) {
	l := New()
	l.Insert(Block{Addr: base, Size: 256, Head: true})
	l.Insert(Block{Addr: base + 512, Size: 256})
	got := l.Insert(Block{Addr: base + 256, Size: 256})

	assert.Equal(t, Block{Addr: base, Size: 768, Head: true}, got)
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, 2, l.Merges())
	require.NoError(t, l.Check())
}

func TestHeadBlocksDoNotMergeBackward(t *testing.T) {
	l := New()
	// Two upstream allocations that happen to be contiguous.
	l.Insert(Block{Addr: base, Size: 1024, Head: true})
	l.Insert(Block{Addr: base + 1024, Size: 1024, Head: true})

	assert.Equal(t, 2, l.Len())
	assert.Equal(t, uint64(1024), l.Largest())
	require.NoError(t, l.Check())
}

func TestSplit(t *testing.T) {
	b := Block{Addr: base, Size: 1024, Head: true}
	head, rest := b.Split(256)
	assert.Equal(t, Block{Addr: base, Size: 256, Head: true}, head)
	assert.Equal(t, Block{Addr: base + 256, Size: 768}, rest)
	assert.True(t, head.MergeableWith(rest))

	head, rest = b.Split(1024)
	assert.Equal(t, b, head)
	assert.Zero(t, rest.Size)
}

func TestRemoveAndGet(t *testing.T) {
	l := New()
	l.Insert(Block{Addr: base, Size: 256, Head: true})

	b, ok := l.Get(base)
	require.True(t, ok)
	assert.Equal(t, uint64(256), b.Size)

	_, ok = l.Remove(base + 1)
	assert.False(t, ok)

	_, ok = l.Remove(base)
	require.True(t, ok)
	assert.Zero(t, l.Len())
	assert.Zero(t, l.TotalBytes())
	require.NoError(t, l.Check())
}

// TestRandomSplitMergeRestoresWholeBlock carves a block into random pieces,
// frees them in random order and expects the original extent back.
func TestRandomSplitMergeRestoresWholeBlock(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const total = 1 << 20

	l := New()
	l.Insert(Block{Addr: base, Size: total, Head: true})

	var used []Block
	for {
		size := uint64(rng.Intn(64)+1) * 256
		b, ok := l.BestFit(size)
		if !ok {
			break
		}
		head, rest := b.Split(size)
		if rest.Size > 0 {
			l.Insert(rest)
		}
		used = append(used, head)
	}
	require.NoError(t, l.Check())

	rng.Shuffle(len(used), func(i, j int) { used[i], used[j] = used[j], used[i] })
	for _, b := range used {
		l.Insert(b)
		require.NoError(t, l.Check())
	}

	require.Equal(t, 1, l.Len())
	assert.Equal(t, []Block{{Addr: base, Size: total, Head: true}}, l.Blocks())
}
