package adaptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gpumr/internal/testutil"
	"github.com/joshuapare/gpumr/mr"
)

func TestTrackingConformance(t *testing.T) {
	testutil.RunResourceTests(t, func(t *testing.T) mr.Resource {
		up, _ := testutil.SetupUpstream(t)
		return NewTracking(up, false)
	})
}

func TestTrackingNested(t *testing.T) {
	up, _ := testutil.SetupUpstream(t)
	outer := NewTracking(up, true)

	var ptrs []mr.Ptr
	for range 10 {
		p, err := outer.Allocate(1008, mr.DefaultStream)
		require.NoError(t, err)
		ptrs = append(ptrs, p)
	}
	for i := 9; i > 0; i -= 2 {
		outer.Deallocate(ptrs[i], 1008, mr.DefaultStream)
		ptrs = append(ptrs[:i], ptrs[i+1:]...)
	}
	assert.Equal(t, uint64(5040), outer.AllocatedBytes())

	inner := NewTracking(outer, true)
	for range 2 {
		p, err := inner.Allocate(1008, mr.DefaultStream)
		require.NoError(t, err)
		ptrs = append(ptrs, p)
	}
	assert.Equal(t, uint64(2016), inner.AllocatedBytes())
	assert.Equal(t, uint64(7056), outer.AllocatedBytes())

	s := outer.OutstandingString()
	assert.Contains(t, s, "Outstanding Allocations:")
	assert.Contains(t, s, "TestTrackingNested")
	assert.Len(t, outer.Outstanding(), 7)

	for _, p := range ptrs[5:] {
		inner.Deallocate(p, 1008, mr.DefaultStream)
	}
	for _, p := range ptrs[:5] {
		outer.Deallocate(p, 1008, mr.DefaultStream)
	}
	assert.Zero(t, inner.AllocatedBytes())
	assert.Zero(t, outer.AllocatedBytes())
	assert.Empty(t, inner.OutstandingString())
	assert.Empty(t, outer.OutstandingString())
	outer.LogOutstanding()
}

func TestTrackingWithoutStacks(t *testing.T) {
	up, _ := testutil.SetupUpstream(t)
	tr := NewTracking(up, false)

	p, err := tr.Allocate(300, 4)
	require.NoError(t, err)
	info := tr.Outstanding()[p]
	assert.Equal(t, AllocationInfo{Size: 300, Stream: 4}, info)
	tr.Deallocate(p, 300, 4)
}
