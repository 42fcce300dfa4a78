package adaptor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gpumr/internal/testutil"
	"github.com/joshuapare/gpumr/mr"
)

func TestFailureCallbackConformance(t *testing.T) {
	testutil.RunResourceTests(t, func(t *testing.T) mr.Resource {
		up, _ := testutil.SetupUpstream(t)
		return NewFailureCallback(up, func(uint64, mr.Stream) bool { return false })
	})
}

func TestFailureCallbackRetriesWhileHandlerAsks(t *testing.T) {
	up, _ := testutil.SetupUpstreamWithCapacity(t, 1<<20)
	calls := 0
	f := NewFailureCallback(up, func(size uint64, _ mr.Stream) bool {
		calls++
		assert.Equal(t, uint64(2<<20), size)
		return calls < 3
	})

	_, err := f.Allocate(2<<20, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mr.ErrOutOfMemory))
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, up.Allocations())
}

func TestFailureCallbackHandlerFreesMemory(t *testing.T) {
	up, _ := testutil.SetupUpstreamWithCapacity(t, 1<<20)
	hog, err := up.Allocate(1<<20, 0)
	require.NoError(t, err)

	f := NewFailureCallback(up, func(uint64, mr.Stream) bool {
		if hog == mr.NullPtr {
			return false
		}
		up.Deallocate(hog, 1<<20, 0)
		hog = mr.NullPtr
		return true
	})

	p, err := f.Allocate(512<<10, 0)
	require.NoError(t, err)
	f.Deallocate(p, 512<<10, 0)
}

func TestFailureCallbackNilHandlerDoesNotRetry(t *testing.T) {
	up, _ := testutil.SetupUpstreamWithCapacity(t, 1<<20)
	f := NewFailureCallback(up, nil)

	_, err := f.Allocate(2<<20, 0)
	require.ErrorIs(t, err, mr.ErrOutOfMemory)
	assert.Equal(t, 1, up.Allocations())
}
