package mr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gpumr/internal/testutil"
	"github.com/joshuapare/gpumr/mr"
)

func TestCallbackConformance(t *testing.T) {
	testutil.RunResourceTests(t, func(t *testing.T) mr.Resource {
		up, _ := testutil.SetupUpstream(t)
		return mr.NewCallback(up.Allocate, up.Deallocate)
	})
}

func TestCallbackForwardsCalls(t *testing.T) {
	up, _ := testutil.SetupUpstream(t)
	var allocs, frees []uint64
	cb := mr.NewCallback(
		func(size uint64, stream mr.Stream) (mr.Ptr, error) {
			allocs = append(allocs, size)
			return up.Allocate(size, stream)
		},
		func(p mr.Ptr, size uint64, stream mr.Stream) {
			frees = append(frees, size)
			up.Deallocate(p, size, stream)
		},
	)

	p, err := cb.Allocate(0, mr.DefaultStream)
	require.NoError(t, err)
	cb.Deallocate(p, 0, mr.DefaultStream)
	assert.Empty(t, allocs)

	p, err = cb.Allocate(256, mr.DefaultStream)
	require.NoError(t, err)
	cb.Deallocate(p, 256, mr.DefaultStream)
	assert.Equal(t, []uint64{256}, allocs)
	assert.Equal(t, []uint64{256}, frees)
	count, _ := up.Outstanding()
	assert.Zero(t, count)
}

func TestCallbackErrors(t *testing.T) {
	free := func(mr.Ptr, uint64, mr.Stream) {}
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"out of memory passes through", mr.OutOfMemory("callback", 256), mr.ErrOutOfMemory},
		{"runtime passes through", mr.ErrRuntime, mr.ErrRuntime},
		{"other errors become runtime", errors.New("my alloc error"), mr.ErrRuntime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := mr.NewCallback(func(uint64, mr.Stream) (mr.Ptr, error) {
				return mr.NullPtr, tt.err
			}, free)
			_, err := cb.Allocate(256, mr.DefaultStream)
			require.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestCallbackEquality(t *testing.T) {
	up, _ := testutil.SetupUpstream(t)
	a := mr.NewCallback(up.Allocate, up.Deallocate)
	b := mr.NewCallback(up.Allocate, up.Deallocate)
	assert.True(t, a.IsEqual(a))
	assert.False(t, a.IsEqual(b))
}

func TestNewCallbackRejectsNil(t *testing.T) {
	assert.Panics(t, func() { mr.NewCallback(nil, func(mr.Ptr, uint64, mr.Stream) {}) })
	assert.Panics(t, func() {
		mr.NewCallback(func(uint64, mr.Stream) (mr.Ptr, error) { return mr.NullPtr, nil }, nil)
	})
}
