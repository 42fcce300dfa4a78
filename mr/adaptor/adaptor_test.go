package adaptor

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gpumr/internal/testutil"
	"github.com/joshuapare/gpumr/mr"
	"github.com/joshuapare/gpumr/mr/device"
	"github.com/joshuapare/gpumr/mr/pool"
)

func TestAdaptorEquality(t *testing.T) {
	upA, _ := testutil.SetupUpstream(t)
	upB, _ := testutil.SetupUpstream(t)

	logA, err := NewLogging(upA, WithWriter(io.Discard))
	require.NoError(t, err)
	logA2, err := NewLogging(upA, WithWriter(io.Discard))
	require.NoError(t, err)

	tests := []struct {
		name  string
		a, b  mr.Resource
		equal bool
	}{
		{"statistics same upstream", NewStatistics(upA), NewStatistics(upA), true},
		{"statistics different upstream", NewStatistics(upA), NewStatistics(upB), false},
		{"tracking same upstream", NewTracking(upA, false), NewTracking(upA, true), true},
		{"limiting same upstream", NewLimiting(upA, 1), NewLimiting(upA, 2), true},
		{"logging same upstream", logA, logA2, true},
		{"synchronized same upstream", NewSynchronized(upA), NewSynchronized(upA), true},
		{"different adaptor types", NewStatistics(upA), NewTracking(upA, false), false},
		{"adaptor vs its upstream", NewStatistics(upA), upA, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.equal, tt.a.IsEqual(tt.b))
			assert.Equal(t, tt.equal, tt.b.IsEqual(tt.a))
		})
	}
}

func TestUpstreamChain(t *testing.T) {
	up, _ := testutil.SetupUpstream(t)
	p, err := pool.New(up)
	require.NoError(t, err)
	defer p.Close()

	chain := NewLimiting(NewStatistics(NewTracking(p, false)), 1<<30)

	var depth int
	var r mr.Resource = chain
	for {
		u, ok := r.(mr.Upstreamer)
		if !ok {
			break
		}
		r = u.Upstream()
		depth++
	}
	// limiting -> statistics -> tracking -> pool -> counting -> direct
	assert.Equal(t, 5, depth)
	assert.IsType(t, &device.Direct{}, r)

	ptr, err := chain.Allocate(4096, 0)
	require.NoError(t, err)
	chain.Deallocate(ptr, 4096, 0)
}

func TestSynchronizedConformance(t *testing.T) {
	testutil.RunResourceTests(t, func(t *testing.T) mr.Resource {
		up, _ := testutil.SetupUpstream(t)
		return NewSynchronized(up)
	})
}

func TestNilUpstreamPanics(t *testing.T) {
	constructors := map[string]func(){
		"statistics":       func() { NewStatistics(nil) },
		"tracking":         func() { NewTracking(nil, false) },
		"limiting":         func() { NewLimiting(nil, 1<<20) },
		"synchronized":     func() { NewSynchronized(nil) },
		"failure callback": func() { NewFailureCallback(nil, nil) },
	}
	for name, construct := range constructors {
		t.Run(name, func(t *testing.T) {
			defer func() {
				r := recover()
				require.NotNil(t, r)
				err, ok := r.(error)
				require.True(t, ok)
				assert.ErrorIs(t, err, mr.ErrInvalidArgument)
			}()
			construct()
		})
	}
}
