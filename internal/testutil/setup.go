// Package testutil provides upstream fakes and the shared conformance tests
// every memory resource in this module runs.
package testutil

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gpumr/mr"
	"github.com/joshuapare/gpumr/mr/device"
)

// DefaultCapacity is the simulated device size used by SetupUpstream.
const DefaultCapacity uint64 = 16 << 30

// SetupUpstream returns a counting resource over a direct resource over a
// simulated device of DefaultCapacity bytes.
//
// Example:
//
//	up, sim := testutil.SetupUpstream(t)
//	p, err := pool.New(up)
func SetupUpstream(t *testing.T) (*Counting, *device.Simulated) {
	t.Helper()
	return SetupUpstreamWithCapacity(t, DefaultCapacity)
}

// SetupUpstreamWithCapacity is SetupUpstream with an explicit capacity.
func SetupUpstreamWithCapacity(t *testing.T, capacity uint64) (*Counting, *device.Simulated) {
	t.Helper()
	sim := device.NewSimulated(capacity)
	return NewCounting(device.NewDirect(sim)), sim
}

// CloseOnCleanup registers r to be closed when the test ends, if it is an
// io.Closer.
func CloseOnCleanup(t *testing.T, r mr.Resource) {
	t.Helper()
	c, ok := r.(io.Closer)
	if !ok {
		return
	}
	t.Cleanup(func() {
		require.NoError(t, c.Close())
	})
}
