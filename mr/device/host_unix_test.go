//go:build linux || darwin || freebsd

package device

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gpumr/mr"
	"github.com/joshuapare/gpumr/mr/align"
)

func TestHostAllocateWritable(t *testing.T) {
	h, err := NewHost(16 << 20)
	require.NoError(t, err)
	d := NewDirect(h)

	p, err := d.Allocate(10000, mr.DefaultStream)
	require.NoError(t, err)
	assert.True(t, align.IsPointerAligned(uintptr(p), align.DeviceAlignment))

	buf := h.Bytes(p)
	require.GreaterOrEqual(t, len(buf), 10000)
	buf[0], buf[9999] = 0xAB, 0xCD
	assert.Equal(t, byte(0xAB), buf[0])

	d.Deallocate(p, 10000, mr.DefaultStream)
	assert.Nil(t, h.Bytes(p))

	free, total := d.MemInfo(mr.DefaultStream)
	assert.Equal(t, total, free)
}

func TestHostCapacity(t *testing.T) {
	h, err := NewHost(1 << 20)
	require.NoError(t, err)

	_, err = h.RawAllocate(2<<20, mr.DefaultStream)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mr.ErrOutOfMemory))
}
