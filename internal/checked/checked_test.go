package checked

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdd(t *testing.T) {
	tests := []struct {
		a, b, want uint64
		ok         bool
	}{
		{1, 2, 3, true},
		{math.MaxUint64, 0, math.MaxUint64, true},
		{math.MaxUint64, 1, 0, false},
		{1 << 63, 1 << 63, 0, false},
	}
	for _, tt := range tests {
		got, ok := Add(tt.a, tt.b)
		assert.Equal(t, tt.ok, ok, "%d + %d", tt.a, tt.b)
		if ok {
			assert.Equal(t, tt.want, got)
		}
	}
}

func TestMul(t *testing.T) {
	got, ok := Mul(1<<20, 128)
	assert.True(t, ok)
	assert.Equal(t, uint64(128<<20), got)

	_, ok = Mul(1<<40, 1<<30)
	assert.False(t, ok)

	got, ok = Mul(0, math.MaxUint64)
	assert.True(t, ok)
	assert.Zero(t, got)
}

func TestRoundUp(t *testing.T) {
	tests := []struct {
		n, m, want uint64
		ok         bool
	}{
		{0, 1 << 20, 0, true},
		{1, 1 << 20, 1 << 20, true},
		{1 << 20, 1 << 20, 1 << 20, true},
		{5 << 19, 1 << 20, 3 << 20, true},
		{math.MaxUint64 - 10, 1 << 20, 0, false},
		{10, 0, 0, false},
	}
	for _, tt := range tests {
		got, ok := RoundUp(tt.n, tt.m)
		assert.Equal(t, tt.ok, ok, "RoundUp(%d, %d)", tt.n, tt.m)
		if ok {
			assert.Equal(t, tt.want, got)
		}
	}
}
