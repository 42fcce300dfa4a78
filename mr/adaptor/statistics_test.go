package adaptor

import (
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gpumr/internal/testutil"
	"github.com/joshuapare/gpumr/mr"
)

func TestStatisticsConformance(t *testing.T) {
	testutil.RunResourceTests(t, func(t *testing.T) mr.Resource {
		up, _ := testutil.SetupUpstream(t)
		return NewStatistics(up)
	})
}

func TestStatisticsCounters(t *testing.T) {
	up, _ := testutil.SetupUpstream(t)
	s := NewStatistics(up)

	a, err := s.Allocate(1000, 0)
	require.NoError(t, err)
	b, err := s.Allocate(3000, 0)
	require.NoError(t, err)
	s.Deallocate(a, 1000, 0)
	c, err := s.Allocate(500, 0)
	require.NoError(t, err)

	assert.Equal(t, Counter{Value: 3500, Peak: 4000, Total: 4500}, s.Bytes())
	assert.Equal(t, Counter{Value: 2, Peak: 2, Total: 3}, s.Allocations())

	s.Deallocate(b, 3000, 0)
	s.Deallocate(c, 500, 0)
	assert.Equal(t, Counter{Value: 0, Peak: 4000, Total: 4500}, s.Bytes())
}

func TestStatisticsIgnoresFailuresAndZero(t *testing.T) {
	up, _ := testutil.SetupUpstreamWithCapacity(t, 1<<20)
	s := NewStatistics(up)

	_, err := s.Allocate(2<<20, 0)
	require.Error(t, err)
	p, err := s.Allocate(0, 0)
	require.NoError(t, err)
	s.Deallocate(p, 0, 0)

	assert.Equal(t, Counter{}, s.Bytes())
	assert.Equal(t, Counter{}, s.Allocations())
}

func TestStatisticsConcurrentPeak(t *testing.T) {
	up, _ := testutil.SetupUpstream(t)
	s := NewStatistics(up)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				p, err := s.Allocate(256, 0)
				if !assert.NoError(t, err) {
					return
				}
				s.Deallocate(p, 256, 0)
			}
		}()
	}
	wg.Wait()

	bytes := s.Bytes()
	assert.Zero(t, bytes.Value)
	assert.Equal(t, int64(800*256), bytes.Total)
	assert.LessOrEqual(t, bytes.Peak, int64(8*256))
	assert.GreaterOrEqual(t, bytes.Peak, int64(256))
}

func TestStatisticsCollector(t *testing.T) {
	up, _ := testutil.SetupUpstream(t)
	s := NewStatistics(up)
	p, err := s.Allocate(1024, 0)
	require.NoError(t, err)
	defer s.Deallocate(p, 1024, 0)

	c := NewStatisticsCollector("pool", s)
	assert.Equal(t, 6, promtestutil.CollectAndCount(c))

	expected := `
# HELP gpumr_allocated_bytes Bytes currently allocated through the resource.
# TYPE gpumr_allocated_bytes gauge
gpumr_allocated_bytes{resource="pool"} 1024
# HELP gpumr_allocations_total Allocations made over the lifetime of the resource.
# TYPE gpumr_allocations_total counter
gpumr_allocations_total{resource="pool"} 1
`
	require.NoError(t, promtestutil.CollectAndCompare(c, strings.NewReader(expected),
		"gpumr_allocated_bytes", "gpumr_allocations_total"))

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))
}
