package adaptor

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	descBytesCurrent = iota
	descBytesPeak
	descBytesTotal
	descAllocsCurrent
	descAllocsPeak
	descAllocsTotal
)

var statisticsDescriptors = []*prometheus.Desc{
	descBytesCurrent: prometheus.NewDesc(
		"gpumr_allocated_bytes",
		"Bytes currently allocated through the resource.",
		[]string{"resource"},
		nil,
	),
	descBytesPeak: prometheus.NewDesc(
		"gpumr_allocated_bytes_peak",
		"Highest number of bytes allocated at once.",
		[]string{"resource"},
		nil,
	),
	descBytesTotal: prometheus.NewDesc(
		"gpumr_allocated_bytes_total",
		"Bytes allocated over the lifetime of the resource.",
		[]string{"resource"},
		nil,
	),
	descAllocsCurrent: prometheus.NewDesc(
		"gpumr_allocations",
		"Allocations currently outstanding.",
		[]string{"resource"},
		nil,
	),
	descAllocsPeak: prometheus.NewDesc(
		"gpumr_allocations_peak",
		"Highest number of allocations outstanding at once.",
		[]string{"resource"},
		nil,
	),
	descAllocsTotal: prometheus.NewDesc(
		"gpumr_allocations_total",
		"Allocations made over the lifetime of the resource.",
		[]string{"resource"},
		nil,
	),
}

// StatisticsCollector exposes a Statistics adaptor as Prometheus metrics.
type StatisticsCollector struct {
	name  string
	stats *Statistics
}

var _ prometheus.Collector = (*StatisticsCollector)(nil)

// NewStatisticsCollector returns a collector labelling its metrics with
// resource=name.
func NewStatisticsCollector(name string, stats *Statistics) *StatisticsCollector {
	return &StatisticsCollector{name: name, stats: stats}
}

// Describe implements prometheus.Collector.
func (c *StatisticsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range statisticsDescriptors {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *StatisticsCollector) Collect(ch chan<- prometheus.Metric) {
	bytes, allocs := c.stats.Bytes(), c.stats.Allocations()
	for _, m := range []struct {
		desc  int
		vtype prometheus.ValueType
		value int64
	}{
		{descBytesCurrent, prometheus.GaugeValue, bytes.Value},
		{descBytesPeak, prometheus.GaugeValue, bytes.Peak},
		{descBytesTotal, prometheus.CounterValue, bytes.Total},
		{descAllocsCurrent, prometheus.GaugeValue, allocs.Value},
		{descAllocsPeak, prometheus.GaugeValue, allocs.Peak},
		{descAllocsTotal, prometheus.CounterValue, allocs.Total},
	} {
		ch <- prometheus.MustNewConstMetric(statisticsDescriptors[m.desc], m.vtype, float64(m.value), c.name)
	}
}
