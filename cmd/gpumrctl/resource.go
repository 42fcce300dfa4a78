package main

import (
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshuapare/gpumr/mr"
	"github.com/joshuapare/gpumr/mr/adaptor"
	"github.com/joshuapare/gpumr/mr/arena"
	"github.com/joshuapare/gpumr/mr/binning"
	"github.com/joshuapare/gpumr/mr/device"
	"github.com/joshuapare/gpumr/mr/pool"
)

// resourceFlags are shared by every command that builds a resource.
type resourceFlags struct {
	kind     string
	device   string
	capacity string
	limit    string
}

// stack is a resource chain built from flags, topped by a statistics
// adaptor.
type stack struct {
	top     mr.Resource
	stats   *adaptor.Statistics
	closers []io.Closer
}

func (s *stack) Close() error {
	var result *multierror.Error
	// innermost last
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func newDevice(kind string, capacity uint64) (device.Device, error) {
	switch kind {
	case "sim", "simulated":
		return device.NewSimulated(capacity), nil
	case "host":
		return device.NewHost(capacity)
	default:
		return nil, fmt.Errorf("unknown device %q (want sim or host)", kind)
	}
}

func buildStack(f resourceFlags) (*stack, error) {
	capacity, err := mr.ParseSize(f.capacity)
	if err != nil {
		return nil, fmt.Errorf("--capacity: %w", err)
	}
	dev, err := newDevice(f.device, capacity)
	if err != nil {
		return nil, err
	}

	s := &stack{}
	var r mr.Resource = device.NewDirect(dev)
	switch f.kind {
	case "direct":
	case "pool":
		p, err := pool.New(r)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, p)
		r = p
	case "arena":
		a, err := arena.New(r, arena.WithDumpLogOnFailure())
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, a)
		r = a
	case "binning":
		b, err := binning.New(r, binning.WithBinRange(10, 22))
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, b)
		r = b
	default:
		return nil, fmt.Errorf("unknown resource %q (want pool, arena, binning or direct)", f.kind)
	}

	if f.limit != "" {
		limit, err := mr.ParseSize(f.limit)
		if err != nil {
			return nil, fmt.Errorf("--limit: %w", err)
		}
		r = adaptor.NewLimiting(r, limit)
	}
	s.stats = adaptor.NewStatistics(r)
	s.top = s.stats
	return s, nil
}

// writeMetrics writes the statistics of s to path in the Prometheus text
// format.
func writeMetrics(path, name string, s *stack) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(adaptor.NewStatisticsCollector(name, s.stats)); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(path, reg)
}

// usageReport is the summary printed by replay and simulate.
type usageReport struct {
	Resource      string `json:"resource"`
	Device        string `json:"device"`
	Events        int    `json:"events"`
	Allocations   int64  `json:"allocations"`
	Failures      int    `json:"failures"`
	Unmatched     int    `json:"unmatched,omitempty"`
	PeakBytes     int64  `json:"peak_bytes"`
	TotalBytes    int64  `json:"total_bytes"`
	PeakAllocs    int64  `json:"peak_allocations"`
	ElapsedMicros int64  `json:"elapsed_us"`
}

func printReport(r usageReport) error {
	if jsonOut {
		return printJSON(r)
	}
	printInfo("Resource:     %s on %s\n", r.Resource, r.Device)
	printInfo("Events:       %d\n", r.Events)
	printInfo("Allocations:  %d (%d failed)\n", r.Allocations, r.Failures)
	if r.Unmatched > 0 {
		printInfo("Unmatched:    %d deallocations\n", r.Unmatched)
	}
	printInfo("Peak:         %d bytes in %d allocations\n", r.PeakBytes, r.PeakAllocs)
	printInfo("Total:        %d bytes\n", r.TotalBytes)
	printInfo("Elapsed:      %d µs\n", r.ElapsedMicros)
	return nil
}
