package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshuapare/gpumr/mr"
	"github.com/joshuapare/gpumr/mr/adaptor"
)

var (
	replayFlags       resourceFlags
	replayMetricsFile string
)

func init() {
	cmd := newReplayCmd()
	addResourceFlags(cmd, &replayFlags)
	cmd.Flags().StringVar(&replayMetricsFile, "metrics-file", "", "Write Prometheus metrics to this file")
	rootCmd.AddCommand(cmd)
}

func addResourceFlags(cmd *cobra.Command, f *resourceFlags) {
	cmd.Flags().StringVar(&f.kind, "resource", "pool", "Resource to drive: pool, arena, binning or direct")
	cmd.Flags().StringVar(&f.device, "device", "sim", "Device backing the resource: sim or host")
	cmd.Flags().StringVar(&f.capacity, "capacity", "16GiB", "Device capacity")
	cmd.Flags().StringVar(&f.limit, "limit", "", "Reject allocations beyond this many outstanding bytes")
}

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <log.csv>",
		Short: "Replay an allocation log against a resource",
		Long: `The replay command reads a CSV allocation log written by the logging
adaptor and issues the same allocations and deallocations, in order, against
the selected resource. Pointers in the log are mapped to the pointers the
resource returns.

Example:
  gpumrctl replay rmm_log.csv
  gpumrctl replay rmm_log.csv --resource arena --capacity 8GiB
  gpumrctl replay rmm_log.csv --metrics-file replay.prom --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(args)
		},
	}
	return cmd
}

func runReplay(args []string) error {
	logPath := args[0]
	printVerbose("Reading log: %s\n", logPath)

	f, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	events, err := adaptor.ParseLog(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("failed to parse log: %w", err)
	}

	s, err := buildStack(replayFlags)
	if err != nil {
		return err
	}
	defer s.Close()

	report, err := replay(s, events)
	if err != nil {
		return err
	}
	report.Resource, report.Device = replayFlags.kind, replayFlags.device

	if replayMetricsFile != "" {
		if err := writeMetrics(replayMetricsFile, replayFlags.kind, s); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
		printVerbose("Metrics written to %s\n", replayMetricsFile)
	}
	return printReport(report)
}

// replay issues events against s. Allocations the resource cannot satisfy
// are counted; the matching deallocations are skipped.
func replay(s *stack, events []adaptor.Event) (usageReport, error) {
	type live struct {
		p    mr.Ptr
		size uint64
	}
	ptrs := make(map[mr.Ptr]live)
	report := usageReport{Events: len(events)}

	start := time.Now()
	for _, ev := range events {
		switch ev.Action {
		case adaptor.ActionAllocate:
			p, err := s.top.Allocate(ev.Size, ev.Stream)
			if err != nil {
				if !errors.Is(err, mr.ErrOutOfMemory) {
					return report, err
				}
				report.Failures++
				printVerbose("allocation of %d bytes failed: %v\n", ev.Size, err)
				continue
			}
			ptrs[ev.Ptr] = live{p, ev.Size}
		case adaptor.ActionDeallocate:
			l, ok := ptrs[ev.Ptr]
			if !ok {
				report.Unmatched++
				continue
			}
			delete(ptrs, ev.Ptr)
			s.top.Deallocate(l.p, l.size, ev.Stream)
		}
	}
	report.ElapsedMicros = time.Since(start).Microseconds()

	// release anything the log never freed so the resource closes cleanly
	for _, l := range ptrs {
		s.top.Deallocate(l.p, l.size, mr.DefaultStream)
	}

	bytes, allocs := s.stats.Bytes(), s.stats.Allocations()
	report.Allocations = allocs.Total
	report.PeakAllocs = allocs.Peak
	report.PeakBytes = bytes.Peak
	report.TotalBytes = bytes.Total
	return report, nil
}
