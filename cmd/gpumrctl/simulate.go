package main

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshuapare/gpumr/mr"
	"github.com/joshuapare/gpumr/mr/adaptor"
)

var (
	simFlags       resourceFlags
	simGoroutines  int
	simIterations  int
	simMaxSize     string
	simLogFile     string
	simSeed        int64
	simMetricsFile string
)

func init() {
	cmd := newSimulateCmd()
	addResourceFlags(cmd, &simFlags)
	cmd.Flags().IntVar(&simGoroutines, "goroutines", 4, "Concurrent workers, one stream each")
	cmd.Flags().IntVar(&simIterations, "iterations", 1000, "Operations per worker")
	cmd.Flags().StringVar(&simMaxSize, "max-size", "1MiB", "Largest allocation size")
	cmd.Flags().StringVar(&simLogFile, "log", "", "Write a replayable allocation log to this file")
	cmd.Flags().Int64Var(&simSeed, "seed", 1, "Random seed")
	cmd.Flags().StringVar(&simMetricsFile, "metrics-file", "", "Write Prometheus metrics to this file")
	rootCmd.AddCommand(cmd)
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a random multi-stream allocation workload",
		Long: `The simulate command runs concurrent workers that allocate and free
random sizes on their own streams, then reports peak and total usage.

Example:
  gpumrctl simulate --resource arena --goroutines 8
  gpumrctl simulate --max-size 64KiB --log workload.csv
  gpumrctl simulate --device host --capacity 1GiB --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate()
		},
	}
	return cmd
}

func runSimulate() error {
	if simGoroutines <= 0 || simIterations <= 0 {
		return fmt.Errorf("--goroutines and --iterations must be positive")
	}
	maxSize, err := mr.ParseSize(simMaxSize)
	if err != nil {
		return fmt.Errorf("--max-size: %w", err)
	}
	if maxSize == 0 {
		return fmt.Errorf("--max-size must be positive")
	}

	s, err := buildStack(simFlags)
	if err != nil {
		return err
	}
	defer s.Close()

	target := s.top
	if simLogFile != "" {
		l, err := adaptor.NewLogging(target, adaptor.WithFile(simLogFile))
		if err != nil {
			return err
		}
		defer l.Close()
		target = l
		printVerbose("Logging allocations to %s\n", simLogFile)
	}

	report, err := simulate(target, s, maxSize)
	if err != nil {
		return err
	}
	report.Resource, report.Device = simFlags.kind, simFlags.device

	if simMetricsFile != "" {
		if err := writeMetrics(simMetricsFile, simFlags.kind, s); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	return printReport(report)
}

func simulate(target mr.Resource, s *stack, maxSize uint64) (usageReport, error) {
	var (
		wg       sync.WaitGroup
		failures atomic.Int64
		ops      atomic.Int64
		errMu    sync.Mutex
		firstErr error
	)

	start := time.Now()
	for g := range simGoroutines {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(simSeed + int64(g)))
			stream := mr.Stream(g + 1)

			type live struct {
				p    mr.Ptr
				size uint64
			}
			var held []live
			defer func() {
				for _, l := range held {
					target.Deallocate(l.p, l.size, stream)
					ops.Add(1)
				}
			}()

			for range simIterations {
				if len(held) > 0 && rng.Intn(2) == 0 {
					i := rng.Intn(len(held))
					target.Deallocate(held[i].p, held[i].size, stream)
					held[i] = held[len(held)-1]
					held = held[:len(held)-1]
					ops.Add(1)
					continue
				}
				size := uint64(rng.Int63n(int64(maxSize))) + 1
				p, err := target.Allocate(size, stream)
				ops.Add(1)
				if errors.Is(err, mr.ErrOutOfMemory) {
					failures.Add(1)
					continue
				}
				if err != nil {
					errMu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					errMu.Unlock()
					return
				}
				held = append(held, live{p, size})
			}
		}(g)
	}
	wg.Wait()

	bytes, allocs := s.stats.Bytes(), s.stats.Allocations()
	return usageReport{
		Events:        int(ops.Load()),
		Allocations:   allocs.Total,
		Failures:      int(failures.Load()),
		PeakBytes:     bytes.Peak,
		TotalBytes:    bytes.Total,
		PeakAllocs:    allocs.Peak,
		ElapsedMicros: time.Since(start).Microseconds(),
	}, firstErr
}
