package main

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLog(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "log.csv")
	content := "Time,Action,Pointer,Size,Stream\n" + strings.Join(lines, "\n") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSimulateThenReplay(t *testing.T) {
	resetGlobals()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "workload.csv")

	jsonOut = true
	simGoroutines, simIterations = 2, 200
	simMaxSize, simLogFile = "64KiB", logPath

	output, err := captureOutput(t, runSimulate)
	require.NoError(t, err)
	sim := decodeReport(t, output)
	assert.Equal(t, "pool", sim.Resource)
	assert.Positive(t, sim.Allocations)
	assert.Zero(t, sim.Failures)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	lines := strings.Count(string(data), "\n")

	for _, kind := range []string{"pool", "arena", "binning", "direct"} {
		t.Run(kind, func(t *testing.T) {
			resetGlobals()
			jsonOut = true
			replayFlags.kind = kind
			replayMetricsFile = filepath.Join(dir, kind+".prom")

			output, err := captureOutput(t, func() error { return runReplay([]string{logPath}) })
			require.NoError(t, err)

			rep := decodeReport(t, output)
			assert.Equal(t, kind, rep.Resource)
			assert.Equal(t, lines-1, rep.Events)
			assert.Equal(t, sim.Allocations, rep.Allocations)
			// log order is one serialisation of the workload, so its peak
			// cannot exceed the peak seen live
			assert.LessOrEqual(t, rep.PeakBytes, sim.PeakBytes)
			assert.Positive(t, rep.PeakBytes)
			assert.Zero(t, rep.Unmatched)

			metrics, err := os.ReadFile(replayMetricsFile)
			require.NoError(t, err)
			assert.Contains(t, string(metrics), `gpumr_allocated_bytes_peak{resource="`+kind+`"}`)
		})
	}
}

func TestReplayWithLimit(t *testing.T) {
	resetGlobals()
	replayFlags.limit = "1MiB"
	path := writeLog(t,
		"10:00:00.000000,allocate,0x1000,1048576,0x0",
		"10:00:00.000001,allocate,0x200000,1048576,0x0",
		"10:00:00.000002,deallocate,0x1000,1048576,0x0",
		"10:00:00.000003,deallocate,0x999,256,0x0",
	)

	output, err := captureOutput(t, func() error { return runReplay([]string{path}) })
	require.NoError(t, err)
	assert.Contains(t, output, "Allocations:  1 (1 failed)")
	assert.Contains(t, output, "Unmatched:    1 deallocations")
	assert.Contains(t, output, "1,048,576 bytes")
}

func TestReplayErrors(t *testing.T) {
	good := writeLog(t, "10:00:00.000000,allocate,0x1000,256,0x0")
	bad := writeLog(t, "10:00:00.000000,grow,0x1000,256,0x0")

	tests := []struct {
		name  string
		path  string
		setup func()
		want  string
	}{
		{"missing file", filepath.Join(t.TempDir(), "nope.csv"), func() {}, "failed to open log"},
		{"malformed log", bad, func() {}, "failed to parse log"},
		{"unknown resource", good, func() { replayFlags.kind = "slab" }, "unknown resource"},
		{"unknown device", good, func() { replayFlags.device = "tpu" }, "unknown device"},
		{"bad capacity", good, func() { replayFlags.capacity = "huge" }, "--capacity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetGlobals()
			tt.setup()
			_, err := captureOutput(t, func() error { return runReplay([]string{tt.path}) })
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSimulateValidation(t *testing.T) {
	resetGlobals()
	simGoroutines = 0
	_, err := captureOutput(t, runSimulate)
	require.Error(t, err)

	resetGlobals()
	simMaxSize = "0"
	_, err = captureOutput(t, runSimulate)
	require.Error(t, err)
}

func TestSimulateHostDevice(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("host device needs mmap")
	}
	resetGlobals()
	jsonOut = true
	simFlags.device, simFlags.capacity = "host", "256MiB"
	simFlags.kind = "arena"
	simGoroutines, simIterations, simMaxSize = 2, 100, "16KiB"

	output, err := captureOutput(t, runSimulate)
	require.NoError(t, err)
	rep := decodeReport(t, output)
	assert.Equal(t, "host", rep.Device)
	assert.Positive(t, rep.Allocations)
}
