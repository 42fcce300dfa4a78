package main

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// captureOutput captures stdout while running a function
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	origStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	done := make(chan []byte)
	go func() {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r)
		done <- buf.Bytes()
	}()

	fnErr := fn()

	w.Close()
	os.Stdout = origStdout
	return string(<-done), fnErr
}

// decodeReport parses JSON output from replay or simulate
func decodeReport(t *testing.T, output string) usageReport {
	t.Helper()
	var r usageReport
	require.NoError(t, json.Unmarshal([]byte(output), &r), "output: %s", output)
	return r
}

// resetGlobals restores flag defaults between tests
func resetGlobals() {
	verbose, quiet, jsonOut = false, false, false
	replayFlags = resourceFlags{kind: "pool", device: "sim", capacity: "16GiB"}
	replayMetricsFile = ""
	simFlags = resourceFlags{kind: "pool", device: "sim", capacity: "16GiB"}
	simGoroutines, simIterations, simSeed = 4, 1000, 1
	simMaxSize, simLogFile, simMetricsFile = "1MiB", "", ""
}
