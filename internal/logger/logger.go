// Package logger holds the process-wide structured logger used by the
// allocators for diagnostics (growth, trimming, migration, leak reports).
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// L is the global logger instance. It discards all output unless GPUMR_LOG is
// set or Init is called.
var L *slog.Logger = slog.New(slog.DiscardHandler)

// envLevel selects a level and enables logging to stderr at startup.
const envLevel = "GPUMR_LOG"

// Options configures the logger.
type Options struct {
	Enabled bool       // If false, all logging is discarded
	Writer  io.Writer  // Destination. Default: os.Stderr
	Level   slog.Level // Minimum log level. Default: LevelInfo when enabled
	JSON    bool       // Emit JSON records instead of text
}

// Init replaces the global logger.
func Init(opts Options) {
	if !opts.Enabled {
		L = slog.New(slog.DiscardHandler)
		return
	}

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: opts.Level}
	if opts.JSON {
		L = slog.New(slog.NewJSONHandler(w, handlerOpts))
	} else {
		L = slog.New(slog.NewTextHandler(w, handlerOpts))
	}
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, bool) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, false
	}
	return level, true
}

func init() {
	value, ok := os.LookupEnv(envLevel)
	if !ok || value == "" {
		return
	}
	level, valid := ParseLevel(value)
	Init(Options{Enabled: true, Level: level})
	if !valid {
		L.Warn("invalid log level, using info", "env", envLevel, "value", value)
	}
}

// Enabled reports whether records at level would be emitted.
func Enabled(level slog.Level) bool {
	return L.Enabled(context.Background(), level)
}

// Debug logs a debug message with optional key-value pairs.
func Debug(msg string, args ...any) { L.Debug(msg, args...) }

// Info logs an info message with optional key-value pairs.
func Info(msg string, args ...any) { L.Info(msg, args...) }

// Warn logs a warning message with optional key-value pairs.
func Warn(msg string, args ...any) { L.Warn(msg, args...) }

// Error logs an error message with optional key-value pairs.
func Error(msg string, args ...any) { L.Error(msg, args...) }
