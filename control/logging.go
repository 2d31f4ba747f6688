// control/logging.go
// Author: momentics <momentics@gmail.com>
//
// slog construction from configuration.

package control

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
	// AddSource adds source file and line to log entries.
	AddSource bool `yaml:"addSource"`
	// Output defaults to os.Stderr.
	Output io.Writer `yaml:"-"`
}

// DefaultLogConfig returns info-level text logging.
func DefaultLogConfig() LogConfig {
	return LogConfig{Level: "info", Format: "text"}
}

// NewLogger creates a *slog.Logger from cfg. Unknown levels and formats fall
// back to info and text; Config.Validate rejects them earlier.
func NewLogger(cfg LogConfig) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	level, _ := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}

	format, _ := ParseFormat(cfg.Format)
	if format == "json" {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}

// Nop returns a logger that discards all output.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel parses a level name. The empty string is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// ParseFormat parses a format name. The empty string is text.
func ParseFormat(s string) (string, error) {
	switch strings.ToLower(s) {
	case "text", "":
		return "text", nil
	case "json":
		return "json", nil
	default:
		return "text", fmt.Errorf("unknown log format %q", s)
	}
}
