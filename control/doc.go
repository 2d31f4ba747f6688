// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, logging, metrics and debug introspection for hioload-nio.
//
// Provides:
//   - Config with defaults, validation and YAML loading
//   - Store for snapshot reads and reload listeners
//   - slog logger construction
//   - MetricsRegistry counters and DebugProbes
package control
