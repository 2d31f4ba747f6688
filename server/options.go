// File: server/options.go
// Package server defines functional options for the Server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"crypto/tls"
	"log/slog"

	"github.com/momentics/hioload-nio/control"
	"github.com/momentics/hioload-nio/core/buffer"
	"github.com/momentics/hioload-nio/reactor"
)

// Option customizes server initialization.
type Option func(*Server)

// WithLogger sets the logger. The default is built from Config.Log.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithMetrics shares a registry with other components.
func WithMetrics(m *control.MetricsRegistry) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithProbes shares a debug probe registry.
func WithProbes(p *control.DebugProbes) Option {
	return func(s *Server) {
		s.probes = p
	}
}

// WithAllocator sets the buffer storage allocator of accepted connections.
func WithAllocator(a buffer.Allocator) Option {
	return func(s *Server) {
		s.alloc = a
	}
}

// WithTLSConfig enables encryption with cfg, overriding Config.TLS.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(s *Server) {
		s.tls = cfg
	}
}

// WithPoller replaces the platform poller.
func WithPoller(p reactor.Poller) Option {
	return func(s *Server) {
		s.poller = p
	}
}
