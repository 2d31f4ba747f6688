// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server connector: owns the listener, the reactor and the worker pool and
// binds every accepted socket to a server Connection.

package server

import (
	"errors"
	"net"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/control"
	"github.com/momentics/hioload-nio/internal/concurrency"
	"github.com/momentics/hioload-nio/protocol"
	"github.com/momentics/hioload-nio/reactor"
)

var (
	ErrAlreadyRunning = errors.New("server already running")
	ErrNotRunning     = errors.New("server not running")
)

// New builds a server for handler. Nothing is bound until Serve or
// ListenAndServe.
func New(cfg control.Config, handler protocol.Handler, opts ...Option) (*Server, error) {
	if handler == nil {
		return nil, api.Errorf(api.ErrCodeInvalidArgument, "server requires a handler")
	}
	if err := cfg.Validate(); err != nil {
		return nil, api.WrapError(api.ErrCodeInvalidArgument, err, "invalid server config")
	}

	s := &Server{
		cfg:     cfg,
		handler: handler,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = control.NewLogger(cfg.Log)
	}
	if s.metrics == nil {
		s.metrics = control.NewMetricsRegistry()
	}
	if s.probes == nil {
		s.probes = control.NewDebugProbes()
	}
	if s.tls == nil {
		tc, err := tlsConfigFor(cfg.TLS)
		if err != nil {
			return nil, err
		}
		s.tls = tc
	}

	s.exec = concurrency.NewExecutor(cfg.Workers, func(v any) {
		s.log.Error("task panic", "panic", v)
	}, reactor.ExecutorOptions(cfg)...)
	r, err := reactor.New(reactor.Options{
		Config:   cfg,
		Logger:   s.log,
		Metrics:  s.metrics,
		Poller:   s.poller,
		Executor: s.exec,
	})
	if err != nil {
		s.exec.Close()
		return nil, err
	}
	s.reactor = r

	s.probes.RegisterProbe("server.connections", func() any { return s.reactor.Len() })
	s.probes.RegisterProbe("server.executor", func() any { return s.exec.Stats() })
	s.probes.RegisterProbe("server.tls", func() any { return s.tls != nil })
	s.probes.AttachMetrics(s.metrics)
	return s, nil
}

// Addr returns the bound address, or nil before the server listens.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Ready is closed once the server accepts connections.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Done is closed once Serve has returned.
func (s *Server) Done() <-chan struct{} { return s.done }

// Len returns the number of live connections.
func (s *Server) Len() int { return s.reactor.Len() }

// Metrics returns the current counter values.
func (s *Server) Metrics() map[string]int64 { return s.metrics.GetSnapshot() }

// MetricsRegistry exposes the live registry.
func (s *Server) MetricsRegistry() *control.MetricsRegistry { return s.metrics }

// Probes returns the debug probe registry.
func (s *Server) Probes() *control.DebugProbes { return s.probes }

// Secure reports whether accepted connections are encrypted.
func (s *Server) Secure() bool { return s.tls != nil }
