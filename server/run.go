// File: server/run.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Accept loop, reactor lifecycle and graceful shutdown.

package server

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/protocol"
	"github.com/momentics/hioload-nio/transport/tcp"
	"github.com/momentics/hioload-nio/transport/tlsengine"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
	drainPoll        = 10 * time.Millisecond
)

// ListenAndServe binds Config.ListenAddr and serves until ctx is done or
// Shutdown completes.
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := tcp.Listen(s.cfg.ListenAddr)
	if err != nil {
		return api.WrapError(api.ErrCodeIO, err, "listen failed").WithContext("addr", s.cfg.ListenAddr)
	}
	return s.Serve(ctx, l)
}

// Serve accepts connections from l until ctx is done or Shutdown completes.
// l is closed on return. Cancelling ctx closes every connection at once;
// Shutdown drains them first.
func (s *Server) Serve(ctx context.Context, l *tcp.Listener) error {
	if !s.running.CompareAndSwap(false, true) {
		l.Close()
		return ErrAlreadyRunning
	}
	defer close(s.done)
	defer s.exec.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.listener = l
	s.cancel = cancel
	s.mu.Unlock()
	close(s.ready)
	s.log.Info("server listening", "addr", l.Addr().String(), "tls", s.Secure())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.reactor.Run(gctx) })
	g.Go(func() error {
		defer l.Close()
		return s.acceptLoop(gctx, l)
	})
	err := g.Wait()
	s.log.Info("server stopped", "error", err)
	return err
}

func (s *Server) acceptLoop(ctx context.Context, l *tcp.Listener) error {
	backoff := time.Duration(0)
	for {
		conn, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, api.ErrTransportClosed) {
				return nil
			}
			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff = min(2*backoff, maxAcceptBackoff)
			}
			s.log.Warn("accept failed", "error", err, "retry", backoff)
			t := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
			continue
		}
		backoff = 0
		if s.draining.Load() {
			conn.Close()
			continue
		}
		s.serveConn(conn)
	}
}

// serveConn binds an accepted socket to a server connection.
func (s *Server) serveConn(conn *tcp.Conn) {
	var session api.SecureSession
	if s.tls != nil {
		session = tlsengine.NewServer(s.tls)
	}
	c, err := protocol.NewConnection(conn, protocol.Options{
		Config:    s.cfg,
		Role:      api.RoleServer,
		Session:   session,
		Handler:   s.handler,
		Notifier:  s.reactor,
		Logger:    s.log,
		Metrics:   s.metrics,
		Allocator: s.alloc,
		OnClosed:  s.reactor.Detach,
	})
	if err != nil {
		conn.Close()
		s.log.Error("connection setup failed", "error", err)
		return
	}
	if err := s.reactor.Register(c); err != nil {
		c.Close(false)
		s.log.Debug("connection rejected", "remote", conn.RemoteAddr(), "error", err)
		return
	}
	s.log.Debug("connection accepted", "conn", c.ID(), "remote", conn.RemoteAddr())
}

// Shutdown stops accepting, closes connections gracefully and waits for
// them to finish or for ctx. Connections left at the deadline are closed at
// once; ctx's error is returned in that case.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	l, cancel := s.listener, s.cancel
	s.mu.Unlock()
	if l == nil {
		return ErrNotRunning
	}
	if !s.draining.CompareAndSwap(false, true) {
		<-s.done
		return nil
	}
	_ = l.Close()
	s.reactor.CloseAll(true)

	var err error
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()
	for s.reactor.Len() > 0 && err == nil {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			s.log.Warn("shutdown deadline reached", "open", s.reactor.Len())
		case <-s.done:
			return nil
		case <-ticker.C:
		}
	}
	cancel()
	<-s.done
	return err
}
