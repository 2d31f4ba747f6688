// File: client/client.go
// Package client provides the client connector: non-blocking connections
// driven by a shared reactor, with keep-alive reuse per address.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"sync"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/control"
	"github.com/momentics/hioload-nio/core/buffer"
	coreproto "github.com/momentics/hioload-nio/core/protocol"
	"github.com/momentics/hioload-nio/protocol"
	"github.com/momentics/hioload-nio/reactor"
	"github.com/momentics/hioload-nio/transport/tcp"
	"github.com/momentics/hioload-nio/transport/tlsengine"
)

// Client dials connections and exchanges requests over them. It is safe
// for concurrent use.
type Client struct {
	cfg     control.Config
	log     *slog.Logger
	metrics *control.MetricsRegistry
	alloc   buffer.Allocator
	tls     *tls.Config
	poller  reactor.Poller

	reactor *reactor.Reactor
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error

	mu     sync.Mutex
	conns  map[string]*Conn
	closed bool
}

// New creates a client and starts its reactor.
func New(cfg control.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, api.WrapError(api.ErrCodeInvalidArgument, err, "invalid client config")
	}
	c := &Client{
		cfg:   cfg,
		conns: make(map[string]*Conn),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = control.NewLogger(cfg.Log)
	}
	if c.metrics == nil {
		c.metrics = control.NewMetricsRegistry()
	}
	r, err := reactor.New(reactor.Options{
		Config:  cfg,
		Logger:  c.log,
		Metrics: c.metrics,
		Poller:  c.poller,
	})
	if err != nil {
		return nil, err
	}
	c.reactor = r

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go func() {
		defer close(c.done)
		c.runErr = r.Run(ctx)
	}()
	return c, nil
}

// Dial opens a new connection to addr (host:port).
func (c *Client) Dial(ctx context.Context, addr string) (*Conn, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, api.ErrTransportClosed
	}

	sock, err := tcp.Dial(ctx, addr)
	if err != nil {
		return nil, api.WrapError(api.ErrCodeIO, err, "dial failed").WithContext("addr", addr)
	}
	var session api.SecureSession
	if c.tls != nil {
		tc := c.tls.Clone()
		if tc.ServerName == "" {
			if host, _, err := net.SplitHostPort(addr); err == nil {
				tc.ServerName = host
			}
		}
		session = tlsengine.NewClient(tc)
	}
	pc, err := protocol.NewConnection(sock, protocol.Options{
		Config:    c.cfg,
		Role:      api.RoleClient,
		Session:   session,
		Notifier:  c.reactor,
		Logger:    c.log,
		Metrics:   c.metrics,
		Allocator: c.alloc,
		OnClosed:  c.reactor.Detach,
	})
	if err != nil {
		sock.Close()
		return nil, err
	}
	if err := c.reactor.Register(pc); err != nil {
		pc.Close(false)
		return nil, err
	}
	c.log.Debug("connection dialed", "conn", pc.ID(), "addr", addr)
	return &Conn{addr: addr, conn: pc}, nil
}

// Do sends req to addr and waits for the response head. Connections are
// reused while the server keeps them alive; concurrent calls pipeline on
// the same connection.
func (c *Client) Do(ctx context.Context, addr string, req *coreproto.Outgoing) (*coreproto.Message, error) {
	conn, err := c.connFor(ctx, addr)
	if err != nil {
		return nil, err
	}
	resp, err := conn.Do(ctx, req)
	if err != nil || !resp.KeepAlive() {
		c.forget(conn)
	}
	return resp, err
}

func (c *Client) connFor(ctx context.Context, addr string) (*Conn, error) {
	c.mu.Lock()
	if conn, ok := c.conns[addr]; ok {
		if conn.Usable() {
			c.mu.Unlock()
			return conn, nil
		}
		delete(c.conns, addr)
	}
	c.mu.Unlock()

	conn, err := c.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		conn.Close(false)
		return nil, api.ErrTransportClosed
	}
	if cur, ok := c.conns[addr]; ok && cur.Usable() {
		conn.Close(false)
		return cur, nil
	}
	c.conns[addr] = conn
	return conn, nil
}

func (c *Client) forget(conn *Conn) {
	c.mu.Lock()
	if c.conns[conn.addr] == conn {
		delete(c.conns, conn.addr)
	}
	c.mu.Unlock()
	conn.Close(true)
}

// Len returns the number of open connections.
func (c *Client) Len() int { return c.reactor.Len() }

// Metrics returns the current counter values.
func (c *Client) Metrics() map[string]int64 { return c.metrics.GetSnapshot() }

// Close closes every connection and stops the reactor.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.done
		return nil
	}
	c.closed = true
	c.conns = nil
	c.mu.Unlock()

	c.cancel()
	<-c.done
	return c.runErr
}
