// File: client/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client

import (
	"context"

	"github.com/momentics/hioload-nio/api"
	coreproto "github.com/momentics/hioload-nio/core/protocol"
	"github.com/momentics/hioload-nio/protocol"
)

// Conn is one client connection. Requests may be pipelined; responses are
// matched in submission order.
type Conn struct {
	addr string
	conn *protocol.Connection
}

// Addr returns the dialed address.
func (c *Conn) Addr() string { return c.addr }

// Connection exposes the underlying engine connection.
func (c *Conn) Connection() *protocol.Connection { return c.conn }

// Send submits req without waiting. A request without a Host header is
// sent with the dialed address.
func (c *Conn) Send(req *coreproto.Outgoing) (*protocol.Pending, error) {
	if req != nil && req.IsRequest() && !req.Headers.Has(coreproto.HeaderHost) {
		req.Headers.Set(coreproto.HeaderHost, c.addr)
	}
	return c.conn.Send(req)
}

// Do submits req and waits for its response head. A streamed body is read
// from the returned message afterwards.
func (c *Conn) Do(ctx context.Context, req *coreproto.Outgoing) (*coreproto.Message, error) {
	p, err := c.Send(req)
	if err != nil {
		return nil, err
	}
	return p.Wait(ctx)
}

// Usable reports whether new requests can be sent.
func (c *Conn) Usable() bool {
	switch c.conn.State() {
	case api.StateOpening, api.StateOpen:
		return true
	}
	return false
}

// Security returns the negotiated session, or nil for plain connections
// and before the handshake completed.
func (c *Conn) Security() *api.SecurityInfo { return c.conn.Security() }

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.conn.Done() }

// Err returns the reason the connection closed.
func (c *Conn) Err() error { return c.conn.Err() }

// Close closes the connection. A graceful close first reads the responses
// still owed.
func (c *Conn) Close(graceful bool) { c.conn.Close(graceful) }
