// File: protocol/exchange.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Request/response pairing. Server connections reserve a response slot for
// every delivered request; client connections track a Pending per request.

package protocol

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-nio/api"
	coreproto "github.com/momentics/hioload-nio/core/protocol"
)

// slot is one entry of the outbound queue: a reserved response position on
// servers, a submitted request on clients.
type slot struct {
	msg *coreproto.Outgoing

	// Server side: the request being answered.
	method    string
	http10    bool
	keepAlive bool
	ready     bool
	cancelled bool

	// Client side.
	pending *Pending
}

// Exchange is one delivered request together with the right to answer it.
type Exchange struct {
	conn      *Connection
	req       *coreproto.Message
	slot      *slot
	responded atomic.Bool
}

// Request returns the delivered message. It is nil for exchanges created
// for malformed input.
func (e *Exchange) Request() *coreproto.Message { return e.req }

// Connection returns the connection the request arrived on.
func (e *Exchange) Connection() *Connection { return e.conn }

// CanRespond reports whether Respond may still succeed.
func (e *Exchange) CanRespond() bool {
	return e.slot != nil && !e.responded.Load() && e.conn.State() != api.StateClosed
}

// Respond submits the answer. Responses are written in request order, so
// an answer waits until every earlier request has been answered.
func (e *Exchange) Respond(out *coreproto.Outgoing) error {
	if out == nil {
		return api.ErrInvalidArgument
	}
	if e.slot == nil {
		return api.Errorf(api.ErrCodeInvalidArgument, "exchange cannot be answered")
	}
	if !e.responded.CompareAndSwap(false, true) {
		return api.Errorf(api.ErrCodeInvalidArgument, "exchange already answered")
	}
	return e.conn.OutboundWay().fill(e.slot, out)
}

// cancel gives up the slot so later responses are not held back.
func (e *Exchange) cancel() {
	if e.slot == nil || !e.responded.CompareAndSwap(false, true) {
		return
	}
	e.conn.OutboundWay().cancel(e.slot)
}

// Pending is a submitted client request awaiting its response.
type Pending struct {
	req  *coreproto.Outgoing
	done chan struct{}
	once sync.Once
	resp *coreproto.Message
	err  error
}

func newPending(req *coreproto.Outgoing) *Pending {
	return &Pending{req: req, done: make(chan struct{})}
}

// Request returns the submitted message.
func (p *Pending) Request() *coreproto.Outgoing { return p.req }

// Done is closed once the response head arrived or the request failed.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the response is available. A streamed response body
// may still be arriving when Wait returns.
func (p *Pending) Wait(ctx context.Context) (*coreproto.Message, error) {
	select {
	case <-p.done:
		return p.resp, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolve reports whether this call settled p.
func (p *Pending) resolve(resp *coreproto.Message, err error) bool {
	settled := false
	p.once.Do(func() {
		p.resp, p.err = resp, err
		close(p.done)
		settled = true
	})
	return settled
}
