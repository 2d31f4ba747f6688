// File: protocol/connection.go
// Package protocol implements the connection engine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection encapsulates one duplex byte stream, its lifecycle and its two
// ways. The reactor drives it through MarkReady, Process, Interest and
// CheckTimeouts; applications talk to it through exchanges and pendings.

package protocol

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/control"
	"github.com/momentics/hioload-nio/core/buffer"
	coreproto "github.com/momentics/hioload-nio/core/protocol"
	"github.com/momentics/hioload-nio/pool"
	"github.com/momentics/hioload-nio/transport"
)

// Options configures a Connection.
type Options struct {
	Config control.Config
	Role   api.Role

	// Session enables transport encryption. The connection stays OPENING
	// until its handshake completes.
	Session api.SecureSession

	// Handler is required for servers and optional for clients.
	Handler  Handler
	Notifier Notifier

	Logger    *slog.Logger
	Metrics   *control.MetricsRegistry
	Allocator buffer.Allocator

	// OnClosed runs once the connection is CLOSED, before its channel is
	// closed.
	OnClosed func(*Connection)

	// Now overrides the clock used for deadlines.
	Now func() time.Time
}

type channelRef struct{ ch api.Channel }

// Connection is one endpoint of an HTTP/1.x connection.
type Connection struct {
	id       atomic.Uint64
	trace    string
	role     api.Role
	cfg      control.Config
	log      *slog.Logger
	metrics  *control.MetricsRegistry
	alloc    buffer.Allocator
	handler  Handler
	notifier Notifier
	onClosed func(*Connection)
	now      func() time.Time

	raw      api.Channel
	channel  atomic.Pointer[channelRef]
	session  api.SecureSession
	security atomic.Pointer[api.SecurityInfo]

	state        atomic.Int32
	opened       atomic.Bool
	lastActivity atomic.Int64

	// reserved counts response slots not yet serialized, awaiting counts
	// client requests without a response head.
	reserved atomic.Int32
	awaiting atomic.Int32
	// noMore is set once no further messages will be read.
	noMore atomic.Bool

	mu                sync.Mutex
	handshakeDeadline time.Time
	closeDeadline     time.Time
	closeErr          error

	inOnce  sync.Once
	in      *InboundWay
	outOnce sync.Once
	out     *OutboundWay

	closeOnce sync.Once
	done      chan struct{}
}

// NewConnection binds a connection to ch. Open must be called before the
// connection is driven.
func NewConnection(ch api.Channel, opts Options) (*Connection, error) {
	if ch == nil {
		return nil, api.Errorf(api.ErrCodeInvalidArgument, "connection requires a channel")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, api.WrapError(api.ErrCodeInvalidArgument, err, "invalid connection config")
	}
	if opts.Role == api.RoleServer && opts.Handler == nil {
		return nil, api.Errorf(api.ErrCodeInvalidArgument, "server connection requires a handler")
	}

	c := &Connection{
		trace:    uuid.NewString(),
		role:     opts.Role,
		cfg:      opts.Config,
		metrics:  opts.Metrics,
		alloc:    opts.Allocator,
		handler:  opts.Handler,
		notifier: opts.Notifier,
		onClosed: opts.OnClosed,
		now:      opts.Now,
		raw:      ch,
		session:  opts.Session,
		done:     make(chan struct{}),
	}
	if c.alloc == nil {
		c.alloc = pool.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = control.Nop()
	}
	c.log = logger.With("trace", c.trace, "role", c.role.String())
	c.channel.Store(&channelRef{ch: ch})
	c.state.Store(int32(api.StateOpening))
	return c, nil
}

// ID returns the reactor-assigned identifier.
func (c *Connection) ID() uint64 { return c.id.Load() }

// SetID assigns the identifier. It is called once, before registration.
func (c *Connection) SetID(id uint64) {
	c.id.Store(id)
	c.log = c.log.With("conn", id)
}

// Trace returns the random id carried in log records.
func (c *Connection) Trace() string { return c.trace }

// Role returns the endpoint role.
func (c *Connection) Role() api.Role { return c.role }

// Config returns the configuration the connection was built with.
func (c *Connection) Config() control.Config { return c.cfg }

// Channel returns the raw channel the connection was built on.
func (c *Connection) Channel() api.Channel { return c.raw }

// FD returns the descriptor of the raw channel, if it has one.
func (c *Connection) FD() (uintptr, bool) {
	if sc, ok := c.raw.(api.SelectableChannel); ok {
		return sc.RawFD(), true
	}
	return 0, false
}

// State returns the lifecycle state.
func (c *Connection) State() api.ConnectionState {
	return api.ConnectionState(c.state.Load())
}

// Security returns the negotiated session parameters, or nil.
func (c *Connection) Security() *api.SecurityInfo { return c.security.Load() }

// Done is closed when the connection reaches CLOSED.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Err returns the reason the connection closed, nil for an orderly close.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// LastActivity returns the time of the last byte moved in either direction.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// InboundWay returns the parsing way, creating it on first use.
func (c *Connection) InboundWay() *InboundWay {
	c.inOnce.Do(func() { c.in = newInboundWay(c) })
	return c.in
}

// OutboundWay returns the serializing way, creating it on first use.
func (c *Connection) OutboundWay() *OutboundWay {
	c.outOnce.Do(func() { c.out = newOutboundWay(c) })
	return c.out
}

// Open starts the connection. Plain connections become OPEN; encrypted ones
// stay OPENING and a client queues its first handshake flight.
func (c *Connection) Open() error {
	if !c.opened.CompareAndSwap(false, true) {
		return api.Errorf(api.ErrCodeInvalidArgument, "connection already opened")
	}
	in, out := c.InboundWay(), c.OutboundWay()
	c.touch()
	c.metrics.Inc(control.MetricConnectionsOpened)

	if c.session == nil {
		c.transition(api.StateOpen)
	} else {
		if c.cfg.HandshakeTimeout > 0 {
			c.mu.Lock()
			c.handshakeDeadline = c.now().Add(c.cfg.HandshakeTimeout)
			c.mu.Unlock()
		}
		if c.role == api.RoleClient {
			flight, _, _, err := c.session.Handshake(nil)
			if err != nil {
				err = handshakeErr(err)
				c.finalize(err)
				return err
			}
			if err := out.queueRaw(flight); err != nil {
				c.finalize(err)
				return err
			}
		}
	}
	in.refresh()
	out.refresh()
	return nil
}

// Send submits a client request. Requests are written in submission order
// and matched to responses in the same order.
func (c *Connection) Send(req *coreproto.Outgoing) (*Pending, error) {
	if c.role != api.RoleClient {
		return nil, api.ErrNotSupported
	}
	if req == nil || !req.IsRequest() {
		return nil, api.Errorf(api.ErrCodeInvalidArgument, "send requires a request")
	}
	if st := c.State(); (st != api.StateOpening && st != api.StateOpen) || c.noMore.Load() {
		return nil, api.ErrConnectionClosed
	}
	p := newPending(req)
	c.awaiting.Add(1)
	if err := c.OutboundWay().enqueue(&slot{msg: req, ready: true, pending: p}); err != nil {
		c.awaiting.Add(-1)
		return nil, err
	}
	return p, nil
}

// IoState returns the readiness state of dir.
func (c *Connection) IoState(dir api.Direction) api.IoState {
	return api.IoState(c.ioOf(dir).Load())
}

func (c *Connection) ioOf(dir api.Direction) *atomic.Int32 {
	if dir == api.Inbound {
		return &c.InboundWay().io
	}
	return &c.OutboundWay().io
}

// Interest returns the directions waiting for readiness.
func (c *Connection) Interest() api.Interest {
	if c.State() == api.StateClosed {
		return api.InterestNone
	}
	var mask api.Interest
	if c.IoState(api.Inbound) == api.IoInterest {
		mask |= api.InterestRead
	}
	if c.IoState(api.Outbound) == api.IoInterest {
		mask |= api.InterestWrite
	}
	return mask
}

// MarkReady moves dir to READY. Only the caller that wins the transition
// may schedule Process for dir.
func (c *Connection) MarkReady(dir api.Direction) bool {
	if c.State() == api.StateClosed {
		return false
	}
	io := c.ioOf(dir)
	for {
		cur := api.IoState(io.Load())
		if cur != api.IoInterest && cur != api.IoIdle {
			return false
		}
		if io.CompareAndSwap(int32(cur), int32(api.IoReady)) {
			return true
		}
	}
}

// Process runs one I/O cycle of dir and re-evaluates the lifecycle.
func (c *Connection) Process(dir api.Direction) {
	var err error
	if dir == api.Inbound {
		err = c.InboundWay().process()
	} else {
		err = c.OutboundWay().process()
	}
	if err != nil {
		c.fail(err)
	}
	c.UpdateState()
}

// UpdateState re-evaluates the lifecycle from the status of both ways.
func (c *Connection) UpdateState() {
	if c.State() == api.StateOpen {
		in := c.InboundWay().status()
		out := c.OutboundWay().status()
		quiet := !in.busy && !out.pending && !out.queued && c.awaiting.Load() == 0
		if quiet && (in.eof || in.stopped || out.closeAfter) {
			c.closeWith(nil, true)
		}
	}
	if c.State() != api.StateClosing {
		return
	}
	out := c.OutboundWay().status()
	if !out.pending && !out.queued && c.awaiting.Load() == 0 {
		c.finalize(nil)
		return
	}
	c.mu.Lock()
	expired := !c.closeDeadline.IsZero() && !c.now().Before(c.closeDeadline)
	c.mu.Unlock()
	if expired {
		c.finalize(api.ErrCloseTimeout)
	}
}

// Close ends the connection. A graceful close stops reading and keeps
// draining output until nothing is pending or the close deadline passed;
// otherwise pending output is discarded.
func (c *Connection) Close(graceful bool) {
	c.closeWith(nil, graceful)
	c.UpdateState()
}

// CheckTimeouts applies the handshake, idle and close deadlines.
func (c *Connection) CheckTimeouts(now time.Time) {
	switch c.State() {
	case api.StateOpening:
		c.mu.Lock()
		expired := !c.handshakeDeadline.IsZero() && now.After(c.handshakeDeadline)
		c.mu.Unlock()
		if expired {
			c.fail(api.WrapError(api.ErrCodeHandshake, api.ErrHandshakeTimeout, "handshake did not complete"))
			c.UpdateState()
		}

	case api.StateOpen:
		if c.cfg.IdleTimeout <= 0 || now.Sub(c.LastActivity()) <= c.cfg.IdleTimeout {
			return
		}
		if c.role == api.RoleServer && c.reserved.Load() > 0 && !c.InboundWay().status().busy {
			// The application still owes a response.
			return
		}
		err := api.WrapError(api.ErrCodeIO, api.ErrIdleTimeout, "connection idle")
		c.log.Debug("idle timeout", "idle", now.Sub(c.LastActivity()))
		c.InboundWay().interrupt(err)
		c.closeWith(err, true)
		c.UpdateState()

	case api.StateClosing:
		c.mu.Lock()
		expired := !c.closeDeadline.IsZero() && now.After(c.closeDeadline)
		c.mu.Unlock()
		if expired {
			c.finalize(api.ErrCloseTimeout)
		}
	}
}

// transition moves to next if the lifecycle allows it.
func (c *Connection) transition(next api.ConnectionState) bool {
	for {
		cur := api.ConnectionState(c.state.Load())
		if !validTransition(cur, next) {
			return false
		}
		if c.state.CompareAndSwap(int32(cur), int32(next)) {
			c.log.Debug("state changed", "from", cur.String(), "state", next.String())
			return true
		}
	}
}

func validTransition(from, to api.ConnectionState) bool {
	switch to {
	case api.StateOpen:
		return from == api.StateOpening
	case api.StateClosing:
		return from == api.StateOpening || from == api.StateOpen
	case api.StateClosed:
		return from != api.StateClosed
	}
	return false
}

// closeWith starts a close. reason, when set, is recorded and fails every
// queued message that has not started.
func (c *Connection) closeWith(reason error, graceful bool) {
	if !graceful {
		c.finalize(reason)
		return
	}
	if !c.transition(api.StateClosing) {
		return
	}
	c.mu.Lock()
	if c.cfg.CloseTimeout > 0 {
		c.closeDeadline = c.now().Add(c.cfg.CloseTimeout)
	}
	if c.closeErr == nil {
		c.closeErr = reason
	}
	c.mu.Unlock()

	c.noMore.Store(true)
	if reason != nil {
		c.failPendings(c.OutboundWay().abandon(), reason)
	}
	c.InboundWay().refresh()
	c.resume(api.Outbound)
}

// fail handles a connection-fatal error. Handshake failures still drain
// their alert; anything else closes at once.
func (c *Connection) fail(err error) {
	if c.State() == api.StateClosed {
		return
	}
	c.report(err)
	if errors.Is(err, api.HandshakeError) {
		c.closeWith(err, true)
		return
	}
	c.finalize(err)
}

func (c *Connection) report(err error) {
	c.countError(err)
	c.log.Warn("connection error", "state", c.State().String(), "error", err)
	if c.handler != nil {
		c.handler.OnError(nil, err)
	}
}

func (c *Connection) countError(err error) {
	c.metrics.Inc(control.MetricErrorPrefix + api.CodeOf(err).String())
}

// finalize moves to CLOSED exactly once.
func (c *Connection) finalize(reason error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.closeErr == nil {
			c.closeErr = reason
		}
		reason = c.closeErr
		c.mu.Unlock()

		c.transition(api.StateClosed)
		c.noMore.Store(true)
		if c.onClosed != nil {
			c.onClosed(c)
		}

		failure := reason
		if failure == nil {
			failure = api.ErrConnectionClosed
		}
		in, out := c.InboundWay(), c.OutboundWay()
		in.mu.Lock()
		out.mu.Lock()
		in.shutdownLocked(failure)
		pendings := out.shutdownLocked()
		if err := c.dataChannel().Close(); err != nil {
			c.log.Debug("channel close failed", "error", err)
		}
		if c.session != nil && c.security.Load() == nil {
			// Without an upgrade no secure channel owns the session.
			if _, err := c.session.Close(); err != nil {
				c.log.Debug("session close failed", "error", err)
			}
		}
		out.mu.Unlock()
		in.mu.Unlock()

		c.failPendings(pendings, failure)
		c.metrics.Inc(control.MetricConnectionsClosed)
		if reason != nil && !errors.Is(reason, api.ErrCloseTimeout) {
			c.log.Debug("connection closed", "error", reason)
		} else {
			c.log.Debug("connection closed")
		}
		close(c.done)
	})
}

// resume asks for a cycle of dir outside readiness notifications. When dir
// is already scheduled or running, the running cycle is told to go again.
func (c *Connection) resume(dir api.Direction) {
	if c.State() == api.StateClosed {
		return
	}
	if c.MarkReady(dir) {
		if c.notifier != nil {
			c.notifier.Wake(c, dir)
		}
		return
	}
	if dir == api.Inbound {
		c.InboundWay().again.Store(true)
	} else {
		c.OutboundWay().again.Store(true)
	}
}

func (c *Connection) dataChannel() api.Channel { return c.channel.Load().ch }

// upgrade switches the data channel to the established session. carry holds
// bytes received after the last handshake record.
func (c *Connection) upgrade(carry []byte) {
	info := c.session.Info()
	c.security.Store(&info)
	c.channel.Store(&channelRef{
		ch: transport.NewSecureChannel(c.session, transport.NewBufferedChannel(c.raw, carry)),
	})
	c.mu.Lock()
	c.handshakeDeadline = time.Time{}
	c.mu.Unlock()
	c.metrics.Inc(control.MetricHandshakes)
	c.log.Debug("handshake complete", "protocol", info.Protocol, "cipher", info.CipherSuite, "carry", len(carry))
	c.transition(api.StateOpen)
}

func (c *Connection) touch() { c.lastActivity.Store(c.now().UnixNano()) }

func (c *Connection) failPendings(ps []*Pending, err error) {
	for _, p := range ps {
		c.settlePending(p, nil, err)
	}
}

func (c *Connection) settlePending(p *Pending, resp *coreproto.Message, err error) {
	if p.resolve(resp, err) {
		c.awaiting.Add(-1)
	}
}

// serve hands a request to the handler. An exchange left unanswered by a
// panicking handler closes the connection.
func (c *Connection) serve(ex *Exchange) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("handler panic", "panic", r, "seq", ex.req.Seq)
			ex.cancel()
			c.closeWith(api.Errorf(api.ErrCodeInternal, "handler panic: %v", r), true)
			c.UpdateState()
		}
	}()
	c.handler.OnMessage(ex)
}

func handshakeErr(err error) error {
	if errors.Is(err, api.HandshakeError) {
		return err
	}
	return api.WrapError(api.ErrCodeHandshake, err, "handshake failed")
}
