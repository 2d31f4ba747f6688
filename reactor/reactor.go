// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Reactor owns the poll loop. It marks directions READY on readiness,
// hands their cycles to the executor and re-arms descriptors once a cycle
// is done. A sweeper applies connection deadlines.

package reactor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/control"
	"github.com/momentics/hioload-nio/internal/concurrency"
	"github.com/momentics/hioload-nio/protocol"
)

// Options configures a Reactor.
type Options struct {
	Config  control.Config
	Logger  *slog.Logger
	Metrics *control.MetricsRegistry

	// Poller defaults to NewPoller().
	Poller Poller
	// Executor defaults to one of Config.Workers workers owned by the
	// reactor.
	Executor *concurrency.Executor

	// Now overrides the sweeper clock.
	Now func() time.Time
}

// Reactor dispatches readiness of registered connections.
type Reactor struct {
	cfg       control.Config
	log       *slog.Logger
	metrics   *control.MetricsRegistry
	poller    Poller
	exec      *concurrency.Executor
	ownExec   bool
	arena     *Arena
	now       func() time.Time
	closed    chan struct{}
	closeOnce sync.Once
}

// New creates a reactor. Run must be called to start dispatching.
func New(opts Options) (*Reactor, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, api.WrapError(api.ErrCodeInvalidArgument, err, "invalid reactor config")
	}
	r := &Reactor{
		cfg:     opts.Config,
		log:     opts.Logger,
		metrics: opts.Metrics,
		poller:  opts.Poller,
		exec:    opts.Executor,
		arena:   NewArena(),
		now:     opts.Now,
		closed:  make(chan struct{}),
	}
	if r.log == nil {
		r.log = control.Nop()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.poller == nil {
		p, err := NewPoller()
		if err != nil {
			return nil, err
		}
		r.poller = p
	}
	if r.exec == nil {
		r.exec = concurrency.NewExecutor(r.cfg.Workers, func(v any) {
			r.log.Error("task panic", "panic", v)
		}, ExecutorOptions(r.cfg)...)
		r.ownExec = true
	}
	return r, nil
}

// Len returns the number of registered connections.
func (r *Reactor) Len() int { return r.arena.Len() }

// Connections returns the registered connections.
func (r *Reactor) Connections() []*protocol.Connection { return r.arena.Snapshot() }

// Register opens c and arms its descriptor. c must have been created with
// the reactor as its Notifier and Detach in its OnClosed chain.
func (r *Reactor) Register(c *protocol.Connection) error {
	select {
	case <-r.closed:
		c.Close(false)
		return api.ErrTransportClosed
	default:
	}
	fd, ok := c.FD()
	if !ok {
		return api.Errorf(api.ErrCodeInvalidArgument, "connection channel has no descriptor")
	}
	token := r.arena.Insert(c, fd)
	c.SetID(token)
	if err := c.Open(); err != nil {
		r.arena.Remove(token)
		return err
	}

	e := r.arena.acquire(token)
	if e == nil {
		// Closed while opening.
		return api.ErrConnectionClosed
	}
	err := r.poller.Register(fd, token, c.Interest())
	if err == nil {
		e.registered = true
	}
	e.mu.Unlock()
	if err != nil {
		c.Close(false)
		return err
	}
	r.log.Debug("connection registered", "conn", token, "fd", fd)
	return nil
}

// Detach removes c from the poller and the arena. It is meant for the
// connection's OnClosed hook, which runs before the channel is closed.
func (r *Reactor) Detach(c *protocol.Connection) {
	token := c.ID()
	if e := r.arena.acquire(token); e != nil {
		if e.registered {
			if err := r.poller.Unregister(e.fd); err != nil {
				r.log.Debug("unregister failed", "conn", token, "error", err)
			}
			e.registered = false
		}
		e.mu.Unlock()
	}
	r.arena.Remove(token)
}

// Wake implements protocol.Notifier: the connection already moved dir to
// READY and the cycle runs on the executor.
func (r *Reactor) Wake(c *protocol.Connection, dir api.Direction) {
	r.submit(c, dir)
}

func (r *Reactor) submit(c *protocol.Connection, dir api.Direction) {
	r.metrics.Inc(control.MetricDispatches)
	err := r.exec.Submit(func() {
		c.Process(dir)
		r.rearm(c)
	})
	if err != nil {
		r.log.Debug("dispatch rejected", "conn", c.ID(), "error", err)
		c.Close(false)
	}
}

// rearm arms the descriptor for the directions still waiting. The mask is
// read and applied under the slot lock so a stale mask never overwrites a
// newer one.
func (r *Reactor) rearm(c *protocol.Connection) {
	e := r.arena.acquire(c.ID())
	if e == nil {
		return
	}
	defer e.mu.Unlock()
	if !e.registered {
		return
	}
	mask := c.Interest()
	if mask == api.InterestNone {
		return
	}
	if err := r.poller.Modify(e.fd, c.ID(), mask); err != nil {
		r.log.Debug("re-arm failed", "conn", c.ID(), "error", err)
	}
}

// dispatch hands the ready directions of one event to the executor.
func (r *Reactor) dispatch(ev Event) {
	c, ok := r.arena.Get(ev.Token)
	if !ok {
		return
	}
	ready := ev.Ready
	if ev.Hangup {
		ready |= c.Interest()
	}
	submitted := false
	if ready.Has(api.InterestRead) && c.MarkReady(api.Inbound) {
		r.submit(c, api.Inbound)
		submitted = true
	}
	if ready.Has(api.InterestWrite) && c.MarkReady(api.Outbound) {
		r.submit(c, api.Outbound)
		submitted = true
	}
	if !submitted {
		r.rearm(c)
	}
}

// Run polls until ctx is done or the poller fails. On return every
// registered connection is closed and the reactor cannot be reused.
func (r *Reactor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.loop(ctx) })
	g.Go(func() error { return r.sweep(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		return r.poller.Wakeup()
	})
	err := g.Wait()
	r.shutdown()
	return err
}

func (r *Reactor) loop(ctx context.Context) error {
	events := make([]Event, r.cfg.PollBatch)
	for ctx.Err() == nil {
		n, err := r.poller.Wait(events, r.cfg.SweepInterval)
		if err != nil {
			return err
		}
		r.metrics.Add(control.MetricPollEvents, int64(n))
		for i := 0; i < n; i++ {
			r.dispatch(events[i])
		}
	}
	return nil
}

// sweep applies deadlines once per sweep interval.
func (r *Reactor) sweep(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep checks the deadlines of every connection now.
func (r *Reactor) Sweep() {
	now := r.now()
	for _, c := range r.arena.Snapshot() {
		c.CheckTimeouts(now)
	}
}

// CloseAll closes every registered connection.
func (r *Reactor) CloseAll(graceful bool) {
	for _, c := range r.arena.Snapshot() {
		c.Close(graceful)
	}
}

func (r *Reactor) shutdown() {
	r.closeOnce.Do(func() { close(r.closed) })
	r.CloseAll(false)
	if r.ownExec {
		r.exec.Close()
	}
	if err := r.poller.Close(); err != nil {
		r.log.Debug("poller close failed", "error", err)
	}
	r.log.Debug("reactor stopped")
}

// ExecutorOptions returns the worker pool options cfg asks for.
func ExecutorOptions(cfg control.Config) []concurrency.Option {
	var opts []concurrency.Option
	if cfg.PinWorkers {
		opts = append(opts, concurrency.WithPinning())
	}
	return opts
}
