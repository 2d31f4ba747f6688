// Package fake
// Author: momentics <momentics@gmail.com>
//
// Scripted poller for reactor tests.

package fake

import (
	"sync"
	"time"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/reactor"
)

// Registration is the last arming of a descriptor.
type Registration struct {
	Token uint64
	Mask  api.Interest
	Armed int
}

// Poller satisfies reactor.Poller. Events are injected by the test and
// handed out by Wait; arming calls are recorded per descriptor.
type Poller struct {
	mu      sync.Mutex
	regs    map[uintptr]Registration
	removed []uintptr
	events  chan reactor.Event
	wake    chan struct{}
	closed  bool
}

// NewPoller creates an empty poller.
func NewPoller() *Poller {
	return &Poller{
		regs:   make(map[uintptr]Registration),
		events: make(chan reactor.Event, 1024),
		wake:   make(chan struct{}, 1),
	}
}

// Inject queues an event for Wait.
func (p *Poller) Inject(ev reactor.Event) { p.events <- ev }

// Registration returns the arming of fd.
func (p *Poller) Registration(fd uintptr) (Registration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.regs[fd]
	return r, ok
}

// Removed returns the unregistered descriptors in order.
func (p *Poller) Removed() []uintptr {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uintptr(nil), p.removed...)
}

// Closed reports whether Close was called.
func (p *Poller) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Register implements reactor.Poller.
func (p *Poller) Register(fd uintptr, token uint64, mask api.Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.regs[fd]; ok {
		return api.Errorf(api.ErrCodeInvalidArgument, "fd %d already registered", fd)
	}
	p.regs[fd] = Registration{Token: token, Mask: mask, Armed: 1}
	return nil
}

// Modify implements reactor.Poller.
func (p *Poller) Modify(fd uintptr, token uint64, mask api.Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.regs[fd]
	if !ok {
		return api.Errorf(api.ErrCodeInvalidArgument, "fd %d not registered", fd)
	}
	p.regs[fd] = Registration{Token: token, Mask: mask, Armed: r.Armed + 1}
	return nil
}

// Unregister implements reactor.Poller.
func (p *Poller) Unregister(fd uintptr) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.regs, fd)
	p.removed = append(p.removed, fd)
	return nil
}

// Wait implements reactor.Poller.
func (p *Poller) Wait(events []reactor.Event, timeout time.Duration) (int, error) {
	var timer <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	n := 0
	select {
	case ev := <-p.events:
		events[n] = ev
		n++
	case <-p.wake:
		return 0, nil
	case <-timer:
		return 0, nil
	}
	for n < len(events) {
		select {
		case ev := <-p.events:
			events[n] = ev
			n++
		default:
			return n, nil
		}
	}
	return n, nil
}

// Wakeup implements reactor.Poller.
func (p *Poller) Wakeup() error {
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close implements reactor.Poller.
func (p *Poller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

var _ reactor.Poller = (*Poller)(nil)
