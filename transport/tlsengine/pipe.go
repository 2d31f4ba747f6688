// File: transport/tlsengine/pipe.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// In-memory net.Conn between a tls.Conn and the engine. The engine feeds
// wire bytes into in and collects what the tls.Conn writes from out.

package tlsengine

import (
	"bytes"
	"io"
	"net"
	"sync"
	"time"
)

type pipe struct {
	mu   sync.Mutex
	cond *sync.Cond
	in   bytes.Buffer
	out  bytes.Buffer

	closed bool
	// waiting is set while the tls.Conn is blocked on an empty in.
	waiting bool

	// Session state, guarded by mu.
	hsDone     bool
	hsErr      error
	plain      bytes.Buffer
	readErr    error
	readerDone bool
}

func newPipe() *pipe {
	p := &pipe{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *pipe) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.in.Len() == 0 && !p.closed {
		p.waiting = true
		p.cond.Broadcast()
		p.cond.Wait()
	}
	p.waiting = false
	if p.in.Len() == 0 {
		return 0, io.EOF
	}
	return p.in.Read(b)
}

func (p *pipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, net.ErrClosed
	}
	p.out.Write(b)
	return len(b), nil
}

func (p *pipe) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
	return nil
}

// takeOut returns and clears the bytes written by the tls.Conn. mu held.
func (p *pipe) takeOut() []byte {
	if p.out.Len() == 0 {
		return nil
	}
	out := bytes.Clone(p.out.Bytes())
	p.out.Reset()
	return out
}

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "tlsengine" }

func (p *pipe) LocalAddr() net.Addr              { return pipeAddr{} }
func (p *pipe) RemoteAddr() net.Addr             { return pipeAddr{} }
func (p *pipe) SetDeadline(time.Time) error      { return nil }
func (p *pipe) SetReadDeadline(time.Time) error  { return nil }
func (p *pipe) SetWriteDeadline(time.Time) error { return nil }
