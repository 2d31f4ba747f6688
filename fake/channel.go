// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the core interfaces.

package fake

import (
	"bytes"
	"io"
	"sync"

	"github.com/momentics/hioload-nio/api"
)

// Channel is a scripted api.SelectableChannel. Reads replay queued chunks,
// where a nil chunk stands for one would-block result. Writes are captured.
type Channel struct {
	mu sync.Mutex

	reads   [][]byte
	readEOF bool
	readErr error

	written    bytes.Buffer
	writeLimit int
	blocked    bool
	writeErr   error
	writeCalls int

	closed     bool
	closeCount int
	fd         uintptr
}

// NewChannel creates an empty scripted channel. Reads would block until
// data is queued.
func NewChannel() *Channel {
	return &Channel{}
}

// AddRead queues a chunk returned by subsequent reads. A chunk larger than
// the caller's slice is returned over several reads.
func (c *Channel) AddRead(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads = append(c.reads, bytes.Clone(data))
}

// AddReadString is AddRead for strings.
func (c *Channel) AddReadString(s string) { c.AddRead([]byte(s)) }

// AddWouldBlock queues one (0, nil) read result.
func (c *Channel) AddWouldBlock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads = append(c.reads, nil)
}

// CloseRead makes reads return io.EOF once the script is exhausted.
func (c *Channel) CloseRead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readEOF = true
}

// SetReadError makes reads fail with err once the script is exhausted.
func (c *Channel) SetReadError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readErr = err
}

// Read implements api.Channel.
func (c *Channel) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, api.ErrTransportClosed
	}
	if len(c.reads) == 0 {
		switch {
		case c.readErr != nil:
			return 0, c.readErr
		case c.readEOF:
			return 0, io.EOF
		default:
			return 0, nil
		}
	}
	head := c.reads[0]
	if head == nil {
		c.reads = c.reads[1:]
		return 0, nil
	}
	n := copy(p, head)
	if n < len(head) {
		c.reads[0] = head[n:]
	} else {
		c.reads = c.reads[1:]
	}
	return n, nil
}

// PendingReads returns the number of queued read results.
func (c *Channel) PendingReads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reads)
}

// SetWriteLimit caps the bytes accepted per Write; 0 removes the cap.
func (c *Channel) SetWriteLimit(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeLimit = n
}

// SetBlocked makes writes return (0, nil) while blocked is true.
func (c *Channel) SetBlocked(blocked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocked = blocked
}

// SetWriteError makes writes fail with err.
func (c *Channel) SetWriteError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// Write implements api.Channel.
func (c *Channel) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeCalls++
	if c.closed {
		return 0, api.ErrTransportClosed
	}
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	if c.blocked {
		return 0, nil
	}
	if c.writeLimit > 0 && len(p) > c.writeLimit {
		p = p[:c.writeLimit]
	}
	return c.written.Write(p)
}

// Written returns a copy of everything written so far.
func (c *Channel) Written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.written.Bytes())
}

// TakeWritten returns and clears the captured output.
func (c *Channel) TakeWritten() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := bytes.Clone(c.written.Bytes())
	c.written.Reset()
	return out
}

// WriteCalls returns the number of Write invocations.
func (c *Channel) WriteCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeCalls
}

// Close implements api.Channel.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeCount++
	return nil
}

// Closed reports whether Close was called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// CloseCount returns the number of Close invocations.
func (c *Channel) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}

// SetFD sets the value returned by RawFD.
func (c *Channel) SetFD(fd uintptr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fd = fd
}

// RawFD implements api.SelectableChannel.
func (c *Channel) RawFD() uintptr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fd
}

var _ api.SelectableChannel = (*Channel)(nil)
