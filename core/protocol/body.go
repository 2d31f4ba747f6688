// File: core/protocol/body.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// BodyStream carries a body from the inbound way to its consumer with a
// bounded amount of buffered data. The producer stops filling while the
// stream is full and is resumed through a hook once the consumer has read
// enough.

package protocol

import (
	"io"
	"sync"

	"github.com/momentics/hioload-nio/api"
)

// BodyStream is an io.ReadCloser fed by a connection.
type BodyStream struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []byte
	limit    int
	received int64
	done     bool
	err      error
	closed   bool
	paused   bool
	onResume func()
	onData   func()
}

// NewBodyStream creates a stream buffering at most about limit bytes.
// onResume is called, without locks held, when a paused producer may fill
// again.
func NewBodyStream(limit int, onResume func()) *BodyStream {
	if limit <= 0 {
		limit = 1
	}
	s := &BodyStream{limit: limit, onResume: onResume}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Write appends body bytes. Once the consumer closed the stream the bytes
// are discarded.
func (s *BodyStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return 0, api.ErrConnectionClosed
	}
	s.received += int64(len(p))
	if !s.closed {
		s.buf = append(s.buf, p...)
	}
	hook := s.onData
	s.mu.Unlock()

	s.cond.Broadcast()
	if hook != nil {
		hook()
	}
	return len(p), nil
}

// Finish ends the stream. A nil err is a clean end of body.
func (s *BodyStream) Finish(err error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done, s.err = true, err
	hook := s.onData
	s.mu.Unlock()

	s.cond.Broadcast()
	if hook != nil {
		hook()
	}
}

// Full reports whether the producer should stop filling. A full stream is
// marked paused so the next read below the limit triggers onResume.
func (s *BodyStream) Full() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	full := !s.closed && len(s.buf) >= s.limit
	if full {
		s.paused = true
	}
	return full
}

// Read blocks until body bytes are available or the body ended.
func (s *BodyStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	for len(s.buf) == 0 && !s.done && !s.closed {
		s.cond.Wait()
	}
	return s.readLocked(p)
}

// ReadAvailable is the non-blocking Read: it returns (0, nil) when no bytes
// are buffered and the body has not ended.
func (s *BodyStream) ReadAvailable(p []byte) (int, error) {
	s.mu.Lock()
	return s.readLocked(p)
}

// readLocked unlocks s.mu.
func (s *BodyStream) readLocked(p []byte) (int, error) {
	if s.closed {
		s.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if len(s.buf) == 0 {
		done, err := s.done, s.err
		s.mu.Unlock()
		if !done {
			return 0, nil
		}
		if err == nil {
			err = io.EOF
		}
		return 0, err
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	if len(s.buf) == 0 {
		s.buf = nil
	}
	resume := s.takeResumeLocked()
	s.mu.Unlock()

	if resume != nil {
		resume()
	}
	return n, nil
}

func (s *BodyStream) takeResumeLocked() func() {
	if s.paused && len(s.buf) < s.limit {
		s.paused = false
		return s.onResume
	}
	return nil
}

// Notify registers fn to be called whenever data arrives or the body ends.
// It reports whether a read would make progress right now.
func (s *BodyStream) Notify(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onData = fn
	return len(s.buf) > 0 || s.done || s.closed
}

// Close discards unread and future bytes and resumes a paused producer.
func (s *BodyStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.buf = nil
	resume := s.takeResumeLocked()
	s.mu.Unlock()

	s.cond.Broadcast()
	if resume != nil {
		resume()
	}
	return nil
}

// Done reports whether the producer finished.
func (s *BodyStream) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Buffered returns the number of unread bytes.
func (s *BodyStream) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// Received returns the total number of body bytes produced.
func (s *BodyStream) Received() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received
}
