// File: transport/buffered.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Channel decorator replaying carry-over bytes before delegating reads.

package transport

import (
	"github.com/momentics/hioload-nio/api"
)

// BufferedChannel returns its carry-over bytes before reading from the
// wrapped channel. Writes and Close go straight to the wrapped channel.
type BufferedChannel struct {
	inner api.Channel
	carry []byte
}

// NewBufferedChannel wraps ch. carry is copied.
func NewBufferedChannel(ch api.Channel, carry []byte) *BufferedChannel {
	b := &BufferedChannel{inner: ch}
	if len(carry) > 0 {
		b.carry = append([]byte(nil), carry...)
	}
	return b
}

// Read drains carry-over first. Once it is exhausted reads are delegated.
func (b *BufferedChannel) Read(p []byte) (int, error) {
	if len(b.carry) > 0 {
		n := copy(p, b.carry)
		b.carry = b.carry[n:]
		if len(b.carry) == 0 {
			b.carry = nil
		}
		return n, nil
	}
	return b.inner.Read(p)
}

// Write delegates to the wrapped channel.
func (b *BufferedChannel) Write(p []byte) (int, error) {
	return b.inner.Write(p)
}

// Close delegates to the wrapped channel and drops carry-over.
func (b *BufferedChannel) Close() error {
	b.carry = nil
	return b.inner.Close()
}

// Buffered returns the number of carry-over bytes not yet read.
func (b *BufferedChannel) Buffered() int { return len(b.carry) }

// RawFD returns the wrapped channel's descriptor, or 0 when it has none.
func (b *BufferedChannel) RawFD() uintptr {
	if sc, ok := b.inner.(api.SelectableChannel); ok {
		return sc.RawFD()
	}
	return 0
}

// Unwrap returns the wrapped channel.
func (b *BufferedChannel) Unwrap() api.Channel { return b.inner }
