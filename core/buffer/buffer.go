// File: core/buffer/buffer.go
// Package buffer implements the reusable, growable byte region connections
// fill from and drain to their channels.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Buffer keeps ready bytes in data[pos:lim]. Filling appends past lim,
// draining advances pos. Storage may come from a pool and is recycled across
// messages of one connection; it only grows, up to a configured maximum.

package buffer

import (
	"errors"
	"fmt"
	"io"

	"github.com/momentics/hioload-nio/api"
)

// State is the logical mode of a Buffer.
type State int

const (
	Idle State = iota
	Filling
	Draining
	Filled
	Drained
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Filling:
		return "filling"
	case Draining:
		return "draining"
	case Filled:
		return "filled"
	case Drained:
		return "drained"
	default:
		return "unknown"
	}
}

// Allocator provides backing storage. pool.Manager satisfies it.
type Allocator interface {
	Get(size int) []byte
	Put(buf []byte)
}

// Buffer is a byte region with a fill/drain protocol. It is not safe for
// concurrent use; the owning way serializes access.
type Buffer struct {
	data  []byte
	pos   int
	lim   int
	max   int
	state State
	alloc Allocator
}

// New allocates a buffer of size bytes that may grow up to max bytes.
// A max smaller than size pins the capacity at size.
func New(size, max int) *Buffer {
	return NewWithAllocator(nil, size, max)
}

// NewWithAllocator takes storage from alloc when non-nil.
func NewWithAllocator(alloc Allocator, size, max int) *Buffer {
	if size <= 0 {
		size = 1
	}
	if max < size {
		max = size
	}
	b := &Buffer{max: max, alloc: alloc}
	b.data = b.allocate(size)
	return b
}

func (b *Buffer) allocate(size int) []byte {
	if b.alloc != nil {
		if buf := b.alloc.Get(size); cap(buf) >= size {
			return buf[:size]
		}
	}
	return make([]byte, size)
}

// Capacity returns the current storage size.
func (b *Buffer) Capacity() int { return len(b.data) }

// Max returns the growth limit.
func (b *Buffer) Max() int { return b.max }

// Len returns the number of ready bytes.
func (b *Buffer) Len() int { return b.lim - b.pos }

// Available returns the free space past the limit without compacting or growing.
func (b *Buffer) Available() int { return len(b.data) - b.lim }

// IsEmpty reports whether no ready bytes remain.
func (b *Buffer) IsEmpty() bool { return b.pos == b.lim }

// State returns the current mode.
func (b *Buffer) State() State { return b.state }

// Bytes returns the ready region. The slice aliases the buffer and is only
// valid until the next mutating call.
func (b *Buffer) Bytes() []byte { return b.data[b.pos:b.lim] }

// Fill performs one read from src into the space past the limit. It returns
// (0, nil) without reading when p refuses more data. When the peer closed,
// p.OnFillEOF is invoked and io.EOF returned, possibly along with n > 0.
func (b *Buffer) Fill(src io.Reader, p Processor, maxBytes int) (int, error) {
	if p != nil && !p.CouldFill(b) {
		return 0, nil
	}
	if b.Available() == 0 {
		b.Compact()
		if b.Available() == 0 {
			if err := b.Grow(len(b.data) + 1); err != nil {
				return 0, err
			}
		}
	}

	region := b.data[b.lim:]
	if maxBytes > 0 && len(region) > maxBytes {
		region = region[:maxBytes]
	}

	b.state = Filling
	n, err := src.Read(region)
	if n < 0 || n > len(region) {
		n, err = 0, api.WrapError(api.ErrCodeIO, io.ErrNoProgress, "invalid read count")
	}
	b.lim += n
	b.settle(Filled, Idle)

	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF):
		if p != nil {
			p.OnFillEOF()
		}
		return n, io.EOF
	default:
		return n, asIOError(err, "fill")
	}
}

// Drain writes ready bytes to dst while p allows looping. A zero-length
// write is back-pressure and ends the pass without error.
func (b *Buffer) Drain(dst io.Writer, p Processor, maxBytes int) (int, error) {
	if p != nil {
		if err := p.PreProcess(b); err != nil {
			return 0, err
		}
	}

	total := 0
	var err error
	b.state = Draining
	for b.Len() > 0 && (p == nil || p.CanLoop(b)) {
		chunk := b.data[b.pos:b.lim]
		if maxBytes > 0 {
			rest := maxBytes - total
			if rest <= 0 {
				break
			}
			if len(chunk) > rest {
				chunk = chunk[:rest]
			}
		}

		var n int
		n, err = dst.Write(chunk)
		if n < 0 || n > len(chunk) {
			n, err = 0, io.ErrShortWrite
		}
		b.pos += n
		total += n
		if err != nil {
			err = asIOError(err, "drain")
			break
		}
		if n == 0 {
			break
		}
	}
	b.settle(Filled, Drained)

	if p != nil {
		if perr := p.PostProcess(b, total); perr != nil && err == nil {
			err = perr
		}
	}
	return total, err
}

// Write appends p past the limit, growing up to the maximum. When p does not
// fit it appends what it can and returns BufferOverflow.
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) > b.Available() {
		b.Compact()
		if len(p) > b.Available() {
			if err := b.Grow(b.Len() + len(p)); err != nil {
				if gerr := b.Grow(b.max); gerr != nil {
					return 0, gerr
				}
				n := copy(b.data[b.lim:], p)
				b.lim += n
				b.settle(Filled, Idle)
				return n, err
			}
		}
	}
	n := copy(b.data[b.lim:], p)
	b.lim += n
	b.settle(Filled, Idle)
	return n, nil
}

// WriteString is Write for strings.
func (b *Buffer) WriteString(s string) (int, error) {
	return b.Write([]byte(s))
}

// Consume marks n ready bytes as read.
func (b *Buffer) Consume(n int) {
	if n > b.Len() {
		n = b.Len()
	}
	if n <= 0 {
		return
	}
	b.pos += n
	b.settle(Filled, Drained)
}

// Compact resets position and limit once every ready byte has been read,
// or moves the remaining ready bytes to the start of the storage.
func (b *Buffer) Compact() {
	switch {
	case b.pos == b.lim:
		b.pos, b.lim = 0, 0
		b.state = Idle
	case b.pos > 0:
		n := copy(b.data, b.data[b.pos:b.lim])
		b.pos, b.lim = 0, n
	}
}

// Grow ensures the capacity is at least size, doubling up to the maximum.
// The capacity never shrinks.
func (b *Buffer) Grow(size int) error {
	if size <= len(b.data) {
		return nil
	}
	if size > b.max {
		return api.Errorf(api.ErrCodeBufferOverflow, "buffer cannot grow to %d bytes", size).
			WithContext("max", b.max)
	}
	next := len(b.data) * 2
	if next < size {
		next = size
	}
	if next > b.max {
		next = b.max
	}

	data := b.allocate(next)
	n := copy(data, b.data[b.pos:b.lim])
	b.recycle(b.data)
	b.data = data
	b.pos, b.lim = 0, n
	return nil
}

// Reset drops all ready bytes and keeps the storage.
func (b *Buffer) Reset() {
	b.pos, b.lim = 0, 0
	b.state = Idle
}

// Release returns the storage to the allocator. The buffer must not be used
// afterwards.
func (b *Buffer) Release() {
	b.recycle(b.data)
	b.data = nil
	b.pos, b.lim = 0, 0
	b.state = Idle
}

func (b *Buffer) recycle(data []byte) {
	if b.alloc != nil && data != nil {
		b.alloc.Put(data)
	}
}

func (b *Buffer) settle(nonEmpty, empty State) {
	if b.lim > b.pos {
		b.state = nonEmpty
	} else {
		b.state = empty
	}
}

func (b *Buffer) String() string {
	return fmt.Sprintf("buffer[pos=%d lim=%d cap=%d max=%d %s]", b.pos, b.lim, len(b.data), b.max, b.state)
}

func asIOError(err error, op string) error {
	var ae *api.Error
	if errors.As(err, &ae) {
		return err
	}
	return api.WrapError(api.ErrCodeIO, err, op)
}
