// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Defines the non-blocking channel abstraction connections read from and
// write to, independent of whether it is backed by a socket, a TLS session
// or a test double.

package api

// Channel is a full-duplex, non-blocking byte stream.
//
// Read returns (0, nil) when no bytes are currently available and
// (0, io.EOF) once the peer has half-closed. Write returns (0, nil) when
// the channel cannot accept bytes right now. Neither call ever blocks.
type Channel interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Close() error
}

// SelectableChannel is a Channel whose readiness can be polled.
type SelectableChannel interface {
	Channel

	// RawFD returns the underlying OS-level file descriptor.
	RawFD() uintptr
}

// Flusher is implemented by channels holding output of their own, such as
// ciphertext that did not fit into the socket yet.
type Flusher interface {
	// Flush pushes held bytes downstream; done reports nothing is left.
	Flush() (done bool, err error)

	// Pending returns the number of held bytes.
	Pending() int
}
