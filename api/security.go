// File: api/security.go
// Author: momentics <momentics@gmail.com>
//
// Pluggable transport encryption contract. The engine drives a SecureSession
// with bytes taken from its own buffers; it never hands the session a socket.

package api

import "crypto/x509"

// SecurityInfo describes a negotiated secure session.
type SecurityInfo struct {
	Protocol         string
	CipherSuite      string
	KeySize          int
	ServerName       string
	PeerCertificates []*x509.Certificate
}

// SecureSession negotiates and then protects one connection.
type SecureSession interface {
	// Handshake consumes handshake bytes received from the peer (in may be
	// empty to obtain the first flight) and returns the bytes to send.
	// consumed tells how much of in was used; bytes past it belong to the
	// data phase and must be preserved by the caller. done reports that
	// negotiation completed.
	Handshake(in []byte) (out []byte, consumed int, done bool, err error)

	// Wrap protects application bytes for the wire.
	Wrap(plain []byte) ([]byte, error)

	// Unwrap consumes wire bytes and returns the application bytes they
	// carried. Partial records are retained until completed. io.EOF is
	// returned once the peer closed the session.
	Unwrap(in []byte) ([]byte, error)

	// Info returns the negotiated parameters.
	Info() SecurityInfo

	// Close ends the session and returns the closing bytes to send.
	Close() ([]byte, error)
}
