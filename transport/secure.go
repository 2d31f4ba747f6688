// File: transport/secure.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Channel decorator encrypting writes and decrypting reads through an
// established api.SecureSession.

package transport

import (
	"errors"
	"io"

	"github.com/momentics/hioload-nio/api"
)

const secureReadChunk = 16*1024 + 512

// SecureChannel exchanges plaintext with its caller and ciphertext with the
// raw channel. It is non-blocking: a Read with nothing decrypted yet returns
// (0, nil), and a Write that cannot push earlier ciphertext returns (0, nil).
type SecureChannel struct {
	session api.SecureSession
	raw     api.Channel
	scratch []byte
	plain   []byte
	out     []byte
	eof     bool
	closed  bool
}

// NewSecureChannel wraps raw, whose handshake has completed on session.
func NewSecureChannel(session api.SecureSession, raw api.Channel) *SecureChannel {
	return &SecureChannel{
		session: session,
		raw:     raw,
		scratch: make([]byte, secureReadChunk),
	}
}

// Read returns decrypted bytes. It keeps reading ciphertext until some
// plaintext is available or the raw channel would block.
func (s *SecureChannel) Read(p []byte) (int, error) {
	for len(s.plain) == 0 {
		if s.eof {
			return 0, io.EOF
		}
		n, err := s.raw.Read(s.scratch)
		if n > 0 {
			pt, uerr := s.session.Unwrap(s.scratch[:n])
			s.plain = append(s.plain, pt...)
			switch {
			case errors.Is(uerr, io.EOF):
				s.eof = true
			case uerr != nil:
				return 0, api.WrapError(api.ErrCodeIO, uerr, "decrypt")
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.eof = true
				continue
			}
			return 0, err
		}
		if n == 0 {
			return 0, nil
		}
	}
	n := copy(p, s.plain)
	s.plain = s.plain[n:]
	if len(s.plain) == 0 {
		s.plain = nil
	}
	return n, nil
}

// Write encrypts p. Ciphertext the raw channel does not take is kept and
// pushed by Flush or the next Write, which returns (0, nil) until it is gone.
func (s *SecureChannel) Write(p []byte) (int, error) {
	if s.closed {
		return 0, api.ErrTransportClosed
	}
	if done, err := s.Flush(); err != nil || !done {
		return 0, err
	}
	ct, err := s.session.Wrap(p)
	if err != nil {
		return 0, api.WrapError(api.ErrCodeIO, err, "encrypt")
	}
	s.out = ct
	if _, err := s.Flush(); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Flush pushes pending ciphertext. It reports whether none remains.
func (s *SecureChannel) Flush() (bool, error) {
	for len(s.out) > 0 {
		n, err := s.raw.Write(s.out)
		s.out = s.out[n:]
		if err != nil {
			return false, err
		}
		if n == 0 {
			return false, nil
		}
	}
	s.out = nil
	return true, nil
}

// Pending returns the number of ciphertext bytes not yet written.
func (s *SecureChannel) Pending() int { return len(s.out) }

// Buffered returns decrypted bytes not yet returned by Read.
func (s *SecureChannel) Buffered() int { return len(s.plain) }

// Close sends the session's closure alert on a best-effort basis and
// closes the raw channel.
func (s *SecureChannel) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if alert, err := s.session.Close(); err == nil && len(alert) > 0 {
		s.out = append(s.out, alert...)
	}
	_, _ = s.Flush()
	return s.raw.Close()
}

// Info returns the negotiated session parameters.
func (s *SecureChannel) Info() api.SecurityInfo { return s.session.Info() }

// RawFD returns the raw channel's descriptor, or 0 when it has none.
func (s *SecureChannel) RawFD() uintptr {
	if sc, ok := s.raw.(api.SelectableChannel); ok {
		return sc.RawFD()
	}
	return 0
}

var (
	_ api.Flusher           = (*SecureChannel)(nil)
	_ api.SelectableChannel = (*SecureChannel)(nil)
	_ api.SelectableChannel = (*BufferedChannel)(nil)
)
