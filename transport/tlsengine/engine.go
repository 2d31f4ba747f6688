// File: transport/tlsengine/engine.go
// Package tlsengine implements api.SecureSession on top of crypto/tls.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A tls.Conn runs on its own goroutine against an in-memory pipe. Calls on
// the Engine feed wire bytes into the pipe and return once the tls.Conn has
// processed them and is waiting for more, so every call completes without
// touching a socket.

package tlsengine

import (
	"bytes"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"io"
	"strings"

	"github.com/momentics/hioload-nio/api"
)

const (
	recordHeaderLen = 5
	plainChunk      = 16 * 1024
)

// Engine is one TLS session. Handshake must have completed before Wrap and
// Unwrap are used.
type Engine struct {
	conn    *tls.Conn
	p       *pipe
	started bool
}

// NewServer creates the server side of a session.
func NewServer(cfg *tls.Config) *Engine {
	p := newPipe()
	return &Engine{conn: tls.Server(p, cfg), p: p}
}

// NewClient creates the client side of a session. cfg.ServerName or
// InsecureSkipVerify must be set as for tls.Client.
func NewClient(cfg *tls.Config) *Engine {
	p := newPipe()
	return &Engine{conn: tls.Client(p, cfg), p: p}
}

func (e *Engine) run() {
	err := e.conn.Handshake()
	e.p.mu.Lock()
	e.p.hsDone, e.p.hsErr = err == nil, err
	e.p.mu.Unlock()
	e.p.cond.Broadcast()
	if err != nil {
		return
	}

	buf := make([]byte, plainChunk)
	for {
		n, err := e.conn.Read(buf)
		e.p.mu.Lock()
		e.p.plain.Write(buf[:n])
		if err != nil {
			e.p.readErr, e.p.readerDone = err, true
		}
		e.p.mu.Unlock()
		e.p.cond.Broadcast()
		if err != nil {
			return
		}
	}
}

// Handshake feeds complete records from in, one at a time, until the
// handshake finishes or in holds no further complete record. Bytes after
// the final handshake record are left unconsumed.
func (e *Engine) Handshake(in []byte) ([]byte, int, bool, error) {
	p := e.p
	p.mu.Lock()
	defer p.mu.Unlock()
	if !e.started {
		e.started = true
		go e.run()
	}

	consumed := 0
	for {
		for !(p.hsDone || p.hsErr != nil || (p.waiting && p.in.Len() == 0)) {
			p.cond.Wait()
		}
		if p.hsDone || p.hsErr != nil {
			break
		}
		rest := in[consumed:]
		if len(rest) < recordHeaderLen {
			break
		}
		size := recordHeaderLen + int(binary.BigEndian.Uint16(rest[3:5]))
		if len(rest) < size {
			break
		}
		p.in.Write(rest[:size])
		consumed += size
		p.cond.Broadcast()
	}

	out := p.takeOut()
	if p.hsErr != nil {
		return out, consumed, false, api.WrapError(api.ErrCodeHandshake, p.hsErr, "tls handshake")
	}
	return out, consumed, p.hsDone, nil
}

// Wrap encrypts plain into TLS records. It also returns any bytes the
// session produced on its own since the last call.
func (e *Engine) Wrap(plain []byte) ([]byte, error) {
	if len(plain) > 0 {
		if _, err := e.conn.Write(plain); err != nil {
			return nil, err
		}
	}
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	return e.p.takeOut(), nil
}

// Unwrap decrypts in. It returns io.EOF, possibly with data, once the peer
// sent its closure alert.
func (e *Engine) Unwrap(in []byte) ([]byte, error) {
	p := e.p
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.hsDone {
		return nil, errors.New("tlsengine: unwrap before handshake completion")
	}
	if len(in) > 0 && !p.readerDone {
		p.in.Write(in)
		p.cond.Broadcast()
	}
	for !(p.readerDone || (p.waiting && p.in.Len() == 0)) {
		p.cond.Wait()
	}

	var plain []byte
	if p.plain.Len() > 0 {
		plain = bytes.Clone(p.plain.Bytes())
		p.plain.Reset()
	}
	if p.readerDone {
		return plain, p.readErr
	}
	return plain, nil
}

// Info reports the negotiated parameters.
func (e *Engine) Info() api.SecurityInfo {
	cs := e.conn.ConnectionState()
	suite := tls.CipherSuiteName(cs.CipherSuite)
	return api.SecurityInfo{
		Protocol:         tls.VersionName(cs.Version),
		CipherSuite:      suite,
		KeySize:          KeySize(suite),
		ServerName:       cs.ServerName,
		PeerCertificates: cs.PeerCertificates,
	}
}

// Close sends close_notify when the handshake completed and releases the
// session goroutine. It returns the bytes to put on the wire.
func (e *Engine) Close() ([]byte, error) {
	err := e.conn.Close()
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	out := e.p.takeOut()
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return out, err
}

// KeySize derives the symmetric key size in bits from a cipher suite name.
func KeySize(suite string) int {
	switch {
	case strings.Contains(suite, "AES_128"):
		return 128
	case strings.Contains(suite, "AES_256"), strings.Contains(suite, "CHACHA20"):
		return 256
	case strings.Contains(suite, "3DES"):
		return 168
	case strings.Contains(suite, "RC4_128"):
		return 128
	default:
		return 0
	}
}

var _ api.SecureSession = (*Engine)(nil)
