//go:build linux
// +build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package tcp

import (
	"errors"
	"io"
	"net"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-nio/api"
)

// Conn is a connected non-blocking TCP socket.
type Conn struct {
	fd     int
	closed atomic.Bool
	local  net.Addr
	remote net.Addr
}

func newConn(fd int) *Conn {
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	c := &Conn{fd: fd}
	if sa, err := unix.Getsockname(fd); err == nil {
		c.local = sockaddrToTCP(sa)
	}
	if sa, err := unix.Getpeername(fd); err == nil {
		c.remote = sockaddrToTCP(sa)
	}
	return c
}

// Read returns (0, nil) when the socket has no data and io.EOF once the
// peer shut down its side.
func (c *Conn) Read(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, api.ErrTransportClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Read(c.fd, p)
		switch {
		case err == nil && n == 0:
			return 0, io.EOF
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, nil
		default:
			return 0, api.WrapError(api.ErrCodeIO, err, "read")
		}
	}
}

// Write returns (0, nil) when the socket send buffer is full.
func (c *Conn) Write(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, api.ErrTransportClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Write(c.fd, p)
		switch {
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, nil
		default:
			return 0, api.WrapError(api.ErrCodeIO, err, "write")
		}
	}
}

// CloseWrite shuts down the sending side.
func (c *Conn) CloseWrite() error {
	if c.closed.Load() {
		return api.ErrTransportClosed
	}
	return unix.Shutdown(c.fd, unix.SHUT_WR)
}

// Close closes the descriptor. The reactor must have unregistered it first.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(c.fd)
}

// RawFD implements api.SelectableChannel.
func (c *Conn) RawFD() uintptr { return uintptr(c.fd) }

// LocalAddr returns the local endpoint.
func (c *Conn) LocalAddr() net.Addr { return c.local }

// RemoteAddr returns the peer endpoint.
func (c *Conn) RemoteAddr() net.Addr { return c.remote }

var _ api.SelectableChannel = (*Conn)(nil)
