//go:build linux
// +build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-nio/api"
)

// acceptPollInterval bounds how long Accept waits before rechecking its
// context.
const acceptPollInterval = 200 * time.Millisecond

// Listener is a non-blocking listening socket.
type Listener struct {
	fd     int
	addr   *net.TCPAddr
	closed atomic.Bool
}

// Listen binds and listens on addr (host:port; port 0 picks a free port).
func Listen(addr string) (*Listener, error) {
	family, sa, err := resolve(addr)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket create: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	l := &Listener{fd: fd}
	if bound, err := unix.Getsockname(fd); err == nil {
		l.addr = sockaddrToTCP(bound)
	}
	return l, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() *net.TCPAddr { return l.addr }

// Accept waits for the next connection until ctx is done or the listener is
// closed. Accepted sockets are non-blocking.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	for {
		if l.closed.Load() {
			return nil, api.ErrTransportClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		nfd, _, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch {
		case err == nil:
			return newConn(nfd), nil
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
		default:
			if l.closed.Load() {
				return nil, api.ErrTransportClosed
			}
			return nil, fmt.Errorf("accept: %w", err)
		}

		fds := []unix.PollFd{{Fd: int32(l.fd), Events: unix.POLLIN}}
		if _, err := unix.Poll(fds, int(acceptPollInterval/time.Millisecond)); err != nil && !errors.Is(err, unix.EINTR) {
			if l.closed.Load() {
				return nil, api.ErrTransportClosed
			}
			return nil, fmt.Errorf("poll: %w", err)
		}
	}
}

// Close stops the listener. A concurrent Accept returns within the poll
// interval.
func (l *Listener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(l.fd)
}
