//go:build !linux
// +build !linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package tcp

import (
	"context"
	"net"

	"github.com/momentics/hioload-nio/api"
)

// Conn is unavailable on this platform.
type Conn struct{}

func (*Conn) Read([]byte) (int, error)  { return 0, api.ErrNotSupported }
func (*Conn) Write([]byte) (int, error) { return 0, api.ErrNotSupported }
func (*Conn) CloseWrite() error         { return api.ErrNotSupported }
func (*Conn) Close() error              { return nil }
func (*Conn) RawFD() uintptr            { return 0 }
func (*Conn) LocalAddr() net.Addr       { return nil }
func (*Conn) RemoteAddr() net.Addr      { return nil }

// Listener is unavailable on this platform.
type Listener struct{}

// Listen returns api.ErrNotSupported.
func Listen(string) (*Listener, error) { return nil, api.ErrNotSupported }

func (*Listener) Addr() *net.TCPAddr                    { return nil }
func (*Listener) Accept(context.Context) (*Conn, error) { return nil, api.ErrNotSupported }
func (*Listener) Close() error                          { return nil }

// Dial returns api.ErrNotSupported.
func Dial(context.Context, string) (*Conn, error) { return nil, api.ErrNotSupported }
