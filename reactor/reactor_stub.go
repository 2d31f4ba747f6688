//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub poller for unsupported platforms.

package reactor

import "github.com/momentics/hioload-nio/api"

// NewPoller reports that no native poller exists on this platform. A
// Reactor can still run over a Poller supplied in its Options.
func NewPoller() (Poller, error) {
	return nil, api.WrapError(api.ErrCodeNotSupported, api.ErrNotSupported, "reactor: this platform has no poller")
}
