// File: client/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client

import (
	"crypto/tls"
	"log/slog"

	"github.com/momentics/hioload-nio/control"
	"github.com/momentics/hioload-nio/core/buffer"
	"github.com/momentics/hioload-nio/reactor"
)

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the logger. The default is built from Config.Log.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithMetrics shares a registry with other components.
func WithMetrics(m *control.MetricsRegistry) Option {
	return func(c *Client) { c.metrics = m }
}

// WithAllocator sets the buffer storage allocator of dialed connections.
func WithAllocator(a buffer.Allocator) Option {
	return func(c *Client) { c.alloc = a }
}

// WithTLSConfig encrypts every dialed connection. An empty ServerName is
// taken from the dialed host.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Client) { c.tls = cfg }
}

// WithPoller replaces the platform poller.
func WithPoller(p reactor.Poller) Option {
	return func(c *Client) { c.poller = p }
}
