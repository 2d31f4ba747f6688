package server

import (
	"context"
	"crypto/tls"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-nio/control"
	"github.com/momentics/hioload-nio/core/buffer"
	"github.com/momentics/hioload-nio/internal/concurrency"
	"github.com/momentics/hioload-nio/protocol"
	"github.com/momentics/hioload-nio/reactor"
	"github.com/momentics/hioload-nio/transport/tcp"
)

// Server accepts TCP connections and hands them to a reactor. A Server
// serves once; create a new one to listen again.
type Server struct {
	cfg     control.Config
	handler protocol.Handler
	log     *slog.Logger
	metrics *control.MetricsRegistry
	probes  *control.DebugProbes
	alloc   buffer.Allocator
	tls     *tls.Config
	poller  reactor.Poller

	exec    *concurrency.Executor
	reactor *reactor.Reactor

	running  atomic.Bool
	draining atomic.Bool

	mu       sync.Mutex
	listener *tcp.Listener
	cancel   context.CancelFunc
	ready    chan struct{}
	done     chan struct{}
}
