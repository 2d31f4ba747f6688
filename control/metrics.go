// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime counters updated by the reactor and connections.

package control

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counter names.
const (
	MetricConnectionsOpened = "connections.opened"
	MetricConnectionsClosed = "connections.closed"
	MetricBytesIn           = "bytes.in"
	MetricBytesOut          = "bytes.out"
	MetricMessagesIn        = "messages.in"
	MetricMessagesOut       = "messages.out"
	MetricHandshakes        = "handshakes.completed"
	MetricPollEvents        = "reactor.events"
	MetricDispatches        = "reactor.dispatches"
	// MetricErrorPrefix is followed by the api.ErrorCode name.
	MetricErrorPrefix = "errors."
)

// MetricsRegistry holds named monotonic counters.
type MetricsRegistry struct {
	mu       sync.RWMutex
	counters map[string]*atomic.Int64
	updated  atomic.Int64
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		counters: make(map[string]*atomic.Int64),
	}
}

func (mr *MetricsRegistry) counter(key string) *atomic.Int64 {
	mr.mu.RLock()
	c, ok := mr.counters[key]
	mr.mu.RUnlock()
	if ok {
		return c
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if c, ok = mr.counters[key]; !ok {
		c = new(atomic.Int64)
		mr.counters[key] = c
	}
	return c
}

// Add increases a counter by delta. A nil registry ignores updates.
func (mr *MetricsRegistry) Add(key string, delta int64) {
	if mr == nil || delta == 0 {
		return
	}
	mr.counter(key).Add(delta)
	mr.updated.Store(time.Now().UnixNano())
}

// Inc increases a counter by one.
func (mr *MetricsRegistry) Inc(key string) {
	mr.Add(key, 1)
}

// Get returns a counter value.
func (mr *MetricsRegistry) Get(key string) int64 {
	if mr == nil {
		return 0
	}
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	if c, ok := mr.counters[key]; ok {
		return c.Load()
	}
	return 0
}

// GetSnapshot returns the latest counter values.
func (mr *MetricsRegistry) GetSnapshot() map[string]int64 {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]int64, len(mr.counters))
	for k, c := range mr.counters {
		out[k] = c.Load()
	}
	return out
}

// Updated returns the time of the last update.
func (mr *MetricsRegistry) Updated() time.Time {
	ns := mr.updated.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
