// File: reactor/arena.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Arena maps poller tokens to registered connections. A token packs the
// slot index with the slot's generation, so an event that arrives after
// its connection left the arena never reaches the slot's next occupant.

package reactor

import (
	"sync"

	"github.com/momentics/hioload-nio/protocol"
)

// entry is one arena slot. Its fields are guarded by mu; gen and conn are
// written with the arena lock held as well.
type entry struct {
	mu         sync.Mutex
	conn       *protocol.Connection
	fd         uintptr
	gen        uint32
	registered bool
}

// Arena is a concurrency-safe slot table.
type Arena struct {
	mu    sync.RWMutex
	slots []*entry
	free  []uint32
	live  int
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

func makeToken(index, gen uint32) uint64 { return uint64(gen)<<32 | uint64(index) }

func splitToken(token uint64) (index, gen uint32) {
	return uint32(token), uint32(token >> 32)
}

// Insert stores c and returns its token.
func (a *Arena) Insert(c *protocol.Connection, fd uintptr) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, &entry{})
	}
	e := a.slots[idx]
	e.mu.Lock()
	e.gen++
	if e.gen == 0 {
		// Generation zero is reserved for the wakeup token.
		e.gen = 1
	}
	e.conn, e.fd, e.registered = c, fd, false
	gen := e.gen
	e.mu.Unlock()
	a.live++
	return makeToken(idx, gen)
}

// acquire returns the slot of token locked, or nil when token is stale.
func (a *Arena) acquire(token uint64) *entry {
	idx, gen := splitToken(token)
	a.mu.RLock()
	if int(idx) >= len(a.slots) {
		a.mu.RUnlock()
		return nil
	}
	e := a.slots[idx]
	a.mu.RUnlock()

	e.mu.Lock()
	if e.gen != gen || e.conn == nil {
		e.mu.Unlock()
		return nil
	}
	return e
}

// Get returns the connection of token.
func (a *Arena) Get(token uint64) (*protocol.Connection, bool) {
	e := a.acquire(token)
	if e == nil {
		return nil, false
	}
	c := e.conn
	e.mu.Unlock()
	return c, true
}

// Remove frees the slot of token. It reports whether token was current.
func (a *Arena) Remove(token uint64) bool {
	idx, gen := splitToken(token)
	a.mu.Lock()
	defer a.mu.Unlock()
	if int(idx) >= len(a.slots) {
		return false
	}
	e := a.slots[idx]
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen || e.conn == nil {
		return false
	}
	e.conn = nil
	e.registered = false
	a.free = append(a.free, idx)
	a.live--
	return true
}

// Len returns the number of stored connections.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.live
}

// Snapshot returns the stored connections.
func (a *Arena) Snapshot() []*protocol.Connection {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*protocol.Connection, 0, a.live)
	for _, e := range a.slots {
		e.mu.Lock()
		if e.conn != nil {
			out = append(out, e.conn)
		}
		e.mu.Unlock()
	}
	return out
}
