// Package fake
// Author: momentics <momentics@gmail.com>
//
// Counting allocator for buffer storage tests.

package fake

import "sync"

// Allocator satisfies buffer.Allocator and records every call.
type Allocator struct {
	mu   sync.Mutex
	gets int
	puts int
	live map[*byte]struct{}
}

// NewAllocator creates an empty allocator.
func NewAllocator() *Allocator {
	return &Allocator{live: make(map[*byte]struct{})}
}

// Get returns a fresh slice of the requested size.
func (a *Allocator) Get(size int) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gets++
	buf := make([]byte, size)
	if size > 0 {
		a.live[&buf[:1][0]] = struct{}{}
	}
	return buf
}

// Put records the release of a slice obtained from Get.
func (a *Allocator) Put(buf []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.puts++
	if cap(buf) > 0 {
		delete(a.live, &buf[:1][0])
	}
}

// Outstanding returns the number of slices handed out and not returned.
func (a *Allocator) Outstanding() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

// Counts returns the number of Get and Put calls.
func (a *Allocator) Counts() (gets, puts int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gets, a.puts
}
