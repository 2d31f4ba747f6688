// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Size-classed byte slice pool backing connection buffers.

package pool

import (
	"math/bits"
	"sync/atomic"
)

const (
	// MinClass is the smallest size class in bytes.
	MinClass = 512
	// MaxClass is the largest pooled size; bigger slices bypass the pool.
	MaxClass = 1 << 20
	// defaultClassDepth bounds the number of idle slices kept per class.
	defaultClassDepth = 1024
)

// Stats reports pool activity.
type Stats struct {
	TotalAlloc int64
	TotalReuse int64
	TotalFree  int64
	Dropped    int64
}

// BytePool recycles []byte storage in power-of-two size classes.
// Each class is a buffered channel used as a free list.
type BytePool struct {
	classes []chan []byte

	alloc   atomic.Int64
	reuse   atomic.Int64
	free    atomic.Int64
	dropped atomic.Int64
}

// NewBytePool creates a pool keeping at most depth idle slices per class.
// A non-positive depth selects the default.
func NewBytePool(depth int) *BytePool {
	if depth <= 0 {
		depth = defaultClassDepth
	}
	n := classIndex(MaxClass) + 1
	p := &BytePool{classes: make([]chan []byte, n)}
	for i := range p.classes {
		p.classes[i] = make(chan []byte, depth)
	}
	return p
}

// classIndex maps a size to the smallest class that holds it.
func classIndex(size int) int {
	if size <= MinClass {
		return 0
	}
	return bits.Len(uint(size-1)) - bits.Len(uint(MinClass-1))
}

func classSize(idx int) int {
	return MinClass << idx
}

// Get returns a slice of length size. Its capacity is the class size, so a
// recycled slice may be resliced up to that capacity by the caller.
func (p *BytePool) Get(size int) []byte {
	if size <= 0 {
		size = 1
	}
	if size > MaxClass {
		p.alloc.Add(1)
		return make([]byte, size)
	}
	idx := classIndex(size)
	select {
	case buf := <-p.classes[idx]:
		p.reuse.Add(1)
		return buf[:size]
	default:
		p.alloc.Add(1)
		return make([]byte, size, classSize(idx))
	}
}

// Put hands buf back for reuse. Slices whose capacity is not an exact class
// size, or whose class is full, are left to the garbage collector.
func (p *BytePool) Put(buf []byte) {
	c := cap(buf)
	if c < MinClass || c > MaxClass || c&(c-1) != 0 {
		p.dropped.Add(1)
		return
	}
	select {
	case p.classes[classIndex(c)] <- buf[:0]:
		p.free.Add(1)
	default:
		p.dropped.Add(1)
	}
}

// Stats returns a snapshot of pool counters.
func (p *BytePool) Stats() Stats {
	return Stats{
		TotalAlloc: p.alloc.Load(),
		TotalReuse: p.reuse.Load(),
		TotalFree:  p.free.Load(),
		Dropped:    p.dropped.Load(),
	}
}
