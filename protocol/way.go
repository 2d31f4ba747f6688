// File: protocol/way.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Framing states shared by both ways and the deferred work a cycle hands
// back once its way lock is released.

package protocol

import (
	"github.com/momentics/hioload-nio/api"
	coreproto "github.com/momentics/hioload-nio/core/protocol"
)

// FrameState is the position of a way inside the current message.
type FrameState int

const (
	FrameStart FrameState = iota
	FrameHeaders
	FrameBodyFixed
	FrameChunkSize
	FrameChunkData
	FrameChunkEnd
	FrameTrailers
	FrameBodyUntilClose
	FrameEnd
)

func (s FrameState) String() string {
	switch s {
	case FrameStart:
		return "start"
	case FrameHeaders:
		return "headers"
	case FrameBodyFixed:
		return "body-fixed"
	case FrameChunkSize:
		return "chunk-size"
	case FrameChunkData:
		return "chunk-data"
	case FrameChunkEnd:
		return "chunk-end"
	case FrameTrailers:
		return "trailers"
	case FrameBodyUntilClose:
		return "body-until-close"
	case FrameEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Cycle limits. A way that reaches its limit schedules another cycle so
// other connections get a turn on the worker.
const (
	maxFillsPerCycle  = 64
	maxDrainsPerCycle = 64
)

type delivery struct {
	ex       *Exchange
	pending  *Pending
	msg      *coreproto.Message
	streamed bool
}

// actions collects work that must run without way locks held: handler
// calls, pending resolution and cross-way wakeups.
type actions struct {
	deliveries []delivery

	rejected  *Exchange
	rejectErr error

	failed  []*Pending
	failErr error

	resumeIn  bool
	resumeOut bool
}

func (a *actions) fail(ps []*Pending, err error) {
	if len(ps) == 0 {
		return
	}
	a.failed = append(a.failed, ps...)
	a.failErr = err
}

func (a *actions) run(c *Connection) {
	for _, d := range a.deliveries {
		if d.pending != nil {
			c.settlePending(d.pending, d.msg, nil)
			continue
		}
		if d.streamed {
			go c.serve(d.ex)
		} else {
			c.serve(d.ex)
		}
	}
	if a.rejected != nil {
		c.handler.OnError(a.rejected, a.rejectErr)
		a.rejected.cancel()
	}
	c.failPendings(a.failed, a.failErr)
	if a.resumeOut {
		c.resume(api.Outbound)
	}
	if a.resumeIn {
		c.resume(api.Inbound)
	}
}
