// File: reactor/poller.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness poller used by the dispatch loop.

package reactor

import (
	"time"

	"github.com/momentics/hioload-nio/api"
)

// Poller delivers one-shot readiness notifications: once an event for a
// descriptor is reported, the descriptor stays disarmed until Modify.
type Poller interface {
	// Register adds fd armed for mask. token is returned with its events.
	Register(fd uintptr, token uint64, mask api.Interest) error

	// Modify re-arms fd for mask.
	Modify(fd uintptr, token uint64, mask api.Interest) error

	// Unregister removes fd.
	Unregister(fd uintptr) error

	// Wait blocks until events are available, timeout passes or Wakeup is
	// called, and writes events into the output slice. A negative timeout
	// waits indefinitely.
	Wait(events []Event, timeout time.Duration) (int, error)

	// Wakeup interrupts a blocked Wait.
	Wakeup() error

	// Close releases the poller.
	Close() error
}

// Event is one readiness notification.
type Event struct {
	Token  uint64       // token given at registration
	Ready  api.Interest // directions reported ready
	Hangup bool         // error or hang-up; both directions should run
}
