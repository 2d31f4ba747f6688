// File: protocol/handler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Collaborator contract between connections and the application.

package protocol

import "github.com/momentics/hioload-nio/api"

//go:generate mockgen -destination=mocks/mock_handler.go -package=mocks github.com/momentics/hioload-nio/protocol Handler,Notifier

// Handler receives framed messages and errors of server connections.
//
// OnMessage runs on an executor worker for buffered messages and on a
// goroutine of its own for streamed ones, so reading a Stream may block.
// A handler answers through Exchange.Respond, immediately or later.
type Handler interface {
	OnMessage(ex *Exchange)

	// OnError reports a failure. ex is nil for connection-level failures;
	// otherwise it can answer the peer, but only before OnError returns.
	OnError(ex *Exchange, err error)
}

// HandlerFunc adapts a function to Handler. Errors are dropped.
type HandlerFunc func(ex *Exchange)

func (f HandlerFunc) OnMessage(ex *Exchange)   { f(ex) }
func (f HandlerFunc) OnError(*Exchange, error) {}

// Notifier lets a connection ask its reactor for I/O cycles outside of
// readiness notifications.
type Notifier interface {
	// Wake schedules a cycle of dir. The direction is already READY.
	Wake(c *Connection, dir api.Direction)
}
