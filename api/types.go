// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared state enumerations of connections and their I/O directions.

package api

// ConnectionState enumerates the lifecycle of a connection.
type ConnectionState int

const (
	StateOpening ConnectionState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// IoState tracks one I/O direction of a connection through a readiness cycle:
// Idle -> Interest -> Ready -> Processing -> Idle (or back to Interest).
type IoState int32

const (
	IoIdle IoState = iota
	IoInterest
	IoReady
	IoProcessing
)

func (s IoState) String() string {
	switch s {
	case IoIdle:
		return "idle"
	case IoInterest:
		return "interest"
	case IoReady:
		return "ready"
	case IoProcessing:
		return "processing"
	default:
		return "unknown"
	}
}

// Direction selects the inbound or outbound half of a connection.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// Role is the endpoint role of a connection.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// Interest is a readiness interest set.
type Interest uint8

const (
	InterestRead Interest = 1 << iota
	InterestWrite
)

// InterestNone registers no readiness at all.
const InterestNone Interest = 0

// Has reports whether all bits of o are set.
func (i Interest) Has(o Interest) bool {
	return i&o == o && o != 0
}
