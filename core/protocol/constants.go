// Package protocol
// Author: momentics <momentics@gmail.com>
//
// HTTP/1.x wire constants used by the framing primitives.

package protocol

const (
	CR   = '\r'
	LF   = '\n'
	CRLF = "\r\n"

	HeaderConnection       = "Connection"
	HeaderContentLength    = "Content-Length"
	HeaderTransferEncoding = "Transfer-Encoding"
	HeaderHost             = "Host"

	TokenClose     = "close"
	TokenKeepAlive = "keep-alive"
	TokenChunked   = "chunked"

	Proto10 = "HTTP/1.0"
	Proto11 = "HTTP/1.1"

	// MaxChunkSizeLine bounds a chunk size line including extensions.
	MaxChunkSizeLine = 4096
)

// BodyMode selects how a message body is delimited.
type BodyMode int

const (
	// BodyNone means the message has no body.
	BodyNone BodyMode = iota
	// BodyFixed is delimited by Content-Length.
	BodyFixed
	// BodyChunked uses chunked transfer coding.
	BodyChunked
	// BodyUntilClose runs until the peer closes its side.
	BodyUntilClose
)

func (m BodyMode) String() string {
	switch m {
	case BodyNone:
		return "none"
	case BodyFixed:
		return "fixed"
	case BodyChunked:
		return "chunked"
	case BodyUntilClose:
		return "until-close"
	default:
		return "unknown"
	}
}
