// File: core/protocol/message.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Message model exchanged between connection ways and handlers.

package protocol

import (
	"bytes"
	"io"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/momentics/hioload-nio/api"
)

// Header is one field line. Names keep their wire spelling.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered field list; duplicates are kept.
type Headers []Header

// Get returns the first value for name, compared case-insensitively.
func (h Headers) Get(name string) string {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Values returns every value for name in wire order.
func (h Headers) Values(name string) []string {
	var out []string
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			out = append(out, f.Value)
		}
	}
	return out
}

// Has reports whether name is present.
func (h Headers) Has(name string) bool {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

// HasToken reports whether a comma-separated list header carries token.
func (h Headers) HasToken(name, token string) bool {
	return httpguts.HeaderValuesContainsToken(h.Values(name), token)
}

// Add appends a field.
func (h *Headers) Add(name, value string) {
	*h = append(*h, Header{Name: name, Value: value})
}

// Set replaces every field named name with a single one.
func (h *Headers) Set(name, value string) {
	h.Del(name)
	h.Add(name, value)
}

// Del removes every field named name.
func (h *Headers) Del(name string) {
	out := (*h)[:0]
	for _, f := range *h {
		if !strings.EqualFold(f.Name, name) {
			out = append(out, f)
		}
	}
	*h = out
}

// Clone returns an independent copy.
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	return append(Headers(nil), h...)
}

// Message is an inbound request or response. It is not modified after
// delivery to a handler.
type Message struct {
	// Request start line.
	Method string
	Target string

	// Response start line.
	StatusCode int
	Reason     string

	Proto      string
	ProtoMajor int
	ProtoMinor int

	Headers  Headers
	Trailers Headers

	// Body holds a fully buffered body. It is nil when Stream is set.
	Body []byte
	// Stream is set for bodies larger than the connection's buffer limit
	// or of unknown length.
	Stream *BodyStream

	// Security is set on encrypted connections.
	Security *api.SecurityInfo

	// Seq numbers messages per connection and direction, starting at 1.
	Seq uint64
}

// IsRequest reports whether m carries a request line.
func (m *Message) IsRequest() bool { return m.Method != "" }

// BodyReader returns a reader over the body, buffered or streamed.
func (m *Message) BodyReader() io.Reader {
	if m.Stream != nil {
		return m.Stream
	}
	return bytes.NewReader(m.Body)
}

// KeepAlive reports whether the connection may carry another message after
// this one: HTTP/1.1 unless "Connection: close", HTTP/1.0 only with
// "Connection: keep-alive".
func (m *Message) KeepAlive() bool {
	if m.Headers.HasToken(HeaderConnection, TokenClose) {
		return false
	}
	if m.ProtoMajor == 1 && m.ProtoMinor == 0 {
		return m.Headers.HasToken(HeaderConnection, TokenKeepAlive)
	}
	return true
}

// Outgoing is a message submitted for serialization. Exactly one of Body
// and BodyReader may be set.
type Outgoing struct {
	// Request start line.
	Method string
	Target string

	// Response start line. A zero StatusCode with an empty Method is a 200.
	StatusCode int
	Reason     string

	// Proto defaults to HTTP/1.1.
	Proto string

	Headers Headers

	Body []byte

	// BodyReader streams the body. A positive ContentLength announces its
	// size; otherwise chunked coding is used.
	BodyReader    io.Reader
	ContentLength int64

	// Chunked forces chunked coding for Body as well.
	Chunked bool

	// Trailers are sent after the last chunk of a chunked body.
	Trailers Headers
}

// IsRequest reports whether o carries a request line.
func (o *Outgoing) IsRequest() bool { return o.Method != "" }

// NewResponse builds a response with a buffered body.
func NewResponse(status int, reason string, body []byte) *Outgoing {
	return &Outgoing{StatusCode: status, Reason: reason, Body: body}
}

// NewRequest builds a request with a buffered body.
func NewRequest(method, target string, body []byte) *Outgoing {
	return &Outgoing{Method: method, Target: target, Body: body}
}
