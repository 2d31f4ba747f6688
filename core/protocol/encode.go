// File: core/protocol/encode.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Serialization helpers appending wire bytes to a caller-owned slice.

package protocol

import (
	"strconv"

	"golang.org/x/net/http/httpguts"

	"github.com/momentics/hioload-nio/api"
)

// AppendHeaders appends one field line per header. The blank line that
// ends a header section is appended by AppendHead.
func AppendHeaders(dst []byte, h Headers) []byte {
	for _, f := range h {
		dst = append(dst, f.Name...)
		dst = append(dst, ':', ' ')
		dst = append(dst, f.Value...)
		dst = append(dst, CRLF...)
	}
	return dst
}

// AppendChunkHeader appends the size line of an n-byte chunk.
func AppendChunkHeader(dst []byte, n int) []byte {
	dst = strconv.AppendInt(dst, int64(n), 16)
	return append(dst, CRLF...)
}

// AppendLastChunk appends the zero-size chunk, trailers and the final CRLF.
func AppendLastChunk(dst []byte, trailers Headers) []byte {
	dst = append(dst, '0')
	dst = append(dst, CRLF...)
	dst = AppendHeaders(dst, trailers)
	return append(dst, CRLF...)
}

// Framing is the delimitation chosen for an Outgoing message.
type Framing struct {
	Mode   BodyMode
	Length int64
}

// Prepare validates o and fixes its delimiting headers. noBody is set for
// responses that must not carry a body (HEAD requests, 1xx, 204, 304); their
// Content-Length, if any, is left untouched.
func (o *Outgoing) Prepare(noBody bool) (Framing, error) {
	if o.Proto == "" {
		o.Proto = Proto11
	}
	if !o.IsRequest() && o.StatusCode == 0 {
		o.StatusCode = 200
	}
	if o.Body != nil && o.BodyReader != nil {
		return Framing{}, api.Errorf(api.ErrCodeInvalidArgument, "outgoing message sets both Body and BodyReader")
	}
	for _, f := range o.Headers {
		if !httpguts.ValidHeaderFieldName(f.Name) || !httpguts.ValidHeaderFieldValue(f.Value) {
			return Framing{}, api.Errorf(api.ErrCodeInvalidArgument, "invalid header %q", f.Name)
		}
	}
	o.Headers.Del(HeaderTransferEncoding)

	if noBody {
		return Framing{Mode: BodyNone}, nil
	}

	switch {
	case o.BodyReader != nil && o.ContentLength > 0 && !o.Chunked:
		o.Headers.Set(HeaderContentLength, strconv.FormatInt(o.ContentLength, 10))
		return Framing{Mode: BodyFixed, Length: o.ContentLength}, nil

	case o.BodyReader != nil || o.Chunked:
		if o.IsHTTP10() {
			return Framing{}, api.Errorf(api.ErrCodeInvalidArgument, "chunked coding requires HTTP/1.1")
		}
		o.Headers.Del(HeaderContentLength)
		o.Headers.Set(HeaderTransferEncoding, TokenChunked)
		return Framing{Mode: BodyChunked, Length: -1}, nil

	case len(o.Body) > 0:
		o.Headers.Set(HeaderContentLength, strconv.Itoa(len(o.Body)))
		return Framing{Mode: BodyFixed, Length: int64(len(o.Body))}, nil

	default:
		if !o.IsRequest() || o.Method == "POST" || o.Method == "PUT" || o.Method == "PATCH" {
			o.Headers.Set(HeaderContentLength, "0")
		} else {
			o.Headers.Del(HeaderContentLength)
		}
		return Framing{Mode: BodyNone}, nil
	}
}

// IsHTTP10 reports whether o is an HTTP/1.0 message.
func (o *Outgoing) IsHTTP10() bool { return o.Proto == Proto10 }

// AppendHead appends the start line, the headers and the blank line.
func (o *Outgoing) AppendHead(dst []byte) []byte {
	if o.IsRequest() {
		dst = append(dst, o.Method...)
		dst = append(dst, ' ')
		dst = append(dst, o.Target...)
		dst = append(dst, ' ')
		dst = append(dst, o.Proto...)
	} else {
		dst = append(dst, o.Proto...)
		dst = append(dst, ' ')
		dst = strconv.AppendInt(dst, int64(o.StatusCode), 10)
		dst = append(dst, ' ')
		dst = append(dst, o.Reason...)
	}
	dst = append(dst, CRLF...)
	dst = AppendHeaders(dst, o.Headers)
	return append(dst, CRLF...)
}
