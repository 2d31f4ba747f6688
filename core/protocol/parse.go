// File: core/protocol/parse.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Line-level parsers. Every malformed input is reported as api.ProtocolError.

package protocol

import (
	"bytes"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/momentics/hioload-nio/api"
)

func protocolErr(format string, args ...any) error {
	return api.Errorf(api.ErrCodeProtocol, format, args...)
}

// ParseVersion parses "HTTP/x.y" for single-digit x and y.
func ParseVersion(proto string) (major, minor int, err error) {
	if len(proto) != 8 || !strings.HasPrefix(proto, "HTTP/") || proto[6] != '.' {
		return 0, 0, protocolErr("malformed protocol version %q", proto)
	}
	ma, mi := proto[5], proto[7]
	if ma < '0' || ma > '9' || mi < '0' || mi > '9' {
		return 0, 0, protocolErr("malformed protocol version %q", proto)
	}
	major, minor = int(ma-'0'), int(mi-'0')
	if major != 1 {
		return 0, 0, protocolErr("unsupported protocol version %q", proto)
	}
	return major, minor, nil
}

// ParseRequestLine fills the request start line of m from line, which must
// not include its terminator.
func ParseRequestLine(line []byte, m *Message) error {
	method, rest, ok := bytes.Cut(line, []byte{' '})
	if !ok {
		return protocolErr("malformed request line %q", line)
	}
	target, proto, ok := bytes.Cut(rest, []byte{' '})
	if !ok || bytes.IndexByte(proto, ' ') >= 0 {
		return protocolErr("malformed request line %q", line)
	}
	if len(method) == 0 || !httpguts.ValidHeaderFieldName(string(method)) {
		return protocolErr("invalid method %q", method)
	}
	if len(target) == 0 || !validTarget(target) {
		return protocolErr("invalid request target %q", target)
	}
	major, minor, err := ParseVersion(string(proto))
	if err != nil {
		return err
	}
	m.Method, m.Target = string(method), string(target)
	m.Proto, m.ProtoMajor, m.ProtoMinor = string(proto), major, minor
	return nil
}

func validTarget(b []byte) bool {
	for _, c := range b {
		if c <= ' ' || c == 0x7f {
			return false
		}
	}
	return true
}

// ParseStatusLine fills the response start line of m. The reason phrase may
// be empty.
func ParseStatusLine(line []byte, m *Message) error {
	proto, rest, ok := bytes.Cut(line, []byte{' '})
	if !ok {
		return protocolErr("malformed status line %q", line)
	}
	code, reason, _ := bytes.Cut(rest, []byte{' '})
	if len(code) != 3 {
		return protocolErr("malformed status code %q", code)
	}
	status, err := strconv.Atoi(string(code))
	if err != nil || status < 100 {
		return protocolErr("malformed status code %q", code)
	}
	major, minor, err := ParseVersion(string(proto))
	if err != nil {
		return err
	}
	m.StatusCode, m.Reason = status, string(reason)
	m.Proto, m.ProtoMajor, m.ProtoMinor = string(proto), major, minor
	return nil
}

// ParseHeaderLine splits a field line into name and value, trimming optional
// whitespace around the value. Obsolete line folding is rejected.
func ParseHeaderLine(line []byte) (Header, error) {
	if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
		return Header{}, protocolErr("obsolete header line folding")
	}
	name, value, ok := bytes.Cut(line, []byte{':'})
	if !ok {
		return Header{}, protocolErr("malformed header line %q", line)
	}
	if !httpguts.ValidHeaderFieldName(string(name)) {
		return Header{}, protocolErr("invalid header name %q", name)
	}
	value = bytes.Trim(value, " \t")
	if !httpguts.ValidHeaderFieldValue(string(value)) {
		return Header{}, protocolErr("invalid value for header %q", name)
	}
	return Header{Name: string(name), Value: string(value)}, nil
}

// ParseChunkSize parses a chunk size line. Extensions after ';' are ignored.
// Negative or unparseable sizes are protocol errors.
func ParseChunkSize(line []byte) (int64, error) {
	if i := bytes.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = bytes.Trim(line, " \t")
	if len(line) == 0 {
		return 0, protocolErr("empty chunk size")
	}
	n, err := strconv.ParseInt(string(line), 16, 64)
	if err != nil {
		return 0, protocolErr("invalid chunk size %q", line)
	}
	if n < 0 {
		return 0, protocolErr("negative chunk size %d", n)
	}
	return n, nil
}

// parseContentLength validates every Content-Length value; repeated fields
// must agree.
func parseContentLength(h Headers) (int64, bool, error) {
	values := h.Values(HeaderContentLength)
	if len(values) == 0 {
		return 0, false, nil
	}
	n := int64(-1)
	for _, raw := range values {
		for _, v := range strings.Split(raw, ",") {
			v = strings.TrimSpace(v)
			if v == "" || v[0] == '+' || v[0] == '-' {
				return 0, false, protocolErr("invalid Content-Length %q", raw)
			}
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, false, protocolErr("invalid Content-Length %q", raw)
			}
			if n >= 0 && parsed != n {
				return 0, false, protocolErr("conflicting Content-Length values")
			}
			n = parsed
		}
	}
	return n, true, nil
}

// chunkedLast reports whether chunked is the final transfer coding.
func chunkedLast(h Headers) (present, chunked bool) {
	values := h.Values(HeaderTransferEncoding)
	if len(values) == 0 {
		return false, false
	}
	var last string
	for _, raw := range values {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				last = v
			}
		}
	}
	return true, strings.EqualFold(last, TokenChunked)
}

// RequestBodyMode determines how a request body is delimited. A
// Transfer-Encoding whose final coding is not chunked cannot be framed.
func RequestBodyMode(h Headers) (BodyMode, int64, error) {
	if present, chunked := chunkedLast(h); present {
		if !chunked {
			return BodyNone, 0, protocolErr("request transfer coding does not end in chunked")
		}
		return BodyChunked, -1, nil
	}
	n, ok, err := parseContentLength(h)
	if err != nil {
		return BodyNone, 0, err
	}
	if !ok || n == 0 {
		return BodyNone, 0, nil
	}
	return BodyFixed, n, nil
}

// NoResponseBody reports whether a response to method with status never
// carries a body.
func NoResponseBody(method string, status int) bool {
	return method == "HEAD" || (status >= 100 && status < 200) || status == 204 || status == 304
}

// ResponseBodyMode determines how a response to method is delimited. Without
// any length information the body runs until the server closes.
func ResponseBodyMode(method string, status int, h Headers) (BodyMode, int64, error) {
	if NoResponseBody(method, status) {
		return BodyNone, 0, nil
	}
	if present, chunked := chunkedLast(h); present {
		if chunked {
			return BodyChunked, -1, nil
		}
		return BodyUntilClose, -1, nil
	}
	n, ok, err := parseContentLength(h)
	if err != nil {
		return BodyNone, 0, err
	}
	if !ok {
		return BodyUntilClose, -1, nil
	}
	if n == 0 {
		return BodyNone, 0, nil
	}
	return BodyFixed, n, nil
}
