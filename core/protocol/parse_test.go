package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/core/protocol"
)

func TestParseRequestLine(t *testing.T) {
	var m protocol.Message
	require.NoError(t, protocol.ParseRequestLine([]byte("GET /index.html?q=1 HTTP/1.1"), &m))
	assert.Equal(t, "GET", m.Method)
	assert.Equal(t, "/index.html?q=1", m.Target)
	assert.Equal(t, 1, m.ProtoMajor)
	assert.Equal(t, 1, m.ProtoMinor)
	assert.True(t, m.IsRequest())

	for _, bad := range []string{
		"GET /",
		"GET  / HTTP/1.1",
		"GET / HTTP/1.1 extra",
		"G(T / HTTP/1.1",
		"GET / HTTP/2.0",
		"GET / HTTQ/1.1",
		"GET /\x01 HTTP/1.1",
	} {
		err := protocol.ParseRequestLine([]byte(bad), &protocol.Message{})
		assert.ErrorIs(t, err, api.ProtocolError, bad)
	}
}

func TestParseStatusLine(t *testing.T) {
	var m protocol.Message
	require.NoError(t, protocol.ParseStatusLine([]byte("HTTP/1.0 404 Not Found"), &m))
	assert.Equal(t, 404, m.StatusCode)
	assert.Equal(t, "Not Found", m.Reason)
	assert.Equal(t, 0, m.ProtoMinor)

	m = protocol.Message{}
	require.NoError(t, protocol.ParseStatusLine([]byte("HTTP/1.1 204"), &m))
	assert.Equal(t, 204, m.StatusCode)
	assert.Empty(t, m.Reason)

	for _, bad := range []string{"HTTP/1.1", "HTTP/1.1 20 OK", "HTTP/1.1 abc OK", "HTTP/1.1 099 X"} {
		assert.ErrorIs(t, protocol.ParseStatusLine([]byte(bad), &protocol.Message{}), api.ProtocolError, bad)
	}
}

func TestParseHeaderLine(t *testing.T) {
	h, err := protocol.ParseHeaderLine([]byte("Content-Type: \t text/plain \t"))
	require.NoError(t, err)
	assert.Equal(t, protocol.Header{Name: "Content-Type", Value: "text/plain"}, h)

	h, err = protocol.ParseHeaderLine([]byte("X-Empty:"))
	require.NoError(t, err)
	assert.Empty(t, h.Value)

	for _, bad := range []string{" folded", "NoColon", "Bad Name: x", "X-Ctl: a\x00b"} {
		_, err := protocol.ParseHeaderLine([]byte(bad))
		assert.ErrorIs(t, err, api.ProtocolError, bad)
	}
}

func TestParseChunkSize(t *testing.T) {
	tests := []struct {
		line string
		want int64
	}{
		{"0", 0},
		{"5", 5},
		{"1a", 26},
		{"FF;name=value", 255},
		{"10 ;ext", 16},
	}
	for _, tt := range tests {
		n, err := protocol.ParseChunkSize([]byte(tt.line))
		require.NoError(t, err, tt.line)
		assert.Equal(t, tt.want, n, tt.line)
	}

	for _, bad := range []string{"", ";ext", "-1", "zz", "0x10", "ffffffffffffffffff"} {
		_, err := protocol.ParseChunkSize([]byte(bad))
		assert.ErrorIs(t, err, api.ProtocolError, bad)
	}
}

func TestRequestBodyMode(t *testing.T) {
	tests := []struct {
		name    string
		headers protocol.Headers
		mode    protocol.BodyMode
		length  int64
		wantErr bool
	}{
		{"none", nil, protocol.BodyNone, 0, false},
		{"fixed", protocol.Headers{{"Content-Length", "12"}}, protocol.BodyFixed, 12, false},
		{"zero", protocol.Headers{{"Content-Length", "0"}}, protocol.BodyNone, 0, false},
		{"repeated equal", protocol.Headers{{"Content-Length", "3"}, {"content-length", "3"}}, protocol.BodyFixed, 3, false},
		{"conflicting", protocol.Headers{{"Content-Length", "3"}, {"Content-Length", "4"}}, protocol.BodyNone, 0, true},
		{"negative", protocol.Headers{{"Content-Length", "-3"}}, protocol.BodyNone, 0, true},
		{"chunked wins", protocol.Headers{{"Content-Length", "3"}, {"Transfer-Encoding", "gzip, chunked"}}, protocol.BodyChunked, -1, false},
		{"not chunked last", protocol.Headers{{"Transfer-Encoding", "chunked, gzip"}}, protocol.BodyNone, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, n, err := protocol.RequestBodyMode(tt.headers)
			if tt.wantErr {
				assert.ErrorIs(t, err, api.ProtocolError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.mode, mode)
			assert.Equal(t, tt.length, n)
		})
	}
}

func TestResponseBodyMode(t *testing.T) {
	cl := protocol.Headers{{"Content-Length", "10"}}

	mode, _, _ := protocol.ResponseBodyMode("HEAD", 200, cl)
	assert.Equal(t, protocol.BodyNone, mode)
	for _, status := range []int{100, 101, 204, 304} {
		mode, _, _ = protocol.ResponseBodyMode("GET", status, cl)
		assert.Equal(t, protocol.BodyNone, mode, status)
	}

	mode, n, err := protocol.ResponseBodyMode("GET", 200, cl)
	require.NoError(t, err)
	assert.Equal(t, protocol.BodyFixed, mode)
	assert.EqualValues(t, 10, n)

	mode, _, _ = protocol.ResponseBodyMode("GET", 200, nil)
	assert.Equal(t, protocol.BodyUntilClose, mode)
	mode, _, _ = protocol.ResponseBodyMode("GET", 200, protocol.Headers{{"Transfer-Encoding", "gzip"}})
	assert.Equal(t, protocol.BodyUntilClose, mode)
	mode, _, _ = protocol.ResponseBodyMode("GET", 200, protocol.Headers{{"Transfer-Encoding", "chunked"}})
	assert.Equal(t, protocol.BodyChunked, mode)
}

func TestKeepAlive(t *testing.T) {
	m11 := &protocol.Message{ProtoMajor: 1, ProtoMinor: 1}
	assert.True(t, m11.KeepAlive())
	m11.Headers.Add("Connection", "Upgrade, close")
	assert.False(t, m11.KeepAlive())

	m10 := &protocol.Message{ProtoMajor: 1, ProtoMinor: 0}
	assert.False(t, m10.KeepAlive())
	m10.Headers.Add("Connection", "Keep-Alive")
	assert.True(t, m10.KeepAlive())
}

func TestHeaders(t *testing.T) {
	var h protocol.Headers
	h.Add("Set-Cookie", "a=1")
	h.Add("X-Id", "7")
	h.Add("set-cookie", "b=2")

	assert.Equal(t, "a=1", h.Get("SET-COOKIE"))
	assert.Equal(t, []string{"a=1", "b=2"}, h.Values("Set-Cookie"))

	c := h.Clone()
	h.Set("Set-Cookie", "c=3")
	assert.Equal(t, []string{"c=3"}, h.Values("Set-Cookie"))
	assert.Len(t, c, 3)

	h.Del("x-id")
	assert.False(t, h.Has("X-Id"))
}
