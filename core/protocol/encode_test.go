package protocol_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/core/protocol"
)

func TestPrepareFixedResponse(t *testing.T) {
	o := protocol.NewResponse(0, "OK", []byte("hello"))
	o.Headers.Add("Content-Length", "99")

	f, err := o.Prepare(false)
	require.NoError(t, err)
	assert.Equal(t, protocol.Framing{Mode: protocol.BodyFixed, Length: 5}, f)
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\n", string(o.AppendHead(nil)))
}

func TestPrepareStreamedBody(t *testing.T) {
	o := &protocol.Outgoing{StatusCode: 200, Reason: "OK", BodyReader: strings.NewReader("abc")}
	f, err := o.Prepare(false)
	require.NoError(t, err)
	assert.Equal(t, protocol.BodyChunked, f.Mode)
	assert.Equal(t, "chunked", o.Headers.Get("Transfer-Encoding"))

	o = &protocol.Outgoing{StatusCode: 200, BodyReader: strings.NewReader("abc"), ContentLength: 3}
	f, err = o.Prepare(false)
	require.NoError(t, err)
	assert.Equal(t, protocol.Framing{Mode: protocol.BodyFixed, Length: 3}, f)

	o = &protocol.Outgoing{StatusCode: 200, Proto: protocol.Proto10, BodyReader: strings.NewReader("abc")}
	_, err = o.Prepare(false)
	assert.ErrorIs(t, err, api.NewError(api.ErrCodeInvalidArgument, ""))
}

func TestPrepareWithoutBody(t *testing.T) {
	o := protocol.NewResponse(304, "Not Modified", nil)
	f, err := o.Prepare(true)
	require.NoError(t, err)
	assert.Equal(t, protocol.BodyNone, f.Mode)
	assert.False(t, o.Headers.Has("Content-Length"))

	get := protocol.NewRequest("GET", "/", nil)
	_, err = get.Prepare(false)
	require.NoError(t, err)
	assert.Equal(t, "GET / HTTP/1.1\r\n\r\n", string(get.AppendHead(nil)))

	post := protocol.NewRequest("POST", "/submit", nil)
	_, err = post.Prepare(false)
	require.NoError(t, err)
	assert.Equal(t, "0", post.Headers.Get("Content-Length"))
}

func TestPrepareRejectsInvalid(t *testing.T) {
	o := &protocol.Outgoing{Body: []byte("x"), BodyReader: strings.NewReader("y")}
	_, err := o.Prepare(false)
	assert.Error(t, err)

	o = protocol.NewResponse(200, "OK", nil)
	o.Headers.Add("Bad\nName", "v")
	_, err = o.Prepare(false)
	assert.Error(t, err)
}

func TestChunkEncoding(t *testing.T) {
	var dst []byte
	dst = protocol.AppendChunkHeader(dst, 26)
	dst = append(dst, strings.Repeat("x", 26)...)
	dst = append(dst, protocol.CRLF...)
	dst = protocol.AppendLastChunk(dst, protocol.Headers{{"Checksum", "abc"}})

	assert.Equal(t, "1a\r\n"+strings.Repeat("x", 26)+"\r\n0\r\nChecksum: abc\r\n\r\n", string(dst))
}
