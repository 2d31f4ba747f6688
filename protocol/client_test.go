package protocol_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/control"
	coreproto "github.com/momentics/hioload-nio/core/protocol"
	"github.com/momentics/hioload-nio/fake"
	"github.com/momentics/hioload-nio/protocol"
)

func newClient(t *testing.T, ch *fake.Channel, o connOpts) *protocol.Connection {
	t.Helper()
	return newConn(t, api.RoleClient, ch, nil, o)
}

func wait(t *testing.T, p *protocol.Pending) (*coreproto.Message, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.Wait(ctx)
}

func TestClientMatchesResponsesInOrder(t *testing.T) {
	ch := fake.NewChannel()
	c := newClient(t, ch, connOpts{})

	p1, err := c.Send(coreproto.NewRequest("GET", "/a", nil))
	require.NoError(t, err)
	p2, err := c.Send(coreproto.NewRequest("POST", "/b", []byte("data")))
	require.NoError(t, err)
	assert.Equal(t, api.IoReady, c.IoState(api.Outbound))

	c.Process(api.Outbound)
	assert.Equal(t,
		"GET /a HTTP/1.1\r\n\r\n"+
			"POST /b HTTP/1.1\r\nContent-Length: 4\r\n\r\ndata",
		string(ch.Written()))

	ch.AddReadString("HTTP/1.1 200 OK\r\nContent-Length: 1\r\n\r\na")
	ch.AddReadString("HTTP/1.1 201 Created\r\nContent-Length: 1\r\n\r\nb")
	c.Process(api.Inbound)

	r1, err := wait(t, p1)
	require.NoError(t, err)
	assert.Equal(t, 200, r1.StatusCode)
	assert.Equal(t, "a", string(r1.Body))

	r2, err := wait(t, p2)
	require.NoError(t, err)
	assert.Equal(t, 201, r2.StatusCode)
	assert.Equal(t, "Created", r2.Reason)
	assert.Equal(t, "b", string(r2.Body))
	assert.Equal(t, api.StateOpen, c.State())
}

func TestClientHeadAndInterimResponses(t *testing.T) {
	ch := fake.NewChannel()
	c := newClient(t, ch, connOpts{})

	head, err := c.Send(coreproto.NewRequest("HEAD", "/", nil))
	require.NoError(t, err)
	get, err := c.Send(coreproto.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	c.Process(api.Outbound)

	ch.AddReadString("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\n")
	ch.AddReadString("HTTP/1.1 100 Continue\r\n\r\n")
	ch.AddReadString("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello")
	c.Process(api.Inbound)

	r, err := wait(t, head)
	require.NoError(t, err)
	assert.Empty(t, r.Body)
	assert.Equal(t, "5", r.Headers.Get("content-length"))

	r, err = wait(t, get)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(r.Body))
}

func TestClientUnsolicitedResponseIsFatal(t *testing.T) {
	ch := fake.NewChannel()
	c := newClient(t, ch, connOpts{})

	ch.AddReadString("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")
	c.Process(api.Inbound)

	assert.Equal(t, api.StateClosed, c.State())
	assert.ErrorIs(t, c.Err(), api.ProtocolError)
	_, err := c.Send(coreproto.NewRequest("GET", "/", nil))
	assert.ErrorIs(t, err, api.ErrConnectionClosed)
}

func TestClientMalformedResponseFailsPending(t *testing.T) {
	ch := fake.NewChannel()
	c := newClient(t, ch, connOpts{})

	p, err := c.Send(coreproto.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	c.Process(api.Outbound)

	ch.AddReadString("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\nnope\r\n")
	c.Process(api.Inbound)

	_, err = wait(t, p)
	assert.ErrorIs(t, err, api.ProtocolError)
	assert.Equal(t, api.StateClosed, c.State())
}

func TestClientPeerCloseFailsOutstandingRequests(t *testing.T) {
	ch := fake.NewChannel()
	c := newClient(t, ch, connOpts{})

	p1, err := c.Send(coreproto.NewRequest("GET", "/1", nil))
	require.NoError(t, err)
	p2, err := c.Send(coreproto.NewRequest("GET", "/2", nil))
	require.NoError(t, err)
	c.Process(api.Outbound)

	ch.AddReadString("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")
	ch.CloseRead()
	c.Process(api.Inbound)

	_, err = wait(t, p1)
	require.NoError(t, err)
	_, err = wait(t, p2)
	assert.ErrorIs(t, err, api.IoError)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, api.StateClosed, c.State())
}

func TestClientResponseUntilClose(t *testing.T) {
	ch := fake.NewChannel()
	c := newClient(t, ch, connOpts{})

	p, err := c.Send(coreproto.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	c.Process(api.Outbound)

	ch.AddReadString("HTTP/1.0 200 OK\r\n\r\nall of it")
	ch.CloseRead()
	c.Process(api.Inbound)

	r, err := wait(t, p)
	require.NoError(t, err)
	assert.Equal(t, "all of it", string(r.Body))
	assert.Equal(t, api.StateClosed, c.State())
	assert.NoError(t, c.Err())
}

func TestClientGracefulCloseReadsOutstandingResponse(t *testing.T) {
	ch := fake.NewChannel()
	c := newClient(t, ch, connOpts{})

	p, err := c.Send(coreproto.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	c.Process(api.Outbound)

	c.Close(true)
	assert.Equal(t, api.StateClosing, c.State())
	assert.True(t, c.Interest().Has(api.InterestRead), "an awaited response is still read")
	_, err = c.Send(coreproto.NewRequest("GET", "/late", nil))
	assert.ErrorIs(t, err, api.ErrConnectionClosed)

	ch.AddReadString("HTTP/1.1 204 No Content\r\n\r\n")
	c.Process(api.Inbound)

	r, err := wait(t, p)
	require.NoError(t, err)
	assert.Equal(t, 204, r.StatusCode)
	assert.Equal(t, api.StateClosed, c.State())
}

func TestClientIdleTimeoutFailsPending(t *testing.T) {
	ch := fake.NewChannel()
	now := time.Unix(2000, 0)
	c := newClient(t, ch, connOpts{
		now: func() time.Time { return now },
		cfg: func(cfg *control.Config) { cfg.IdleTimeout = time.Second },
	})

	p, err := c.Send(coreproto.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	c.Process(api.Outbound)

	c.CheckTimeouts(now.Add(time.Minute))
	_, err = wait(t, p)
	assert.ErrorIs(t, err, api.ErrIdleTimeout)
	assert.Equal(t, api.StateClosed, c.State())
}

func TestClientStreamedResponse(t *testing.T) {
	ch := fake.NewChannel()
	c := newClient(t, ch, connOpts{
		notifier: asyncNotifier{},
		cfg:      func(cfg *control.Config) { cfg.BodyBufferLimit = 8 },
	})

	p, err := c.Send(coreproto.NewRequest("GET", "/big", nil))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(ch.Written()) > 0 }, 5*time.Second, time.Millisecond)

	ch.AddReadString("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n")
	ch.AddReadString("10\r\n0123456789abcdef\r\n10\r\nfedcba9876543210\r\n0\r\n\r\n")
	c.Process(api.Inbound)

	r, err := wait(t, p)
	require.NoError(t, err)
	require.NotNil(t, r.Stream)
	body, err := io.ReadAll(r.Stream)
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdeffedcba9876543210", string(body))
}

func TestSendRequiresClientRequest(t *testing.T) {
	server := newConn(t, api.RoleServer, fake.NewChannel(), &recorder{}, connOpts{})
	_, err := server.Send(coreproto.NewRequest("GET", "/", nil))
	assert.ErrorIs(t, err, api.ErrNotSupported)

	client := newClient(t, fake.NewChannel(), connOpts{})
	_, err = client.Send(coreproto.NewResponse(200, "OK", nil))
	assert.Error(t, err)
	_, err = client.Send(nil)
	assert.Error(t, err)
}

func TestClientOrderUnderWriteBackPressure(t *testing.T) {
	ch := fake.NewChannel()
	c := newClient(t, ch, connOpts{})
	ch.SetWriteLimit(3)

	reqs := []*coreproto.Outgoing{
		coreproto.NewRequest("GET", "/1", nil),
		coreproto.NewRequest("POST", "/2", []byte("data")),
		coreproto.NewRequest("PUT", "/3", []byte("xyz")),
	}
	var pendings []*protocol.Pending
	for _, req := range reqs {
		p, err := c.Send(req)
		require.NoError(t, err)
		pendings = append(pendings, p)
	}

	want := "GET /1 HTTP/1.1\r\n\r\n" +
		"POST /2 HTTP/1.1\r\nContent-Length: 4\r\n\r\ndata" +
		"PUT /3 HTTP/1.1\r\nContent-Length: 3\r\n\r\nxyz"
	for i := 0; i < 200 && len(ch.Written()) < len(want); i++ {
		// Every other cycle finds the channel full.
		ch.SetBlocked(i%2 == 1)
		c.Process(api.Outbound)
	}
	ch.SetBlocked(false)
	c.Process(api.Outbound)
	assert.Equal(t, want, string(ch.Written()))

	ch.AddReadString("HTTP/1.1 200 OK\r\nContent-Length: 1\r\n\r\n1")
	ch.AddReadString("HTTP/1.1 200 OK\r\nContent-Length: 1\r\n\r\n2")
	ch.AddReadString("HTTP/1.1 200 OK\r\nContent-Length: 1\r\n\r\n3")
	c.Process(api.Inbound)
	for i, p := range pendings {
		r, err := wait(t, p)
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "2", "3"}[i], string(r.Body))
	}
}
