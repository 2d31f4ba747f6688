package protocol_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"pgregory.net/rapid"

	"github.com/momentics/hioload-nio/api"
	coreproto "github.com/momentics/hioload-nio/core/protocol"
	"github.com/momentics/hioload-nio/fake"
	"github.com/momentics/hioload-nio/protocol"
	"github.com/momentics/hioload-nio/protocol/mocks"
)

type wireRequest struct {
	target  string
	body    string
	chunked bool
}

func (r wireRequest) encode() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "POST %s HTTP/1.1\r\nHost: t\r\n", r.target)
	if !r.chunked {
		fmt.Fprintf(&sb, "Content-Length: %d\r\n\r\n%s", len(r.body), r.body)
		return sb.String()
	}
	sb.WriteString("Transfer-Encoding: chunked\r\n\r\n")
	for rest := r.body; len(rest) > 0; {
		n := min(len(rest), 5)
		fmt.Fprintf(&sb, "%x\r\n%s\r\n", n, rest[:n])
		rest = rest[n:]
	}
	sb.WriteString("0\r\n\r\n")
	return sb.String()
}

// Framing does not depend on how the byte stream is cut into reads.
func TestFramingIgnoresReadBoundaries(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 5).Draw(rt, "requests")
		reqs := make([]wireRequest, n)
		var wire strings.Builder
		for i := range reqs {
			reqs[i] = wireRequest{
				target:  fmt.Sprintf("/r%d", i),
				body:    rapid.StringMatching(`[a-z0-9]{0,40}`).Draw(rt, "body"),
				chunked: rapid.Bool().Draw(rt, "chunked"),
			}
			wire.WriteString(reqs[i].encode())
		}
		data := []byte(wire.String())

		ch := fake.NewChannel()
		h := &recorder{respond: func(ex *protocol.Exchange) {
			_ = ex.Respond(coreproto.NewResponse(200, "OK", []byte(ex.Request().Target)))
		}}
		c, err := protocol.NewConnection(ch, protocol.Options{Config: testConfig(), Handler: h})
		require.NoError(rt, err)
		require.NoError(rt, c.Open())

		for len(data) > 0 {
			k := rapid.IntRange(1, len(data)).Draw(rt, "cut")
			ch.AddRead(data[:k])
			if rapid.Bool().Draw(rt, "block") {
				ch.AddWouldBlock()
			}
			data = data[k:]
			c.Process(api.Inbound)
			c.Process(api.Outbound)
		}
		c.Process(api.Inbound)
		c.Process(api.Outbound)

		exs := h.exchanges()
		require.Len(rt, exs, n)
		var want strings.Builder
		for i, ex := range exs {
			req := ex.Request()
			require.Equal(rt, reqs[i].target, req.Target)
			require.Equal(rt, reqs[i].body, string(req.Body))
			require.Equal(rt, "t", req.Headers.Get("Host"))
			require.EqualValues(rt, i+1, req.Seq)
			fmt.Fprintf(&want, "HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(req.Target), req.Target)
		}
		require.Equal(rt, want.String(), string(ch.Written()))
		require.Equal(rt, api.StateOpen, c.State())
	})
}

// A body written by one connection's outbound way is read back unchanged by
// a peer's inbound way, whatever the head size, body size and coding.
func TestOutboundInboundRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		cfg := testConfig()
		cfg.MaxBufferSize = 4096
		cfg.MaxHeaderSize = 4096
		cfg.BodyBufferLimit = 8192
		cfg.ChunkSize = rapid.IntRange(16, cfg.MaxBufferSize/2).Draw(rt, "chunkSize")

		big := strings.Repeat("h", rapid.IntRange(0, 3000).Draw(rt, "headerSize"))
		body := rapid.StringOfN(rapid.RuneFrom([]rune("abcdefghijklmnopqrstuvwxyz0123456789")), 0, 3000, -1).Draw(rt, "body")
		req := &coreproto.Outgoing{Method: "POST", Target: "/rt"}
		switch rapid.SampledFrom([]string{"bytes", "chunked", "reader", "sized reader"}).Draw(rt, "coding") {
		case "bytes":
			req.Body = []byte(body)
		case "chunked":
			req.Body = []byte(body)
			req.Chunked = true
		case "reader":
			req.BodyReader = strings.NewReader(body)
		case "sized reader":
			req.BodyReader = strings.NewReader(body)
			req.ContentLength = int64(len(body))
		}
		if big != "" {
			req.Headers.Set("X-Big", big)
		}

		clientCh, serverCh := fake.NewChannel(), fake.NewChannel()
		client, err := protocol.NewConnection(clientCh, protocol.Options{Config: cfg, Role: api.RoleClient})
		require.NoError(rt, err)
		require.NoError(rt, client.Open())
		h := &recorder{}
		server, err := protocol.NewConnection(serverCh, protocol.Options{Config: cfg, Handler: h})
		require.NoError(rt, err)
		require.NoError(rt, server.Open())

		_, err = client.Send(req)
		require.NoError(rt, err)
		for i := 0; i < 1024 && len(h.exchanges()) == 0; i++ {
			client.Process(api.Outbound)
			if wire := clientCh.TakeWritten(); len(wire) > 0 {
				serverCh.AddRead(wire)
			}
			server.Process(api.Inbound)
		}

		require.Equal(rt, api.StateOpen, client.State())
		exs := h.exchanges()
		require.Len(rt, exs, 1)
		got := exs[0].Request()
		require.Equal(rt, "/rt", got.Target)
		require.Equal(rt, big, got.Headers.Get("X-Big"))
		require.Equal(rt, body, string(got.Body))
		require.Empty(rt, h.errors())
	})
}

func TestHandlerAndNotifierMocks(t *testing.T) {
	ctrl := gomock.NewController(t)
	handler := mocks.NewMockHandler(ctrl)
	notifier := mocks.NewMockNotifier(ctrl)

	ch := fake.NewChannel()
	c, err := protocol.NewConnection(ch, protocol.Options{
		Config:   testConfig(),
		Handler:  handler,
		Notifier: notifier,
	})
	require.NoError(t, err)
	require.NoError(t, c.Open())

	gomock.InOrder(
		handler.EXPECT().OnMessage(gomock.Any()).Do(func(ex *protocol.Exchange) {
			require.Equal(t, "/mock", ex.Request().Target)
			require.NoError(t, ex.Respond(coreproto.NewResponse(204, "No Content", nil)))
		}),
		notifier.EXPECT().Wake(c, api.Outbound).Do(func(c *protocol.Connection, dir api.Direction) {
			require.Equal(t, api.IoReady, c.IoState(dir))
		}),
	)

	ch.AddReadString("GET /mock HTTP/1.1\r\n\r\n")
	c.Process(api.Inbound)

	// Writing the answer frees a pipeline slot, which wakes the reader.
	notifier.EXPECT().Wake(c, api.Inbound)
	c.Process(api.Outbound)
	require.Equal(t, "HTTP/1.1 204 No Content\r\n\r\n", string(ch.Written()))
}
