package protocol_test

import (
	"crypto/tls"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/control"
	coreproto "github.com/momentics/hioload-nio/core/protocol"
	"github.com/momentics/hioload-nio/fake"
	"github.com/momentics/hioload-nio/protocol"
	"github.com/momentics/hioload-nio/transport/tlsengine"
)

// link joins two connections over fake channels and moves bytes between
// them on demand.
type link struct {
	client, server     *protocol.Connection
	clientCh, serverCh *fake.Channel
}

func (l *link) pump() {
	for i := 0; i < 16; i++ {
		l.client.Process(api.Outbound)
		toServer := l.clientCh.TakeWritten()
		if len(toServer) > 0 {
			l.serverCh.AddRead(toServer)
		}
		l.server.Process(api.Inbound)
		l.server.Process(api.Outbound)
		toClient := l.serverCh.TakeWritten()
		if len(toClient) > 0 {
			l.clientCh.AddRead(toClient)
		}
		l.client.Process(api.Inbound)
		if len(toServer) == 0 && len(toClient) == 0 && i > 0 {
			return
		}
	}
}

func newSecureLink(t *testing.T, h protocol.Handler, metrics *control.MetricsRegistry) *link {
	t.Helper()
	gen, err := tlsengine.GenerateSelfSigned(nil)
	require.NoError(t, err)

	l := &link{clientCh: fake.NewChannel(), serverCh: fake.NewChannel()}
	cfg := testConfig()
	l.server, err = protocol.NewConnection(l.serverCh, protocol.Options{
		Config:  cfg,
		Role:    api.RoleServer,
		Handler: h,
		Metrics: metrics,
		Session: tlsengine.NewServer(&tls.Config{Certificates: []tls.Certificate{gen.TLSCertificate()}}),
	})
	require.NoError(t, err)
	l.client, err = protocol.NewConnection(l.clientCh, protocol.Options{
		Config:  cfg,
		Role:    api.RoleClient,
		Session: tlsengine.NewClient(&tls.Config{RootCAs: gen.CertPool(), ServerName: "localhost"}),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		l.client.Close(false)
		l.server.Close(false)
	})

	require.NoError(t, l.server.Open())
	require.NoError(t, l.client.Open())
	assert.Equal(t, api.StateOpening, l.server.State())
	assert.Equal(t, api.StateOpening, l.client.State())
	return l
}

func TestSecureExchange(t *testing.T) {
	h := &recorder{respond: respondWith("secret")}
	metrics := control.NewMetricsRegistry()
	l := newSecureLink(t, h, metrics)

	l.pump()
	require.Equal(t, api.StateOpen, l.client.State())
	require.Equal(t, api.StateOpen, l.server.State())
	require.NotNil(t, l.client.Security())
	assert.Equal(t, "localhost", l.client.Security().ServerName)
	assert.Positive(t, l.server.Security().KeySize)
	assert.EqualValues(t, 1, metrics.Get(control.MetricHandshakes))

	p, err := l.client.Send(coreproto.NewRequest("POST", "/vault", []byte("payload")))
	require.NoError(t, err)
	l.pump()

	resp, err := wait(t, p)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(resp.Body))
	require.NotNil(t, resp.Security)

	exs := h.exchanges()
	require.Len(t, exs, 1)
	req := exs[0].Request()
	assert.Equal(t, "payload", string(req.Body))
	require.NotNil(t, req.Security)
	assert.Equal(t, l.server.Security().CipherSuite, req.Security.CipherSuite)
}

func TestSecureRequestInHandshakeFlight(t *testing.T) {
	h := &recorder{respond: respondWith("early")}
	l := newSecureLink(t, h, nil)

	// Step until the client holds its keys, then submit before its final
	// flight is delivered so both arrive in one read.
	l.client.Process(api.Outbound)
	l.serverCh.AddRead(l.clientCh.TakeWritten())
	l.server.Process(api.Inbound)
	l.server.Process(api.Outbound)
	l.clientCh.AddRead(l.serverCh.TakeWritten())
	l.client.Process(api.Inbound)
	require.Equal(t, api.StateOpen, l.client.State())

	p, err := l.client.Send(coreproto.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	l.pump()

	resp, err := wait(t, p)
	require.NoError(t, err)
	assert.Equal(t, "early", string(resp.Body))
}

func TestSecureCloseNotifiesPeer(t *testing.T) {
	l := newSecureLink(t, &recorder{}, nil)
	l.pump()
	require.Equal(t, api.StateOpen, l.server.State())

	l.client.Close(true)
	require.Equal(t, api.StateClosed, l.client.State())
	l.serverCh.AddRead(l.clientCh.TakeWritten())
	l.server.Process(api.Inbound)

	assert.Equal(t, api.StateClosed, l.server.State())
	assert.NoError(t, l.server.Err())
}

func TestHandshakeFailureIsReported(t *testing.T) {
	h := &recorder{}
	serverCh, clientCh := fake.NewChannel(), fake.NewChannel()
	gen, err := tlsengine.GenerateSelfSigned(nil)
	require.NoError(t, err)

	server, err := protocol.NewConnection(serverCh, protocol.Options{
		Config:  testConfig(),
		Handler: h,
		Session: tlsengine.NewServer(&tls.Config{Certificates: []tls.Certificate{gen.TLSCertificate()}}),
	})
	require.NoError(t, err)
	client, err := protocol.NewConnection(clientCh, protocol.Options{
		Config: testConfig(),
		Role:   api.RoleClient,
		// No trusted roots: the client rejects the certificate.
		Session: tlsengine.NewClient(&tls.Config{ServerName: "localhost"}),
	})
	require.NoError(t, err)
	require.NoError(t, server.Open())
	require.NoError(t, client.Open())

	l := &link{client: client, server: server, clientCh: clientCh, serverCh: serverCh}
	l.pump()

	assert.Equal(t, api.StateClosed, client.State())
	assert.ErrorIs(t, client.Err(), api.HandshakeError)
	assert.Eventually(t, func() bool {
		l.pump()
		return server.State() == api.StateClosed
	}, 5*time.Second, 10*time.Millisecond)
	require.NotEmpty(t, h.errors())
	assert.ErrorIs(t, h.errors()[0], api.HandshakeError)
}

func TestHandshakeDeadline(t *testing.T) {
	now := time.Unix(3000, 0)
	h := &recorder{}
	gen, err := tlsengine.GenerateSelfSigned(nil)
	require.NoError(t, err)
	c, err := protocol.NewConnection(fake.NewChannel(), protocol.Options{
		Config:  testConfig(),
		Handler: h,
		Now:     func() time.Time { return now },
		Session: tlsengine.NewServer(&tls.Config{Certificates: []tls.Certificate{gen.TLSCertificate()}}),
	})
	require.NoError(t, err)
	require.NoError(t, c.Open())

	c.CheckTimeouts(now.Add(time.Second))
	assert.Equal(t, api.StateOpening, c.State())

	c.CheckTimeouts(now.Add(testConfig().HandshakeTimeout + time.Second))
	assert.Equal(t, api.StateClosed, c.State())
	assert.ErrorIs(t, c.Err(), api.ErrHandshakeTimeout)
	require.Len(t, h.errors(), 1)
	assert.ErrorIs(t, h.errors()[0], api.HandshakeError)
}

func TestAbandonedHandshakesReleaseSessions(t *testing.T) {
	gen, err := tlsengine.GenerateSelfSigned(nil)
	require.NoError(t, err)
	cfg := &tls.Config{Certificates: []tls.Certificate{gen.TLSCertificate()}}
	now := time.Unix(4000, 0)
	base := runtime.NumGoroutine()

	const n = 20
	conns := make([]*protocol.Connection, 0, n)
	for i := 0; i < n; i++ {
		ch := fake.NewChannel()
		c, err := protocol.NewConnection(ch, protocol.Options{
			Config:  testConfig(),
			Handler: &recorder{},
			Now:     func() time.Time { return now },
			Session: tlsengine.NewServer(cfg),
		})
		require.NoError(t, err)
		require.NoError(t, c.Open())
		// The start of a ClientHello record, then silence.
		ch.AddRead([]byte{0x16, 0x03, 0x01, 0x00, 0x40, 0x01, 0x00})
		c.Process(api.Inbound)
		require.Equal(t, api.StateOpening, c.State())
		conns = append(conns, c)
	}

	for _, c := range conns {
		c.CheckTimeouts(now.Add(time.Hour))
		require.Equal(t, api.StateClosed, c.State())
		assert.ErrorIs(t, c.Err(), api.ErrHandshakeTimeout)
	}
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= base
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHandshakeEOFReleasesSession(t *testing.T) {
	gen, err := tlsengine.GenerateSelfSigned(nil)
	require.NoError(t, err)
	base := runtime.NumGoroutine()

	ch := fake.NewChannel()
	c, err := protocol.NewConnection(ch, protocol.Options{
		Config:  testConfig(),
		Handler: &recorder{},
		Session: tlsengine.NewServer(&tls.Config{Certificates: []tls.Certificate{gen.TLSCertificate()}}),
	})
	require.NoError(t, err)
	require.NoError(t, c.Open())
	ch.AddRead([]byte{0x16, 0x03, 0x01, 0x00, 0x40})
	ch.CloseRead()
	c.Process(api.Inbound)
	c.Process(api.Outbound)

	assert.Equal(t, api.StateClosed, c.State())
	assert.ErrorIs(t, c.Err(), api.HandshakeError)
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= base
	}, 5*time.Second, 10*time.Millisecond)
}
