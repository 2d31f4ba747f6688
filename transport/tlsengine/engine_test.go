package tlsengine_test

import (
	"crypto/tls"
	"crypto/x509"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/transport/tlsengine"
)

type pair struct {
	client, server         *tlsengine.Engine
	clientLeft, serverLeft []byte
}

func newPair(t *testing.T, clientCfg *tls.Config) (*pair, *tlsengine.GeneratedCertificate) {
	t.Helper()
	gen, err := tlsengine.GenerateSelfSigned(nil)
	require.NoError(t, err)

	if clientCfg == nil {
		clientCfg = &tls.Config{RootCAs: gen.CertPool(), ServerName: "localhost"}
	}
	p := &pair{
		server: tlsengine.NewServer(&tls.Config{Certificates: []tls.Certificate{gen.TLSCertificate()}}),
		client: tlsengine.NewClient(clientCfg),
	}
	t.Cleanup(func() {
		_, _ = p.client.Close()
		_, _ = p.server.Close()
	})
	return p, gen
}

// run drives both sides until each reports completion or an error occurs.
func (p *pair) run(t *testing.T) (clientErr, serverErr error) {
	t.Helper()
	out, n, cdone, err := p.client.Handshake(nil)
	require.NoError(t, err)
	require.Zero(t, n)
	require.NotEmpty(t, out, "client hello")
	toServer := out
	var toClient []byte
	sdone := false

	for i := 0; i < 10 && !(cdone && sdone); i++ {
		out, n, sdone, serverErr = p.server.Handshake(toServer)
		toServer = toServer[n:]
		toClient = append(toClient, out...)
		if serverErr != nil {
			return nil, serverErr
		}

		out, n, cdone, clientErr = p.client.Handshake(toClient)
		toClient = toClient[n:]
		toServer = append(toServer, out...)
		if clientErr != nil {
			// deliver the alert
			_, _, _, serverErr = p.server.Handshake(toServer)
			return clientErr, serverErr
		}
	}
	require.True(t, cdone && sdone, "handshake did not converge")
	p.clientLeft, p.serverLeft = toClient, toServer
	return nil, nil
}

func TestHandshakeAndExchange(t *testing.T) {
	p, gen := newPair(t, nil)
	cerr, serr := p.run(t)
	require.NoError(t, cerr)
	require.NoError(t, serr)

	// Post-handshake records such as session tickets stay with the caller.
	plain, err := p.client.Unwrap(p.clientLeft)
	require.NoError(t, err)
	assert.Empty(t, plain)
	plain, err = p.server.Unwrap(p.serverLeft)
	require.NoError(t, err)
	assert.Empty(t, plain)

	ct, err := p.client.Wrap([]byte("GET / HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)
	plain, err = p.server.Unwrap(ct)
	require.NoError(t, err)
	assert.Equal(t, "GET / HTTP/1.1\r\n\r\n", string(plain))

	ct, err = p.server.Wrap([]byte("HTTP/1.1 204 No Content\r\n\r\n"))
	require.NoError(t, err)
	half := len(ct) / 2
	plain, err = p.client.Unwrap(ct[:half])
	require.NoError(t, err)
	assert.Empty(t, plain, "partial record yields nothing")
	plain, err = p.client.Unwrap(ct[half:])
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 204 No Content\r\n\r\n", string(plain))

	info := p.client.Info()
	assert.NotEmpty(t, info.Protocol)
	assert.NotEmpty(t, info.CipherSuite)
	assert.Positive(t, info.KeySize)
	require.Len(t, info.PeerCertificates, 1)
	assert.True(t, info.PeerCertificates[0].Equal(gen.Certificate))
	assert.Equal(t, "localhost", p.server.Info().ServerName)
}

func TestHandshakeRecordsAfterCompletionAreNotConsumed(t *testing.T) {
	p, _ := newPair(t, nil)
	require.NoError(t, firstErr(p.run(t)))

	ct, err := p.client.Wrap([]byte("early"))
	require.NoError(t, err)
	out, n, done, err := p.server.Handshake(ct)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Zero(t, n)
	assert.Empty(t, out)

	plain, err := p.server.Unwrap(append(p.serverLeft, ct...))
	require.NoError(t, err)
	assert.Equal(t, "early", string(plain))
}

func TestCloseNotify(t *testing.T) {
	p, _ := newPair(t, nil)
	require.NoError(t, firstErr(p.run(t)))
	_, err := p.server.Unwrap(p.serverLeft)
	require.NoError(t, err)

	alert, err := p.client.Close()
	require.NoError(t, err)
	require.NotEmpty(t, alert)

	plain, err := p.server.Unwrap(alert)
	assert.Empty(t, plain)
	assert.ErrorIs(t, err, io.EOF)
}

func TestHandshakeFailure(t *testing.T) {
	p, _ := newPair(t, &tls.Config{RootCAs: x509.NewCertPool(), ServerName: "localhost"})
	cerr, serr := p.run(t)

	require.Error(t, cerr)
	assert.ErrorIs(t, cerr, api.HandshakeError)
	assert.ErrorIs(t, serr, api.HandshakeError)
}

func TestKeySize(t *testing.T) {
	tests := map[string]int{
		"TLS_AES_128_GCM_SHA256":                  128,
		"TLS_AES_256_GCM_SHA384":                  256,
		"TLS_CHACHA20_POLY1305_SHA256":            256,
		"TLS_ECDHE_RSA_WITH_3DES_EDE_CBC_SHA":     168,
		"TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA256": 128,
		"unknown": 0,
	}
	for suite, bits := range tests {
		assert.Equal(t, bits, tlsengine.KeySize(suite), suite)
	}
}

func firstErr(a, b error) error {
	if a != nil {
		return a
	}
	return b
}
