package main

import (
	"bytes"
	"os"
	"path/filepath"
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

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "hioload-nio dev (unknown)\n", out.String())
}

func TestLoadConfigAppliesFileAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: 127.0.0.1:9999\nidleTimeout: 5s\nlog:\n  level: warn\n"), 0o600))

	configPath = path
	t.Cleanup(func() { configPath = "" })
	require.NoError(t, serveCmd.ParseFlags([]string{"--log-format", "json"}))

	cfg, err := loadConfig(serveCmd)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.ListenAddr)
	assert.Equal(t, 5*time.Second, cfg.IdleTimeout)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestAttachBody(t *testing.T) {
	req := coreproto.NewRequest("POST", "/", nil)
	require.NoError(t, attachBody(req, "inline"))
	assert.Equal(t, "inline", string(req.Body))

	path := filepath.Join(t.TempDir(), "body.txt")
	require.NoError(t, os.WriteFile(path, []byte("from file"), 0o600))
	require.NoError(t, attachBody(req, "@"+path))
	assert.Equal(t, "from file", string(req.Body))

	assert.Error(t, attachBody(req, "@"+filepath.Join(t.TempDir(), "missing")))
}

type inline struct{}

func (inline) Wake(c *protocol.Connection, dir api.Direction) { go c.Process(dir) }

func TestEchoHandler(t *testing.T) {
	ch := fake.NewChannel()
	c, err := protocol.NewConnection(ch, protocol.Options{
		Config:   control.DefaultConfig(),
		Handler:  echoHandler(),
		Notifier: inline{},
	})
	require.NoError(t, err)
	require.NoError(t, c.Open())

	ch.AddReadString("PUT /x HTTP/1.1\r\nContent-Type: text/plain\r\nContent-Length: 2\r\n\r\nhi")
	c.Process(api.Inbound)

	require.Eventually(t, func() bool {
		return bytes.HasSuffix(ch.Written(), []byte("\r\n\r\nhi"))
	}, 5*time.Second, time.Millisecond)
	out := string(ch.Written())
	assert.Contains(t, out, "X-Echo-Method: PUT\r\n")
	assert.Contains(t, out, "X-Echo-Target: /x\r\n")
	assert.Contains(t, out, "X-Echo-Seq: 1\r\n")
	assert.Contains(t, out, "Content-Type: text/plain\r\n")
}
