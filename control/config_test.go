package control_test

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-nio/control"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := control.DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*control.Config)
		field  string
	}{
		{"zero buffer", func(c *control.Config) { c.BufferSize = 0 }, "bufferSize"},
		{"max below initial", func(c *control.Config) { c.MaxBufferSize = c.BufferSize - 1 }, "maxBufferSize"},
		{"header larger than buffer", func(c *control.Config) { c.MaxHeaderSize = c.MaxBufferSize + 1 }, "maxHeaderSize"},
		{"negative idle", func(c *control.Config) { c.IdleTimeout = -time.Second }, "idleTimeout"},
		{"no sweep", func(c *control.Config) { c.SweepInterval = 0 }, "sweepInterval"},
		{"tls without cert", func(c *control.Config) { c.TLS.Enabled = true }, "tls"},
		{"bad level", func(c *control.Config) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := control.DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := control.Parse([]byte(`
listen: ":9000"
bufferSize: 4096
idleTimeout: 30s
workers: 3
pinWorkers: true
tls:
  enabled: true
  autoGenerateCert: true
log:
  level: debug
  format: json
`))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, 4096, cfg.BufferSize)
	assert.Equal(t, 30*time.Second, cfg.IdleTimeout)
	assert.Equal(t, control.DefaultConfig().MaxBufferSize, cfg.MaxBufferSize)
	assert.Equal(t, 3, cfg.Workers)
	assert.True(t, cfg.PinWorkers)
	assert.True(t, cfg.TLS.Enabled)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("NIO_TEST_PORT", "9443")
	path := filepath.Join(t.TempDir(), "nio.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: \"127.0.0.1:${NIO_TEST_PORT}\"\n"), 0o600))

	cfg, err := control.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9443", cfg.ListenAddr)

	_, err = control.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestStoreSnapshotAndReload(t *testing.T) {
	store := control.NewStore(control.DefaultConfig())
	before := store.Snapshot()

	var mu sync.Mutex
	var seen []int
	store.OnReload(func(c control.Config) {
		mu.Lock()
		seen = append(seen, c.BufferSize)
		mu.Unlock()
	})

	next := control.DefaultConfig()
	next.BufferSize = 1024
	require.NoError(t, store.Update(next))

	bad := next
	bad.ChunkSize = 0
	assert.Error(t, store.Update(bad))

	assert.Equal(t, control.DefaultConfig().BufferSize, before.BufferSize)
	assert.Equal(t, 1024, store.Snapshot().BufferSize)
	assert.Equal(t, []int{1024}, seen)
}

func TestNewLogger(t *testing.T) {
	var out bytes.Buffer
	log := control.NewLogger(control.LogConfig{Level: "warn", Format: "json", Output: &out})

	log.Info("hidden")
	log.Warn("shown", "conn", 3)

	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), `"conn":3`)

	control.Nop().Error("discarded")
}

func TestMetricsRegistry(t *testing.T) {
	mr := control.NewMetricsRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				mr.Inc(control.MetricMessagesIn)
			}
		}()
	}
	wg.Wait()
	mr.Add(control.MetricBytesIn, 42)

	assert.EqualValues(t, 800, mr.Get(control.MetricMessagesIn))
	assert.Equal(t, map[string]int64{control.MetricMessagesIn: 800, control.MetricBytesIn: 42}, mr.GetSnapshot())
	assert.False(t, mr.Updated().IsZero())

	var nilRegistry *control.MetricsRegistry
	nilRegistry.Inc("ignored")
	assert.Zero(t, nilRegistry.Get("ignored"))
}

func TestDebugProbes(t *testing.T) {
	dp := control.NewDebugProbes()
	dp.RegisterProbe("reactor.connections", func() any { return 2 })

	dp.RegisterProbe("broken", func() any { panic("boom") })
	mr := control.NewMetricsRegistry()
	mr.Inc(control.MetricHandshakes)
	dp.AttachMetrics(mr)

	state := dp.DumpState()
	assert.Equal(t, 2, state["reactor.connections"])
	assert.Contains(t, state, "platform.cpus")
	assert.Equal(t, map[string]int64{control.MetricHandshakes: 1}, state[control.MetricsProbe])
	assert.ErrorContains(t, state["broken"].(error), "boom")

	v, ok := dp.Probe("reactor.connections")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	dp.UnregisterProbe("broken")
	_, ok = dp.Probe("broken")
	assert.False(t, ok)
	assert.Equal(t, []string{control.MetricsProbe, "platform.cpus", "platform.goroutines", "reactor.connections"}, dp.Names())
}
