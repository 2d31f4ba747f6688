// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Engine configuration: defaults, validation, YAML loading and a reloadable
// snapshot store.

package control

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the value every connection, reactor and connector is built from.
type Config struct {
	// ListenAddr is the server bind address, host:port.
	ListenAddr string `yaml:"listen"`

	// BufferSize is the initial capacity of each direction's buffer.
	BufferSize int `yaml:"bufferSize"`
	// MaxBufferSize bounds buffer growth.
	MaxBufferSize int `yaml:"maxBufferSize"`
	// MaxHeaderSize bounds the start line plus header section of a message.
	MaxHeaderSize int `yaml:"maxHeaderSize"`
	// MaxPipelined bounds messages delivered but not yet answered.
	MaxPipelined int `yaml:"maxPipelined"`
	// BodyBufferLimit is the largest body delivered fully buffered; larger
	// or unbounded bodies are streamed.
	BodyBufferLimit int `yaml:"bodyBufferLimit"`
	// ChunkSize is the chunk length used when serializing streamed bodies.
	ChunkSize int `yaml:"chunkSize"`

	IdleTimeout      time.Duration `yaml:"idleTimeout"`
	HandshakeTimeout time.Duration `yaml:"handshakeTimeout"`
	CloseTimeout     time.Duration `yaml:"closeTimeout"`
	// SweepInterval is the period of the reactor's deadline sweep.
	SweepInterval time.Duration `yaml:"sweepInterval"`

	// Workers is the executor size; 0 selects runtime.NumCPU().
	Workers int `yaml:"workers"`
	// PinWorkers binds each worker to one CPU.
	PinWorkers bool `yaml:"pinWorkers"`
	// PollBatch is the number of readiness events fetched per wait.
	PollBatch int `yaml:"pollBatch"`

	TLS TLSConfig `yaml:"tls"`
	Log LogConfig `yaml:"log"`
}

// TLSConfig selects transport encryption for the server.
type TLSConfig struct {
	Enabled bool `yaml:"enabled"`
	// AutoGenerateCert creates a self-signed certificate at startup.
	AutoGenerateCert bool   `yaml:"autoGenerateCert"`
	CertFile         string `yaml:"certFile"`
	KeyFile          string `yaml:"keyFile"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:       "127.0.0.1:8080",
		BufferSize:       8 * 1024,
		MaxBufferSize:    256 * 1024,
		MaxHeaderSize:    64 * 1024,
		MaxPipelined:     16,
		BodyBufferLimit:  64 * 1024,
		ChunkSize:        16 * 1024,
		IdleTimeout:      60 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		CloseTimeout:     5 * time.Second,
		SweepInterval:    time.Second,
		Workers:          0,
		PollBatch:        256,
		Log:              DefaultLogConfig(),
	}
}

// ValidationError reports one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Validate checks field ranges and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	positive := func(field string, v int) {
		if v <= 0 {
			errs = append(errs, &ValidationError{Field: field, Message: "must be positive"})
		}
	}
	positive("bufferSize", c.BufferSize)
	positive("maxBufferSize", c.MaxBufferSize)
	positive("maxHeaderSize", c.MaxHeaderSize)
	positive("maxPipelined", c.MaxPipelined)
	positive("chunkSize", c.ChunkSize)
	positive("pollBatch", c.PollBatch)

	if c.MaxBufferSize < c.BufferSize {
		errs = append(errs, &ValidationError{Field: "maxBufferSize", Message: "must not be smaller than bufferSize"})
	}
	if c.ChunkSize > c.MaxBufferSize/2 {
		errs = append(errs, &ValidationError{Field: "chunkSize", Message: "must not exceed half of maxBufferSize"})
	}
	if c.MaxHeaderSize > c.MaxBufferSize {
		errs = append(errs, &ValidationError{Field: "maxHeaderSize", Message: "must fit in maxBufferSize"})
	}
	if c.BodyBufferLimit < 0 {
		errs = append(errs, &ValidationError{Field: "bodyBufferLimit", Message: "must not be negative"})
	}
	if c.Workers < 0 {
		errs = append(errs, &ValidationError{Field: "workers", Message: "must not be negative"})
	}
	for field, d := range map[string]time.Duration{
		"idleTimeout":      c.IdleTimeout,
		"handshakeTimeout": c.HandshakeTimeout,
		"closeTimeout":     c.CloseTimeout,
	} {
		if d < 0 {
			errs = append(errs, &ValidationError{Field: field, Message: "must not be negative"})
		}
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, &ValidationError{Field: "sweepInterval", Message: "must be positive"})
	}
	if c.TLS.Enabled && !c.TLS.AutoGenerateCert && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		errs = append(errs, &ValidationError{
			Field:   "tls",
			Message: "when enabled, either autoGenerateCert must be true or both certFile and keyFile must be provided",
		})
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, &ValidationError{Field: "log.level", Message: err.Error()})
	}
	if _, err := ParseFormat(c.Log.Format); err != nil {
		errs = append(errs, &ValidationError{Field: "log.format", Message: err.Error()})
	}
	return errors.Join(errs...)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses a YAML file. Environment references are expanded.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Store holds the current configuration snapshot. Readers get a copy, so a
// reload only affects components built after it.
type Store struct {
	current   atomic.Pointer[Config]
	mu        sync.Mutex
	listeners []func(Config)
}

// NewStore creates a store seeded with cfg.
func NewStore(cfg Config) *Store {
	s := &Store{}
	s.current.Store(&cfg)
	return s
}

// Snapshot returns the current configuration.
func (s *Store) Snapshot() Config {
	return *s.current.Load()
}

// Update validates and installs cfg, then notifies listeners.
func (s *Store) Update(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.current.Store(&cfg)

	s.mu.Lock()
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
	return nil
}

// OnReload registers a listener called after each successful Update.
func (s *Store) OnReload(fn func(Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}
