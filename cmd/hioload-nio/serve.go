package main

import (
	"context"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/momentics/hioload-nio/control"
	coreproto "github.com/momentics/hioload-nio/core/protocol"
	"github.com/momentics/hioload-nio/protocol"
	"github.com/momentics/hioload-nio/server"
)

var (
	serveListen   string
	serveTLS      bool
	serveCert     string
	serveKey      string
	serveWorkers  int
	serveIdle     time.Duration
	serveShutdown time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run an echo server",
	Long: `Run a server that answers every request with its own body.

Buffered bodies are echoed with a Content-Length, streamed bodies are echoed
chunked while they arrive.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("listen") {
			cfg.ListenAddr = serveListen
		}
		if flags.Changed("workers") {
			cfg.Workers = serveWorkers
		}
		if flags.Changed("idle-timeout") {
			cfg.IdleTimeout = serveIdle
		}
		if flags.Changed("tls") {
			cfg.TLS.Enabled = serveTLS
		}
		if flags.Changed("cert") || flags.Changed("key") {
			cfg.TLS.CertFile, cfg.TLS.KeyFile = serveCert, serveKey
		}
		if cfg.TLS.Enabled && cfg.TLS.CertFile == "" {
			cfg.TLS.AutoGenerateCert = true
		}

		log := control.NewLogger(cfg.Log)
		s, err := server.New(cfg, echoHandler(), server.WithLogger(log))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		errCh := make(chan error, 1)
		go func() { errCh <- s.ListenAndServe(context.WithoutCancel(ctx)) }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}
		log.Info("shutting down", "grace", serveShutdown)
		sctx, cancel := context.WithTimeout(context.Background(), serveShutdown)
		defer cancel()
		if err := s.Shutdown(sctx); err != nil {
			log.Warn("shutdown incomplete", "error", err)
		}
		err = <-errCh
		log.Info("final metrics", "metrics", s.Metrics())
		return err
	},
}

// echoHandler answers with the request body and its coordinates.
func echoHandler() protocol.Handler {
	return protocol.HandlerFunc(func(ex *protocol.Exchange) {
		req := ex.Request()
		resp := &coreproto.Outgoing{StatusCode: 200, Reason: "OK"}
		resp.Headers.Add("X-Echo-Method", req.Method)
		resp.Headers.Add("X-Echo-Target", req.Target)
		resp.Headers.Add("X-Echo-Seq", strconv.FormatUint(req.Seq, 10))
		if ct := req.Headers.Get("Content-Type"); ct != "" {
			resp.Headers.Add("Content-Type", ct)
		}
		if req.Stream != nil {
			resp.BodyReader = req.BodyReader()
		} else {
			resp.Body = req.Body
		}
		_ = ex.Respond(resp)
	})
}

func init() {
	f := serveCmd.Flags()
	f.StringVarP(&serveListen, "listen", "l", "127.0.0.1:8080", "Listen address")
	f.BoolVar(&serveTLS, "tls", false, "Enable TLS (self-signed unless --cert/--key are given)")
	f.StringVar(&serveCert, "cert", "", "TLS certificate file")
	f.StringVar(&serveKey, "key", "", "TLS key file")
	f.IntVarP(&serveWorkers, "workers", "w", 0, "Worker goroutines (0 = one per CPU)")
	f.DurationVar(&serveIdle, "idle-timeout", 60*time.Second, "Close connections idle for this long (0 = never)")
	f.DurationVar(&serveShutdown, "shutdown-timeout", 10*time.Second, "Grace period for open connections on shutdown")
	rootCmd.AddCommand(serveCmd)
}
