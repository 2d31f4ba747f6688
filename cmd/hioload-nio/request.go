package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/momentics/hioload-nio/client"
	"github.com/momentics/hioload-nio/control"
	coreproto "github.com/momentics/hioload-nio/core/protocol"
)

var (
	reqMethod   string
	reqHeaders  []string
	reqData     string
	reqTLS      bool
	reqInsecure bool
	reqTimeout  time.Duration
	reqInclude  bool
)

var requestCmd = &cobra.Command{
	Use:   "request <host:port> [target]",
	Short: "Send one request and print the response",
	Example: `  hioload-nio request 127.0.0.1:8080 /hello
  hioload-nio request 127.0.0.1:8443 /upload -X POST -d @file.txt --tls --insecure`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		target := "/"
		if len(args) == 2 {
			target = args[1]
		}

		req := &coreproto.Outgoing{Method: strings.ToUpper(reqMethod), Target: target}
		for _, h := range reqHeaders {
			name, value, ok := strings.Cut(h, ":")
			if !ok {
				return fmt.Errorf("invalid header %q, want Name: value", h)
			}
			req.Headers.Add(strings.TrimSpace(name), strings.TrimSpace(value))
		}
		if err := attachBody(req, reqData); err != nil {
			return err
		}

		opts := []client.Option{client.WithLogger(control.NewLogger(cfg.Log))}
		if reqTLS {
			opts = append(opts, client.WithTLSConfig(&tls.Config{InsecureSkipVerify: reqInsecure}))
		}
		c, err := client.New(cfg, opts...)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), reqTimeout)
		defer cancel()
		resp, err := c.Do(ctx, args[0], req)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if reqInclude {
			fmt.Fprintf(out, "%s %d %s\n", resp.Proto, resp.StatusCode, resp.Reason)
			for _, h := range resp.Headers {
				fmt.Fprintf(out, "%s: %s\n", h.Name, h.Value)
			}
			fmt.Fprintln(out)
		}
		_, err = io.Copy(out, resp.BodyReader())
		return err
	},
}

// attachBody sets the request body from data; @path reads a file.
func attachBody(req *coreproto.Outgoing, data string) error {
	if data == "" {
		return nil
	}
	if path, ok := strings.CutPrefix(data, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading body: %w", err)
		}
		req.Body = b
		return nil
	}
	req.Body = []byte(data)
	return nil
}

func init() {
	f := requestCmd.Flags()
	f.StringVarP(&reqMethod, "method", "X", "GET", "Request method")
	f.StringArrayVarP(&reqHeaders, "header", "H", nil, "Request header, Name: value (repeatable)")
	f.StringVarP(&reqData, "data", "d", "", "Request body, or @file")
	f.BoolVar(&reqTLS, "tls", false, "Use TLS")
	f.BoolVarP(&reqInsecure, "insecure", "k", false, "Skip certificate verification")
	f.DurationVar(&reqTimeout, "timeout", 30*time.Second, "Request timeout")
	f.BoolVarP(&reqInclude, "include", "i", false, "Print the status line and headers")
	rootCmd.AddCommand(requestCmd)
}
