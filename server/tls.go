// File: server/tls.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"crypto/tls"
	"fmt"

	"github.com/momentics/hioload-nio/control"
	"github.com/momentics/hioload-nio/transport/tlsengine"
)

// tlsConfigFor builds the server TLS configuration described by cfg, or nil
// when encryption is disabled.
func tlsConfigFor(cfg control.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	var cert tls.Certificate
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		c, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading TLS key pair: %w", err)
		}
		cert = c
	} else {
		gen, err := tlsengine.GenerateSelfSigned(tlsengine.DefaultCertificateConfig())
		if err != nil {
			return nil, fmt.Errorf("generating certificate: %w", err)
		}
		cert = gen.TLSCertificate()
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
