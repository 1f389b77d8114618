// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net/http"
	"time"
)

var errNoCertificates = errors.New("transport: no TLS certificates configured")

// TLS version constants
const (
	TLS12 = tls.VersionTLS12
	TLS13 = tls.VersionTLS13
)

// Recommended TLS 1.2 cipher suites
var RecommendedTLS12CipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
}

// HTTPSConfig contains HTTPS client/server configuration
type HTTPSConfig struct {
	MinTLSVersion   uint16
	MaxTLSVersion   uint16
	CipherSuites    []uint16
	ClientAuth      tls.ClientAuthType
	Certificates    []tls.Certificate
	RootCAs         *x509.CertPool
	ClientCAs       *x509.CertPool
	Timeout         time.Duration
	IdleConnTimeout time.Duration
	// MaxMessageSize bounds request and response bodies.
	MaxMessageSize int64
}

// DefaultMaxMessageSize is the body limit used when MaxMessageSize is zero.
const DefaultMaxMessageSize = 10 << 20

// DefaultHTTPSConfig returns a default HTTPS configuration
func DefaultHTTPSConfig() *HTTPSConfig {
	return &HTTPSConfig{
		MinTLSVersion:   TLS12,
		MaxTLSVersion:   TLS13,
		CipherSuites:    RecommendedTLS12CipherSuites,
		ClientAuth:      tls.NoClientCert,
		Timeout:         30 * time.Second,
		IdleConnTimeout: 90 * time.Second,
		MaxMessageSize:  DefaultMaxMessageSize,
	}
}

func (c *HTTPSConfig) maxMessageSize() int64 {
	if c.MaxMessageSize > 0 {
		return c.MaxMessageSize
	}
	return DefaultMaxMessageSize
}

func (c *HTTPSConfig) clientTLS() *tls.Config {
	return &tls.Config{
		MinVersion:   c.MinTLSVersion,
		MaxVersion:   c.MaxTLSVersion,
		CipherSuites: c.CipherSuites,
		Certificates: c.Certificates,
		RootCAs:      c.RootCAs,
	}
}

func (c *HTTPSConfig) serverTLS() *tls.Config {
	return &tls.Config{
		MinVersion:   c.MinTLSVersion,
		MaxVersion:   c.MaxTLSVersion,
		CipherSuites: c.CipherSuites,
		Certificates: c.Certificates,
		ClientCAs:    c.ClientCAs,
		ClientAuth:   c.ClientAuth,
	}
}

// HTTPSServer serves a SOAP endpoint over HTTPS
type HTTPSServer struct {
	server *http.Server
	config *HTTPSConfig
}

// NewHTTPSServer creates a new HTTPS server for handler, usually one
// returned by NewServiceHandler.
func NewHTTPSServer(addr string, config *HTTPSConfig, handler http.Handler) *HTTPSServer {
	if config == nil {
		config = DefaultHTTPSConfig()
	}

	return &HTTPSServer{
		config: config,
		server: &http.Server{
			Addr:         addr,
			Handler:      handler,
			TLSConfig:    config.serverTLS(),
			ReadTimeout:  config.Timeout,
			WriteTimeout: config.Timeout,
			IdleTimeout:  config.IdleConnTimeout,
		},
	}
}

// Start starts the HTTPS server
func (s *HTTPSServer) Start() error {
	if len(s.config.Certificates) == 0 {
		return errNoCertificates
	}
	return s.server.ListenAndServeTLS("", "")
}

// Shutdown gracefully shuts down the server
func (s *HTTPSServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
