// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package config handles configuration loading for the wssec tool.
//
// Configuration is loaded from a YAML file with support for environment
// variable expansion (${VAR} or $VAR syntax). This allows passwords and
// PDP endpoints to be injected at runtime.
//
// # Configuration Sections
//
//   - log: log level and output format
//   - keystore: key directory and trust anchors (x509 roots or AuthZEN PDP)
//   - replay: nonce and signature replay window
//   - passwords: callback passwords by identifier
//   - security: handler profiles, read through [Properties]
//   - transport: SOAP over HTTP(S) client and server settings
//   - observability: metrics output
//
// # Example Configuration
//
//	keystore:
//	  dir: /etc/wssec/keys
//	  authzen:
//	    url: https://pdp.example.com
//
//	passwords:
//	  alice: ${ALICE_PASSWORD}
//
//	security:
//	  outbound:
//	    action: UsernameToken Timestamp Signature
//	    user: alice
//	    signatureUser: alice
//	  inbound:
//	    action: Timestamp Signature
//	    timeToLive: 300
//
//	transport:
//	  listen: ":8443"
//	  cert_file: /etc/wssec/tls.crt
//	  key_file: /etc/wssec/tls.key
//
// See [Load] for loading configuration from a file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure
type Config struct {
	Log       LogConfig         `yaml:"log"`
	Keystore  KeystoreConfig    `yaml:"keystore"`
	Replay    ReplayConfig      `yaml:"replay"`
	Passwords map[string]string `yaml:"passwords"`
	Security  map[string]any    `yaml:"security"`
	Transport TransportConfig   `yaml:"transport"`
	Metrics   MetricsConfig     `yaml:"observability"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// KeystoreConfig holds key material settings
type KeystoreConfig struct {
	// Directory of <alias>.crt and optional <alias>.key PEM files
	Dir string `yaml:"dir"`
	// PEM bundle of trust anchors. Without roots or a PDP, only
	// certificates present in the keystore are trusted.
	Roots   string        `yaml:"roots"`
	AuthZEN AuthZENConfig `yaml:"authzen"`
}

// AuthZENConfig holds AuthZEN trust PDP settings
type AuthZENConfig struct {
	URL     string        `yaml:"url"`
	Action  string        `yaml:"action"`
	Timeout time.Duration `yaml:"timeout"`
	// Cache keeps PDP decisions per certificate and purpose. Zero disables it.
	Cache time.Duration `yaml:"cache"`
}

// ReplayConfig holds replay detection settings
type ReplayConfig struct {
	Enabled bool          `yaml:"enabled"`
	Window  time.Duration `yaml:"window"`
}

// TransportConfig holds SOAP over HTTP(S) settings
type TransportConfig struct {
	Listen string `yaml:"listen"`
	// Server certificate and key (PEM). Without them the server
	// listens on plain HTTP.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	// PEM bundle used to verify HTTPS endpoints. Empty means the
	// system roots.
	RootCAs        string        `yaml:"root_cas"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxMessageSize int64         `yaml:"max_message_size"`
}

// MetricsConfig holds observability settings
type MetricsConfig struct {
	Metrics struct {
		Enabled bool `yaml:"enabled"`
		// Textfile receives the metrics in text exposition format
		// after each command.
		Textfile string `yaml:"textfile"`
	} `yaml:"metrics"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse reads configuration from YAML data
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Properties returns the security section as dotted-key properties
func (c *Config) Properties() Properties {
	return Flatten(c.Security)
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Replay.Window == 0 {
		c.Replay.Window = 5 * time.Minute
	}
	if c.Keystore.AuthZEN.Timeout == 0 {
		c.Keystore.AuthZEN.Timeout = 5 * time.Second
	}
	if c.Transport.Listen == "" {
		c.Transport.Listen = ":8080"
	}
	if c.Transport.Timeout == 0 {
		c.Transport.Timeout = 30 * time.Second
	}
	if c.Transport.MaxMessageSize == 0 {
		c.Transport.MaxMessageSize = 10 << 20
	}
	if c.Passwords == nil {
		c.Passwords = make(map[string]string)
	}
}

func (c *Config) validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("log.level must be 'debug', 'info', 'warn', or 'error', got '%s'", c.Log.Level)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be 'text' or 'json', got '%s'", c.Log.Format)
	}

	if c.Replay.Window < 0 {
		return fmt.Errorf("replay.window must not be negative")
	}

	if c.Keystore.Roots != "" && c.Keystore.AuthZEN.URL != "" {
		return fmt.Errorf("keystore.roots and keystore.authzen.url are mutually exclusive")
	}

	if (c.Transport.CertFile == "") != (c.Transport.KeyFile == "") {
		return fmt.Errorf("transport.cert_file and transport.key_file must be set together")
	}

	if c.Transport.MaxMessageSize < 0 {
		return fmt.Errorf("transport.max_message_size must not be negative")
	}

	if c.Metrics.Metrics.Enabled && c.Metrics.Metrics.Textfile == "" {
		return fmt.Errorf("observability.metrics.textfile is required when metrics are enabled")
	}

	return nil
}
