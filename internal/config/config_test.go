// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
log:
  level: debug
keystore:
  dir: /etc/wssec/keys
  authzen:
    url: https://pdp.example.com
    cache: 1m
replay:
  enabled: true
passwords:
  alice: ${WSSEC_TEST_PASSWORD}
security:
  outbound:
    action: UsernameToken Timestamp Signature
    user: alice
    mustUnderstand: false
    signatureParts:
      - Body
      - "{Element}{urn:example:ping}Ping"
  inbound:
    action: Timestamp Signature
    timeToLive: 300
`

func TestParse(t *testing.T) {
	t.Setenv("WSSEC_TEST_PASSWORD", "s3cret")

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "/etc/wssec/keys", cfg.Keystore.Dir)
	assert.Equal(t, "https://pdp.example.com", cfg.Keystore.AuthZEN.URL)
	assert.Equal(t, 5*time.Second, cfg.Keystore.AuthZEN.Timeout)
	assert.Equal(t, time.Minute, cfg.Keystore.AuthZEN.Cache)
	assert.True(t, cfg.Replay.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Replay.Window)
	assert.Equal(t, "s3cret", cfg.Passwords["alice"])

	props := cfg.Properties()
	assert.Equal(t, "alice", props.FirstProperty("outbound.user"))
	assert.Equal(t, "false", props.FirstProperty("outbound.mustUnderstand"))
	assert.Equal(t, []string{"Body", "{Element}{urn:example:ping}Ping"}, props.Properties("outbound.signatureParts"))
	assert.Equal(t, "300", props.FirstProperty("inbound.timeToLive"))
	assert.Empty(t, props.FirstProperty("inbound.user"))

	inbound := props.Sub("inbound")
	assert.Equal(t, []string{"action", "timeToLive"}, inbound.Keys())
	assert.Equal(t, "Timestamp Signature", inbound.FirstProperty("action"))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wssec.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  format: json\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NotNil(t, cfg.Passwords)
	assert.Empty(t, cfg.Properties())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 5*time.Minute, cfg.Replay.Window)
	assert.Equal(t, ":8080", cfg.Transport.Listen)
	assert.Equal(t, 30*time.Second, cfg.Transport.Timeout)
	assert.Equal(t, int64(10<<20), cfg.Transport.MaxMessageSize)
	assert.NoError(t, cfg.validate())
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name string
		yaml string
	}{
		{"log level", "log:\n  level: verbose\n"},
		{"log format", "log:\n  format: xml\n"},
		{"replay window", "replay:\n  window: -1s\n"},
		{"trust sources", "keystore:\n  roots: /etc/roots.pem\n  authzen:\n    url: https://pdp.example.com\n"},
		{"server key", "transport:\n  cert_file: /etc/wssec/tls.crt\n"},
		{"message size", "transport:\n  max_message_size: -1\n"},
		{"metrics textfile", "observability:\n  metrics:\n    enabled: true\n"},
		{"malformed", "log: [\n"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestFlatten(t *testing.T) {
	p := Flatten(map[string]any{
		"a": map[string]any{
			"b": 1,
			"c": []any{"x", true},
			"d": nil,
		},
		"e": "f",
	})
	assert.Equal(t, []string{"a.b", "a.c", "e"}, p.Keys())
	assert.Equal(t, "1", p.FirstProperty("a.b"))
	assert.Equal(t, []string{"x", "true"}, p.Properties("a.c"))
	assert.Equal(t, Properties{"b": {"1"}, "c": {"x", "true"}}, p.Sub("a"))
}
