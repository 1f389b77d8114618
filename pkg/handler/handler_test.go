// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package handler

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-wss/pkg/keystore"
	"github.com/sirosfoundation/go-wss/pkg/replay"
	"github.com/sirosfoundation/go-wss/pkg/wss"
)

const envelope = `<env:Envelope xmlns:env="http://www.w3.org/2003/05/soap-envelope">` +
	`<env:Header/>` +
	`<env:Body><m:Ping xmlns:m="urn:example:ping">hello</m:Ping></env:Body>` +
	`</env:Envelope>`

var passwords = wss.PasswordMap{
	"alice": "alice-secret",
	"bob":   "bob-secret",
	"eve":   "eve-secret",
}

type party struct {
	key  *rsa.PrivateKey
	cert *x509.Certificate
}

var (
	partiesOnce sync.Once
	parties     map[string]party
)

func newParty(t *testing.T, cn string, serial int64) party {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ski := sha1.Sum(x509.MarshalPKCS1PublicKey(&key.PublicKey))
	template := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		SubjectKeyId: ski[:],
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return party{key: key, cert: cert}
}

func testParties(t *testing.T) map[string]party {
	partiesOnce.Do(func() {
		parties = map[string]party{
			"alice": newParty(t, "alice", 1),
			"bob":   newParty(t, "bob", 2),
			"eve":   newParty(t, "eve", 3),
		}
	})
	return parties
}

// keystoreFor holds the private key of owner and the certificates of peers.
func keystoreFor(t *testing.T, owner string, peers ...string) *keystore.Keystore {
	t.Helper()
	ps := testParties(t)
	ks := keystore.New()
	p := ps[owner]
	require.NoError(t, ks.AddKey(owner, p.key, passwords[owner], p.cert))
	for _, peer := range peers {
		require.NoError(t, ks.AddCertificate(peer, ps[peer].cert))
	}
	return ks
}

func newSender(t *testing.T, actions []wss.Action, opts ...Option) *Handler {
	t.Helper()
	o := DefaultOptions()
	o.Actions = actions
	o.User = "alice"
	o.SignatureUser = "alice"
	o.EncryptionUser = "bob"
	ks := keystoreFor(t, "alice", "bob")
	base := []Option{
		WithCallback(passwords),
		WithSignatureCrypto(ks),
		WithEncryptionCrypto(ks),
	}
	return New(o, append(base, opts...)...)
}

func newReceiver(t *testing.T, actions []wss.Action, opts ...Option) *Handler {
	t.Helper()
	o := DefaultOptions()
	o.Actions = actions
	ks := keystoreFor(t, "bob", "alice")
	base := []Option{
		WithCallback(passwords),
		WithSignatureCrypto(ks),
		WithDecryptionCrypto(ks),
	}
	return New(o, append(base, opts...)...)
}

func parse(t *testing.T, s string) *etree.Document {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(s))
	return doc
}

func send(t *testing.T, h *Handler) string {
	t.Helper()
	doc, err := h.Outbound(parse(t, envelope))
	require.NoError(t, err)
	s, err := doc.WriteToString()
	require.NoError(t, err)
	return s
}

func requireCode(t *testing.T, err error, code wss.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	var se *wss.SecurityError
	require.True(t, errors.As(err, &se), "expected a SecurityError, got %T: %v", err, err)
	require.Equal(t, code, se.Code, "unexpected fault: %v", err)
}

func TestHandlerRoundTrip(t *testing.T) {
	actions := []wss.Action{wss.UsernameToken, wss.Timestamp, wss.Signature, wss.Encrypt}
	msg := send(t, newSender(t, actions))
	assert.NotContains(t, msg, "hello")

	doc := parse(t, msg)
	results, err := newReceiver(t, actions).Inbound(doc)
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, "alice", results[0].Principal().Name())
	assert.True(t, testParties(t)["alice"].cert.Equal(results[2].Certificate()))
	assert.Equal(t, "hello", strings.TrimSpace(doc.FindElement("//Ping").Text()))
}

func TestHandlerNoSecurity(t *testing.T) {
	h := newReceiver(t, nil)
	results, err := h.Inbound(parse(t, envelope))
	require.NoError(t, err)
	assert.Empty(t, results)

	out, err := newSender(t, nil).Outbound(parse(t, envelope))
	require.NoError(t, err)
	assert.Nil(t, out.FindElement("//Security"))
}

func TestHandlerMissingHeader(t *testing.T) {
	h := newReceiver(t, []wss.Action{wss.Timestamp})
	_, err := h.Inbound(parse(t, envelope))
	requireCode(t, err, wss.InvalidSecurity)
}

func TestHandlerActionMismatch(t *testing.T) {
	msg := send(t, newSender(t, []wss.Action{wss.Timestamp, wss.Encrypt, wss.Signature}))
	expected := []wss.Action{wss.Timestamp, wss.Signature, wss.Encrypt}

	_, err := newReceiver(t, expected).Inbound(parse(t, msg))
	requireCode(t, err, wss.InvalidSecurity)

	lenient := newReceiver(t, expected)
	lenient.opts.OrderInsensitive = true
	results, err := lenient.Inbound(parse(t, msg))
	require.NoError(t, err)
	assert.Len(t, results, 3)

	_, err = newReceiver(t, []wss.Action{wss.Timestamp}).Inbound(parse(t, msg))
	requireCode(t, err, wss.InvalidSecurity)
}

func TestHandlerTimestampStrict(t *testing.T) {
	actions := []wss.Action{wss.Timestamp}
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := send(t, newSender(t, actions, WithClock(func() time.Time { return created })))

	testCases := []struct {
		name   string
		now    time.Time
		strict bool
		code   wss.ErrorCode
		ok     bool
	}{
		{"fresh", created.Add(time.Minute), true, 0, true},
		{"near expiry", created.Add(4*time.Minute + 59*time.Second), true, 0, true},
		{"future within tolerance", created.Add(-30 * time.Second), true, 0, true},
		{"future beyond tolerance", created.Add(-2 * time.Minute), true, wss.MessageExpired, false},
		{"future not strict", created.Add(-2 * time.Minute), false, 0, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			now := tc.now
			h := newReceiver(t, actions, WithClock(func() time.Time { return now }))
			h.opts.TimestampStrict = tc.strict
			_, err := h.Inbound(parse(t, msg))
			if tc.ok {
				require.NoError(t, err)
				return
			}
			requireCode(t, err, tc.code)
		})
	}
}

func TestHandlerTimestampOlderThanTTL(t *testing.T) {
	actions := []wss.Action{wss.Timestamp}
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sender := newSender(t, actions, WithClock(func() time.Time { return created }))
	sender.opts.TimeToLive = time.Hour
	msg := send(t, sender)

	now := created.Add(10 * time.Minute)
	h := newReceiver(t, actions, WithClock(func() time.Time { return now }))
	_, err := h.Inbound(parse(t, msg))
	requireCode(t, err, wss.MessageExpired)

	h.opts.TimeToLive = 0
	_, err = h.Inbound(parse(t, msg))
	require.NoError(t, err)
}

func TestHandlerUntrustedSigner(t *testing.T) {
	actions := []wss.Action{wss.Signature}
	o := DefaultOptions()
	o.Actions = actions
	o.SignatureUser = "eve"
	o.SigKeyIdentifier = wss.DirectReference
	ks := keystoreFor(t, "eve")
	msg := send(t, New(o, WithCallback(passwords), WithSignatureCrypto(ks)))

	_, err := newReceiver(t, actions).Inbound(parse(t, msg))
	requireCode(t, err, wss.FailedCheck)
	assert.ErrorIs(t, err, keystore.ErrCertificateUntrusted)

	h := newReceiver(t, actions)
	h.opts.VerifyTrust = false
	results, err := h.Inbound(parse(t, msg))
	require.NoError(t, err)
	assert.True(t, testParties(t)["eve"].cert.Equal(results[0].Certificate()))
}

func TestHandlerTrustedSignerWithDirectReference(t *testing.T) {
	actions := []wss.Action{wss.Timestamp, wss.Signature}
	sender := newSender(t, actions)
	sender.opts.SigKeyIdentifier = wss.DirectReference
	msg := send(t, sender)

	_, err := newReceiver(t, actions).Inbound(parse(t, msg))
	require.NoError(t, err)
}

func TestHandlerReplay(t *testing.T) {
	cache := replay.NewCache(time.Minute)
	t.Cleanup(cache.Close)

	actions := []wss.Action{wss.UsernameToken, wss.Timestamp}
	msg := send(t, newSender(t, actions))
	h := newReceiver(t, actions, WithReplayCache(cache))

	_, err := h.Inbound(parse(t, msg))
	require.NoError(t, err)
	_, err = h.Inbound(parse(t, msg))
	requireCode(t, err, wss.InvalidSecurity)
}

func TestHandlerSenderFailure(t *testing.T) {
	h := newSender(t, []wss.Action{wss.Encrypt})
	h.opts.EncryptionUser = "nobody"
	_, err := h.Outbound(parse(t, envelope))
	requireCode(t, err, wss.FailedEncryption)
}

func TestHandlerOutboundWith(t *testing.T) {
	actions := []wss.Action{wss.Timestamp}
	h := newSender(t, actions)
	doc, err := h.OutboundWith(parse(t, envelope), func(rd *wss.RequestData) {
		rd.TimeToLive = 0
	})
	require.NoError(t, err)
	assert.NotNil(t, doc.FindElement("//Timestamp/Created"))
	assert.Nil(t, doc.FindElement("//Timestamp/Expires"))
}

func TestHandlerWithConfig(t *testing.T) {
	cfg := wss.NewConfig()
	h := New(DefaultOptions(), WithConfig(cfg))
	assert.Same(t, cfg, h.config)

	opts := DefaultOptions()
	opts.IgnoreUnknownTokens = true
	h = New(opts)
	assert.True(t, h.config.IgnoreUnknownTokens)
	assert.NotSame(t, wss.DefaultConfig(), h.config)
}

func TestHandlerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	actions := []wss.Action{wss.Timestamp, wss.Signature}

	msg := send(t, newSender(t, actions, WithMetrics(m)))
	h := newReceiver(t, actions, WithMetrics(m))
	_, err := h.Inbound(parse(t, msg))
	require.NoError(t, err)
	_, err = h.Inbound(parse(t, envelope))
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesTotal.WithLabelValues(directionOutbound, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesTotal.WithLabelValues(directionInbound, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesTotal.WithLabelValues(directionInbound, "fault")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.faultsTotal.WithLabelValues(directionInbound, "InvalidSecurity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resultsTotal.WithLabelValues("Signature")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resultsTotal.WithLabelValues("Timestamp")))

	count, err := testutil.GatherAndCount(reg, "wss_messages_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
