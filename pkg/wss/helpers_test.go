// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package wss

import (
	"crypto"
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
	"github.com/stretchr/testify/require"
)

const testEnvelope = `<env:Envelope xmlns:env="http://www.w3.org/2003/05/soap-envelope">` +
	`<env:Header/>` +
	`<env:Body><m:Ping xmlns:m="urn:example:ping" level="1">hello</m:Ping></env:Body>` +
	`</env:Envelope>`

const testEnvelope11 = `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">` +
	`<soap:Body><m:Ping xmlns:m="urn:example:ping">hello</m:Ping></soap:Body>` +
	`</soap:Envelope>`

var testPasswords = PasswordMap{
	"alice":            "alice-secret",
	"bob":              "bob-secret",
	"urn:example:ctx":  "0123456789abcdef0123456789abcdef",
	"urn:example:ctx2": "fedcba9876543210fedcba9876543210",
}

type testEntry struct {
	key      *rsa.PrivateKey
	cert     *x509.Certificate
	password string
}

// memCrypto is an in-memory Crypto holding RSA keys for alice and bob.
type memCrypto struct {
	entries map[string]*testEntry
}

var (
	testStore     *memCrypto
	testStoreOnce sync.Once
)

func testCrypto(t *testing.T) *memCrypto {
	t.Helper()
	testStoreOnce.Do(func() {
		testStore = &memCrypto{entries: make(map[string]*testEntry)}
		for i, alias := range []string{"alice", "bob"} {
			key, err := rsa.GenerateKey(rand.Reader, 2048)
			if err != nil {
				panic(err)
			}
			ski := sha1.Sum(x509.MarshalPKCS1PublicKey(&key.PublicKey))
			template := &x509.Certificate{
				SerialNumber:          big.NewInt(int64(1000 + i)),
				Subject:               pkix.Name{CommonName: alias, Organization: []string{"Example"}},
				NotBefore:             time.Now().Add(-time.Hour),
				NotAfter:              time.Now().Add(24 * time.Hour),
				SubjectKeyId:          ski[:],
				KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
				BasicConstraintsValid: true,
			}
			der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
			if err != nil {
				panic(err)
			}
			cert, err := x509.ParseCertificate(der)
			if err != nil {
				panic(err)
			}
			testStore.entries[alias] = &testEntry{key: key, cert: cert, password: testPasswords[alias]}
		}
	})
	return testStore
}

func (m *memCrypto) cert(alias string) *x509.Certificate {
	return m.entries[alias].cert
}

func (m *memCrypto) Certificates(alias string) ([]*x509.Certificate, error) {
	e, ok := m.entries[alias]
	if !ok {
		return nil, ErrCertificateNotFound
	}
	return []*x509.Certificate{e.cert}, nil
}

func (m *memCrypto) PrivateKey(alias, password string) (crypto.Signer, error) {
	e, ok := m.entries[alias]
	if !ok {
		return nil, ErrCertificateNotFound
	}
	if password != e.password {
		return nil, errors.New("wrong key password")
	}
	return e.key, nil
}

func (m *memCrypto) find(match func(*x509.Certificate) bool) (*x509.Certificate, error) {
	for _, e := range m.entries {
		if match(e.cert) {
			return e.cert, nil
		}
	}
	return nil, ErrCertificateNotFound
}

func (m *memCrypto) CertificateByIssuerSerial(issuer string, serial *big.Int) (*x509.Certificate, error) {
	return m.find(func(c *x509.Certificate) bool {
		return c.Issuer.String() == issuer && c.SerialNumber.Cmp(serial) == 0
	})
}

func (m *memCrypto) CertificateBySKI(ski []byte) (*x509.Certificate, error) {
	return m.find(func(c *x509.Certificate) bool { return string(c.SubjectKeyId) == string(ski) })
}

func (m *memCrypto) CertificateByThumbprint(thumbprint []byte) (*x509.Certificate, error) {
	return m.find(func(c *x509.Certificate) bool {
		sum := sha1.Sum(c.Raw)
		return string(sum[:]) == string(thumbprint)
	})
}

func (m *memCrypto) AliasForCertificate(cert *x509.Certificate) (string, error) {
	for alias, e := range m.entries {
		if e.cert.Equal(cert) {
			return alias, nil
		}
	}
	return "", ErrCertificateNotFound
}

func (m *memCrypto) VerifyTrust(chain []*x509.Certificate) error {
	if len(chain) == 0 {
		return ErrCertificateNotFound
	}
	_, err := m.AliasForCertificate(chain[0])
	return err
}

// memReplay is a ReplayCache without expiry.
type memReplay struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (r *memReplay) Seen(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = make(map[string]bool)
	}
	if r.seen[id] {
		return true
	}
	r.seen[id] = true
	return false
}

func parseDoc(t *testing.T, s string) *etree.Document {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(s))
	return doc
}

func serialize(t *testing.T, doc *etree.Document) string {
	t.Helper()
	s, err := doc.WriteToString()
	require.NoError(t, err)
	return s
}

// senderData returns request data for alice sending to bob.
func senderData(t *testing.T) *RequestData {
	return &RequestData{
		Username:       "alice",
		PasswordType:   PasswordDigest,
		SignatureUser:  "alice",
		EncryptionUser: "bob",
		TimeToLive:     5 * time.Minute,
		Callback:       testPasswords,
		SigCrypto:      testCrypto(t),
		EncCrypto:      testCrypto(t),
	}
}

// receiverData returns request data for bob receiving from alice.
func receiverData(t *testing.T) *RequestData {
	return &RequestData{
		Callback:  testPasswords,
		SigCrypto: testCrypto(t),
		DecCrypto: testCrypto(t),
	}
}

// secure applies actions to the test envelope and returns the serialized
// result.
func secure(t *testing.T, actions []Action, rd *RequestData) string {
	t.Helper()
	doc := parseDoc(t, testEnvelope)
	out, err := ApplyActions(actions, doc, rd)
	require.NoError(t, err)
	return serialize(t, out)
}

// receive processes a serialized message and returns the results and the
// document after processing.
func receive(t *testing.T, msg string, rd *RequestData) ([]*Result, *etree.Document, error) {
	t.Helper()
	doc := parseDoc(t, msg)
	results, err := ProcessHeader(doc, rd)
	return results, doc, err
}

func actionsOf(results []*Result) []Action {
	out := make([]Action, len(results))
	for i, r := range results {
		out[i] = r.Action()
	}
	return out
}

func requireCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	require.Error(t, err)
	var se *SecurityError
	require.True(t, errors.As(err, &se), "expected a SecurityError, got %T: %v", err, err)
	require.Equal(t, code, se.Code, "unexpected fault: %v", err)
}

func pingText(doc *etree.Document) string {
	el := doc.FindElement("//Ping")
	if el == nil {
		return ""
	}
	return strings.TrimSpace(el.Text())
}
