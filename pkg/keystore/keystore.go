// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package keystore

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/subtle"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirosfoundation/go-wss/pkg/wss"
)

var (
	// ErrCertificateNotFound is returned by lookups that find nothing.
	ErrCertificateNotFound = wss.ErrCertificateNotFound
	// ErrKeyNotFound is returned when an alias has no private key.
	ErrKeyNotFound = errors.New("private key not found")
	// ErrWrongPassword is returned when a key password does not match.
	ErrWrongPassword = errors.New("wrong key password")
)

var _ wss.Crypto = (*Keystore)(nil)

type entry struct {
	key      crypto.Signer
	password string
	chain    []*x509.Certificate
}

// Keystore holds certificate chains and private keys by alias. It is safe
// for concurrent use.
type Keystore struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	validator CertificateValidator
	purpose   string
}

// Option configures a Keystore.
type Option func(*Keystore)

// WithValidator sets the validator used by VerifyTrust.
func WithValidator(v CertificateValidator) Option {
	return func(k *Keystore) {
		k.validator = v
	}
}

// WithRoots trusts chains ending in one of roots.
func WithRoots(roots *x509.CertPool) Option {
	return func(k *Keystore) {
		k.validator = NewDefaultCertificateValidator(roots)
	}
}

// WithPurpose sets the purpose passed to the validator.
func WithPurpose(purpose string) Option {
	return func(k *Keystore) {
		k.purpose = purpose
	}
}

// New creates an empty keystore.
func New(opts ...Option) *Keystore {
	k := &Keystore{
		entries: make(map[string]*entry),
		purpose: PurposeSigning,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// AddKey stores a private key with its certificate chain. An empty
// password means the key is released for any password.
func (k *Keystore) AddKey(alias string, key crypto.Signer, password string, chain ...*x509.Certificate) error {
	if key == nil {
		return errors.New("nil private key")
	}
	if len(chain) == 0 {
		return fmt.Errorf("no certificate for key %q", alias)
	}
	if !publicKeysEqual(key.Public(), chain[0].PublicKey) {
		return fmt.Errorf("certificate does not match key %q", alias)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.entries[alias] = &entry{key: key, password: password, chain: chain}
	return nil
}

// AddCertificate stores a certificate chain without a private key.
func (k *Keystore) AddCertificate(alias string, chain ...*x509.Certificate) error {
	if len(chain) == 0 {
		return fmt.Errorf("no certificate for %q", alias)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.entries[alias] = &entry{chain: chain}
	return nil
}

// LoadDir loads every {alias}.crt in dir along with {alias}.key when
// present.
func (k *Keystore) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading key directory: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".crt" {
			continue
		}
		alias := strings.TrimSuffix(name, ".crt")
		chain, err := loadCertificates(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("loading certificate %s: %w", name, err)
		}

		keyPEM, err := os.ReadFile(filepath.Join(dir, alias+".key"))
		if errors.Is(err, os.ErrNotExist) {
			if err := k.AddCertificate(alias, chain...); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("reading key file: %w", err)
		}
		key, err := parsePrivateKey(keyPEM)
		if err != nil {
			return fmt.Errorf("parsing private key %s.key: %w", alias, err)
		}
		if err := k.AddKey(alias, key, "", chain...); err != nil {
			return err
		}
	}
	return nil
}

// Aliases lists the stored aliases.
func (k *Keystore) Aliases() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]string, 0, len(k.entries))
	for alias := range k.entries {
		out = append(out, alias)
	}
	return out
}

func (k *Keystore) Certificates(alias string) ([]*x509.Certificate, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	e, ok := k.entries[alias]
	if !ok {
		return nil, fmt.Errorf("%w: alias %q", ErrCertificateNotFound, alias)
	}
	return e.chain, nil
}

func (k *Keystore) PrivateKey(alias, password string) (crypto.Signer, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	e, ok := k.entries[alias]
	if !ok || e.key == nil {
		return nil, fmt.Errorf("%w: alias %q", ErrKeyNotFound, alias)
	}
	if e.password != "" && subtle.ConstantTimeCompare([]byte(e.password), []byte(password)) != 1 {
		return nil, ErrWrongPassword
	}
	return e.key, nil
}

func (k *Keystore) find(match func(*x509.Certificate) bool) (*x509.Certificate, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	for _, e := range k.entries {
		if match(e.chain[0]) {
			return e.chain[0], nil
		}
	}
	return nil, ErrCertificateNotFound
}

func (k *Keystore) CertificateByIssuerSerial(issuer string, serial *big.Int) (*x509.Certificate, error) {
	return k.find(func(c *x509.Certificate) bool {
		return c.SerialNumber.Cmp(serial) == 0 && sameName(c.Issuer.String(), issuer)
	})
}

func (k *Keystore) CertificateBySKI(ski []byte) (*x509.Certificate, error) {
	return k.find(func(c *x509.Certificate) bool {
		return len(c.SubjectKeyId) > 0 && subtle.ConstantTimeCompare(c.SubjectKeyId, ski) == 1
	})
}

func (k *Keystore) CertificateByThumbprint(thumbprint []byte) (*x509.Certificate, error) {
	return k.find(func(c *x509.Certificate) bool {
		sum := sha1.Sum(c.Raw)
		return subtle.ConstantTimeCompare(sum[:], thumbprint) == 1
	})
}

func (k *Keystore) AliasForCertificate(cert *x509.Certificate) (string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	for alias, e := range k.entries {
		if e.chain[0].Equal(cert) {
			return alias, nil
		}
	}
	return "", ErrCertificateNotFound
}

// VerifyTrust validates chain with the configured validator. Without one,
// the leaf must be stored in the keystore.
func (k *Keystore) VerifyTrust(chain []*x509.Certificate) error {
	if len(chain) == 0 {
		return fmt.Errorf("%w: empty chain", ErrInvalidCertificate)
	}
	if k.validator != nil {
		return k.validator.ValidateCertificateChain(chain, k.purpose)
	}
	if _, err := k.AliasForCertificate(chain[0]); err != nil {
		return ErrCertificateUntrusted
	}
	return nil
}

// sameName compares distinguished names, ignoring spacing after commas.
func sameName(a, b string) bool {
	norm := func(s string) string {
		parts := strings.Split(s, ",")
		for i, p := range parts {
			parts[i] = strings.TrimSpace(p)
		}
		return strings.Join(parts, ",")
	}
	return norm(a) == norm(b)
}

func publicKeysEqual(a, b crypto.PublicKey) bool {
	type equaler interface {
		Equal(crypto.PublicKey) bool
	}
	ea, ok := a.(equaler)
	return ok && ea.Equal(b)
}

func parsePrivateKey(pemData []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("key is not a signer")
		}
		switch signer.(type) {
		case *rsa.PrivateKey, *ecdsa.PrivateKey:
			return signer, nil
		}
		return nil, fmt.Errorf("unsupported key algorithm %T", key)
	default:
		return nil, fmt.Errorf("unsupported key type: %s", block.Type)
	}
}

// loadCertificates reads every CERTIFICATE block of a PEM file.
func loadCertificates(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var chain []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		chain = append(chain, cert)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("no certificate found")
	}
	return chain, nil
}
