// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package wss

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sirosfoundation/go-wss/pkg/saml"
)

// Context keys used by the built-in actions to hand state to later actions
// of the same message.
const (
	// ContextEncryptedKey holds the *EncryptedKeyState of the last
	// EncryptedKey written or processed.
	ContextEncryptedKey = "wss.encryptedKey"
	// ContextSecurityContext holds the *SecurityContextState of the last
	// SecurityContextToken written.
	ContextSecurityContext = "wss.securityContext"
	// ContextSecurityContextID overrides the identifier of a new
	// SecurityContextToken.
	ContextSecurityContextID = "wss.securityContextId"
)

// DefaultDerivedKeyIterations is the iteration count for UsernameToken key
// derivation.
const DefaultDerivedKeyIterations = 1000

// ReplayCache detects replayed nonces and signature values.
type ReplayCache interface {
	// Seen records id and reports whether it had been recorded before.
	Seen(id string) bool
}

// RequestData carries everything a single send or receive needs.
type RequestData struct {
	// Config selects the action registry. Nil uses the engine's config, or
	// DefaultConfig on the sender side.
	Config *Config

	Actor          string
	MustUnderstand bool

	Username     string
	PasswordType string

	SignatureUser    string
	EncryptionUser   string
	SigKeyIdentifier KeyIdentifier
	EncKeyIdentifier KeyIdentifier
	SignatureParts   []Part
	EncryptionParts  []Part

	// TimeToLive sets the Timestamp lifetime. Zero omits the Expires
	// element; a negative value produces a timestamp that has already
	// expired.
	TimeToLive time.Duration

	DerivedKeyIterations int

	SAMLAssertion *saml.Assertion

	Callback    CallbackHandler
	SigCrypto   Crypto
	EncCrypto   Crypto
	DecCrypto   Crypto
	ReplayCache ReplayCache

	Now    func() time.Time
	Logger *slog.Logger

	Context map[string]any
}

// EncryptedKeyState is the content encryption key of an EncryptedKey token.
type EncryptedKeyState struct {
	ID  string
	Key []byte
}

// SecurityContextState is the secret of a SecurityContextToken.
type SecurityContextState struct {
	ID         string
	Identifier string
	Secret     []byte
}

func (rd *RequestData) config() *Config {
	if rd.Config != nil {
		return rd.Config
	}
	return DefaultConfig()
}

func (rd *RequestData) now() time.Time {
	if rd.Now != nil {
		return rd.Now()
	}
	return time.Now()
}

func (rd *RequestData) logger() *slog.Logger {
	if rd.Logger != nil {
		return rd.Logger
	}
	return slog.Default()
}

func (rd *RequestData) iterations() int {
	if rd.DerivedKeyIterations > 0 {
		return rd.DerivedKeyIterations
	}
	return DefaultDerivedKeyIterations
}

// Set stores a context value.
func (rd *RequestData) Set(key string, value any) {
	if rd.Context == nil {
		rd.Context = make(map[string]any)
	}
	rd.Context[key] = value
}

// Value returns a context value.
func (rd *RequestData) Value(key string) (any, bool) {
	v, ok := rd.Context[key]
	return v, ok
}

func (rd *RequestData) encryptedKey() *EncryptedKeyState {
	ek, _ := rd.Context[ContextEncryptedKey].(*EncryptedKeyState)
	return ek
}

func (rd *RequestData) securityContext() *SecurityContextState {
	sc, _ := rd.Context[ContextSecurityContext].(*SecurityContextState)
	return sc
}

// KeyIdentifier selects how a Signature or EncryptedKey refers to its key.
type KeyIdentifier int

const (
	KeyIDDefault KeyIdentifier = iota
	// DirectReference adds a BinarySecurityToken and references it.
	DirectReference
	IssuerSerial
	// X509KeyIdentifier embeds the certificate in a KeyIdentifier.
	X509KeyIdentifier
	SKIKeyIdentifier
	Thumbprint
	KeyName
	// EncryptedKeyReference signs with the key of the last EncryptedKey.
	EncryptedKeyReference
	// SecurityContextKey derives the key from the last SecurityContextToken.
	SecurityContextKey
	// EmbeddedCertificate places the certificate in ds:X509Data.
	EmbeddedCertificate
)

var keyIdentifierNames = map[KeyIdentifier]string{
	DirectReference:       "DirectReference",
	IssuerSerial:          "IssuerSerial",
	X509KeyIdentifier:     "X509KeyIdentifier",
	SKIKeyIdentifier:      "SKIKeyIdentifier",
	Thumbprint:            "Thumbprint",
	KeyName:               "KeyName",
	EncryptedKeyReference: "EncryptedKey",
	SecurityContextKey:    "SecurityContextToken",
	EmbeddedCertificate:   "EmbeddedCertificate",
}

func (k KeyIdentifier) String() string {
	if n, ok := keyIdentifierNames[k]; ok {
		return n
	}
	return "Default"
}

// ParseKeyIdentifier decodes a key identifier name. The empty string
// selects the default.
func ParseKeyIdentifier(s string) (KeyIdentifier, error) {
	if s == "" {
		return KeyIDDefault, nil
	}
	for k, n := range keyIdentifierNames {
		if strings.EqualFold(n, s) {
			return k, nil
		}
	}
	return KeyIDDefault, fmt.Errorf("unknown key identifier %q", s)
}
