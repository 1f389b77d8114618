// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package wss

import (
	"crypto/x509"
	"encoding/xml"
	"time"

	"github.com/sirosfoundation/go-wss/pkg/saml"
)

// Tag names an attribute of a Result.
type Tag int

// Result tags.
const (
	TagPrincipal Tag = iota + 1
	TagX509Certificate
	TagX509Certificates
	TagDataRefs
	TagTimestamp
	TagSAMLAssertion
	TagDecryptedKey
	TagSecret
	TagSecurityContextID
	TagEncryptedKeyID
	TagSignatureValue
	TagID
	TagCustom
)

// Result records the outcome of validating one security header token.
// Results are immutable once created.
type Result struct {
	action Action
	attrs  map[Tag]any
}

// NewResult creates a result for action. attrs is copied.
func NewResult(action Action, attrs map[Tag]any) *Result {
	r := &Result{action: action, attrs: make(map[Tag]any, len(attrs))}
	for k, v := range attrs {
		r.attrs[k] = v
	}
	return r
}

// Action returns the action the result was produced for.
func (r *Result) Action() Action {
	return r.action
}

// Get returns the raw attribute stored under tag.
func (r *Result) Get(tag Tag) (any, bool) {
	v, ok := r.attrs[tag]
	return v, ok
}

// Principal returns the authenticated identity, if any.
func (r *Result) Principal() Principal {
	p, _ := r.attrs[TagPrincipal].(Principal)
	return p
}

// Certificate returns the certificate that verified a signature or
// received an encrypted key.
func (r *Result) Certificate() *x509.Certificate {
	c, _ := r.attrs[TagX509Certificate].(*x509.Certificate)
	return c
}

// Certificates returns the certificate chain attached to the result.
func (r *Result) Certificates() []*x509.Certificate {
	c, _ := r.attrs[TagX509Certificates].([]*x509.Certificate)
	return c
}

// DataRefs returns the references that were signed or decrypted.
func (r *Result) DataRefs() []DataRef {
	d, _ := r.attrs[TagDataRefs].([]DataRef)
	return d
}

// Timestamp returns the parsed timestamp of a Timestamp result.
func (r *Result) Timestamp() *TimestampInfo {
	ts, _ := r.attrs[TagTimestamp].(*TimestampInfo)
	return ts
}

// Assertion returns the SAML assertion of a SAML result.
func (r *Result) Assertion() *saml.Assertion {
	a, _ := r.attrs[TagSAMLAssertion].(*saml.Assertion)
	return a
}

// DecryptedKey returns the unwrapped content encryption key.
func (r *Result) DecryptedKey() []byte {
	k, _ := r.attrs[TagDecryptedKey].([]byte)
	return k
}

// Secret returns the shared secret or derived key used by the token.
func (r *Result) Secret() []byte {
	k, _ := r.attrs[TagSecret].([]byte)
	return k
}

// ID returns the wsu:Id or Id of the processed token.
func (r *Result) ID() string {
	id, _ := r.attrs[TagID].(string)
	return id
}

// DataRef describes an element covered by a signature or decryption.
type DataRef struct {
	WsuID     string
	Name      xml.Name
	XPath     string
	Algorithm string
	Content   bool
}

// TimestampInfo is a parsed wsu:Timestamp.
type TimestampInfo struct {
	ID      string
	Created time.Time
	Expires time.Time
}

// HasExpires reports whether the timestamp carried an Expires element.
func (t *TimestampInfo) HasExpires() bool {
	return !t.Expires.IsZero()
}

// Principal is an authenticated identity.
type Principal interface {
	Name() string
}

// UsernameTokenPrincipal is the identity established by a UsernameToken.
type UsernameTokenPrincipal struct {
	Username     string
	PasswordType string
	Nonce        string
	Created      string
	Derived      bool
}

func (p *UsernameTokenPrincipal) Name() string { return p.Username }

// X509Principal is the identity established by a certificate.
type X509Principal struct {
	Certificate *x509.Certificate
}

func (p *X509Principal) Name() string { return p.Certificate.Subject.String() }

// SAMLPrincipal is the subject of a SAML assertion.
type SAMLPrincipal struct {
	Subject string
	Issuer  string
}

func (p *SAMLPrincipal) Name() string { return p.Subject }
