// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package keystore

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirosfoundation/go-trust/pkg/authzen"
	"github.com/sirosfoundation/go-trust/pkg/authzenclient"
)

var (
	// ErrCertificateExpired is returned when a certificate has expired
	ErrCertificateExpired = errors.New("certificate has expired")
	// ErrCertificateNotYetValid is returned when a certificate is not yet valid
	ErrCertificateNotYetValid = errors.New("certificate is not yet valid")
	// ErrCertificateUntrusted is returned when a certificate is not trusted
	ErrCertificateUntrusted = errors.New("certificate is not trusted")
	// ErrInvalidCertificate is returned for other certificate validation failures
	ErrInvalidCertificate = errors.New("certificate validation failed")
)

// Certificate purposes understood by the validators.
const (
	PurposeSigning    = "signing"
	PurposeEncryption = "encryption"
	PurposeTLSServer  = "tls-server"
	PurposeTLSClient  = "tls-client"
)

// CertificateValidator decides whether a certificate chain is trusted for
// a purpose.
type CertificateValidator interface {
	// ValidateCertificate validates cert, using intermediates to build
	// the path.
	ValidateCertificate(cert *x509.Certificate, intermediates []*x509.Certificate, purpose string) error

	// ValidateCertificateChain validates a chain, leaf first.
	ValidateCertificateChain(chain []*x509.Certificate, purpose string) error
}

// DefaultCertificateValidator implements traditional PKI validation
type DefaultCertificateValidator struct {
	roots *x509.CertPool
	now   func() time.Time
}

// NewDefaultCertificateValidator creates a validator trusting roots.
func NewDefaultCertificateValidator(roots *x509.CertPool) *DefaultCertificateValidator {
	return &DefaultCertificateValidator{
		roots: roots,
		now:   time.Now,
	}
}

// ValidateCertificate checks the validity period of cert and builds a path
// to one of the trusted roots.
func (v *DefaultCertificateValidator) ValidateCertificate(cert *x509.Certificate, intermediates []*x509.Certificate, purpose string) error {
	if cert == nil {
		return fmt.Errorf("%w: nil certificate", ErrInvalidCertificate)
	}
	now := v.now()
	if now.Before(cert.NotBefore) {
		return ErrCertificateNotYetValid
	}
	if now.After(cert.NotAfter) {
		return ErrCertificateExpired
	}

	opts := x509.VerifyOptions{
		Roots:         v.roots,
		CurrentTime:   now,
		Intermediates: x509.NewCertPool(),
		KeyUsages:     extKeyUsages(purpose),
	}
	for _, c := range intermediates {
		opts.Intermediates.AddCert(c)
	}

	if _, err := cert.Verify(opts); err != nil {
		return fmt.Errorf("%w: %v", ErrCertificateUntrusted, err)
	}
	return nil
}

// ValidateCertificateChain validates a certificate chain
func (v *DefaultCertificateValidator) ValidateCertificateChain(chain []*x509.Certificate, purpose string) error {
	if len(chain) == 0 {
		return fmt.Errorf("%w: empty chain", ErrInvalidCertificate)
	}
	return v.ValidateCertificate(chain[0], chain[1:], purpose)
}

func extKeyUsages(purpose string) []x509.ExtKeyUsage {
	switch purpose {
	case PurposeSigning, "digital-signature":
		return []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning, x509.ExtKeyUsageEmailProtection}
	case PurposeTLSServer:
		return []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	case PurposeTLSClient:
		return []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	case PurposeEncryption:
		return []x509.ExtKeyUsage{x509.ExtKeyUsageEmailProtection}
	}
	return []x509.ExtKeyUsage{x509.ExtKeyUsageAny}
}

// AuthZENTrustValidator asks an AuthZEN trust PDP (draft-johansson-authzen-trust)
// whether a signer's certificate is bound to its subject name and
// authorized for the purpose. The PDP fronts one or more trust registries
// such as ETSI trust status lists or OpenID Federation.
//
// The subject is the certificate's distinguished name, the identity a
// verified signature reports through wss.X509Principal. The request context
// carries the issuer and serial number by which WS-Security tokens
// reference the certificate. Decisions can be cached per certificate and
// purpose so that every message from the same signer does not reach the
// PDP.
type AuthZENTrustValidator struct {
	client        *authzenclient.Client
	defaultAction string
	timeout       time.Duration

	cacheTTL  time.Duration
	now       func() time.Time
	mu        sync.Mutex
	decisions map[string]decision
}

type decision struct {
	err     error
	expires time.Time
}

// NewAuthZENTrustValidator creates a validator for the PDP at pdpEndpoint,
// either the base URL or the full /evaluation URL.
func NewAuthZENTrustValidator(pdpEndpoint string) *AuthZENTrustValidator {
	return NewAuthZENTrustValidatorWithClient(authzenclient.New(pdpEndpoint))
}

// NewAuthZENTrustValidatorWithClient creates a validator using a pre-configured authzenclient
func NewAuthZENTrustValidatorWithClient(client *authzenclient.Client) *AuthZENTrustValidator {
	return &AuthZENTrustValidator{
		client:        client,
		defaultAction: PurposeSigning,
		timeout:       30 * time.Second,
		now:           time.Now,
	}
}

// WithDefaultAction sets the action used when no purpose is given.
func (v *AuthZENTrustValidator) WithDefaultAction(action string) *AuthZENTrustValidator {
	v.defaultAction = action
	return v
}

// WithTimeout bounds each PDP evaluation.
func (v *AuthZENTrustValidator) WithTimeout(d time.Duration) *AuthZENTrustValidator {
	v.timeout = d
	return v
}

// WithDecisionCache keeps PDP decisions for ttl. Evaluation errors are not
// cached. A zero ttl disables caching.
func (v *AuthZENTrustValidator) WithDecisionCache(ttl time.Duration) *AuthZENTrustValidator {
	v.cacheTTL = ttl
	if ttl > 0 {
		v.decisions = make(map[string]decision)
	} else {
		v.decisions = nil
	}
	return v
}

// ValidateCertificate fails unless the PDP accepts the binding of cert,
// sent with chain as an x5c key (RFC 7517 Section 4.7), to its subject.
func (v *AuthZENTrustValidator) ValidateCertificate(cert *x509.Certificate, chain []*x509.Certificate, purpose string) error {
	return v.ValidateCertificateContext(context.Background(), cert, chain, purpose)
}

// ValidateCertificateContext is ValidateCertificate bounded by ctx as well
// as the validator's timeout.
func (v *AuthZENTrustValidator) ValidateCertificateContext(ctx context.Context, cert *x509.Certificate, chain []*x509.Certificate, purpose string) error {
	if cert == nil {
		return fmt.Errorf("%w: nil certificate", ErrInvalidCertificate)
	}
	if purpose == "" {
		purpose = v.defaultAction
	}

	key := cacheKey(cert, purpose)
	if d, ok := v.cached(key); ok {
		return d.err
	}

	request, err := evaluationRequest(cert, chain, purpose)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	response, err := v.client.Evaluate(ctx, request)
	if err != nil {
		return fmt.Errorf("AuthZEN evaluation failed: %w", err)
	}

	var result error
	if !response.Decision {
		result = ErrCertificateUntrusted
		if response.Context != nil && response.Context.Reason != nil {
			result = fmt.Errorf("%w: %v", ErrCertificateUntrusted, response.Context.Reason)
		}
	}
	v.store(key, result)
	return result
}

// ValidateCertificateChain validates a chain, leaf first.
func (v *AuthZENTrustValidator) ValidateCertificateChain(chain []*x509.Certificate, purpose string) error {
	if len(chain) == 0 {
		return fmt.Errorf("%w: empty chain", ErrInvalidCertificate)
	}
	return v.ValidateCertificate(chain[0], chain[1:], purpose)
}

func (v *AuthZENTrustValidator) cached(key string) (decision, bool) {
	if v.decisions == nil {
		return decision{}, false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	d, ok := v.decisions[key]
	if ok && !v.now().Before(d.expires) {
		delete(v.decisions, key)
		return decision{}, false
	}
	return d, ok
}

func (v *AuthZENTrustValidator) store(key string, err error) {
	if v.decisions == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.decisions[key] = decision{err: err, expires: v.now().Add(v.cacheTTL)}
}

func cacheKey(cert *x509.Certificate, purpose string) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:]) + "|" + purpose
}

// evaluationRequest builds the trust evaluation for cert. Subject and
// resource ids must be equal.
func evaluationRequest(cert *x509.Certificate, chain []*x509.Certificate, purpose string) (*authzen.EvaluationRequest, error) {
	name := boundName(cert)
	if name == "" {
		return nil, fmt.Errorf("%w: certificate has no identifiable subject name", ErrInvalidCertificate)
	}

	x5c := make([]interface{}, 0, 1+len(chain))
	for _, c := range append([]*x509.Certificate{cert}, chain...) {
		x5c = append(x5c, base64.StdEncoding.EncodeToString(c.Raw))
	}

	request := &authzen.EvaluationRequest{
		Subject:  authzen.Subject{Type: "key", ID: name},
		Resource: authzen.Resource{Type: "x5c", ID: name, Key: x5c},
		Context: map[string]interface{}{
			"issuer": cert.Issuer.String(),
			"serial": cert.SerialNumber.String(),
		},
	}
	if purpose != "" {
		request.Action = &authzen.Action{Name: purpose}
	}
	return request, nil
}

// boundName is the name a certificate is bound to: the subject DN, or the
// first subject alternative name for certificates with an empty subject.
func boundName(cert *x509.Certificate) string {
	if dn := cert.Subject.String(); dn != "" {
		return dn
	}
	switch {
	case len(cert.DNSNames) > 0:
		return cert.DNSNames[0]
	case len(cert.EmailAddresses) > 0:
		return cert.EmailAddresses[0]
	case len(cert.URIs) > 0:
		return cert.URIs[0].String()
	}
	return ""
}
