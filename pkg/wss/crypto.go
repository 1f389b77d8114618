// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package wss

import (
	"crypto"
	"crypto/x509"
	"errors"
	"math/big"
)

// ErrCertificateNotFound is returned by Crypto lookups that find nothing.
var ErrCertificateNotFound = errors.New("certificate not found")

// Crypto resolves certificates and private keys for the pipelines.
type Crypto interface {
	// Certificates returns the certificate chain stored under alias, leaf
	// first.
	Certificates(alias string) ([]*x509.Certificate, error)

	// PrivateKey returns the private key stored under alias.
	PrivateKey(alias, password string) (crypto.Signer, error)

	CertificateByIssuerSerial(issuer string, serial *big.Int) (*x509.Certificate, error)
	CertificateBySKI(ski []byte) (*x509.Certificate, error)
	CertificateByThumbprint(thumbprint []byte) (*x509.Certificate, error)

	// AliasForCertificate returns the alias a certificate is stored under.
	AliasForCertificate(cert *x509.Certificate) (string, error)

	// VerifyTrust validates a certificate chain, leaf first.
	VerifyTrust(chain []*x509.Certificate) error
}
