// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package xmlsec

import (
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"hash"
)

func rsaHash(alg string) (crypto.Hash, bool) {
	switch alg {
	case AlgorithmRSASHA256:
		return crypto.SHA256, true
	case AlgorithmRSASHA384:
		return crypto.SHA384, true
	case AlgorithmRSASHA512:
		return crypto.SHA512, true
	}
	return 0, false
}

func hmacHash(alg string) (func() hash.Hash, bool) {
	switch alg {
	case AlgorithmHMACSHA1:
		return sha1.New, true
	case AlgorithmHMACSHA256:
		return sha256.New, true
	}
	return nil, false
}

// Sign computes a signature value over data. key is a crypto.Signer for
// RSA algorithms and a []byte secret for HMAC algorithms.
func Sign(alg string, key any, data []byte) ([]byte, error) {
	if h, ok := rsaHash(alg); ok {
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("%s requires a private key, got %T", alg, key)
		}
		if _, ok := signer.Public().(*rsa.PublicKey); !ok {
			return nil, fmt.Errorf("%s requires an RSA key", alg)
		}
		hasher := h.New()
		hasher.Write(data)
		return signer.Sign(rand.Reader, hasher.Sum(nil), h)
	}
	if newHash, ok := hmacHash(alg); ok {
		secret, ok := key.([]byte)
		if !ok || len(secret) == 0 {
			return nil, fmt.Errorf("%s requires a secret key", alg)
		}
		mac := hmac.New(newHash, secret)
		mac.Write(data)
		return mac.Sum(nil), nil
	}
	return nil, fmt.Errorf("%w: signature %s", ErrUnsupportedAlgorithm, alg)
}

// Verify checks a signature value over data. key is an *rsa.PublicKey for
// RSA algorithms and a []byte secret for HMAC algorithms.
func Verify(alg string, key any, data, signature []byte) error {
	if h, ok := rsaHash(alg); ok {
		pub, ok := key.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("%w: %s requires an RSA public key", ErrInvalidSignature, alg)
		}
		hasher := h.New()
		hasher.Write(data)
		if err := rsa.VerifyPKCS1v15(pub, h, hasher.Sum(nil), signature); err != nil {
			return ErrInvalidSignature
		}
		return nil
	}
	if newHash, ok := hmacHash(alg); ok {
		secret, ok := key.([]byte)
		if !ok || len(secret) == 0 {
			return fmt.Errorf("%w: %s requires a secret key", ErrInvalidSignature, alg)
		}
		mac := hmac.New(newHash, secret)
		mac.Write(data)
		if !hmac.Equal(mac.Sum(nil), signature) {
			return ErrInvalidSignature
		}
		return nil
	}
	return fmt.Errorf("%w: signature %s", ErrUnsupportedAlgorithm, alg)
}
