// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package xmlsec

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"fmt"
)

// EncryptKey wraps a content encryption key for the holder of pub using
// RSA-OAEP with MGF1/SHA-1.
func EncryptKey(pub crypto.PublicKey, key []byte) ([]byte, error) {
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: key transport requires an RSA key, got %T", ErrUnsupportedAlgorithm, pub)
	}
	wrapped, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, rsaPub, key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt key: %w", err)
	}
	return wrapped, nil
}

// DecryptKey unwraps a key produced by EncryptKey.
func DecryptKey(priv crypto.Signer, wrapped []byte) ([]byte, error) {
	dec, ok := priv.(crypto.Decrypter)
	if !ok {
		return nil, ErrDecryption
	}
	key, err := dec.Decrypt(rand.Reader, wrapped, &rsa.OAEPOptions{Hash: crypto.SHA1})
	if err != nil {
		return nil, ErrDecryption
	}
	return key, nil
}

// GenerateKey returns size random bytes.
func GenerateKey(size int) ([]byte, error) {
	key := make([]byte, size)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}
