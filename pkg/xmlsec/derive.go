// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package xmlsec

import (
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// UsernameToken key derivation salt prefixes.
const (
	SaltPrefixMAC        byte = 0x01
	SaltPrefixEncryption byte = 0x02
)

// DerivedKeyLabel is the HKDF info for keys derived from a security
// context secret.
const DerivedKeyLabel = "WS-SecureConversationWS-SecureConversation"

// DeriveUsernameTokenKey derives a key from a UsernameToken password, salt
// and iteration count.
func DeriveUsernameTokenKey(password string, salt []byte, iterations, length int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, length, sha1.New)
}

// DeriveKey derives length bytes from a shared secret and nonce.
func DeriveKey(secret, nonce []byte, label string, length int) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("empty secret")
	}
	key := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nonce, []byte(label)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}
