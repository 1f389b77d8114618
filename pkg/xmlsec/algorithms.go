// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package xmlsec

import (
	"errors"

	"github.com/leifj/signedxml/xmlenc"
)

// Namespaces
const (
	NSXMLDSig = "http://www.w3.org/2000/09/xmldsig#"
	NSXMLEnc  = "http://www.w3.org/2001/04/xmlenc#"
	NSExcC14N = "http://www.w3.org/2001/10/xml-exc-c14n#"
)

// Algorithm URIs
const (
	// Signature algorithms
	AlgorithmRSASHA256  = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	AlgorithmRSASHA384  = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha384"
	AlgorithmRSASHA512  = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha512"
	AlgorithmHMACSHA1   = "http://www.w3.org/2000/09/xmldsig#hmac-sha1"
	AlgorithmHMACSHA256 = "http://www.w3.org/2001/04/xmldsig-more#hmac-sha256"

	// Digest algorithms
	AlgorithmSHA1   = "http://www.w3.org/2000/09/xmldsig#sha1"
	AlgorithmSHA256 = "http://www.w3.org/2001/04/xmlenc#sha256"
	AlgorithmSHA512 = "http://www.w3.org/2001/04/xmlenc#sha512"

	// Canonicalization
	AlgorithmExcC14N   = NSExcC14N
	AlgorithmEnveloped = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"

	// Encryption
	AlgorithmAES128GCM = xmlenc.AlgorithmAES128GCM
	AlgorithmAES256GCM = xmlenc.AlgorithmAES256GCM
	AlgorithmRSAOAEP   = "http://www.w3.org/2001/04/xmlenc#rsa-oaep-mgf1p"

	// Key derivation
	AlgorithmPSHA1 = "http://docs.oasis-open.org/ws-sx/ws-secureconversation/200512/dk/p_sha1"
	AlgorithmHKDF  = "http://www.w3.org/2021/04/xmldsig-more#hkdf"
)

// EncryptedData types
const (
	TypeElement = NSXMLEnc + "Element"
	TypeContent = NSXMLEnc + "Content"
)

var (
	// ErrUnsupportedAlgorithm is returned for algorithm URIs this package
	// does not implement.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	// ErrInvalidSignature is returned when a signature value does not verify.
	ErrInvalidSignature = errors.New("signature verification failed")
	// ErrDecryption is returned for any failure to decrypt data or keys.
	ErrDecryption = errors.New("decryption failed")
)

// IsSymmetric reports whether a signature algorithm is a MAC.
func IsSymmetric(alg string) bool {
	return alg == AlgorithmHMACSHA1 || alg == AlgorithmHMACSHA256
}

// ContentKeySize returns the key size for a content encryption algorithm.
func ContentKeySize(alg string) (int, error) {
	switch alg {
	case AlgorithmAES128GCM, AlgorithmAES256GCM:
		return xmlenc.KeySize(alg), nil
	}
	return 0, ErrUnsupportedAlgorithm
}

// ContentAlgorithmForKey picks the AES-GCM variant matching a key length.
func ContentAlgorithmForKey(key []byte) (string, error) {
	switch len(key) {
	case 16:
		return AlgorithmAES128GCM, nil
	case 32:
		return AlgorithmAES256GCM, nil
	}
	return "", ErrUnsupportedAlgorithm
}
