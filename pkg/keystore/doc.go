// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package keystore provides an in-memory certificate and key store that
// implements wss.Crypto.
//
// Entries are added programmatically or loaded from a directory of PEM
// files, where {dir}/{alias}.crt holds the certificate chain (leaf first)
// and the optional {dir}/{alias}.key holds the private key.
//
// Trust decisions are delegated to a CertificateValidator. Two validators
// are provided: DefaultCertificateValidator checks chains against a pool of
// trusted roots, and AuthZENTrustValidator asks an AuthZEN Trust Framework
// PDP (draft-johansson-authzen-trust-00). Without a validator only
// certificates stored in the keystore are trusted.
package keystore
