// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package xmlsec provides the XML security primitives used by the
// WS-Security pipeline: exclusive canonicalization and digests of etree
// elements, signature values, encryption of elements and element content,
// RSA-OAEP key transport and key derivation.
//
// Canonicalization is delegated to signedxml and AES-GCM data encryption to
// signedxml/xmlenc. This package does not build ds:Signature structures; it
// only produces and checks the values that go into them.
package xmlsec
