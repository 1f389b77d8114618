// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package wss

import (
	"crypto/x509"
	"encoding/base64"
	"strings"

	"github.com/beevik/etree"
)

type binarySecurityTokenProcessor struct{}

// Process checks that the token holds a certificate. The certificate is
// consumed by the Signature or EncryptedKey that references the token.
func (p *binarySecurityTokenProcessor) Process(el *etree.Element, pc *ProcessContext) (*Result, error) {
	if _, err := parseBinarySecurityToken(el); err != nil {
		return nil, err
	}
	return nil, nil
}

func parseBinarySecurityToken(el *etree.Element) (*x509.Certificate, error) {
	if vt := el.SelectAttrValue("ValueType", ""); vt != ValueTypeX509v3 {
		return nil, NewSecurityError(UnsupportedSecurityToken, "unsupported BinarySecurityToken type")
	}
	if et := el.SelectAttrValue("EncodingType", EncodingBase64); et != EncodingBase64 {
		return nil, NewSecurityError(UnsupportedSecurityToken, "unsupported BinarySecurityToken encoding")
	}
	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(el.Text()))
	if err != nil {
		return nil, WrapSecurityError(InvalidSecurityToken, "malformed BinarySecurityToken", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, WrapSecurityError(InvalidSecurityToken, "malformed certificate", err)
	}
	return cert, nil
}
