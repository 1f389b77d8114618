// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package wss

import (
	"crypto"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/sirosfoundation/go-wss/pkg/xmlsec"
)

// newBinarySecurityToken renders cert as an X.509 BinarySecurityToken.
func newBinarySecurityToken(cert *x509.Certificate) (*etree.Element, string) {
	bst := etree.NewElement("wsse:BinarySecurityToken")
	bst.CreateAttr("xmlns:wsse", NSSecurityExt)
	bst.CreateAttr("EncodingType", EncodingBase64)
	bst.CreateAttr("ValueType", ValueTypeX509v3)
	id := ensureID(bst, "X509-")
	bst.SetText(base64.StdEncoding.EncodeToString(cert.Raw))
	return bst, id
}

func newSecurityTokenReference() *etree.Element {
	str := etree.NewElement("wsse:SecurityTokenReference")
	str.CreateAttr("xmlns:wsse", NSSecurityExt)
	return str
}

func newReference(uri, valueType string) *etree.Element {
	str := newSecurityTokenReference()
	ref := str.CreateElement("wsse:Reference")
	ref.CreateAttr("URI", uri)
	if valueType != "" {
		ref.CreateAttr("ValueType", valueType)
	}
	return str
}

func newKeyIdentifier(valueType string, value []byte) *etree.Element {
	str := newSecurityTokenReference()
	ki := str.CreateElement("wsse:KeyIdentifier")
	ki.CreateAttr("EncodingType", EncodingBase64)
	ki.CreateAttr("ValueType", valueType)
	ki.SetText(base64.StdEncoding.EncodeToString(value))
	return str
}

// certReference builds the KeyInfo content referring to cert. Direct
// references add a BinarySecurityToken to the header first.
func (h *SecurityHeader) certReference(cert *x509.Certificate, kid KeyIdentifier, alias string) (*etree.Element, error) {
	switch kid {
	case DirectReference:
		bst, id := newBinarySecurityToken(cert)
		h.Append(bst)
		return newReference("#"+id, ValueTypeX509v3), nil

	case KeyIDDefault, IssuerSerial:
		str := newSecurityTokenReference()
		data := str.CreateElement("ds:X509Data")
		data.CreateAttr("xmlns:ds", NSXMLDSig)
		is := data.CreateElement("ds:X509IssuerSerial")
		is.CreateElement("ds:X509IssuerName").SetText(cert.Issuer.String())
		is.CreateElement("ds:X509SerialNumber").SetText(cert.SerialNumber.String())
		return str, nil

	case X509KeyIdentifier:
		return newKeyIdentifier(ValueTypeX509v3, cert.Raw), nil

	case SKIKeyIdentifier:
		if len(cert.SubjectKeyId) == 0 {
			return nil, errors.New("certificate has no subject key identifier")
		}
		return newKeyIdentifier(ValueTypeSKI, cert.SubjectKeyId), nil

	case Thumbprint:
		sum := sha1.Sum(cert.Raw)
		return newKeyIdentifier(ValueTypeThumbprint, sum[:]), nil

	case EmbeddedCertificate:
		return newX509Data(cert), nil

	case KeyName:
		kn := etree.NewElement("ds:KeyName")
		kn.CreateAttr("xmlns:ds", NSXMLDSig)
		kn.SetText(alias)
		return kn, nil
	}
	return nil, fmt.Errorf("key identifier %s cannot refer to a certificate", kid)
}

// newDerivedKeyToken derives a key from a security context and describes the
// derivation in a wsc:DerivedKeyToken.
func newDerivedKeyToken(sc *SecurityContextState, length int) (*etree.Element, []byte, error) {
	nonce, err := xmlsec.GenerateKey(16)
	if err != nil {
		return nil, nil, err
	}
	key, err := xmlsec.DeriveKey(sc.Secret, nonce, xmlsec.DerivedKeyLabel, length)
	if err != nil {
		return nil, nil, err
	}
	dkt := etree.NewElement("wsc:DerivedKeyToken")
	dkt.CreateAttr("xmlns:wsc", NSSecureConversation)
	ensureID(dkt, "DK-")
	dkt.CreateAttr("Algorithm", xmlsec.AlgorithmHKDF)
	dkt.AddChild(newReference("#"+sc.ID, ValueTypeSCT))
	dkt.CreateElement("wsc:Length").SetText(strconv.Itoa(length))
	dkt.CreateElement("wsc:Nonce").SetText(base64.StdEncoding.EncodeToString(nonce))
	return dkt, key, nil
}

func newX509Data(cert *x509.Certificate) *etree.Element {
	data := etree.NewElement("ds:X509Data")
	data.CreateAttr("xmlns:ds", NSXMLDSig)
	data.CreateElement("ds:X509Certificate").SetText(base64.StdEncoding.EncodeToString(cert.Raw))
	return data
}

func newKeyInfo(content *etree.Element) *etree.Element {
	ki := etree.NewElement("ds:KeyInfo")
	ki.CreateAttr("xmlns:ds", NSXMLDSig)
	ki.AddChild(content)
	return ki
}

// resolvedKey is the key material a KeyInfo refers to.
type resolvedKey struct {
	cert      *x509.Certificate
	chain     []*x509.Certificate
	secret    []byte
	principal Principal
	derivedUT bool
}

// resolveKeyInfo resolves the key referred to by a ds:KeyInfo element.
func (pc *ProcessContext) resolveKeyInfo(keyInfo *etree.Element, usage Usage) (*resolvedKey, error) {
	if keyInfo == nil {
		return nil, NewSecurityError(InvalidSecurity, "missing KeyInfo")
	}
	for _, c := range keyInfo.ChildElements() {
		switch {
		case c.Tag == "SecurityTokenReference" && c.NamespaceURI() == NSSecurityExt:
			return pc.resolveSTR(c, usage)
		case c.Tag == "DerivedKeyToken" && c.NamespaceURI() == NSSecureConversation:
			return pc.resolveDerivedKeyToken(c)
		case c.Tag == "KeyName" && c.NamespaceURI() == NSXMLDSig:
			certs, err := pc.crypto(usage).Certificates(strings.TrimSpace(c.Text()))
			if err != nil || len(certs) == 0 {
				return nil, WrapSecurityError(SecurityTokenUnavailable, "", err)
			}
			return &resolvedKey{cert: certs[0], chain: certs}, nil
		case c.Tag == "X509Data" && c.NamespaceURI() == NSXMLDSig:
			return pc.resolveX509Data(c, usage)
		}
	}
	return nil, NewSecurityError(InvalidSecurity, "unsupported KeyInfo")
}

func (pc *ProcessContext) crypto(usage Usage) Crypto {
	var c Crypto
	if usage == UsageDecrypt {
		c = pc.Data.DecCrypto
	} else {
		c = pc.Data.SigCrypto
	}
	if c == nil {
		return noCrypto{}
	}
	return c
}

func (pc *ProcessContext) resolveSTR(str *etree.Element, usage Usage) (*resolvedKey, error) {
	if ref := childNS(str, NSSecurityExt, "Reference"); ref != nil {
		uri := ref.SelectAttrValue("URI", "")
		if !strings.HasPrefix(uri, "#") {
			return nil, NewSecurityError(SecurityTokenUnavailable, "only local references are supported")
		}
		token, err := pc.ElementByID(uri[1:])
		if err != nil {
			return nil, err
		}
		if token == nil {
			return nil, NewSecurityError(SecurityTokenUnavailable, "")
		}
		return pc.resolveToken(token, usage)
	}

	if ki := childNS(str, NSSecurityExt, "KeyIdentifier"); ki != nil {
		value, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ki.Text()))
		if err != nil {
			return nil, WrapSecurityError(InvalidSecurityToken, "malformed KeyIdentifier", err)
		}
		var cert *x509.Certificate
		switch ki.SelectAttrValue("ValueType", "") {
		case ValueTypeX509v3:
			cert, err = x509.ParseCertificate(value)
			if err != nil {
				return nil, WrapSecurityError(InvalidSecurityToken, "malformed certificate", err)
			}
		case ValueTypeSKI:
			cert, err = pc.crypto(usage).CertificateBySKI(value)
		case ValueTypeThumbprint:
			cert, err = pc.crypto(usage).CertificateByThumbprint(value)
		default:
			return nil, NewSecurityError(UnsupportedSecurityToken, "unsupported KeyIdentifier type")
		}
		if err != nil || cert == nil {
			return nil, WrapSecurityError(SecurityTokenUnavailable, "", err)
		}
		return &resolvedKey{cert: cert, chain: []*x509.Certificate{cert}}, nil
	}

	if data := childNS(str, NSXMLDSig, "X509Data"); data != nil {
		return pc.resolveX509Data(data, usage)
	}
	return nil, NewSecurityError(InvalidSecurity, "unsupported SecurityTokenReference")
}

func (pc *ProcessContext) resolveX509Data(data *etree.Element, usage Usage) (*resolvedKey, error) {
	if is := childNS(data, NSXMLDSig, "X509IssuerSerial"); is != nil {
		name := childNS(is, NSXMLDSig, "X509IssuerName")
		number := childNS(is, NSXMLDSig, "X509SerialNumber")
		if name == nil || number == nil {
			return nil, NewSecurityError(InvalidSecurityToken, "incomplete X509IssuerSerial")
		}
		serial, ok := new(big.Int).SetString(strings.TrimSpace(number.Text()), 10)
		if !ok {
			return nil, NewSecurityError(InvalidSecurityToken, "malformed X509SerialNumber")
		}
		cert, err := pc.crypto(usage).CertificateByIssuerSerial(strings.TrimSpace(name.Text()), serial)
		if err != nil || cert == nil {
			return nil, WrapSecurityError(SecurityTokenUnavailable, "", err)
		}
		return &resolvedKey{cert: cert, chain: []*x509.Certificate{cert}}, nil
	}
	var chain []*x509.Certificate
	for _, c := range childrenNS(data, NSXMLDSig, "X509Certificate") {
		der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(c.Text()))
		if err != nil {
			return nil, WrapSecurityError(InvalidSecurityToken, "malformed X509Certificate", err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, WrapSecurityError(InvalidSecurityToken, "malformed X509Certificate", err)
		}
		chain = append(chain, cert)
	}
	if len(chain) == 0 {
		return nil, NewSecurityError(InvalidSecurity, "empty X509Data")
	}
	return &resolvedKey{cert: chain[0], chain: chain}, nil
}

// resolveToken resolves key material from a referenced header token.
func (pc *ProcessContext) resolveToken(token *etree.Element, usage Usage) (*resolvedKey, error) {
	ns := token.NamespaceURI()
	switch {
	case token.Tag == "BinarySecurityToken" && ns == NSSecurityExt:
		cert, err := parseBinarySecurityToken(token)
		if err != nil {
			return nil, err
		}
		return &resolvedKey{cert: cert, chain: []*x509.Certificate{cert}}, nil

	case token.Tag == "UsernameToken" && ns == NSSecurityExt:
		return pc.usernameTokenKey(token, usage)

	case token.Tag == "EncryptedKey" && ns == NSXMLEnc:
		ek, err := pc.encryptedKey(token)
		if err != nil {
			return nil, err
		}
		return &resolvedKey{secret: ek.key}, nil

	case token.Tag == "SecurityContextToken" && ns == NSSecureConversation:
		secret, _, err := pc.securityContextSecret(token)
		if err != nil {
			return nil, err
		}
		return &resolvedKey{secret: secret}, nil
	}
	return nil, NewSecurityError(UnsupportedSecurityToken, "unsupported referenced token "+token.Tag)
}

// maxDerivedKeyLength bounds the Length of a received DerivedKeyToken.
const maxDerivedKeyLength = 64

func (pc *ProcessContext) resolveDerivedKeyToken(dkt *etree.Element) (*resolvedKey, error) {
	if alg := dkt.SelectAttrValue("Algorithm", xmlsec.AlgorithmHKDF); alg != xmlsec.AlgorithmHKDF {
		return nil, NewSecurityError(UnsupportedAlgorithm, "")
	}
	str := childNS(dkt, NSSecurityExt, "SecurityTokenReference")
	nonceEl := childNS(dkt, NSSecureConversation, "Nonce")
	if str == nil || nonceEl == nil {
		return nil, NewSecurityError(InvalidSecurityToken, "incomplete DerivedKeyToken")
	}
	nonce, err := base64.StdEncoding.DecodeString(strings.TrimSpace(nonceEl.Text()))
	if err != nil || len(nonce) == 0 {
		return nil, NewSecurityError(InvalidSecurityToken, "malformed DerivedKeyToken nonce")
	}
	length := pc.config.secretKeyLength()
	if l := childNS(dkt, NSSecureConversation, "Length"); l != nil {
		n, err := strconv.Atoi(strings.TrimSpace(l.Text()))
		if err != nil || n <= 0 || n > maxDerivedKeyLength {
			return nil, NewSecurityError(InvalidSecurityToken, "invalid DerivedKeyToken length")
		}
		length = n
	}
	base, err := pc.resolveSTR(str, UsageSecretKey)
	if err != nil {
		return nil, err
	}
	if len(base.secret) == 0 {
		return nil, NewSecurityError(InvalidSecurityToken, "DerivedKeyToken does not refer to a secret")
	}
	key, err := xmlsec.DeriveKey(base.secret, nonce, xmlsec.DerivedKeyLabel, length)
	if err != nil {
		return nil, WrapSecurityError(FailedCheck, "", err)
	}
	return &resolvedKey{secret: key}, nil
}

// noCrypto is used when RequestData carries no Crypto.
type noCrypto struct{}

func (noCrypto) Certificates(string) ([]*x509.Certificate, error) { return nil, ErrCertificateNotFound }
func (noCrypto) PrivateKey(string, string) (crypto.Signer, error)  { return nil, ErrCertificateNotFound }
func (noCrypto) CertificateByIssuerSerial(string, *big.Int) (*x509.Certificate, error) {
	return nil, ErrCertificateNotFound
}
func (noCrypto) CertificateBySKI([]byte) (*x509.Certificate, error) { return nil, ErrCertificateNotFound }
func (noCrypto) CertificateByThumbprint([]byte) (*x509.Certificate, error) {
	return nil, ErrCertificateNotFound
}
func (noCrypto) AliasForCertificate(*x509.Certificate) (string, error) {
	return "", ErrCertificateNotFound
}
func (noCrypto) VerifyTrust([]*x509.Certificate) error { return ErrCertificateNotFound }
