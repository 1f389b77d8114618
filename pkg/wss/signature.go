// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package wss

import (
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/sirosfoundation/go-wss/pkg/xmlsec"
)

// signingKey is the key a Signature is computed with and the KeyInfo
// content that tells the receiver how to find it.
type signingKey struct {
	alg     string
	key     any
	keyInfo *etree.Element
}

type signatureBuilder struct{}

func (b *signatureBuilder) Build(h *SecurityHeader, rd *RequestData) error {
	var sk *signingKey
	switch rd.SigKeyIdentifier {
	case EncryptedKeyReference:
		ek := rd.encryptedKey()
		if ek == nil {
			return errors.New("no EncryptedKey to sign with")
		}
		sk = &signingKey{
			alg:     xmlsec.AlgorithmHMACSHA256,
			key:     ek.Key,
			keyInfo: newReference("#"+ek.ID, ValueTypeEncryptedKey),
		}
	case SecurityContextKey:
		sc := rd.securityContext()
		if sc == nil {
			return errors.New("no SecurityContextToken to sign with")
		}
		dkt, key, err := newDerivedKeyToken(sc, rd.config().secretKeyLength())
		if err != nil {
			return err
		}
		sk = &signingKey{alg: xmlsec.AlgorithmHMACSHA256, key: key, keyInfo: dkt}
	default:
		var err error
		if sk, _, err = x509SigningKey(h, rd, rd.SigKeyIdentifier); err != nil {
			return err
		}
	}

	targets, err := signatureTargets(h, rd.SignatureParts)
	if err != nil {
		return err
	}
	_, err = createSignature(h.Security, -1, targets, sk, false)
	return err
}

// x509SigningKey loads the private key and certificate of the signature
// user.
func x509SigningKey(h *SecurityHeader, rd *RequestData, kid KeyIdentifier) (*signingKey, *x509.Certificate, error) {
	if rd.SigCrypto == nil {
		return nil, nil, errors.New("no signature crypto configured")
	}
	alias := rd.SignatureUser
	if alias == "" {
		alias = rd.Username
	}
	certs, err := rd.SigCrypto.Certificates(alias)
	if err != nil {
		return nil, nil, fmt.Errorf("no certificate for %q: %w", alias, err)
	}
	if len(certs) == 0 {
		return nil, nil, fmt.Errorf("no certificate for %q", alias)
	}
	cb, err := rd.callback(UsageSignature, alias)
	if err != nil {
		return nil, nil, fmt.Errorf("signature callback failed: %w", err)
	}
	priv, err := rd.SigCrypto.PrivateKey(alias, cb.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("no private key for %q: %w", alias, err)
	}
	var keyInfo *etree.Element
	if h != nil {
		if keyInfo, err = h.certReference(certs[0], kid, alias); err != nil {
			return nil, nil, err
		}
	}
	return &signingKey{alg: xmlsec.AlgorithmRSASHA256, key: priv, keyInfo: keyInfo}, certs[0], nil
}

// signatureTargets resolves the elements to sign. Without explicit parts
// the Body and the Timestamp of this header are signed.
func signatureTargets(h *SecurityHeader, parts []Part) ([]*etree.Element, error) {
	if len(parts) > 0 {
		elems, _, err := findParts(h.Envelope, h.soapNS, parts)
		return elems, err
	}
	body := h.Body()
	if body == nil {
		return nil, errors.New("envelope has no Body")
	}
	targets := []*etree.Element{body}
	if ts := h.Child(xmlName(NSSecurityUtil, "Timestamp")); ts != nil {
		targets = append(targets, ts)
	}
	return targets, nil
}

// createSignature signs targets and inserts the ds:Signature into parent at
// index, or appends it when index is negative. SignedInfo is canonicalized
// in place, after insertion, which is how the receiver sees it. With
// enveloped set the single target is parent itself.
func createSignature(parent *etree.Element, index int, targets []*etree.Element, sk *signingKey, enveloped bool) (*etree.Element, error) {
	sig := etree.NewElement("ds:Signature")
	sig.CreateAttr("xmlns:ds", NSXMLDSig)
	sig.CreateAttr("Id", xmlsec.GenerateID("SIG-"))

	signedInfo := sig.CreateElement("ds:SignedInfo")
	signedInfo.CreateAttr("xmlns:ds", NSXMLDSig)
	signedInfo.CreateElement("ds:CanonicalizationMethod").CreateAttr("Algorithm", xmlsec.AlgorithmExcC14N)
	signedInfo.CreateElement("ds:SignatureMethod").CreateAttr("Algorithm", sk.alg)

	for _, el := range targets {
		id := ensureID(el, "id-")
		xmlsec.DeclareNamespaces(el)
		digest, err := xmlsec.Digest(el, xmlsec.AlgorithmSHA256)
		if err != nil {
			return nil, err
		}
		ref := signedInfo.CreateElement("ds:Reference")
		ref.CreateAttr("URI", "#"+id)
		transforms := ref.CreateElement("ds:Transforms")
		if enveloped {
			transforms.CreateElement("ds:Transform").CreateAttr("Algorithm", xmlsec.AlgorithmEnveloped)
		}
		transforms.CreateElement("ds:Transform").CreateAttr("Algorithm", xmlsec.AlgorithmExcC14N)
		ref.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", xmlsec.AlgorithmSHA256)
		ref.CreateElement("ds:DigestValue").SetText(base64.StdEncoding.EncodeToString(digest))
	}

	if index < 0 {
		parent.AddChild(sig)
	} else {
		parent.InsertChildAt(index, sig)
	}

	canonical, err := xmlsec.Canonicalize(signedInfo)
	if err != nil {
		return nil, err
	}
	value, err := xmlsec.Sign(sk.alg, sk.key, []byte(canonical))
	if err != nil {
		return nil, err
	}
	sig.CreateElement("ds:SignatureValue").SetText(base64.StdEncoding.EncodeToString(value))
	if sk.keyInfo != nil {
		sig.AddChild(newKeyInfo(sk.keyInfo))
	}
	return sig, nil
}

type usernameTokenSignatureBuilder struct{}

// Build adds a derived-key UsernameToken and a Signature keyed with the
// derived key.
func (b *usernameTokenSignatureBuilder) Build(h *SecurityHeader, rd *RequestData) error {
	ut, key, err := newDerivedKeyUsernameToken(rd, xmlsec.SaltPrefixMAC)
	if err != nil {
		return err
	}
	h.Append(ut)
	sk := &signingKey{
		alg:     xmlsec.AlgorithmHMACSHA256,
		key:     key,
		keyInfo: newReference("#"+elementID(ut), ValueTypeUsernameToken),
	}
	targets, err := signatureTargets(h, rd.SignatureParts)
	if err != nil {
		return err
	}
	_, err = createSignature(h.Security, -1, targets, sk, false)
	return err
}

type signatureProcessor struct{}

func (p *signatureProcessor) Process(el *etree.Element, pc *ProcessContext) (*Result, error) {
	vs, err := pc.verifySignature(el, false)
	if err != nil {
		return nil, err
	}
	if pc.Data.ReplayCache != nil && pc.Data.ReplayCache.Seen("sig:"+base64.StdEncoding.EncodeToString(vs.value)) {
		return nil, NewSecurityError(InvalidSecurity, "replayed signature")
	}

	action := Signature
	if vs.key.derivedUT {
		action = UsernameTokenSignature
	}
	attrs := map[Tag]any{
		TagDataRefs:       vs.refs,
		TagSignatureValue: vs.value,
		TagID:             elementID(el),
	}
	if vs.key.cert != nil {
		attrs[TagX509Certificate] = vs.key.cert
		attrs[TagX509Certificates] = vs.key.chain
		attrs[TagPrincipal] = &X509Principal{Certificate: vs.key.cert}
	}
	if vs.key.principal != nil {
		attrs[TagPrincipal] = vs.key.principal
	}
	if len(vs.key.secret) > 0 {
		attrs[TagSecret] = vs.key.secret
	}
	return NewResult(action, attrs), nil
}

type verifiedSignature struct {
	key   *resolvedKey
	refs  []DataRef
	value []byte
}

func supportedSignatureAlgorithm(alg string) bool {
	switch alg {
	case xmlsec.AlgorithmRSASHA256, xmlsec.AlgorithmRSASHA384, xmlsec.AlgorithmRSASHA512,
		xmlsec.AlgorithmHMACSHA1, xmlsec.AlgorithmHMACSHA256:
		return true
	}
	return false
}

// verifySignature checks a ds:Signature: key resolution first, then every
// reference digest, then the signature value. With enveloped set the
// signature may cover its parent element.
func (pc *ProcessContext) verifySignature(sig *etree.Element, enveloped bool) (*verifiedSignature, error) {
	signedInfo := childNS(sig, NSXMLDSig, "SignedInfo")
	if signedInfo == nil {
		return nil, NewSecurityError(InvalidSecurity, "Signature without SignedInfo")
	}
	c14n := childNS(signedInfo, NSXMLDSig, "CanonicalizationMethod")
	if c14n == nil || c14n.SelectAttrValue("Algorithm", "") != xmlsec.AlgorithmExcC14N {
		return nil, NewSecurityError(UnsupportedAlgorithm, "")
	}
	method := childNS(signedInfo, NSXMLDSig, "SignatureMethod")
	if method == nil {
		return nil, NewSecurityError(InvalidSecurity, "Signature without SignatureMethod")
	}
	alg := method.SelectAttrValue("Algorithm", "")
	if !supportedSignatureAlgorithm(alg) {
		return nil, NewSecurityError(UnsupportedAlgorithm, "")
	}
	valueEl := childNS(sig, NSXMLDSig, "SignatureValue")
	if valueEl == nil {
		return nil, NewSecurityError(InvalidSecurity, "Signature without SignatureValue")
	}
	value, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(valueEl.Text()), ""))
	if err != nil || len(value) == 0 {
		return nil, NewSecurityError(InvalidSecurity, "malformed SignatureValue")
	}

	key, err := pc.resolveKeyInfo(childNS(sig, NSXMLDSig, "KeyInfo"), UsageSignature)
	if err != nil {
		return nil, err
	}

	refEls := childrenNS(signedInfo, NSXMLDSig, "Reference")
	if len(refEls) == 0 {
		return nil, NewSecurityError(InvalidSecurity, "Signature without references")
	}
	refs := make([]DataRef, 0, len(refEls))
	for _, ref := range refEls {
		dr, err := pc.verifyReference(ref, sig, enveloped)
		if err != nil {
			return nil, err
		}
		refs = append(refs, dr)
	}

	var verifyKey any
	if xmlsec.IsSymmetric(alg) {
		if len(key.secret) == 0 {
			return nil, NewSecurityError(FailedCheck, "")
		}
		verifyKey = key.secret
	} else {
		if key.cert == nil {
			return nil, NewSecurityError(FailedCheck, "")
		}
		verifyKey = key.cert.PublicKey
	}
	canonical, err := xmlsec.Canonicalize(signedInfo)
	if err != nil {
		return nil, WrapSecurityError(InvalidSecurity, "", err)
	}
	if err := xmlsec.Verify(alg, verifyKey, []byte(canonical), value); err != nil {
		return nil, WrapSecurityError(FailedCheck, "", err)
	}
	return &verifiedSignature{key: key, refs: refs, value: value}, nil
}

func (pc *ProcessContext) verifyReference(ref, sig *etree.Element, envelopedAllowed bool) (DataRef, error) {
	uri := ref.SelectAttrValue("URI", "")
	if !strings.HasPrefix(uri, "#") || len(uri) < 2 {
		return DataRef{}, NewSecurityError(InvalidSecurity, "unsupported reference URI")
	}
	target, err := pc.ElementByID(uri[1:])
	if err != nil {
		return DataRef{}, err
	}
	if target == nil {
		return DataRef{}, NewSecurityError(FailedCheck, "")
	}

	enveloped := false
	if transforms := childNS(ref, NSXMLDSig, "Transforms"); transforms != nil {
		for _, t := range childrenNS(transforms, NSXMLDSig, "Transform") {
			switch t.SelectAttrValue("Algorithm", "") {
			case xmlsec.AlgorithmExcC14N:
			case xmlsec.AlgorithmEnveloped:
				if !envelopedAllowed || sig.Parent() != target {
					return DataRef{}, NewSecurityError(InvalidSecurity, "unexpected enveloped signature transform")
				}
				enveloped = true
			default:
				return DataRef{}, NewSecurityError(UnsupportedAlgorithm, "")
			}
		}
	}

	dm := childNS(ref, NSXMLDSig, "DigestMethod")
	dv := childNS(ref, NSXMLDSig, "DigestValue")
	if dm == nil || dv == nil {
		return DataRef{}, NewSecurityError(InvalidSecurity, "incomplete Reference")
	}
	digestAlg := dm.SelectAttrValue("Algorithm", "")
	expected, err := base64.StdEncoding.DecodeString(strings.TrimSpace(dv.Text()))
	if err != nil {
		return DataRef{}, NewSecurityError(InvalidSecurity, "malformed DigestValue")
	}

	actual, err := digestReference(target, sig, digestAlg, enveloped)
	if err != nil {
		if errors.Is(err, xmlsec.ErrUnsupportedAlgorithm) {
			return DataRef{}, NewSecurityError(UnsupportedAlgorithm, "")
		}
		return DataRef{}, WrapSecurityError(FailedCheck, "", err)
	}
	if subtle.ConstantTimeCompare(expected, actual) != 1 {
		return DataRef{}, NewSecurityError(FailedCheck, "")
	}
	return DataRef{
		WsuID:     uri[1:],
		Name:      elementName(target),
		XPath:     target.GetPath(),
		Algorithm: digestAlg,
	}, nil
}

// digestReference digests target, leaving out sig when the signature is
// enveloped in target.
func digestReference(target, sig *etree.Element, alg string, enveloped bool) ([]byte, error) {
	if enveloped {
		idx := sig.Index()
		target.RemoveChildAt(idx)
		defer target.InsertChildAt(idx, sig)
	}
	return xmlsec.Digest(target, alg)
}
