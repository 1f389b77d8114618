// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package wss

import (
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/sirosfoundation/go-wss/pkg/xmlsec"
)

type encryptBuilder struct{}

func (b *encryptBuilder) Build(h *SecurityHeader, rd *RequestData) error {
	targets, modes, err := encryptionTargets(h, rd.EncryptionParts)
	if err != nil {
		return err
	}
	switch rd.EncKeyIdentifier {
	case SecurityContextKey:
		return b.buildDerived(h, rd, targets, modes)
	case EncryptedKeyReference:
		return b.buildWithEncryptedKey(h, rd, targets, modes)
	}

	if rd.EncCrypto == nil {
		return errors.New("no encryption crypto configured")
	}
	alias := rd.EncryptionUser
	certs, err := rd.EncCrypto.Certificates(alias)
	if err != nil {
		return fmt.Errorf("no certificate for %q: %w", alias, err)
	}
	if len(certs) == 0 {
		return fmt.Errorf("no certificate for %q", alias)
	}
	cert := certs[0]

	cek, err := xmlsec.GenerateKey(16)
	if err != nil {
		return err
	}
	wrapped, err := xmlsec.EncryptKey(cert.PublicKey, cek)
	if err != nil {
		return err
	}

	ek := etree.NewElement("xenc:EncryptedKey")
	ek.CreateAttr("xmlns:xenc", NSXMLEnc)
	ek.CreateAttr("Id", xmlsec.GenerateID("EK-"))
	ek.CreateElement("xenc:EncryptionMethod").CreateAttr("Algorithm", xmlsec.AlgorithmRSAOAEP)
	ref, err := h.certReference(cert, rd.EncKeyIdentifier, alias)
	if err != nil {
		return err
	}
	ek.AddChild(newKeyInfo(ref))
	ek.CreateElement("xenc:CipherData").CreateElement("xenc:CipherValue").
		SetText(base64.StdEncoding.EncodeToString(wrapped))

	refList := ek.CreateElement("xenc:ReferenceList")
	for i, el := range targets {
		ed, err := encryptPart(el, modes[i], cek)
		if err != nil {
			return err
		}
		addDataReference(refList, ed)
	}
	h.Append(ek)
	rd.Set(ContextEncryptedKey, &EncryptedKeyState{ID: elementID(ek), Key: cek})
	return nil
}

// buildDerived encrypts each target with its own key derived from the
// current security context, described by a DerivedKeyToken in the
// EncryptedData KeyInfo.
func (b *encryptBuilder) buildDerived(h *SecurityHeader, rd *RequestData, targets []*etree.Element, modes []PartMode) error {
	sc := rd.securityContext()
	if sc == nil {
		return errors.New("no SecurityContextToken to encrypt with")
	}
	refList := newReferenceList()
	for i, el := range targets {
		dkt, key, err := newDerivedKeyToken(sc, rd.config().secretKeyLength())
		if err != nil {
			return err
		}
		ed, err := encryptPart(el, modes[i], key)
		if err != nil {
			return err
		}
		xmlsec.SetKeyInfo(ed, newKeyInfo(dkt))
		addDataReference(refList, ed)
	}
	h.Append(refList)
	return nil
}

// buildWithEncryptedKey reuses the key of an EncryptedKey written by an
// earlier Encrypt action.
func (b *encryptBuilder) buildWithEncryptedKey(h *SecurityHeader, rd *RequestData, targets []*etree.Element, modes []PartMode) error {
	ek := rd.encryptedKey()
	if ek == nil {
		return errors.New("no EncryptedKey to encrypt with")
	}
	refList := newReferenceList()
	for i, el := range targets {
		ed, err := encryptPart(el, modes[i], ek.Key)
		if err != nil {
			return err
		}
		xmlsec.SetKeyInfo(ed, newKeyInfo(newReference("#"+ek.ID, ValueTypeEncryptedKey)))
		addDataReference(refList, ed)
	}
	h.Append(refList)
	return nil
}

func newReferenceList() *etree.Element {
	refList := etree.NewElement("xenc:ReferenceList")
	refList.CreateAttr("xmlns:xenc", NSXMLEnc)
	return refList
}

func addDataReference(refList, ed *etree.Element) {
	refList.CreateElement("xenc:DataReference").CreateAttr("URI", "#"+elementID(ed))
}

func encryptPart(el *etree.Element, mode PartMode, key []byte) (*etree.Element, error) {
	alg, err := xmlsec.ContentAlgorithmForKey(key)
	if err != nil {
		return nil, err
	}
	id := xmlsec.GenerateID("ED-")
	if mode == PartElement {
		return xmlsec.EncryptElement(el, key, alg, id)
	}
	return xmlsec.EncryptContent(el, key, alg, id)
}

// encryptionTargets resolves the elements to encrypt. Without explicit
// parts the Body content is encrypted.
func encryptionTargets(h *SecurityHeader, parts []Part) ([]*etree.Element, []PartMode, error) {
	if len(parts) == 0 {
		body := h.Body()
		if body == nil {
			return nil, nil, errors.New("envelope has no Body")
		}
		return []*etree.Element{body}, []PartMode{PartContent}, nil
	}
	elems, resolved, err := findParts(h.Envelope, h.soapNS, parts)
	if err != nil {
		return nil, nil, err
	}
	modes := make([]PartMode, len(resolved))
	for i, p := range resolved {
		modes[i] = p.Mode
		if p.Mode == PartDefault {
			modes[i] = PartContent
		}
	}
	return elems, modes, nil
}

type encryptProcessor struct{}

func (p *encryptProcessor) Process(el *etree.Element, pc *ProcessContext) (*Result, error) {
	if el.Tag == "ReferenceList" {
		return p.processReferenceList(el, pc)
	}
	info, err := pc.encryptedKey(el)
	if err != nil {
		return nil, err
	}
	var refs []DataRef
	if refList := childNS(el, NSXMLEnc, "ReferenceList"); refList != nil {
		for _, dr := range childrenNS(refList, NSXMLEnc, "DataReference") {
			ref, err := pc.decryptReference(dr.SelectAttrValue("URI", ""), info.key)
			if err != nil {
				return nil, err
			}
			refs = append(refs, ref)
		}
	}
	return NewResult(Encrypt, map[Tag]any{
		TagDecryptedKey:    info.key,
		TagX509Certificate: info.cert,
		TagDataRefs:        refs,
		TagEncryptedKeyID:  elementID(el),
		TagID:              elementID(el),
	}), nil
}

func (p *encryptProcessor) processReferenceList(el *etree.Element, pc *ProcessContext) (*Result, error) {
	dataRefs := childrenNS(el, NSXMLEnc, "DataReference")
	if len(dataRefs) == 0 {
		return nil, NewSecurityError(InvalidSecurity, "empty ReferenceList")
	}
	refs := make([]DataRef, 0, len(dataRefs))
	for _, dr := range dataRefs {
		uri := dr.SelectAttrValue("URI", "")
		ed, err := pc.encryptedData(uri)
		if err != nil {
			return nil, err
		}
		key, err := pc.resolveKeyInfo(childNS(ed, NSXMLDSig, "KeyInfo"), UsageDecrypt)
		if err != nil {
			return nil, err
		}
		if len(key.secret) == 0 {
			return nil, NewSecurityError(InvalidSecurity, "EncryptedData key is not symmetric")
		}
		ref, err := pc.decryptReference(uri, key.secret)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return NewResult(Encrypt, map[Tag]any{
		TagDataRefs: refs,
		TagID:       elementID(el),
	}), nil
}

type encryptedKeyInfo struct {
	key  []byte
	cert *x509.Certificate
}

// encryptedKey unwraps the content encryption key of an EncryptedKey with
// the recipient's private key. The result is cached per element so that a
// Signature keyed with the same EncryptedKey does not unwrap it twice.
func (pc *ProcessContext) encryptedKey(el *etree.Element) (*encryptedKeyInfo, error) {
	if info, ok := pc.encryptedKeys[el]; ok {
		return info, nil
	}
	if alg := xmlsec.EncryptionAlgorithm(el); alg != xmlsec.AlgorithmRSAOAEP {
		return nil, NewSecurityError(UnsupportedAlgorithm, "")
	}
	recipient, err := pc.resolveKeyInfo(childNS(el, NSXMLDSig, "KeyInfo"), UsageDecrypt)
	if err != nil {
		return nil, err
	}
	if recipient.cert == nil {
		return nil, NewSecurityError(InvalidSecurity, "EncryptedKey does not identify a certificate")
	}
	dc := pc.crypto(UsageDecrypt)
	alias, err := dc.AliasForCertificate(recipient.cert)
	if err != nil {
		return nil, WrapSecurityError(SecurityTokenUnavailable, "", err)
	}
	wrapped, err := xmlsec.CipherValue(el)
	if err != nil {
		return nil, WrapSecurityError(InvalidSecurity, "malformed EncryptedKey", err)
	}
	cb, err := pc.Data.callback(UsageDecrypt, alias)
	if err != nil {
		return nil, WrapSecurityError(FailedCheck, "", err)
	}
	priv, err := dc.PrivateKey(alias, cb.Password)
	if err != nil {
		return nil, WrapSecurityError(FailedCheck, "", err)
	}
	key, err := xmlsec.DecryptKey(priv, wrapped)
	if err != nil {
		return nil, WrapSecurityError(FailedCheck, "", err)
	}
	info := &encryptedKeyInfo{key: key, cert: recipient.cert}
	pc.encryptedKeys[el] = info
	return info, nil
}

func (pc *ProcessContext) encryptedData(uri string) (*etree.Element, error) {
	if !strings.HasPrefix(uri, "#") || len(uri) < 2 {
		return nil, NewSecurityError(InvalidSecurity, "unsupported DataReference URI")
	}
	ed, err := pc.ElementByID(uri[1:])
	if err != nil {
		return nil, err
	}
	if ed == nil || ed.Tag != "EncryptedData" || ed.NamespaceURI() != NSXMLEnc {
		return nil, NewSecurityError(InvalidSecurity, "referenced EncryptedData not found")
	}
	return ed, nil
}

// decryptReference decrypts the EncryptedData at uri in place.
func (pc *ProcessContext) decryptReference(uri string, key []byte) (DataRef, error) {
	ed, err := pc.encryptedData(uri)
	if err != nil {
		return DataRef{}, err
	}
	alg := xmlsec.EncryptionAlgorithm(ed)
	restored, content, err := xmlsec.DecryptData(ed, key)
	if err != nil {
		if errors.Is(err, xmlsec.ErrUnsupportedAlgorithm) {
			return DataRef{}, NewSecurityError(UnsupportedAlgorithm, "")
		}
		return DataRef{}, WrapSecurityError(FailedCheck, "", err)
	}
	return DataRef{
		WsuID:     elementID(restored),
		Name:      elementName(restored),
		XPath:     restored.GetPath(),
		Algorithm: alg,
		Content:   content,
	}, nil
}
