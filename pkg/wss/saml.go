// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package wss

import (
	"errors"

	"github.com/beevik/etree"

	"github.com/sirosfoundation/go-wss/pkg/saml"
)

type samlBuilder struct {
	signed bool
}

// Build appends rd.SAMLAssertion to the header. A signed assertion carries
// an enveloped signature by the signature user, placed after its Issuer.
func (b *samlBuilder) Build(h *SecurityHeader, rd *RequestData) error {
	if rd.SAMLAssertion == nil {
		return errors.New("no SAML assertion to add")
	}
	el := rd.SAMLAssertion.Element()
	h.Append(el)
	if !b.signed {
		return nil
	}

	sk, cert, err := x509SigningKey(nil, rd, EmbeddedCertificate)
	if err != nil {
		return err
	}
	sk.keyInfo = newX509Data(cert)
	_, err = createSignature(el, 1, []*etree.Element{el}, sk, true)
	return err
}

type samlProcessor struct{}

func (p *samlProcessor) Process(el *etree.Element, pc *ProcessContext) (*Result, error) {
	a, err := saml.Parse(el)
	if err != nil {
		return nil, WrapSecurityError(InvalidSecurityToken, "malformed SAML assertion", err)
	}
	if err := a.Valid(pc.Now()); err != nil {
		if errors.Is(err, saml.ErrExpired) {
			return nil, WrapSecurityError(MessageExpired, "", err)
		}
		return nil, WrapSecurityError(InvalidSecurityToken, "", err)
	}

	attrs := map[Tag]any{
		TagSAMLAssertion: a,
		TagPrincipal:     &SAMLPrincipal{Subject: a.Subject, Issuer: a.Issuer},
		TagID:            a.ID,
	}
	sig := childNS(el, NSXMLDSig, "Signature")
	if sig == nil {
		return NewResult(SAMLTokenUnsigned, attrs), nil
	}

	vs, err := pc.verifySignature(sig, true)
	if err != nil {
		return nil, err
	}
	covered := false
	for _, ref := range vs.refs {
		if ref.WsuID == a.ID {
			covered = true
		}
	}
	if !covered {
		return nil, NewSecurityError(InvalidSecurity, "assertion signature does not cover the assertion")
	}
	attrs[TagDataRefs] = vs.refs
	attrs[TagSignatureValue] = vs.value
	if vs.key.cert != nil {
		attrs[TagX509Certificate] = vs.key.cert
		attrs[TagX509Certificates] = vs.key.chain
	}
	return NewResult(SAMLTokenSigned, attrs), nil
}
