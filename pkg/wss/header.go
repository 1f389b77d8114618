// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package wss

import (
	"encoding/xml"
	"fmt"

	"github.com/beevik/etree"

	"github.com/sirosfoundation/go-wss/pkg/xmlsec"
)

// SecurityHeader is the wsse:Security element a sender is building, along
// with the envelope it belongs to.
type SecurityHeader struct {
	Doc      *etree.Document
	Envelope *etree.Element
	Header   *etree.Element
	Security *etree.Element

	soapNS     string
	soapPrefix string
}

// NewSecurityHeader finds or creates the wsse:Security header for actor in
// a SOAP 1.1 or 1.2 envelope.
func NewSecurityHeader(doc *etree.Document, actor string, mustUnderstand bool) (*SecurityHeader, error) {
	env := doc.Root()
	if env == nil {
		return nil, fmt.Errorf("document has no root element")
	}
	soapNS := env.NamespaceURI()
	if env.Tag != "Envelope" || (soapNS != NSSOAP11 && soapNS != NSSOAP12) {
		return nil, fmt.Errorf("root element %s is not a SOAP envelope", env.FullTag())
	}
	ensureNamespaces(env)

	h := &SecurityHeader{Doc: doc, Envelope: env, soapNS: soapNS, soapPrefix: env.Space}
	h.Header = soapChild(env, "Header")
	if h.Header == nil {
		h.Header = etree.NewElement(qualify(env.Space, "Header"))
		env.InsertChildAt(0, h.Header)
	}

	headers, err := securityHeaders(h.Header, actor)
	if err != nil {
		return nil, err
	}
	if len(headers) > 0 {
		h.Security = headers[0]
		return h, nil
	}

	sec := h.Header.CreateElement("wsse:Security")
	sec.CreateAttr("xmlns:wsse", NSSecurityExt)
	if mustUnderstand {
		value := "1"
		if soapNS == NSSOAP12 {
			value = "true"
		}
		sec.CreateAttr(qualify(env.Space, "mustUnderstand"), value)
	}
	if actor != "" {
		sec.CreateAttr(qualify(env.Space, actorAttr(soapNS)), actor)
	}
	h.Security = sec
	return h, nil
}

// Body returns the SOAP Body.
func (h *SecurityHeader) Body() *etree.Element {
	return soapChild(h.Envelope, "Body")
}

// SOAPNamespace returns the namespace of the envelope.
func (h *SecurityHeader) SOAPNamespace() string {
	return h.soapNS
}

// Append adds a token as the last child of the Security header.
func (h *SecurityHeader) Append(el *etree.Element) {
	h.Security.AddChild(el)
}

// Child returns the first direct child of the Security header with the
// given name.
func (h *SecurityHeader) Child(name xml.Name) *etree.Element {
	for _, c := range h.Security.ChildElements() {
		if c.Tag == name.Local && c.NamespaceURI() == name.Space {
			return c
		}
	}
	return nil
}

// ensureNamespaces declares the WS-Security prefixes on the envelope.
func ensureNamespaces(env *etree.Element) {
	if env.SelectAttr("xmlns:wsse") == nil {
		env.CreateAttr("xmlns:wsse", NSSecurityExt)
	}
	if env.SelectAttr("xmlns:wsu") == nil {
		env.CreateAttr("xmlns:wsu", NSSecurityUtil)
	}
}

func actorAttr(soapNS string) string {
	if soapNS == NSSOAP12 {
		return "role"
	}
	return "actor"
}

const ultimateReceiver = "http://www.w3.org/2003/05/soap-envelope/role/ultimateReceiver"

// securityHeaders returns the wsse:Security children of header targeted at
// actor. The empty actor matches headers without an actor or role, and
// SOAP 1.2 headers addressed to the ultimate receiver.
func securityHeaders(header *etree.Element, actor string) ([]*etree.Element, error) {
	var out []*etree.Element
	for _, c := range header.ChildElements() {
		if c.Tag != "Security" || c.NamespaceURI() != NSSecurityExt {
			continue
		}
		target := ""
		for _, a := range c.Attr {
			if (a.Key == "actor" || a.Key == "role") && a.Space != "" {
				target = a.Value
			}
		}
		if target == ultimateReceiver {
			target = ""
		}
		if target == actor {
			out = append(out, c)
		}
	}
	if len(out) > 1 {
		return nil, NewSecurityError(InvalidSecurity, "multiple security headers for the same actor")
	}
	return out, nil
}

func soapChild(env *etree.Element, local string) *etree.Element {
	for _, c := range env.ChildElements() {
		if c.Tag == local && c.NamespaceURI() == env.NamespaceURI() {
			return c
		}
	}
	return nil
}

func qualify(prefix, local string) string {
	if prefix == "" {
		return local
	}
	return prefix + ":" + local
}

// elementName returns the namespace-qualified name of el.
func elementName(el *etree.Element) xml.Name {
	return xml.Name{Space: el.NamespaceURI(), Local: el.Tag}
}

// elementID returns the identifier of el: wsu:Id, an unqualified Id, or a
// SAML ID.
func elementID(el *etree.Element) string {
	for i := range el.Attr {
		a := &el.Attr[i]
		switch a.Key {
		case "Id":
			if a.Space == "" || a.NamespaceURI() == NSSecurityUtil {
				return a.Value
			}
		case "ID", "AssertionID":
			if a.Space == "" {
				return a.Value
			}
		}
	}
	return ""
}

// ensureID returns the identifier of el, adding a wsu:Id when it has none.
// The wsu namespace is declared on el so its canonical form does not depend
// on the envelope.
func ensureID(el *etree.Element, prefix string) string {
	if id := elementID(el); id != "" {
		return id
	}
	if el.SelectAttr("xmlns:wsu") == nil {
		el.CreateAttr("xmlns:wsu", NSSecurityUtil)
	}
	id := xmlsec.GenerateID(prefix)
	el.CreateAttr("wsu:Id", id)
	return id
}

// findByID returns the unique element of the tree rooted at root carrying
// id. Duplicate identifiers are rejected.
func findByID(root *etree.Element, id string) (*etree.Element, error) {
	var found *etree.Element
	count := 0
	var walk func(el *etree.Element)
	walk = func(el *etree.Element) {
		if elementID(el) == id {
			found = el
			count++
		}
		for _, c := range el.ChildElements() {
			walk(c)
		}
	}
	walk(root)
	if count > 1 {
		return nil, NewSecurityError(InvalidSecurity, "duplicate identifier "+id)
	}
	return found, nil
}

// findParts resolves part names to elements of the envelope.
func findParts(env *etree.Element, soapNS string, parts []Part) ([]*etree.Element, []Part, error) {
	var elems []*etree.Element
	var resolved []Part
	for _, p := range parts {
		name := p.Name
		if name.Space == "" && name.Local == "Body" {
			name.Space = soapNS
		}
		matches := findByName(env, name)
		if len(matches) == 0 {
			return nil, nil, fmt.Errorf("part %s not found", p)
		}
		for _, m := range matches {
			elems = append(elems, m)
			resolved = append(resolved, p)
		}
	}
	return elems, resolved, nil
}

func findByName(root *etree.Element, name xml.Name) []*etree.Element {
	var out []*etree.Element
	var walk func(el *etree.Element)
	walk = func(el *etree.Element) {
		if el.Tag == name.Local && (name.Space == "" || el.NamespaceURI() == name.Space) {
			out = append(out, el)
			return
		}
		for _, c := range el.ChildElements() {
			walk(c)
		}
	}
	walk(root)
	return out
}

func childNS(el *etree.Element, ns, local string) *etree.Element {
	for _, c := range el.ChildElements() {
		if c.Tag == local && c.NamespaceURI() == ns {
			return c
		}
	}
	return nil
}

func childrenNS(el *etree.Element, ns, local string) []*etree.Element {
	var out []*etree.Element
	for _, c := range el.ChildElements() {
		if c.Tag == local && c.NamespaceURI() == ns {
			out = append(out, c)
		}
	}
	return out
}

func xmlName(space, local string) xml.Name {
	return xml.Name{Space: space, Local: local}
}
