// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package transport

import (
	"strings"

	"github.com/beevik/etree"

	"github.com/sirosfoundation/go-wss/pkg/wss"
)

// NewFault builds a SOAP fault envelope for err in the given SOAP
// namespace. Security errors carry their fault name as subcode (SOAP 1.2)
// or faultcode (SOAP 1.1) and the canonical fault message as reason. The
// error detail is not included.
func NewFault(soapNS string, err error) *etree.Document {
	code, _ := wss.CodeOf(err)
	f := wss.LookupFault(code)

	doc := etree.NewDocument()
	prefix := "soap"
	if soapNS == wss.NSSOAP12 {
		prefix = "env"
	}
	env := doc.CreateElement(prefix + ":Envelope")
	env.CreateAttr("xmlns:"+prefix, soapNS)
	fault := env.CreateElement(prefix + ":Body").CreateElement(prefix + ":Fault")

	if soapNS == wss.NSSOAP12 {
		c := fault.CreateElement("env:Code")
		c.CreateElement("env:Value").SetText("env:Sender")
		sub := c.CreateElement("env:Subcode").CreateElement("env:Value")
		sub.CreateAttr("xmlns:"+f.Prefix, f.Namespace)
		sub.SetText(f.QName())
		text := fault.CreateElement("env:Reason").CreateElement("env:Text")
		text.CreateAttr("xml:lang", "en")
		text.SetText(f.Message)
		return doc
	}

	fc := fault.CreateElement("faultcode")
	fc.CreateAttr("xmlns:"+f.Prefix, f.Namespace)
	fc.SetText(f.QName())
	fault.CreateElement("faultstring").SetText(f.Message)
	return doc
}

// ParseFault extracts the security error carried by a SOAP fault. It
// reports false when doc holds no fault. Faults without a WS-Security code
// map to Failure.
func ParseFault(doc *etree.Document) (*wss.SecurityError, bool) {
	fault := doc.FindElement("/Envelope/Body/Fault")
	if fault == nil {
		return nil, false
	}

	var code, reason *etree.Element
	if fault.NamespaceURI() == wss.NSSOAP12 {
		code = fault.FindElement("Code/Subcode/Value")
		if code == nil {
			code = fault.FindElement("Code/Value")
		}
		reason = fault.FindElement("Reason/Text")
	} else {
		code = fault.FindElement("faultcode")
		reason = fault.FindElement("faultstring")
	}

	se := wss.NewSecurityError(wss.Failure, "")
	if code != nil {
		if c, ok := faultCode(code); ok {
			se.Code = c
		}
	}
	if reason != nil && se.Code == wss.Failure {
		se.Detail = strings.TrimSpace(reason.Text())
	}
	return se, true
}

// faultCode resolves a QName such as wsse:FailedCheck against the fault
// taxonomy, checking the namespace bound to the prefix.
func faultCode(el *etree.Element) (wss.ErrorCode, bool) {
	qname := strings.TrimSpace(el.Text())
	prefix, local, ok := strings.Cut(qname, ":")
	if !ok {
		return wss.Failure, false
	}
	ns := lookupNamespace(el, prefix)
	for code := wss.Failure; code <= wss.FailedSignature; code++ {
		f := wss.LookupFault(code)
		if f.Name == local && f.Namespace == ns {
			return code, true
		}
	}
	return wss.Failure, false
}

func lookupNamespace(el *etree.Element, prefix string) string {
	for e := el; e != nil; e = e.Parent() {
		if a := e.SelectAttr("xmlns:" + prefix); a != nil {
			return a.Value
		}
	}
	return ""
}
