// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package saml models the SAML 2.0 assertions carried in a WS-Security
// header.
package saml

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
)

// NSAssertion is the SAML 2.0 assertion namespace.
const NSAssertion = "urn:oasis:names:tc:SAML:2.0:assertion"

// Subject confirmation methods
const (
	ConfirmationBearer        = "urn:oasis:names:tc:SAML:2.0:cm:bearer"
	ConfirmationSenderVouches = "urn:oasis:names:tc:SAML:2.0:cm:sender-vouches"
	ConfirmationHolderOfKey   = "urn:oasis:names:tc:SAML:2.0:cm:holder-of-key"
)

// NameIDFormatUnspecified is the default NameID format.
const NameIDFormatUnspecified = "urn:oasis:names:tc:SAML:1.1:nameid-format:unspecified"

var (
	// ErrNotYetValid is returned by Valid before NotBefore.
	ErrNotYetValid = errors.New("assertion is not yet valid")
	// ErrExpired is returned by Valid at or after NotOnOrAfter.
	ErrExpired = errors.New("assertion has expired")
)

// Attribute is a SAML attribute statement entry.
type Attribute struct {
	Name   string
	Values []string
}

// Assertion is a SAML 2.0 assertion.
type Assertion struct {
	ID                 string
	IssueInstant       time.Time
	Issuer             string
	Subject            string
	SubjectFormat      string
	ConfirmationMethod string
	NotBefore          time.Time
	NotOnOrAfter       time.Time
	Audiences          []string
	Attributes         []Attribute
}

// Option configures a new assertion.
type Option func(*Assertion)

// WithValidity sets the Conditions validity window.
func WithValidity(notBefore, notOnOrAfter time.Time) Option {
	return func(a *Assertion) {
		a.NotBefore = notBefore
		a.NotOnOrAfter = notOnOrAfter
	}
}

// WithAudience adds an audience restriction.
func WithAudience(audience string) Option {
	return func(a *Assertion) {
		a.Audiences = append(a.Audiences, audience)
	}
}

// WithAttribute adds an attribute statement entry.
func WithAttribute(name string, values ...string) Option {
	return func(a *Assertion) {
		a.Attributes = append(a.Attributes, Attribute{Name: name, Values: values})
	}
}

// WithConfirmationMethod sets the subject confirmation method.
func WithConfirmationMethod(method string) Option {
	return func(a *Assertion) {
		a.ConfirmationMethod = method
	}
}

// WithSubjectFormat sets the NameID format of the subject.
func WithSubjectFormat(format string) Option {
	return func(a *Assertion) {
		a.SubjectFormat = format
	}
}

// NewAssertion creates an assertion issued now by issuer about subject.
func NewAssertion(issuer, subject string, opts ...Option) *Assertion {
	a := &Assertion{
		ID:                 "_" + uuid.NewString(),
		IssueInstant:       time.Now().UTC().Truncate(time.Second),
		Issuer:             issuer,
		Subject:            subject,
		SubjectFormat:      NameIDFormatUnspecified,
		ConfirmationMethod: ConfirmationSenderVouches,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Valid checks the Conditions validity window against now.
func (a *Assertion) Valid(now time.Time) error {
	if !a.NotBefore.IsZero() && now.Before(a.NotBefore) {
		return ErrNotYetValid
	}
	if !a.NotOnOrAfter.IsZero() && !now.Before(a.NotOnOrAfter) {
		return ErrExpired
	}
	return nil
}

// Element renders the assertion as a saml2:Assertion element.
func (a *Assertion) Element() *etree.Element {
	el := etree.NewElement("saml2:Assertion")
	el.CreateAttr("xmlns:saml2", NSAssertion)
	el.CreateAttr("ID", a.ID)
	el.CreateAttr("IssueInstant", formatTime(a.IssueInstant))
	el.CreateAttr("Version", "2.0")
	el.CreateElement("saml2:Issuer").SetText(a.Issuer)

	subject := el.CreateElement("saml2:Subject")
	nameID := subject.CreateElement("saml2:NameID")
	if a.SubjectFormat != "" {
		nameID.CreateAttr("Format", a.SubjectFormat)
	}
	nameID.SetText(a.Subject)
	if a.ConfirmationMethod != "" {
		subject.CreateElement("saml2:SubjectConfirmation").CreateAttr("Method", a.ConfirmationMethod)
	}

	if !a.NotBefore.IsZero() || !a.NotOnOrAfter.IsZero() || len(a.Audiences) > 0 {
		conditions := el.CreateElement("saml2:Conditions")
		if !a.NotBefore.IsZero() {
			conditions.CreateAttr("NotBefore", formatTime(a.NotBefore))
		}
		if !a.NotOnOrAfter.IsZero() {
			conditions.CreateAttr("NotOnOrAfter", formatTime(a.NotOnOrAfter))
		}
		if len(a.Audiences) > 0 {
			restriction := conditions.CreateElement("saml2:AudienceRestriction")
			for _, aud := range a.Audiences {
				restriction.CreateElement("saml2:Audience").SetText(aud)
			}
		}
	}

	if len(a.Attributes) > 0 {
		statement := el.CreateElement("saml2:AttributeStatement")
		for _, attr := range a.Attributes {
			ae := statement.CreateElement("saml2:Attribute")
			ae.CreateAttr("Name", attr.Name)
			for _, v := range attr.Values {
				ae.CreateElement("saml2:AttributeValue").SetText(v)
			}
		}
	}
	return el
}

// Parse reads a saml2:Assertion element.
func Parse(el *etree.Element) (*Assertion, error) {
	if el == nil || el.Tag != "Assertion" || el.NamespaceURI() != NSAssertion {
		return nil, errors.New("not a SAML 2.0 assertion")
	}
	if v := el.SelectAttrValue("Version", ""); v != "2.0" {
		return nil, fmt.Errorf("unsupported assertion version %q", v)
	}
	a := &Assertion{ID: el.SelectAttrValue("ID", "")}
	if a.ID == "" {
		return nil, errors.New("assertion has no ID")
	}
	var err error
	if a.IssueInstant, err = parseTime(el.SelectAttrValue("IssueInstant", "")); err != nil {
		return nil, fmt.Errorf("invalid IssueInstant: %w", err)
	}
	issuer := child(el, "Issuer")
	if issuer == nil {
		return nil, errors.New("assertion has no Issuer")
	}
	a.Issuer = strings.TrimSpace(issuer.Text())

	if subject := child(el, "Subject"); subject != nil {
		if nameID := child(subject, "NameID"); nameID != nil {
			a.Subject = strings.TrimSpace(nameID.Text())
			a.SubjectFormat = nameID.SelectAttrValue("Format", "")
		}
		if conf := child(subject, "SubjectConfirmation"); conf != nil {
			a.ConfirmationMethod = conf.SelectAttrValue("Method", "")
		}
	}

	if conditions := child(el, "Conditions"); conditions != nil {
		if v := conditions.SelectAttrValue("NotBefore", ""); v != "" {
			if a.NotBefore, err = parseTime(v); err != nil {
				return nil, fmt.Errorf("invalid NotBefore: %w", err)
			}
		}
		if v := conditions.SelectAttrValue("NotOnOrAfter", ""); v != "" {
			if a.NotOnOrAfter, err = parseTime(v); err != nil {
				return nil, fmt.Errorf("invalid NotOnOrAfter: %w", err)
			}
		}
		if restriction := child(conditions, "AudienceRestriction"); restriction != nil {
			for _, aud := range restriction.ChildElements() {
				if aud.Tag == "Audience" {
					a.Audiences = append(a.Audiences, strings.TrimSpace(aud.Text()))
				}
			}
		}
	}

	for _, statement := range el.ChildElements() {
		if statement.Tag != "AttributeStatement" {
			continue
		}
		for _, ae := range statement.ChildElements() {
			if ae.Tag != "Attribute" {
				continue
			}
			attr := Attribute{Name: ae.SelectAttrValue("Name", "")}
			for _, v := range ae.ChildElements() {
				if v.Tag == "AttributeValue" {
					attr.Values = append(attr.Values, v.Text())
				}
			}
			a.Attributes = append(a.Attributes, attr)
		}
	}
	return a, nil
}

// Attribute returns the values of the named attribute.
func (a *Assertion) Attribute(name string) []string {
	for _, attr := range a.Attributes {
		if attr.Name == name {
			return attr.Values
		}
	}
	return nil
}

func child(el *etree.Element, local string) *etree.Element {
	for _, c := range el.ChildElements() {
		if c.Tag == local {
			return c
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
}
