// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package wss

import (
	"encoding/xml"
	"fmt"
	"sort"
	"sync"

	"github.com/beevik/etree"

	"github.com/sirosfoundation/go-wss/pkg/saml"
)

// DefaultSecretKeyLength is the length in bytes of derived and generated
// symmetric keys.
const DefaultSecretKeyLength = 16

// Builder adds the header token for one action on the sender side.
type Builder interface {
	Build(h *SecurityHeader, rd *RequestData) error
}

// Processor validates one header token on the receiver side. A nil Result
// with a nil error means the token carries key material for another token
// and produces no result of its own.
type Processor interface {
	Process(el *etree.Element, pc *ProcessContext) (*Result, error)
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(h *SecurityHeader, rd *RequestData) error

func (f BuilderFunc) Build(h *SecurityHeader, rd *RequestData) error { return f(h, rd) }

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(el *etree.Element, pc *ProcessContext) (*Result, error)

func (f ProcessorFunc) Process(el *etree.Element, pc *ProcessContext) (*Result, error) {
	return f(el, pc)
}

type registration struct {
	builder   Builder
	processor Processor
}

// Config holds engine-wide settings and the action registry. Registration
// is not synchronized: configure a Config before sharing it between
// goroutines.
type Config struct {
	// HandleCustomPasswordTypes passes UsernameTokens with unknown password
	// types to the callback instead of rejecting them.
	HandleCustomPasswordTypes bool
	// AllowNamespaceQualifiedPasswordTypes accepts wsse:Type in place of
	// the unqualified Type attribute on Password.
	AllowNamespaceQualifiedPasswordTypes bool
	// PasswordsAreEncoded means callbacks return Base64(SHA-1(password))
	// instead of the clear text password.
	PasswordsAreEncoded bool
	// AllowUsernameTokenNoPassword accepts a UsernameToken without a
	// Password element. The result then carries an unauthenticated name.
	AllowUsernameTokenNoPassword bool
	// SecretKeyLength is the size in bytes of derived keys.
	SecretKeyLength int
	// IgnoreUnknownTokens skips header children with no registered action
	// instead of failing.
	IgnoreUnknownTokens bool

	actions map[Action]registration
	tokens  map[xml.Name]Action
}

var (
	defaultConfig     *Config
	defaultConfigOnce sync.Once
)

// DefaultConfig returns the process wide shared configuration.
func DefaultConfig() *Config {
	defaultConfigOnce.Do(func() {
		defaultConfig = NewConfig()
	})
	return defaultConfig
}

// NewConfig returns a fresh configuration holding the built-in actions.
// Changes to it are never visible through any other Config.
func NewConfig() *Config {
	c := &Config{
		SecretKeyLength: DefaultSecretKeyLength,
		actions:         make(map[Action]registration),
		tokens:          make(map[xml.Name]Action),
	}
	for a, r := range builtinActions() {
		c.actions[a] = r
	}
	for name, a := range builtinTokens() {
		c.tokens[name] = a
	}
	return c
}

func builtinActions() map[Action]registration {
	sig := &signatureProcessor{}
	assertion := &samlProcessor{}
	return map[Action]registration{
		UsernameToken:          {&usernameTokenBuilder{}, &usernameTokenProcessor{}},
		Timestamp:              {&timestampBuilder{}, &timestampProcessor{}},
		Signature:              {&signatureBuilder{}, sig},
		UsernameTokenSignature: {&usernameTokenSignatureBuilder{}, sig},
		Encrypt:                {&encryptBuilder{}, &encryptProcessor{}},
		SecurityContextToken:   {&securityContextBuilder{}, &securityContextProcessor{}},
		SAMLTokenUnsigned:      {&samlBuilder{signed: false}, assertion},
		SAMLTokenSigned:        {&samlBuilder{signed: true}, assertion},
		BinarySecurityToken:    {nil, &binarySecurityTokenProcessor{}},
	}
}

func builtinTokens() map[xml.Name]Action {
	return map[xml.Name]Action{
		{Space: NSSecurityExt, Local: "UsernameToken"}:               UsernameToken,
		{Space: NSSecurityUtil, Local: "Timestamp"}:                  Timestamp,
		{Space: NSXMLDSig, Local: "Signature"}:                       Signature,
		{Space: NSXMLEnc, Local: "EncryptedKey"}:                     Encrypt,
		{Space: NSXMLEnc, Local: "ReferenceList"}:                    Encrypt,
		{Space: NSSecurityExt, Local: "BinarySecurityToken"}:         BinarySecurityToken,
		{Space: NSSecureConversation, Local: "SecurityContextToken"}: SecurityContextToken,
		{Space: saml.NSAssertion, Local: "Assertion"}:                SAMLTokenUnsigned,
	}
}

// RegisterAction installs a builder and a processor for action. A nil
// argument leaves the corresponding role as it was. The last registration
// wins.
func (c *Config) RegisterAction(action Action, b Builder, p Processor) {
	r := c.actions[action]
	if b != nil {
		r.builder = b
	}
	if p != nil {
		r.processor = p
	}
	c.actions[action] = r
}

// LookupBuilder returns the builder registered for action.
func (c *Config) LookupBuilder(action Action) (Builder, error) {
	r, ok := c.actions[action]
	if !ok || r.builder == nil {
		return nil, fmt.Errorf("%w: no builder for %s", ErrUnknownAction, action)
	}
	return r.builder, nil
}

// LookupProcessor returns the processor registered for action.
func (c *Config) LookupProcessor(action Action) (Processor, error) {
	r, ok := c.actions[action]
	if !ok || r.processor == nil {
		return nil, fmt.Errorf("%w: no processor for %s", ErrUnknownAction, action)
	}
	return r.processor, nil
}

// RegisterToken maps a header element name to the action whose processor
// handles it.
func (c *Config) RegisterToken(name xml.Name, action Action) {
	c.tokens[name] = action
}

// TokenAction returns the action registered for a header element name.
func (c *Config) TokenAction(name xml.Name) (Action, bool) {
	a, ok := c.tokens[name]
	return a, ok
}

// Actions lists the registered action ids in ascending order.
func (c *Config) Actions() []Action {
	out := make([]Action, 0, len(c.actions))
	for a := range c.actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *Config) secretKeyLength() int {
	if c.SecretKeyLength > 0 {
		return c.SecretKeyLength
	}
	return DefaultSecretKeyLength
}
