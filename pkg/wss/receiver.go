// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package wss

import (
	"log/slog"
	"time"

	"github.com/beevik/etree"
)

// Engine processes received security headers.
type Engine struct {
	config *Config
}

// NewEngine returns an engine using cfg. A nil cfg selects DefaultConfig.
func NewEngine(cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Engine{config: cfg}
}

// Config returns the engine's configuration.
func (e *Engine) Config() *Config {
	return e.config
}

// SetConfig replaces the engine's configuration.
func (e *Engine) SetConfig(cfg *Config) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	e.config = cfg
}

// ProcessContext is the per-message state shared by the processors of one
// security header.
type ProcessContext struct {
	Doc    *etree.Document
	Header *etree.Element
	Data   *RequestData

	config        *Config
	encryptedKeys map[*etree.Element]*encryptedKeyInfo
	contexts      map[*etree.Element][]byte
	timestamps    int
}

// Config returns the configuration the header is processed with.
func (pc *ProcessContext) Config() *Config {
	return pc.config
}

// Now returns the processing time.
func (pc *ProcessContext) Now() time.Time {
	return pc.Data.now()
}

// ElementByID finds the element of the message carrying id. It returns
// nil when no element matches and an InvalidSecurity error when several do.
func (pc *ProcessContext) ElementByID(id string) (*etree.Element, error) {
	return findByID(pc.Doc.Root(), id)
}

// ProcessHeader processes the security header of doc with a fresh engine
// using rd.Config. A nil rd selects DefaultConfig.
func ProcessHeader(doc *etree.Document, rd *RequestData) ([]*Result, error) {
	var cfg *Config
	if rd != nil {
		cfg = rd.Config
	}
	return NewEngine(cfg).ProcessSecurityHeader(doc, rd)
}

// ProcessSecurityHeader validates every token of the wsse:Security header
// addressed to rd.Actor and returns one result per token that represents an
// action, in header order. A message without a matching header yields no
// results and no error.
//
// Tokens are validated from the last header child to the first. A sender
// prepends each new token's effect to the message, so this order undoes the
// most recent transformation first, such as decrypting a Body before the
// earlier signature over it is checked. Key references are resolved by
// identifier and do not depend on this order.
//
// The first failure aborts processing; no partial results are returned.
// Every error is a *SecurityError.
func (e *Engine) ProcessSecurityHeader(doc *etree.Document, rd *RequestData) ([]*Result, error) {
	if rd == nil {
		rd = &RequestData{}
	}
	cfg := rd.Config
	if cfg == nil {
		cfg = e.config
	}
	log := rd.logger()

	env := doc.Root()
	if env == nil || env.Tag != "Envelope" {
		return nil, NewSecurityError(InvalidSecurity, "not a SOAP envelope")
	}
	ns := env.NamespaceURI()
	if ns != NSSOAP11 && ns != NSSOAP12 {
		return nil, NewSecurityError(InvalidSecurity, "not a SOAP envelope")
	}
	header := soapChild(env, "Header")
	if header == nil {
		log.Debug("no SOAP header")
		return nil, nil
	}
	headers, err := securityHeaders(header, rd.Actor)
	if err != nil {
		return nil, err
	}
	if len(headers) == 0 {
		log.Debug("no security header", slog.String("actor", rd.Actor))
		return nil, nil
	}
	sec := headers[0]

	pc := &ProcessContext{
		Doc:           doc,
		Header:        sec,
		Data:          rd,
		config:        cfg,
		encryptedKeys: make(map[*etree.Element]*encryptedKeyInfo),
		contexts:      make(map[*etree.Element][]byte),
	}

	children := sec.ChildElements()
	records := make([]*Result, len(children))
	for i := len(children) - 1; i >= 0; i-- {
		child := children[i]
		name := elementName(child)
		action, ok := cfg.TokenAction(name)
		if !ok {
			if cfg.IgnoreUnknownTokens {
				log.Debug("ignoring unknown security token", slog.String("token", name.Local))
				continue
			}
			return nil, NewSecurityError(InvalidSecurity, "unknown security token "+name.Local)
		}
		proc, err := cfg.LookupProcessor(action)
		if err != nil {
			return nil, WrapSecurityError(InvalidSecurity, "no processor for "+name.Local, err)
		}
		result, err := proc.Process(child, pc)
		if err != nil {
			se := asSecurityError(err, InvalidSecurity)
			log.Debug("security token rejected",
				slog.String("token", name.Local),
				slog.String("fault", se.Fault().QName()))
			return nil, se
		}
		records[i] = result
	}

	results := make([]*Result, 0, len(records))
	for _, r := range records {
		if r != nil {
			results = append(results, r)
		}
	}
	log.Debug("processed security header", slog.Int("results", len(results)))
	return results, nil
}
