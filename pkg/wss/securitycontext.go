// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package wss

import (
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/google/uuid"
)

type securityContextBuilder struct{}

// Build adds a SecurityContextToken whose secret is supplied by the
// callback. Later Signature and Encrypt actions using the
// SecurityContextToken key identifier derive their keys from it.
func (b *securityContextBuilder) Build(h *SecurityHeader, rd *RequestData) error {
	identifier, _ := rd.Context[ContextSecurityContextID].(string)
	if identifier == "" {
		identifier = "urn:uuid:" + uuid.NewString()
	}
	cb, err := rd.callback(UsageSecretKey, identifier)
	if err != nil {
		return fmt.Errorf("secret key callback failed: %w", err)
	}
	if len(cb.Key) == 0 {
		return errors.New("no secret available for security context")
	}

	sct := etree.NewElement("wsc:SecurityContextToken")
	sct.CreateAttr("xmlns:wsc", NSSecureConversation)
	id := ensureID(sct, "SCT-")
	sct.CreateElement("wsc:Identifier").SetText(identifier)
	h.Append(sct)

	rd.Set(ContextSecurityContext, &SecurityContextState{ID: id, Identifier: identifier, Secret: cb.Key})
	return nil
}

type securityContextProcessor struct{}

func (p *securityContextProcessor) Process(el *etree.Element, pc *ProcessContext) (*Result, error) {
	secret, identifier, err := pc.securityContextSecret(el)
	if err != nil {
		return nil, err
	}
	return NewResult(SecurityContextToken, map[Tag]any{
		TagSecret:            secret,
		TagSecurityContextID: identifier,
		TagID:                elementID(el),
	}), nil
}

// securityContextSecret obtains the shared secret of a SecurityContextToken
// from the callback. The result is cached per token.
func (pc *ProcessContext) securityContextSecret(sct *etree.Element) ([]byte, string, error) {
	idEl := childNS(sct, NSSecureConversation, "Identifier")
	if idEl == nil || strings.TrimSpace(idEl.Text()) == "" {
		return nil, "", NewSecurityError(InvalidSecurityToken, "SecurityContextToken without Identifier")
	}
	identifier := strings.TrimSpace(idEl.Text())
	if secret, ok := pc.contexts[sct]; ok {
		return secret, identifier, nil
	}
	cb, err := pc.Data.callback(UsageSecretKey, identifier)
	if err != nil || len(cb.Key) == 0 {
		return nil, "", WrapSecurityError(SecurityTokenUnavailable, "", err)
	}
	pc.contexts[sct] = cb.Key
	return cb.Key, identifier, nil
}
