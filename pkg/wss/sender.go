// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package wss

import (
	"errors"
	"log/slog"

	"github.com/beevik/etree"
)

// ApplyActions secures doc by running the builder of each action in order.
// Each builder appends its token to the wsse:Security header for rd.Actor,
// which is created when missing. The returned document is doc itself.
func ApplyActions(actions []Action, doc *etree.Document, rd *RequestData) (*etree.Document, error) {
	if rd == nil {
		return nil, errors.New("request data is required")
	}
	if len(actions) == 0 {
		return doc, nil
	}
	cfg := rd.config()
	log := rd.logger()

	h, err := NewSecurityHeader(doc, rd.Actor, rd.MustUnderstand)
	if err != nil {
		return nil, WrapSecurityError(Failure, "cannot create security header", err)
	}
	for _, action := range actions {
		b, err := cfg.LookupBuilder(action)
		if err != nil {
			return nil, WrapSecurityError(Failure, "unsupported action "+action.String(), err)
		}
		if err := b.Build(h, rd); err != nil {
			// sender failures stay local, so the cause is kept in the message
			var se *SecurityError
			if !errors.As(err, &se) {
				se = WrapSecurityError(senderCode(action), err.Error(), err)
			}
			log.Debug("security action failed",
				slog.String("action", action.String()),
				slog.String("error", err.Error()))
			return nil, se
		}
		log.Debug("applied security action", slog.String("action", action.String()))
	}
	return doc, nil
}

func senderCode(action Action) ErrorCode {
	switch action {
	case Signature, UsernameTokenSignature, SAMLTokenSigned:
		return FailedSignature
	case Encrypt:
		return FailedEncryption
	}
	return Failure
}
