// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package gowss implements the OASIS WS-Security SOAP message security
actions: building the wsse:Security header of outgoing messages and
processing and validating it on incoming ones.

# Specifications Implemented

  - WS-Security 1.1.1 SOAP Message Security: https://docs.oasis-open.org/wss/v1.1/
  - Username Token Profile 1.1
  - X.509 Certificate Token Profile 1.1
  - SAML Token Profile 1.1
  - WS-SecureConversation 1.4 (SecurityContextToken)
  - XML Signature Syntax and Processing: https://www.w3.org/TR/xmldsig-core1/
  - XML Encryption Syntax and Processing: https://www.w3.org/TR/xmlenc-core1/

# Package Structure

	github.com/sirosfoundation/go-wss/pkg/wss       - Action registry, sender and receiver pipelines, results, faults
	github.com/sirosfoundation/go-wss/pkg/xmlsec    - XML signature and encryption primitives
	github.com/sirosfoundation/go-wss/pkg/saml      - SAML 1.1/2.0 assertions
	github.com/sirosfoundation/go-wss/pkg/keystore  - Key and certificate store with trust validation
	github.com/sirosfoundation/go-wss/pkg/replay    - Nonce and signature replay detection
	github.com/sirosfoundation/go-wss/pkg/handler   - Configured endpoint handlers with policy checks
	github.com/sirosfoundation/go-wss/pkg/transport - SOAP over HTTPS client and server

# Quick Start

To sign, timestamp and encrypt a request:

	import (
	    "github.com/sirosfoundation/go-wss/pkg/handler"
	    "github.com/sirosfoundation/go-wss/pkg/keystore"
	    "github.com/sirosfoundation/go-wss/pkg/wss"
	)

	ks := keystore.New()
	ks.AddKey("alice", aliceKey, "", aliceCert)
	ks.AddCertificate("bob", bobCert)

	opts := handler.DefaultOptions()
	opts.Actions = []wss.Action{wss.Timestamp, wss.Signature, wss.Encrypt}
	opts.SignatureUser = "alice"
	opts.EncryptionUser = "bob"

	h := handler.New(opts,
	    handler.WithSignatureCrypto(ks),
	    handler.WithEncryptionCrypto(ks),
	)
	secured, err := h.Outbound(doc)

On the receiving side the same actions are expected:

	results, err := receiver.Inbound(secured)
	for _, r := range results {
	    fmt.Println(r.Action(), r.Principal())
	}

Failures are reported as *wss.SecurityError carrying one of the standard
WS-Security fault codes; see [wss.LookupFault].

# Command Line

The wssec tool in cmd/wssec secures and verifies messages from the
command line and runs a validating SOAP endpoint. See its help output
for details.
*/
package gowss
