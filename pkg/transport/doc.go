// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package transport binds the WS-Security handler to SOAP over HTTP.

A [Client] secures each request with an outbound handler, posts it and
validates the response with an inbound handler. On the server side,
[NewServiceHandler] returns an http.Handler that validates requests before
passing them to a [Service] and secures the service's response. Security
failures are answered with a SOAP fault whose subcode is the WS-Security
fault name, e.g. wsse:InvalidSecurity; clients turn such faults back into
a *wss.SecurityError.

# TLS Configuration

The package recommends TLS 1.3 with fallback to TLS 1.2:

	config := transport.DefaultHTTPSConfig()
	// MinTLSVersion: TLS 1.2
	// MaxTLSVersion: TLS 1.3

For TLS 1.2, the following cipher suites are recommended:
  - TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384
  - TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256
  - TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384
  - TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256

# Client Usage

	client := transport.NewClient(config, requestHandler, responseHandler)
	resp, results, err := client.Call(ctx, "https://service.example.com/soap", doc)

# Server Usage

	h := transport.NewServiceHandler(transport.ServiceFunc(ping),
	    transport.WithInbound(requestHandler),
	    transport.WithOutbound(responseHandler))
	server := transport.NewHTTPSServer(":8443", config, h)

# Content Types

SOAP 1.1 messages are sent as text/xml with a SOAPAction header, SOAP 1.2
messages as application/soap+xml.
*/
package transport
