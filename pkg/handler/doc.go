// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package handler drives the WS-Security pipelines from configuration.
//
// A [Handler] holds the options of one endpoint: the actions to apply to
// outgoing messages and the actions expected on incoming ones, the key
// material, and the verification policy. Options are usually read from a
// [PropertySource] with [LoadOptions], using the property names defined in
// this package:
//
//	props := cfg.Properties()            // internal/config
//	opts, err := handler.LoadOptions(props)
//	h := handler.New(opts,
//	    handler.WithCallback(passwords),
//	    handler.WithSignatureCrypto(ks),
//	    handler.WithMetrics(handler.NewMetrics(prometheus.DefaultRegisterer)),
//	)
//
//	doc, err := h.Outbound(doc)          // secure a request
//	results, err := h.Inbound(doc)       // validate a response
//
// Inbound goes beyond header processing. It checks that the results match
// the expected actions, enforces timestamp freshness, and verifies trust in
// signing certificates. Every failure is a *wss.SecurityError.
package handler
