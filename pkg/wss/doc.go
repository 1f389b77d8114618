// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package wss implements the WS-Security action pipeline.
//
// A sender applies an ordered list of security actions (UsernameToken,
// Timestamp, Signature, Encrypt, SecurityContextToken, SAML assertions) to a
// SOAP envelope with ApplyActions. A receiver processes the resulting
// wsse:Security header with Engine.ProcessSecurityHeader, which validates
// each token and returns one Result per action in header order. The
// CheckReceiverResults family compares those results with the actions the
// receiver expected.
//
// Actions are pluggable: a Config carries an action registry mapping action
// ids to a Builder (sender side) and a Processor (receiver side), plus the
// table mapping header element names to action ids. Custom actions use ids
// at or above CustomActionBase.
//
// Failures surface as *SecurityError values carrying a code from the
// WS-Security fault taxonomy.
package wss
