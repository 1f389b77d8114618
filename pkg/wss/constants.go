// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package wss

import "github.com/sirosfoundation/go-wss/pkg/xmlsec"

// Namespaces
const (
	NSSecurityExt        = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	NSSecurityExt11      = "http://docs.oasis-open.org/wss/oasis-wss-wssecurity-secext-1.1.xsd"
	NSSecurityUtil       = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"
	NSSecureConversation = "http://docs.oasis-open.org/ws-sx/ws-secureconversation/200512"
	NSSOAP11             = "http://schemas.xmlsoap.org/soap/envelope/"
	NSSOAP12             = "http://www.w3.org/2003/05/soap-envelope"
	NSXMLDSig            = xmlsec.NSXMLDSig
	NSXMLEnc             = xmlsec.NSXMLEnc
)

// Token profile URIs
const (
	profileBase = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-"

	PasswordText   = profileBase + "username-token-profile-1.0#PasswordText"
	PasswordDigest = profileBase + "username-token-profile-1.0#PasswordDigest"

	ValueTypeUsernameToken = profileBase + "username-token-profile-1.0#UsernameToken"
	ValueTypeX509v3        = profileBase + "x509-token-profile-1.0#X509v3"
	ValueTypeSKI           = profileBase + "x509-token-profile-1.0#X509SubjectKeyIdentifier"
	ValueTypeThumbprint    = "http://docs.oasis-open.org/wss/oasis-wss-soap-message-security-1.1#ThumbprintSHA1"
	ValueTypeEncryptedKey  = "http://docs.oasis-open.org/wss/oasis-wss-soap-message-security-1.1#EncryptedKey"
	ValueTypeSCT           = NSSecureConversation + "/sct"
	ValueTypeSAMLID        = "http://docs.oasis-open.org/wss/oasis-wss-saml-token-profile-1.1#SAMLID"

	EncodingBase64 = profileBase + "soap-message-security-1.0#Base64Binary"
)

// PasswordNone requests a UsernameToken without a Password element.
const PasswordNone = ""
