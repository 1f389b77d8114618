// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package wss

import (
	"encoding/base64"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-wss/pkg/saml"
	"github.com/sirosfoundation/go-wss/pkg/xmlsec"
	"pgregory.net/rapid"
)

func TestProcessMissingHeader(t *testing.T) {
	results, _, err := receive(t, testEnvelope, receiverData(t))
	require.NoError(t, err)
	assert.Empty(t, results)

	results, _, err = receive(t, testEnvelope11, receiverData(t))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestProcessOtherActor(t *testing.T) {
	rd := senderData(t)
	rd.Actor = "urn:example:gateway"
	msg := secure(t, []Action{Timestamp}, rd)

	results, _, err := receive(t, msg, receiverData(t))
	require.NoError(t, err)
	assert.Empty(t, results)

	recv := receiverData(t)
	recv.Actor = "urn:example:gateway"
	results, _, err = receive(t, msg, recv)
	require.NoError(t, err)
	assert.Equal(t, []Action{Timestamp}, actionsOf(results))
}

func TestProcessWithoutRequestData(t *testing.T) {
	results, err := ProcessHeader(parseDoc(t, testEnvelope), nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	msg := secure(t, []Action{Timestamp}, senderData(t))
	results, err = ProcessHeader(parseDoc(t, msg), nil)
	require.NoError(t, err)
	assert.Equal(t, []Action{Timestamp}, actionsOf(results))
}

func TestProcessRejectsNonEnvelope(t *testing.T) {
	_, _, err := receive(t, `<Ping/>`, receiverData(t))
	requireCode(t, err, InvalidSecurity)
}

func TestProcessMultipleSecurityHeaders(t *testing.T) {
	msg := secure(t, []Action{Timestamp}, senderData(t))
	doc := parseDoc(t, msg)
	sec := doc.FindElement("//Security")
	sec.Parent().AddChild(sec.Copy())

	_, err := ProcessHeader(doc, receiverData(t))
	requireCode(t, err, InvalidSecurity)
}

func TestUsernameTokenRoundTrip(t *testing.T) {
	for _, pwType := range []string{PasswordDigest, PasswordText} {
		t.Run(pwType[strings.Index(pwType, "#")+1:], func(t *testing.T) {
			rd := senderData(t)
			rd.PasswordType = pwType
			msg := secure(t, []Action{UsernameToken}, rd)

			results, _, err := receive(t, msg, receiverData(t))
			require.NoError(t, err)
			require.Equal(t, []Action{UsernameToken}, actionsOf(results))
			p, ok := results[0].Principal().(*UsernameTokenPrincipal)
			require.True(t, ok)
			assert.Equal(t, "alice", p.Username)
			assert.Equal(t, pwType, p.PasswordType)
			assert.NotEmpty(t, results[0].ID())
		})
	}
}

func TestUsernameTokenEncodedPasswords(t *testing.T) {
	cfg := NewConfig()
	cfg.PasswordsAreEncoded = true
	encoded := PasswordMap{"alice": encodePassword("alice-secret")}

	for _, pwType := range []string{PasswordDigest, PasswordText} {
		rd := senderData(t)
		rd.PasswordType = pwType
		if pwType == PasswordDigest {
			rd.Config = cfg
			rd.Callback = encoded
		}
		msg := secure(t, []Action{UsernameToken}, rd)

		recv := receiverData(t)
		recv.Config = cfg
		recv.Callback = encoded
		results, _, err := receive(t, msg, recv)
		require.NoError(t, err, pwType)
		assert.Equal(t, []Action{UsernameToken}, actionsOf(results))
	}
}

func TestUsernameTokenAuthenticationFailuresLookAlike(t *testing.T) {
	rd := senderData(t)
	msg := secure(t, []Action{UsernameToken}, rd)

	wrong := receiverData(t)
	wrong.Callback = PasswordMap{"alice": "not-the-password"}
	_, _, errWrong := receive(t, msg, wrong)
	requireCode(t, errWrong, FailedAuthentication)

	unknown := receiverData(t)
	unknown.Callback = PasswordMap{}
	_, _, errUnknown := receive(t, msg, unknown)
	requireCode(t, errUnknown, FailedAuthentication)

	failing := receiverData(t)
	failing.Callback = CallbackFunc(func([]*Callback) error { return errors.New("directory unavailable") })
	_, _, errFailing := receive(t, msg, failing)
	requireCode(t, errFailing, FailedAuthentication)

	assert.Equal(t, errWrong.Error(), errUnknown.Error())
	assert.Equal(t, errWrong.Error(), errFailing.Error())
	assert.NotContains(t, errWrong.Error(), "alice")
}

func TestUsernameTokenWithoutPassword(t *testing.T) {
	rd := senderData(t)
	rd.PasswordType = PasswordNone
	msg := secure(t, []Action{UsernameToken}, rd)

	_, _, err := receive(t, msg, receiverData(t))
	requireCode(t, err, FailedAuthentication)

	cfg := NewConfig()
	cfg.AllowUsernameTokenNoPassword = true
	recv := receiverData(t)
	recv.Config = cfg
	results, _, err := receive(t, msg, recv)
	require.NoError(t, err)
	assert.Equal(t, "alice", results[0].Principal().Name())
}

func customPasswordMessage(t *testing.T, qualified bool) string {
	rd := senderData(t)
	rd.PasswordType = PasswordText
	doc := parseDoc(t, secure(t, []Action{UsernameToken}, rd))
	pw := doc.FindElement("//Password")
	pw.RemoveAttr("Type")
	if qualified {
		pw.CreateAttr("wsse:Type", "urn:example:otp")
	} else {
		pw.CreateAttr("Type", "urn:example:otp")
	}
	pw.SetText("123456")
	return serialize(t, doc)
}

func TestUsernameTokenCustomPasswordType(t *testing.T) {
	msg := customPasswordMessage(t, false)

	_, _, err := receive(t, msg, receiverData(t))
	requireCode(t, err, FailedAuthentication)

	cfg := NewConfig()
	cfg.HandleCustomPasswordTypes = true
	var seen *Callback
	recv := receiverData(t)
	recv.Config = cfg
	recv.Callback = CallbackFunc(func(cbs []*Callback) error {
		seen = cbs[0]
		if cbs[0].Password != "123456" {
			return errors.New("bad otp")
		}
		return nil
	})
	results, _, err := receive(t, msg, recv)
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, UsageUsernameTokenUnknown, seen.Usage)
	assert.Equal(t, "urn:example:otp", seen.PasswordType)
	assert.Equal(t, "urn:example:otp", results[0].Principal().(*UsernameTokenPrincipal).PasswordType)

	recv.Callback = CallbackFunc(func([]*Callback) error { return errors.New("bad otp") })
	_, _, err = receive(t, msg, recv)
	requireCode(t, err, FailedAuthentication)
}

func TestUsernameTokenQualifiedPasswordType(t *testing.T) {
	msg := customPasswordMessage(t, true)
	cfg := NewConfig()
	cfg.HandleCustomPasswordTypes = true
	accept := CallbackFunc(func(cbs []*Callback) error { return nil })

	// without the option the qualified attribute is ignored and the
	// password is taken as clear text
	recv := receiverData(t)
	recv.Config = cfg
	recv.Callback = accept
	_, _, err := receive(t, msg, recv)
	requireCode(t, err, FailedAuthentication)

	cfg.AllowNamespaceQualifiedPasswordTypes = true
	results, _, err := receive(t, msg, recv)
	require.NoError(t, err)
	assert.Equal(t, []Action{UsernameToken}, actionsOf(results))
}

func TestUsernameTokenNonceReplay(t *testing.T) {
	msg := secure(t, []Action{UsernameToken}, senderData(t))
	recv := receiverData(t)
	recv.ReplayCache = &memReplay{}

	_, _, err := receive(t, msg, recv)
	require.NoError(t, err)
	_, _, err = receive(t, msg, recv)
	requireCode(t, err, InvalidSecurity)
}

func TestTimestampRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rd := senderData(t)
	rd.Now = func() time.Time { return now }
	msg := secure(t, []Action{Timestamp}, rd)

	recv := receiverData(t)
	recv.Now = func() time.Time { return now.Add(time.Minute) }
	results, _, err := receive(t, msg, recv)
	require.NoError(t, err)
	require.Equal(t, []Action{Timestamp}, actionsOf(results))
	ts := results[0].Timestamp()
	require.NotNil(t, ts)
	assert.True(t, now.Equal(ts.Created))
	assert.True(t, now.Add(5*time.Minute).Equal(ts.Expires))

	recv.Now = func() time.Time { return now.Add(5 * time.Minute) }
	_, _, err = receive(t, msg, recv)
	requireCode(t, err, MessageExpired)
	assert.ErrorIs(t, err, ErrMessageExpired)
}

func TestTimestampWithoutExpires(t *testing.T) {
	rd := senderData(t)
	rd.TimeToLive = 0
	msg := secure(t, []Action{Timestamp}, rd)

	recv := receiverData(t)
	recv.Now = func() time.Time { return time.Now().Add(24 * 365 * time.Hour) }
	results, _, err := receive(t, msg, recv)
	require.NoError(t, err)
	assert.False(t, results[0].Timestamp().HasExpires())
}

func TestTimestampNegativeTTL(t *testing.T) {
	rd := senderData(t)
	rd.TimeToLive = -time.Second
	msg := secure(t, []Action{Timestamp}, rd)

	_, _, err := receive(t, msg, receiverData(t))
	requireCode(t, err, MessageExpired)
}

func TestTimestampRejects(t *testing.T) {
	msg := secure(t, []Action{Timestamp, Timestamp}, senderData(t))
	_, _, err := receive(t, msg, receiverData(t))
	requireCode(t, err, InvalidSecurity)

	doc := parseDoc(t, secure(t, []Action{Timestamp}, senderData(t)))
	doc.FindElement("//Created").SetText("yesterday")
	_, _, err = receive(t, serialize(t, doc), receiverData(t))
	requireCode(t, err, InvalidSecurity)
}

func TestSignatureKeyIdentifiers(t *testing.T) {
	testCases := []struct {
		name string
		kid  KeyIdentifier
	}{
		{"default", KeyIDDefault},
		{"direct reference", DirectReference},
		{"issuer serial", IssuerSerial},
		{"x509 key identifier", X509KeyIdentifier},
		{"ski", SKIKeyIdentifier},
		{"thumbprint", Thumbprint},
		{"key name", KeyName},
		{"embedded certificate", EmbeddedCertificate},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rd := senderData(t)
			rd.SigKeyIdentifier = tc.kid
			msg := secure(t, []Action{Timestamp, Signature}, rd)

			results, _, err := receive(t, msg, receiverData(t))
			require.NoError(t, err)
			require.Equal(t, []Action{Timestamp, Signature}, actionsOf(results))

			sig := results[1]
			assert.True(t, testCrypto(t).cert("alice").Equal(sig.Certificate()))
			assert.Equal(t, sig.Certificate().Subject.String(), sig.Principal().Name())
			refs := sig.DataRefs()
			require.Len(t, refs, 2)
			assert.Equal(t, xmlName(NSSOAP12, "Body"), refs[0].Name)
			assert.Equal(t, xmlName(NSSecurityUtil, "Timestamp"), refs[1].Name)
		})
	}
}

func TestSignatureExplicitParts(t *testing.T) {
	rd := senderData(t)
	rd.SignatureParts = []Part{{Name: xmlName("urn:example:ping", "Ping")}}
	msg := secure(t, []Action{Signature}, rd)

	results, _, err := receive(t, msg, receiverData(t))
	require.NoError(t, err)
	refs := results[0].DataRefs()
	require.Len(t, refs, 1)
	assert.Equal(t, "Ping", refs[0].Name.Local)
}

func TestSignatureTamperedBody(t *testing.T) {
	msg := secure(t, []Action{Timestamp, Signature}, senderData(t))
	doc := parseDoc(t, msg)
	doc.FindElement("//Ping").SetText("goodbye")

	_, err := ProcessHeader(doc, receiverData(t))
	requireCode(t, err, FailedCheck)
	assert.ErrorIs(t, err, ErrFailedCheck)
}

func TestSignatureTamperedValue(t *testing.T) {
	doc := parseDoc(t, secure(t, []Action{Signature}, senderData(t)))
	sv := doc.FindElement("//SignatureValue")
	raw, err := base64.StdEncoding.DecodeString(sv.Text())
	require.NoError(t, err)
	raw[0] ^= 0xff
	sv.SetText(base64.StdEncoding.EncodeToString(raw))

	_, err = ProcessHeader(doc, receiverData(t))
	requireCode(t, err, FailedCheck)
}

func TestSignatureUnknownCertificate(t *testing.T) {
	msg := secure(t, []Action{Signature}, senderData(t))
	recv := receiverData(t)
	recv.SigCrypto = nil
	_, _, err := receive(t, msg, recv)
	requireCode(t, err, SecurityTokenUnavailable)
}

func TestSignatureUnsupportedAlgorithm(t *testing.T) {
	doc := parseDoc(t, secure(t, []Action{Signature}, senderData(t)))
	doc.FindElement("//SignatureMethod").CreateAttr("Algorithm", "http://www.w3.org/2000/09/xmldsig#dsa-sha1")

	_, err := ProcessHeader(doc, receiverData(t))
	requireCode(t, err, UnsupportedAlgorithm)
}

func TestSignatureDuplicateID(t *testing.T) {
	doc := parseDoc(t, secure(t, []Action{Signature}, senderData(t)))
	body := doc.FindElement("//Body")
	ping := doc.FindElement("//Ping")
	ping.CreateAttr("xmlns:wsu", NSSecurityUtil)
	ping.CreateAttr("wsu:Id", elementID(body))

	_, err := ProcessHeader(doc, receiverData(t))
	requireCode(t, err, InvalidSecurity)
}

func TestSignatureReplay(t *testing.T) {
	msg := secure(t, []Action{Signature}, senderData(t))
	recv := receiverData(t)
	recv.ReplayCache = &memReplay{}

	_, _, err := receive(t, msg, recv)
	require.NoError(t, err)
	_, _, err = receive(t, msg, recv)
	requireCode(t, err, InvalidSecurity)
}

func TestEncryptRoundTrip(t *testing.T) {
	for _, kid := range []KeyIdentifier{KeyIDDefault, DirectReference, SKIKeyIdentifier, Thumbprint, KeyName} {
		t.Run(kid.String(), func(t *testing.T) {
			rd := senderData(t)
			rd.EncKeyIdentifier = kid
			msg := secure(t, []Action{Encrypt}, rd)
			assert.NotContains(t, msg, "hello")

			results, doc, err := receive(t, msg, receiverData(t))
			require.NoError(t, err)
			require.Equal(t, []Action{Encrypt}, actionsOf(results))
			assert.Equal(t, "hello", pingText(doc))

			enc := results[0]
			assert.Len(t, enc.DecryptedKey(), 16)
			assert.True(t, testCrypto(t).cert("bob").Equal(enc.Certificate()))
			refs := enc.DataRefs()
			require.Len(t, refs, 1)
			assert.True(t, refs[0].Content)
			assert.Equal(t, xmlName(NSSOAP12, "Body"), refs[0].Name)
		})
	}
}

func TestEncryptElementPart(t *testing.T) {
	rd := senderData(t)
	rd.EncryptionParts = []Part{{Name: xmlName("urn:example:ping", "Ping"), Mode: PartElement}}
	msg := secure(t, []Action{Encrypt}, rd)

	results, doc, err := receive(t, msg, receiverData(t))
	require.NoError(t, err)
	assert.Equal(t, "hello", pingText(doc))
	refs := results[0].DataRefs()
	require.Len(t, refs, 1)
	assert.False(t, refs[0].Content)
	assert.Equal(t, "Ping", refs[0].Name.Local)
}

func TestEncryptFailures(t *testing.T) {
	t.Run("tampered ciphertext", func(t *testing.T) {
		doc := parseDoc(t, secure(t, []Action{Encrypt}, senderData(t)))
		cv := doc.FindElement("//Body/EncryptedData/CipherData/CipherValue")
		require.NotNil(t, cv)
		raw, err := base64.StdEncoding.DecodeString(cv.Text())
		require.NoError(t, err)
		raw[len(raw)-1] ^= 0x01
		cv.SetText(base64.StdEncoding.EncodeToString(raw))

		_, err = ProcessHeader(doc, receiverData(t))
		requireCode(t, err, FailedCheck)
	})

	t.Run("missing encrypted data", func(t *testing.T) {
		doc := parseDoc(t, secure(t, []Action{Encrypt}, senderData(t)))
		ed := doc.FindElement("//Body/EncryptedData")
		ed.Parent().RemoveChild(ed)

		_, err := ProcessHeader(doc, receiverData(t))
		requireCode(t, err, InvalidSecurity)
	})

	t.Run("wrong private key password", func(t *testing.T) {
		msg := secure(t, []Action{Encrypt}, senderData(t))
		recv := receiverData(t)
		recv.Callback = PasswordMap{"bob": "guess"}
		_, _, err := receive(t, msg, recv)
		requireCode(t, err, FailedCheck)
	})

	t.Run("unsupported content algorithm", func(t *testing.T) {
		doc := parseDoc(t, secure(t, []Action{Encrypt}, senderData(t)))
		doc.FindElement("//Body/EncryptedData/EncryptionMethod").
			CreateAttr("Algorithm", "http://www.w3.org/2001/04/xmlenc#aes128-cbc")
		_, err := ProcessHeader(doc, receiverData(t))
		requireCode(t, err, UnsupportedAlgorithm)
	})

	t.Run("unknown recipient", func(t *testing.T) {
		msg := secure(t, []Action{Encrypt}, senderData(t))
		recv := receiverData(t)
		recv.DecCrypto = nil
		_, _, err := receive(t, msg, recv)
		requireCode(t, err, SecurityTokenUnavailable)
	})
}

func TestSignThenEncrypt(t *testing.T) {
	msg := secure(t, []Action{Timestamp, Signature, Encrypt}, senderData(t))
	assert.NotContains(t, msg, "hello")

	results, doc, err := receive(t, msg, receiverData(t))
	require.NoError(t, err)
	assert.Equal(t, []Action{Timestamp, Signature, Encrypt}, actionsOf(results))
	assert.True(t, CheckReceiverResults([]Action{Timestamp, Signature, Encrypt}, results))
	assert.Equal(t, "hello", pingText(doc))
}

func TestEncryptThenSign(t *testing.T) {
	msg := secure(t, []Action{Timestamp, Encrypt, Signature}, senderData(t))

	results, doc, err := receive(t, msg, receiverData(t))
	require.NoError(t, err)
	assert.Equal(t, []Action{Timestamp, Encrypt, Signature}, actionsOf(results))
	assert.False(t, CheckReceiverResults([]Action{Timestamp, Signature, Encrypt}, results))
	assert.True(t, CheckReceiverResultsAnyOrder([]Action{Timestamp, Signature, Encrypt}, results))
	assert.Equal(t, "hello", pingText(doc))
}

func TestSignWithEncryptedKey(t *testing.T) {
	rd := senderData(t)
	rd.SigKeyIdentifier = EncryptedKeyReference
	msg := secure(t, []Action{Encrypt, Signature}, rd)

	results, _, err := receive(t, msg, receiverData(t))
	require.NoError(t, err)
	require.Equal(t, []Action{Encrypt, Signature}, actionsOf(results))
	assert.Equal(t, results[0].DecryptedKey(), results[1].Secret())
	assert.Nil(t, results[1].Certificate())
}

func TestEncryptWithEncryptedKeyReference(t *testing.T) {
	rd := senderData(t)
	msg := func() string {
		doc := parseDoc(t, testEnvelope)
		_, err := ApplyActions([]Action{Encrypt}, doc, rd)
		require.NoError(t, err)
		rd.EncKeyIdentifier = EncryptedKeyReference
		rd.EncryptionParts = []Part{{Name: xmlName(NSSecurityUtil, "Timestamp"), Mode: PartContent}}
		_, err = ApplyActions([]Action{Timestamp, Encrypt}, doc, rd)
		require.NoError(t, err)
		return serialize(t, doc)
	}()

	results, _, err := receive(t, msg, receiverData(t))
	require.NoError(t, err)
	require.Equal(t, []Action{Encrypt, Timestamp, Encrypt}, actionsOf(results))
	assert.Equal(t, "Timestamp", results[2].DataRefs()[0].Name.Local)
}

func securityContextSender(t *testing.T) *RequestData {
	rd := senderData(t)
	rd.Set(ContextSecurityContextID, "urn:example:ctx")
	rd.SigKeyIdentifier = SecurityContextKey
	rd.EncKeyIdentifier = SecurityContextKey
	return rd
}

func TestSecurityContextRoundTrip(t *testing.T) {
	msg := secure(t, []Action{SecurityContextToken, Timestamp, Signature, Encrypt}, securityContextSender(t))

	results, doc, err := receive(t, msg, receiverData(t))
	require.NoError(t, err)
	require.Equal(t, []Action{SecurityContextToken, Timestamp, Signature, Encrypt}, actionsOf(results))
	assert.Equal(t, "hello", pingText(doc))

	sct := results[0]
	v, _ := sct.Get(TagSecurityContextID)
	assert.Equal(t, "urn:example:ctx", v)
	assert.Equal(t, []byte(testPasswords["urn:example:ctx"]), sct.Secret())
	assert.Len(t, results[2].Secret(), DefaultSecretKeyLength)
}

func TestSecurityContextUnknown(t *testing.T) {
	msg := secure(t, []Action{SecurityContextToken, Signature}, securityContextSender(t))
	recv := receiverData(t)
	recv.Callback = PasswordMap{}
	_, _, err := receive(t, msg, recv)
	requireCode(t, err, SecurityTokenUnavailable)
}

func TestSecurityContextWrongSecret(t *testing.T) {
	msg := secure(t, []Action{SecurityContextToken, Signature}, securityContextSender(t))
	recv := receiverData(t)
	recv.Callback = PasswordMap{"urn:example:ctx": testPasswords["urn:example:ctx2"]}
	_, _, err := receive(t, msg, recv)
	requireCode(t, err, FailedCheck)
}

func TestDerivedKeyTokenTampered(t *testing.T) {
	tamper := CustomActionBase + 11
	cfg := NewConfig()
	cfg.RegisterAction(tamper, BuilderFunc(func(h *SecurityHeader, rd *RequestData) error {
		nonce := h.Security.FindElement(".//DerivedKeyToken/Nonce")
		if nonce == nil {
			return errors.New("no DerivedKeyToken")
		}
		nonce.SetText(base64.StdEncoding.EncodeToString([]byte("a different nonce")))
		return nil
	}), nil)

	rd := securityContextSender(t)
	rd.Config = cfg
	msg := secure(t, []Action{SecurityContextToken, Signature, tamper}, rd)

	_, _, err := receive(t, msg, receiverData(t))
	requireCode(t, err, FailedCheck)
}

func TestDerivedKeyTokenTamperedInEncryptedData(t *testing.T) {
	msg := secure(t, []Action{SecurityContextToken, Encrypt}, securityContextSender(t))

	doc := parseDoc(t, msg)
	nonce := doc.FindElement("//EncryptedData//DerivedKeyToken/Nonce")
	require.NotNil(t, nonce)
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(nonce.Text()))
	require.NoError(t, err)
	raw[0] ^= 1
	nonce.SetText(base64.StdEncoding.EncodeToString(raw))

	_, err = ProcessHeader(doc, receiverData(t))
	requireCode(t, err, FailedCheck)
}

func TestUsernameTokenSignatureRoundTrip(t *testing.T) {
	msg := secure(t, []Action{Timestamp, UsernameTokenSignature}, senderData(t))

	results, _, err := receive(t, msg, receiverData(t))
	require.NoError(t, err)
	require.Equal(t, []Action{Timestamp, UsernameTokenSignature}, actionsOf(results))
	p, ok := results[1].Principal().(*UsernameTokenPrincipal)
	require.True(t, ok)
	assert.Equal(t, "alice", p.Username)
	assert.True(t, p.Derived)
	assert.Len(t, results[1].Secret(), DefaultSecretKeyLength)
}

func TestUsernameTokenSignatureFailures(t *testing.T) {
	msg := secure(t, []Action{UsernameTokenSignature}, senderData(t))

	unknown := receiverData(t)
	unknown.Callback = PasswordMap{}
	_, _, err := receive(t, msg, unknown)
	requireCode(t, err, FailedAuthentication)

	wrong := receiverData(t)
	wrong.Callback = PasswordMap{"alice": "not-the-password"}
	_, _, err = receive(t, msg, wrong)
	requireCode(t, err, FailedCheck)

	doc := parseDoc(t, msg)
	doc.FindElement("//Iteration").SetText("10")
	_, err = ProcessHeader(doc, receiverData(t))
	requireCode(t, err, InvalidSecurityToken)
}

func TestUsernameTokenSignatureSaltUsage(t *testing.T) {
	msg := secure(t, []Action{UsernameTokenSignature}, senderData(t))

	doc := parseDoc(t, msg)
	saltEl := doc.FindElement("//UsernameToken/Salt")
	require.NotNil(t, saltEl)
	salt, err := base64.StdEncoding.DecodeString(strings.TrimSpace(saltEl.Text()))
	require.NoError(t, err)
	assert.Equal(t, xmlsec.SaltPrefixMAC, salt[0])

	// an encryption key must not verify a signature
	salt[0] = xmlsec.SaltPrefixEncryption
	saltEl.SetText(base64.StdEncoding.EncodeToString(salt))
	_, err = ProcessHeader(doc, receiverData(t))
	requireCode(t, err, InvalidSecurityToken)
}

func testAssertion(opts ...saml.Option) *saml.Assertion {
	now := time.Now().UTC()
	opts = append([]saml.Option{saml.WithValidity(now.Add(-time.Minute), now.Add(time.Hour))}, opts...)
	return saml.NewAssertion("https://idp.example.org", "alice@example.org", opts...)
}

func TestSAMLUnsigned(t *testing.T) {
	rd := senderData(t)
	rd.SAMLAssertion = testAssertion(saml.WithAttribute("role", "operator"))
	msg := secure(t, []Action{SAMLTokenUnsigned}, rd)

	results, _, err := receive(t, msg, receiverData(t))
	require.NoError(t, err)
	require.Equal(t, []Action{SAMLTokenUnsigned}, actionsOf(results))
	a := results[0].Assertion()
	require.NotNil(t, a)
	assert.Equal(t, rd.SAMLAssertion.ID, a.ID)
	assert.Equal(t, []string{"operator"}, a.Attribute("role"))
	assert.Equal(t, "alice@example.org", results[0].Principal().Name())
}

func TestSAMLSigned(t *testing.T) {
	rd := senderData(t)
	rd.SAMLAssertion = testAssertion()
	msg := secure(t, []Action{SAMLTokenSigned, Timestamp, Signature}, rd)

	results, _, err := receive(t, msg, receiverData(t))
	require.NoError(t, err)
	require.Equal(t, []Action{SAMLTokenSigned, Timestamp, Signature}, actionsOf(results))
	assert.True(t, testCrypto(t).cert("alice").Equal(results[0].Certificate()))
	assert.NotNil(t, results[0].Assertion())

	doc := parseDoc(t, msg)
	doc.FindElement("//Assertion/Subject/NameID").SetText("mallory@example.org")
	_, err = ProcessHeader(doc, receiverData(t))
	requireCode(t, err, FailedCheck)
}

func TestSAMLValidity(t *testing.T) {
	now := time.Now().UTC()

	rd := senderData(t)
	rd.SAMLAssertion = saml.NewAssertion("issuer", "alice", saml.WithValidity(now.Add(-2*time.Hour), now.Add(-time.Hour)))
	_, _, err := receive(t, secure(t, []Action{SAMLTokenUnsigned}, rd), receiverData(t))
	requireCode(t, err, MessageExpired)

	rd.SAMLAssertion = saml.NewAssertion("issuer", "alice", saml.WithValidity(now.Add(time.Hour), now.Add(2*time.Hour)))
	_, _, err = receive(t, secure(t, []Action{SAMLTokenUnsigned}, rd), receiverData(t))
	requireCode(t, err, InvalidSecurityToken)
}

const markerNS = "urn:example:marker"

func markerConfig(custom Action, processErr error) *Config {
	cfg := NewConfig()
	cfg.RegisterAction(custom,
		BuilderFunc(func(h *SecurityHeader, rd *RequestData) error {
			m := etree.NewElement("mk:Marker")
			m.CreateAttr("xmlns:mk", markerNS)
			m.SetText("stamp")
			h.Append(m)
			return nil
		}),
		ProcessorFunc(func(el *etree.Element, pc *ProcessContext) (*Result, error) {
			if processErr != nil {
				return nil, processErr
			}
			return NewResult(custom, map[Tag]any{TagCustom: el.Text()}), nil
		}))
	cfg.RegisterToken(xmlName(markerNS, "Marker"), custom)
	return cfg
}

func TestCustomActionRoundTrip(t *testing.T) {
	custom := CustomActionBase + 1
	cfg := markerConfig(custom, nil)
	rd := senderData(t)
	rd.Config = cfg
	msg := secure(t, []Action{Timestamp, custom}, rd)

	recv := receiverData(t)
	recv.Config = cfg
	results, _, err := receive(t, msg, recv)
	require.NoError(t, err)
	require.True(t, CheckReceiverResults([]Action{Timestamp, custom}, results))
	v, _ := results[1].Get(TagCustom)
	assert.Equal(t, "stamp", v)

	// the default registry does not know the token
	_, _, err = receive(t, msg, receiverData(t))
	requireCode(t, err, InvalidSecurity)
}

func TestCustomProcessorErrorIsWrapped(t *testing.T) {
	custom := CustomActionBase + 2
	cfg := markerConfig(custom, errors.New("marker store offline"))
	rd := senderData(t)
	rd.Config = cfg
	msg := secure(t, []Action{custom}, rd)

	recv := receiverData(t)
	recv.Config = cfg
	_, _, err := receive(t, msg, recv)
	requireCode(t, err, InvalidSecurity)
	assert.NotContains(t, err.Error(), "offline")
}

func TestUnknownTokens(t *testing.T) {
	doc := parseDoc(t, secure(t, []Action{Timestamp}, senderData(t)))
	other := doc.FindElement("//Security").CreateElement("x:Other")
	other.CreateAttr("xmlns:x", "urn:example:other")
	msg := serialize(t, doc)

	_, _, err := receive(t, msg, receiverData(t))
	requireCode(t, err, InvalidSecurity)

	cfg := NewConfig()
	cfg.IgnoreUnknownTokens = true
	recv := receiverData(t)
	recv.Config = cfg
	results, _, err := receive(t, msg, recv)
	require.NoError(t, err)
	assert.Equal(t, []Action{Timestamp}, actionsOf(results))
}

func TestEngineUsesItsConfig(t *testing.T) {
	custom := CustomActionBase + 3
	cfg := markerConfig(custom, nil)
	rd := senderData(t)
	rd.Config = cfg
	msg := secure(t, []Action{custom}, rd)

	results, err := NewEngine(cfg).ProcessSecurityHeader(parseDoc(t, msg), receiverData(t))
	require.NoError(t, err)
	assert.Equal(t, []Action{custom}, actionsOf(results))
}

// Every ordering of distinct actions comes back from the receiver in the
// order the sender applied them. A second Timestamp is rejected by the
// receiver, so actions are drawn without repetition.
func TestRoundTripPreservesActionOrder(t *testing.T) {
	pool := []Action{UsernameToken, Timestamp, Signature, Encrypt, SAMLTokenUnsigned}

	rapid.Check(t, func(rt *rapid.T) {
		actions := rapid.SliceOfNDistinct(rapid.SampledFrom(pool), 1, -1, rapid.ID[Action]).Draw(rt, "actions")

		rd := senderData(t)
		rd.SAMLAssertion = testAssertion()
		out, err := ApplyActions(actions, parseDoc(t, testEnvelope), rd)
		if err != nil {
			rt.Fatalf("applying %v: %v", actions, err)
		}

		doc := parseDoc(t, serialize(t, out))
		results, err := ProcessHeader(doc, receiverData(t))
		if err != nil {
			rt.Fatalf("processing %v: %v", actions, err)
		}
		if got := actionsOf(results); !slices.Equal(got, actions) {
			rt.Fatalf("results %v, applied %v", got, actions)
		}
		if text := pingText(doc); text != "hello" {
			rt.Fatalf("body after processing %v: %q", actions, text)
		}
	})
}

func TestDuplicateTimestampRejected(t *testing.T) {
	msg := secure(t, []Action{Timestamp, Timestamp}, senderData(t))
	_, _, err := receive(t, msg, receiverData(t))
	requireCode(t, err, InvalidSecurity)
}
