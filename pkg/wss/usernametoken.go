// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package wss

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/sirosfoundation/go-wss/pkg/xmlsec"
)

const timeFormat = "2006-01-02T15:04:05.000Z"

// minIterations is the lowest iteration count accepted for UsernameToken
// key derivation.
const minIterations = 1000

type usernameTokenBuilder struct{}

func (b *usernameTokenBuilder) Build(h *SecurityHeader, rd *RequestData) error {
	if rd.Username == "" {
		return errors.New("no username configured")
	}
	ut := newUsernameToken(rd.Username)

	if rd.PasswordType != PasswordNone {
		cb, err := rd.callback(UsageUsernameToken, rd.Username)
		if err != nil {
			return fmt.Errorf("password callback failed: %w", err)
		}
		if cb.Password == "" {
			return fmt.Errorf("no password available for %q", rd.Username)
		}

		pw := ut.CreateElement("wsse:Password")
		pw.CreateAttr("Type", rd.PasswordType)
		if rd.PasswordType == PasswordDigest {
			nonce, err := xmlsec.GenerateKey(16)
			if err != nil {
				return err
			}
			created := rd.now().UTC().Format(timeFormat)
			secret, err := passwordBytes(cb.Password, rd.config().PasswordsAreEncoded)
			if err != nil {
				return err
			}
			pw.SetText(passwordDigest(nonce, created, secret))
			n := ut.CreateElement("wsse:Nonce")
			n.CreateAttr("EncodingType", EncodingBase64)
			n.SetText(base64.StdEncoding.EncodeToString(nonce))
			ut.CreateElement("wsu:Created").SetText(created)
		} else {
			pw.SetText(cb.Password)
		}
	}
	h.Append(ut)
	return nil
}

func newUsernameToken(username string) *etree.Element {
	ut := etree.NewElement("wsse:UsernameToken")
	ut.CreateAttr("xmlns:wsse", NSSecurityExt)
	ensureID(ut, "UsernameToken-")
	ut.CreateElement("wsse:Username").SetText(username)
	return ut
}

// newDerivedKeyUsernameToken creates a UsernameToken carrying the salt and
// iteration count of a key derived from the user's password.
func newDerivedKeyUsernameToken(rd *RequestData, prefix byte) (*etree.Element, []byte, error) {
	if rd.Username == "" {
		return nil, nil, errors.New("no username configured")
	}
	cb, err := rd.callback(UsageUsernameToken, rd.Username)
	if err != nil {
		return nil, nil, fmt.Errorf("password callback failed: %w", err)
	}
	if cb.Password == "" {
		return nil, nil, fmt.Errorf("no password available for %q", rd.Username)
	}
	salt, err := xmlsec.GenerateKey(16)
	if err != nil {
		return nil, nil, err
	}
	salt[0] = prefix
	iterations := rd.iterations()
	key := xmlsec.DeriveUsernameTokenKey(cb.Password, salt, iterations, rd.config().secretKeyLength())

	ut := newUsernameToken(rd.Username)
	ut.CreateAttr("xmlns:wsse11", NSSecurityExt11)
	ut.CreateElement("wsse11:Salt").SetText(base64.StdEncoding.EncodeToString(salt))
	ut.CreateElement("wsse11:Iteration").SetText(strconv.Itoa(iterations))
	return ut, key, nil
}

// passwordDigest computes Base64(SHA-1(nonce + created + password)).
func passwordDigest(nonce []byte, created string, password []byte) string {
	h := sha1.New()
	h.Write(nonce)
	h.Write([]byte(created))
	h.Write(password)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// passwordBytes returns the secret a digest is computed over. Encoded
// passwords are Base64(SHA-1(password)) and are digested in decoded form.
func passwordBytes(password string, encoded bool) ([]byte, error) {
	if !encoded {
		return []byte(password), nil
	}
	b, err := base64.StdEncoding.DecodeString(password)
	if err != nil {
		return nil, errors.New("encoded password is not base64")
	}
	return b, nil
}

func encodePassword(password string) string {
	sum := sha1.Sum([]byte(password))
	return base64.StdEncoding.EncodeToString(sum[:])
}

type usernameTokenProcessor struct{}

// errAuthentication is the one failure every UsernameToken authentication
// problem maps to.
func errAuthentication() *SecurityError {
	return NewSecurityError(FailedAuthentication, "")
}

func (p *usernameTokenProcessor) Process(el *etree.Element, pc *ProcessContext) (*Result, error) {
	cfg := pc.config
	userEl := childNS(el, NSSecurityExt, "Username")
	if userEl == nil {
		return nil, NewSecurityError(InvalidSecurityToken, "UsernameToken without Username")
	}
	username := strings.TrimSpace(userEl.Text())

	if childNS(el, NSSecurityExt11, "Salt") != nil {
		// key carrier for a UsernameToken signature
		return nil, nil
	}

	principal := &UsernameTokenPrincipal{Username: username}
	pwEl := childNS(el, NSSecurityExt, "Password")
	if pwEl == nil {
		if !cfg.AllowUsernameTokenNoPassword {
			return nil, errAuthentication()
		}
		return p.result(el, principal), nil
	}

	pwType := passwordType(pwEl, cfg.AllowNamespaceQualifiedPasswordTypes)
	principal.PasswordType = pwType
	supplied := pwEl.Text()

	var nonce []byte
	if n := childNS(el, NSSecurityExt, "Nonce"); n != nil {
		raw := strings.TrimSpace(n.Text())
		b, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, NewSecurityError(InvalidSecurityToken, "malformed Nonce")
		}
		nonce = b
		principal.Nonce = raw
	}
	if c := childNS(el, NSSecurityUtil, "Created"); c != nil {
		principal.Created = strings.TrimSpace(c.Text())
	}
	if len(nonce) > 0 && pc.Data.ReplayCache != nil && pc.Data.ReplayCache.Seen("ut-nonce:"+principal.Nonce) {
		return nil, NewSecurityError(InvalidSecurity, "replayed UsernameToken nonce")
	}

	switch pwType {
	case PasswordDigest, PasswordText:
		cb, err := pc.Data.callback(UsageUsernameToken, username)
		if err != nil || cb.Password == "" {
			pc.Data.logger().Debug("UsernameToken rejected: no password")
			return nil, errAuthentication()
		}
		var expected, actual string
		if pwType == PasswordDigest {
			secret, err := passwordBytes(cb.Password, cfg.PasswordsAreEncoded)
			if err != nil {
				return nil, errAuthentication()
			}
			expected = passwordDigest(nonce, principal.Created, secret)
			actual = strings.TrimSpace(supplied)
		} else {
			expected = cb.Password
			actual = supplied
			if cfg.PasswordsAreEncoded {
				actual = encodePassword(supplied)
			}
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(actual)) != 1 {
			pc.Data.logger().Debug("UsernameToken rejected: password mismatch")
			return nil, errAuthentication()
		}

	default:
		if !cfg.HandleCustomPasswordTypes {
			return nil, errAuthentication()
		}
		cb := &Callback{
			Usage:        UsageUsernameTokenUnknown,
			Identifier:   username,
			PasswordType: pwType,
			Password:     supplied,
		}
		if pc.Data.Callback == nil {
			return nil, errAuthentication()
		}
		if err := pc.Data.Callback.Handle([]*Callback{cb}); err != nil {
			return nil, errAuthentication()
		}
	}
	return p.result(el, principal), nil
}

func (p *usernameTokenProcessor) result(el *etree.Element, principal *UsernameTokenPrincipal) *Result {
	return NewResult(UsernameToken, map[Tag]any{
		TagPrincipal: principal,
		TagID:        elementID(el),
	})
}

// passwordType reads the Type of a Password element. A missing type means
// clear text.
func passwordType(pw *etree.Element, allowQualified bool) string {
	t := ""
	for i := range pw.Attr {
		a := &pw.Attr[i]
		if a.Key != "Type" {
			continue
		}
		if a.Space == "" {
			return strings.TrimSpace(a.Value)
		}
		if allowQualified && a.NamespaceURI() == NSSecurityExt {
			t = strings.TrimSpace(a.Value)
		}
	}
	if t == "" {
		return PasswordText
	}
	return t
}

// usernameTokenKey derives the key of a derived-key UsernameToken referenced
// by a signature or an encryption. The first salt byte must match the
// usage. An unknown user and a wrong password are indistinguishable here; a
// wrong password shows up as a failed signature.
func (pc *ProcessContext) usernameTokenKey(ut *etree.Element, usage Usage) (*resolvedKey, error) {
	userEl := childNS(ut, NSSecurityExt, "Username")
	saltEl := childNS(ut, NSSecurityExt11, "Salt")
	iterEl := childNS(ut, NSSecurityExt11, "Iteration")
	if userEl == nil || saltEl == nil {
		return nil, NewSecurityError(InvalidSecurityToken, "UsernameToken carries no derived key")
	}
	username := strings.TrimSpace(userEl.Text())
	salt, err := base64.StdEncoding.DecodeString(strings.TrimSpace(saltEl.Text()))
	if err != nil || len(salt) == 0 {
		return nil, NewSecurityError(InvalidSecurityToken, "malformed Salt")
	}
	prefix := xmlsec.SaltPrefixMAC
	if usage == UsageDecrypt {
		prefix = xmlsec.SaltPrefixEncryption
	}
	if salt[0] != prefix {
		return nil, NewSecurityError(InvalidSecurityToken, "Salt does not match key usage")
	}
	iterations := minIterations
	if iterEl != nil {
		n, err := strconv.Atoi(strings.TrimSpace(iterEl.Text()))
		if err != nil || n < minIterations {
			return nil, NewSecurityError(InvalidSecurityToken, "iteration count too low")
		}
		iterations = n
	}

	cb, err := pc.Data.callback(UsageUsernameToken, username)
	if err != nil || cb.Password == "" {
		return nil, errAuthentication()
	}
	key := xmlsec.DeriveUsernameTokenKey(cb.Password, salt, iterations, pc.config.secretKeyLength())
	return &resolvedKey{
		secret:    key,
		derivedUT: true,
		principal: &UsernameTokenPrincipal{Username: username, Derived: true},
	}, nil
}
