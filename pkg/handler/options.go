// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package handler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirosfoundation/go-wss/pkg/wss"
)

// Property names understood by LoadOptions.
const (
	PropAction                  = "action"
	PropActor                   = "actor"
	PropMustUnderstand          = "mustUnderstand"
	PropUser                    = "user"
	PropPasswordType            = "passwordType"
	PropSignatureUser           = "signatureUser"
	PropEncryptionUser          = "encryptionUser"
	PropSignatureKeyIdentifier  = "signatureKeyIdentifier"
	PropEncryptionKeyIdentifier = "encryptionKeyIdentifier"
	PropSignatureParts          = "signatureParts"
	PropEncryptionParts         = "encryptionParts"
	PropTimeToLive              = "timeToLive"
	PropFutureTimeToLive        = "futureTimeToLive"
	PropTimestampStrict         = "timestampStrict"
	PropOrderInsensitive        = "orderInsensitive"
	PropVerifyTrust             = "verifyTrust"
	PropDerivedKeyIterations    = "derivedKeyIterations"

	PropHandleCustomPasswordTypes            = "handleCustomPasswordTypes"
	PropAllowNamespaceQualifiedPasswordTypes = "allowNamespaceQualifiedPasswordTypes"
	PropPasswordsAreEncoded                  = "passwordsAreEncoded"
	PropAllowUsernameTokenNoPassword         = "allowUsernameTokenNoPassword"
	PropIgnoreUnknownTokens                  = "ignoreUnknownTokens"
)

// Defaults applied by LoadOptions and DefaultOptions.
const (
	DefaultTimeToLive       = 300 * time.Second
	DefaultFutureTimeToLive = 60 * time.Second
)

// PropertySource supplies handler configuration by name.
type PropertySource interface {
	// FirstProperty returns the first value of key, or "" when unset.
	FirstProperty(key string) string
	// Properties returns every value of key.
	Properties(key string) []string
}

// MapProperties is a PropertySource backed by a map.
type MapProperties map[string][]string

func (m MapProperties) FirstProperty(key string) string {
	if v := m[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func (m MapProperties) Properties(key string) []string {
	return m[key]
}

// Options configures a Handler.
type Options struct {
	// Actions are applied by Outbound and expected by Inbound. An empty
	// list means NoSecurity.
	Actions []wss.Action

	Actor          string
	MustUnderstand bool

	User             string
	PasswordType     string
	SignatureUser    string
	EncryptionUser   string
	SigKeyIdentifier wss.KeyIdentifier
	EncKeyIdentifier wss.KeyIdentifier
	SignatureParts   []wss.Part
	EncryptionParts  []wss.Part

	// TimeToLive is the lifetime of outgoing timestamps and the maximum
	// age of incoming ones when TimestampStrict is set.
	TimeToLive time.Duration
	// FutureTimeToLive tolerates incoming timestamps created this far in
	// the future.
	FutureTimeToLive time.Duration
	TimestampStrict  bool

	// OrderInsensitive accepts the expected actions in any order.
	OrderInsensitive bool
	// VerifyTrust validates signing certificates with the signature
	// crypto.
	VerifyTrust bool

	DerivedKeyIterations int

	HandleCustomPasswordTypes            bool
	AllowNamespaceQualifiedPasswordTypes bool
	PasswordsAreEncoded                  bool
	AllowUsernameTokenNoPassword         bool
	IgnoreUnknownTokens                  bool
}

// DefaultOptions returns the options used when a property is not set.
func DefaultOptions() Options {
	return Options{
		MustUnderstand:   true,
		PasswordType:     wss.PasswordDigest,
		TimeToLive:       DefaultTimeToLive,
		FutureTimeToLive: DefaultFutureTimeToLive,
		TimestampStrict:  true,
		VerifyTrust:      true,
	}
}

// LoadOptions reads Options from props, starting from DefaultOptions.
func LoadOptions(props PropertySource) (Options, error) {
	opts := DefaultOptions()
	var err error

	for _, v := range props.Properties(PropAction) {
		actions, err := wss.ParseActions(v)
		if err != nil {
			return opts, fmt.Errorf("%s: %w", PropAction, err)
		}
		opts.Actions = append(opts.Actions, actions...)
	}

	opts.Actor = props.FirstProperty(PropActor)
	opts.User = props.FirstProperty(PropUser)
	opts.SignatureUser = props.FirstProperty(PropSignatureUser)
	opts.EncryptionUser = props.FirstProperty(PropEncryptionUser)

	if v := props.FirstProperty(PropPasswordType); v != "" {
		opts.PasswordType = parsePasswordType(v)
	}

	if opts.SigKeyIdentifier, err = wss.ParseKeyIdentifier(props.FirstProperty(PropSignatureKeyIdentifier)); err != nil {
		return opts, fmt.Errorf("%s: %w", PropSignatureKeyIdentifier, err)
	}
	if opts.EncKeyIdentifier, err = wss.ParseKeyIdentifier(props.FirstProperty(PropEncryptionKeyIdentifier)); err != nil {
		return opts, fmt.Errorf("%s: %w", PropEncryptionKeyIdentifier, err)
	}

	if opts.SignatureParts, err = loadParts(props, PropSignatureParts); err != nil {
		return opts, err
	}
	if opts.EncryptionParts, err = loadParts(props, PropEncryptionParts); err != nil {
		return opts, err
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{PropTimeToLive, &opts.TimeToLive},
		{PropFutureTimeToLive, &opts.FutureTimeToLive},
	}
	for _, d := range durations {
		if err := loadDuration(props, d.key, d.dst); err != nil {
			return opts, err
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{PropMustUnderstand, &opts.MustUnderstand},
		{PropTimestampStrict, &opts.TimestampStrict},
		{PropOrderInsensitive, &opts.OrderInsensitive},
		{PropVerifyTrust, &opts.VerifyTrust},
		{PropHandleCustomPasswordTypes, &opts.HandleCustomPasswordTypes},
		{PropAllowNamespaceQualifiedPasswordTypes, &opts.AllowNamespaceQualifiedPasswordTypes},
		{PropPasswordsAreEncoded, &opts.PasswordsAreEncoded},
		{PropAllowUsernameTokenNoPassword, &opts.AllowUsernameTokenNoPassword},
		{PropIgnoreUnknownTokens, &opts.IgnoreUnknownTokens},
	}
	for _, b := range bools {
		if err := loadBool(props, b.key, b.dst); err != nil {
			return opts, err
		}
	}

	if v := props.FirstProperty(PropDerivedKeyIterations); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return opts, fmt.Errorf("%s: invalid iteration count %q", PropDerivedKeyIterations, v)
		}
		opts.DerivedKeyIterations = n
	}

	return opts, nil
}

// Config returns a new wss.Config carrying the password and token settings
// of o.
func (o Options) Config() *wss.Config {
	cfg := wss.NewConfig()
	cfg.HandleCustomPasswordTypes = o.HandleCustomPasswordTypes
	cfg.AllowNamespaceQualifiedPasswordTypes = o.AllowNamespaceQualifiedPasswordTypes
	cfg.PasswordsAreEncoded = o.PasswordsAreEncoded
	cfg.AllowUsernameTokenNoPassword = o.AllowUsernameTokenNoPassword
	cfg.IgnoreUnknownTokens = o.IgnoreUnknownTokens
	return cfg
}

// parsePasswordType accepts the short names PasswordText, PasswordDigest
// and PasswordNone as well as full type URIs.
func parsePasswordType(v string) string {
	switch strings.ToLower(v) {
	case "passwordtext":
		return wss.PasswordText
	case "passworddigest":
		return wss.PasswordDigest
	case "passwordnone":
		return wss.PasswordNone
	}
	return v
}

func loadParts(props PropertySource, key string) ([]wss.Part, error) {
	var parts []wss.Part
	for _, v := range props.Properties(key) {
		p, err := wss.ParseParts(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		parts = append(parts, p...)
	}
	return parts, nil
}

// loadDuration accepts whole seconds or a Go duration string.
func loadDuration(props PropertySource, key string, dst *time.Duration) error {
	v := props.FirstProperty(key)
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", key, v)
	}
	*dst = d
	return nil
}

func loadBool(props PropertySource, key string, dst *bool) error {
	v := props.FirstProperty(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	*dst = b
	return nil
}
