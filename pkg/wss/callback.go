// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package wss

// Usage tells a CallbackHandler why a secret is requested.
type Usage int

const (
	// UsageUsernameToken asks for the password of Identifier.
	UsageUsernameToken Usage = iota + 1
	// UsageUsernameTokenUnknown passes a custom password type for
	// validation. The handler rejects the token by returning an error.
	UsageUsernameTokenUnknown
	// UsageSignature asks for the private key password of Identifier.
	UsageSignature
	// UsageDecrypt asks for the private key password of Identifier.
	UsageDecrypt
	// UsageSecretKey asks for the shared secret of a security context.
	UsageSecretKey
)

func (u Usage) String() string {
	switch u {
	case UsageUsernameToken:
		return "username-token"
	case UsageUsernameTokenUnknown:
		return "username-token-unknown"
	case UsageSignature:
		return "signature"
	case UsageDecrypt:
		return "decrypt"
	case UsageSecretKey:
		return "secret-key"
	}
	return "unknown"
}

// Callback is a request for a secret. The handler fills Password or Key;
// leaving them empty declines the request.
type Callback struct {
	Usage        Usage
	Identifier   string
	PasswordType string
	Password     string
	Key          []byte
}

// CallbackHandler supplies passwords and keys to the pipelines.
type CallbackHandler interface {
	Handle(callbacks []*Callback) error
}

// CallbackFunc adapts a function to CallbackHandler.
type CallbackFunc func(callbacks []*Callback) error

func (f CallbackFunc) Handle(callbacks []*Callback) error {
	return f(callbacks)
}

// PasswordMap is a CallbackHandler backed by a static map from identifier
// to password. Secret key requests are answered with the password bytes.
type PasswordMap map[string]string

func (m PasswordMap) Handle(callbacks []*Callback) error {
	for _, cb := range callbacks {
		pw, ok := m[cb.Identifier]
		if !ok {
			continue
		}
		switch cb.Usage {
		case UsageSecretKey:
			cb.Key = []byte(pw)
		case UsageUsernameTokenUnknown:
			// validation of custom types is left to richer handlers
		default:
			cb.Password = pw
		}
	}
	return nil
}

func (rd *RequestData) callback(usage Usage, identifier string) (*Callback, error) {
	cb := &Callback{Usage: usage, Identifier: identifier}
	if rd.Callback == nil {
		return cb, nil
	}
	if err := rd.Callback.Handle([]*Callback{cb}); err != nil {
		return nil, err
	}
	return cb, nil
}
