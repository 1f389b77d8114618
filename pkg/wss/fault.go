// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package wss

import (
	"errors"
	"fmt"
)

// ErrorCode is a WS-Security fault code.
type ErrorCode int

// Fault codes. Receiver-side failures only use the codes from
// UnsupportedSecurityToken to MessageExpired; the remaining codes report
// local sender failures.
const (
	Failure ErrorCode = iota
	UnsupportedSecurityToken
	UnsupportedAlgorithm
	InvalidSecurity
	InvalidSecurityToken
	FailedAuthentication
	FailedCheck
	SecurityTokenUnavailable
	MessageExpired
	FailedEncryption
	FailedSignature
)

// Fault describes a fault code as it appears on the wire.
type Fault struct {
	Code      ErrorCode
	Name      string
	Namespace string
	Prefix    string
	Message   string
}

// QName returns the prefixed fault name, e.g. "wsse:FailedCheck".
func (f Fault) QName() string {
	return f.Prefix + ":" + f.Name
}

var faults = map[ErrorCode]Fault{
	Failure:                  {Failure, "Failure", NSSecurityExt, "wsse", "General security error"},
	UnsupportedSecurityToken: {UnsupportedSecurityToken, "UnsupportedSecurityToken", NSSecurityExt, "wsse", "An unsupported token was provided"},
	UnsupportedAlgorithm:     {UnsupportedAlgorithm, "UnsupportedAlgorithm", NSSecurityExt, "wsse", "An unsupported signature or encryption algorithm was used"},
	InvalidSecurity:          {InvalidSecurity, "InvalidSecurity", NSSecurityExt, "wsse", "An error was discovered processing the <wsse:Security> header"},
	InvalidSecurityToken:     {InvalidSecurityToken, "InvalidSecurityToken", NSSecurityExt, "wsse", "An invalid security token was provided"},
	FailedAuthentication:     {FailedAuthentication, "FailedAuthentication", NSSecurityExt, "wsse", "The security token could not be authenticated or authorized"},
	FailedCheck:              {FailedCheck, "FailedCheck", NSSecurityExt, "wsse", "The signature or decryption was invalid"},
	SecurityTokenUnavailable: {SecurityTokenUnavailable, "SecurityTokenUnavailable", NSSecurityExt, "wsse", "Referenced security token could not be retrieved"},
	MessageExpired:           {MessageExpired, "MessageExpired", NSSecurityUtil, "wsu", "The message has expired"},
	FailedEncryption:         {FailedEncryption, "FailedEncryption", NSSecurityExt, "wsse", "Encryption failed"},
	FailedSignature:          {FailedSignature, "FailedSignature", NSSecurityExt, "wsse", "Signature creation failed"},
}

// LookupFault returns the fault for code. Unknown codes map to Failure.
func LookupFault(code ErrorCode) Fault {
	if f, ok := faults[code]; ok {
		return f
	}
	return faults[Failure]
}

func (c ErrorCode) String() string {
	return LookupFault(c).Name
}

// SecurityError is the error type raised by the pipelines.
//
// Error() renders the fault name, the canonical message and the optional
// detail. The wrapped cause is never rendered so that it cannot reach a
// remote peer through a SOAP fault; local code reaches it with errors.Unwrap.
type SecurityError struct {
	Code   ErrorCode
	Detail string
	Err    error
}

// Sentinels for errors.Is comparisons by fault code.
var (
	ErrFailure                  = &SecurityError{Code: Failure}
	ErrUnsupportedSecurityToken = &SecurityError{Code: UnsupportedSecurityToken}
	ErrUnsupportedAlgorithm     = &SecurityError{Code: UnsupportedAlgorithm}
	ErrInvalidSecurity          = &SecurityError{Code: InvalidSecurity}
	ErrInvalidSecurityToken     = &SecurityError{Code: InvalidSecurityToken}
	ErrFailedAuthentication     = &SecurityError{Code: FailedAuthentication}
	ErrFailedCheck              = &SecurityError{Code: FailedCheck}
	ErrSecurityTokenUnavailable = &SecurityError{Code: SecurityTokenUnavailable}
	ErrMessageExpired           = &SecurityError{Code: MessageExpired}
	ErrFailedEncryption         = &SecurityError{Code: FailedEncryption}
	ErrFailedSignature          = &SecurityError{Code: FailedSignature}
)

// NewSecurityError creates a SecurityError with an optional detail.
func NewSecurityError(code ErrorCode, detail string) *SecurityError {
	return &SecurityError{Code: code, Detail: detail}
}

// WrapSecurityError creates a SecurityError that keeps err as its cause.
func WrapSecurityError(code ErrorCode, detail string, err error) *SecurityError {
	return &SecurityError{Code: code, Detail: detail, Err: err}
}

func (e *SecurityError) Error() string {
	f := LookupFault(e.Code)
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", f.QName(), f.Message)
	}
	return fmt.Sprintf("%s: %s: %s", f.QName(), f.Message, e.Detail)
}

func (e *SecurityError) Unwrap() error {
	return e.Err
}

// Is matches any SecurityError with the same code.
func (e *SecurityError) Is(target error) bool {
	t, ok := target.(*SecurityError)
	return ok && t.Code == e.Code
}

// Fault returns the fault description for the error's code.
func (e *SecurityError) Fault() Fault {
	return LookupFault(e.Code)
}

// CodeOf extracts the fault code from err.
func CodeOf(err error) (ErrorCode, bool) {
	var se *SecurityError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return Failure, false
}

// asSecurityError converts err into a SecurityError, using code when err
// does not already carry one.
func asSecurityError(err error, code ErrorCode) *SecurityError {
	var se *SecurityError
	if errors.As(err, &se) {
		return se
	}
	return WrapSecurityError(code, "", err)
}
