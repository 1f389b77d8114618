// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package wss

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Action identifies a security action. Built-in actions are single bits so
// that legacy action masks stay representable; custom actions use ids at or
// above CustomActionBase.
type Action int

// Built-in actions.
const (
	NoSecurity             Action = 0
	UsernameToken          Action = 0x1
	Signature              Action = 0x2
	Encrypt                Action = 0x4
	SAMLTokenUnsigned      Action = 0x8
	SAMLTokenSigned        Action = 0x10
	Timestamp              Action = 0x20
	UsernameTokenSignature Action = 0x40
	SecurityContextToken   Action = 0x80

	// BinarySecurityToken is used on the receiver side only. A
	// BinarySecurityToken carries a key for a later Signature or Encrypt
	// token and produces no result of its own.
	BinarySecurityToken Action = 0x1000
)

// CustomActionBase is the first id available to application-defined actions.
const CustomActionBase Action = 0x10000

// ErrUnknownAction is returned when an action id or name is not registered.
var ErrUnknownAction = errors.New("unknown security action")

var actionNames = map[Action]string{
	NoSecurity:             "NoSecurity",
	UsernameToken:          "UsernameToken",
	Signature:              "Signature",
	Encrypt:                "Encrypt",
	SAMLTokenUnsigned:      "SAMLTokenUnsigned",
	SAMLTokenSigned:        "SAMLTokenSigned",
	Timestamp:              "Timestamp",
	UsernameTokenSignature: "UsernameTokenSignature",
	SecurityContextToken:   "SecurityContextToken",
	BinarySecurityToken:    "BinarySecurityToken",
}

// IsCustom reports whether a is in the application-defined range.
func (a Action) IsCustom() bool {
	return a >= CustomActionBase
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	if a.IsCustom() {
		return fmt.Sprintf("Custom(%#x)", int(a))
	}
	return fmt.Sprintf("Action(%#x)", int(a))
}

// ParseAction decodes a single action name. Numeric ids (decimal or 0x
// prefixed) are accepted for custom actions.
func ParseAction(name string) (Action, error) {
	for a, n := range actionNames {
		if strings.EqualFold(n, name) && a != BinarySecurityToken {
			return a, nil
		}
	}
	if id, err := strconv.ParseInt(name, 0, 64); err == nil {
		a := Action(id)
		if a.IsCustom() {
			return a, nil
		}
		if _, ok := actionNames[a]; ok && a != BinarySecurityToken {
			return a, nil
		}
	}
	return NoSecurity, fmt.Errorf("%w: %q", ErrUnknownAction, name)
}

// ParseActions decodes a space separated action list such as
// "UsernameToken Timestamp Signature". "NoSecurity" decodes to an empty
// list and may not be combined with other actions.
func ParseActions(s string) ([]Action, error) {
	fields := strings.Fields(s)
	actions := make([]Action, 0, len(fields))
	for _, f := range fields {
		a, err := ParseAction(f)
		if err != nil {
			return nil, err
		}
		if a == NoSecurity {
			if len(fields) > 1 {
				return nil, fmt.Errorf("NoSecurity cannot be combined with other actions")
			}
			return []Action{}, nil
		}
		actions = append(actions, a)
	}
	return actions, nil
}

// FormatActions is the inverse of ParseActions.
func FormatActions(actions []Action) string {
	if len(actions) == 0 {
		return NoSecurity.String()
	}
	names := make([]string, len(actions))
	for i, a := range actions {
		if a.IsCustom() {
			names[i] = fmt.Sprintf("%#x", int(a))
			continue
		}
		names[i] = a.String()
	}
	return strings.Join(names, " ")
}
