// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package wss

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// PartMode selects whether a part is processed as a whole element or by its
// content only.
type PartMode int

const (
	// PartDefault is Element for signatures and Content for encryption.
	PartDefault PartMode = iota
	PartElement
	PartContent
)

// Part names an element of the envelope to sign or encrypt.
type Part struct {
	Name xml.Name
	Mode PartMode
}

// BodyPart refers to the SOAP Body of whichever SOAP version the envelope
// uses.
var BodyPart = Part{Name: xml.Name{Local: "Body"}}

// ParseParts decodes a list such as
// "{Content}{http://www.w3.org/2003/05/soap-envelope}Body;{}{urn:x}Ping".
// The bare word "Body" selects the SOAP Body.
func ParseParts(s string) ([]Part, error) {
	var parts []Part
	for _, item := range strings.Split(s, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		p, err := parsePart(item)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, nil
}

func parsePart(item string) (Part, error) {
	if !strings.HasPrefix(item, "{") {
		return Part{Name: xml.Name{Local: item}}, nil
	}
	mode, rest, ok := cutBraces(item)
	if !ok {
		return Part{}, fmt.Errorf("malformed part %q", item)
	}
	var p Part
	switch strings.ToLower(mode) {
	case "":
	case "element":
		p.Mode = PartElement
	case "content":
		p.Mode = PartContent
	default:
		return Part{}, fmt.Errorf("unknown part mode %q", mode)
	}
	if !strings.HasPrefix(rest, "{") {
		p.Name = xml.Name{Local: rest}
		return p, nil
	}
	ns, local, ok := cutBraces(rest)
	if !ok || local == "" {
		return Part{}, fmt.Errorf("malformed part %q", item)
	}
	p.Name = xml.Name{Space: ns, Local: local}
	return p, nil
}

func cutBraces(s string) (inner, rest string, ok bool) {
	end := strings.IndexByte(s, '}')
	if !strings.HasPrefix(s, "{") || end < 0 {
		return "", "", false
	}
	return s[1:end], s[end+1:], true
}

func (p Part) String() string {
	mode := ""
	switch p.Mode {
	case PartElement:
		mode = "Element"
	case PartContent:
		mode = "Content"
	}
	if p.Name.Space == "" {
		return "{" + mode + "}" + p.Name.Local
	}
	return "{" + mode + "}{" + p.Name.Space + "}" + p.Name.Local
}
