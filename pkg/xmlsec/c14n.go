// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package xmlsec

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"

	"github.com/beevik/etree"
	"github.com/leifj/signedxml"
)

// Canonicalize returns the exclusive canonical form (without comments) of
// el as it sits in its tree.
func Canonicalize(el *etree.Element) (string, error) {
	c := signedxml.ExclusiveCanonicalization{WithComments: false}
	out, err := c.ProcessElement(el, "")
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize %s: %w", el.Tag, err)
	}
	return out, nil
}

// NewHash returns the hash for a digest algorithm URI.
func NewHash(alg string) (hash.Hash, error) {
	switch alg {
	case AlgorithmSHA1:
		return sha1.New(), nil
	case AlgorithmSHA256:
		return sha256.New(), nil
	case AlgorithmSHA512:
		return sha512.New(), nil
	}
	return nil, fmt.Errorf("%w: digest %s", ErrUnsupportedAlgorithm, alg)
}

// Digest canonicalizes el and hashes the result.
func Digest(el *etree.Element, alg string) ([]byte, error) {
	h, err := NewHash(alg)
	if err != nil {
		return nil, err
	}
	canonical, err := Canonicalize(el)
	if err != nil {
		return nil, err
	}
	h.Write([]byte(canonical))
	return h.Sum(nil), nil
}

// DeclareNamespaces copies onto el every namespace declaration that the
// subtree rooted at el uses but inherits from an ancestor. Exclusive C14N of
// el then no longer depends on where el sits in the document.
func DeclareNamespaces(el *etree.Element) {
	needed := make(map[string]bool)
	collectUnresolved(el, map[string]bool{}, needed)
	for prefix := range needed {
		uri, ok := lookupDeclaration(el.Parent(), prefix)
		if !ok {
			continue
		}
		if prefix == "" {
			el.CreateAttr("xmlns", uri)
		} else {
			el.CreateAttr("xmlns:"+prefix, uri)
		}
	}
}

func collectUnresolved(el *etree.Element, inScope map[string]bool, needed map[string]bool) {
	scope := inScope
	copied := false
	for _, a := range el.Attr {
		prefix, ok := declaredPrefix(a)
		if !ok {
			continue
		}
		if !copied {
			scope = make(map[string]bool, len(inScope)+1)
			for k := range inScope {
				scope[k] = true
			}
			copied = true
		}
		scope[prefix] = true
	}
	use := func(prefix string) {
		if prefix == "xml" || prefix == "xmlns" || scope[prefix] {
			return
		}
		needed[prefix] = true
	}
	use(el.Space)
	for _, a := range el.Attr {
		if a.Space != "" {
			use(a.Space)
		}
	}
	for _, child := range el.ChildElements() {
		collectUnresolved(child, scope, needed)
	}
}

func declaredPrefix(a etree.Attr) (string, bool) {
	switch {
	case a.Space == "" && a.Key == "xmlns":
		return "", true
	case a.Space == "xmlns":
		return a.Key, true
	}
	return "", false
}

func lookupDeclaration(el *etree.Element, prefix string) (string, bool) {
	for e := el; e != nil; e = e.Parent() {
		for _, a := range e.Attr {
			if p, ok := declaredPrefix(a); ok && p == prefix {
				return a.Value, a.Value != ""
			}
		}
	}
	return "", false
}
