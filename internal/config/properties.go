// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package config

import (
	"fmt"
	"sort"
	"strings"
)

// Properties maps dotted keys to their values. Scalars have one value,
// YAML sequences one value per item.
type Properties map[string][]string

// Flatten converts a decoded YAML mapping into Properties. Nested mappings
// join their keys with dots.
func Flatten(m map[string]any) Properties {
	p := make(Properties)
	p.add("", m)
	return p
}

func (p Properties) add(prefix string, v any) {
	switch v := v.(type) {
	case map[string]any:
		for k, child := range v {
			p.add(join(prefix, k), child)
		}
	case []any:
		for _, item := range v {
			p.add(prefix, item)
		}
	case nil:
	default:
		p[prefix] = append(p[prefix], fmt.Sprint(v))
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// FirstProperty returns the first value of key, or "" when unset.
func (p Properties) FirstProperty(key string) string {
	if v := p[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Properties returns every value of key.
func (p Properties) Properties(key string) []string {
	return p[key]
}

// Sub returns the properties below prefix with the prefix removed.
func (p Properties) Sub(prefix string) Properties {
	sub := make(Properties)
	prefix += "."
	for k, v := range p {
		if rest, ok := strings.CutPrefix(k, prefix); ok {
			sub[rest] = v
		}
	}
	return sub
}

// Keys returns the keys in sorted order.
func (p Properties) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
