// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

// Package isolation resolves plugin symbols under a boundary policy so
// every plugin shares one copy of the host API types while keeping its
// own private implementations.
package isolation

import "strings"

// Origin says where a symbol resolves from.
type Origin uint8

const (
	// OriginHost means the symbol always resolves to the host
	// environment.
	OriginHost Origin = iota
	// OriginPlugin means the symbol resolves from the plugin's own
	// bundle first, falling back to the host only if absent there.
	OriginPlugin
)

func (o Origin) String() string {
	switch o {
	case OriginHost:
		return "host"
	case OriginPlugin:
		return "plugin"
	default:
		return "unknown"
	}
}

// platformPrefixes is the fixed set of platform namespaces. Symbols
// under them resolve to the host unconditionally, before any
// configurable rule is consulted.
var platformPrefixes = []string{
	"quillbooks.platform.",
	"std.",
}

// Policy is the three-tier boundary rule: platform namespaces, then
// the declared host-API namespaces, then plugin-private resolution.
// The host-API prefix set is the policy's only injectable configuration.
type Policy struct {
	hostAPIPrefixes []string
}

// NewPolicy creates a policy with the given host-API namespace
// prefixes. A prefix matches a symbol when the symbol starts with the
// prefix followed by a '.' separator, or equals it exactly.
func NewPolicy(hostAPIPrefixes ...string) *Policy {
	cleaned := make([]string, 0, len(hostAPIPrefixes))
	for _, p := range hostAPIPrefixes {
		p = strings.TrimSuffix(strings.TrimSpace(p), ".")
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return &Policy{hostAPIPrefixes: cleaned}
}

// HostAPIPrefixes returns a copy of the configured host-API namespaces.
func (p *Policy) HostAPIPrefixes() []string {
	return append([]string(nil), p.hostAPIPrefixes...)
}

// Resolve classifies a symbol name under the boundary tiers.
func (p *Policy) Resolve(symbol string) Origin {
	for _, prefix := range platformPrefixes {
		if strings.HasPrefix(symbol, prefix) {
			return OriginHost
		}
	}
	for _, prefix := range p.hostAPIPrefixes {
		if symbol == prefix || strings.HasPrefix(symbol, prefix+".") {
			return OriginHost
		}
	}
	return OriginPlugin
}
