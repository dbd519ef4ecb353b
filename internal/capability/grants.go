// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

// Package capability tracks runtime capability grants for plugins.
//
// Pattern matching uses gobwas/glob with '.' as the segment separator:
//   - '*' matches a single segment (does not cross '.')
//   - '**' matches zero or more segments (crosses '.')
//
// Examples:
//   - "services.provide" matches exactly
//   - "ledger.read.*" matches "ledger.read.accounts" but NOT "ledger.read.accounts.vat"
//   - "**" matches any capability
package capability

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gobwas/glob"
)

// ProvideServices is the capability a plugin needs before the service
// registry accepts it as a provider.
const ProvideServices = "services.provide"

// compiledGrant holds a pattern and its compiled glob for matching.
type compiledGrant struct {
	pattern string
	glob    glob.Glob
}

// Grants checks plugin capabilities at runtime.
//
// Grants is safe for concurrent use. The zero value is ready to use
// without calling NewGrants.
type Grants struct {
	grants map[string][]compiledGrant // plugin id -> compiled grants
	mu     sync.RWMutex
}

// NewGrants creates an empty grant set.
func NewGrants() *Grants {
	return &Grants{
		grants: make(map[string][]compiledGrant),
	}
}

// Set configures capabilities for a plugin, replacing any previous
// grants. The capabilities slice is copied. If any pattern fails to
// compile no changes are made (all-or-nothing semantics).
func (g *Grants) Set(plugin string, capabilities []string) error {
	if plugin == "" {
		return errors.New("plugin id cannot be empty")
	}

	// Compile all patterns before acquiring the lock (fail-fast, atomic).
	compiled := make([]compiledGrant, len(capabilities))
	for i, pattern := range capabilities {
		if pattern == "" {
			return fmt.Errorf("capability %d: empty capability pattern", i)
		}
		cg, err := glob.Compile(pattern, '.')
		if err != nil {
			return fmt.Errorf("capability %d (%q): %w", i, pattern, err)
		}
		compiled[i] = compiledGrant{pattern: pattern, glob: cg}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.grants == nil {
		g.grants = make(map[string][]compiledGrant)
	}
	g.grants[plugin] = compiled
	return nil
}

// Remove unregisters a plugin, dropping all its capabilities.
// Safe to call for unknown plugins or on a zero-value Grants.
func (g *Grants) Remove(plugin string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.grants == nil {
		return
	}
	delete(g.grants, plugin)
}

// List returns a copy of the patterns granted to a plugin, or nil when
// the plugin is unknown.
func (g *Grants) List(plugin string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	grants, ok := g.grants[plugin]
	if !ok {
		return nil
	}
	patterns := make([]string, len(grants))
	for i, cg := range grants {
		patterns[i] = cg.pattern
	}
	return patterns
}

// Check reports whether the plugin holds the requested capability.
// Unknown plugins, empty ids, and empty capabilities are denied.
func (g *Grants) Check(plugin, capability string) bool {
	if capability == "" {
		return false
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.grants == nil {
		return false
	}
	grants, ok := g.grants[plugin]
	if !ok {
		return false
	}
	for _, grant := range grants {
		if grant.glob.Match(capability) {
			return true
		}
	}
	return false
}
