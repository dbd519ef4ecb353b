// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

package isolation

import (
	"sync"

	"github.com/samber/oops"

	pkgplugin "github.com/quillbooks/pluginhost/pkg/plugin"
)

// Factory constructs a plugin instance. Bundle entry symbols must
// resolve to one.
type Factory func() pkgplugin.Plugin

// SymbolTable maps symbol names to values (factories, service
// constructors, shared helpers). Safe for concurrent use.
type SymbolTable struct {
	mu      sync.RWMutex
	symbols map[string]any
}

// NewSymbolTable creates an empty symbol table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{symbols: make(map[string]any)}
}

// Register binds a symbol name. Rebinding an existing name is rejected.
func (t *SymbolTable) Register(name string, value any) error {
	if name == "" {
		return oops.Code("SYMBOL_NAME_EMPTY").Errorf("symbol name is empty")
	}
	if value == nil {
		return oops.Code("SYMBOL_NIL").Errorf("symbol %s: value is nil", name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.symbols[name]; exists {
		return oops.Code("SYMBOL_DUPLICATE").Errorf("symbol %s already registered", name)
	}
	t.symbols[name] = value
	return nil
}

// Lookup returns the value bound to name.
func (t *SymbolTable) Lookup(name string) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.symbols[name]
	return v, ok
}

// Loader resolves symbols for plugins under the boundary policy and
// instantiates plugin entry points.
type Loader struct {
	policy *Policy
	host   *SymbolTable

	mu      sync.RWMutex
	bundles map[string]*SymbolTable // plugin id -> private symbols
}

// NewLoader creates a loader over the host symbol table.
func NewLoader(policy *Policy, host *SymbolTable) *Loader {
	if policy == nil {
		policy = NewPolicy()
	}
	if host == nil {
		host = NewSymbolTable()
	}
	return &Loader{
		policy:  policy,
		host:    host,
		bundles: make(map[string]*SymbolTable),
	}
}

// RegisterBundle attaches a plugin's private symbol table. Replaces any
// previous table for the id, which is what a reload needs.
func (l *Loader) RegisterBundle(pluginID string, symbols *SymbolTable) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bundles[pluginID] = symbols
}

// RemoveBundle drops a plugin's private symbol table at unload.
func (l *Loader) RemoveBundle(pluginID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.bundles, pluginID)
}

// Resolve finds the value for symbol on behalf of pluginID. Platform
// and host-API names resolve only from the host; anything else is
// looked up in the plugin's own bundle first with the host as fallback.
func (l *Loader) Resolve(pluginID, symbol string) (any, error) {
	switch l.policy.Resolve(symbol) {
	case OriginHost:
		if v, ok := l.host.Lookup(symbol); ok {
			return v, nil
		}
		return nil, oops.Code("SYMBOL_NOT_FOUND").
			With("plugin", pluginID).
			With("symbol", symbol).
			Errorf("host symbol %s not found", symbol)
	default:
		l.mu.RLock()
		bundle := l.bundles[pluginID]
		l.mu.RUnlock()

		if bundle != nil {
			if v, ok := bundle.Lookup(symbol); ok {
				return v, nil
			}
		}
		if v, ok := l.host.Lookup(symbol); ok {
			return v, nil
		}
		return nil, oops.Code("SYMBOL_NOT_FOUND").
			With("plugin", pluginID).
			With("symbol", symbol).
			Errorf("symbol %s not found in bundle %s or host", symbol, pluginID)
	}
}

// Instantiate resolves the plugin's entry symbol to a Factory and
// constructs the plugin instance.
func (l *Loader) Instantiate(pluginID, entrySymbol string) (pkgplugin.Plugin, error) {
	v, err := l.Resolve(pluginID, entrySymbol)
	if err != nil {
		return nil, err
	}
	factory, ok := v.(Factory)
	if !ok {
		if fn, fnOK := v.(func() pkgplugin.Plugin); fnOK {
			factory = fn
		} else {
			return nil, oops.Code("ENTRY_SYMBOL_INVALID").
				With("plugin", pluginID).
				With("symbol", entrySymbol).
				Errorf("entry symbol %s is %T, not a plugin factory", entrySymbol, v)
		}
	}

	instance := factory()
	if instance == nil {
		return nil, oops.Code("ENTRY_SYMBOL_INVALID").
			With("plugin", pluginID).
			Errorf("entry symbol %s produced a nil plugin", entrySymbol)
	}
	return instance, nil
}
