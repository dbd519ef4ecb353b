// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

package extension

import (
	"reflect"
	"sort"
	"sync"

	pkgplugin "github.com/quillbooks/pluginhost/pkg/plugin"
)

// DefaultPriority is assumed for extensions that expose no ordering of
// their own.
const DefaultPriority = 100

// PriorityAccessor extracts an ordering value from a known extension
// kind. Accessors are registered per extension-point type and consulted
// after the instance's own Prioritized implementation.
type PriorityAccessor func(pkgplugin.ExtensionPoint) (priority int, ok bool)

// Policy orders the extension entries registered for one point.
// Implementations must be stable: entries the policy considers equal
// keep their registration order.
type Policy interface {
	Order(entries []Entry)
}

// PriorityOrder sorts by ascending numeric priority, resolved via a
// dispatch chain: the instance's own Prioritized implementation, then a
// kind-specific accessor, then DefaultPriority. Equal priorities keep
// registration order. This is the default policy.
type PriorityOrder struct {
	mu        sync.RWMutex
	accessors map[reflect.Type]PriorityAccessor
}

// NewPriorityOrder creates the default priority policy.
func NewPriorityOrder() *PriorityOrder {
	return &PriorityOrder{accessors: make(map[reflect.Type]PriorityAccessor)}
}

// SetAccessor registers a kind-specific ordering accessor for an
// extension-point type. Safe to call while the policy is in use.
func (p *PriorityOrder) SetAccessor(pointType reflect.Type, accessor PriorityAccessor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessors[pointType] = accessor
}

// Order sorts entries by priority, stable over registration order.
func (p *PriorityOrder) Order(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return p.priorityOf(entries[i]) < p.priorityOf(entries[j])
	})
}

func (p *PriorityOrder) priorityOf(e Entry) int {
	if prioritized, ok := e.Instance.(pkgplugin.Prioritized); ok {
		return prioritized.Priority()
	}
	p.mu.RLock()
	accessor, ok := p.accessors[e.PointType]
	p.mu.RUnlock()
	if ok {
		if priority, found := accessor(e.Instance); found {
			return priority
		}
	}
	return DefaultPriority
}

// RegistrationOrder applies no reordering: extensions come back exactly
// as they were registered.
type RegistrationOrder struct{}

// Order is a no-op; entries are already in registration order.
func (RegistrationOrder) Order([]Entry) {}

// Alphabetical sorts by the extension's own identifier (Named), falling
// back to its Go type name.
type Alphabetical struct{}

// Order sorts entries alphabetically, stable over registration order.
func (Alphabetical) Order(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return identifierOf(entries[i]) < identifierOf(entries[j])
	})
}

func identifierOf(e Entry) string {
	if named, ok := e.Instance.(pkgplugin.Named); ok {
		return named.ExtensionName()
	}
	t := reflect.TypeOf(e.Instance)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}
