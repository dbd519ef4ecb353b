// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

// Package extension aggregates extension-point implementations
// contributed by plugins and orders them under a conflict-resolution
// policy.
package extension

import (
	"reflect"
	"sync"

	"github.com/samber/oops"

	pkgplugin "github.com/quillbooks/pluginhost/pkg/plugin"
)

// HostOwner marks an extension registered by the host rather than a
// plugin. Host extensions survive UnregisterAll for any plugin id.
const HostOwner = ""

// Entry is one registered extension. Duplicates for a type are a valid
// outcome; uniqueness is not enforced.
type Entry struct {
	Owner     string // plugin id, or HostOwner
	PointType reflect.Type
	Instance  pkgplugin.ExtensionPoint
}

// Registry maps an extension-point type to all registered
// implementations. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[reflect.Type][]Entry
	policy  Policy
}

// NewRegistry creates a registry ordering lookups with policy.
// A nil policy defaults to PriorityOrder.
func NewRegistry(policy Policy) *Registry {
	if policy == nil {
		policy = NewPriorityOrder()
	}
	return &Registry{
		entries: make(map[reflect.Type][]Entry),
		policy:  policy,
	}
}

// Register appends an implementation for the given extension-point
// type. The instance must actually implement the point's interface.
func (r *Registry) Register(owner string, pointType reflect.Type, instance pkgplugin.ExtensionPoint) error {
	if instance == nil {
		return oops.Code("EXTENSION_NIL").Errorf("extension instance is nil")
	}
	if pointType == nil || pointType.Kind() != reflect.Interface {
		return oops.Code("EXTENSION_TYPE_INVALID").
			Errorf("extension point type must be an interface type")
	}
	if !reflect.TypeOf(instance).Implements(pointType) {
		return oops.Code("EXTENSION_TYPE_INVALID").
			With("owner", owner).
			Errorf("%T does not implement extension point %s", instance, pointType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[pointType] = append(r.entries[pointType], Entry{
		Owner:     owner,
		PointType: pointType,
		Instance:  instance,
	})
	return nil
}

// Extensions returns all implementations registered for the point, in
// the order decided by the active conflict-resolution policy.
func (r *Registry) Extensions(pointType reflect.Type) []pkgplugin.ExtensionPoint {
	r.mu.RLock()
	stored := r.entries[pointType]
	ordered := make([]Entry, len(stored))
	copy(ordered, stored)
	r.mu.RUnlock()

	r.policy.Order(ordered)

	out := make([]pkgplugin.ExtensionPoint, len(ordered))
	for i, e := range ordered {
		out[i] = e.Instance
	}
	return out
}

// Get returns the implementations of extension point T in policy order.
func Get[T any](r *Registry) []T {
	pointType := reflect.TypeFor[T]()
	raw := r.Extensions(pointType)
	out := make([]T, 0, len(raw))
	for _, inst := range raw {
		if typed, ok := inst.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}

// RegisterFor registers an implementation under extension point T.
func RegisterFor[T any](r *Registry, owner string, instance pkgplugin.ExtensionPoint) error {
	return r.Register(owner, reflect.TypeFor[T](), instance)
}

// UnregisterAll removes every entry owned by the plugin across all
// types and reports how many entries were removed.
func (r *Registry) UnregisterAll(owner string) int {
	if owner == HostOwner {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for pointType, entries := range r.entries {
		kept := entries[:0]
		for _, e := range entries {
			if e.Owner == owner {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(r.entries, pointType)
			continue
		}
		r.entries[pointType] = kept
	}
	return removed
}

// Count returns the number of entries registered for the point.
func (r *Registry) Count(pointType reflect.Type) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries[pointType])
}
