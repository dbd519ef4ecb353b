// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

// Package service maps service capability types to named provider
// implementations, gated by a provider permission check.
package service

import (
	"reflect"
	"sort"
	"sync"

	"github.com/samber/oops"

	pkgplugin "github.com/quillbooks/pluginhost/pkg/plugin"
)

// PermissionCheck reports whether a provider may offer services. The
// manager wires this to the capability grant "services.provide".
type PermissionCheck func(providerID string) bool

// Registry stores service providers per capability type. At most one
// implementation exists per (type, provider) pair. Safe for concurrent
// use.
type Registry struct {
	mu        sync.RWMutex
	providers map[reflect.Type]map[string]pkgplugin.Service
	permitted PermissionCheck
}

// NewRegistry creates a service registry. A nil check permits every
// provider.
func NewRegistry(permitted PermissionCheck) *Registry {
	return &Registry{
		providers: make(map[reflect.Type]map[string]pkgplugin.Service),
		permitted: permitted,
	}
}

// Register offers impl under the service type for providerID. The
// provider must pass the permission check; a second registration for
// the same (type, provider) pair is rejected.
func (r *Registry) Register(serviceType reflect.Type, impl pkgplugin.Service, providerID string) error {
	if impl == nil {
		return oops.Code("SERVICE_NIL").Errorf("service implementation is nil")
	}
	if serviceType == nil || serviceType.Kind() != reflect.Interface {
		return oops.Code("SERVICE_TYPE_INVALID").
			Errorf("service type must be an interface type")
	}
	if !reflect.TypeOf(impl).Implements(serviceType) {
		return oops.Code("SERVICE_TYPE_INVALID").
			With("provider", providerID).
			Errorf("%T does not implement service %s", impl, serviceType)
	}
	if providerID == "" {
		return oops.Code("SERVICE_PROVIDER_INVALID").Errorf("provider id is empty")
	}
	if r.permitted != nil && !r.permitted(providerID) {
		return oops.Code("SERVICE_PERMISSION_DENIED").
			With("provider", providerID).
			Errorf("provider %s lacks the services.provide capability", providerID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byProvider := r.providers[serviceType]
	if byProvider == nil {
		byProvider = make(map[string]pkgplugin.Service)
		r.providers[serviceType] = byProvider
	}
	if _, exists := byProvider[providerID]; exists {
		return oops.Code("SERVICE_DUPLICATE").
			With("provider", providerID).
			Errorf("provider %s already registered for service %s", providerID, serviceType)
	}
	byProvider[providerID] = impl
	return nil
}

// Get returns the implementation one provider registered for the type.
func (r *Registry) Get(serviceType reflect.Type, providerID string) (pkgplugin.Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	impl, ok := r.providers[serviceType][providerID]
	if !ok {
		return nil, oops.Code("SERVICE_NOT_FOUND").
			With("provider", providerID).
			Errorf("no provider %s for service %s", providerID, serviceType)
	}
	return impl, nil
}

// All returns every implementation registered for the type, ordered by
// provider id for determinism.
func (r *Registry) All(serviceType reflect.Type) []pkgplugin.Service {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byProvider := r.providers[serviceType]
	ids := make([]string, 0, len(byProvider))
	for id := range byProvider {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]pkgplugin.Service, 0, len(ids))
	for _, id := range ids {
		out = append(out, byProvider[id])
	}
	return out
}

// UnregisterAll removes the provider's services from every type, prunes
// now-empty type entries, and reports the count removed.
func (r *Registry) UnregisterAll(providerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for serviceType, byProvider := range r.providers {
		if _, ok := byProvider[providerID]; ok {
			delete(byProvider, providerID)
			removed++
		}
		if len(byProvider) == 0 {
			delete(r.providers, serviceType)
		}
	}
	return removed
}
