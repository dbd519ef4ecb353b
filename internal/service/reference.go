// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

package service

import (
	"reflect"

	"github.com/samber/oops"

	pkgplugin "github.com/quillbooks/pluginhost/pkg/plugin"
)

// Reference is a late-bound handle to one provider's service. Every
// access re-queries the registry, so a reference obtained before the
// provider registers becomes valid once the provider appears, and goes
// stale again when it unregisters.
type Reference struct {
	registry    *Registry
	serviceType reflect.Type
	providerID  string
}

// NewReference creates a handle for (serviceType, providerID).
func NewReference(registry *Registry, serviceType reflect.Type, providerID string) *Reference {
	return &Reference{
		registry:    registry,
		serviceType: serviceType,
		providerID:  providerID,
	}
}

// Get resolves the current implementation, or an error when the
// provider is not registered right now.
func (r *Reference) Get() (pkgplugin.Service, error) {
	return r.registry.Get(r.serviceType, r.providerID)
}

// Available reports whether the provider is currently registered.
func (r *Reference) Available() bool {
	_, err := r.Get()
	return err == nil
}

// ProviderID returns the provider this reference is bound to.
func (r *Reference) ProviderID() string { return r.providerID }

// RefFor builds a typed late-bound handle for service T.
func RefFor[T any](registry *Registry, providerID string) *Reference {
	return NewReference(registry, reflect.TypeFor[T](), providerID)
}

// GetAs resolves a reference to the concrete service type T.
func GetAs[T any](r *Reference) (T, error) {
	var zero T
	impl, err := r.Get()
	if err != nil {
		return zero, err
	}
	typed, ok := impl.(T)
	if !ok {
		return zero, oops.Code("SERVICE_TYPE_INVALID").
			With("provider", r.providerID).
			Errorf("provider %s implementation is %T, not the requested type", r.providerID, impl)
	}
	return typed, nil
}
