// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

// Package plugin defines the public contracts between the QuillBooks host
// and its plugins: the lifecycle interface a plugin implements, the context
// the host hands to it, and the extension-point and service capability
// markers a plugin may contribute implementations of.
package plugin

import "context"

// Plugin is the lifecycle contract a loadable module implements.
//
// The host calls OnLoad exactly once after the plugin's bundle has been
// verified and instantiated, and OnUnload exactly once when the plugin is
// being removed. Extension and service registration is the plugin's own
// responsibility during its enable phase, by convention.
type Plugin interface {
	// Descriptor returns the immutable identity and dependency
	// declaration of this plugin.
	Descriptor() Descriptor

	// OnLoad is called once with the plugin's runtime context.
	// Returning an error leaves the plugin in the Failed state.
	OnLoad(ctx context.Context, pctx *Context) error

	// OnUnload is called once when the plugin is being unloaded.
	OnUnload(ctx context.Context) error
}

// ExtensionPoint is the marker interface for capabilities that multiple
// plugins may implement. Concrete extension kinds embed it.
type ExtensionPoint interface {
	isExtensionPoint()
}

// Base is a zero-size struct that satisfies ExtensionPoint. Embed it in
// concrete extension implementations.
type Base struct{}

func (Base) isExtensionPoint() {}

// Prioritized is optionally implemented by extensions that want an
// explicit position under the priority-ordered conflict policy.
// Lower values sort first.
type Prioritized interface {
	Priority() int
}

// Named is optionally implemented by extensions that want a stable
// identifier under the alphabetical conflict policy. Extensions without
// it are ordered by their Go type name.
type Named interface {
	ExtensionName() string
}

// Service is the marker interface for a named capability one plugin
// provides for others to consume. Services are looked up by type and
// provider id, unlike extension points which aggregate.
type Service interface {
	isService()
}

// ServiceBase satisfies Service; embed it in provider implementations.
type ServiceBase struct{}

func (ServiceBase) isService() {}

// Stateful is optionally implemented by plugins that want their state
// carried across a hot reload. Both methods are best effort: a failure
// is logged by the supervisor and treated as "no state".
type Stateful interface {
	SaveState() ([]byte, error)
	RestoreState(data []byte) error
}
