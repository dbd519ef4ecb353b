// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

package plugin

import (
	"sync"

	"github.com/samber/oops"

	pkgplugin "github.com/quillbooks/pluginhost/pkg/plugin"
)

// Container owns one plugin instance and is the sole mutable record of
// its runtime condition. State changes go through TransitionTo so
// concurrent readers never observe a half-applied transition.
type Container struct {
	descriptor pkgplugin.Descriptor
	instance   pkgplugin.Plugin
	bundlePath string

	mu      sync.RWMutex
	state   State
	context *pkgplugin.Context
	cause   error
}

// NewContainer creates a container in the Discovered state.
func NewContainer(instance pkgplugin.Plugin, bundlePath string) *Container {
	return &Container{
		descriptor: instance.Descriptor(),
		instance:   instance,
		bundlePath: bundlePath,
		state:      StateDiscovered,
	}
}

// NewDiscoveredContainer creates a container from a descriptor alone,
// before any plugin code has been instantiated. The instance is
// attached later, at load time.
func NewDiscoveredContainer(descriptor pkgplugin.Descriptor, bundlePath string) *Container {
	return &Container{
		descriptor: descriptor,
		bundlePath: bundlePath,
		state:      StateDiscovered,
	}
}

// Descriptor returns the plugin's immutable descriptor.
func (c *Container) Descriptor() pkgplugin.Descriptor { return c.descriptor }

// ID returns the plugin id.
func (c *Container) ID() string { return c.descriptor.ID }

// Instance returns the plugin implementation, nil before load.
func (c *Container) Instance() pkgplugin.Plugin {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.instance
}

// BundlePath returns the path of the bundle this plugin was loaded from.
func (c *Container) BundlePath() string { return c.bundlePath }

// State returns the current lifecycle state.
func (c *Container) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Context returns the plugin context, present once Loaded.
func (c *Container) Context() *pkgplugin.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.context
}

// FailureCause returns the recorded failure, present only in Failed.
func (c *Container) FailureCause() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cause
}

// TransitionTo moves the container to a new state, rejecting moves not
// in the lifecycle table with a state error naming both states.
func (c *Container) TransitionTo(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkTransitionLocked(to); err != nil {
		return err
	}

	c.state = to
	if to != StateFailed {
		c.cause = nil
	}
	return nil
}

// CheckTransition reports whether moving to the given state would be
// legal right now, without performing the move. Callers with side
// effects to run before a transition use this to fail early.
func (c *Container) CheckTransition(to State) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.checkTransitionLocked(to)
}

func (c *Container) checkTransitionLocked(to State) error {
	if !CanTransition(c.state, to) {
		return oops.Code("PLUGIN_STATE_INVALID").
			With("plugin", c.descriptor.ID).
			With("from", c.state.String()).
			With("to", to.String()).
			Errorf("plugin %s: illegal state transition %s -> %s",
				c.descriptor.ID, c.state, to)
	}
	return nil
}

// Fail records cause and forces the container to Failed, regardless of
// the transition table. Used when a lifecycle callback errors.
func (c *Container) Fail(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateFailed
	c.cause = cause
}

// SetContext attaches the runtime context at load time.
func (c *Container) SetContext(pctx *pkgplugin.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.context = pctx
}

// SetInstance attaches the plugin implementation once instantiated.
func (c *Container) SetInstance(p pkgplugin.Plugin) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instance = p
}
