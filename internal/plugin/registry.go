// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

package plugin

import (
	"sort"
	"sync"

	"github.com/samber/oops"
)

// Registry is the canonical concurrent store of plugin containers,
// queryable by id or by state.
type Registry struct {
	mu         sync.RWMutex
	containers map[string]*Container
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		containers: make(map[string]*Container),
	}
}

// Put stores a container. A second container for the same id is rejected.
func (r *Registry) Put(c *Container) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.containers[c.ID()]; exists {
		return oops.Code("PLUGIN_DUPLICATE").
			With("plugin", c.ID()).
			Errorf("plugin %s already registered", c.ID())
	}
	r.containers[c.ID()] = c
	return nil
}

// Get returns the container for id.
func (r *Registry) Get(id string) (*Container, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.containers[id]
	if !ok {
		return nil, oops.Code("PLUGIN_NOT_FOUND").
			With("plugin", id).
			Errorf("plugin %s not found", id)
	}
	return c, nil
}

// Remove deletes a container by id. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.containers, id)
}

// All returns every container sorted by plugin id.
func (r *Registry) All() []*Container {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Container, 0, len(r.containers))
	for _, c := range r.containers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// ByState returns containers currently in the given state, sorted by id.
func (r *Registry) ByState(s State) []*Container {
	var out []*Container
	for _, c := range r.All() {
		if c.State() == s {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of registered containers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.containers)
}

// Clear removes every container.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.containers = make(map[string]*Container)
}
