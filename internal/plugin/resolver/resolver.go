// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"

	pkgplugin "github.com/quillbooks/pluginhost/pkg/plugin"
)

// Result classifies a descriptor set after resolution: the order to load
// the survivors in, the plugins that cannot load and why, and warnings
// for unsatisfied optional dependencies.
type Result struct {
	LoadOrder []string
	Blocked   map[string]string
	Warnings  []string
}

// ErrCircularDependency is raised when no safe partial order exists.
// It names every plugin left unresolved, a superset of the cycle.
type ErrCircularDependency struct {
	Unresolved []string
}

func (e *ErrCircularDependency) Error() string {
	return fmt.Sprintf("circular dependency involving plugins: %s",
		strings.Join(e.Unresolved, ", "))
}

// Resolver computes load order for a set of plugin descriptors.
type Resolver struct {
	hostVersion *semver.Version
}

// New creates a resolver. hostVersion gates each descriptor's
// min-host-version declaration; an empty string skips that check.
func New(hostVersion string) (*Resolver, error) {
	r := &Resolver{}
	if hostVersion != "" {
		v, err := semver.NewVersion(hostVersion)
		if err != nil {
			return nil, oops.Code("HOST_VERSION_INVALID").
				Wrapf(err, "invalid host version %q", hostVersion)
		}
		r.hostVersion = v
	}
	return r, nil
}

// Resolve builds the dependency graph, blocks plugins with unsatisfied
// required dependencies, and topologically sorts the remainder so every
// dependency precedes its dependents. It fails closed with
// ErrCircularDependency when a cycle prevents a safe order.
func (r *Resolver) Resolve(descriptors []pkgplugin.Descriptor) (*Result, error) {
	byID := make(map[string]pkgplugin.Descriptor, len(descriptors))
	for _, d := range descriptors {
		byID[d.ID] = d
	}

	result := &Result{Blocked: make(map[string]string)}

	// First pass: block plugins whose own declarations cannot be met.
	for _, d := range descriptors {
		if reason := r.blockReason(d, byID); reason != "" {
			result.Blocked[d.ID] = reason
			continue
		}
		for _, dep := range d.Dependencies {
			if dep.Required {
				continue
			}
			if warning := optionalWarning(d.ID, dep, byID); warning != "" {
				result.Warnings = append(result.Warnings, warning)
			}
		}
	}

	// Cascade: a plugin requiring a blocked plugin is itself blocked.
	for changed := true; changed; {
		changed = false
		for _, d := range descriptors {
			if _, done := result.Blocked[d.ID]; done {
				continue
			}
			for _, dep := range d.Dependencies {
				if !dep.Required {
					continue
				}
				if _, blocked := result.Blocked[dep.PluginID]; blocked {
					result.Blocked[d.ID] = fmt.Sprintf(
						"required dependency %s is blocked", dep.PluginID)
					changed = true
					break
				}
			}
		}
	}

	// Build the survivor graph: edge dependency -> dependent, so a
	// plugin's in-degree is its count of not-yet-loaded dependencies.
	// Optional edges to present plugins still order the load.
	indegree := make(map[string]int)
	dependents := make(map[string][]string)
	for _, d := range descriptors {
		if _, blocked := result.Blocked[d.ID]; blocked {
			continue
		}
		if _, ok := indegree[d.ID]; !ok {
			indegree[d.ID] = 0
		}
		for _, dep := range d.Dependencies {
			if _, blocked := result.Blocked[dep.PluginID]; blocked {
				continue
			}
			if _, present := byID[dep.PluginID]; !present {
				continue
			}
			indegree[d.ID]++
			dependents[dep.PluginID] = append(dependents[dep.PluginID], d.ID)
		}
	}

	// Kahn's algorithm with a sorted queue for deterministic output.
	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	order := make([]string, 0, len(indegree))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)

		for _, dependent := range dependents[current] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
				sort.Strings(queue)
			}
		}
	}

	if len(order) != len(indegree) {
		var unresolved []string
		extracted := make(map[string]struct{}, len(order))
		for _, id := range order {
			extracted[id] = struct{}{}
		}
		for id := range indegree {
			if _, ok := extracted[id]; !ok {
				unresolved = append(unresolved, id)
			}
		}
		sort.Strings(unresolved)
		return nil, &ErrCircularDependency{Unresolved: unresolved}
	}

	result.LoadOrder = order
	return result, nil
}

// blockReason returns a human-readable reason the descriptor cannot
// load, or "" when its own declarations are satisfiable.
func (r *Resolver) blockReason(d pkgplugin.Descriptor, byID map[string]pkgplugin.Descriptor) string {
	if r.hostVersion != nil && d.MinHostVersion != "" {
		min, err := semver.NewVersion(d.MinHostVersion)
		if err != nil {
			return fmt.Sprintf("invalid min-host-version %q", d.MinHostVersion)
		}
		if r.hostVersion.LessThan(min) {
			return fmt.Sprintf("requires host version %s or newer, host is %s",
				d.MinHostVersion, r.hostVersion)
		}
	}

	for _, dep := range d.Dependencies {
		if !dep.Required {
			continue
		}
		target, present := byID[dep.PluginID]
		if !present {
			return fmt.Sprintf("missing required dependency %s", dep.PluginID)
		}
		if dep.VersionRange == "" {
			continue
		}
		rng, err := ParseRange(dep.VersionRange)
		if err != nil {
			return fmt.Sprintf("invalid version range %q for dependency %s",
				dep.VersionRange, dep.PluginID)
		}
		if !rng.Matches(target.Version) {
			return fmt.Sprintf("dependency %s version %s does not satisfy %s",
				dep.PluginID, target.Version, dep.VersionRange)
		}
	}
	return ""
}

func optionalWarning(id string, dep pkgplugin.Dependency, byID map[string]pkgplugin.Descriptor) string {
	target, present := byID[dep.PluginID]
	if !present {
		return fmt.Sprintf("plugin %s: optional dependency %s is missing", id, dep.PluginID)
	}
	if dep.VersionRange == "" {
		return ""
	}
	rng, err := ParseRange(dep.VersionRange)
	if err != nil {
		return fmt.Sprintf("plugin %s: invalid version range %q for optional dependency %s",
			id, dep.VersionRange, dep.PluginID)
	}
	if !rng.Matches(target.Version) {
		return fmt.Sprintf("plugin %s: optional dependency %s version %s does not satisfy %s",
			id, dep.PluginID, target.Version, dep.VersionRange)
	}
	return ""
}
