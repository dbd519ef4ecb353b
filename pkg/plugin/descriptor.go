// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

package plugin

import (
	"fmt"
	"regexp"
)

// maxIDLength is the maximum allowed length for plugin ids.
const maxIDLength = 64

// idPattern validates plugin ids: must start with a lowercase letter,
// followed by lowercase letters, digits, dots, or hyphens.
// Cannot end with a separator. Single character ids are allowed.
var idPattern = regexp.MustCompile(`^[a-z]([a-z0-9.-]*[a-z0-9])?$`)

// Descriptor is the immutable identity of a plugin. It is produced once
// at discovery and never mutated afterwards; all registry lookups key on ID.
type Descriptor struct {
	ID             string       `yaml:"id" json:"id"`
	Name           string       `yaml:"name" json:"name"`
	Version        string       `yaml:"version" json:"version"`
	MinHostVersion string       `yaml:"min-host-version,omitempty" json:"min-host-version,omitempty"`
	Dependencies   []Dependency `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
}

// Dependency declares that a plugin needs another plugin present.
// Required dependencies that are missing or version-incompatible block
// the dependent; optional ones only produce warnings.
type Dependency struct {
	PluginID     string `yaml:"plugin-id" json:"plugin-id"`
	VersionRange string `yaml:"version-range,omitempty" json:"version-range,omitempty"`
	Required     bool   `yaml:"required" json:"required"`
}

// Validate checks descriptor constraints.
func (d Descriptor) Validate() error {
	if d.ID == "" || !idPattern.MatchString(d.ID) {
		return fmt.Errorf("id %q must start with a-z and contain only a-z, 0-9, dots, hyphens", d.ID)
	}
	if len(d.ID) > maxIDLength {
		return fmt.Errorf("id must be %d characters or less, got %d", maxIDLength, len(d.ID))
	}
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	if d.Version == "" {
		return fmt.Errorf("version is required")
	}
	for i, dep := range d.Dependencies {
		if dep.PluginID == "" {
			return fmt.Errorf("dependency %d: plugin-id is required", i)
		}
		if dep.PluginID == d.ID {
			return fmt.Errorf("dependency %d: plugin cannot depend on itself", i)
		}
	}
	return nil
}
