// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

package plugin

import (
	"fmt"

	"gopkg.in/yaml.v3"

	pkgplugin "github.com/quillbooks/pluginhost/pkg/plugin"
)

// Manifest represents a plugin.yaml file at the root of a bundle. It
// carries the plugin's identity plus the two things only the bundle
// knows: which entry symbol to instantiate and which capabilities the
// plugin asks for.
type Manifest struct {
	ID             string                 `yaml:"id" json:"id"`
	Name           string                 `yaml:"name" json:"name"`
	Version        string                 `yaml:"version" json:"version"`
	MinHostVersion string                 `yaml:"min-host-version,omitempty" json:"min-host-version,omitempty"`
	Entry          string                 `yaml:"entry" json:"entry"`
	Capabilities   []string               `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	Dependencies   []pkgplugin.Dependency `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
}

// ParseManifest parses and validates a plugin.yaml file.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if err := m.Descriptor().Validate(); err != nil {
		return err
	}
	if m.Entry == "" {
		return fmt.Errorf("entry is required")
	}
	return nil
}

// Descriptor returns the immutable descriptor the manifest declares.
func (m *Manifest) Descriptor() pkgplugin.Descriptor {
	return pkgplugin.Descriptor{
		ID:             m.ID,
		Name:           m.Name,
		Version:        m.Version,
		MinHostVersion: m.MinHostVersion,
		Dependencies:   m.Dependencies,
	}
}
