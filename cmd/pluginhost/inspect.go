// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/quillbooks/pluginhost/internal/plugin"
)

// NewInspectCmd creates the inspect subcommand.
func NewInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect BUNDLE",
		Short: "Print a bundle's manifest",
		Long:  `Read and validate a .qbx bundle's plugin.yaml and print its fields.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(args[0], cmd)
		},
	}
}

func runInspect(bundlePath string, cmd *cobra.Command) error {
	manifest, err := plugin.ReadBundleManifest(bundlePath)
	if err != nil {
		return err
	}

	cmd.Printf("id: %s\n", manifest.ID)
	cmd.Printf("name: %s\n", manifest.Name)
	cmd.Printf("version: %s\n", manifest.Version)
	if manifest.MinHostVersion != "" {
		cmd.Printf("min-host-version: %s\n", manifest.MinHostVersion)
	}
	cmd.Printf("entry: %s\n", manifest.Entry)
	if len(manifest.Capabilities) > 0 {
		cmd.Printf("capabilities: %s\n", strings.Join(manifest.Capabilities, ", "))
	}
	for _, dep := range manifest.Dependencies {
		optional := ""
		if !dep.Required {
			optional = " (optional)"
		}
		cmd.Printf("dependency: %s %s%s\n", dep.PluginID, dep.VersionRange, optional)
	}
	return nil
}
