// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/quillbooks/pluginhost/internal/plugin"
)

// NewSchemaCmd creates the schema subcommand.
func NewSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the plugin manifest JSON Schema",
		Long:  `Print the JSON Schema that plugin.yaml manifests are validated against.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := plugin.GenerateSchema()
			if err != nil {
				return err
			}
			cmd.Printf("%s\n", schema)
			return nil
		},
	}
}
