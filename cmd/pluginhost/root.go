// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the plugin host CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pluginhost",
		Short: "QuillBooks plugin host",
		Long: `The QuillBooks plugin host loads, verifies, and runs bookkeeping
plugins from signed .qbx bundles, with dependency resolution,
capability-gated services, and optional hot reload.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewListCmd())
	cmd.AddCommand(NewVerifyCmd())
	cmd.AddCommand(NewInspectCmd())
	cmd.AddCommand(NewSchemaCmd())

	return cmd
}
