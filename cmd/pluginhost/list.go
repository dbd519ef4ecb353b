// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

package main

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quillbooks/pluginhost/internal/config"
	"github.com/quillbooks/pluginhost/internal/plugin"
)

// NewListCmd creates the list subcommand.
func NewListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plugin bundles in the plugins directory",
		Long: `Discover .qbx bundles in the plugins directory and print their
manifests. Bundles with invalid manifests are skipped with a warning.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runList(cfg.PluginsDir, cmd)
		},
	}

	cmd.Flags().String("plugins-dir", config.Default().PluginsDir, "plugin bundle directory")

	return cmd
}

func runList(dir string, cmd *cobra.Command) error {
	bundles, err := plugin.DiscoverBundles(dir)
	if err != nil {
		return err
	}

	if len(bundles) == 0 {
		cmd.Printf("no bundles found in %s\n", dir)
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVERSION\tNAME\tBUNDLE")
	for _, b := range bundles {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			b.Manifest.ID,
			b.Manifest.Version,
			b.Manifest.Name,
			filepath.Base(b.Path),
		)
	}
	return w.Flush()
}
