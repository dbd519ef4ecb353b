// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quillbooks/pluginhost/internal/security"
	"github.com/quillbooks/pluginhost/internal/xdg"
)

// NewVerifyCmd creates the verify subcommand.
func NewVerifyCmd() *cobra.Command {
	var (
		trusted        []string
		revocationFile string
	)

	cmd := &cobra.Command{
		Use:   "verify BUNDLE",
		Short: "Verify a bundle's signature",
		Long: `Check a .qbx bundle's digest manifest and signature and report the
verdict: unsigned, invalid, untrusted, trusted, or revoked. Exits
non-zero for any verdict other than trusted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(args[0], trusted, revocationFile, cmd)
		},
	}

	cmd.Flags().StringArrayVar(&trusted, "trusted", nil, "trusted signer subjects")
	cmd.Flags().StringVar(&revocationFile, "revocation-file", xdg.RevocationFile(), "certificate revocation list path")

	return cmd
}

func runVerify(bundlePath string, trusted []string, revocationFile string, cmd *cobra.Command) error {
	revocations := security.NewRevocationList()
	if revocationFile != "" {
		loaded, err := security.LoadRevocationList(revocationFile)
		if err != nil {
			return fmt.Errorf("failed to load revocation list: %w", err)
		}
		revocations = loaded
	}

	verifier := security.NewVerifier(trusted, revocations)
	result, err := verifier.Verify(bundlePath)
	if err != nil {
		return err
	}

	cmd.Printf("verdict: %s\n", result.Verdict)
	if result.Signer != "" {
		cmd.Printf("signer: %s\n", result.Signer)
	}
	if result.Fingerprint != "" {
		cmd.Printf("fingerprint: %s\n", result.Fingerprint)
	}
	if result.Detail != "" {
		cmd.Printf("detail: %s\n", result.Detail)
	}

	if result.Verdict != security.VerdictTrusted {
		return fmt.Errorf("bundle is not trusted: %s", result.Verdict)
	}
	return nil
}
