// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectCommand_PrintsManifest(t *testing.T) {
	path := writeBundle(t, t.TempDir(), "vat.qbx", `id: acme.vat
name: Acme VAT
version: 0.3.1
min-host-version: "1.0.0"
entry: NewVAT
capabilities:
  - services.provide
  - events.publish
dependencies:
  - plugin-id: acme.ledger
    version-range: ^1.0.0
    required: true
  - plugin-id: acme.reports
    version-range: ~2.1.0
    required: false
`)

	output, err := execute(t, "inspect", path)
	require.NoError(t, err)

	assert.Contains(t, output, "id: acme.vat")
	assert.Contains(t, output, "name: Acme VAT")
	assert.Contains(t, output, "version: 0.3.1")
	assert.Contains(t, output, "min-host-version: 1.0.0")
	assert.Contains(t, output, "entry: NewVAT")
	assert.Contains(t, output, "capabilities: services.provide, events.publish")
	assert.Contains(t, output, "dependency: acme.ledger ^1.0.0")
	assert.Contains(t, output, "dependency: acme.reports ~2.1.0 (optional)")
}

func TestInspectCommand_InvalidManifest(t *testing.T) {
	path := writeBundle(t, t.TempDir(), "broken.qbx", "id: acme.broken\n")

	_, err := execute(t, "inspect", path)
	require.Error(t, err)
}

func TestInspectCommand_MissingBundle(t *testing.T) {
	_, err := execute(t, "inspect", filepath.Join(t.TempDir(), "missing.qbx"))
	require.Error(t, err)
}
