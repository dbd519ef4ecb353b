// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

package plugin_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	plugins "github.com/quillbooks/pluginhost/internal/plugin"
)

func TestValidateSchema_ValidManifest(t *testing.T) {
	yaml := `
id: acme.payroll
name: Acme Payroll
version: 1.0.0
min-host-version: 2.0.0
entry: acme.payroll.New
capabilities:
  - services.provide
dependencies:
  - plugin-id: acme.ledger
    version-range: "^1.2.0"
    required: true
`
	assert.NoError(t, plugins.ValidateSchema([]byte(yaml)))
}

func TestValidateSchema_MinimalManifest(t *testing.T) {
	yaml := `
id: a
name: A
version: 0.1.0
entry: a.New
`
	assert.NoError(t, plugins.ValidateSchema([]byte(yaml)))
}

func TestValidateSchema_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing id",
			yaml: "name: A\nversion: 1.0.0\nentry: a.New\n",
		},
		{
			name: "missing name",
			yaml: "id: a\nversion: 1.0.0\nentry: a.New\n",
		},
		{
			name: "missing version",
			yaml: "id: a\nname: A\nentry: a.New\n",
		},
		{
			name: "missing entry",
			yaml: "id: a\nname: A\nversion: 1.0.0\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := plugins.ValidateSchema([]byte(tt.yaml))
			require.Error(t, err)
		})
	}
}

func TestValidateSchema_WrongTypes(t *testing.T) {
	yaml := `
id: a
name: A
version: 1.0.0
entry: a.New
capabilities: not-a-list
`
	err := plugins.ValidateSchema([]byte(yaml))
	require.Error(t, err)
	assert.NotEmpty(t, plugins.FormatSchemaError(err))
}

func TestValidateSchema_Empty(t *testing.T) {
	err := plugins.ValidateSchema(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestGenerateSchema(t *testing.T) {
	plugins.ResetSchemaCache()

	data, err := plugins.GenerateSchema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.Equal(t, plugins.SchemaID(), schema["$id"])
	assert.Equal(t, "QuillBooks Plugin Manifest", schema["title"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	for _, field := range []string{"id", "name", "version", "entry", "capabilities", "dependencies"} {
		assert.Contains(t, props, field)
	}
}

func TestFormatSchemaError(t *testing.T) {
	assert.Empty(t, plugins.FormatSchemaError(nil))

	err := plugins.ValidateSchema([]byte("id: 42\nname: A\nversion: 1.0.0\nentry: a.New\n"))
	require.Error(t, err)
	msg := plugins.FormatSchemaError(err)
	assert.NotEmpty(t, msg)
	assert.False(t, strings.HasPrefix(msg, "schema validation failed:"))
}
