// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

package isolation_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillbooks/pluginhost/internal/isolation"
	pkgplugin "github.com/quillbooks/pluginhost/pkg/plugin"
)

func TestPolicy_PlatformAlwaysHost(t *testing.T) {
	p := isolation.NewPolicy()

	assert.Equal(t, isolation.OriginHost, p.Resolve("quillbooks.platform.fs"))
	assert.Equal(t, isolation.OriginHost, p.Resolve("std.json"))
}

func TestPolicy_HostAPIPrefixesResolveToHost(t *testing.T) {
	p := isolation.NewPolicy("quillbooks.api", "quillbooks.contracts.")

	assert.Equal(t, isolation.OriginHost, p.Resolve("quillbooks.api.tax.calculator"))
	assert.Equal(t, isolation.OriginHost, p.Resolve("quillbooks.api"))
	assert.Equal(t, isolation.OriginHost, p.Resolve("quillbooks.contracts.export"))

	// Prefix matching is segment-aware: "quillbooks.apix" is private.
	assert.Equal(t, isolation.OriginPlugin, p.Resolve("quillbooks.apix.thing"))
}

func TestPolicy_EverythingElseIsPluginPrivate(t *testing.T) {
	p := isolation.NewPolicy("quillbooks.api")

	assert.Equal(t, isolation.OriginPlugin, p.Resolve("com.example.vat.retry"))
	assert.Equal(t, isolation.OriginPlugin, p.Resolve("jsonlib.v2.decode"))
}

func TestPolicy_HostAPIPrefixesCopied(t *testing.T) {
	p := isolation.NewPolicy(" quillbooks.api. ", "")
	assert.Equal(t, []string{"quillbooks.api"}, p.HostAPIPrefixes())
}

func TestSymbolTable_RegisterLookup(t *testing.T) {
	tbl := isolation.NewSymbolTable()

	require.NoError(t, tbl.Register("a.b", 42))
	v, ok := tbl.Lookup("a.b")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok = tbl.Lookup("missing")
	assert.False(t, ok)

	assert.Error(t, tbl.Register("a.b", 1), "rebinding rejected")
	assert.Error(t, tbl.Register("", 1))
	assert.Error(t, tbl.Register("x", nil))
}

// entryPlugin is a trivial plugin used to exercise Instantiate.
type entryPlugin struct{}

func (entryPlugin) Descriptor() pkgplugin.Descriptor {
	return pkgplugin.Descriptor{ID: "entry", Name: "entry", Version: "1.0.0"}
}
func (entryPlugin) OnLoad(context.Context, *pkgplugin.Context) error { return nil }
func (entryPlugin) OnUnload(context.Context) error                   { return nil }

func TestLoader_BundleFirstHostFallback(t *testing.T) {
	host := isolation.NewSymbolTable()
	require.NoError(t, host.Register("shared.helper", "host-copy"))
	require.NoError(t, host.Register("only.host", "host-only"))

	loader := isolation.NewLoader(isolation.NewPolicy("quillbooks.api"), host)

	bundle := isolation.NewSymbolTable()
	require.NoError(t, bundle.Register("shared.helper", "bundle-copy"))
	loader.RegisterBundle("vat-plugin", bundle)

	// Plugin-private names prefer the bundle's own copy.
	v, err := loader.Resolve("vat-plugin", "shared.helper")
	require.NoError(t, err)
	assert.Equal(t, "bundle-copy", v)

	// Absent in the bundle, the host fills in.
	v, err = loader.Resolve("vat-plugin", "only.host")
	require.NoError(t, err)
	assert.Equal(t, "host-only", v)

	_, err = loader.Resolve("vat-plugin", "nowhere.at.all")
	assert.Error(t, err)
}

func TestLoader_HostAPINeverShadowedByBundle(t *testing.T) {
	host := isolation.NewSymbolTable()
	require.NoError(t, host.Register("quillbooks.api.tax", "host-api"))

	loader := isolation.NewLoader(isolation.NewPolicy("quillbooks.api"), host)

	// A bundle shipping its own copy of a host-API symbol must not win:
	// all plugins share the host's single copy.
	bundle := isolation.NewSymbolTable()
	require.NoError(t, bundle.Register("quillbooks.api.tax", "bundle-shadow"))
	loader.RegisterBundle("vat-plugin", bundle)

	v, err := loader.Resolve("vat-plugin", "quillbooks.api.tax")
	require.NoError(t, err)
	assert.Equal(t, "host-api", v)
}

func TestLoader_HostAPIMissingIsError(t *testing.T) {
	loader := isolation.NewLoader(isolation.NewPolicy("quillbooks.api"), isolation.NewSymbolTable())

	_, err := loader.Resolve("p", "quillbooks.api.gone")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host symbol")
}

func TestLoader_Instantiate(t *testing.T) {
	loader := isolation.NewLoader(nil, nil)

	bundle := isolation.NewSymbolTable()
	require.NoError(t, bundle.Register("com.example.entry",
		isolation.Factory(func() pkgplugin.Plugin { return entryPlugin{} })))
	require.NoError(t, bundle.Register("com.example.notafactory", "string"))
	require.NoError(t, bundle.Register("com.example.nilfactory",
		isolation.Factory(func() pkgplugin.Plugin { return nil })))
	loader.RegisterBundle("entry", bundle)

	p, err := loader.Instantiate("entry", "com.example.entry")
	require.NoError(t, err)
	assert.Equal(t, "entry", p.Descriptor().ID)

	_, err = loader.Instantiate("entry", "com.example.notafactory")
	assert.Error(t, err)

	_, err = loader.Instantiate("entry", "com.example.nilfactory")
	assert.Error(t, err)

	_, err = loader.Instantiate("entry", "com.example.absent")
	assert.Error(t, err)
}

func TestLoader_RemoveBundle(t *testing.T) {
	loader := isolation.NewLoader(nil, nil)
	bundle := isolation.NewSymbolTable()
	require.NoError(t, bundle.Register("x.y", 1))
	loader.RegisterBundle("p", bundle)

	loader.RemoveBundle("p")
	_, err := loader.Resolve("p", "x.y")
	assert.Error(t, err)
}
