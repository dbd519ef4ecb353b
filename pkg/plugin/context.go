// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

package plugin

// Context is the read-only snapshot of host capabilities handed to a
// plugin at load time. It is constructed by the host and never mutated
// after NewContext returns.
type Context struct {
	hostVersion string
	dataDir     string
	has         func(capability string) bool
}

// NewContext builds a plugin context. has reports whether the plugin
// holds a capability grant; a nil has denies everything.
func NewContext(hostVersion, dataDir string, has func(capability string) bool) *Context {
	return &Context{
		hostVersion: hostVersion,
		dataDir:     dataDir,
		has:         has,
	}
}

// HostVersion returns the semantic version of the embedding host.
func (c *Context) HostVersion() string { return c.hostVersion }

// DataDir returns the plugin's isolated data directory. The directory is
// namespaced per plugin id under one host-owned base directory.
func (c *Context) DataDir() string { return c.dataDir }

// Has reports whether the plugin was granted the named capability.
func (c *Context) Has(capability string) bool {
	if c.has == nil {
		return false
	}
	return c.has(capability)
}
