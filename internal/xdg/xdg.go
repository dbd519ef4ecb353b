// Package xdg provides XDG Base Directory paths for the QuillBooks
// plugin host.
package xdg

import (
	"fmt"
	"os"
	"path/filepath"
)

const appName = "quillbooks"

// ConfigDir returns the XDG config directory.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// DataDir returns the XDG data directory.
// Checks XDG_DATA_HOME first, falls back to ~/.local/share.
func DataDir() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".local", "share")
	}
	return filepath.Join(base, appName)
}

// StateDir returns the XDG state directory.
// Checks XDG_STATE_HOME first, falls back to ~/.local/state.
func StateDir() string {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".local", "state")
	}
	return filepath.Join(base, appName)
}

// BundlesDir returns the default plugin bundle directory.
func BundlesDir() string {
	return filepath.Join(DataDir(), "plugins")
}

// PluginStateDir returns the base directory for per-plugin data
// directories.
func PluginStateDir() string {
	return filepath.Join(StateDir(), "plugin-data")
}

// RevocationFile returns the default certificate revocation list path.
func RevocationFile() string {
	return filepath.Join(ConfigDir(), "revoked.yaml")
}

// EnsureDir creates a directory and all parent directories if they don't exist.
// Directories are created with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}
