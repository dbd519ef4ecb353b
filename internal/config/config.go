// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

// Package config loads the plugin host configuration from a YAML file
// with command-line flag overrides.
package config

import (
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/quillbooks/pluginhost/internal/hotreload"
	"github.com/quillbooks/pluginhost/internal/xdg"
)

// Config is the full host configuration.
type Config struct {
	HostVersion string `koanf:"host-version"`
	PluginsDir  string `koanf:"plugins-dir"`
	DataDir     string `koanf:"data-dir"`

	Security  Security  `koanf:"security"`
	Reload    Reload    `koanf:"reload"`
	Isolation Isolation `koanf:"isolation"`
	Log       Log       `koanf:"log"`
	Metrics   Metrics   `koanf:"metrics"`
}

// Security configures the bundle signature gate.
type Security struct {
	RequireSignature  bool     `koanf:"require-signature"`
	TrustedPublishers []string `koanf:"trusted-publishers"`
	RevocationFile    string   `koanf:"revocation-file"`
}

// Reload configures the hot-reload supervisor.
type Reload struct {
	Enabled  bool          `koanf:"enabled"`
	Debounce time.Duration `koanf:"debounce"`
}

// Isolation configures the symbol boundary policy.
type Isolation struct {
	HostAPIPrefixes []string `koanf:"host-api-prefixes"`
}

// Log configures structured logging.
type Log struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// Default returns the built-in configuration. Directory defaults follow
// the XDG base directories: bundles under the data dir, per-plugin state
// under the state dir, and the revocation list in the config dir.
func Default() Config {
	return Config{
		HostVersion: "0.1.0",
		PluginsDir:  xdg.BundlesDir(),
		DataDir:     xdg.PluginStateDir(),
		Security: Security{
			RevocationFile: xdg.RevocationFile(),
		},
		Reload: Reload{
			Enabled:  false,
			Debounce: hotreload.DefaultDebounce,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Metrics: Metrics{
			Enabled: false,
			Addr:    ":9464",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// (skipped when path is empty or missing), then flag overrides, then
// the hot-reload environment switch. The result is validated.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, oops.Code("CONFIG_INVALID").
					With("path", path).
					Wrapf(err, "parse config file")
			}
		} else if !os.IsNotExist(err) {
			return nil, oops.Code("CONFIG_UNREADABLE").
				With("path", path).
				Wrapf(err, "read config file")
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_INVALID").
				Wrapf(err, "apply flag overrides")
		}
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").
			Wrapf(err, "decode configuration")
	}

	// The environment switch can only turn reload on, never off.
	if hotreload.EnabledFromEnv() {
		cfg.Reload.Enabled = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks configuration constraints, clamping the debounce to
// its minimum rather than rejecting it.
func (c *Config) Validate() error {
	if c.PluginsDir == "" {
		return oops.Code("CONFIG_INVALID").
			Errorf("plugins-dir is required")
	}
	if c.HostVersion == "" {
		return oops.Code("CONFIG_INVALID").
			Errorf("host-version is required")
	}
	if c.Reload.Debounce < hotreload.MinDebounce {
		c.Reload.Debounce = hotreload.MinDebounce
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return oops.Code("CONFIG_INVALID").
			With("level", c.Log.Level).
			Errorf("log level must be debug, info, warn, or error")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return oops.Code("CONFIG_INVALID").
			With("format", c.Log.Format).
			Errorf("log format must be text or json")
	}
	return nil
}
