// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

package plugin

import (
	"archive/zip"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/oops"
)

// BundleExt is the filename extension of plugin bundles.
const BundleExt = ".qbx"

// manifestName is the manifest entry at the root of every bundle.
const manifestName = "plugin.yaml"

// DiscoveredBundle pairs a parsed manifest with the bundle it came from.
type DiscoveredBundle struct {
	Manifest *Manifest
	Path     string
}

// ReadBundleManifest opens a bundle and parses its plugin.yaml. The
// manifest is validated against the JSON schema before being parsed
// into a Manifest.
func ReadBundleManifest(bundlePath string) (*Manifest, error) {
	r, err := zip.OpenReader(bundlePath)
	if err != nil {
		return nil, oops.Code("BUNDLE_UNREADABLE").
			With("path", bundlePath).
			Wrapf(err, "open bundle")
	}
	defer r.Close() //nolint:errcheck // read-only close

	for _, f := range r.File {
		if f.Name != manifestName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, oops.Code("BUNDLE_UNREADABLE").
				With("path", bundlePath).
				Wrapf(err, "read %s", manifestName)
		}
		data, err := io.ReadAll(rc)
		rc.Close() //nolint:errcheck,gosec // read-only close
		if err != nil {
			return nil, oops.Code("BUNDLE_UNREADABLE").
				With("path", bundlePath).
				Wrapf(err, "read %s", manifestName)
		}

		if err := ValidateSchema(data); err != nil {
			return nil, oops.Code("MANIFEST_INVALID").
				With("path", bundlePath).
				Wrapf(err, "manifest rejected by schema")
		}
		m, err := ParseManifest(data)
		if err != nil {
			return nil, oops.Code("MANIFEST_INVALID").
				With("path", bundlePath).
				Wrapf(err, "parse manifest")
		}
		return m, nil
	}

	return nil, oops.Code("MANIFEST_MISSING").
		With("path", bundlePath).
		Errorf("bundle has no %s", manifestName)
}

// DiscoverBundles finds all valid plugin bundles in dir. A missing
// directory yields no bundles. Invalid bundles are logged and skipped.
func DiscoverBundles(dir string) ([]*DiscoveredBundle, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, oops.Code("BUNDLE_DIR_UNREADABLE").
			With("dir", dir).
			Wrapf(err, "read bundle directory")
	}

	var bundles []*DiscoveredBundle
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), BundleExt) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		manifest, err := ReadBundleManifest(path)
		if err != nil {
			slog.Warn("skipping invalid bundle",
				"bundle", entry.Name(),
				"error", err)
			continue
		}

		bundles = append(bundles, &DiscoveredBundle{
			Manifest: manifest,
			Path:     path,
		})
	}

	return bundles, nil
}
