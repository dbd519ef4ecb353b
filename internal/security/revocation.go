// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

// Package security gates plugin bundles behind digital-signature
// verification and certificate revocation before any plugin code runs.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// Fingerprint computes the canonical certificate fingerprint for
// revocation matching: "sha256:" + lowercase hex of SHA-256 over the
// certificate's DER bytes.
func Fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// RevokedCertificate is one entry of the revocation list.
type RevokedCertificate struct {
	Fingerprint string    `yaml:"fingerprint"`
	Reason      string    `yaml:"reason"`
	RevokedAt   time.Time `yaml:"revoked-at"`
}

// revocationDocument is the on-disk structure of the revocation file.
type revocationDocument struct {
	Version int                  `yaml:"version"`
	Updated time.Time            `yaml:"updated"`
	Revoked []RevokedCertificate `yaml:"revoked"`
}

// RevocationList holds revoked certificate fingerprints. Lookups are
// case-insensitive. Safe for concurrent use; Reload swaps the content
// atomically with respect to readers.
type RevocationList struct {
	mu      sync.RWMutex
	version int
	updated time.Time
	entries map[string]RevokedCertificate // lowercase fingerprint -> entry
}

// NewRevocationList creates an empty, non-revoking list.
func NewRevocationList() *RevocationList {
	return &RevocationList{entries: make(map[string]RevokedCertificate)}
}

// LoadRevocationList reads the revocation file. A missing file is not
// an error: it yields an empty list.
func LoadRevocationList(path string) (*RevocationList, error) {
	l := NewRevocationList()
	if err := l.Reload(path); err != nil {
		return nil, err
	}
	return l, nil
}

// Reload re-reads the revocation file, replacing current content.
// A missing file empties the list.
func (l *RevocationList) Reload(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from host configuration
	if err != nil {
		if os.IsNotExist(err) {
			l.mu.Lock()
			l.version = 0
			l.updated = time.Time{}
			l.entries = make(map[string]RevokedCertificate)
			l.mu.Unlock()
			return nil
		}
		return oops.Code("REVOCATION_READ_FAILED").
			With("path", path).
			Wrapf(err, "read revocation list")
	}

	var doc revocationDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return oops.Code("REVOCATION_INVALID").
			With("path", path).
			Wrapf(err, "parse revocation list")
	}
	if doc.Version <= 0 {
		return oops.Code("REVOCATION_INVALID").
			With("path", path).
			Errorf("revocation list version is required")
	}

	entries := make(map[string]RevokedCertificate, len(doc.Revoked))
	for _, e := range doc.Revoked {
		fp := strings.ToLower(strings.TrimSpace(e.Fingerprint))
		if fp == "" {
			continue
		}
		entries[fp] = e
	}

	l.mu.Lock()
	l.version = doc.Version
	l.updated = doc.Updated
	l.entries = entries
	l.mu.Unlock()
	return nil
}

// Lookup reports whether the fingerprint is revoked. Matching is
// case-insensitive.
func (l *RevocationList) Lookup(fingerprint string) (RevokedCertificate, bool) {
	fp := strings.ToLower(strings.TrimSpace(fingerprint))

	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[fp]
	return e, ok
}

// Len returns the number of revoked entries.
func (l *RevocationList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Version returns the loaded document version, 0 when no file existed.
func (l *RevocationList) Version() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}
