// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

// Package resolver orders plugins by their declared dependencies and
// evaluates semantic-version range constraints.
package resolver

import (
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
)

// Range is a parsed semantic-version constraint. Supported forms:
// exact ("1.2.3"), caret ("^1.2.3" means >=1.2.3 <2.0.0, with ^0.y.z
// pinned to <0.(y+1).0), tilde ("~1.2.3" means >=1.2.3 <1.3.0), and
// explicit comparator sequences (">=1.0.0 <2.0.0").
type Range struct {
	raw        string
	constraint *semver.Constraints
}

// ParseRange parses a version range expression.
func ParseRange(s string) (*Range, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, oops.Code("VERSION_RANGE_EMPTY").Errorf("version range is empty")
	}

	// A bare version is an exact match, not semver's default "equivalent
	// to >=" behavior for partial constraints.
	c, err := semver.NewConstraint(trimmed)
	if err != nil {
		return nil, oops.Code("VERSION_RANGE_INVALID").
			With("range", s).
			Wrapf(err, "invalid version range %q", s)
	}

	return &Range{raw: trimmed, constraint: c}, nil
}

// MustParseRange panics if the range cannot be parsed. Test helper.
func MustParseRange(s string) *Range {
	r, err := ParseRange(s)
	if err != nil {
		panic(err)
	}
	return r
}

// Matches reports whether version satisfies the range. Unparseable
// versions never match.
func (r *Range) Matches(version string) bool {
	if r == nil {
		return true
	}
	v, err := semver.NewVersion(strings.TrimSpace(version))
	if err != nil {
		return false
	}
	return r.constraint.Check(v)
}

// String returns the range exactly as written.
func (r *Range) String() string {
	if r == nil {
		return ""
	}
	return r.raw
}
