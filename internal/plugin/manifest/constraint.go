// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

package manifest

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Constraint is a conjunction of version comparisons, e.g. ">=1.2.0, <2.0.0".
// Supported operators are >=, >, <=, <, = and the range shorthands ^ (same
// major version, or same minor below 1.0.0) and ~ (same minor version). A
// bare version means exactly that version.
type Constraint struct {
	raw     string
	clauses []clause
}

type clause struct {
	op      string
	version string // canonical, with the "v" prefix x/mod/semver expects
}

var operators = []string{">=", "<=", ">", "<", "=", "^", "~"}

// ParseConstraint parses a comma-separated constraint expression.
func ParseConstraint(s string) (Constraint, error) {
	c := Constraint{raw: s}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return Constraint{}, fmt.Errorf("empty clause in constraint %q", s)
		}

		op := "="
		for _, candidate := range operators {
			if rest, ok := strings.CutPrefix(part, candidate); ok {
				op, part = candidate, strings.TrimSpace(rest)
				break
			}
		}

		if strings.HasPrefix(part, "v") || !semver.IsValid("v"+part) {
			return Constraint{}, fmt.Errorf("invalid version %q in constraint %q", part, s)
		}
		c.clauses = append(c.clauses, clause{op: op, version: semver.Canonical("v" + part)})
	}
	return c, nil
}

// Check reports whether version satisfies every clause. An invalid version
// satisfies nothing.
func (c Constraint) Check(version string) bool {
	v := "v" + version
	if !semver.IsValid(v) {
		return false
	}
	for _, cl := range c.clauses {
		if !cl.matches(v) {
			return false
		}
	}
	return true
}

func (c Constraint) String() string {
	return c.raw
}

func (cl clause) matches(v string) bool {
	cmp := semver.Compare(v, cl.version)
	switch cl.op {
	case ">=":
		return cmp >= 0
	case ">":
		return cmp > 0
	case "<=":
		return cmp <= 0
	case "<":
		return cmp < 0
	case "^":
		if cmp < 0 {
			return false
		}
		if semver.Major(cl.version) != "v0" {
			return semver.Major(v) == semver.Major(cl.version)
		}
		return semver.MajorMinor(v) == semver.MajorMinor(cl.version)
	case "~":
		return cmp >= 0 && semver.MajorMinor(v) == semver.MajorMinor(cl.version)
	default:
		return cmp == 0
	}
}
