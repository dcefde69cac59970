// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

package config

import (
	"maps"
	"slices"
	"strconv"
	"strings"
)

const (
	// EnvPrefix marks environment variables that override configuration.
	EnvPrefix = "DEVKIT_"

	// EnvSeparator splits an override name into nested keys:
	// DEVKIT_GLOBAL__LOGGING__LEVEL addresses global.logging.level.
	EnvSeparator = "__"
)

// ParseEnv builds an override document from KEY=VALUE pairs. Variables are
// applied in sorted order so a deeper override of a scalar is deterministic.
func ParseEnv(environ []string) Document {
	vars := make(map[string]string)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		name, ok := strings.CutPrefix(key, EnvPrefix)
		if !ok || name == "" {
			continue
		}
		vars[strings.ToLower(name)] = value
	}

	doc := make(Document)
	for _, name := range slices.Sorted(maps.Keys(vars)) {
		path := strings.ReplaceAll(name, EnvSeparator, ".")
		if !validPath(path) {
			continue
		}
		SetPath(doc, path, ParseEnvValue(vars[name]))
	}
	return doc
}

// ParseEnvValue converts an override string: true/false become booleans,
// base-10 integers become ints, comma-separated values become a list of
// trimmed strings, and anything else stays a string.
func ParseEnvValue(value string) any {
	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	if strings.Contains(value, ",") {
		parts := strings.Split(value, ",")
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = strings.TrimSpace(p)
		}
		return out
	}
	return value
}
