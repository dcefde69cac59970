// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

package config

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Document is a nested configuration mapping. Nested mappings are
// map[string]any and lists are []any.
type Document = map[string]any

// appendSuffix marks a key whose list value is appended to the existing list
// instead of replacing it, e.g. "enabled_roles+: [docker]".
const appendSuffix = "+"

// DeepMerge merges src into a copy of dst and returns the result. Mappings
// present on both sides merge key by key; any other value from src replaces
// the one in dst. Lists are replaced wholesale unless the src key carries the
// append marker. Neither input is modified and the result is never nil.
func DeepMerge(dst, src Document) Document {
	out := cloneMap(dst)
	if out == nil {
		out = make(Document)
	}
	mergeInto(out, src)
	return out
}

// mergeInto applies plain keys before append-marked keys, each in sorted
// order, so "roles" and "roles+" in one mapping always replace then append.
func mergeInto(dst, src Document) {
	for _, key := range mergeOrder(src) {
		srcVal := src[key]
		if base, ok := appendBase(key); ok {
			dst[base] = appendValue(dst[base], srcVal)
			continue
		}

		srcMap, srcIsMap := srcVal.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			merged := cloneMap(dstMap)
			mergeInto(merged, srcMap)
			dst[key] = merged
			continue
		}
		if srcIsMap {
			// Nested append markers must be resolved even without a base map.
			fresh := make(Document, len(srcMap))
			mergeInto(fresh, srcMap)
			dst[key] = fresh
			continue
		}
		dst[key] = cloneValue(srcVal)
	}
}

func appendBase(key string) (string, bool) {
	base, ok := strings.CutSuffix(key, appendSuffix)
	return base, ok && base != ""
}

func mergeOrder(src Document) []string {
	keys := slices.Sorted(maps.Keys(src))
	slices.SortStableFunc(keys, func(a, b string) int {
		_, aAppend := appendBase(a)
		_, bAppend := appendBase(b)
		switch {
		case aAppend == bAppend:
			return 0
		case bAppend:
			return -1
		default:
			return 1
		}
	})
	return keys
}

func appendValue(existing, extra any) any {
	extraList, ok := extra.([]any)
	if !ok {
		extraList = []any{cloneValue(extra)}
	}
	baseList, _ := existing.([]any)
	out := make([]any, 0, len(baseList)+len(extraList))
	out = append(out, cloneSlice(baseList)...)
	out = append(out, cloneSlice(extraList)...)
	return out
}

// GetPath retrieves the value at a dot-separated path. The boolean reports
// whether the path exists, so a stored nil is distinguishable from absence.
func GetPath(doc Document, path string) (any, bool) {
	if doc == nil || path == "" {
		return nil, false
	}

	current := any(doc)
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		val, exists := m[part]
		if !exists {
			return nil, false
		}
		current = val
	}
	return current, true
}

// SetPath sets a value at a dot-separated path, creating intermediate
// mappings and replacing non-mapping intermediates.
func SetPath(doc Document, path string, value any) {
	if doc == nil {
		return
	}

	parts := strings.Split(path, ".")
	current := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

// deletePath removes the value at a dot-separated path and reports whether
// it existed.
func deletePath(doc Document, path string) bool {
	parts := strings.Split(path, ".")
	current := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			return false
		}
		current = next
	}
	leaf := parts[len(parts)-1]
	if _, ok := current[leaf]; !ok {
		return false
	}
	delete(current, leaf)
	return true
}

// validPath reports whether every dot-separated segment is non-empty.
func validPath(path string) bool {
	if path == "" {
		return false
	}
	return !slices.Contains(strings.Split(path, "."), "")
}

// Flatten returns the document as a single-level map keyed by dotted paths.
// Lists are leaves.
func Flatten(doc Document) map[string]any {
	out := make(map[string]any)
	flattenInto(doc, "", out)
	return out
}

func flattenInto(doc Document, prefix string, out map[string]any) {
	for key, val := range doc {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok && len(nested) > 0 {
			flattenInto(nested, full, out)
			continue
		}
		out[full] = val
	}
}

// Clone returns a deep copy of doc.
func Clone(doc Document) Document {
	if doc == nil {
		return make(Document)
	}
	return cloneMap(doc)
}

func cloneValue(val any) any {
	switch v := val.(type) {
	case map[string]any:
		return cloneMap(v)
	case []any:
		return cloneSlice(v)
	case []string:
		return slices.Clone(v)
	default:
		return val
	}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneSlice(s []any) []any {
	if s == nil {
		return nil
	}
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = cloneValue(v)
	}
	return out
}

// Normalize converts decoder output into document form: mappings with
// non-string keys become map[string]any and typed string lists become []any.
func Normalize(doc map[string]any) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(val any) any {
	switch v := val.(type) {
	case map[string]any:
		return Normalize(v)
	case map[any]any:
		m := make(Document, len(v))
		for k, item := range v {
			m[fmt.Sprint(k)] = normalizeValue(item)
		}
		return m
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalizeValue(item)
		}
		return out
	case []string:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = item
		}
		return out
	default:
		return val
	}
}
