// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

package schema

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
)

// Validate checks doc against s and reports every violation. At each nesting
// level the checks run in a fixed order: required keys, declared types,
// enumerations, array bounds, then undeclared keys for strict objects.
func Validate(doc map[string]any, s *Schema) (bool, []string) {
	if s == nil {
		return true, nil
	}

	c := &collector{}
	c.object("", doc, s)
	return len(c.errs) == 0, c.errs
}

type collector struct {
	errs []string
}

func (c *collector) add(path, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if path != "" {
		msg = path + ": " + msg
	}
	c.errs = append(c.errs, msg)
}

func (c *collector) object(path string, doc map[string]any, s *Schema) {
	for _, key := range s.Required {
		if _, ok := doc[key]; !ok {
			c.add(path, "missing required key %q", key)
		}
	}

	keys := slices.Sorted(maps.Keys(s.Properties))

	for _, key := range keys {
		val, ok := doc[key]
		if !ok {
			continue
		}
		prop := s.Properties[key]
		if !matchesType(val, prop.Type) {
			c.add(join(path, key), "expected %s, got %s", prop.Type, typeName(val))
		}
	}

	for _, key := range keys {
		val, ok := doc[key]
		prop := s.Properties[key]
		if !ok || len(prop.Enum) == 0 || !matchesType(val, prop.Type) {
			continue
		}
		if !inEnum(val, prop.Enum) {
			c.add(join(path, key), "must be one of %s, got %v", formatEnum(prop.Enum), val)
		}
	}

	for _, key := range keys {
		val, ok := doc[key]
		prop := s.Properties[key]
		if !ok || prop.MaxItems <= 0 {
			continue
		}
		if items, isList := asList(val); isList && len(items) > prop.MaxItems {
			c.add(join(path, key), "has %d items, maximum is %d", len(items), prop.MaxItems)
		}
	}

	if s.Strict {
		for _, key := range slices.Sorted(maps.Keys(doc)) {
			if _, declared := s.Properties[key]; !declared {
				c.add(path, "unknown key %q", key)
			}
		}
	}

	for _, key := range keys {
		val, ok := doc[key]
		if !ok {
			continue
		}
		c.nested(join(path, key), val, s.Properties[key])
	}
}

// nested descends into objects and array items once the current level is
// checked.
func (c *collector) nested(path string, val any, s *Schema) {
	switch s.Type {
	case TypeObject:
		if m, ok := val.(map[string]any); ok {
			c.object(path, m, s)
		}
	case TypeArray:
		items, ok := asList(val)
		if !ok || s.Items == nil {
			return
		}
		for i, item := range items {
			itemPath := fmt.Sprintf("%s[%d]", path, i)
			if !matchesType(item, s.Items.Type) {
				c.add(itemPath, "expected %s, got %s", s.Items.Type, typeName(item))
				continue
			}
			if len(s.Items.Enum) > 0 && !inEnum(item, s.Items.Enum) {
				c.add(itemPath, "must be one of %s, got %v", formatEnum(s.Items.Enum), item)
			}
			c.nested(itemPath, item, s.Items)
		}
	}
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func matchesType(val any, typ string) bool {
	switch typ {
	case "", TypeAny:
		return true
	case TypeObject:
		_, ok := val.(map[string]any)
		return ok
	case TypeArray:
		_, ok := asList(val)
		return ok
	case TypeString:
		_, ok := val.(string)
		return ok
	case TypeBoolean:
		_, ok := val.(bool)
		return ok
	case TypeInteger:
		f, ok := toFloat(val)
		return ok && f == math.Trunc(f)
	case TypeNumber:
		_, ok := toFloat(val)
		return ok
	default:
		return false
	}
}

func asList(val any) ([]any, bool) {
	switch v := val.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

func toFloat(val any) (float64, bool) {
	switch v := val.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func inEnum(val any, enum []any) bool {
	for _, member := range enum {
		if equalScalar(val, member) {
			return true
		}
	}
	return false
}

func equalScalar(a, b any) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		return fa == fb
	}
	if aNum != bNum {
		return false
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	default:
		return false
	}
}

func formatEnum(enum []any) string {
	parts := make([]string, len(enum))
	for i, e := range enum {
		parts[i] = fmt.Sprint(e)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func typeName(val any) string {
	switch val.(type) {
	case nil:
		return "null"
	case map[string]any:
		return TypeObject
	case []any, []string:
		return TypeArray
	case string:
		return TypeString
	case bool:
		return TypeBoolean
	}
	if f, ok := toFloat(val); ok {
		if f == math.Trunc(f) {
			return TypeInteger
		}
		return TypeNumber
	}
	return fmt.Sprintf("%T", val)
}
