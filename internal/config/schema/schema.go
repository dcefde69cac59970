// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

// Package schema validates configuration documents against a declarative
// description of required keys, types, enumerations and collection bounds.
// Validation never mutates the document and never returns an error for a
// mismatch: violations are data.
package schema

// Type names understood by the validator.
const (
	TypeObject  = "object"
	TypeArray   = "array"
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeAny     = "any"
)

// Schema describes one node of a document.
type Schema struct {
	// Type is one of the Type* constants. Empty means TypeAny.
	Type string

	// Required lists keys that must be present when Type is TypeObject.
	Required []string

	// Properties declares the known keys of an object.
	Properties map[string]*Schema

	// Strict rejects keys not declared in Properties at this level only.
	Strict bool

	// Items describes every element of an array.
	Items *Schema

	// Enum restricts scalar values to the listed members.
	Enum []any

	// MaxItems bounds array length. Zero means unbounded.
	MaxItems int
}

// Object returns an object schema with the given properties.
func Object(props map[string]*Schema, required ...string) *Schema {
	return &Schema{Type: TypeObject, Properties: props, Required: required}
}

// StrictObject is Object with undeclared keys rejected.
func StrictObject(props map[string]*Schema, required ...string) *Schema {
	s := Object(props, required...)
	s.Strict = true
	return s
}

// String returns a string schema, optionally restricted to allowed values.
func String(allowed ...string) *Schema {
	s := &Schema{Type: TypeString}
	for _, a := range allowed {
		s.Enum = append(s.Enum, a)
	}
	return s
}

// Integer returns an integer schema.
func Integer() *Schema { return &Schema{Type: TypeInteger} }

// Boolean returns a boolean schema.
func Boolean() *Schema { return &Schema{Type: TypeBoolean} }

// ArrayOf returns an array schema whose elements match items, bounded by max
// when max is positive.
func ArrayOf(items *Schema, max int) *Schema {
	return &Schema{Type: TypeArray, Items: items, MaxItems: max}
}
