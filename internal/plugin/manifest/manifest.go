// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

// Package manifest parses and validates plugin manifests and verifies their
// integrity checksum.
package manifest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	devkiterr "github.com/devkit-dev/devkit/pkg/errors"
	"gopkg.in/yaml.v3"
)

// FileNames are the manifest file names looked up in a plugin directory, in
// order. The YAML decoder reads JSON as well.
var FileNames = []string{"manifest.yaml", "manifest.yml", "manifest.json"}

// DefaultEntryPoint is used when a manifest names no entry_point.
const DefaultEntryPoint = "plugin.star"

// HostRequirement is the requires key checked against the running devkit
// version. Other requirements are validated for syntax only.
const HostRequirement = "devkit"

// Permissions a plugin may declare.
const (
	PermissionFilesystem  = "filesystem"
	PermissionNetwork     = "network"
	PermissionSystem      = "system"
	PermissionEnvironment = "environment"
)

var validPermissions = map[string]bool{
	PermissionFilesystem:  true,
	PermissionNetwork:     true,
	PermissionSystem:      true,
	PermissionEnvironment: true,
}

var (
	requiredFields = []string{"name", "version", "author", "description"}
	optionalFields = []string{"homepage", "repository", "license", "entry_point", "checksum"}
)

const checksumField = "checksum"

// semverRe matches strict semver (no "v" prefix): MAJOR.MINOR.PATCH[-prerelease][+build].
// Leading zeros on numeric segments are disallowed.
var semverRe = regexp.MustCompile(
	`^(?:0|[1-9]\d*)\.(?:0|[1-9]\d*)\.(?:0|[1-9]\d*)` +
		`(?:-(?:[0-9A-Za-z-]+(?:\.[0-9A-Za-z-]+)*))?` +
		`(?:\+(?:[0-9A-Za-z-]+(?:\.[0-9A-Za-z-]+)*))?$`,
)

// ValidSemver reports whether v is a strict semantic version.
func ValidSemver(v string) bool {
	return semverRe.MatchString(v)
}

// Manifest describes a plugin. The typed fields are a convenience view;
// validation and the checksum operate on every field as parsed.
type Manifest struct {
	Name        string
	Version     string
	Author      string
	Description string
	Homepage    string
	Repository  string
	License     string
	EntryPoint  string
	Permissions []string
	Requires    map[string]string
	Checksum    string

	// Path is the file the manifest was loaded from, if any.
	Path string

	raw map[string]any
}

// Parse decodes a YAML or JSON manifest. Only undecodable input is an error;
// missing or mistyped fields are reported by Validate.
func Parse(data []byte) (*Manifest, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, devkiterr.Wrap(err, devkiterr.CodePluginManifestParseInvalid, "decoding manifest")
	}
	if raw == nil {
		return nil, devkiterr.New(devkiterr.CodePluginManifestParseInvalid, "manifest is empty")
	}
	return fromRaw(raw), nil
}

// Load reads the manifest of the plugin in dir.
func Load(dir string) (*Manifest, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, devkiterr.Wrap(err, devkiterr.CodePluginManifestParseInvalid,
				"reading manifest", devkiterr.FieldPath(path))
		}

		m, err := Parse(data)
		if err != nil {
			return nil, devkiterr.With(err, devkiterr.FieldPath(path))
		}
		m.Path = path
		return m, nil
	}
	return nil, devkiterr.New(devkiterr.CodePluginManifestMissing,
		"no manifest found (looked for "+strings.Join(FileNames, ", ")+")",
		devkiterr.FieldPath(dir))
}

func fromRaw(raw map[string]any) *Manifest {
	raw = canonicalMap(raw)
	m := &Manifest{raw: raw}

	m.Name, _ = raw["name"].(string)
	m.Version, _ = raw["version"].(string)
	m.Author, _ = raw["author"].(string)
	m.Description, _ = raw["description"].(string)
	m.Homepage, _ = raw["homepage"].(string)
	m.Repository, _ = raw["repository"].(string)
	m.License, _ = raw["license"].(string)
	m.EntryPoint, _ = raw["entry_point"].(string)
	m.Checksum, _ = raw[checksumField].(string)
	if m.EntryPoint == "" {
		m.EntryPoint = DefaultEntryPoint
	}

	if perms, ok := raw["permissions"].([]any); ok {
		for _, p := range perms {
			if s, ok := p.(string); ok {
				m.Permissions = append(m.Permissions, s)
			}
		}
	}
	if reqs, ok := raw["requires"].(map[string]any); ok {
		m.Requires = make(map[string]string, len(reqs))
		for k, v := range reqs {
			if s, ok := v.(string); ok {
				m.Requires[k] = s
			}
		}
	}
	return m
}

// Validate checks field presence, types, the version format, permissions,
// requirement syntax and the entry point. Every problem is reported.
func (m *Manifest) Validate() (bool, []string) {
	var errs []string

	for _, field := range requiredFields {
		val, ok := m.raw[field]
		switch {
		case !ok:
			errs = append(errs, "missing required field: "+field)
		case !isString(val):
			errs = append(errs, fmt.Sprintf("invalid type for %s: expected string, got %s", field, typeName(val)))
		case strings.TrimSpace(val.(string)) == "":
			errs = append(errs, field+" must not be empty")
		}
	}

	if v, ok := m.raw["version"].(string); ok && v != "" && !ValidSemver(v) {
		errs = append(errs, fmt.Sprintf("invalid version format %q: must be a semantic version MAJOR.MINOR.PATCH", v))
	}

	for _, field := range optionalFields {
		if val, ok := m.raw[field]; ok && !isString(val) {
			errs = append(errs, fmt.Sprintf("invalid type for %s: expected string, got %s", field, typeName(val)))
		}
	}

	errs = append(errs, m.validatePermissions()...)
	errs = append(errs, m.validateRequires()...)
	errs = append(errs, m.validateEntryPoint()...)

	return len(errs) == 0, errs
}

func (m *Manifest) validatePermissions() []string {
	val, ok := m.raw["permissions"]
	if !ok {
		return nil
	}
	list, ok := val.([]any)
	if !ok {
		return []string{fmt.Sprintf("invalid type for permissions: expected list, got %s", typeName(val))}
	}

	var invalid []string
	for _, p := range list {
		s, ok := p.(string)
		if !ok || !validPermissions[s] {
			invalid = append(invalid, fmt.Sprint(p))
		}
	}
	if len(invalid) == 0 {
		return nil
	}
	slices.Sort(invalid)
	return []string{fmt.Sprintf("invalid permissions: [%s]; valid options: [%s]",
		strings.Join(invalid, ", "),
		strings.Join(slices.Sorted(maps.Keys(validPermissions)), ", "))}
}

func (m *Manifest) validateRequires() []string {
	val, ok := m.raw["requires"]
	if !ok {
		return nil
	}
	reqs, ok := val.(map[string]any)
	if !ok {
		return []string{fmt.Sprintf("invalid type for requires: expected mapping, got %s", typeName(val))}
	}

	var errs []string
	for _, name := range slices.Sorted(maps.Keys(reqs)) {
		spec, ok := reqs[name].(string)
		if !ok {
			errs = append(errs, fmt.Sprintf("requirement %q must have a string version constraint, got %s", name, typeName(reqs[name])))
			continue
		}
		if _, err := ParseConstraint(spec); err != nil {
			errs = append(errs, fmt.Sprintf("requirement %q: %s", name, err))
		}
	}
	return errs
}

func (m *Manifest) validateEntryPoint() []string {
	ep, ok := m.raw["entry_point"].(string)
	if !ok {
		return nil
	}
	if ep == "" || filepath.IsAbs(ep) || !filepath.IsLocal(ep) {
		return []string{fmt.Sprintf("entry_point %q must be a relative path inside the plugin directory", ep)}
	}
	return nil
}

// CheckRequires verifies the host requirement against hostVersion. A
// manifest without one is accepted.
func (m *Manifest) CheckRequires(hostVersion string) error {
	spec, ok := m.Requires[HostRequirement]
	if !ok {
		return nil
	}
	c, err := ParseConstraint(spec)
	if err != nil {
		return devkiterr.Wrap(err, devkiterr.CodePluginManifestValidateInval,
			"invalid devkit requirement", devkiterr.FieldPlugin(m.Name))
	}
	if !c.Check(hostVersion) {
		return devkiterr.New(devkiterr.CodePluginRequiresUnsatisfied,
			fmt.Sprintf("requires devkit %s, running %s", c, hostVersion),
			devkiterr.FieldPlugin(m.Name))
	}
	return nil
}

// ComputeChecksum returns the hex SHA-256 of the canonical form of every
// field except checksum. The canonical form is compact JSON with map keys
// sorted, so field order in the source file does not matter.
func (m *Manifest) ComputeChecksum() (string, error) {
	body := maps.Clone(m.raw)
	delete(body, checksumField)

	data, err := canonicalJSON(body)
	if err != nil {
		return "", devkiterr.Wrap(err, devkiterr.CodePluginManifestParseInvalid,
			"encoding manifest for checksum", devkiterr.FieldPlugin(m.Name))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyIntegrity compares the stored checksum with a recomputed one. A
// mismatch is reported as tampering, distinct from a missing checksum.
func (m *Manifest) VerifyIntegrity() (bool, string) {
	if _, ok := m.raw[checksumField]; !ok || m.Checksum == "" {
		return false, "missing integrity checksum in manifest"
	}

	computed, err := m.ComputeChecksum()
	if err != nil {
		return false, err.Error()
	}
	if !strings.EqualFold(computed, m.Checksum) {
		return false, fmt.Sprintf(
			"manifest integrity check failed, plugin may have been tampered with: expected %s, got %s",
			m.Checksum, computed)
	}
	return true, "manifest integrity verified"
}

// CheckIntegrity is VerifyIntegrity as a coded error: CodePluginIntegrityMissing
// when there is no checksum and CodePluginIntegrityTampered on a mismatch.
func (m *Manifest) CheckIntegrity() error {
	ok, reason := m.VerifyIntegrity()
	if ok {
		return nil
	}
	code := devkiterr.CodePluginIntegrityTampered
	if m.Checksum == "" {
		code = devkiterr.CodePluginIntegrityMissing
	}
	return devkiterr.New(code, reason, devkiterr.FieldPlugin(m.Name))
}

// Stamp computes the checksum and stores it in the manifest.
func (m *Manifest) Stamp() (string, error) {
	sum, err := m.ComputeChecksum()
	if err != nil {
		return "", err
	}
	if m.raw == nil {
		m.raw = make(map[string]any)
	}
	m.raw[checksumField] = sum
	m.Checksum = sum
	return sum, nil
}

// Encode serializes the manifest as JSON when Path ends in .json and as YAML
// otherwise.
func (m *Manifest) Encode() ([]byte, error) {
	if strings.EqualFold(filepath.Ext(m.Path), ".json") {
		data, err := json.MarshalIndent(m.raw, "", "  ")
		if err != nil {
			return nil, devkiterr.Wrap(err, devkiterr.CodePluginManifestParseInvalid, "encoding manifest")
		}
		return append(data, '\n'), nil
	}
	data, err := yaml.Marshal(m.raw)
	if err != nil {
		return nil, devkiterr.Wrap(err, devkiterr.CodePluginManifestParseInvalid, "encoding manifest")
	}
	return data, nil
}

// Write stores the manifest back to Path, keeping the file mode.
func (m *Manifest) Write() error {
	if m.Path == "" {
		return devkiterr.New(devkiterr.CodePluginManifestMissing, "manifest has no path", devkiterr.FieldPlugin(m.Name))
	}
	data, err := m.Encode()
	if err != nil {
		return err
	}
	mode := fs.FileMode(0o644)
	if info, err := os.Stat(m.Path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.WriteFile(m.Path, data, mode); err != nil {
		return devkiterr.Wrap(err, devkiterr.CodePluginManifestParseInvalid,
			"writing manifest", devkiterr.FieldPath(m.Path))
	}
	return nil
}

func canonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// canonicalMap converts decoder output into JSON-encodable values so YAML and
// JSON sources of the same manifest hash identically.
func canonicalMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = canonicalValue(v)
	}
	return out
}

func canonicalValue(val any) any {
	switch v := val.(type) {
	case map[string]any:
		return canonicalMap(v)
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[fmt.Sprint(k)] = canonicalValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = canonicalValue(item)
		}
		return out
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Sprint(v)
		}
		return v
	default:
		return val
	}
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int64, uint64:
		return "integer"
	case float64:
		return "number"
	case []any:
		return "list"
	case map[string]any:
		return "mapping"
	default:
		return fmt.Sprintf("%T", v)
	}
}
