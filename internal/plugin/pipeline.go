// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

package plugin

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/devkit-dev/devkit/internal/plugin/manifest"
	devkiterr "github.com/devkit-dev/devkit/pkg/errors"
)

// Validator runs one candidate directory through the gates that precede
// loading: manifest parsing, manifest structure, integrity and the static
// interface check. Nothing in the plugin executes here.
type Validator struct {
	registry        *Registry
	hostVersion     string
	requireChecksum bool
	logger          *slog.Logger
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithHostVersion sets the devkit version checked against a manifest's
// devkit requirement. Non-semver versions skip the check.
func WithHostVersion(v string) ValidatorOption {
	return func(val *Validator) {
		val.hostVersion = v
	}
}

// WithRequireChecksum rejects manifests that carry no checksum. Tampered
// manifests are rejected regardless.
func WithRequireChecksum(require bool) ValidatorOption {
	return func(val *Validator) {
		val.requireChecksum = require
	}
}

// WithValidatorLogger sets the logger. A nil logger uses slog.Default().
func WithValidatorLogger(logger *slog.Logger) ValidatorOption {
	return func(val *Validator) {
		if logger != nil {
			val.logger = logger
		}
	}
}

// NewValidator creates a Validator resolving entry points through registry.
func NewValidator(registry *Registry, opts ...ValidatorOption) *Validator {
	v := &Validator{registry: registry, logger: slog.Default()}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Validate advances a new record for dir as far as InterfaceVerified. The
// returned record is either at InterfaceVerified or Rejected; a rejection
// never panics or returns an error.
func (v *Validator) Validate(ctx context.Context, dir string) *Record {
	rec := NewRecord(dir)
	gates := []struct {
		stage Stage
		run   func(context.Context, *Record) error
	}{
		{StageManifestParsed, v.parseManifest},
		{StageManifestStructureValid, v.checkStructure},
		{StageIntegrityVerified, v.checkIntegrity},
		{StageInterfaceVerified, v.checkInterface},
	}

	for _, g := range gates {
		err := devkiterr.Wrap(ctx.Err(), devkiterr.CodePluginDiscoveryFailure, "validation cancelled")
		if err == nil {
			err = g.run(ctx, rec)
		}
		if err != nil {
			v.reject(rec, g.stage, err)
			return rec
		}
		if err := rec.TransitionTo(g.stage); err != nil {
			v.reject(rec, g.stage, err)
			return rec
		}
	}
	v.logger.Debug("plugin passed validation", "plugin", rec.Name(), "runtime", rec.Runtime())
	return rec
}

func (v *Validator) reject(rec *Record, gate Stage, err error) {
	if err := rec.Reject(gate, err); err != nil {
		v.logger.Error("rejecting plugin", "plugin", rec.Name(), "error", err)
		return
	}
	level := slog.LevelWarn
	if devkiterr.IsSecurity(err) {
		level = slog.LevelError
	}
	v.logger.Log(context.Background(), level, "plugin rejected",
		"plugin", rec.Name(), "dir", rec.Dir(), "stage", gate.String(), "error", err)
}

func (v *Validator) parseManifest(_ context.Context, rec *Record) error {
	m, err := manifest.Load(rec.Dir())
	if err != nil {
		return err
	}
	rec.setManifest(m)
	return nil
}

func (v *Validator) checkStructure(_ context.Context, rec *Record) error {
	m := rec.Manifest()
	if ok, errs := m.Validate(); !ok {
		return devkiterr.New(devkiterr.CodePluginManifestValidateInval,
			"invalid manifest: "+strings.Join(errs, "; "), devkiterr.FieldPlugin(rec.Name()))
	}
	if manifest.ValidSemver(v.hostVersion) {
		return m.CheckRequires(v.hostVersion)
	}
	return nil
}

func (v *Validator) checkIntegrity(_ context.Context, rec *Record) error {
	m := rec.Manifest()
	if m.Checksum == "" && !v.requireChecksum {
		v.logger.Warn("plugin manifest has no checksum, integrity not verified", "plugin", rec.Name())
		return nil
	}
	return m.CheckIntegrity()
}

func (v *Validator) checkInterface(ctx context.Context, rec *Record) error {
	m := rec.Manifest()
	ep := m.EntryPoint
	if ep == "" {
		ep = manifest.DefaultEntryPoint
	}

	path, err := resolveEntryPoint(rec.Dir(), ep)
	if err != nil {
		return devkiterr.With(err, devkiterr.FieldPlugin(rec.Name()))
	}

	rt, err := v.registry.Lookup(path)
	if err != nil {
		return devkiterr.With(err, devkiterr.FieldPlugin(rec.Name()))
	}
	rec.setEntryPoint(path, rt.Name())

	if err := rt.Verify(ctx, path); err != nil {
		return devkiterr.With(err, devkiterr.FieldPlugin(rec.Name()), devkiterr.FieldPath(path))
	}
	return nil
}

// resolveEntryPoint returns the entry point path and requires it to be a
// regular file that resolves inside dir.
func resolveEntryPoint(dir, ep string) (string, error) {
	path := filepath.Join(dir, ep)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", devkiterr.New(devkiterr.CodePluginInterfaceMissing,
			"entry point "+ep+" not found", devkiterr.FieldPath(path))
	}
	if err != nil {
		return "", devkiterr.Wrap(err, devkiterr.CodePluginInterfaceInvalid,
			"reading entry point "+ep, devkiterr.FieldPath(path))
	}
	if !info.Mode().IsRegular() {
		return "", devkiterr.New(devkiterr.CodePluginInterfaceInvalid,
			"entry point "+ep+" is not a regular file", devkiterr.FieldPath(path))
	}

	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", devkiterr.Wrap(err, devkiterr.CodePluginInterfaceInvalid, "resolving plugin directory")
	}
	realPath, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", devkiterr.Wrap(err, devkiterr.CodePluginInterfaceInvalid, "resolving entry point")
	}
	if rel, err := filepath.Rel(realDir, realPath); err != nil || !filepath.IsLocal(rel) {
		return "", devkiterr.New(devkiterr.CodePluginInterfaceInvalid,
			"entry point "+ep+" resolves outside the plugin directory", devkiterr.FieldPath(path))
	}
	return path, nil
}
