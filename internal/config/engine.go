// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/devkit-dev/devkit/internal/config/schema"
	"github.com/devkit-dev/devkit/internal/ratelimit"
	devkiterr "github.com/devkit-dev/devkit/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Export formats.
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// Engine owns the effective configuration of one invocation: it loads every
// source, answers reads, gates and persists writes, and validates the result.
type Engine struct {
	loader  *Loader
	limiter *ratelimit.Limiter
	logger  *slog.Logger

	persist      bool
	fixedLimiter bool

	doc  Document
	user Document
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	loaderOpts []LoaderOption
	limiter    *ratelimit.Limiter
	logger     *slog.Logger
	noPersist  bool
}

// WithUserConfig overrides the user-level configuration file.
func WithUserConfig(path string) Option {
	return func(o *engineOptions) {
		o.loaderOpts = append(o.loaderOpts, WithUserFile(path))
	}
}

// WithEnvironment replaces os.Environ as the source of override variables.
func WithEnvironment(environ []string) Option {
	return func(o *engineOptions) {
		o.loaderOpts = append(o.loaderOpts, WithEnviron(environ))
	}
}

// WithLimiter supplies the mutation limiter. Without it the limiter is
// configured from global.security.rate_limit on every LoadAll.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(o *engineOptions) {
		o.limiter = l
	}
}

// WithLogger sets the logger. A nil logger uses slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// WithoutPersistence keeps every change in memory. The user file is neither
// created, hardened, nor rewritten.
func WithoutPersistence() Option {
	return func(o *engineOptions) {
		o.noPersist = true
	}
}

// NewEngine creates an Engine for the project at projectRoot. The document
// holds nothing until LoadAll is called.
func NewEngine(projectRoot string, opts ...Option) (*Engine, error) {
	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	loader, err := NewLoader(projectRoot, append(o.loaderOpts, WithLoaderLogger(o.logger))...)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		loader:       loader,
		limiter:      o.limiter,
		logger:       o.logger,
		persist:      !o.noPersist,
		fixedLimiter: o.limiter != nil,
		doc:          make(Document),
		user:         make(Document),
	}
	if e.limiter == nil {
		if e.limiter, err = ratelimit.New(ratelimit.Config{}); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// LoadAll prepares the user file, then loads and merges every source. group
// and platform may be empty.
func (e *Engine) LoadAll(group, platform string) (Document, error) {
	if e.persist {
		if _, err := BootstrapUserFile(e.loader.UserFile(), e.logger); err != nil {
			return nil, err
		}
	}

	doc, err := e.loader.LoadAll(group, platform)
	if err != nil {
		return nil, err
	}
	e.doc = doc
	e.user = e.loader.Layer(KindUser)

	if !e.fixedLimiter {
		if err := e.configureLimiter(); err != nil {
			return nil, err
		}
	}

	e.logger.Info("configuration loaded", "files", len(e.loader.LoadedFiles()), "group", group, "platform", platform)
	return Clone(e.doc), nil
}

// configureLimiter rebuilds the limiter from global.security.rate_limit. An
// invalid section fails the load instead of falling back to the defaults.
func (e *Engine) configureLimiter() error {
	cfg, err := DecodeRateLimit(e.doc)
	if err != nil {
		return err
	}
	limiter, err := ratelimit.New(cfg)
	if err != nil {
		return devkiterr.With(err, devkiterr.FieldPath(RateLimitPath))
	}
	e.limiter = limiter
	return nil
}

// Get returns a copy of the value at a dot-separated path. The boolean is
// false when the path does not exist.
func (e *Engine) Get(path string) (any, bool) {
	val, ok := GetPath(e.doc, path)
	if !ok {
		return nil, false
	}
	return cloneValue(val), true
}

// Set changes the value at path on behalf of actor. The limiter is consulted
// first; a denial returns false with the limiter's message and changes
// nothing. Otherwise the effective document and the user layer are updated,
// an append marker for the same key is dropped from the user layer, and,
// unless persistence is disabled, the user layer is written atomically
// to the user file. A persistence failure is returned as an error and is
// never downgraded.
func (e *Engine) Set(path string, value any, actor string) (bool, string, error) {
	if !validPath(path) {
		return false, "", devkiterr.New(devkiterr.CodeConfigPathInvalid,
			"invalid configuration path", devkiterr.FieldPath(path))
	}

	actor = resolveActor(actor)
	allowed, msg := e.limiter.Allow(actor)
	if !allowed {
		e.logger.Warn("configuration change rate limited", "actor", actor, "path", path, "reason", msg)
		return false, msg, nil
	}

	SetPath(e.doc, path, cloneValue(value))
	SetPath(e.user, path, cloneValue(value))
	if deletePath(e.user, path+appendSuffix) {
		e.logger.Debug("dropped append marker superseded by change", "path", path+appendSuffix)
	}
	e.logger.Debug("configuration changed", "path", path, "actor", actor)

	if e.persist {
		data, err := marshalYAML(e.user)
		if err != nil {
			return false, "", err
		}
		if err := WriteFileAtomic(e.loader.UserFile(), data); err != nil {
			e.logger.Error("persisting configuration change failed", "path", e.loader.UserFile(), "error", err)
			return false, "", err
		}
	}
	return true, "configuration updated", nil
}

func resolveActor(actor string) string {
	if actor != "" {
		return actor
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

// Validate checks the effective document against DefaultSchema and the
// semantic rules of Settings. Violations are returned as data.
func (e *Engine) Validate() (bool, []string) {
	return ValidateDocument(e.doc)
}

// ValidateDocument runs the schema and semantic checks on doc.
func ValidateDocument(doc Document) (bool, []string) {
	_, errs := schema.Validate(doc, DefaultSchema())

	settings, err := DecodeSettings(doc)
	if err != nil {
		errs = append(errs, err.Error())
	} else {
		errs = append(errs, settings.Check()...)
	}
	return len(errs) == 0, errs
}

// Settings decodes the typed view of the effective document.
func (e *Engine) Settings() (*Settings, error) {
	return DecodeSettings(e.doc)
}

// Document returns a copy of the effective document.
func (e *Engine) Document() Document {
	return Clone(e.doc)
}

// Export serializes the effective document. Map keys are sorted in both
// formats, so equal documents export identically.
func (e *Engine) Export(format string) (string, error) {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(format) {
	case FormatYAML, "yml":
		data, err = marshalYAML(e.doc)
	case FormatJSON:
		data, err = marshalJSON(e.doc)
	default:
		return "", devkiterr.New(devkiterr.CodeConfigExportInvalidFormat,
			"unsupported export format "+format+", expected yaml or json")
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Save writes the full effective document to path as YAML, with the same
// atomic replacement and permission rules as Set.
func (e *Engine) Save(path string) error {
	path, err := ExpandHome(path)
	if err != nil {
		return err
	}
	data, err := marshalYAML(e.doc)
	if err != nil {
		return err
	}
	if err := WriteFileAtomic(path, data); err != nil {
		return err
	}
	e.logger.Info("configuration saved", "path", path)
	return nil
}

// EnabledRoles returns global.enabled_roles minus global.disabled_roles in
// configured order.
func (e *Engine) EnabledRoles() []string {
	enabled := e.stringList("global.enabled_roles")
	disabled := e.stringList("global.disabled_roles")

	out := make([]string, 0, len(enabled))
	for _, r := range enabled {
		if !slices.Contains(disabled, r) && !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	return out
}

// DisabledRoles returns global.disabled_roles.
func (e *Engine) DisabledRoles() []string {
	return e.stringList("global.disabled_roles")
}

// RoleConfig returns roles.<role>.config, or an empty document.
func (e *Engine) RoleConfig(role string) Document {
	val, ok := GetPath(e.doc, "roles."+role+".config")
	if !ok {
		return make(Document)
	}
	m, ok := val.(map[string]any)
	if !ok {
		return make(Document)
	}
	return cloneMap(m)
}

// LoadedFiles returns the files merged by the last LoadAll.
func (e *Engine) LoadedFiles() []string {
	return e.loader.LoadedFiles()
}

// Sources lists the sources LoadAll reads for group and platform.
func (e *Engine) Sources(group, platform string) []Source {
	return e.loader.Sources(group, platform)
}

// UserFile returns the path Set persists to.
func (e *Engine) UserFile() string {
	return e.loader.UserFile()
}

// RateLimitStats reports the mutation window of actor.
func (e *Engine) RateLimitStats(actor string) ratelimit.Stats {
	return e.limiter.Stats(resolveActor(actor))
}

// ResetRateLimit clears the window of actor, or every window when actor is
// empty.
func (e *Engine) ResetRateLimit(actor string) {
	e.limiter.Reset(actor)
}

func (e *Engine) stringList(path string) []string {
	val, ok := GetPath(e.doc, path)
	if !ok {
		return nil
	}
	return StringList(val)
}

// StringList converts a list value to strings. A single string is a
// one-element list; non-string items are skipped.
func StringList(val any) []string {
	switch v := val.(type) {
	case string:
		return []string{v}
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) (string, error) {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok && path != "~" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", devkiterr.Wrap(err, devkiterr.CodeConfigPathInvalid, "resolving home directory")
	}
	return filepath.Join(home, rest), nil
}

func marshalYAML(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, devkiterr.Wrap(err, devkiterr.CodeConfigWriteFailure, "encoding yaml")
	}
	if err := enc.Close(); err != nil {
		return nil, devkiterr.Wrap(err, devkiterr.CodeConfigWriteFailure, "encoding yaml")
	}
	return buf.Bytes(), nil
}

func marshalJSON(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, devkiterr.Wrap(err, devkiterr.CodeConfigWriteFailure, "encoding json")
	}
	return buf.Bytes(), nil
}
