// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	devkiterr "github.com/devkit-dev/devkit/pkg/errors"
	"gopkg.in/yaml.v3"
)

// SourceKind names the origin of a partial document.
type SourceKind string

// Source kinds in ascending precedence.
const (
	KindDefaults    SourceKind = "defaults"
	KindPlatform    SourceKind = "platform"
	KindGroup       SourceKind = "group"
	KindProject     SourceKind = "project"
	KindUser        SourceKind = "user"
	KindEnvironment SourceKind = "environment"
)

// Source is one named origin of a partial document. Path is empty for the
// built-in defaults and the environment.
type Source struct {
	Name string
	Kind SourceKind
	Path string
}

// Loader reads every configuration source and deep-merges them in
// precedence order.
type Loader struct {
	projectRoot string
	userFile    string
	environ     func() []string
	logger      *slog.Logger

	layers map[SourceKind]Document
	loaded []string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithUserFile overrides the user-level configuration file.
func WithUserFile(path string) LoaderOption {
	return func(l *Loader) {
		if path != "" {
			l.userFile = path
		}
	}
}

// WithEnviron replaces os.Environ as the source of override variables.
func WithEnviron(environ []string) LoaderOption {
	return func(l *Loader) {
		l.environ = func() []string { return environ }
	}
}

// WithLoaderLogger sets the logger. A nil logger uses slog.Default().
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader creates a Loader rooted at projectRoot. Without WithUserFile the
// user file is ~/.devkit/config.yaml.
func NewLoader(projectRoot string, opts ...LoaderOption) (*Loader, error) {
	l := &Loader{
		projectRoot: projectRoot,
		environ:     os.Environ,
		logger:      slog.Default(),
		layers:      make(map[SourceKind]Document),
	}
	for _, o := range opts {
		o(l)
	}
	if l.userFile == "" {
		path, err := DefaultUserConfigPath()
		if err != nil {
			return nil, err
		}
		l.userFile = path
	}
	return l, nil
}

// UserFile returns the path of the user-level configuration file.
func (l *Loader) UserFile() string {
	return l.userFile
}

// Sources lists the sources LoadAll reads, in precedence order. Platform and
// group sources are omitted when their name is empty.
func (l *Loader) Sources(group, platform string) []Source {
	cfgDir := filepath.Join(l.projectRoot, "config")
	sources := []Source{{Name: "built-in defaults", Kind: KindDefaults}}
	if platform != "" {
		sources = append(sources, Source{
			Name: "platform " + platform,
			Kind: KindPlatform,
			Path: filepath.Join(cfgDir, "platforms", platform+".yaml"),
		})
	}
	if group != "" {
		sources = append(sources, Source{
			Name: "group " + group,
			Kind: KindGroup,
			Path: filepath.Join(cfgDir, "groups", group+".yaml"),
		})
	}
	return append(sources,
		Source{Name: "project config", Kind: KindProject, Path: filepath.Join(cfgDir, "config.yaml")},
		Source{Name: "user config", Kind: KindUser, Path: l.userFile},
		Source{Name: "environment", Kind: KindEnvironment},
	)
}

// LoadAll reads every source and returns the merged document. A missing file
// source is skipped; a source that exists but cannot be read or parsed aborts
// the load with a structural error naming it.
func (l *Loader) LoadAll(group, platform string) (Document, error) {
	l.layers = make(map[SourceKind]Document)
	l.loaded = nil

	merged := make(Document)
	for _, src := range l.Sources(group, platform) {
		doc, ok, err := l.LoadSource(src)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		l.layers[src.Kind] = doc
		merged = DeepMerge(merged, doc)
		l.logger.Debug("merged configuration source", "source", src.Name, "path", src.Path)
	}

	l.logger.Debug("configuration loaded", "files", len(l.loaded))
	return merged, nil
}

// LoadSource reads a single source. The boolean is false when a file source
// does not exist.
func (l *Loader) LoadSource(src Source) (Document, bool, error) {
	switch src.Kind {
	case KindDefaults:
		doc, err := Defaults()
		if err != nil {
			return nil, false, err
		}
		return doc, true, nil
	case KindEnvironment:
		doc := ParseEnv(l.environ())
		if len(doc) > 0 {
			l.logger.Debug("loaded environment overrides", "prefix", EnvPrefix, "keys", len(Flatten(doc)))
		}
		return doc, true, nil
	}

	doc, err := readFile(src)
	if errors.Is(err, fs.ErrNotExist) {
		l.logger.Debug("configuration source not found, skipping", "source", src.Name, "path", src.Path)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	l.loaded = append(l.loaded, src.Path)
	return doc, true, nil
}

// LoadedFiles returns the files merged by the last LoadAll, in merge order.
func (l *Loader) LoadedFiles() []string {
	out := make([]string, len(l.loaded))
	copy(out, l.loaded)
	return out
}

// Layer returns a copy of the document a source kind contributed to the last
// LoadAll, or an empty document.
func (l *Loader) Layer(kind SourceKind) Document {
	return Clone(l.layers[kind])
}

// readFile decodes a YAML or JSON file. Keys keep their case and spelling,
// and null values are kept. It returns an error wrapping fs.ErrNotExist when
// the file is absent.
func readFile(src Source) (Document, error) {
	data, err := os.ReadFile(src.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, devkiterr.Wrap(err, devkiterr.CodeConfigLoadReadFailure,
			"reading "+src.Name, devkiterr.FieldSource(src.Name), devkiterr.FieldPath(src.Path))
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, devkiterr.Wrap(err, devkiterr.CodeConfigParseInvalidFormat,
			"parsing "+src.Name, devkiterr.FieldSource(src.Name), devkiterr.FieldPath(src.Path))
	}
	return Normalize(doc), nil
}
