// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

package plugin

import (
	"context"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/devkit-dev/devkit/internal/plugin/manifest"
	devkiterr "github.com/devkit-dev/devkit/pkg/errors"
)

// Runtime executes one kind of entry point.
type Runtime interface {
	Name() string

	// Extensions lists the entry point file extensions served, with the
	// leading dot.
	Extensions() []string

	// Verify inspects the entry point without executing any of it and
	// checks that it defines RequiredCapabilities.
	Verify(ctx context.Context, path string) error

	// Load instantiates a verified entry point.
	Load(ctx context.Context, path string, m *manifest.Manifest) (Plugin, error)
}

// Registry maps entry point extensions to runtimes.
type Registry struct {
	mu    sync.RWMutex
	byExt map[string]Runtime
}

// NewRegistry creates a registry holding runtimes.
func NewRegistry(runtimes ...Runtime) (*Registry, error) {
	r := &Registry{byExt: make(map[string]Runtime)}
	for _, rt := range runtimes {
		if err := r.Register(rt); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds rt for each of its extensions. An extension already served
// by another runtime is a conflict.
func (r *Registry) Register(rt Runtime) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	exts := rt.Extensions()
	for _, ext := range exts {
		if existing, ok := r.byExt[strings.ToLower(ext)]; ok {
			return devkiterr.Errorf(devkiterr.CodePluginDuplicateConflict,
				"extension %s already served by runtime %s", ext, existing.Name())
		}
	}
	for _, ext := range exts {
		r.byExt[strings.ToLower(ext)] = rt
	}
	return nil
}

// Lookup returns the runtime for an entry point path.
func (r *Registry) Lookup(entryPoint string) (Runtime, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext := strings.ToLower(filepath.Ext(entryPoint))
	rt, ok := r.byExt[ext]
	if !ok {
		return nil, devkiterr.Errorf(devkiterr.CodePluginRuntimeUnsupported,
			"no runtime for entry point %s (supported: %s)",
			filepath.Base(entryPoint), strings.Join(r.extensionsLocked(), ", "))
	}
	return rt, nil
}

// Extensions returns the registered extensions, sorted.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.extensionsLocked()
}

func (r *Registry) extensionsLocked() []string {
	return slices.Sorted(maps.Keys(r.byExt))
}
