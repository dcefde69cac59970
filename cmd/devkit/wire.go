// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

package main

import (
	"context"
	"path/filepath"
	"slices"

	"github.com/charmbracelet/lipgloss"
	"github.com/devkit-dev/devkit/internal/config"
	"github.com/devkit-dev/devkit/internal/plugin"
	"github.com/devkit-dev/devkit/internal/plugin/star"
	"github.com/devkit-dev/devkit/internal/plugin/wasm"
	devkiterr "github.com/devkit-dev/devkit/pkg/errors"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// loadEngine creates the configuration engine from the global flags and
// loads every source. With persist false, changes stay in memory and the
// user file is never created.
func (a *app) loadEngine(persist bool) (*config.Engine, error) {
	opts := []config.Option{config.WithLogger(a.logger)}
	if p := a.v.GetString(keyUserConfig); p != "" {
		path, err := config.ExpandHome(p)
		if err != nil {
			return nil, err
		}
		opts = append(opts, config.WithUserConfig(path))
	}
	if !persist {
		opts = append(opts, config.WithoutPersistence())
	}

	eng, err := config.NewEngine(a.v.GetString(keyProjectRoot), opts...)
	if err != nil {
		return nil, err
	}
	if _, err := eng.LoadAll(a.v.GetString(keyGroup), a.v.GetString(keyPlatform)); err != nil {
		return nil, err
	}

	if !a.v.GetBool(keyVerbose) {
		if s, err := eng.Settings(); err == nil && s.Global.Logging.Level == "debug" {
			a.setLogLevel(true)
		}
	}
	return eng, nil
}

// pluginSet is a loader together with the runtimes it needs closed.
type pluginSet struct {
	validator *plugin.Validator
	loader    *plugin.Loader
	roots     []string
	config    config.Document
	close     func(context.Context) error
}

// newPluginSet wires the runtimes, validator and loader for the effective
// configuration. Nothing is discovered yet.
func (a *app) newPluginSet(eng *config.Engine) (*pluginSet, error) {
	settings, err := eng.Settings()
	if err != nil {
		return nil, err
	}
	limits := settings.Plugins.Limits

	wasmRuntime := wasm.New(
		wasm.WithMemoryLimit(limits.WasmMemoryBytes()),
		wasm.WithExecTimeout(limits.WasmTimeout),
	)
	registry, err := plugin.NewRegistry(
		star.New(star.WithMaxSteps(limits.StarlarkMaxSteps), star.WithLogger(a.logger)),
		wasmRuntime,
	)
	if err != nil {
		return nil, devkiterr.Join(err, wasmRuntime.Close(context.Background()))
	}

	validator := plugin.NewValidator(registry,
		plugin.WithHostVersion(version),
		plugin.WithRequireChecksum(settings.Plugins.RequireChecksum),
		plugin.WithValidatorLogger(a.logger),
	)
	loader := plugin.NewLoader(validator, registry,
		plugin.WithConfig(eng.Document()),
		plugin.WithLogger(a.logger),
	)

	roots, err := a.pluginRoots(settings.Plugins)
	if err != nil {
		return nil, devkiterr.Join(err, wasmRuntime.Close(context.Background()))
	}

	return &pluginSet{
		validator: validator,
		loader:    loader,
		roots:     roots,
		config:    eng.Document(),
		close: func(ctx context.Context) error {
			return devkiterr.Join(loader.Close(ctx), wasmRuntime.Close(ctx))
		},
	}, nil
}

// pluginRoots lists the directories searched for plugins: the project's
// plugins/ directory, the custom path, configured paths and --plugin-dir
// flags, in that order. Only the flags apply when plugins are disabled.
func (a *app) pluginRoots(s config.PluginSettings) ([]string, error) {
	var candidates []string
	if s.Enabled {
		candidates = append(candidates, filepath.Join(a.v.GetString(keyProjectRoot), "plugins"))
		if s.LoadCustom && s.CustomPath != "" {
			candidates = append(candidates, s.CustomPath)
		}
		candidates = append(candidates, s.Paths...)
	}
	candidates = append(candidates, a.v.GetStringSlice(keyPluginDirs)...)

	roots := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c == "" {
			continue
		}
		path, err := config.ExpandHome(c)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(roots, path) {
			roots = append(roots, path)
		}
	}
	return roots, nil
}
