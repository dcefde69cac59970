// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

package plugin_test

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/devkit-dev/devkit/internal/plugin"
	"github.com/devkit-dev/devkit/internal/plugin/manifest"
	"github.com/devkit-dev/devkit/internal/plugin/star"
	devkiterr "github.com/devkit-dev/devkit/pkg/errors"
	"github.com/stretchr/testify/require"
)

// fakeRuntime serves .fake entry points. An entry point verifies when its
// content is "ok"; Load hands out the fakePlugin registered for the manifest
// name.
type fakeRuntime struct {
	mu      sync.Mutex
	plugins map[string]*fakePlugin
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{plugins: make(map[string]*fakePlugin)}
}

func (r *fakeRuntime) add(name string, p *fakePlugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[name] = p
}

func (r *fakeRuntime) Name() string { return "fake" }

func (r *fakeRuntime) Extensions() []string { return []string{".fake"} }

func (r *fakeRuntime) Verify(_ context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(data)) != "ok" {
		return devkiterr.New(devkiterr.CodePluginInterfaceMissing, "missing required functions: validate")
	}
	return nil
}

func (r *fakeRuntime) Load(_ context.Context, _ string, m *manifest.Manifest) (plugin.Plugin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plugins[m.Name]
	if !ok {
		p = &fakePlugin{}
	}
	return p, nil
}

type fakePlugin struct {
	initErr  error
	problems []string
	roles    map[string]string
	hooks    []plugin.Hook
	panicIn  string

	initialized map[string]any
	closed      bool
}

func (p *fakePlugin) maybePanic(call string) {
	if p.panicIn == call {
		panic(call + " exploded")
	}
}

func (p *fakePlugin) Initialize(_ context.Context, cfg map[string]any) error {
	p.maybePanic("initialize")
	p.initialized = cfg
	return p.initErr
}

func (p *fakePlugin) Roles(context.Context) (map[string]string, error) {
	p.maybePanic("get_roles")
	return p.roles, nil
}

func (p *fakePlugin) Hooks(context.Context) ([]plugin.Hook, error) {
	p.maybePanic("get_hooks")
	return p.hooks, nil
}

func (p *fakePlugin) Validate(context.Context) ([]string, error) {
	p.maybePanic("validate")
	return p.problems, nil
}

func (p *fakePlugin) Close(context.Context) error {
	p.closed = true
	p.maybePanic("close")
	return nil
}

// recorder builds hooks that append "<plugin>:<name>" to calls.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (rc *recorder) hook(stage plugin.HookStage, label string, result error) plugin.Hook {
	return plugin.Hook{Stage: stage, Name: label, Run: func(_ context.Context, hctx *plugin.HookContext) error {
		rc.mu.Lock()
		rc.calls = append(rc.calls, label)
		rc.mu.Unlock()
		hctx.Payload[label] = true
		return result
	}}
}

func (rc *recorder) panicking(stage plugin.HookStage, label string) plugin.Hook {
	return plugin.Hook{Stage: stage, Name: label, Run: func(context.Context, *plugin.HookContext) error {
		rc.mu.Lock()
		rc.calls = append(rc.calls, label)
		rc.mu.Unlock()
		panic(fmt.Sprintf("%s blew up", label))
	}}
}

type pluginFixture struct {
	name       string
	version    string
	entry      string // file name of the entry point
	source     string
	extra      string // additional manifest YAML
	stamp      bool
	noManifest bool
}

// writePlugin creates root/dir with a manifest and entry point.
func writePlugin(t *testing.T, root, dir string, f pluginFixture) string {
	t.Helper()
	path := filepath.Join(root, dir)
	require.NoError(t, os.MkdirAll(path, 0o755))

	if f.version == "" {
		f.version = "1.0.0"
	}
	if f.entry == "" {
		f.entry = "plugin.fake"
	}
	if f.source == "" {
		f.source = "ok"
	}
	require.NoError(t, os.WriteFile(filepath.Join(path, f.entry), []byte(f.source), 0o644))
	if f.noManifest {
		return path
	}

	data := fmt.Sprintf("name: %s\nversion: %s\nauthor: Devkit Team\ndescription: %s plugin\nentry_point: %s\n%s",
		f.name, f.version, f.name, f.entry, f.extra)
	m, err := manifest.Parse([]byte(data))
	require.NoError(t, err)
	m.Path = filepath.Join(path, "manifest.yaml")
	if f.stamp {
		_, err := m.Stamp()
		require.NoError(t, err)
	}
	require.NoError(t, m.Write())
	return path
}

type harness struct {
	fake     *fakeRuntime
	registry *plugin.Registry
	logs     *bytes.Buffer
	logger   *slog.Logger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fake := newFakeRuntime()
	registry, err := plugin.NewRegistry(fake, star.New())
	require.NoError(t, err)

	var buf bytes.Buffer
	return &harness{
		fake:     fake,
		registry: registry,
		logs:     &buf,
		logger:   slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}
}

func (h *harness) validator(opts ...plugin.ValidatorOption) *plugin.Validator {
	return plugin.NewValidator(h.registry, append([]plugin.ValidatorOption{plugin.WithValidatorLogger(h.logger)}, opts...)...)
}

func (h *harness) loader(opts ...plugin.LoaderOption) *plugin.Loader {
	return plugin.NewLoader(h.validator(), h.registry, append([]plugin.LoaderOption{plugin.WithLogger(h.logger)}, opts...)...)
}
