// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

package plugin_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/devkit-dev/devkit/internal/plugin"
	devkiterr "github.com/devkit-dev/devkit/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const starEntry = `
def initialize(config):
    pass

def get_roles():
    return {"rust": "roles/rust"}

def get_hooks():
    return {}

def validate():
    return []
`

func TestValidator_AcceptsValidPlugin(t *testing.T) {
	h := newHarness(t)
	dir := writePlugin(t, t.TempDir(), "docker", pluginFixture{name: "docker"})

	rec := h.validator().Validate(context.Background(), dir)

	require.False(t, rec.Rejected(), rec.Reason())
	assert.Equal(t, plugin.StageInterfaceVerified, rec.Stage())
	assert.Equal(t, "docker", rec.Name())
	assert.Equal(t, "fake", rec.Runtime())
	assert.Equal(t, filepath.Join(dir, "plugin.fake"), rec.EntryPoint())
	assert.Contains(t, h.logs.String(), "plugin manifest has no checksum")
}

func TestValidator_StarlarkEntryPoint(t *testing.T) {
	h := newHarness(t)
	dir := writePlugin(t, t.TempDir(), "rust", pluginFixture{name: "rust", entry: "plugin.star", source: starEntry, stamp: true})

	rec := h.validator(plugin.WithRequireChecksum(true)).Validate(context.Background(), dir)

	require.False(t, rec.Rejected(), rec.Reason())
	assert.Equal(t, "starlark", rec.Runtime())
}

func TestValidator_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, root string) string
		opts    []plugin.ValidatorOption
		gate    plugin.Stage
		code    devkiterr.Code
		snippet string
	}{
		{
			name: "missing manifest",
			setup: func(t *testing.T, root string) string {
				return writePlugin(t, root, "p", pluginFixture{noManifest: true})
			},
			gate:    plugin.StageManifestParsed,
			code:    devkiterr.CodePluginManifestMissing,
			snippet: "no manifest found",
		},
		{
			name: "malformed manifest",
			setup: func(t *testing.T, root string) string {
				dir := writePlugin(t, root, "p", pluginFixture{noManifest: true})
				require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte("name: [broken"), 0o644))
				return dir
			},
			gate: plugin.StageManifestParsed,
			code: devkiterr.CodePluginManifestParseInvalid,
		},
		{
			name: "invalid version",
			setup: func(t *testing.T, root string) string {
				return writePlugin(t, root, "p", pluginFixture{name: "p", version: "1.2"})
			},
			gate:    plugin.StageManifestStructureValid,
			code:    devkiterr.CodePluginManifestValidateInval,
			snippet: "invalid manifest",
		},
		{
			name: "host version too old",
			setup: func(t *testing.T, root string) string {
				return writePlugin(t, root, "p", pluginFixture{name: "p", extra: "requires:\n  devkit: \">=2.0.0\"\n"})
			},
			opts:    []plugin.ValidatorOption{plugin.WithHostVersion("1.4.0")},
			gate:    plugin.StageManifestStructureValid,
			code:    devkiterr.CodePluginRequiresUnsatisfied,
			snippet: "requires devkit",
		},
		{
			name: "tampered manifest",
			setup: func(t *testing.T, root string) string {
				dir := writePlugin(t, root, "p", pluginFixture{name: "p", stamp: true})
				path := filepath.Join(dir, "manifest.yaml")
				data, err := os.ReadFile(path)
				require.NoError(t, err)
				data = []byte(strings.Replace(string(data), "p plugin", "totally harmless", 1))
				require.NoError(t, os.WriteFile(path, data, 0o644))
				return dir
			},
			gate:    plugin.StageIntegrityVerified,
			code:    devkiterr.CodePluginIntegrityTampered,
			snippet: "tampered",
		},
		{
			name: "unsigned with checksum required",
			setup: func(t *testing.T, root string) string {
				return writePlugin(t, root, "p", pluginFixture{name: "p"})
			},
			opts:    []plugin.ValidatorOption{plugin.WithRequireChecksum(true)},
			gate:    plugin.StageIntegrityVerified,
			code:    devkiterr.CodePluginIntegrityMissing,
			snippet: "missing integrity checksum",
		},
		{
			name: "missing capabilities",
			setup: func(t *testing.T, root string) string {
				return writePlugin(t, root, "p", pluginFixture{name: "p", source: "incomplete"})
			},
			gate:    plugin.StageInterfaceVerified,
			code:    devkiterr.CodePluginInterfaceMissing,
			snippet: "missing required functions",
		},
		{
			name: "starlark runs code at load time",
			setup: func(t *testing.T, root string) string {
				return writePlugin(t, root, "p", pluginFixture{name: "p", entry: "plugin.star", source: "print('hi')\n" + starEntry})
			},
			gate:    plugin.StageInterfaceVerified,
			code:    devkiterr.CodePluginInterfaceInvalid,
			snippet: "runs code at load time",
		},
		{
			name: "unsupported entry point",
			setup: func(t *testing.T, root string) string {
				return writePlugin(t, root, "p", pluginFixture{name: "p", entry: "plugin.py", source: "print('hi')"})
			},
			gate:    plugin.StageInterfaceVerified,
			code:    devkiterr.CodePluginRuntimeUnsupported,
			snippet: "no runtime for entry point plugin.py",
		},
		{
			name: "entry point missing",
			setup: func(t *testing.T, root string) string {
				dir := writePlugin(t, root, "p", pluginFixture{name: "p"})
				require.NoError(t, os.Remove(filepath.Join(dir, "plugin.fake")))
				return dir
			},
			gate:    plugin.StageInterfaceVerified,
			code:    devkiterr.CodePluginInterfaceMissing,
			snippet: "entry point plugin.fake not found",
		},
		{
			name: "entry point escapes through symlink",
			setup: func(t *testing.T, root string) string {
				outside := filepath.Join(t.TempDir(), "outside.fake")
				require.NoError(t, os.WriteFile(outside, []byte("ok"), 0o644))
				dir := writePlugin(t, root, "p", pluginFixture{name: "p"})
				entry := filepath.Join(dir, "plugin.fake")
				require.NoError(t, os.Remove(entry))
				require.NoError(t, os.Symlink(outside, entry))
				return dir
			},
			gate:    plugin.StageInterfaceVerified,
			code:    devkiterr.CodePluginInterfaceInvalid,
			snippet: "outside the plugin directory",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			dir := tt.setup(t, t.TempDir())

			rec := h.validator(tt.opts...).Validate(context.Background(), dir)

			require.True(t, rec.Rejected())
			assert.Equal(t, tt.gate, rec.FailedGate())
			assert.True(t, devkiterr.HasCode(rec.Err(), tt.code), "code: %s", devkiterr.CodeOf(rec.Err()))
			assert.True(t, devkiterr.IsPlugin(rec.Err()))
			assert.True(t, strings.HasPrefix(rec.Reason(), tt.gate.String()+": "), rec.Reason())
			assert.Contains(t, rec.Reason(), tt.snippet)
		})
	}
}

func TestValidator_TamperingIsSecurityError(t *testing.T) {
	h := newHarness(t)
	dir := writePlugin(t, t.TempDir(), "p", pluginFixture{name: "p", stamp: true})
	path := filepath.Join(dir, "manifest.yaml")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(string(data), "p plugin", "evil plugin", 1)), 0o644))

	rec := h.validator().Validate(context.Background(), dir)

	require.True(t, rec.Rejected())
	assert.True(t, devkiterr.IsSecurity(rec.Err()))
	assert.Contains(t, h.logs.String(), "level=ERROR")
	assert.Contains(t, h.logs.String(), "plugin rejected")
}

func TestValidator_NonSemverHostSkipsRequirement(t *testing.T) {
	h := newHarness(t)
	dir := writePlugin(t, t.TempDir(), "p", pluginFixture{name: "p", extra: "requires:\n  devkit: \">=2.0.0\"\n"})

	rec := h.validator(plugin.WithHostVersion("dev")).Validate(context.Background(), dir)
	assert.False(t, rec.Rejected(), rec.Reason())
}

func TestValidator_CancelledContext(t *testing.T) {
	h := newHarness(t)
	dir := writePlugin(t, t.TempDir(), "p", pluginFixture{name: "p"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := h.validator().Validate(ctx, dir)
	require.True(t, rec.Rejected())
	assert.Equal(t, plugin.StageManifestParsed, rec.FailedGate())
	assert.ErrorIs(t, rec.Err(), context.Canceled)
}
