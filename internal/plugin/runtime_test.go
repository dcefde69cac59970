// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

package plugin_test

import (
	"testing"

	"github.com/devkit-dev/devkit/internal/plugin"
	"github.com/devkit-dev/devkit/internal/plugin/star"
	devkiterr "github.com/devkit-dev/devkit/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Lookup(t *testing.T) {
	fake := newFakeRuntime()
	registry, err := plugin.NewRegistry(fake, star.New())
	require.NoError(t, err)

	rt, err := registry.Lookup("/plugins/docker/plugin.fake")
	require.NoError(t, err)
	assert.Equal(t, "fake", rt.Name())

	rt, err = registry.Lookup("/plugins/rust/PLUGIN.STAR")
	require.NoError(t, err)
	assert.Equal(t, "starlark", rt.Name())

	_, err = registry.Lookup("/plugins/legacy/plugin.py")
	require.Error(t, err)
	assert.True(t, devkiterr.HasCode(err, devkiterr.CodePluginRuntimeUnsupported))
	assert.Contains(t, err.Error(), "no runtime for entry point plugin.py (supported: .fake, .star)")
}

func TestRegistry_ExtensionConflict(t *testing.T) {
	registry, err := plugin.NewRegistry(newFakeRuntime())
	require.NoError(t, err)

	err = registry.Register(newFakeRuntime())
	require.Error(t, err)
	assert.True(t, devkiterr.HasCode(err, devkiterr.CodePluginDuplicateConflict))

	_, err = plugin.NewRegistry(star.New(), star.New())
	assert.Error(t, err)

	assert.Equal(t, []string{".fake"}, registry.Extensions())
}
