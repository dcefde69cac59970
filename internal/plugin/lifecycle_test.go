// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

package plugin_test

import (
	"testing"

	"github.com/devkit-dev/devkit/internal/plugin"
	devkiterr "github.com/devkit-dev/devkit/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStage_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		from    plugin.Stage
		to      plugin.Stage
		allowed bool
	}{
		{"discovered to manifest parsed", plugin.StageDiscovered, plugin.StageManifestParsed, true},
		{"manifest parsed to structure valid", plugin.StageManifestParsed, plugin.StageManifestStructureValid, true},
		{"structure valid to integrity verified", plugin.StageManifestStructureValid, plugin.StageIntegrityVerified, true},
		{"integrity verified to interface verified", plugin.StageIntegrityVerified, plugin.StageInterfaceVerified, true},
		{"interface verified to loaded", plugin.StageInterfaceVerified, plugin.StageLoaded, true},
		{"loaded to hooks registered", plugin.StageLoaded, plugin.StageHooksRegistered, true},
		{"discovered to rejected", plugin.StageDiscovered, plugin.StageRejected, true},
		{"interface verified to rejected", plugin.StageInterfaceVerified, plugin.StageRejected, true},
		{"loaded to rejected", plugin.StageLoaded, plugin.StageRejected, true},
		// Invalid transitions
		{"skip integrity", plugin.StageManifestStructureValid, plugin.StageInterfaceVerified, false},
		{"discovered to loaded", plugin.StageDiscovered, plugin.StageLoaded, false},
		{"backwards", plugin.StageLoaded, plugin.StageManifestParsed, false},
		{"out of rejected", plugin.StageRejected, plugin.StageManifestParsed, false},
		{"hooks registered to rejected", plugin.StageHooksRegistered, plugin.StageRejected, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, plugin.ValidTransition(tt.from, tt.to))
		})
	}
}

func TestStage_String(t *testing.T) {
	assert.Equal(t, "integrity_verified", plugin.StageIntegrityVerified.String())
	assert.Equal(t, "hooks_registered", plugin.StageHooksRegistered.String())
	assert.Equal(t, "unknown", plugin.Stage(99).String())
}

func TestRecord_StageTransition(t *testing.T) {
	rec := plugin.NewRecord("/plugins/docker")
	assert.Equal(t, plugin.StageDiscovered, rec.Stage())
	assert.Equal(t, "docker", rec.Name())

	require.NoError(t, rec.TransitionTo(plugin.StageManifestParsed))
	assert.Equal(t, plugin.StageManifestParsed, rec.Stage())

	err := rec.TransitionTo(plugin.StageLoaded) // invalid: skips the gates
	require.Error(t, err)
	assert.True(t, devkiterr.HasCode(err, devkiterr.CodePluginLifecycleTransition))
	assert.Equal(t, plugin.StageManifestParsed, rec.Stage()) // state unchanged
}

func TestRecord_Reject(t *testing.T) {
	rec := plugin.NewRecord("/plugins/docker")
	require.NoError(t, rec.TransitionTo(plugin.StageManifestParsed))

	cause := devkiterr.New(devkiterr.CodePluginManifestValidateInval, "invalid manifest: missing required field: author")
	require.NoError(t, rec.Reject(plugin.StageManifestStructureValid, cause))

	assert.True(t, rec.Rejected())
	assert.Equal(t, plugin.StageManifestStructureValid, rec.FailedGate())
	assert.Equal(t, "manifest_structure_valid: invalid manifest: missing required field: author", rec.Reason())
	assert.True(t, devkiterr.HasCode(rec.Err(), devkiterr.CodePluginManifestValidateInval))
	assert.Equal(t, "manifest_structure_valid", devkiterr.FieldsOf(rec.Err())["stage"])

	// Rejected is terminal.
	require.Error(t, rec.Reject(plugin.StageLoaded, cause))
	assert.Equal(t, plugin.StageManifestStructureValid, rec.FailedGate())
}
