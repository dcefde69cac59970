// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

//go:build !windows

package config_test

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/devkit-dev/devkit/internal/config"
	devkiterr "github.com/devkit-dev/devkit/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func writeWithMode(t *testing.T, path, content string, perm os.FileMode) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
}

func fileMode(t *testing.T, path string) os.FileMode {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return info.Mode().Perm()
}

func TestSecureFile(t *testing.T) {
	tests := []struct {
		name       string
		perm       os.FileMode
		expectWarn bool
		wantPerm   os.FileMode
	}{
		{name: "secure 0600", perm: 0o600, wantPerm: 0o600},
		{name: "secure 0400", perm: 0o400, wantPerm: 0o400},
		{name: "insecure 0644 (group readable)", perm: 0o644, expectWarn: true, wantPerm: 0o600},
		{name: "insecure 0604 (other readable)", perm: 0o604, expectWarn: true, wantPerm: 0o600},
		{name: "insecure 0666 (group and other writable)", perm: 0o666, expectWarn: true, wantPerm: 0o600},
		{name: "insecure 0620 (group writable)", perm: 0o620, expectWarn: true, wantPerm: 0o600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			writeWithMode(t, path, "global: {}\n", tt.perm)

			var buf bytes.Buffer
			err := config.SecureFile(path, captureLogger(&buf))
			require.NoError(t, err)

			assert.Equal(t, tt.wantPerm, fileMode(t, path))
			if tt.expectWarn {
				assert.Contains(t, buf.String(), "insecure permissions")
				assert.Contains(t, buf.String(), path)
			} else {
				assert.NotContains(t, buf.String(), "insecure permissions")
			}
		})
	}
}

func TestSecureFile_MissingFile(t *testing.T) {
	err := config.SecureFile(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
	assert.True(t, devkiterr.IsStructural(err))
}

func TestSecureFile_ForeignOwner(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("changing file ownership requires root")
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeWithMode(t, path, "global: {}\n", 0o600)
	require.NoError(t, os.Chown(path, 65534, 65534))

	err := config.SecureFile(path, nil)
	require.Error(t, err)
	assert.True(t, devkiterr.IsSecurity(err))
	assert.True(t, devkiterr.HasCode(err, devkiterr.CodeSecurityOwnershipDenied))
}

func TestVerifyOwnerOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	writeWithMode(t, path, "a: 1\n", 0o600)
	assert.NoError(t, config.VerifyOwnerOnly(path))

	require.NoError(t, os.Chmod(path, 0o640))
	err := config.VerifyOwnerOnly(path)
	require.Error(t, err)
	assert.True(t, devkiterr.HasCode(err, devkiterr.CodeSecurityPermissionDenied))
}

func TestWriteFileAtomic(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	path := filepath.Join(dir, "config.yaml")

	require.NoError(t, config.WriteFileAtomic(path, []byte("first: 1\n")))
	require.NoError(t, config.WriteFileAtomic(path, []byte("second: 2\n")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second: 2\n", string(data))
	assert.Equal(t, config.OwnerOnly, fileMode(t, path))

	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files must not be left behind")
	assert.Equal(t, "config.yaml", entries[0].Name())
}

func TestWriteFileAtomic_TightensExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeWithMode(t, path, "old: true\n", 0o666)

	require.NoError(t, config.WriteFileAtomic(path, []byte("new: true\n")))
	assert.Equal(t, config.OwnerOnly, fileMode(t, path))
}

func TestBootstrapUserFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".devkit", "config.yaml")

	created, err := config.BootstrapUserFile(path, nil)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, config.OwnerOnly, fileMode(t, path))

	dirInfo, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# global:")
	assert.Contains(t, string(data), "#   setup_environment: development")

	created, err = config.BootstrapUserFile(path, nil)
	require.NoError(t, err)
	assert.False(t, created)
}
