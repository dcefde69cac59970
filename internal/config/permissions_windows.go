// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

//go:build windows

package config

import (
	"io/fs"
	"log/slog"
)

// OwnerOnly is the mode of every file devkit creates or rewrites.
const OwnerOnly fs.FileMode = 0o600

// SecureFile is a no-op on Windows, which uses ACLs rather than mode bits.
func SecureFile(path string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("config permission check not implemented on Windows", "path", path)
	return nil
}

// VerifyOwnerOnly is a no-op on Windows.
func VerifyOwnerOnly(string) error {
	return nil
}
