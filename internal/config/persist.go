// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

package config

import (
	"os"
	"path/filepath"

	devkiterr "github.com/devkit-dev/devkit/pkg/errors"
)

// WriteFileAtomic replaces path with data. The data is written to a
// temporary file in the same directory, synced, and renamed over path, so
// readers see either the old or the new content. The result is restricted to
// the owner and re-checked; a mode or ownership mismatch is a security error.
//
// There is no cross-process lock. Two concurrent writers cannot tear the
// file, but the last rename wins.
func WriteFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return devkiterr.Wrap(err, devkiterr.CodeConfigWriteFailure,
			"creating config directory", devkiterr.FieldPath(dir))
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return devkiterr.Wrap(err, devkiterr.CodeConfigWriteFailure,
			"creating temporary file", devkiterr.FieldPath(dir))
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err = tmp.Chmod(OwnerOnly); err != nil {
		return devkiterr.Wrap(err, devkiterr.CodeSecurityPermissionDenied,
			"restricting temporary file", devkiterr.FieldPath(tmpName))
	}
	if _, err = tmp.Write(data); err != nil {
		return devkiterr.Wrap(err, devkiterr.CodeConfigWriteFailure,
			"writing temporary file", devkiterr.FieldPath(tmpName))
	}
	if err = tmp.Sync(); err != nil {
		return devkiterr.Wrap(err, devkiterr.CodeConfigWriteFailure,
			"syncing temporary file", devkiterr.FieldPath(tmpName))
	}
	if err = tmp.Close(); err != nil {
		return devkiterr.Wrap(err, devkiterr.CodeConfigWriteFailure,
			"closing temporary file", devkiterr.FieldPath(tmpName))
	}
	if err = os.Rename(tmpName, path); err != nil {
		return devkiterr.Wrap(err, devkiterr.CodeConfigWriteFailure,
			"replacing config file", devkiterr.FieldPath(path))
	}

	if err = os.Chmod(path, OwnerOnly); err != nil {
		return devkiterr.Wrap(err, devkiterr.CodeSecurityPermissionDenied,
			"restricting config file", devkiterr.FieldPath(path))
	}
	return VerifyOwnerOnly(path)
}
