// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

//go:build !windows

package config

import (
	"io/fs"
	"log/slog"
	"os"

	devkiterr "github.com/devkit-dev/devkit/pkg/errors"
	"golang.org/x/sys/unix"
)

// OwnerOnly is the mode of every file devkit creates or rewrites.
const OwnerOnly fs.FileMode = 0o600

const groupOrOther fs.FileMode = 0o077

// SecureFile checks an existing configuration file before it is read. A file
// owned by another user is a security error. Group or other permission bits
// are stripped with a warning.
func SecureFile(path string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return devkiterr.Wrap(err, devkiterr.CodeConfigLoadReadFailure,
			"checking config file", devkiterr.FieldPath(path))
	}
	if err := checkOwner(path, st.Uid); err != nil {
		return err
	}

	perm := fs.FileMode(st.Mode).Perm()
	if perm&groupOrOther == 0 {
		return nil
	}

	logger.Warn("config file has insecure permissions, restricting to owner",
		"path", path,
		"mode", perm,
		"recommended", OwnerOnly,
	)
	if err := os.Chmod(path, OwnerOnly); err != nil {
		return devkiterr.Wrap(err, devkiterr.CodeSecurityPermissionDenied,
			"restricting config file permissions", devkiterr.FieldPath(path))
	}
	return VerifyOwnerOnly(path)
}

// VerifyOwnerOnly re-stats path and fails closed unless it is owned by the
// current user with mode 0600.
func VerifyOwnerOnly(path string) error {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return devkiterr.Wrap(err, devkiterr.CodeSecurityPermissionDenied,
			"verifying config file permissions", devkiterr.FieldPath(path))
	}
	if err := checkOwner(path, st.Uid); err != nil {
		return err
	}
	if perm := fs.FileMode(st.Mode).Perm(); perm != OwnerOnly {
		return devkiterr.New(devkiterr.CodeSecurityPermissionDenied,
			"config file mode is "+perm.String()+", expected "+OwnerOnly.String(),
			devkiterr.FieldPath(path))
	}
	return nil
}

func checkOwner(path string, uid uint32) error {
	if current := uint32(unix.Getuid()); uid != current {
		return devkiterr.New(devkiterr.CodeSecurityOwnershipDenied,
			"config file is owned by another user",
			devkiterr.FieldPath(path),
			devkiterr.Field("owner_uid", uid),
			devkiterr.Field("current_uid", current),
		)
	}
	return nil
}
