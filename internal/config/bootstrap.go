// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

package config

import (
	"bufio"
	"bytes"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	devkiterr "github.com/devkit-dev/devkit/pkg/errors"
)

// DefaultUserConfigPath returns ~/.devkit/config.yaml.
func DefaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", devkiterr.Wrap(err, devkiterr.CodeConfigLoadReadFailure, "resolving home directory")
	}
	return filepath.Join(home, ".devkit", "config.yaml"), nil
}

// BootstrapUserFile prepares the user file for loading. A missing file is
// created from the built-in defaults with every line commented out, so it
// documents the available keys without masking project-level sources. An
// existing file goes through SecureFile. The boolean reports whether the
// file was created.
func BootstrapUserFile(path string, logger *slog.Logger) (bool, error) {
	if logger == nil {
		logger = slog.Default()
	}

	_, err := os.Stat(path)
	if err == nil {
		return false, SecureFile(path, logger)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return false, devkiterr.Wrap(err, devkiterr.CodeConfigLoadReadFailure,
			"checking user config", devkiterr.FieldPath(path))
	}

	if err := WriteFileAtomic(path, commentedDefaults()); err != nil {
		return false, err
	}
	logger.Info("created default config", "path", path)
	return true, nil
}

func commentedDefaults() []byte {
	var out bytes.Buffer
	out.WriteString("# User overrides for devkit. Uncomment and edit keys to override the\n")
	out.WriteString("# built-in defaults shown below.\n#\n")

	sc := bufio.NewScanner(bytes.NewReader(DefaultConfigYAML))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			out.WriteString("\n")
		case line[0] == '#':
			out.WriteString(line + "\n")
		default:
			out.WriteString("# " + line + "\n")
		}
	}
	return out.Bytes()
}
