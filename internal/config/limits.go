// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

package config

import (
	"regexp"
	"strconv"
	"strings"

	devkiterr "github.com/devkit-dev/devkit/pkg/errors"
)

var memoryLimitPattern = regexp.MustCompile(`^([1-9][0-9]*)(Ki|Mi|Gi)?$`)

// ParseMemoryLimit parses memory limits like "16Mi", "1Gi", or raw bytes "65536".
func ParseMemoryLimit(limit string) (int64, error) {
	match := memoryLimitPattern.FindStringSubmatch(strings.TrimSpace(limit))
	if len(match) != 3 {
		return 0, devkiterr.Errorf(devkiterr.CodeConfigValidateInvalidValue,
			"memory limit must match <positive-int>[Ki|Mi|Gi], got %q", limit)
	}

	base, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, devkiterr.Wrapf(err, devkiterr.CodeConfigValidateInvalidValue,
			"parsing memory limit %q", limit)
	}

	factor := int64(1)
	switch match[2] {
	case "Ki":
		factor = 1 << 10
	case "Mi":
		factor = 1 << 20
	case "Gi":
		factor = 1 << 30
	}

	value := base * factor
	if value/factor != base {
		return 0, devkiterr.Errorf(devkiterr.CodeConfigValidateInvalidValue,
			"memory limit %q overflows int64", limit)
	}
	return value, nil
}
