// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

package config_test

import (
	"testing"

	"github.com/devkit-dev/devkit/internal/config"
	devkiterr "github.com/devkit-dev/devkit/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMemoryLimit(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"65536", 65536},
		{"64Ki", 64 << 10},
		{"16Mi", 16 << 20},
		{" 1Gi ", 1 << 30},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := config.ParseMemoryLimit(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseMemoryLimit_Invalid(t *testing.T) {
	for _, in := range []string{"", "0", "-1Mi", "16MB", "1.5Gi", "99999999999999999999Gi", "9999999999999Gi"} {
		t.Run(in, func(t *testing.T) {
			_, err := config.ParseMemoryLimit(in)
			require.Error(t, err)
			assert.True(t, devkiterr.HasCode(err, devkiterr.CodeConfigValidateInvalidValue))
		})
	}
}
