// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

package config

import (
	_ "embed"

	"github.com/devkit-dev/devkit/internal/config/schema"
	devkiterr "github.com/devkit-dev/devkit/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed devkit.yaml.default
var DefaultConfigYAML []byte

// Defaults parses the built-in default document. Each call returns a fresh
// copy.
func Defaults() (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(DefaultConfigYAML, &doc); err != nil {
		return nil, devkiterr.Wrap(err, devkiterr.CodeConfigParseInvalidFormat,
			"parsing built-in defaults", devkiterr.FieldSource(string(KindDefaults)))
	}
	return Normalize(doc), nil
}

// DefaultSchema describes the devkit document. Only the global section is
// strict; roles, groups and platforms are free-form.
func DefaultSchema() *schema.Schema {
	return schema.Object(map[string]*schema.Schema{
		"global": schema.StrictObject(map[string]*schema.Schema{
			"setup_name":        schema.String(),
			"setup_environment": schema.String("development", "staging", "production"),
			"enabled_roles":     schema.ArrayOf(schema.String(), 0),
			"disabled_roles":    schema.ArrayOf(schema.String(), 0),
			"logging": schema.Object(map[string]*schema.Schema{
				"enabled": schema.Boolean(),
				"level":   schema.String("debug", "info", "warning", "error"),
				"file":    schema.String(),
				"archive": schema.Boolean(),
			}),
			"performance": schema.Object(map[string]*schema.Schema{
				"parallel_tasks":  schema.Integer(),
				"timeout":         schema.Integer(),
				"cache_downloads": schema.Boolean(),
			}),
			"backup": schema.Object(map[string]*schema.Schema{
				"enabled":     schema.Boolean(),
				"path":        schema.String(),
				"max_backups": schema.Integer(),
				"compress":    schema.Boolean(),
			}),
			"verification": schema.Object(map[string]*schema.Schema{
				"enabled":         schema.Boolean(),
				"run_after_setup": schema.Boolean(),
				"detailed_report": schema.Boolean(),
			}),
			"security": schema.Object(map[string]*schema.Schema{
				"enable_ssh_setup":     schema.Boolean(),
				"enable_gpg_setup":     schema.Boolean(),
				"enable_audit_logging": schema.Boolean(),
				"require_verification": schema.Boolean(),
				"rate_limit": schema.Object(map[string]*schema.Schema{
					"max_operations": schema.Integer(),
					"window":         schema.String(),
				}),
			}),
			"updates": schema.Object(map[string]*schema.Schema{
				"check_for_updates": schema.Boolean(),
				"auto_update_tools": schema.Boolean(),
				"update_interval":   schema.String("daily", "weekly", "monthly"),
			}),
		}, "setup_environment", "enabled_roles"),
		"roles":     schema.Object(nil),
		"groups":    schema.Object(nil),
		"platforms": schema.Object(nil),
		"plugins": schema.Object(map[string]*schema.Schema{
			"enabled":          schema.Boolean(),
			"load_custom":      schema.Boolean(),
			"custom_path":      schema.String(),
			"paths":            schema.ArrayOf(schema.String(), 0),
			"require_checksum": schema.Boolean(),
			"hooks":            schema.Object(nil),
			"limits": schema.Object(map[string]*schema.Schema{
				"wasm_memory":        schema.String(),
				"wasm_timeout":       schema.String(),
				"starlark_max_steps": schema.Integer(),
			}),
		}),
	}, "global")
}
