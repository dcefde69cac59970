// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

package config

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/devkit-dev/devkit/internal/ratelimit"
	devkiterr "github.com/devkit-dev/devkit/pkg/errors"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Settings is the typed view of the sections devkit itself consumes.
type Settings struct {
	Global  GlobalSettings `mapstructure:"global"`
	Plugins PluginSettings `mapstructure:"plugins"`
}

type GlobalSettings struct {
	SetupName        string              `mapstructure:"setup_name"`
	SetupEnvironment string              `mapstructure:"setup_environment"`
	EnabledRoles     []string            `mapstructure:"enabled_roles" validate:"dive,required"`
	DisabledRoles    []string            `mapstructure:"disabled_roles" validate:"dive,required"`
	Logging          LoggingSettings     `mapstructure:"logging"`
	Performance      PerformanceSettings `mapstructure:"performance"`
	Security         SecuritySettings    `mapstructure:"security"`
}

type LoggingSettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Level   string `mapstructure:"level"`
	File    string `mapstructure:"file"`
	Archive bool   `mapstructure:"archive"`
}

type PerformanceSettings struct {
	ParallelTasks  int  `mapstructure:"parallel_tasks" validate:"gte=1"`
	Timeout        int  `mapstructure:"timeout" validate:"gte=30"`
	CacheDownloads bool `mapstructure:"cache_downloads"`
}

type SecuritySettings struct {
	EnableAuditLogging bool             `mapstructure:"enable_audit_logging"`
	RateLimit          ratelimit.Config `mapstructure:"rate_limit"`
}

// PluginSettings controls plugin discovery and the trust pipeline.
type PluginSettings struct {
	Enabled         bool         `mapstructure:"enabled"`
	LoadCustom      bool         `mapstructure:"load_custom"`
	CustomPath      string       `mapstructure:"custom_path"`
	Paths           []string     `mapstructure:"paths"`
	RequireChecksum bool         `mapstructure:"require_checksum"`
	Limits          PluginLimits `mapstructure:"limits"`
}

// PluginLimits bounds what plugin code may consume. Zero values keep the
// runtime defaults.
type PluginLimits struct {
	WasmMemory       string        `mapstructure:"wasm_memory" validate:"omitempty,memlimit"`
	WasmTimeout      time.Duration `mapstructure:"wasm_timeout" validate:"gte=0"`
	StarlarkMaxSteps uint64        `mapstructure:"starlark_max_steps"`
}

// WasmMemoryBytes returns the parsed wasm memory limit, or zero when unset.
func (l PluginLimits) WasmMemoryBytes() int64 {
	n, err := ParseMemoryLimit(l.WasmMemory)
	if err != nil {
		return 0
	}
	return n
}

// DecodeSettings decodes the typed view of doc. Scalars are converted
// weakly, so "4" decodes into an int field; values that cannot be converted
// are an invalid-value error.
func DecodeSettings(doc Document) (*Settings, error) {
	v := viper.New()
	if err := v.MergeConfigMap(Clone(doc)); err != nil {
		return nil, devkiterr.Wrap(err, devkiterr.CodeConfigValidateInvalidValue, "preparing settings")
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, devkiterr.Wrap(err, devkiterr.CodeConfigValidateInvalidValue, "decoding settings")
	}
	return &s, nil
}

// RateLimitPath is where the configuration-change limiter is configured.
const RateLimitPath = "global.security.rate_limit"

// DecodeRateLimit decodes only the limiter section of doc, so unrelated
// invalid values cannot affect it. An absent section yields the zero Config.
func DecodeRateLimit(doc Document) (ratelimit.Config, error) {
	var cfg ratelimit.Config
	raw, ok := GetPath(doc, RateLimitPath)
	if !ok || raw == nil {
		return cfg, nil
	}
	if _, isMap := raw.(map[string]any); !isMap {
		return cfg, devkiterr.Errorf(devkiterr.CodeRateLimitConfigInvalid,
			"%s must be a mapping, got %T", RateLimitPath, raw)
	}

	v := viper.New()
	if err := v.MergeConfigMap(Clone(doc)); err != nil {
		return cfg, devkiterr.Wrap(err, devkiterr.CodeRateLimitConfigInvalid, "preparing rate limit",
			devkiterr.FieldPath(RateLimitPath))
	}
	if err := v.UnmarshalKey(RateLimitPath, &cfg); err != nil {
		return cfg, devkiterr.Wrap(err, devkiterr.CodeRateLimitConfigInvalid, "decoding rate limit",
			devkiterr.FieldPath(RateLimitPath))
	}
	return cfg, nil
}

var settingsValidator = newSettingsValidator()

func newSettingsValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	v.RegisterStructValidation(validateRoleOverlap, GlobalSettings{})
	_ = v.RegisterValidation("memlimit", func(fl validator.FieldLevel) bool {
		_, err := ParseMemoryLimit(fl.Field().String())
		return err == nil
	})
	return v
}

func validateRoleOverlap(sl validator.StructLevel) {
	g, ok := sl.Current().Interface().(GlobalSettings)
	if !ok {
		return
	}
	if overlap := overlappingRoles(g.EnabledRoles, g.DisabledRoles); len(overlap) > 0 {
		sl.ReportError(g.DisabledRoles, "disabled_roles", "DisabledRoles", "disjoint", strings.Join(overlap, ", "))
	}
}

func overlappingRoles(enabled, disabled []string) []string {
	var out []string
	for _, r := range enabled {
		if slices.Contains(disabled, r) && !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	slices.Sort(out)
	return out
}

// Check applies the semantic rules the schema cannot express and returns one
// message per violation.
func (s *Settings) Check() []string {
	err := settingsValidator.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []string{err.Error()}
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return msgs
}

func describeFieldError(fe validator.FieldError) string {
	// Namespace is "Settings.global.performance.timeout"; drop the type name.
	_, path, _ := strings.Cut(fe.Namespace(), ".")

	switch fe.Tag() {
	case "gte":
		return fmt.Sprintf("%s: must be >= %s, got %v", path, fe.Param(), fe.Value())
	case "required":
		return fmt.Sprintf("%s: must not be empty", path)
	case "memlimit":
		return fmt.Sprintf("%s: must match <positive-int>[Ki|Mi|Gi], got %q", path, fe.Value())
	case "disjoint":
		return fmt.Sprintf("%s: roles in both enabled and disabled: [%s]", path, fe.Param())
	default:
		return fmt.Sprintf("%s: failed %q check", path, fe.Tag())
	}
}
