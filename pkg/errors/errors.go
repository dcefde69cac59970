// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

// Package errors defines the devkit error taxonomy. Every error carries a
// machine-readable Code of the form "area.operation.reason" so callers can
// distinguish structural, validation, security and plugin failures without
// string matching.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"
	CodeConfigPathInvalid          Code = "config.path.invalid"
	CodeConfigExportInvalidFormat  Code = "config.export.invalid_format"
	CodeConfigWriteFailure         Code = "config.write.failure"

	CodeSecurityPermissionDenied Code = "config.security.permission.denied"
	CodeSecurityOwnershipDenied  Code = "config.security.ownership.denied"

	CodeRateLimitConfigInvalid Code = "ratelimit.config.invalid"

	CodePluginManifestMissing       Code = "plugin.manifest.missing"
	CodePluginManifestParseInvalid  Code = "plugin.manifest.parse.invalid"
	CodePluginManifestValidateInval Code = "plugin.manifest.validate.invalid"
	CodePluginRequiresUnsatisfied   Code = "plugin.manifest.requires.unsatisfied"
	CodePluginIntegrityMissing      Code = "plugin.integrity.missing"
	CodePluginIntegrityTampered     Code = "plugin.integrity.tampered"
	CodePluginInterfaceMissing      Code = "plugin.interface.missing"
	CodePluginInterfaceInvalid      Code = "plugin.interface.invalid"
	CodePluginRuntimeUnsupported    Code = "plugin.runtime.unsupported"
	CodePluginRuntimeLoadFailure    Code = "plugin.runtime.load.failure"
	CodePluginRuntimeCallFailure    Code = "plugin.runtime.call.failure"
	CodePluginSelfValidateInvalid   Code = "plugin.self_validate.invalid"
	CodePluginLifecycleTransition   Code = "plugin.lifecycle.transition.invalid"
	CodePluginDiscoveryFailure      Code = "plugin.discovery.failure"
	CodePluginDuplicateConflict     Code = "plugin.registry.conflict"
	CodePluginNotFound              Code = "plugin.not_found"
	CodePluginHookFailure           Code = "plugin.hook.failure"

	CodeCLIInputInvalid Code = "cli.input.invalid"
	CodeCLISetupFailure Code = "cli.setup.failure"

	CodeInternalFailure Code = "internal.failure"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldPath(value string) Attr {
	return Field("path", value)
}

func FieldPlugin(value string) Attr {
	return Field("plugin", value)
}

func FieldSource(value string) Attr {
	return Field("source", value)
}

func FieldStage(value string) Attr {
	return Field("stage", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain, keeping its code.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// IsStructural reports whether err is an unreadable or unparseable source.
func IsStructural(err error) bool {
	code := CodeOf(err)
	return code == CodeConfigLoadReadFailure || code == CodeConfigParseInvalidFormat
}

// IsSecurity reports whether err is a security failure. Security failures
// must abort the operation; they are never downgraded to warnings.
func IsSecurity(err error) bool {
	code := CodeOf(err)
	return strings.HasPrefix(string(code), "config.security.") || code == CodePluginIntegrityTampered
}

// IsPlugin reports whether err rejects a plugin candidate.
func IsPlugin(err error) bool {
	return strings.HasPrefix(string(CodeOf(err)), "plugin.")
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsDenied(err error) bool {
	return reason(CodeOf(err)) == "denied"
}

func Join(errs ...error) error {
	joined := stderrors.Join(errs...)
	if joined == nil {
		return nil
	}
	return oops.Code(CodeInternalFailure).Wrap(joined)
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
