// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

// Package plugin discovers extension plugins, runs each candidate through the
// trust pipeline, loads the survivors and dispatches their lifecycle hooks.
package plugin

import (
	"context"
	"path/filepath"
	"slices"

	devkiterr "github.com/devkit-dev/devkit/pkg/errors"
	"github.com/google/uuid"
)

// Capabilities every plugin entry point must define.
const (
	CapInitialize = "initialize"
	CapGetRoles   = "get_roles"
	CapGetHooks   = "get_hooks"
	CapValidate   = "validate"
)

// RequiredCapabilities is checked statically before a plugin is loaded.
var RequiredCapabilities = []string{CapInitialize, CapGetRoles, CapGetHooks, CapValidate}

// HookStage names a lifecycle point at which hooks run.
type HookStage string

const (
	HookPreSetup  HookStage = "pre_setup"
	HookPostSetup HookStage = "post_setup"
	HookPreRole   HookStage = "pre_role"
	HookPostRole  HookStage = "post_role"
)

// HookStages lists the stages in the order a provisioning run reaches them.
var HookStages = []HookStage{HookPreSetup, HookPreRole, HookPostRole, HookPostSetup}

// ValidHookStage reports whether s is a known stage.
func ValidHookStage(s HookStage) bool {
	return slices.Contains(HookStages, s)
}

// Hook execution status values.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// HookContext is passed to every hook registered for a stage. Hooks share
// Payload and may add to it; Config is the effective configuration.
type HookContext struct {
	RunID   string         `json:"run_id"`
	Stage   HookStage      `json:"stage"`
	Role    string         `json:"role,omitempty"`
	Task    string         `json:"task,omitempty"`
	Status  string         `json:"status"`
	Error   string         `json:"error,omitempty"`
	Config  map[string]any `json:"config"`
	Payload map[string]any `json:"payload"`
}

// NewHookContext creates a running context with a fresh run ID.
func NewHookContext(stage HookStage, cfg map[string]any) *HookContext {
	return &HookContext{
		RunID:   uuid.NewString(),
		Stage:   stage,
		Status:  StatusRunning,
		Config:  cfg,
		Payload: make(map[string]any),
	}
}

// HookFunc runs one hook. A returned error marks the hook failed.
type HookFunc func(ctx context.Context, hctx *HookContext) error

// Hook is a callback a plugin contributes for one stage.
type Hook struct {
	Stage HookStage
	Name  string
	Run   HookFunc
}

// Plugin is the capability set a loaded entry point exposes, whatever the
// runtime behind it.
type Plugin interface {
	// Initialize receives the effective configuration once, before any other
	// call.
	Initialize(ctx context.Context, cfg map[string]any) error

	// Roles maps each contributed role name to its role directory.
	Roles(ctx context.Context) (map[string]string, error)

	// Hooks returns the plugin's hooks in registration order.
	Hooks(ctx context.Context) ([]Hook, error)

	// Validate returns the plugin's own configuration problems. An empty
	// list means the plugin is usable.
	Validate(ctx context.Context) ([]string, error)

	Close(ctx context.Context) error
}

// ResolveRolePath resolves a contributed role directory against the plugin
// directory. Absolute paths and paths that leave the plugin directory are
// rejected.
func ResolveRolePath(pluginDir, dir string) (string, error) {
	if !filepath.IsLocal(dir) {
		return "", devkiterr.Errorf(devkiterr.CodePluginInterfaceInvalid,
			"role path %q is not inside the plugin directory", dir)
	}
	return filepath.Join(pluginDir, dir), nil
}
