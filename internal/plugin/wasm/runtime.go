// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

// Package wasm runs plugins compiled to WebAssembly.
//
// A module imports nothing and exports memory plus:
//
//	alloc(size i32) -> i32                  buffer for host input
//	initialize(ptr i32, len i32) -> i32     config JSON in, 0 on success
//	get_roles() -> i64                      JSON object role -> directory
//	get_hooks() -> i64                      JSON object stage -> [export]
//	validate() -> i64                       JSON array of problems
//
// i64 results pack a memory region as ptr<<32 | len. Hook exports take the
// hook context as JSON the way initialize takes the config and return 0 on
// success.
package wasm

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/devkit-dev/devkit/internal/plugin"
	"github.com/devkit-dev/devkit/internal/plugin/manifest"
	devkiterr "github.com/devkit-dev/devkit/pkg/errors"
	"github.com/tetratelabs/wazero"
)

// Runtime loads .wasm entry points into a shared Host.
type Runtime struct {
	host *Host
}

// New creates a WebAssembly runtime. Close releases every module it loaded.
func New(opts ...Option) *Runtime {
	return &Runtime{host: NewHost(opts...)}
}

var _ plugin.Runtime = (*Runtime)(nil)

func (r *Runtime) Name() string { return "wasm" }

func (r *Runtime) Extensions() []string { return []string{".wasm"} }

// Verify compiles the entry point and checks its imports and exports.
// Compilation runs no guest code.
func (r *Runtime) Verify(ctx context.Context, path string) error {
	compiled, err := r.compile(ctx, path)
	if err != nil {
		return err
	}
	return compiled.Close(ctx)
}

func (r *Runtime) compile(ctx context.Context, path string) (wazero.CompiledModule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, devkiterr.Wrap(err, devkiterr.CodePluginRuntimeLoadFailure,
			"reading entry point", devkiterr.FieldPath(path))
	}
	if hasStartSection(data) {
		return nil, devkiterr.New(devkiterr.CodePluginInterfaceInvalid,
			"module declares a start function, which would run at load time", devkiterr.FieldPath(path))
	}

	compiled, err := r.host.Compile(ctx, data)
	if err != nil {
		return nil, devkiterr.With(err, devkiterr.FieldPath(path))
	}
	if err := checkModule(compiled); err != nil {
		_ = compiled.Close(ctx)
		return nil, devkiterr.With(err, devkiterr.FieldPath(path))
	}
	return compiled, nil
}

// Load compiles, checks and instantiates the entry point.
func (r *Runtime) Load(ctx context.Context, path string, m *manifest.Manifest) (plugin.Plugin, error) {
	compiled, err := r.compile(ctx, path)
	if err != nil {
		return nil, err
	}
	mod, err := r.host.Instantiate(ctx, m.Name, compiled)
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, err
	}
	return &wasmPlugin{name: m.Name, dir: filepath.Dir(path), mod: mod}, nil
}

// Close shuts down the runtime and every module loaded into it.
func (r *Runtime) Close(ctx context.Context) error {
	return r.host.Close(ctx)
}

type wasmPlugin struct {
	name string
	dir  string
	mod  *Module
}

// callWithJSON passes v to fn as a buffer and returns its i32 status.
func (p *wasmPlugin) callWithJSON(ctx context.Context, fn string, v any) (uint32, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, devkiterr.Wrap(err, devkiterr.CodePluginRuntimeCallFailure,
			"encoding input for "+fn, devkiterr.FieldPlugin(p.name))
	}
	ptr, err := p.mod.Write(ctx, data)
	if err != nil {
		return 0, err
	}
	res, err := p.mod.CallWithTimeout(ctx, fn, uint64(ptr), uint64(len(data)))
	if err != nil {
		return 0, err
	}
	return uint32(res[0]), nil
}

// callForJSON calls a packed-result export and decodes the region into out.
// An empty region leaves out untouched.
func (p *wasmPlugin) callForJSON(ctx context.Context, fn string, out any) error {
	res, err := p.mod.CallWithTimeout(ctx, fn)
	if err != nil {
		return err
	}
	data, err := p.mod.Read(res[0])
	if err != nil || data == nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return devkiterr.Wrap(err, devkiterr.CodePluginInterfaceInvalid,
			"decoding result of "+fn, devkiterr.FieldPlugin(p.name))
	}
	return nil
}

func (p *wasmPlugin) Initialize(ctx context.Context, cfg map[string]any) error {
	status, err := p.callWithJSON(ctx, plugin.CapInitialize, cfg)
	if err != nil {
		return err
	}
	if status != 0 {
		return devkiterr.Errorf(devkiterr.CodePluginRuntimeCallFailure,
			"initialize returned status %d", status)
	}
	return nil
}

func (p *wasmPlugin) Roles(ctx context.Context) (map[string]string, error) {
	var declared map[string]string
	if err := p.callForJSON(ctx, plugin.CapGetRoles, &declared); err != nil {
		return nil, err
	}
	roles := make(map[string]string, len(declared))
	for name, dir := range declared {
		if name == "" {
			return nil, devkiterr.New(devkiterr.CodePluginInterfaceInvalid,
				"get_roles returned an empty role name", devkiterr.FieldPlugin(p.name))
		}
		path, err := plugin.ResolveRolePath(p.dir, dir)
		if err != nil {
			return nil, devkiterr.With(err, devkiterr.FieldPlugin(p.name))
		}
		roles[name] = path
	}
	return roles, nil
}

// Hooks returns hooks stage by stage in lifecycle order, then any other
// stages by name so the loader can reject them.
func (p *wasmPlugin) Hooks(ctx context.Context) ([]plugin.Hook, error) {
	var declared map[string][]string
	if err := p.callForJSON(ctx, plugin.CapGetHooks, &declared); err != nil {
		return nil, err
	}

	stages := make([]string, 0, len(declared))
	for stage := range declared {
		stages = append(stages, stage)
	}
	slices.SortFunc(stages, func(a, b string) int {
		ia, ib := stageRank(a), stageRank(b)
		if ia != ib {
			return ia - ib
		}
		return strings.Compare(a, b)
	})

	exports := p.mod.compiled.ExportedFunctions()
	var hooks []plugin.Hook
	for _, stage := range stages {
		for _, fn := range declared[stage] {
			def, ok := exports[fn]
			if !ok || !matches(def, sigBuffer) {
				return nil, devkiterr.Errorf(devkiterr.CodePluginInterfaceInvalid,
					"hook %s for stage %s is not an exported %s function", fn, stage, sigBuffer)
			}
			hooks = append(hooks, plugin.Hook{
				Stage: plugin.HookStage(stage),
				Name:  fn,
				Run:   p.hookRunner(fn),
			})
		}
	}
	return hooks, nil
}

func stageRank(stage string) int {
	if i := slices.Index(plugin.HookStages, plugin.HookStage(stage)); i >= 0 {
		return i
	}
	return len(plugin.HookStages)
}

func (p *wasmPlugin) hookRunner(fn string) plugin.HookFunc {
	return func(ctx context.Context, hctx *plugin.HookContext) error {
		status, err := p.callWithJSON(ctx, fn, hctx)
		if err != nil {
			return err
		}
		if status != 0 {
			return devkiterr.Errorf(devkiterr.CodePluginHookFailure, "%s returned status %d", fn, status)
		}
		return nil
	}
}

func (p *wasmPlugin) Validate(ctx context.Context) ([]string, error) {
	var problems []string
	if err := p.callForJSON(ctx, plugin.CapValidate, &problems); err != nil {
		return nil, err
	}
	return problems, nil
}

func (p *wasmPlugin) Close(ctx context.Context) error {
	return p.mod.Close(ctx)
}
