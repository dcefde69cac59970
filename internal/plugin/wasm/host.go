// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

package wasm

import (
	"context"
	"strings"
	"time"

	devkiterr "github.com/devkit-dev/devkit/pkg/errors"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// DefaultMemoryLimitPages caps guest memory at 16 MiB.
const DefaultMemoryLimitPages = 256

// Host wraps a Wazero runtime with optional execution timeout.
type Host struct {
	runtime     wazero.Runtime
	execTimeout time.Duration
	memoryPages uint32
}

// Option configures a Host.
type Option func(*Host)

// WithExecTimeout sets the maximum execution duration for module function calls.
// A zero or negative value means no timeout.
func WithExecTimeout(d time.Duration) Option {
	return func(h *Host) {
		h.execTimeout = d
	}
}

// WithMemoryLimitPages caps the memory of every module, in 64 KiB pages.
func WithMemoryLimitPages(pages uint32) Option {
	return func(h *Host) {
		if pages > 0 {
			h.memoryPages = pages
		}
	}
}

// WithMemoryLimit caps module memory at n bytes, rounded up to whole pages.
func WithMemoryLimit(n int64) Option {
	const pageSize = 64 << 10
	pages := (n + pageSize - 1) / pageSize
	if pages > 65536 {
		pages = 65536
	}
	return WithMemoryLimitPages(uint32(max(pages, 0)))
}

// NewHost creates a Wazero runtime with the given options applied.
// The runtime is configured with WithCloseOnContextDone(true) so that
// context cancellation interrupts in-flight Wasm execution. No host
// functions are registered, so guests have no access to the system.
func NewHost(opts ...Option) *Host {
	h := &Host{memoryPages: DefaultMemoryLimitPages}
	for _, o := range opts {
		o(h)
	}

	cfg := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithMemoryLimitPages(h.memoryPages)
	h.runtime = wazero.NewRuntimeWithConfig(context.Background(), cfg)
	return h
}

// ExecTimeout returns the configured execution timeout (zero if unset).
func (h *Host) ExecTimeout() time.Duration {
	return h.execTimeout
}

// Compile compiles a module without instantiating it. Nothing in the module
// runs.
func (h *Host) Compile(ctx context.Context, wasmBytes []byte) (wazero.CompiledModule, error) {
	compiled, err := h.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, devkiterr.Wrap(err, devkiterr.CodePluginInterfaceInvalid, "compiling wasm module")
	}
	return compiled, nil
}

// Instantiate instantiates a compiled module under name. No start functions
// are invoked besides the module's own start section.
func (h *Host) Instantiate(ctx context.Context, name string, compiled wazero.CompiledModule) (*Module, error) {
	if strings.TrimSpace(name) == "" {
		return nil, devkiterr.New(devkiterr.CodePluginRuntimeLoadFailure,
			"module name must not be empty")
	}

	instance, err := h.runtime.InstantiateModule(ctx, compiled,
		wazero.NewModuleConfig().WithName(name).WithStartFunctions())
	if err != nil {
		return nil, devkiterr.Wrapf(err, devkiterr.CodePluginRuntimeLoadFailure,
			"instantiating wasm module %s", name)
	}

	return &Module{
		name:        name,
		compiled:    compiled,
		instance:    instance,
		execTimeout: h.execTimeout,
	}, nil
}

// Close shuts down the runtime and releases resources.
func (h *Host) Close(ctx context.Context) error {
	return h.runtime.Close(ctx)
}

// Module represents a compiled and instantiated Wasm module.
type Module struct {
	name        string
	compiled    wazero.CompiledModule
	instance    api.Module
	execTimeout time.Duration
}

// Name returns the module's registered name.
func (m *Module) Name() string {
	return m.name
}

// Close releases the module instance and its compiled code.
func (m *Module) Close(ctx context.Context) error {
	err := m.instance.Close(ctx)
	if cerr := m.compiled.Close(ctx); err == nil {
		err = cerr
	}
	return err
}

// CallWithTimeout invokes an exported function, wrapping the context
// with the host's execTimeout if configured.
func (m *Module) CallWithTimeout(ctx context.Context, fnName string, params ...uint64) ([]uint64, error) {
	if m.execTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.execTimeout)
		defer cancel()
	}

	fn := m.instance.ExportedFunction(fnName)
	if fn == nil {
		return nil, devkiterr.Errorf(devkiterr.CodePluginRuntimeCallFailure,
			"function %q not exported by module %s", fnName, m.name)
	}

	results, err := fn.Call(ctx, params...)
	if err != nil {
		return nil, devkiterr.Wrapf(err, devkiterr.CodePluginRuntimeCallFailure,
			"calling function %q in module %s", fnName, m.name)
	}

	return results, nil
}

// Write copies data into guest memory at a buffer obtained from the
// module's alloc export and returns its address.
func (m *Module) Write(ctx context.Context, data []byte) (uint32, error) {
	results, err := m.CallWithTimeout(ctx, ExportAlloc, uint64(len(data)))
	if err != nil {
		return 0, err
	}
	ptr := uint32(results[0])
	if !m.instance.Memory().Write(ptr, data) {
		return 0, devkiterr.Errorf(devkiterr.CodePluginRuntimeCallFailure,
			"alloc in module %s returned out of range buffer %d+%d", m.name, ptr, len(data))
	}
	return ptr, nil
}

// Read copies a packed (ptr<<32 | len) region out of guest memory. A zero
// length yields nil.
func (m *Module) Read(packed uint64) ([]byte, error) {
	ptr, size := uint32(packed>>32), uint32(packed)
	if size == 0 {
		return nil, nil
	}
	buf, ok := m.instance.Memory().Read(ptr, size)
	if !ok {
		return nil, devkiterr.Errorf(devkiterr.CodePluginRuntimeCallFailure,
			"module %s returned out of range buffer %d+%d", m.name, ptr, size)
	}
	return append([]byte(nil), buf...), nil
}
