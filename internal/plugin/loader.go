// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

package plugin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"runtime/debug"
	"slices"
	"strings"
	"sync"

	devkiterr "github.com/devkit-dev/devkit/pkg/errors"
)

// RoleSource supplies the configured role selection.
type RoleSource interface {
	EnabledRoles() []string
	DisabledRoles() []string
}

// Info summarises a loaded plugin.
type Info struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Runtime     string `json:"runtime"`
	Roles       int    `json:"roles"`
	Hooks       int    `json:"hooks"`
}

// RegisteredHook is a hook together with the plugin that contributed it.
type RegisteredHook struct {
	Plugin string
	Hook   Hook
}

// Loader discovers plugins under a set of roots, validates and loads them
// strictly in discovery order, and keeps the resulting hook registry.
type Loader struct {
	validator *Validator
	registry  *Registry
	config    map[string]any
	logger    *slog.Logger

	mu       sync.RWMutex
	loaded   []*Record
	rejected []*Record
	byName   map[string]*Record
	roles    map[string]string
	hooks    map[HookStage][]RegisteredHook
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithConfig sets the effective configuration handed to Initialize and to
// hooks run with a nil context.
func WithConfig(cfg map[string]any) LoaderOption {
	return func(l *Loader) {
		l.config = cfg
	}
}

// WithLogger sets the logger. A nil logger uses slog.Default().
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader creates a Loader. validator gates every candidate and registry
// loads the ones that pass.
func NewLoader(validator *Validator, registry *Registry, opts ...LoaderOption) *Loader {
	l := &Loader{
		validator: validator,
		registry:  registry,
		logger:    slog.Default(),
		byName:    make(map[string]*Record),
		roles:     make(map[string]string),
		hooks:     make(map[HookStage][]RegisteredHook),
	}
	for _, o := range opts {
		o(l)
	}
	if l.config == nil {
		l.config = make(map[string]any)
	}
	return l
}

// Discover lists candidate plugin directories: the immediate subdirectories
// of each root, in root order and then name order. Names starting with "."
// or "_" are skipped. A missing or unreadable root is logged and skipped.
func (l *Loader) Discover(roots []string) []string {
	var dirs []string
	seen := make(map[string]bool)
	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				l.logger.Warn("plugin root not found", "path", root)
			} else {
				l.logger.Error("reading plugin root", "path", root,
					"error", devkiterr.Wrap(err, devkiterr.CodePluginDiscoveryFailure, "reading plugin root"))
			}
			continue
		}

		for _, entry := range entries {
			name := entry.Name()
			if !entry.IsDir() || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
				continue
			}
			dir := filepath.Join(root, name)
			if abs, err := filepath.Abs(dir); err == nil {
				dir = abs
			}
			if seen[dir] {
				continue
			}
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	l.logger.Info("discovered plugins", "count", len(dirs))
	return dirs
}

// Inspect validates every candidate under roots without loading any of them.
func (l *Loader) Inspect(ctx context.Context, roots []string) []*Record {
	dirs := l.Discover(roots)
	records := make([]*Record, 0, len(dirs))
	for _, dir := range dirs {
		records = append(records, l.validator.Validate(ctx, dir))
	}
	return records
}

// DiscoverAndLoad validates and loads every candidate under roots, one at a
// time in discovery order, and returns the records loaded by this call. A
// candidate failing any stage is rejected and the batch continues; see
// Rejected.
func (l *Loader) DiscoverAndLoad(ctx context.Context, roots []string) []*Record {
	dirs := l.Discover(roots)
	var loaded []*Record
	for _, dir := range dirs {
		rec := l.validator.Validate(ctx, dir)
		if !rec.Rejected() {
			l.load(ctx, rec)
		}

		l.mu.Lock()
		if rec.Rejected() {
			l.rejected = append(l.rejected, rec)
		} else {
			l.loaded = append(l.loaded, rec)
			loaded = append(loaded, rec)
		}
		l.mu.Unlock()
	}

	l.logger.Info("loaded plugins", "loaded", len(loaded), "discovered", len(dirs))
	return loaded
}

// load takes a validated record through Loaded and HooksRegistered.
func (l *Loader) load(ctx context.Context, rec *Record) {
	name := rec.Name()

	l.mu.RLock()
	existing, dup := l.byName[name]
	l.mu.RUnlock()
	if dup {
		l.validator.reject(rec, StageLoaded, devkiterr.New(devkiterr.CodePluginDuplicateConflict,
			fmt.Sprintf("plugin %q already loaded from %s", name, existing.Dir()),
			devkiterr.FieldPlugin(name)))
		return
	}

	p, roles, err := l.instantiate(ctx, rec)
	if err != nil {
		l.validator.reject(rec, StageLoaded, devkiterr.With(err, devkiterr.FieldPlugin(name)))
		return
	}
	rec.setLoaded(p, roles)
	if err := rec.TransitionTo(StageLoaded); err != nil {
		l.discard(ctx, rec, p, StageLoaded, err)
		return
	}

	var hooks []Hook
	err = guard(name, "get_hooks", func() error {
		var err error
		hooks, err = p.Hooks(ctx)
		return err
	})
	if err == nil {
		err = checkHooks(hooks)
	}
	if err != nil {
		l.discard(ctx, rec, p, StageHooksRegistered, devkiterr.With(err, devkiterr.FieldPlugin(name)))
		return
	}
	rec.setHooks(hooks)
	if err := rec.TransitionTo(StageHooksRegistered); err != nil {
		l.discard(ctx, rec, p, StageHooksRegistered, err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.byName[name] = rec
	for role, path := range roles {
		if owner, ok := l.roles[role]; ok {
			l.logger.Warn("role already contributed, keeping first", "plugin", name, "role", role, "path", owner)
			continue
		}
		l.roles[role] = path
	}
	for _, h := range hooks {
		l.hooks[h.Stage] = append(l.hooks[h.Stage], RegisteredHook{Plugin: name, Hook: h})
	}

	m := rec.Manifest()
	l.logger.Info("loaded plugin", "plugin", name, "version", m.Version, "runtime", rec.Runtime(),
		"roles", len(roles), "hooks", len(hooks))
}

// instantiate loads the entry point, then initializes the plugin, runs its
// self-validation and collects its roles.
func (l *Loader) instantiate(ctx context.Context, rec *Record) (Plugin, map[string]string, error) {
	name := rec.Name()
	rt, err := l.registry.Lookup(rec.EntryPoint())
	if err != nil {
		return nil, nil, err
	}

	var p Plugin
	if err := guard(name, "load", func() error {
		var err error
		p, err = rt.Load(ctx, rec.EntryPoint(), rec.Manifest())
		return err
	}); err != nil {
		return nil, nil, err
	}

	fail := func(err error) (Plugin, map[string]string, error) {
		closePlugin(ctx, p, l.logger, name)
		return nil, nil, err
	}

	if err := guard(name, CapInitialize, func() error {
		return p.Initialize(ctx, l.config)
	}); err != nil {
		return fail(err)
	}

	var problems []string
	if err := guard(name, CapValidate, func() error {
		var err error
		problems, err = p.Validate(ctx)
		return err
	}); err != nil {
		return fail(err)
	}
	if len(problems) > 0 {
		return fail(devkiterr.New(devkiterr.CodePluginSelfValidateInvalid,
			"plugin reported problems: "+strings.Join(problems, "; ")))
	}

	var roles map[string]string
	if err := guard(name, CapGetRoles, func() error {
		var err error
		roles, err = p.Roles(ctx)
		return err
	}); err != nil {
		return fail(err)
	}
	if roles == nil {
		roles = make(map[string]string)
	}
	return p, roles, nil
}

func (l *Loader) discard(ctx context.Context, rec *Record, p Plugin, gate Stage, err error) {
	l.validator.reject(rec, gate, err)
	closePlugin(ctx, p, l.logger, rec.Name())
}

func checkHooks(hooks []Hook) error {
	for _, h := range hooks {
		if !ValidHookStage(h.Stage) {
			return devkiterr.Errorf(devkiterr.CodePluginInterfaceInvalid,
				"hook %s registered for unknown stage %q", h.Name, h.Stage)
		}
		if h.Run == nil {
			return devkiterr.Errorf(devkiterr.CodePluginInterfaceInvalid,
				"hook %s for stage %s has no function", h.Name, h.Stage)
		}
	}
	return nil
}

func closePlugin(ctx context.Context, p Plugin, logger *slog.Logger, name string) {
	if p == nil {
		return
	}
	if err := guard(name, "close", func() error { return p.Close(ctx) }); err != nil {
		logger.Warn("closing plugin", "plugin", name, "error", err)
	}
}

// guard runs fn and converts a panic into a coded error.
func guard(plugin, call string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = devkiterr.New(devkiterr.CodePluginRuntimeCallFailure,
				fmt.Sprintf("%s panicked: %v", call, r),
				devkiterr.FieldPlugin(plugin), devkiterr.Field("stack", string(debug.Stack())))
		}
	}()
	if err := fn(); err != nil {
		if devkiterr.CodeOf(err) == "" {
			return devkiterr.Wrap(err, devkiterr.CodePluginRuntimeCallFailure, call+" failed")
		}
		return err
	}
	return nil
}

// ExecuteHooks runs every hook registered for stage in registration order.
// A failing or panicking hook is logged with its plugin and does not stop
// the remaining hooks. hctx.Status ends as success or failed; the result is
// true only when every hook succeeded. A nil hctx gets a fresh context
// carrying the loader's configuration.
func (l *Loader) ExecuteHooks(ctx context.Context, stage HookStage, hctx *HookContext) bool {
	if hctx == nil {
		hctx = NewHookContext(stage, l.config)
	}
	hctx.Stage = stage
	hctx.Status = StatusRunning
	if hctx.Payload == nil {
		hctx.Payload = make(map[string]any)
	}

	hooks := l.Hooks(stage)
	if len(hooks) == 0 {
		hctx.Status = StatusSuccess
		return true
	}
	l.logger.Debug("executing hooks", "stage", stage, "count", len(hooks), "run_id", hctx.RunID)

	ok := true
	for _, rh := range hooks {
		err := ctx.Err()
		if err == nil {
			err = guard(rh.Plugin, "hook "+rh.Hook.Name, func() error {
				return rh.Hook.Run(ctx, hctx)
			})
		}
		if err != nil {
			ok = false
			err = devkiterr.With(err, devkiterr.FieldPlugin(rh.Plugin), devkiterr.FieldStage(string(stage)))
			hctx.Error = err.Error()
			l.logger.Error("hook failed", "plugin", rh.Plugin, "hook", rh.Hook.Name,
				"stage", stage, "run_id", hctx.RunID, "error", err)
		}
	}

	if ok {
		hctx.Status = StatusSuccess
	} else {
		hctx.Status = StatusFailed
	}
	return ok
}

// Hooks returns the hooks registered for stage in registration order.
func (l *Loader) Hooks(stage HookStage) []RegisteredHook {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.hooks[stage])
}

// ContributedRoles returns the role names contributed by loaded plugins,
// sorted.
func (l *Loader) ContributedRoles() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Sorted(maps.Keys(l.roles))
}

// RolePaths maps each contributed role to its directory. When two plugins
// contribute the same role the first loaded wins.
func (l *Loader) RolePaths() map[string]string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return maps.Clone(l.roles)
}

// EffectiveRoles returns the configured enabled roles plus every contributed
// role, minus the disabled roles, sorted and without duplicates.
func (l *Loader) EffectiveRoles(src RoleSource) []string {
	set := make(map[string]bool)
	for _, r := range src.EnabledRoles() {
		set[r] = true
	}
	for _, r := range l.ContributedRoles() {
		set[r] = true
	}
	for _, r := range src.DisabledRoles() {
		delete(set, r)
	}
	return slices.Sorted(maps.Keys(set))
}

// Get returns the loaded record named name.
func (l *Loader) Get(name string) (*Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.byName[name]
	if !ok {
		return nil, devkiterr.Errorf(devkiterr.CodePluginNotFound, "plugin %q not found", name)
	}
	return rec, nil
}

// List returns the loaded records in load order.
func (l *Loader) List() []*Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.loaded)
}

// Rejected returns every rejected record in discovery order.
func (l *Loader) Rejected() []*Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.rejected)
}

// Info summarises the loaded plugins in load order.
func (l *Loader) Info() []Info {
	records := l.List()
	out := make([]Info, 0, len(records))
	for _, rec := range records {
		m := rec.Manifest()
		out = append(out, Info{
			Name:        rec.Name(),
			Version:     m.Version,
			Description: m.Description,
			Runtime:     rec.Runtime(),
			Roles:       len(rec.Roles()),
			Hooks:       len(rec.Hooks()),
		})
	}
	return out
}

// Close releases every loaded plugin.
func (l *Loader) Close(ctx context.Context) error {
	l.mu.Lock()
	records := l.loaded
	l.loaded = nil
	l.byName = make(map[string]*Record)
	l.roles = make(map[string]string)
	l.hooks = make(map[HookStage][]RegisteredHook)
	l.mu.Unlock()

	var errs []error
	for _, rec := range records {
		if p := rec.Plugin(); p != nil {
			if err := guard(rec.Name(), "close", func() error { return p.Close(ctx) }); err != nil {
				errs = append(errs, devkiterr.With(err, devkiterr.FieldPlugin(rec.Name())))
			}
		}
	}
	return devkiterr.Join(errs...)
}
