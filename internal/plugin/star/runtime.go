// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

// Package star runs plugins written in Starlark.
//
// An entry point defines initialize(config), get_roles(), get_hooks() and
// validate() at the top level. get_roles returns a dict of role name to role
// directory (relative paths resolve inside the plugin directory). get_hooks
// returns a dict of stage to a function or list of functions; each hook is
// called with a dict holding run_id, stage, role, task, status, config and
// payload, and fails by returning False or raising an error. validate
// returns a list of problems, or a (valid, problems) tuple.
package star

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/devkit-dev/devkit/internal/plugin"
	"github.com/devkit-dev/devkit/internal/plugin/manifest"
	devkiterr "github.com/devkit-dev/devkit/pkg/errors"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// DefaultMaxSteps bounds the work of a single call into a plugin.
const DefaultMaxSteps = 1_000_000

// Runtime loads .star entry points.
type Runtime struct {
	maxSteps uint64
	logger   *slog.Logger
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithMaxSteps sets the execution step limit per call. Zero means the
// default.
func WithMaxSteps(n uint64) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.maxSteps = n
		}
	}
}

// WithLogger sets the logger behind the log builtin.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a Starlark runtime.
func New(opts ...Option) *Runtime {
	r := &Runtime{maxSteps: DefaultMaxSteps, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

var _ plugin.Runtime = (*Runtime)(nil)

func (r *Runtime) Name() string { return "starlark" }

func (r *Runtime) Extensions() []string { return []string{".star"} }

// Verify parses and resolves the entry point and checks its top level
// without executing it.
func (r *Runtime) Verify(_ context.Context, path string) error {
	_, err := r.compile(path)
	return err
}

func (r *Runtime) compile(path string) (*starlark.Program, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, devkiterr.Wrap(err, devkiterr.CodePluginRuntimeLoadFailure,
			"reading entry point", devkiterr.FieldPath(path))
	}

	f, prog, err := starlark.SourceProgram(path, src, isPredeclared)
	if err != nil {
		return nil, devkiterr.Wrap(err, devkiterr.CodePluginInterfaceInvalid,
			"compiling entry point", devkiterr.FieldPath(path))
	}
	if err := checkFile(f); err != nil {
		return nil, err
	}
	return prog, nil
}

func isPredeclared(name string) bool {
	return name == "struct" || name == "log"
}

// Load checks the entry point again and executes its top level, which by
// then can only define functions and constants. Globals stay mutable so a
// plugin can keep state between calls.
func (r *Runtime) Load(ctx context.Context, path string, m *manifest.Manifest) (plugin.Plugin, error) {
	prog, err := r.compile(path)
	if err != nil {
		return nil, err
	}

	p := &starPlugin{
		name:     m.Name,
		dir:      filepath.Dir(path),
		maxSteps: r.maxSteps,
		logger:   r.logger.With("plugin", m.Name),
	}
	p.predeclared = starlark.StringDict{
		"struct": starlarkstruct.Default,
		"log":    starlark.NewBuiltin("log", p.log),
	}

	thread := p.thread(ctx)
	defer thread.stop()
	globals, err := prog.Init(thread.Thread, p.predeclared)
	if err != nil {
		return nil, devkiterr.Wrap(err, devkiterr.CodePluginRuntimeLoadFailure,
			"initializing entry point", devkiterr.FieldPath(path))
	}
	p.globals = globals
	return p, nil
}

type starPlugin struct {
	name        string
	dir         string
	maxSteps    uint64
	logger      *slog.Logger
	predeclared starlark.StringDict
	globals     starlark.StringDict
}

type callThread struct {
	*starlark.Thread
	stop func() bool
}

// thread returns a fresh thread bounded by maxSteps and cancelled with ctx.
func (p *starPlugin) thread(ctx context.Context) callThread {
	th := &starlark.Thread{
		Name:  "plugin " + p.name,
		Print: func(*starlark.Thread, string) {},
		Load: func(*starlark.Thread, string) (starlark.StringDict, error) {
			return nil, fmt.Errorf("load is not allowed")
		},
	}
	th.SetMaxExecutionSteps(p.maxSteps)
	stop := context.AfterFunc(ctx, func() {
		th.Cancel(context.Cause(ctx).Error())
	})
	return callThread{Thread: th, stop: stop}
}

func (p *starPlugin) call(ctx context.Context, fn string, args ...starlark.Value) (starlark.Value, error) {
	callable, ok := p.globals[fn].(starlark.Callable)
	if !ok {
		return nil, devkiterr.Errorf(devkiterr.CodePluginInterfaceMissing, "%s is not a function", fn)
	}
	return p.invoke(ctx, fn, callable, args...)
}

func (p *starPlugin) invoke(ctx context.Context, name string, fn starlark.Callable, args ...starlark.Value) (starlark.Value, error) {
	thread := p.thread(ctx)
	defer thread.stop()
	v, err := starlark.Call(thread.Thread, fn, args, nil)
	if err != nil {
		return nil, devkiterr.Wrap(err, devkiterr.CodePluginRuntimeCallFailure,
			"calling "+name, devkiterr.FieldPlugin(p.name))
	}
	return v, nil
}

func (p *starPlugin) log(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var msg, level string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "msg", &msg, "level?", &level); err != nil {
		return nil, err
	}
	switch level {
	case "debug":
		p.logger.Debug(msg)
	case "warn", "warning":
		p.logger.Warn(msg)
	case "error":
		p.logger.Error(msg)
	default:
		p.logger.Info(msg)
	}
	return starlark.None, nil
}

func (p *starPlugin) Initialize(ctx context.Context, cfg map[string]any) error {
	arg, err := toValue(cfg)
	if err != nil {
		return devkiterr.Wrap(err, devkiterr.CodePluginRuntimeCallFailure, "converting configuration")
	}
	v, err := p.call(ctx, plugin.CapInitialize, arg)
	if err != nil {
		return err
	}
	if v == starlark.False {
		return devkiterr.New(devkiterr.CodePluginRuntimeCallFailure, "initialize returned False",
			devkiterr.FieldPlugin(p.name))
	}
	return nil
}

func (p *starPlugin) Roles(ctx context.Context) (map[string]string, error) {
	v, err := p.call(ctx, plugin.CapGetRoles)
	if err != nil {
		return nil, err
	}
	if v == starlark.None {
		return map[string]string{}, nil
	}
	dict, ok := v.(*starlark.Dict)
	if !ok {
		return nil, p.contractError("get_roles returned %s, want dict", v.Type())
	}

	roles := make(map[string]string, dict.Len())
	for _, item := range dict.Items() {
		name, ok := starlark.AsString(item[0])
		if !ok || name == "" {
			return nil, p.contractError("get_roles key %s is not a role name", item[0])
		}
		dir, ok := starlark.AsString(item[1])
		if !ok {
			return nil, p.contractError("role %s path is %s, want string", name, item[1].Type())
		}
		path, err := plugin.ResolveRolePath(p.dir, dir)
		if err != nil {
			return nil, devkiterr.With(err, devkiterr.FieldPlugin(p.name))
		}
		roles[name] = path
	}
	return roles, nil
}

func (p *starPlugin) Hooks(ctx context.Context) ([]plugin.Hook, error) {
	v, err := p.call(ctx, plugin.CapGetHooks)
	if err != nil {
		return nil, err
	}
	if v == starlark.None {
		return nil, nil
	}
	dict, ok := v.(*starlark.Dict)
	if !ok {
		return nil, p.contractError("get_hooks returned %s, want dict", v.Type())
	}

	var hooks []plugin.Hook
	for _, item := range dict.Items() {
		stage, ok := starlark.AsString(item[0])
		if !ok {
			return nil, p.contractError("get_hooks key %s is not a stage name", item[0])
		}
		fns, err := p.hookFunctions(item[1])
		if err != nil {
			return nil, err
		}
		for _, fn := range fns {
			hooks = append(hooks, plugin.Hook{
				Stage: plugin.HookStage(stage),
				Name:  fn.Name(),
				Run:   p.hookRunner(fn),
			})
		}
	}
	return hooks, nil
}

func (p *starPlugin) hookFunctions(v starlark.Value) ([]starlark.Callable, error) {
	if fn, ok := v.(starlark.Callable); ok {
		return []starlark.Callable{fn}, nil
	}
	seq, ok := v.(starlark.Indexable)
	if !ok {
		return nil, p.contractError("hooks must be a function or list of functions, got %s", v.Type())
	}
	fns := make([]starlark.Callable, 0, seq.Len())
	for i := range seq.Len() {
		fn, ok := seq.Index(i).(starlark.Callable)
		if !ok {
			return nil, p.contractError("hook %d is %s, want function", i, seq.Index(i).Type())
		}
		fns = append(fns, fn)
	}
	return fns, nil
}

func (p *starPlugin) hookRunner(fn starlark.Callable) plugin.HookFunc {
	return func(ctx context.Context, hctx *plugin.HookContext) error {
		arg, err := toValue(map[string]any{
			"run_id":  hctx.RunID,
			"stage":   string(hctx.Stage),
			"role":    hctx.Role,
			"task":    hctx.Task,
			"status":  hctx.Status,
			"error":   hctx.Error,
			"config":  hctx.Config,
			"payload": hctx.Payload,
		})
		if err != nil {
			return devkiterr.Wrap(err, devkiterr.CodePluginRuntimeCallFailure, "converting hook context")
		}

		v, err := p.invoke(ctx, fn.Name(), fn, arg)
		if err != nil {
			return err
		}

		if payload, err := p.payloadOf(arg); err != nil {
			return err
		} else if payload != nil {
			hctx.Payload = payload
		}
		if v == starlark.False {
			return devkiterr.New(devkiterr.CodePluginHookFailure, fn.Name()+" returned False",
				devkiterr.FieldPlugin(p.name))
		}
		return nil
	}
}

// payloadOf reads back the payload a hook may have changed.
func (p *starPlugin) payloadOf(arg starlark.Value) (map[string]any, error) {
	dict, ok := arg.(*starlark.Dict)
	if !ok {
		return nil, nil
	}
	v, found, err := dict.Get(starlark.String("payload"))
	if err != nil || !found {
		return nil, err
	}
	gv, err := fromValue(v)
	if err != nil {
		return nil, p.contractError("hook payload: %v", err)
	}
	m, ok := gv.(map[string]any)
	if !ok {
		return nil, p.contractError("hook replaced payload with %s", v.Type())
	}
	return m, nil
}

func (p *starPlugin) Validate(ctx context.Context) ([]string, error) {
	v, err := p.call(ctx, plugin.CapValidate)
	if err != nil {
		return nil, err
	}

	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Tuple:
		if len(val) != 2 {
			return nil, p.contractError("validate returned a tuple of %d, want (valid, problems)", len(val))
		}
		problems, err := stringList(val[1])
		if err != nil {
			return nil, p.contractError("validate problems: %v", err)
		}
		if !val[0].Truth() && len(problems) == 0 {
			problems = []string{"plugin reported itself invalid"}
		}
		return problems, nil
	default:
		problems, err := stringList(v)
		if err != nil {
			return nil, p.contractError("validate: %v", err)
		}
		return problems, nil
	}
}

func (p *starPlugin) Close(context.Context) error {
	return nil
}

func (p *starPlugin) contractError(format string, args ...any) error {
	return devkiterr.New(devkiterr.CodePluginInterfaceInvalid, fmt.Sprintf(format, args...),
		devkiterr.FieldPlugin(p.name))
}
