// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/devkit-dev/devkit/internal/plugin"
	"github.com/devkit-dev/devkit/internal/plugin/manifest"
	devkiterr "github.com/devkit-dev/devkit/pkg/errors"
	"github.com/spf13/cobra"
)

func newPluginCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "Inspect plugins",
		Long:  "List, validate and checksum plugins, show the hooks they register and run them.",
	}

	cmd.AddCommand(
		newPluginListCmd(a),
		newPluginValidateCmd(a),
		newPluginChecksumCmd(),
		newPluginHooksCmd(a),
		newPluginRunCmd(a),
	)

	return cmd
}

// withPlugins loads the configuration, wires the plugin set and releases it
// once fn returns.
func (a *app) withPlugins(ctx context.Context, fn func(*pluginSet) error) (err error) {
	eng, err := a.loadEngine(true)
	if err != nil {
		return err
	}
	set, err := a.newPluginSet(eng)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := set.close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(set)
}

func newPluginListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Load plugins and list them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withPlugins(cmd.Context(), func(set *pluginSet) error {
				out := cmd.OutOrStdout()
				set.loader.DiscoverAndLoad(cmd.Context(), set.roots)

				infos := set.loader.Info()
				if len(infos) == 0 {
					_, _ = fmt.Fprintln(out, "No plugins loaded")
				} else {
					_, _ = fmt.Fprintln(out, titleStyle.Render("Loaded plugins"))
					for _, info := range infos {
						_, _ = fmt.Fprintf(out, "  %s %s %s  roles: %d  hooks: %d  %s\n",
							successStyle.Render(info.Name), info.Version, dimStyle.Render("("+info.Runtime+")"),
							info.Roles, info.Hooks, info.Description)
					}
				}
				printRejected(out, set.loader.Rejected())
				return nil
			})
		},
	}
}

func printRejected(out io.Writer, rejected []*plugin.Record) {
	if len(rejected) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out, titleStyle.Render("Rejected plugins"))
	for _, rec := range rejected {
		_, _ = fmt.Fprintf(out, "  %s %s\n", errorStyle.Render(rec.Name()), rec.Reason())
	}
}

func newPluginValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [dir...]",
		Short: "Check plugins without running them",
		Long: "Run the manifest, integrity and interface checks on every discovered plugin, " +
			"or on the given plugin directories. No plugin code is executed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withPlugins(cmd.Context(), func(set *pluginSet) error {
				var records []*plugin.Record
				if len(args) == 0 {
					records = set.loader.Inspect(cmd.Context(), set.roots)
				}
				for _, dir := range args {
					abs, err := filepath.Abs(dir)
					if err != nil {
						return devkiterr.Wrap(err, devkiterr.CodeCLIInputInvalid, "resolving "+dir)
					}
					records = append(records, set.validator.Validate(cmd.Context(), abs))
				}

				out := cmd.OutOrStdout()
				if len(records) == 0 {
					_, err := fmt.Fprintln(out, "No plugins found")
					return err
				}
				failed := 0
				for _, rec := range records {
					if rec.Rejected() {
						failed++
						_, _ = fmt.Fprintf(out, "%s %s: %s\n", errorStyle.Render("FAIL"), rec.Name(), rec.Reason())
						continue
					}
					_, _ = fmt.Fprintf(out, "%s %s %s\n", successStyle.Render("ok  "), rec.Name(), dimStyle.Render("("+rec.Runtime()+")"))
				}
				if failed > 0 {
					return devkiterr.Errorf(devkiterr.CodePluginDiscoveryFailure,
						"%d of %d plugin(s) failed validation", failed, len(records))
				}
				return nil
			})
		},
	}
}

func newPluginChecksumCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checksum <dir>",
		Short: "Compute or write a plugin manifest checksum",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			write, _ := cmd.Flags().GetBool("write")
			m, err := manifest.Load(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if write {
				sum, err := m.Stamp()
				if err != nil {
					return err
				}
				if err := m.Write(); err != nil {
					return err
				}
				_, err = fmt.Fprintf(out, "%s %s\n%s\n", successStyle.Render("wrote checksum to"), m.Path, sum)
				return err
			}

			sum, err := m.ComputeChecksum()
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(out, sum)
			if m.Checksum != "" {
				if ok, reason := m.VerifyIntegrity(); ok {
					_, _ = fmt.Fprintln(out, successStyle.Render("stored checksum matches"))
				} else {
					_, _ = fmt.Fprintln(out, warnStyle.Render(reason))
				}
			}
			return nil
		},
	}

	cmd.Flags().Bool("write", false, "store the checksum in the manifest")

	return cmd
}

func hookStageNames() []string {
	stages := make([]string, len(plugin.HookStages))
	for i, s := range plugin.HookStages {
		stages[i] = string(s)
	}
	return stages
}

func parseHookStage(arg string) (plugin.HookStage, error) {
	stage := plugin.HookStage(arg)
	if !plugin.ValidHookStage(stage) {
		return "", devkiterr.Errorf(devkiterr.CodeCLIInputInvalid,
			"unknown hook stage %q, expected one of %s", arg, strings.Join(hookStageNames(), ", "))
	}
	return stage, nil
}

func newPluginHooksCmd(a *app) *cobra.Command {
	stages := hookStageNames()

	return &cobra.Command{
		Use:       "hooks <stage>",
		Short:     "List the hooks registered for a stage",
		Long:      "Load plugins and list the hooks registered for one of: " + strings.Join(stages, ", ") + ".",
		Args:      cobra.ExactArgs(1),
		ValidArgs: stages,
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := parseHookStage(args[0])
			if err != nil {
				return err
			}

			return a.withPlugins(cmd.Context(), func(set *pluginSet) error {
				set.loader.DiscoverAndLoad(cmd.Context(), set.roots)
				out := cmd.OutOrStdout()
				hooks := set.loader.Hooks(stage)
				if len(hooks) == 0 {
					_, err := fmt.Fprintf(out, "No hooks registered for %s\n", stage)
					return err
				}
				for _, rh := range hooks {
					_, _ = fmt.Fprintf(out, "%s %s\n", rh.Plugin, dimStyle.Render(rh.Hook.Name))
				}
				return nil
			})
		},
	}
}

func newPluginRunCmd(a *app) *cobra.Command {
	stages := hookStageNames()

	cmd := &cobra.Command{
		Use:   "run <stage>",
		Short: "Run the hooks registered for a stage",
		Long: "Load plugins and run every hook registered for the stage with the effective " +
			"configuration. Every hook runs even when an earlier one fails; the command " +
			"fails when any hook failed.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: stages,
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := parseHookStage(args[0])
			if err != nil {
				return err
			}
			role, _ := cmd.Flags().GetString("role")
			task, _ := cmd.Flags().GetString("task")

			return a.withPlugins(cmd.Context(), func(set *pluginSet) error {
				set.loader.DiscoverAndLoad(cmd.Context(), set.roots)

				hctx := plugin.NewHookContext(stage, set.config)
				hctx.Role = role
				hctx.Task = task
				count := len(set.loader.Hooks(stage))
				ok := set.loader.ExecuteHooks(cmd.Context(), stage, hctx)

				out := cmd.OutOrStdout()
				if !ok {
					_, _ = fmt.Fprintf(out, "%s %s %s\n", errorStyle.Render("FAIL"), stage, dimStyle.Render("(run "+hctx.RunID+")"))
					return devkiterr.New(devkiterr.CodePluginHookFailure,
						fmt.Sprintf("hooks for %s failed: %s", stage, hctx.Error),
						devkiterr.FieldStage(string(stage)))
				}
				_, err := fmt.Fprintf(out, "%s %s: %d hook(s) %s\n", successStyle.Render("ok  "), stage, count,
					dimStyle.Render("(run "+hctx.RunID+")"))
				return err
			})
		},
	}

	cmd.Flags().String("role", "", "role the hooks run for (pre_role and post_role)")
	cmd.Flags().String("task", "", "task name passed to the hooks")

	return cmd
}
