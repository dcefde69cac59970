// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/devkit-dev/devkit/internal/config"
	devkiterr "github.com/devkit-dev/devkit/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and change the effective configuration",
		Long:  "Read, change, validate and export the configuration merged from defaults, platform, group, project, user and environment sources.",
	}

	cmd.AddCommand(
		newConfigGetCmd(a),
		newConfigSetCmd(a),
		newConfigValidateCmd(a),
		newConfigExportCmd(a),
		newConfigSaveCmd(a),
		newConfigFilesCmd(a),
		newConfigRolesCmd(a),
	)

	return cmd
}

func newConfigGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Print the value at a dotted path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.loadEngine(true)
			if err != nil {
				return err
			}
			val, ok := eng.Get(args[0])
			if !ok {
				return devkiterr.New(devkiterr.CodeCLIInputInvalid,
					"no value at "+args[0], devkiterr.FieldPath(args[0]))
			}
			return printValue(cmd, val)
		},
	}
}

// printValue writes scalars verbatim and collections as YAML.
func printValue(cmd *cobra.Command, val any) error {
	out := cmd.OutOrStdout()
	switch val.(type) {
	case map[string]any, []any:
		data, err := yaml.Marshal(val)
		if err != nil {
			return devkiterr.Wrap(err, devkiterr.CodeConfigExportInvalidFormat, "encoding value")
		}
		_, err = out.Write(data)
		return err
	case nil:
		_, err := fmt.Fprintln(out, "null")
		return err
	default:
		_, err := fmt.Fprintln(out, val)
		return err
	}
}

func newConfigSetCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <path> <value>",
		Short: "Change a value in the user configuration",
		Long: "Set a value and persist it to the user configuration file. The value is " +
			"converted like an environment override: true/false, integers and comma-separated lists.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, _ := cmd.Flags().GetString("actor")
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			eng, err := a.loadEngine(!dryRun)
			if err != nil {
				return err
			}
			ok, msg, err := eng.Set(args[0], config.ParseEnvValue(args[1]), actor)
			if err != nil {
				return err
			}
			if !ok {
				return devkiterr.New(devkiterr.CodeCLIInputInvalid, msg, devkiterr.FieldPath(args[0]))
			}

			if valid, errs := eng.Validate(); !valid {
				for _, e := range errs {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), warnStyle.Render("warning: ")+e)
				}
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s = %v\n", successStyle.Render(msg+":"), args[0], args[1])
			return err
		},
	}

	cmd.Flags().String("actor", "", "identity charged against the change rate limit (default $USER)")
	cmd.Flags().Bool("dry-run", false, "apply the change in memory only")

	return cmd
}

func newConfigValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := a.loadEngine(true)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			ok, errs := eng.Validate()
			if ok {
				_, err := fmt.Fprintln(out, successStyle.Render("configuration is valid"))
				return err
			}
			for _, e := range errs {
				_, _ = fmt.Fprintln(out, errorStyle.Render("  - ")+e)
			}
			return devkiterr.Errorf(devkiterr.CodeConfigValidateInvalidValue,
				"configuration has %d error(s)", len(errs))
		},
	}
}

func newConfigExportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, _ := cmd.Flags().GetString("format")
			eng, err := a.loadEngine(true)
			if err != nil {
				return err
			}
			data, err := eng.Export(format)
			if err != nil {
				return err
			}
			if !strings.HasSuffix(data, "\n") {
				data += "\n"
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), data)
			return err
		},
	}

	cmd.Flags().StringP("format", "f", config.FormatYAML, "output format (yaml or json)")

	return cmd
}

func newConfigSaveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "save <path>",
		Short: "Write the effective configuration to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.loadEngine(true)
			if err != nil {
				return err
			}
			if err := eng.Save(args[0]); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("saved")+" "+args[0])
			return err
		},
	}
}

func newConfigFilesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "files",
		Short: "List configuration sources in merge order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := a.loadEngine(true)
			if err != nil {
				return err
			}
			loaded := eng.LoadedFiles()
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, titleStyle.Render("Configuration sources (lowest precedence first)"))
			for _, src := range eng.Sources(a.v.GetString(keyGroup), a.v.GetString(keyPlatform)) {
				switch {
				case src.Path == "":
					_, _ = fmt.Fprintf(out, "  %-12s %s\n", src.Kind, dimStyle.Render(src.Name))
				case slices.Contains(loaded, src.Path):
					_, _ = fmt.Fprintf(out, "  %-12s %s\n", src.Kind, src.Path)
				default:
					_, _ = fmt.Fprintf(out, "  %-12s %s\n", src.Kind, dimStyle.Render(src.Path+" (not found)"))
				}
			}
			return nil
		},
	}
}

func newConfigRolesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "roles",
		Short: "List the roles enabled by configuration alone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := a.loadEngine(true)
			if err != nil {
				return err
			}
			for _, r := range eng.EnabledRoles() {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), r); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
