// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

package main

import (
	"io"
	"log/slog"
	"runtime"

	devkiterr "github.com/devkit-dev/devkit/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Viper keys for the global flags.
const (
	keyProjectRoot = "project_root"
	keyGroup       = "group"
	keyPlatform    = "platform"
	keyUserConfig  = "user_config"
	keyPluginDirs  = "plugin_dirs"
	keyVerbose     = "verbose"
)

// app carries the per-invocation state shared by every subcommand.
type app struct {
	v      *viper.Viper
	stderr io.Writer
	logger *slog.Logger
}

// NewRootCmd creates the root devkit command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "devkit",
		Short:         "devkit: layered workstation configuration and plugins",
		Long:          "devkit resolves the layered workstation configuration and loads the plugins that extend provisioning.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.initViper(cmd)
		},
	}

	// Global flags, bound to viper keys in initViper.
	root.PersistentFlags().String("project-root", ".", "project directory holding config/")
	root.PersistentFlags().StringP("group", "g", "", "configuration group to merge")
	root.PersistentFlags().StringP("platform", "p", defaultPlatform(runtime.GOOS), "platform configuration to merge")
	root.PersistentFlags().StringP("config", "c", "", "path to the user config file (default ~/.devkit/config.yaml)")
	root.PersistentFlags().StringArray("plugin-dir", nil, "additional plugin directory (repeatable)")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newConfigCmd(a),
		newPluginCmd(a),
		newRolesCmd(a),
		newVersionCmd(),
	)

	return root
}

// initViper binds the persistent flags so every subcommand reads them
// through the same keys.
func (a *app) initViper(cmd *cobra.Command) error {
	flags := cmd.Root().PersistentFlags()
	bindings := map[string]string{
		keyProjectRoot: "project-root",
		keyGroup:       "group",
		keyPlatform:    "platform",
		keyUserConfig:  "config",
		keyPluginDirs:  "plugin-dir",
		keyVerbose:     "verbose",
	}
	for key, flag := range bindings {
		if err := a.v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return devkiterr.Wrapf(err, devkiterr.CodeCLISetupFailure, "binding %s flag", flag)
		}
	}

	a.stderr = cmd.ErrOrStderr()
	a.setLogLevel(a.v.GetBool(keyVerbose))
	return nil
}

// setLogLevel installs a text logger on stderr at info, or debug when
// debug is true.
func (a *app) setLogLevel(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level}))
}

// defaultPlatform maps a GOOS value to the platform configuration name.
func defaultPlatform(goos string) string {
	switch goos {
	case "darwin":
		return "macos"
	case "":
		return ""
	default:
		return goos
	}
}
