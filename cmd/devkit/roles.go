// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newRolesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Print the final role list for provisioning",
		Long: "Print the enabled roles plus every role contributed by a loaded plugin, " +
			"minus the disabled roles, sorted.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tags, _ := cmd.Flags().GetBool("tags")
			eng, err := a.loadEngine(true)
			if err != nil {
				return err
			}
			set, err := a.newPluginSet(eng)
			if err != nil {
				return err
			}
			defer func() { _ = set.close(cmd.Context()) }()

			set.loader.DiscoverAndLoad(cmd.Context(), set.roots)
			roles := set.loader.EffectiveRoles(eng)

			out := cmd.OutOrStdout()
			if tags {
				_, err = fmt.Fprintln(out, strings.Join(roles, ","))
				return err
			}
			for _, r := range roles {
				if _, err := fmt.Fprintln(out, r); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().Bool("tags", false, "print a single comma-separated line")

	return cmd
}
