// File: cmd/dpl/env.go
// Brief: CLI wiring for `dpl env` (named reusable environments).

package main

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/example/dpl/internal/pipeline"
)

func newEnvCommand(logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Manage named environments shared across pipelines",
	}
	cmd.AddCommand(
		newEnvBuildCommand(logLevel),
		newEnvListCommand(logLevel),
		newEnvShowCommand(logLevel),
		newEnvRmCommand(logLevel),
	)
	return cmd
}

func newEnvBuildCommand(logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "build NAME [VAR=value...]",
		Short: "Capture the current environment, with overrides, under a name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(*logLevel)
			if err != nil {
				return err
			}
			env, err := pipeline.BuildNamedEnv(rt.settings.EnvDir(), args[0], args[1:])
			if err != nil {
				return err
			}
			fmt.Printf("%s environment %s (%d variables)\n",
				color.GreenString("Saved"), args[0], len(env))
			return nil
		},
	}
}

func newEnvListCommand(logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List named environments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(*logLevel)
			if err != nil {
				return err
			}
			names, err := pipeline.ListNamedEnvs(rt.settings.EnvDir())
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func newEnvShowCommand(logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Print a named environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(*logLevel)
			if err != nil {
				return err
			}
			env, err := pipeline.LoadNamedEnv(rt.settings.EnvDir(), args[0])
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(env))
			for k := range env {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%s=%s\n", k, env[k])
			}
			return nil
		},
	}
}

func newEnvRmCommand(logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rm NAME",
		Short: "Remove a named environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(*logLevel)
			if err != nil {
				return err
			}
			if err := pipeline.RemoveNamedEnv(rt.settings.EnvDir(), args[0]); err != nil {
				return err
			}
			fmt.Printf("%s environment %s\n", color.GreenString("Removed"), args[0])
			return nil
		},
	}
}
