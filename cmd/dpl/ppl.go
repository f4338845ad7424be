// File: cmd/dpl/ppl.go
// Brief: CLI wiring for `dpl ppl` (pipeline lifecycle operations).

package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/example/dpl/internal/pipeline"
)

func newPplCommand(logLevel *string) *cobra.Command {
	var pplName string
	cmd := &cobra.Command{
		Use:   "ppl",
		Short: "Create, load, and drive deployment pipelines",
	}
	cmd.PersistentFlags().StringVarP(&pplName, "pipeline", "p", "", "Pipeline name (defaults to the current pipeline)")

	cmd.AddCommand(
		newPplCreateCommand(logLevel),
		newPplLoadCommand(logLevel),
		newPplListCommand(logLevel),
		newPplAppendCommand(logLevel, &pplName),
		newPplRmCommand(logLevel, &pplName),
		newPplConfigureCommand(logLevel, &pplName),
		newPplLifecycleCommand(logLevel, &pplName, "start", "Start every package in order"),
		newPplLifecycleCommand(logLevel, &pplName, "stop", "Stop every package in reverse order"),
		newPplLifecycleCommand(logLevel, &pplName, "kill", "Forcefully terminate every package in reverse order"),
		newPplLifecycleCommand(logLevel, &pplName, "run", "Start the pipeline, then stop it"),
		newPplLifecycleCommand(logLevel, &pplName, "clean", "Remove package data"),
		newPplStatusCommand(logLevel, &pplName),
		newPplPrintCommand(logLevel, &pplName),
		newPplBuildCommand(logLevel, &pplName),
		newPplDestroyCommand(logLevel, &pplName),
	)
	return cmd
}

func newPplCreateCommand(logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "create NAME",
		Short: "Create an empty pipeline and select it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(*logLevel)
			if err != nil {
				return err
			}
			if _, err := pipeline.Create(rt.settings, rt.log, args[0]); err != nil {
				return err
			}
			fmt.Printf("%s pipeline %s\n", color.GreenString("Created"), args[0])
			return nil
		},
	}
}

func newPplLoadCommand(logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "load FILE",
		Short: "Load a pipeline script: construct, configure, persist, select",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(*logLevel)
			if err != nil {
				return err
			}
			p, err := pipeline.LoadFile(cmd.Context(), rt.settings, rt.log, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s pipeline %s (%d packages)\n",
				color.GreenString("Loaded"), p.Name, len(p.Packages))
			return nil
		},
	}
}

func newPplListCommand(logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pipelines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(*logLevel)
			if err != nil {
				return err
			}
			entries, err := os.ReadDir(rt.settings.PipelinesDir())
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			var names []string
			for _, e := range entries {
				if e.IsDir() {
					names = append(names, e.Name())
				}
			}
			sort.Strings(names)
			for _, name := range names {
				marker := " "
				if name == rt.settings.CurrentPipeline {
					marker = color.GreenString("*")
				}
				fmt.Printf("%s %s\n", marker, name)
			}
			return nil
		},
	}
}

// appendOptions carries the flags of `dpl ppl append`.
type appendOptions struct {
	Alias string
	Sets  []string
}

// BindFlags attaches the append flags to an arbitrary FlagSet.
func (o *appendOptions) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Alias, "name", "", "Package id within the pipeline (defaults to the short type name)")
	fs.StringArrayVar(&o.Sets, "set", nil, "Configuration value key=value (repeatable)")
}

func newPplAppendCommand(logLevel *string, pplName *string) *cobra.Command {
	opts := &appendOptions{}
	cmd := &cobra.Command{
		Use:   "append TYPE",
		Short: "Append a package or interceptor to the pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, p, err := openFlagPipeline(*logLevel, *pplName)
			if err != nil {
				return err
			}
			raw, err := parseSets(opts.Sets)
			if err != nil {
				return err
			}
			entry, err := p.Append(cmd.Context(), args[0], opts.Alias, raw)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s (%s)\n", color.GreenString("Appended"), entry.GlobalID, entry.PkgType)
			return nil
		},
	}
	opts.BindFlags(cmd.Flags())
	return cmd
}

func newPplRmCommand(logLevel *string, pplName *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rm PKG_ID",
		Short: "Remove a package from the pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, p, err := openFlagPipeline(*logLevel, *pplName)
			if err != nil {
				return err
			}
			if err := p.Rm(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("%s %s.%s\n", color.GreenString("Removed"), p.Name, args[0])
			return nil
		},
	}
}

func newPplConfigureCommand(logLevel *string, pplName *string) *cobra.Command {
	var sets []string
	cmd := &cobra.Command{
		Use:   "configure [PKG_ID]",
		Short: "Re-run configuration, for one package or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, p, err := openFlagPipeline(*logLevel, *pplName)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				if len(sets) > 0 {
					return fmt.Errorf("--set requires a package id")
				}
				return p.Configure(cmd.Context())
			}
			raw, err := parseSets(sets)
			if err != nil {
				return err
			}
			return p.ConfigurePkg(cmd.Context(), args[0], raw)
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Configuration value key=value (repeatable)")
	return cmd
}

func newPplLifecycleCommand(logLevel *string, pplName *string, op, short string) *cobra.Command {
	return &cobra.Command{
		Use:   op,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, p, err := openFlagPipeline(*logLevel, *pplName)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			switch op {
			case "start":
				err = p.Start(ctx)
			case "stop":
				err = p.Stop(ctx)
			case "kill":
				err = p.Kill(ctx)
			case "run":
				err = p.Run(ctx)
			case "clean":
				for _, cleanErr := range p.Clean(ctx) {
					fmt.Fprintf(os.Stderr, "%s %v\n", color.YellowString("Warning:"), cleanErr)
				}
			}
			if err != nil {
				return err
			}
			fmt.Printf("%s pipeline %s\n", color.GreenString(opLabel(op)), p.Name)
			return nil
		},
	}
}

func newPplStatusCommand(logLevel *string, pplName *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report per-package state and status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, p, err := openFlagPipeline(*logLevel, *pplName)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PKG\tTYPE\tSTATE\tSTATUS")
			for _, row := range p.Status(cmd.Context()) {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", row.PkgID, row.PkgType, colorState(row.State), row.Status)
			}
			return w.Flush()
		},
	}
}

func newPplPrintCommand(logLevel *string, pplName *string) *cobra.Command {
	return &cobra.Command{
		Use:   "print",
		Short: "Print the pipeline's structure and configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, p, err := openFlagPipeline(*logLevel, *pplName)
			if err != nil {
				return err
			}
			fmt.Printf("pipeline: %s\n", color.New(color.Bold).Sprint(p.Name))
			if p.EnvName != "" {
				fmt.Printf("env: %s\n", p.EnvName)
			}
			if p.Container != nil {
				fmt.Printf("container: %s (engine %s)\n", p.Container.Name, p.Container.Engine)
			}
			printEntries("interceptors", interceptorEntries(p))
			printEntries("packages", p.Packages)
			return nil
		},
	}
}

func interceptorEntries(p *pipeline.Pipeline) []*pipeline.PackageEntry {
	var out []*pipeline.PackageEntry
	for _, id := range p.InterceptorOrder() {
		out = append(out, p.Interceptors[id])
	}
	return out
}

func opLabel(op string) string {
	switch op {
	case "start":
		return "Started"
	case "stop":
		return "Stopped"
	case "kill":
		return "Killed"
	case "run":
		return "Ran"
	case "clean":
		return "Cleaned"
	}
	return op
}

func printEntries(header string, entries []*pipeline.PackageEntry) {
	if len(entries) == 0 {
		return
	}
	fmt.Printf("%s:\n", header)
	for _, e := range entries {
		fmt.Printf("  - %s (%s, %s)\n", e.PkgID, e.PkgType, e.State())
		keys := make([]string, 0, len(e.Config))
		for k := range e.Config {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("      %s: %v\n", k, e.Config[k])
		}
	}
}

func newPplBuildCommand(logLevel *string, pplName *string) *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Build the pipeline's container image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, p, err := openFlagPipeline(*logLevel, *pplName)
			if err != nil {
				return err
			}
			if p.Container == nil {
				return fmt.Errorf("pipeline %q has no container descriptor", p.Name)
			}
			if err := p.BuildContainer(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("%s image %s\n", color.GreenString("Built"), p.Container.Name)
			return nil
		},
	}
}

func newPplDestroyCommand(logLevel *string, pplName *string) *cobra.Command {
	return &cobra.Command{
		Use:   "destroy",
		Short: "Destroy the pipeline and all of its persisted state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, p, err := openFlagPipeline(*logLevel, *pplName)
			if err != nil {
				return err
			}
			cleanup, err := p.Destroy(cmd.Context())
			for _, cleanErr := range cleanup {
				fmt.Fprintf(os.Stderr, "%s %v\n", color.YellowString("Warning:"), cleanErr)
			}
			if err != nil {
				return err
			}
			fmt.Printf("%s pipeline %s\n", color.GreenString("Destroyed"), p.Name)
			return nil
		},
	}
}

func openFlagPipeline(logLevel, pplName string) (*cliRuntime, *pipeline.Pipeline, error) {
	rt, err := newRuntime(logLevel)
	if err != nil {
		return nil, nil, err
	}
	name, err := rt.resolvePipelineName(pplName)
	if err != nil {
		return nil, nil, err
	}
	p, err := pipeline.Open(rt.settings, rt.log, name)
	if err != nil {
		return nil, nil, err
	}
	return rt, p, nil
}

// parseSets turns repeated key=value flags into a raw config map; the menu
// casts the string values to their declared types.
func parseSets(sets []string) (map[string]any, error) {
	if len(sets) == 0 {
		return nil, nil
	}
	raw := make(map[string]any, len(sets))
	for _, s := range sets {
		key, val, ok := strings.Cut(s, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q (expected key=value)", s)
		}
		raw[key] = val
	}
	return raw, nil
}

func colorState(s pipeline.State) string {
	switch s {
	case pipeline.StateRunning:
		return color.GreenString(string(s))
	case pipeline.StateStopped:
		return color.YellowString(string(s))
	case pipeline.StateUnconfigured:
		return color.RedString(string(s))
	default:
		return string(s)
	}
}
