// File: cmd/dpl/container.go
// Brief: CLI wiring for `dpl container` (shared image manifests).

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/example/dpl/internal/pipeline"
)

func newContainerCommand(logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "container",
		Short: "Inspect and remove shared container images",
	}
	cmd.AddCommand(
		newContainerListCommand(logLevel),
		newContainerRmCommand(logLevel),
	)
	return cmd
}

func containerStore(rt *cliRuntime) *pipeline.ContainerStore {
	return &pipeline.ContainerStore{Dir: rt.settings.ContainersDir(), Log: rt.log.Sugar()}
}

func newContainerListCommand(logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List container manifests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(*logLevel)
			if err != nil {
				return err
			}
			infos, err := containerStore(rt).List()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPACKAGES\tSCRIPT")
			for _, info := range infos {
				script := "yes"
				if !info.HasScript {
					script = "no"
				}
				fmt.Fprintf(w, "%s\t%d\t%s\n", info.Name, info.Packages, script)
			}
			return w.Flush()
		},
	}
}

func newContainerRmCommand(logLevel *string) *cobra.Command {
	var engine string
	cmd := &cobra.Command{
		Use:   "rm NAME",
		Short: "Remove a container manifest, its build script, and the image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(*logLevel)
			if err != nil {
				return err
			}
			if engine == "" {
				engine = rt.settings.ContainerEngine
			}
			if err := containerStore(rt).Remove(cmd.Context(), args[0], engine); err != nil {
				return err
			}
			fmt.Printf("%s container %s\n", color.GreenString("Removed"), args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&engine, "engine", "", "Container engine for image removal (defaults to the configured engine)")
	return cmd
}
