// File: cmd/dpl/pkg.go
// Brief: CLI wiring for `dpl pkg` (package type introspection).

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/dpl/internal/pipeline"
)

func newPkgCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pkg",
		Short: "Inspect available package types",
	}
	cmd.AddCommand(
		newPkgListCommand(),
		newPkgMenuCommand(),
	)
	return cmd
}

func newPkgListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered package types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, t := range pipeline.RegisteredTypes() {
				fmt.Println(t)
			}
			return nil
		},
	}
}

func newPkgMenuCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "menu TYPE",
		Short: "Show a package type's configuration parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			menu, err := pipeline.TypeMenu(args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTYPE\tDEFAULT\tDESCRIPTION")
			for _, item := range menu {
				def := "(required)"
				if item.Default != nil {
					def = fmt.Sprintf("%v", item.Default)
				}
				msg := item.Msg
				if len(item.Choices) > 0 {
					msg = fmt.Sprintf("%s %v", msg, item.Choices)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", item.Name, item.Type, def, msg)
			}
			return w.Flush()
		},
	}
}
