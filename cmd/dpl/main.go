// File: cmd/dpl/main.go
// Brief: dpl entrypoint: root command, shared runtime, signal handling.

// dpl orchestrates deployment pipelines: ordered packages with a shared
// environment, interceptors, and optional container images.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	// Registers the builtin package types.
	_ "github.com/example/dpl/internal/builtin"
	"github.com/example/dpl/internal/config"
	"github.com/example/dpl/internal/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	logLevel := "info"
	cmd := &cobra.Command{
		Use:           "dpl",
		Short:         "Deployment pipeline orchestrator",
		Long:          "dpl builds, starts, and tears down pipelines of deployable packages with environment propagation, interceptors, and shared container images.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", logLevel, "Log level for dpl output (debug, info, warn, error)")

	cmd.AddCommand(
		newPplCommand(&logLevel),
		newPkgCommand(),
		newEnvCommand(&logLevel),
		newContainerCommand(&logLevel),
	)
	return cmd
}

// cliRuntime bundles what every subcommand needs: the persisted tool
// settings and a configured logger.
type cliRuntime struct {
	settings *config.Settings
	log      *zap.Logger
}

func newRuntime(logLevel string) (*cliRuntime, error) {
	log, err := logging.New(logLevel)
	if err != nil {
		return nil, err
	}
	settings, err := config.Load()
	if err != nil {
		return nil, err
	}
	return &cliRuntime{settings: settings, log: log}, nil
}

// resolvePipelineName falls back to the current pipeline when none is
// named on the command line.
func (rt *cliRuntime) resolvePipelineName(name string) (string, error) {
	if name != "" {
		return name, nil
	}
	if rt.settings.CurrentPipeline == "" {
		return "", fmt.Errorf("no pipeline selected; run 'dpl ppl create' or 'dpl ppl load' first")
	}
	return rt.settings.CurrentPipeline, nil
}
