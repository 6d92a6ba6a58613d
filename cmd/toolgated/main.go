// Command toolgated runs the Tool Registry and Execution Gateway: it
// registers local and remote tool providers, routes agent-issued
// invocations to the right one, supervises locally spawned tool-server
// processes, and streams registry changes to connected clients.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/toolgated/internal/observability"
)

// Build information, populated by ldflags during release builds:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	slog.SetDefault(observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"}))

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd assembles the CLI tree; separated from main for testability.
func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "toolgated",
		Short:        "Tool Registry and Execution Gateway",
		Long:         `toolgated registers tool providers, routes agent tool invocations, and supervises the processes it spawns to serve them.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(
		buildServeCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)
	return root
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "toolgated %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}
