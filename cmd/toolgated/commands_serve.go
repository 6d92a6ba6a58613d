package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that starts the gateway.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the tool gateway",
		Long: `Start the tool gateway with every core component running:

1. Load and validate configuration from the specified file.
2. Bring up the tool registry, connector pool, and process runner.
3. Resurrect persisted and predefined providers through the supervisor.
4. Start the control-plane (WebSocket + gRPC) and admin (HTTP) listeners.

Graceful shutdown runs on SIGINT/SIGTERM.`,
		Example: `  # Start with default config
  toolgated serve

  # Start with a specific config file and debug logging
  toolgated serve --config /etc/toolgated/gateway.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}
