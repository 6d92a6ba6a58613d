package main

import (
	"github.com/spf13/cobra"
)

// buildConfigCmd creates the "config" command group: validate and watch.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate gateway configuration",
	}
	cmd.AddCommand(buildConfigValidateCmd(), buildConfigWatchCmd())
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file without starting the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildConfigWatchCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a configuration file and re-validate it on every change",
		Long: `A development aid: watches the config file for writes and reruns
Validate on each one, printing the result. The running gateway itself does
not hot-reload configuration; this is for catching a bad edit before a
restart picks it up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigWatch(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}
