package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, name := range []string{"serve", "config", "version"} {
		require.True(t, names[name], "expected subcommand %q to be registered", name)
	}
}

func findSubcommand(cmd *cobra.Command, name string) *cobra.Command {
	for _, sub := range cmd.Commands() {
		if sub.Name() == name {
			return sub
		}
	}
	return nil
}

func TestConfigCmdIncludesValidateAndWatch(t *testing.T) {
	configCmd := findSubcommand(buildRootCmd(), "config")
	require.NotNil(t, configCmd)

	require.NotNil(t, findSubcommand(configCmd, "validate"))
	require.NotNil(t, findSubcommand(configCmd, "watch"))
}

func TestConfigValidateRunsAgainstDefaults(t *testing.T) {
	t.Setenv("TOOLGATED_ADMIN_TOKEN_SECRET", "test-secret")
	cmd := buildRootCmd()
	cmd.SetArgs([]string{"config", "validate", "--config", ""})
	require.NoError(t, cmd.Execute())
}
