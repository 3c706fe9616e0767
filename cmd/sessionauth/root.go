// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/sessionauth/internal/config"
	"github.com/holomush/sessionauth/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the sessionauth CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessionauth",
		Short: "sessionauth - session based authentication service",
		Long: `sessionauth registers users, verifies passwords and issues
server-side sessions, guarding an HTTP API behind a configurable scheme.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/sessionauth/config.yaml)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// configPath is the --config flag, or the XDG config file when one exists.
func configPath() string {
	if configFile != "" {
		return configFile
	}
	return xdg.ConfigFile()
}

// loadConfig reads the configuration for cmd, honouring its changed flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(configPath(), cmd.Flags())
}
