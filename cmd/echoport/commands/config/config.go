// Package config implements configuration management subcommands.
package config

import (
	"github.com/marmos91/echoport/pkg/config"
	"github.com/spf13/cobra"
)

// Cmd is the config subcommand.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long: `Manage echoport configuration files.

Subcommands:
  init      Create a configuration file with defaults
  validate  Validate configuration file
  schema    Generate JSON schema for IDE/validation`,
}

func init() {
	Cmd.AddCommand(initCmd)
	Cmd.AddCommand(validateCmd)
	Cmd.AddCommand(schemaCmd)
}

// configPath returns the --config value, or the default location.
func configPath(cmd *cobra.Command) (path string, explicit bool) {
	path, _ = cmd.Flags().GetString("config")
	if path != "" {
		return path, true
	}
	return config.GetDefaultConfigPath(), false
}
