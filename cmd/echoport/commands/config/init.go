package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/marmos91/echoport/internal/cli/prompt"
	"github.com/marmos91/echoport/pkg/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a configuration file",
	Long: `Write a configuration file containing every default and a freshly
generated control API secret.

By default, the file is created at $XDG_CONFIG_HOME/echoport/config.yaml.
Use --config to specify a custom path. An existing file is only replaced
after confirmation, or with --force.

Examples:
  # Initialize with default location
  echoport config init

  # Initialize with custom path
  echoport config init --config /etc/echoport/config.yaml

  # Overwrite without asking
  echoport config init --force`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing config file without asking")
}

func runInit(cmd *cobra.Command, args []string) error {
	path, _ := configPath(cmd)

	force := initForce
	if _, err := os.Stat(path); err == nil && !force {
		ok, err := prompt.Confirm(fmt.Sprintf("%s already exists. Overwrite", path), false)
		if errors.Is(err, prompt.ErrAborted) {
			return nil
		}
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Keeping existing configuration.")
			return nil
		}
		force = true
	}

	if err := config.InitConfigToPath(path, force); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", path)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Printf("  2. Start the server with: echoport --config %s\n", path)
	fmt.Println("  3. Mint an admin token for the control API: echoport token --save")
	fmt.Println("\nSecurity note:")
	fmt.Println("  A random control API secret has been written to the file.")
	fmt.Println("  For production, keep it out of the file and use an environment variable:")
	fmt.Println("    export ECHOPORT_CONTROLPLANE_SECRET=$(openssl rand -hex 32)")
	return nil
}
