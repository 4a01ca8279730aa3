package config

import (
	"fmt"

	"github.com/marmos91/echoport/pkg/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the echoport configuration file.

Checks for syntax errors, invalid values, and settings that cannot be
combined, then prints a short summary.

Examples:
  # Validate default config
  echoport config validate

  # Validate specific config file
  echoport config validate --config /etc/echoport/config.yaml`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path, explicit := configPath(cmd)
	loadPath := ""
	if explicit {
		loadPath = path
	}

	cfg, err := config.MustLoad(loadPath)
	if err != nil {
		return err
	}
	if _, err := cfg.ServerConfig(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", path)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if warnings := configWarnings(cfg); len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	_, _ = fmt.Fprintf(out, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(out, "  Port:            %s\n", cfg.Server.Port)
	_, _ = fmt.Fprintf(out, "  Accept mode:     %s (%d pending)\n", cfg.Server.AcceptMode, cfg.Server.PendingAccepts)
	_, _ = fmt.Fprintf(out, "  Driver:          %s\n", cfg.Server.Driver)
	_, _ = fmt.Fprintf(out, "  Buffer size:     %s\n", cfg.Server.BufferSize)
	_, _ = fmt.Fprintf(out, "  Log level:       %s\n", cfg.Logging.Level)
	return nil
}

// configWarnings lists valid but questionable settings.
func configWarnings(cfg *config.Config) []string {
	var warnings []string
	if cfg.ControlPlane.Enabled && cfg.ControlPlane.Secret == "" {
		warnings = append(warnings, "control API enabled without a secret - restart and shutdown endpoints are disabled")
	}
	if cfg.Server.AcceptMode == "simple" && cfg.Server.PendingAccepts > 1 {
		warnings = append(warnings, "pending_accepts only applies to the extended accept mode")
	}
	if cfg.Server.Driver == "epoll" && !cfg.Server.AcceptWithData {
		warnings = append(warnings, "accept_with_data disabled - every connection pays an extra read round trip")
	}
	return warnings
}
