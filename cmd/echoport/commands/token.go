package commands

import (
	"fmt"
	"time"

	"github.com/marmos91/echoport/internal/cli/credentials"
	"github.com/marmos91/echoport/internal/controlplane/api/auth"
	"github.com/spf13/cobra"
)

var (
	tokenTTL     time.Duration
	tokenSubject string
	tokenSave    bool
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an admin token for the control API",
	Long: `Sign an admin bearer token with controlplane.secret.

The token authorizes POST /api/v1/restart and /api/v1/shutdown. With --save
it is stored in $XDG_CONFIG_HOME/echoport/credentials.json for the local API
endpoint, where 'echoport restart' picks it up.

Examples:
  # Print a token valid for one hour
  echoport token --ttl 1h

  # Save a token for the API on port 9080
  echoport token --save --api-port 9080`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "admin", "token subject")
	tokenCmd.Flags().BoolVar(&tokenSave, "save", false, "store the token in the credentials file")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}
	if cfg.ControlPlane.Secret == "" {
		return fmt.Errorf("controlplane.secret is not configured\n\n" +
			"Generate a config with one using: echoport config init")
	}

	svc, err := auth.NewJWTService(auth.JWTConfig{Secret: cfg.ControlPlane.Secret})
	if err != nil {
		return err
	}
	token, expiresAt, err := svc.GenerateToken(tokenSubject, auth.RoleAdmin, tokenTTL)
	if err != nil {
		return err
	}

	if !tokenSave {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	}

	store, err := credentials.NewStore()
	if err != nil {
		return err
	}
	endpoint := apiEndpoint(cmd, cfg)
	if err := store.SetToken(endpoint, token, expiresAt); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Token for %s saved to %s (expires %s)\n",
		endpoint, store.Path(), expiresAt.Local().Format(time.RFC3339))
	return nil
}
