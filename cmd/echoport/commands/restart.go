package commands

import (
	"errors"
	"fmt"

	"github.com/marmos91/echoport/pkg/apiclient"
	"github.com/spf13/cobra"
)

var restartToken string

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the server through the control API",
	Long: `Ask a running server to drain every connection and start a new serve
cycle on the same port. Requires the control API and an admin token.

The token is taken from --token, then from the credentials saved by
'echoport token --save', then minted from controlplane.secret.

Examples:
  # Restart the local server
  echoport restart

  # Restart using an explicit token
  echoport restart --token "$ECHOPORT_TOKEN"`,
	Args: cobra.NoArgs,
	RunE: runRestart,
}

func init() {
	restartCmd.Flags().StringVar(&restartToken, "token", "", "admin bearer token")
}

func runRestart(cmd *cobra.Command, args []string) error {
	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}
	client, err := adminClient(cmd, cfg, restartToken)
	if err != nil {
		return err
	}

	resp, err := client.Restart()
	if err != nil {
		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) && apiErr.IsConflict() {
			return fmt.Errorf("server is not running a serve cycle: %w", err)
		}
		return fmt.Errorf("restart failed: %w", err)
	}

	fmt.Printf("Restart accepted (cycle %d draining on %s)\n", resp.Status.Cycle, resp.Status.Address)
	return nil
}
