package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	stopForce   bool
	stopRestart bool
)

var errProcessDone = errors.New("process already finished")

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop or restart the echoport server",
	Long: `Stop a running echoport server.

By default, sends SIGTERM: the server closes its listener, drains every
connection and exits. --restart sends SIGHUP instead, so the server drains
and starts a new serve cycle on the same port. --force terminates the
process immediately with SIGKILL.

Examples:
  # Stop server (uses default PID file)
  echoport stop

  # Drain and restart on the same port
  echoport stop --restart

  # Force stop using a custom PID file
  echoport stop --force --pid-file /var/run/echoport.pid`,
	Args: cobra.NoArgs,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().BoolVarP(&stopForce, "force", "f", false, "Force kill instead of graceful shutdown")
	stopCmd.Flags().BoolVarP(&stopRestart, "restart", "r", false, "Drain and restart instead of stopping (SIGHUP)")
	stopCmd.MarkFlagsMutuallyExclusive("force", "restart")
}

func runStop(cmd *cobra.Command, args []string) error {
	pidPath := pidFilePath()
	pid, err := readPidFile(pidPath)
	if err != nil {
		return err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	if stopRestart {
		err = restartProcess(process, pid)
	} else {
		err = stopProcess(process, pid, stopForce)
	}
	if errors.Is(err, errProcessDone) {
		fmt.Println("Server already stopped")
		_ = os.Remove(pidPath)
		return nil
	}
	if err != nil {
		return err
	}

	switch {
	case stopRestart:
		fmt.Println("Restart signal sent. Server will drain and start a new cycle.")
	case stopForce:
		fmt.Println("Server terminated")
		_ = os.Remove(pidPath)
	default:
		fmt.Println("Shutdown signal sent. Server will stop after draining connections.")
	}
	return nil
}
