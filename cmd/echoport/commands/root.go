// Package commands implements the echoport command line.
package commands

import (
	"os"

	"github.com/marmos91/echoport/cmd/echoport/commands/config"
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
	apiPort int
	pidFile string
)

// rootCmd runs the echo server when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "echoport",
	Short: "echoport - completion-driven TCP echo server",
	Long: `echoport is a TCP echo server built on a completion-port model: a small
pool of workers services asynchronous receive and send completions for any
number of concurrent clients, echoing back whatever each client sends.

Run without a subcommand to start the server in the foreground. SIGINT or
SIGTERM drains every connection and exits; SIGHUP drains and restarts on the
same port.

Examples:
  # Listen on the default port 5001
  echoport

  # Listen on port 7000 with verbose completion logging
  echoport -e:7000 -v

  # Pre-post four accepts and enable the control API
  echoport --pending-accepts 4 --api-port 8080

Use "echoport [command] -?" for more information about a command.`,
	Args:          cobra.NoArgs,
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once by main.main().
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/echoport/config.yaml)")
	pf.IntVar(&apiPort, "api-port", 0, "control API port (enables the control API; default from config)")
	pf.StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/echoport/echoport.pid)")
	pf.BoolP("help", "?", false, "print usage")

	registerServeFlags(rootCmd)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(config.Cmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}

// Exit prints an error and exits with code 1.
func Exit(format string, args ...any) {
	PrintErr(format, args...)
	os.Exit(1)
}
