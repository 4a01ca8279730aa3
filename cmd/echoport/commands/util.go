package commands

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/marmos91/echoport/internal/cli/credentials"
	"github.com/marmos91/echoport/pkg/apiclient"
	"github.com/marmos91/echoport/pkg/config"
	"github.com/marmos91/echoport/internal/controlplane/api/auth"
	"github.com/spf13/cobra"
)

// GetDefaultStateDir returns the default state directory path.
func GetDefaultStateDir() string {
	if runtime.GOOS == "windows" {
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, "echoport")
		}
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "echoport")
		}
		return filepath.Join(homeDir, "AppData", "Local", "echoport")
	}

	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "echoport")
		}
		stateDir = filepath.Join(homeDir, ".local", "state")
	}
	return filepath.Join(stateDir, "echoport")
}

// GetDefaultPidFile returns the default PID file path.
func GetDefaultPidFile() string {
	return filepath.Join(GetDefaultStateDir(), "echoport.pid")
}

func pidFilePath() string {
	if pidFile != "" {
		return pidFile
	}
	return GetDefaultPidFile()
}

// writePidFile records the current process ID, creating the state directory.
func writePidFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// readPidFile returns the process ID recorded at path.
func readPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("PID file not found: %s\n\nIs the server running?", path)
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in file: %q", string(data))
	}
	return pid, nil
}

// loadClientConfig loads the config for commands that talk to a running
// server. A missing default config file yields defaults.
func loadClientConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// apiEndpoint returns host:port of the local control API.
func apiEndpoint(cmd *cobra.Command, cfg *config.Config) string {
	port := cfg.ControlPlane.Port
	if cmd.Flags().Changed("api-port") {
		port = apiPort
	}
	return net.JoinHostPort("localhost", strconv.Itoa(port))
}

// adminClient returns an API client carrying an admin token. The token comes
// from --token, then the credentials store, then is minted from the
// configured secret.
func adminClient(cmd *cobra.Command, cfg *config.Config, token string) (*apiclient.Client, error) {
	endpoint := apiEndpoint(cmd, cfg)
	client := apiclient.New(endpoint)

	if token != "" {
		return client.WithToken(token), nil
	}
	if store, err := credentials.NewStore(); err == nil {
		if saved, err := store.Token(endpoint); err == nil {
			return client.WithToken(saved), nil
		}
	}
	if cfg.ControlPlane.Secret == "" {
		return nil, fmt.Errorf("no admin token available for %s\n\n"+
			"Pass --token, run 'echoport token --save', or configure controlplane.secret", endpoint)
	}

	svc, err := auth.NewJWTService(auth.JWTConfig{Secret: cfg.ControlPlane.Secret})
	if err != nil {
		return nil, err
	}
	minted, _, err := svc.GenerateToken("echoport-cli", auth.RoleAdmin, 0)
	if err != nil {
		return nil, err
	}
	return client.WithToken(minted), nil
}
