package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/echoport/internal/logger"
)

func TestWatch_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: INFO\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- Watch(ctx, path, func(c *Config) { reloaded <- c })
	}()

	// Let the watcher register before the edit.
	time.Sleep(100 * time.Millisecond)

	// An invalid edit is skipped.
	if err := os.WriteFile(path, []byte("server:\n  accept_mode: bogus\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	select {
	case c := <-reloaded:
		t.Fatalf("Invalid config was applied: %+v", c.Server)
	case <-time.After(2 * reloadDebounce):
	}

	if err := os.WriteFile(path, []byte("logging:\n  level: DEBUG\nserver:\n  verbose: true\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	select {
	case c := <-reloaded:
		if c.Logging.Level != "DEBUG" || !c.Server.Verbose {
			t.Errorf("Unexpected reloaded config: level=%s verbose=%v", c.Logging.Level, c.Server.Verbose)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Config change was not picked up")
	}

	cancel()
	select {
	case err := <-watchErr:
		if err != nil {
			t.Errorf("Watch returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestApplyRuntime(t *testing.T) {
	prev := logger.GetLevel()
	defer logger.SetLevel(prev)

	cfg := GetDefaultConfig()
	cfg.Logging.Level = "WARN"
	cfg.Server.Verbose = true

	if !ApplyRuntime(cfg) {
		t.Error("Expected verbose flag to be returned")
	}
	if got := logger.GetLevel(); got != "WARN" {
		t.Errorf("Expected level WARN, got %s", got)
	}
}
