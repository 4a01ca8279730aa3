package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/marmos91/echoport/internal/logger"
	"github.com/marmos91/echoport/internal/telemetry"
	"github.com/marmos91/echoport/pkg/config"
	"github.com/marmos91/echoport/pkg/controlplane/api"
	"github.com/marmos91/echoport/pkg/metrics"
	"github.com/marmos91/echoport/pkg/metrics/prometheus"
	"github.com/marmos91/echoport/pkg/server"
	"github.com/spf13/cobra"
)

var serveFlags struct {
	endpoint       string
	verbose        bool
	metricsPort    int
	acceptMode     string
	pendingAccepts int
	workers        int
	driver         string
}

func registerServeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&serveFlags.endpoint, "endpoint", "e", "", "listening port, as -e:PORT or -e PORT (default 5001)")
	f.BoolVarP(&serveFlags.verbose, "verbose", "v", false, "log every completion")
	f.IntVar(&serveFlags.metricsPort, "metrics-port", 0, "Prometheus metrics port (enables metrics; default from config)")
	f.StringVar(&serveFlags.acceptMode, "accept-mode", "", "accept engine: extended or simple")
	f.IntVar(&serveFlags.pendingAccepts, "pending-accepts", 0, "number of pre-posted accepts in extended mode")
	f.IntVar(&serveFlags.workers, "workers", 0, "worker goroutines (default 2 x CPUs)")
	f.StringVar(&serveFlags.driver, "driver", "", "completion driver: auto, net or epoll")
}

// applyServeFlags overrides file and environment values with the flags the
// user set explicitly.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("endpoint") {
		cfg.Server.Port = strings.TrimPrefix(strings.TrimSpace(serveFlags.endpoint), ":")
	}
	if f.Changed("verbose") {
		cfg.Server.Verbose = serveFlags.verbose
	}
	if f.Changed("accept-mode") {
		cfg.Server.AcceptMode = strings.ToLower(serveFlags.acceptMode)
	}
	if f.Changed("pending-accepts") {
		cfg.Server.PendingAccepts = serveFlags.pendingAccepts
	}
	if f.Changed("workers") {
		cfg.Server.Workers = serveFlags.workers
	}
	if f.Changed("driver") {
		cfg.Server.Driver = strings.ToLower(serveFlags.driver)
	}
	if f.Changed("metrics-port") {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Port = serveFlags.metricsPort
	}
	if f.Changed("api-port") {
		cfg.ControlPlane.Enabled = true
		cfg.ControlPlane.Port = apiPort
	}
	return config.Validate(cfg)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}
	if err := applyServeFlags(cmd, cfg); err != nil {
		return err
	}

	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, cfg.TracingConfig(Version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetryShutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(cfg.ProfilingConfig(Version))
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.Err(err))
		}
	}()

	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()),
		"level", cfg.Logging.Level, "format", cfg.Logging.Format)
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}

	serverCfg, err := cfg.ServerConfig()
	if err != nil {
		return err
	}
	driver, err := server.NewDriver(cfg.Server.Driver, cfg.DriverOptions())
	if err != nil {
		return fmt.Errorf("failed to create completion driver: %w", err)
	}

	var echoMetrics metrics.EchoMetrics
	var background []func(context.Context) error
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		echoMetrics = prometheus.NewEchoMetrics()
		metricsServer := metrics.NewServer(cfg.MetricsServerConfig())
		background = append(background, metricsServer.Start)
		logger.Info("Metrics enabled", logger.KeyPort, cfg.Metrics.Port)
	}

	srv, err := server.New(serverCfg, driver, echoMetrics)
	if err != nil {
		return err
	}

	if cfg.ControlPlane.Enabled {
		apiServer, err := api.NewServer(cfg.APIConfig(), srv)
		if err != nil {
			return fmt.Errorf("failed to create API server: %w", err)
		}
		background = append(background, apiServer.Start)
	}

	if path := reloadPath(); path != "" {
		background = append(background, func(ctx context.Context) error {
			return config.Watch(ctx, path, func(next *config.Config) {
				verbose := config.ApplyRuntime(next)
				if !cmd.Flags().Changed("verbose") {
					srv.SetVerbose(verbose)
				}
			})
		})
	}

	pidPath := pidFilePath()
	if err := writePidFile(pidPath); err != nil {
		return err
	}
	defer func() { _ = os.Remove(pidPath) }()

	for _, start := range background {
		go func(start func(context.Context) error) {
			if err := start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Background service failed", logger.Err(err))
			}
		}(start)
	}

	serverDone := make(chan error, 1)
	go func() { serverDone <- srv.Run(ctx) }()

	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)
	defer signal.Stop(sigChan)

	logger.Info("Server is running. Press Ctrl+C to stop.", "driver", driver.Name(), "pid", os.Getpid())

	for {
		select {
		case sig := <-sigChan:
			if isRestartSignal(sig) {
				logger.Info("Restart signal received", "signal", sig.String())
				if err := srv.Restart(); err != nil {
					logger.Warn("Restart ignored", logger.Err(err))
				}
				continue
			}
			logger.Info("Shutdown signal received, draining connections", "signal", sig.String())
			srv.Terminate()

		case err := <-serverDone:
			cancel()
			if err != nil {
				logger.Error("Server error", logger.Err(err))
				return err
			}
			return nil
		}
	}
}

// reloadPath returns the config file to watch for live reload, if any.
func reloadPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return ""
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
