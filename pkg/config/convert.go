package config

import (
	"github.com/marmos91/echoport/internal/logger"
	"github.com/marmos91/echoport/internal/telemetry"
	"github.com/marmos91/echoport/pkg/completion"
	"github.com/marmos91/echoport/pkg/controlplane/api"
	"github.com/marmos91/echoport/pkg/metrics"
	"github.com/marmos91/echoport/pkg/server"
)

// ServerConfig returns the runtime configuration of the echo server.
func (c *Config) ServerConfig() (server.Config, error) {
	rates, err := ParseAcceptRate(c.Server.AcceptRate)
	if err != nil {
		return server.Config{}, err
	}
	s := c.Server
	return server.Config{
		BindAddress:       s.BindAddress,
		Port:              s.Port,
		BufferSize:        s.BufferSize.Int(),
		Workers:           s.Workers,
		AcceptMode:        server.AcceptMode(s.AcceptMode),
		PendingAccepts:    s.PendingAccepts,
		Verbose:           s.Verbose,
		WorkerExitTimeout: s.WorkerExitTimeout,
		DrainTimeout:      s.DrainTimeout,
		RestartDelay:      s.RestartDelay,
		MaxConnections:    s.MaxConnections,
		AcceptRate:        rates,
	}, nil
}

// DriverOptions returns the completion driver options.
func (c *Config) DriverOptions() completion.Options {
	opts := completion.DefaultOptions()
	opts.AcceptWithData = c.Server.AcceptWithData
	return opts
}

// LoggerConfig returns the logger settings.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}

// MetricsServerConfig returns the metrics HTTP server settings.
func (c *Config) MetricsServerConfig() metrics.ServerConfig {
	return metrics.ServerConfig{Port: c.Metrics.Port}
}

// TracingConfig returns the OpenTelemetry settings for version.
func (c *Config) TracingConfig(version string) telemetry.Config {
	t := telemetry.DefaultConfig()
	t.Enabled = c.Telemetry.Enabled
	t.Endpoint = c.Telemetry.Endpoint
	t.Insecure = c.Telemetry.Insecure
	t.SampleRate = c.Telemetry.SampleRate
	if version != "" {
		t.ServiceVersion = version
	}
	return t
}

// ProfilingConfig returns the Pyroscope settings for version.
func (c *Config) ProfilingConfig(version string) telemetry.ProfilingConfig {
	p := c.Telemetry.Profiling
	return telemetry.ProfilingConfig{
		Enabled:        p.Enabled,
		ServiceName:    "echoport",
		ServiceVersion: version,
		Endpoint:       p.Endpoint,
		ProfileTypes:   p.ProfileTypes,
	}
}

// APIConfig returns the control API server settings.
func (c *Config) APIConfig() api.APIConfig {
	cp := c.ControlPlane
	return api.APIConfig{
		Port:         cp.Port,
		BindAddress:  c.Server.BindAddress,
		ReadTimeout:  cp.ReadTimeout,
		WriteTimeout: cp.WriteTimeout,
		IdleTimeout:  cp.IdleTimeout,
		Secret:       cp.Secret,
	}
}
