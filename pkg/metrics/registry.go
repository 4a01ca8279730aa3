// Package metrics provides Prometheus metrics collection for echoport.
//
// All metrics are optional. If the registry is not initialized, constructors
// return no-op implementations, so the server runs the same way with or
// without metrics collection enabled.
//
// Usage:
//
//	// Initialize the global registry (typically in the serve command)
//	metrics.InitRegistry()
//
//	// Create metrics instances for components
//	echoMetrics := prometheus.NewEchoMetrics()
//
//	// Or use nil for no-op behavior
//	srv := server.New(cfg, driver, nil)
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// registry is the global Prometheus registry for all echoport metrics.
	// Written once by InitRegistry.
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry together with the
// Go runtime and process collectors.
//
// It is safe to call multiple times; subsequent calls are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		r := prometheus.NewRegistry()
		r.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registry = r
	})
}

// GetRegistry returns the global Prometheus registry, or nil when
// InitRegistry has not been called.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
