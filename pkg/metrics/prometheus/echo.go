package prometheus

import (
	"strconv"
	"time"

	"github.com/marmos91/echoport/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// echoMetrics is the Prometheus implementation of metrics.EchoMetrics.
type echoMetrics struct {
	connectionsAccepted    prometheus.Counter
	connectionsClosed      *prometheus.CounterVec
	connectionsForceClosed prometheus.Counter
	connectionsRejected    *prometheus.CounterVec
	activeConnections      prometheus.Gauge
	completions            *prometheus.CounterVec
	bytesEchoed            prometheus.Counter
	partialSends           prometheus.Counter
	acceptRearms           prometheus.Counter
	pendingAccepts         prometheus.Gauge
	cycles                 prometheus.Counter
	restarts               prometheus.Counter
	drainDuration          prometheus.Histogram
	drainedConnections     prometheus.Histogram
	workersAbandoned       prometheus.Counter
}

// NewEchoMetrics creates a Prometheus-backed EchoMetrics on the global
// registry.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not
// called).
func NewEchoMetrics() metrics.EchoMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopEchoMetrics()
	}
	return NewEchoMetricsWith(metrics.GetRegistry())
}

// NewEchoMetricsWith registers the echo collectors on reg.
func NewEchoMetricsWith(reg prometheus.Registerer) metrics.EchoMetrics {
	f := promauto.With(reg)

	return &echoMetrics{
		connectionsAccepted: f.NewCounter(prometheus.CounterOpts{
			Name: "echoport_connections_accepted_total",
			Help: "Total number of connections promoted into the registry",
		}),
		connectionsClosed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "echoport_connections_closed_total",
				Help: "Total number of connections closed during normal operation, by cause",
			},
			[]string{"cause"},
		),
		connectionsForceClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "echoport_connections_force_closed_total",
			Help: "Total number of connections abortively closed by a drain",
		}),
		connectionsRejected: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "echoport_connections_rejected_total",
				Help: "Total number of accepted sockets closed before registration, by reason",
			},
			[]string{"reason"},
		),
		activeConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "echoport_active_connections",
			Help: "Current number of registered connections",
		}),
		completions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "echoport_completions_total",
				Help: "Total number of dequeued completions by operation kind and outcome",
			},
			[]string{"kind", "ok"},
		),
		bytesEchoed: f.NewCounter(prometheus.CounterOpts{
			Name: "echoport_bytes_echoed_total",
			Help: "Total number of bytes written back to clients",
		}),
		partialSends: f.NewCounter(prometheus.CounterOpts{
			Name: "echoport_partial_sends_total",
			Help: "Total number of send completions that required a follow-up send",
		}),
		acceptRearms: f.NewCounter(prometheus.CounterOpts{
			Name: "echoport_accept_rearms_total",
			Help: "Total number of accepts re-posted after completion",
		}),
		pendingAccepts: f.NewGauge(prometheus.GaugeOpts{
			Name: "echoport_pending_accepts",
			Help: "Number of accepts kept posted on the listener",
		}),
		cycles: f.NewCounter(prometheus.CounterOpts{
			Name: "echoport_serve_cycles_total",
			Help: "Total number of serve cycles that started accepting",
		}),
		restarts: f.NewCounter(prometheus.CounterOpts{
			Name: "echoport_restarts_total",
			Help: "Total number of honoured restart requests",
		}),
		drainDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name: "echoport_drain_duration_milliseconds",
			Help: "Duration of the drain sequence in milliseconds",
			Buckets: []float64{
				1,    // 1ms - idle server
				10,   // 10ms
				100,  // 100ms
				1000, // 1s - worker exit timeout hit
				5000, // 5s
			},
		}),
		drainedConnections: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "echoport_drained_connections",
			Help:    "Number of connections closed per drain",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		workersAbandoned: f.NewCounter(prometheus.CounterOpts{
			Name: "echoport_workers_abandoned_total",
			Help: "Total number of workers that missed the drain exit deadline",
		}),
	}
}

func (m *echoMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *echoMetrics) RecordConnectionClosed(cause string) {
	m.connectionsClosed.WithLabelValues(cause).Inc()
}

func (m *echoMetrics) RecordConnectionForceClosed() {
	m.connectionsForceClosed.Inc()
}

func (m *echoMetrics) RecordConnectionRejected(reason string) {
	m.connectionsRejected.WithLabelValues(reason).Inc()
}

func (m *echoMetrics) SetActiveConnections(count int) {
	m.activeConnections.Set(float64(count))
}

func (m *echoMetrics) RecordCompletion(kind string, ok bool) {
	m.completions.WithLabelValues(kind, strconv.FormatBool(ok)).Inc()
}

func (m *echoMetrics) RecordBytesEchoed(bytes int) {
	m.bytesEchoed.Add(float64(bytes))
}

func (m *echoMetrics) RecordPartialSend() {
	m.partialSends.Inc()
}

func (m *echoMetrics) RecordAcceptRearmed() {
	m.acceptRearms.Inc()
}

func (m *echoMetrics) SetPendingAccepts(count int) {
	m.pendingAccepts.Set(float64(count))
}

func (m *echoMetrics) RecordCycleStarted() {
	m.cycles.Inc()
}

func (m *echoMetrics) RecordRestart() {
	m.restarts.Inc()
}

func (m *echoMetrics) RecordDrain(duration time.Duration, drained int) {
	m.drainDuration.Observe(float64(duration.Microseconds()) / 1000)
	m.drainedConnections.Observe(float64(drained))
}

func (m *echoMetrics) RecordWorkersAbandoned(count int) {
	m.workersAbandoned.Add(float64(count))
}
