package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEchoMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEchoMetricsWith(reg)
	em := m.(*echoMetrics)

	m.RecordConnectionAccepted()
	m.RecordConnectionAccepted()
	m.RecordConnectionClosed("peer_closed")
	m.RecordConnectionRejected("rate_limited")
	m.SetActiveConnections(1)
	m.RecordCompletion("read", true)
	m.RecordCompletion("read", false)
	m.RecordBytesEchoed(20000)
	m.RecordPartialSend()
	m.RecordDrain(3*time.Millisecond, 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(em.connectionsAccepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(em.connectionsClosed.WithLabelValues("peer_closed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(em.connectionsRejected.WithLabelValues("rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(em.activeConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(em.completions.WithLabelValues("read", "false")))
	assert.Equal(t, 20000.0, testutil.ToFloat64(em.bytesEchoed))
	assert.Equal(t, 1.0, testutil.ToFloat64(em.partialSends))

	n, err := testutil.GatherAndCount(reg, "echoport_drain_duration_milliseconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewEchoMetricsDisabled(t *testing.T) {
	// The global registry is never initialized in this package's tests.
	m := NewEchoMetrics()
	_, isProm := m.(*echoMetrics)
	assert.False(t, isProm)
}
