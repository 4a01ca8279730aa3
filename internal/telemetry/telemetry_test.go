package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useRecorder swaps in an in-memory span recorder for the test.
func useRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	mu.Lock()
	prev, prevEnabled := tracer, enabled
	tracer, enabled = tp.Tracer(instrumentationName), true
	mu.Unlock()

	t.Cleanup(func() {
		mu.Lock()
		tracer, enabled = prev, prevEnabled
		mu.Unlock()
		_ = tp.Shutdown(context.Background())
	})
	return rec
}

func attrMap(kvs []attribute.KeyValue) map[string]attribute.Value {
	m := make(map[string]attribute.Value, len(kvs))
	for _, kv := range kvs {
		m[string(kv.Key)] = kv.Value
	}
	return m
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "echoport", cfg.ServiceName)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.False(t, IsEnabled())

	// no-op spans carry no IDs
	ctx, span := StartSpan(context.Background(), "noop")
	defer span.End()
	assert.Empty(t, TraceID(ctx))
	assert.Empty(t, SpanID(ctx))
}

func TestSamplerFor(t *testing.T) {
	assert.Contains(t, samplerFor(1).Description(), "AlwaysOn")
	assert.Contains(t, samplerFor(0).Description(), "AlwaysOff")
	assert.Contains(t, samplerFor(0.25).Description(), "TraceIDRatioBased")
}

func TestCycleAndConnectionSpans(t *testing.T) {
	rec := useRecorder(t)

	ctx, cycle := StartCycleSpan(context.Background(), "cyc-1", 2, "127.0.0.1:5001", attribute.String(AttrDriver, "net"))
	assert.NotEmpty(t, TraceID(ctx))
	assert.NotEmpty(t, SpanID(ctx))

	connCtx, conn := StartConnectionSpan(ctx, "conn-1", 7, "127.0.0.1:40000")
	AddEvent(connCtx, "partial_send", Bytes(100))
	conn.SetAttributes(CloseCause("eof"))
	conn.End()

	_, drain := StartDrainSpan(ctx)
	drain.End()
	cycle.End()

	ended := rec.Ended()
	require.Len(t, ended, 3)

	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range ended {
		byName[s.Name()] = s
	}

	c := attrMap(byName[SpanCycle].Attributes())
	assert.Equal(t, "cyc-1", c[AttrCycleID].AsString())
	assert.Equal(t, int64(2), c[AttrCycleNum].AsInt64())
	assert.Equal(t, "net", c[AttrDriver].AsString())

	cs := byName[SpanConnection]
	assert.Equal(t, byName[SpanCycle].SpanContext().TraceID(), cs.SpanContext().TraceID())
	assert.Equal(t, int64(7), attrMap(cs.Attributes())[AttrConnKey].AsInt64())
	assert.Equal(t, "eof", attrMap(cs.Attributes())[AttrCloseCause].AsString())
	require.Len(t, cs.Events(), 1)
	assert.Equal(t, "partial_send", cs.Events()[0].Name)

	assert.Contains(t, byName, SpanDrain)
}

func TestRecordError(t *testing.T) {
	rec := useRecorder(t)

	ctx, span := StartSpan(context.Background(), "op")
	RecordError(ctx, nil)
	RecordError(ctx, errors.New("reset by peer"))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "reset by peer", ended[0].Status().Description)
}

func TestParseProfileType(t *testing.T) {
	for name := range profileTypes {
		_, err := parseProfileType(name)
		assert.NoError(t, err, name)
		assert.True(t, ValidProfileType(name))
	}
	_, err := parseProfileType("heap")
	assert.Error(t, err)
	assert.False(t, ValidProfileType("heap"))
}

func TestInitProfilingDisabled(t *testing.T) {
	stop, err := InitProfiling(ProfilingConfig{})
	require.NoError(t, err)
	assert.NoError(t, stop())
}
