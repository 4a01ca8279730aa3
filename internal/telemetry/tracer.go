package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys.
const (
	AttrCycleID    = "echo.cycle.id"
	AttrCycleNum   = "echo.cycle.number"
	AttrListenAddr = "echo.listen.address"
	AttrDriver     = "echo.driver"
	AttrAcceptMode = "echo.accept_mode"
	AttrWorkers    = "echo.workers"

	AttrConnID     = "echo.conn.id"
	AttrConnKey    = "echo.conn.key"
	AttrClientAddr = "client.address"
	AttrBytes      = "echo.bytes"
	AttrCloseCause = "echo.close.cause"

	AttrDrained   = "echo.drain.connections"
	AttrAbandoned = "echo.drain.workers_abandoned"
)

// Span names.
const (
	SpanCycle      = "server.cycle"
	SpanDrain      = "server.drain"
	SpanConnection = "echo.connection"
)

// StartCycleSpan starts the root span of one listen/serve/drain cycle.
func StartCycleSpan(ctx context.Context, cycleID string, number int, addr string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append([]attribute.KeyValue{
		attribute.String(AttrCycleID, cycleID),
		attribute.Int(AttrCycleNum, number),
		attribute.String(AttrListenAddr, addr),
	}, attrs...)
	return StartSpan(ctx, SpanCycle, trace.WithSpanKind(trace.SpanKindServer), trace.WithAttributes(attrs...))
}

// StartDrainSpan starts the span covering worker stop and connection drain.
func StartDrainSpan(ctx context.Context) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanDrain, trace.WithSpanKind(trace.SpanKindInternal))
}

// StartConnectionSpan starts a span living for one accepted connection.
func StartConnectionSpan(ctx context.Context, connID string, key uint64, remote string) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanConnection,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String(AttrConnID, connID),
			attribute.Int64(AttrConnKey, int64(key)),
			attribute.String(AttrClientAddr, remote),
		))
}

// Bytes returns an echoed byte count attribute.
func Bytes(n int64) attribute.KeyValue {
	return attribute.Int64(AttrBytes, n)
}

// CloseCause returns the attribute naming why a connection ended.
func CloseCause(cause string) attribute.KeyValue {
	return attribute.String(AttrCloseCause, cause)
}
