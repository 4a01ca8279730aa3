package logger

import (
	"log/slog"
	"time"
)

// Field keys shared by every log statement in the server.
const (
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Serve cycle and lifecycle
	KeyCycle   = "cycle"
	KeyCycleID = "cycle_id"
	KeyPhase   = "phase"
	KeyAddr    = "addr"
	KeyPort    = "port"
	KeyDriver  = "driver"
	KeyWorkers = "workers"
	KeyWorker  = "worker"
	KeyMode    = "accept_mode"
	KeyPending = "pending_accepts"

	// Connections and completions
	KeyConnID   = "conn_id"
	KeyConnKey  = "conn_key"
	KeyClientIP = "client_ip"
	KeyOp       = "op"
	KeyBytes    = "bytes"
	KeyTotal    = "total"
	KeySent     = "sent"
	KeyCount    = "count"

	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyReason     = "reason"
)

// Err returns an error attribute, or an empty attribute for nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ConnKey returns the registry key of a connection as an attribute.
func ConnKey(k uint64) slog.Attr {
	return slog.Uint64(KeyConnKey, k)
}

// Bytes returns a byte-count attribute.
func Bytes(n int) slog.Attr {
	return slog.Int(KeyBytes, n)
}

// Op returns the operation-kind attribute.
func Op(kind string) slog.Attr {
	return slog.String(KeyOp, kind)
}

// Elapsed returns the time since start as a duration_ms attribute.
func Elapsed(start time.Time) slog.Attr {
	return slog.Float64(KeyDurationMs, Duration(start))
}
