package logger

import "context"

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext carries the fields prefixed to every *Ctx log line.
type LogContext struct {
	TraceID  string
	SpanID   string
	Cycle    string // serve cycle instance ID
	ConnID   string
	ClientIP string
}

// WithContext attaches lc to ctx.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext returns the LogContext attached to ctx, or nil.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// WithTrace returns a copy of lc with trace identifiers set.
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	if lc == nil {
		return &LogContext{TraceID: traceID, SpanID: spanID}
	}
	c := *lc
	c.TraceID, c.SpanID = traceID, spanID
	return &c
}
