package server

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/echoport/internal/logger"
	"github.com/marmos91/echoport/internal/telemetry"
	"github.com/marmos91/echoport/pkg/registry"
	"go.opentelemetry.io/otel/trace"
)

// Connection is the per-client context: the socket, its single operation
// and bookkeeping. mu serializes completion dispatch against close, so a
// closed connection is never driven again.
type Connection struct {
	mu sync.Mutex

	key    registry.Key
	id     string
	sock   socket
	op     *Operation
	remote string
	since  time.Time
	closed bool

	echoed atomic.Int64

	ctx  context.Context
	span trace.Span
}

func newConnection(parent context.Context, sock socket, op *Operation) *Connection {
	c := &Connection{
		id:    uuid.NewString(),
		sock:  sock,
		op:    op,
		since: time.Now(),
	}
	if addr := sock.RemoteAddr(); addr != nil {
		c.remote = addr.String()
	}
	c.ctx = parent
	c.span = trace.SpanFromContext(parent)
	return c
}

// bind records the registry key and starts the connection span. Called with
// c.mu held, before any operation is posted.
func (c *Connection) bind(key registry.Key) {
	c.key = key
	ctx, span := telemetry.StartConnectionSpan(c.ctx, c.id, uint64(key), c.remote)
	lc := logger.FromContext(ctx).WithTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx))
	lc.ConnID = c.id
	lc.ClientIP = clientIP(c.remote)
	c.ctx = logger.WithContext(ctx, lc)
	c.span = span
}

// shutdown marks the connection closed and closes its socket. It reports
// whether this call did the closing. Caller holds c.mu.
func (c *Connection) shutdown(abortive bool) bool {
	if c.closed {
		return false
	}
	c.closed = true
	_ = c.sock.Close(abortive)
	return true
}

// finish ends the connection span.
func (c *Connection) finish(cause string) {
	c.span.SetAttributes(telemetry.Bytes(c.echoed.Load()), telemetry.CloseCause(cause))
	c.span.End()
}

func (c *Connection) info() ConnectionInfo {
	c.mu.Lock()
	key := c.key
	state := kindOf(c.op)
	if c.closed {
		state = "closed"
	}
	c.mu.Unlock()

	return ConnectionInfo{
		Key:         uint64(key),
		ID:          c.id,
		Remote:      c.remote,
		State:       state,
		Since:       c.since,
		BytesEchoed: c.echoed.Load(),
	}
}

func clientIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
