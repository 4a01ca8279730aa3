package server

import (
	"context"
	"fmt"
	"math"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/echoport/internal/logger"
	"github.com/marmos91/echoport/internal/telemetry"
	"github.com/marmos91/echoport/pkg/completion"
	"github.com/marmos91/echoport/pkg/registry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// listenerKey is the completion key of the listener. Registry keys never
// reach it.
const listenerKey = completion.Key(math.MaxUint64)

type listenerHandle struct {
	l listener
}

// cycle is one listen/serve/drain instance. Nothing in it outlives the
// drain; a restart builds a new cycle.
type cycle struct {
	srv    *Server
	id     string
	number int
	mode   AcceptMode

	ctx  context.Context
	span trace.Span

	port      *port
	ln        atomic.Pointer[listenerHandle]
	addr      net.Addr
	boundPort string
	started   time.Time

	conns *registry.Registry[*Connection]

	// accepts chains the listener's pending accept operations.
	accepts *Operation

	nworkers int
	workers  sync.WaitGroup
	active   atomic.Int32

	stopping atomic.Bool
	stopOnce sync.Once
	wake     chan struct{}
}

// startCycle binds the listener, starts the workers and posts the initial
// accepts. On failure everything acquired so far is released.
func (s *Server) startCycle(parent context.Context, portStr string) (*cycle, error) {
	s.mu.Lock()
	s.cycles++
	number := s.cycles
	s.mu.Unlock()

	c := &cycle{
		srv:      s,
		id:       uuid.NewString(),
		number:   number,
		mode:     s.cfg.AcceptMode,
		port:     completion.NewPort[*Operation](),
		conns:    registry.New[*Connection](),
		nworkers: s.cfg.Workers,
		wake:     make(chan struct{}),
	}

	address := s.cfg.address(portStr)
	ctx, span := telemetry.StartCycleSpan(context.WithoutCancel(parent), c.id, number, address,
		attribute.String(telemetry.AttrDriver, s.driver.Name()),
		attribute.String(telemetry.AttrAcceptMode, string(c.mode)),
		attribute.Int(telemetry.AttrWorkers, c.nworkers),
	)
	lc := logger.FromContext(ctx).WithTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx))
	lc.Cycle = c.id
	c.ctx = logger.WithContext(ctx, lc)
	c.span = span

	ln, err := s.driver.Listen(parent, address)
	if err != nil {
		telemetry.RecordError(c.ctx, err)
		span.End()
		_ = c.port.Close()
		return nil, fmt.Errorf("listen on %s: %w", address, err)
	}
	c.ln.Store(&listenerHandle{l: ln})
	c.addr = ln.Addr()
	c.boundPort = portStr
	if tcp, ok := c.addr.(*net.TCPAddr); ok {
		c.boundPort = strconv.Itoa(tcp.Port)
	}

	c.startWorkers()

	if c.mode == AcceptExtended {
		if err := c.postInitialAccepts(ln); err != nil {
			telemetry.RecordError(c.ctx, err)
			c.stop()
			c.drain()
			return nil, err
		}
	}

	c.started = time.Now()
	s.metrics.RecordCycleStarted()
	logger.InfoCtx(c.ctx, "Echo server listening",
		logger.KeyAddr, c.addr.String(),
		logger.KeyCycle, number,
		logger.KeyDriver, s.driver.Name(),
		logger.KeyMode, string(c.mode),
		logger.KeyWorkers, c.nworkers,
	)
	s.publish(c)
	return c, nil
}

func (c *cycle) postInitialAccepts(ln listener) error {
	s := c.srv
	if err := ln.Associate(c.port, listenerKey); err != nil {
		return fmt.Errorf("associate listener: %w", err)
	}
	for i := 0; i < s.cfg.PendingAccepts; i++ {
		op, err := c.newOperation(accepting{})
		if err != nil {
			return fmt.Errorf("allocate accept context: %w", err)
		}
		op.next = c.accepts
		c.accepts = op
		if err := ln.PostAccept(op.buf, op); err != nil {
			return fmt.Errorf("post accept: %w", err)
		}
	}
	s.metrics.SetPendingAccepts(s.cfg.PendingAccepts)
	logger.DebugCtx(c.ctx, "Accepts posted", logger.KeyPending, s.cfg.PendingAccepts)
	return nil
}

// serve blocks until the cycle is stopped. In simple mode it runs the
// synchronous accept loop; in extended mode accepts complete on the workers.
func (c *cycle) serve() {
	if c.mode == AcceptSimple {
		c.acceptLoop()
		return
	}
	<-c.wake
}

// stop sets the stop flag, closes the listener and wakes serve. Idempotent.
func (c *cycle) stop() {
	c.stopOnce.Do(func() {
		c.stopping.Store(true)
		if h := c.ln.Swap(nil); h != nil {
			_ = h.l.Close()
		}
		close(c.wake)
	})
}

// activeListener returns the live listener, or nil once stop closed it.
func (c *cycle) activeListener() listener {
	if h := c.ln.Load(); h != nil {
		return h.l
	}
	return nil
}

func (c *cycle) newOperation(st ioState) (*Operation, error) {
	buf, err := c.srv.pool.Get()
	if err != nil {
		return nil, err
	}
	return &Operation{buf: buf, state: st}, nil
}

// retire returns op's buffer once no I/O references it. If the operation
// is still pending after the drain timeout the buffer is abandoned.
func (c *cycle) retire(op *Operation) {
	if op == nil || op.buf == nil {
		return
	}
	if op.Pending() {
		ctx, cancel := context.WithTimeout(context.Background(), c.srv.cfg.DrainTimeout)
		err := op.Wait(ctx)
		cancel()
		if err != nil {
			logger.WarnCtx(c.ctx, "Operation still pending after drain timeout, buffer abandoned",
				logger.Op(kindOf(op)))
			return
		}
	}
	c.srv.pool.Put(op.buf)
	op.buf = nil
}

func (c *cycle) list() []ConnectionInfo {
	var conns []*Connection
	c.conns.Range(func(_ registry.Key, conn *Connection) bool {
		conns = append(conns, conn)
		return true
	})

	infos := make([]ConnectionInfo, 0, len(conns))
	for _, conn := range conns {
		infos = append(infos, conn.info())
	}
	return infos
}
