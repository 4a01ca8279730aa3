package server

import (
	"github.com/marmos91/echoport/internal/logger"
	"github.com/marmos91/echoport/pkg/registry"
)

// Close causes reported to metrics, logs and connection spans.
const (
	causePeerClosed = "peer_closed"
	causeRecvError  = "recv_error"
	causeSendError  = "send_error"
	causePostFailed = "post_failed"
	causeDrained    = "drained"
)

func (c *cycle) startWorkers() {
	c.active.Store(int32(c.nworkers))
	c.workers.Add(c.nworkers)
	for i := 0; i < c.nworkers; i++ {
		go c.worker(i)
	}
}

// worker dequeues completions until it receives a sentinel, sees the stop
// flag or the port is closed.
func (c *cycle) worker(id int) {
	defer c.workers.Done()
	defer c.active.Add(-1)

	for {
		ev, err := c.port.Next()
		if err != nil {
			return
		}
		if ev.Sentinel() {
			logger.Debug("Worker received sentinel", logger.KeyWorker, id, logger.KeyCycle, c.number)
			return
		}
		if c.stopping.Load() {
			if ev.Accepted != nil {
				_ = ev.Accepted.Close(true)
			}
			logger.Debug("Worker exiting on stop flag", logger.KeyWorker, id, logger.KeyCycle, c.number)
			return
		}
		c.dispatch(id, ev)
	}
}

// dispatch routes one completion to the accept path or to its connection.
func (c *cycle) dispatch(worker int, ev event) {
	s := c.srv
	kind := kindOf(ev.Op)
	s.completions.Add(1)
	s.metrics.RecordCompletion(kind, ev.OK() && (ev.Bytes > 0 || ev.Key == listenerKey))

	if s.verbose.Load() {
		logger.Info("Completion",
			logger.KeyWorker, worker,
			logger.ConnKey(uint64(ev.Key)),
			logger.Op(kind),
			logger.Bytes(ev.Bytes),
			logger.Err(ev.Err),
		)
	}

	if ev.Key == listenerKey {
		c.onAccept(ev)
		return
	}

	conn, ok := c.conns.Get(registry.Key(ev.Key))
	if !ok {
		logger.Debug("Completion for unknown connection", logger.ConnKey(uint64(ev.Key)), logger.Op(kind))
		return
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.closed || ev.Op != conn.op {
		return
	}

	switch st := conn.op.state.(type) {
	case reading:
		c.onRead(conn, ev)
	case writing:
		c.onWrite(conn, st, ev)
	default:
		logger.ErrorCtx(conn.ctx, "Unexpected operation state on connection", logger.Op(kind))
		c.closeConn(conn, causePostFailed, nil)
	}
}

// onRead echoes the bytes just received, or closes the connection when the
// peer is done or the read failed. Caller holds conn.mu.
func (c *cycle) onRead(conn *Connection, ev event) {
	if !ev.OK() {
		c.closeConn(conn, causeRecvError, ev.Err)
		return
	}
	if ev.Bytes == 0 {
		c.closeConn(conn, causePeerClosed, nil)
		return
	}
	c.postSend(conn, writing{total: ev.Bytes})
}

// onWrite accounts for the bytes just sent. A short send re-posts the
// remainder; a complete one posts the next read. Caller holds conn.mu.
func (c *cycle) onWrite(conn *Connection, st writing, ev event) {
	if !ev.OK() || ev.Bytes == 0 {
		c.closeConn(conn, causeSendError, ev.Err)
		return
	}

	s := c.srv
	st.sent += ev.Bytes
	conn.echoed.Add(int64(ev.Bytes))
	s.echoed.Add(int64(ev.Bytes))
	s.metrics.RecordBytesEchoed(ev.Bytes)

	if st.sent < st.total {
		s.metrics.RecordPartialSend()
		logger.DebugCtx(conn.ctx, "Partial send, re-posting remainder",
			logger.KeySent, st.sent, logger.KeyTotal, st.total)
		c.postSend(conn, st)
		return
	}
	c.postRecv(conn)
}

func (c *cycle) postRecv(conn *Connection) {
	op := conn.op
	op.state = reading{}
	if err := conn.sock.Recv(op.buf, op); err != nil {
		c.closeConn(conn, causePostFailed, err)
	}
}

func (c *cycle) postSend(conn *Connection, st writing) {
	op := conn.op
	op.state = st
	if err := conn.sock.Send(op.buf[st.sent:st.total], op); err != nil {
		c.closeConn(conn, causePostFailed, err)
	}
}

// closeConn closes the connection abortively, whatever the cause, and
// removes it from the registry. The goroutine that removes the entry retires
// its operation; if a drain detached it first, the drain does. Caller holds
// conn.mu.
func (c *cycle) closeConn(conn *Connection, cause string, err error) {
	if !conn.shutdown(true) {
		return
	}
	if _, rerr := c.conns.Remove(conn.key); rerr != nil {
		return
	}

	s := c.srv
	c.retire(conn.op)
	s.closed.Add(1)
	s.metrics.RecordConnectionClosed(cause)
	s.metrics.SetActiveConnections(c.conns.Len())
	conn.finish(cause)

	if err != nil && !c.stopping.Load() {
		logger.WarnCtx(conn.ctx, "Connection closed on error",
			logger.KeyReason, cause, logger.Err(err))
		return
	}
	logger.DebugCtx(conn.ctx, "Connection closed",
		logger.KeyReason, cause,
		logger.KeyBytes, conn.echoed.Load(),
		logger.Elapsed(conn.since),
	)
}
