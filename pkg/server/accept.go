package server

import (
	"errors"
	"fmt"

	"github.com/marmos91/echoport/internal/logger"
	"github.com/marmos91/echoport/internal/telemetry"
	"github.com/marmos91/echoport/pkg/completion"
)

// onAccept handles a completed accept. The accept is re-armed before the
// new socket is promoted, so the listener keeps the same number of accepts
// outstanding no matter how promotion ends.
func (c *cycle) onAccept(ev event) {
	op := ev.Op

	var fresh *Operation
	var allocErr error
	if ev.OK() && ev.Accepted != nil {
		fresh, allocErr = c.newOperation(reading{})
		if fresh != nil && ev.Bytes > 0 {
			copy(fresh.buf, op.buf[:ev.Bytes])
		}
	}

	c.rearm(op)

	switch {
	case !ev.OK():
		if c.stopping.Load() || errors.Is(ev.Err, completion.ErrSocketClosed) {
			logger.DebugCtx(c.ctx, "Accept failed during shutdown", logger.Err(ev.Err))
			return
		}
		logger.WarnCtx(c.ctx, "Accept failed", logger.Err(ev.Err))
	case ev.Accepted == nil:
		logger.WarnCtx(c.ctx, "Accept completed without a socket")
	case fresh == nil:
		c.reject(ev.Accepted, nil, rejectNoBuffer, allocErr)
	default:
		c.promote(ev.Accepted, fresh, ev.Bytes)
	}
}

// rearm posts op on the listener again. Failing to do so while serving is
// server-fatal.
func (c *cycle) rearm(op *Operation) {
	op.state = accepting{}
	ln := c.activeListener()
	if ln == nil {
		logger.DebugCtx(c.ctx, "Listener closed, accept not re-armed")
		return
	}
	if err := ln.PostAccept(op.buf, op); err != nil {
		if c.stopping.Load() {
			logger.DebugCtx(c.ctx, "Accept not re-armed during shutdown", logger.Err(err))
			return
		}
		telemetry.RecordError(c.ctx, err)
		logger.ErrorCtx(c.ctx, "Failed to re-arm accept", logger.Err(err))
		c.srv.fatal(fmt.Errorf("re-arm accept: %w", err))
		return
	}
	c.srv.metrics.RecordAcceptRearmed()
}

// promote turns an accepted socket into a registered connection and posts
// its first operation: a send of inline bytes received with the accept, or
// a read. op becomes the connection's operation. Failing to update the
// accept context or to associate the socket with the port is server-fatal.
func (c *cycle) promote(sock socket, op *Operation, inline int) {
	s := c.srv

	remote := ""
	if addr := sock.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	if reason := s.admit.admit(clientIP(remote), c.conns.Len()); reason != "" {
		c.reject(sock, op, reason, nil)
		return
	}

	if c.mode == AcceptExtended {
		ln := c.activeListener()
		if ln == nil {
			c.reject(sock, op, rejectPromote, completion.ErrSocketClosed)
			return
		}
		if err := sock.UpdateAcceptContext(ln); err != nil {
			c.reject(sock, op, rejectPromote, err)
			if !c.stopping.Load() {
				c.srv.fatal(fmt.Errorf("update accept context: %w", err))
			}
			return
		}
	}

	conn := newConnection(c.ctx, sock, op)
	conn.mu.Lock()
	defer conn.mu.Unlock()

	conn.bind(c.conns.Insert(conn))
	if err := sock.Associate(c.port, completion.Key(conn.key)); err != nil {
		_, _ = c.conns.Remove(conn.key)
		conn.shutdown(true)
		conn.finish(rejectAssociate)
		c.reject(nil, op, rejectAssociate, err)
		if !c.stopping.Load() {
			c.srv.fatal(fmt.Errorf("associate accepted socket: %w", err))
		}
		return
	}

	s.accepted.Add(1)
	s.metrics.RecordConnectionAccepted()
	s.metrics.SetActiveConnections(c.conns.Len())
	logger.DebugCtx(conn.ctx, "Connection accepted",
		logger.ConnKey(uint64(conn.key)),
		logger.Bytes(inline),
	)

	if inline > 0 {
		c.postSend(conn, writing{total: inline})
		return
	}
	c.postRecv(conn)
}

// reject closes sock abortively and returns op's buffer. Either may be nil.
func (c *cycle) reject(sock socket, op *Operation, reason string, err error) {
	if sock != nil {
		_ = sock.Close(true)
	}
	c.retire(op)
	c.srv.rejected.Add(1)
	c.srv.metrics.RecordConnectionRejected(reason)

	switch {
	case c.stopping.Load():
		logger.DebugCtx(c.ctx, "Connection dropped during shutdown", logger.KeyReason, reason, logger.Err(err))
	case err != nil:
		logger.WarnCtx(c.ctx, "Connection rejected", logger.KeyReason, reason, logger.Err(err))
	default:
		logger.InfoCtx(c.ctx, "Connection rejected", logger.KeyReason, reason)
	}
}

// acceptLoop is the simple accept mode: a blocking Accept on a helper
// goroutine feeds this loop, which promotes each socket and returns once the
// cycle is stopped.
func (c *cycle) acceptLoop() {
	ln := c.activeListener()
	if ln == nil {
		return
	}

	accepted := make(chan socket)
	failed := make(chan error, 1)
	go func() {
		for {
			sock, err := ln.Accept()
			if err != nil {
				failed <- err
				return
			}
			select {
			case accepted <- sock:
			case <-c.wake:
				_ = sock.Close(true)
				return
			}
		}
	}()

	for {
		select {
		case <-c.wake:
			return
		case sock := <-accepted:
			op, err := c.newOperation(reading{})
			if err != nil {
				c.reject(sock, nil, rejectNoBuffer, err)
				continue
			}
			c.promote(sock, op, 0)
		case err := <-failed:
			if c.stopping.Load() {
				return
			}
			telemetry.RecordError(c.ctx, err)
			logger.ErrorCtx(c.ctx, "Accept failed, shutting down", logger.Err(err))
			c.srv.fatal(fmt.Errorf("accept: %w", err))
			return
		}
	}
}
