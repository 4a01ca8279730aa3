package server

import (
	"time"

	"github.com/marmos91/echoport/internal/logger"
	"github.com/marmos91/echoport/internal/telemetry"
	"github.com/marmos91/echoport/pkg/registry"
	"go.opentelemetry.io/otel/attribute"
)

// drain tears a stopped cycle down:
//
//  1. post one sentinel per worker
//  2. wait for the workers, at most WorkerExitTimeout
//  3. detach every registered connection, close it abortively and retire
//     its operation
//  4. retire the listener's accept operations
//  5. close the port
//
// drain is also the cleanup path for a cycle whose setup failed.
func (c *cycle) drain() {
	s := c.srv
	start := time.Now()
	c.stop()
	s.setPhase(PhaseDraining)

	ctx, span := telemetry.StartDrainSpan(c.ctx)
	defer c.span.End()
	defer span.End()

	logger.InfoCtx(ctx, "Draining server",
		logger.KeyCycle, c.number,
		logger.KeyCount, c.conns.Len(),
	)

	for i := 0; i < c.nworkers; i++ {
		if err := c.port.PostSentinel(); err != nil {
			break
		}
	}
	abandoned := c.waitWorkers(s.cfg.WorkerExitTimeout)

	forced := 0
	drained := c.conns.DrainAll(func(_ registry.Key, conn *Connection) {
		conn.mu.Lock()
		closedNow := conn.shutdown(true)
		conn.mu.Unlock()

		c.retire(conn.op)
		if closedNow {
			forced++
			s.closed.Add(1)
			s.metrics.RecordConnectionForceClosed()
		}
		conn.finish(causeDrained)
	})

	for op := c.accepts; op != nil; op = op.next {
		c.retire(op)
	}
	c.accepts = nil

	_ = c.port.Close()

	elapsed := time.Since(start)
	s.metrics.SetActiveConnections(0)
	s.metrics.RecordDrain(elapsed, drained)
	span.SetAttributes(
		attribute.Int(telemetry.AttrDrained, drained),
		attribute.Int(telemetry.AttrAbandoned, abandoned),
	)

	logger.InfoCtx(ctx, "Drain complete",
		logger.KeyCycle, c.number,
		logger.KeyCount, drained,
		"force_closed", forced,
		"workers_abandoned", abandoned,
		logger.Elapsed(start),
	)
}

// waitWorkers waits for every worker to exit and returns how many were
// still running when timeout expired.
func (c *cycle) waitWorkers(timeout time.Duration) int {
	done := make(chan struct{})
	go func() {
		c.workers.Wait()
		close(done)
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-done:
		return 0
	case <-t.C:
		n := int(c.active.Load())
		if n <= 0 {
			return 0
		}
		logger.WarnCtx(c.ctx, "Workers did not exit in time, abandoning them",
			logger.KeyCount, n, logger.KeyCycle, c.number)
		c.srv.metrics.RecordWorkersAbandoned(n)
		return n
	}
}
