// Package server implements the echo server on top of a completion port.
//
// A serve cycle binds the listener, starts a fixed pool of workers that
// dequeue completions from a shared port, and keeps accepts posted on the
// listener. Every completion drives a small per-connection state machine:
// a read completion becomes a send of the same bytes, a send completion
// either re-posts the unsent remainder or posts the next read. Connections
// live in a generational registry so that a late completion for a closed
// connection never reaches a newer one.
//
// Shutdown and restart share one drain sequence: set the stop flag, close
// the listener, wake every worker with a sentinel completion, wait for them
// (bounded), abortively close every registered connection, return their
// buffers once their operation is no longer pending and close the port. A
// restart then binds the same port again.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/echoport/internal/logger"
	"github.com/marmos91/echoport/pkg/bufpool"
	"github.com/marmos91/echoport/pkg/completion"
	"github.com/marmos91/echoport/pkg/metrics"
)

var (
	// ErrAlreadyRunning is returned by Run while another Run is active.
	ErrAlreadyRunning = errors.New("server: already running")

	// ErrNotRunning is returned by operations that need a serving cycle.
	ErrNotRunning = errors.New("server: not running")
)

// Server is the echo server. Create it with New and drive it with Run.
type Server struct {
	cfg     Config
	driver  driver
	pool    *bufpool.Pool
	metrics metrics.EchoMetrics
	admit   *admission

	verbose atomic.Bool

	running   atomic.Bool
	terminate atomic.Bool
	restart   atomic.Bool

	mu        sync.Mutex
	phase     Phase
	changed   chan struct{}
	cur       *cycle
	cycles    int
	startedAt time.Time
	fatalErr  error
	done      chan struct{}
	doneOnce  *sync.Once

	accepted    atomic.Int64
	closed      atomic.Int64
	rejected    atomic.Int64
	echoed      atomic.Int64
	completions atomic.Int64
}

// NewDriver returns the named completion driver for server operations.
func NewDriver(name string, opts completion.Options) (completion.Driver[*Operation], error) {
	return completion.NewDriver[*Operation](name, opts)
}

// New validates cfg and creates a stopped server. A nil m disables metrics.
func New(cfg Config, d completion.Driver[*Operation], m metrics.EchoMetrics) (*Server, error) {
	if d == nil {
		return nil, errors.New("server: nil driver")
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	adm, err := newAdmission(cfg.AcceptRate, cfg.MaxConnections)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	if m == nil {
		m = metrics.NewNoopEchoMetrics()
	}

	s := &Server{
		cfg:     cfg,
		driver:  d,
		pool:    bufpool.New(cfg.BufferSize, 0),
		metrics: m,
		admit:   adm,
		changed: make(chan struct{}),
	}
	s.verbose.Store(cfg.Verbose)
	return s, nil
}

// Run serves until Terminate is called, ctx is cancelled or a server-fatal
// error occurs. Restart requests drain the current cycle and start a new one
// on the same port. A setup failure of any cycle is returned.
//
// A Terminate that arrives before the first Run makes that Run return nil
// without listening. Once a Run has returned, the server can be run again.
func (s *Server) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	s.restart.Store(false)
	s.mu.Lock()
	if s.done != nil {
		// A previous Run completed; its terminate request is spent.
		s.terminate.Store(false)
	}
	s.fatalErr = nil
	s.done = make(chan struct{})
	s.doneOnce = new(sync.Once)
	done := s.done
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, s.Terminate)
	defer stop()

	if s.terminate.Load() {
		s.doneOnce.Do(func() { close(done) })
		s.setPhase(PhaseStopped)
		logger.Info("Server terminated before it started")
		return nil
	}

	port := s.cfg.Port
	for {
		s.setPhase(PhaseStarting)
		c, err := s.startCycle(ctx, port)
		if err != nil {
			s.setPhase(PhaseStopped)
			return err
		}
		port = c.boundPort

		c.serve()
		c.drain()
		s.clearCycle(c)

		if s.terminate.Load() || ctx.Err() != nil || !s.restart.Swap(false) {
			break
		}

		s.setPhase(PhaseRestarting)
		s.metrics.RecordRestart()
		logger.Info("Restarting server", logger.KeyCycle, c.number, logger.KeyPort, port)

		if d := s.cfg.RestartDelay; d > 0 {
			t := time.NewTimer(d)
			select {
			case <-t.C:
			case <-done:
				t.Stop()
			}
		}
		if s.terminate.Load() {
			break
		}
	}

	s.setPhase(PhaseStopped)
	s.mu.Lock()
	err := s.fatalErr
	s.mu.Unlock()
	if err != nil {
		logger.Error("Server stopped after fatal error", logger.Err(err))
		return err
	}
	logger.Info("Server stopped")
	return nil
}

// Terminate requests a full shutdown. Safe to call any number of times from
// any goroutine, including signal handlers and worker goroutines.
func (s *Server) Terminate() {
	s.terminate.Store(true)

	s.mu.Lock()
	c := s.cur
	if s.doneOnce != nil {
		s.doneOnce.Do(func() { close(s.done) })
	}
	s.mu.Unlock()

	if c != nil {
		c.stop()
	}
}

// Restart drains the current cycle and starts a new one on the same port.
func (s *Server) Restart() error {
	s.mu.Lock()
	c := s.cur
	if c == nil || s.phase != PhaseRunning || s.terminate.Load() {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.restart.Store(true)
	s.mu.Unlock()

	logger.Info("Restart requested", logger.KeyCycle, c.number)
	c.stop()
	return nil
}

// fatal records the first server-fatal error and shuts the server down.
func (s *Server) fatal(err error) {
	s.mu.Lock()
	if s.fatalErr == nil {
		s.fatalErr = err
	}
	s.mu.Unlock()
	s.Terminate()
}

// SetVerbose toggles per-completion logging.
func (s *Server) SetVerbose(v bool) {
	s.verbose.Store(v)
}

func (s *Server) setPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
	close(s.changed)
	s.changed = make(chan struct{})
}

// publish makes c the serving cycle. A stop requested while the cycle was
// being set up is applied immediately.
func (s *Server) publish(c *cycle) {
	s.mu.Lock()
	s.cur = c
	s.startedAt = c.started
	s.phase = PhaseRunning
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	if s.terminate.Load() {
		c.stop()
	}
}

func (s *Server) clearCycle(c *cycle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == c {
		s.cur = nil
	}
}

// Phase returns the current lifecycle phase.
func (s *Server) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Addr returns the bound address of the serving cycle, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return nil
	}
	return s.cur.addr
}

// WaitRunning blocks until a cycle numbered at least minCycle is serving and
// returns its address. It fails with ErrNotRunning once the server stopped.
func (s *Server) WaitRunning(ctx context.Context, minCycle int) (net.Addr, error) {
	for {
		s.mu.Lock()
		if s.phase == PhaseRunning && s.cur != nil && s.cur.number >= minCycle {
			addr := s.cur.addr
			s.mu.Unlock()
			return addr, nil
		}
		if s.phase == PhaseStopped {
			s.mu.Unlock()
			return nil, ErrNotRunning
		}
		ch := s.changed
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Status returns a snapshot of the server.
func (s *Server) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Phase:       s.phase.String(),
		Cycle:       s.cycles,
		Driver:      s.driver.Name(),
		AcceptMode:  string(s.cfg.AcceptMode),
		Workers:     s.cfg.Workers,
		Accepted:    s.accepted.Load(),
		Closed:      s.closed.Load(),
		Rejected:    s.rejected.Load(),
		BytesEchoed: s.echoed.Load(),
		Completions: s.completions.Load(),
	}
	if s.cfg.AcceptMode == AcceptExtended {
		st.PendingAccepts = s.cfg.PendingAccepts
	}
	if c := s.cur; c != nil {
		st.CycleID = c.id
		st.Address = c.addr.String()
		st.Connections = c.conns.Len()
		st.StartedAt = s.startedAt
	}
	return st
}

// Connections lists the live connections of the serving cycle, newest first.
func (s *Server) Connections() []ConnectionInfo {
	s.mu.Lock()
	c := s.cur
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.list()
}

// BuffersOutstanding returns the number of operation buffers in use.
func (s *Server) BuffersOutstanding() int64 {
	return s.pool.Outstanding()
}
