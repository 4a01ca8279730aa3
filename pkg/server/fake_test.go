package server

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/echoport/pkg/completion"
	"github.com/stretchr/testify/require"
)

// fakeDriver is an in-memory completion driver. Tests play the client side
// through fakeListener.connect and the fakeSocket helpers; every posted
// operation completes as soon as the scripted data allows.
type fakeDriver struct {
	acceptWithData bool
	chunk          int   // caps every send; 0 means no cap
	failListen     error // returned by Listen
	failPostAfter  int   // PostAccept fails after this many posts; 0 means never
	updateErr      error // returned by UpdateAcceptContext
	associateErr   error // returned by every socket Associate

	listened chan *fakeListener

	mu    sync.Mutex
	conns int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{acceptWithData: true, listened: make(chan *fakeListener, 16)}
}

func (d *fakeDriver) Name() string { return "fake" }

func (d *fakeDriver) Listen(ctx context.Context, address string) (listener, error) {
	if d.failListen != nil {
		return nil, d.failListen
	}
	l := &fakeListener{
		d:       d,
		address: address,
		addr:    &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5001},
		syncq:   make(chan *fakeSocket),
		done:    make(chan struct{}),
	}
	d.listened <- l
	return l, nil
}

type pendingIO struct {
	buf []byte
	op  *Operation
}

type fakeListener struct {
	d       *fakeDriver
	address string
	addr    net.Addr
	syncq   chan *fakeSocket
	done    chan struct{}

	mu      sync.Mutex
	port    *port
	key     completion.Key
	pending []pendingIO
	queued  []*fakeSocket
	posts   int
	closed  bool
}

func (l *fakeListener) Associate(p *port, key completion.Key) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port != nil {
		return completion.ErrAlreadyAssociated
	}
	l.port, l.key = p, key
	return nil
}

func (l *fakeListener) Accept() (socket, error) {
	select {
	case s := <-l.syncq:
		return s, nil
	case <-l.done:
		return nil, completion.ErrSocketClosed
	}
}

var errPostAccept = errors.New("injected accept failure")

func (l *fakeListener) PostAccept(buf []byte, op *Operation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return completion.ErrNotAssociated
	}
	if l.closed {
		return completion.ErrSocketClosed
	}
	l.posts++
	if l.d.failPostAfter > 0 && l.posts > l.d.failPostAfter {
		return errPostAccept
	}
	if err := op.Start(); err != nil {
		return err
	}
	pa := pendingIO{buf: buf, op: op}
	if len(l.queued) > 0 {
		s := l.queued[0]
		l.queued = l.queued[1:]
		l.completeLocked(pa, s)
		return nil
	}
	l.pending = append(l.pending, pa)
	return nil
}

func (l *fakeListener) completeLocked(pa pendingIO, s *fakeSocket) {
	n := 0
	if l.d.acceptWithData {
		s.mu.Lock()
		n = copy(pa.buf, s.inbox)
		s.inbox = s.inbox[n:]
		s.mu.Unlock()
	}
	pa.op.Finish()
	if err := l.port.Post(event{Key: l.key, Op: pa.op, Bytes: n, Accepted: s}); err != nil {
		_ = s.Close(true)
	}
}

func (l *fakeListener) Addr() net.Addr { return l.addr }

func (l *fakeListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.done)
	pending, queued := l.pending, l.queued
	l.pending, l.queued = nil, nil
	p, key := l.port, l.key
	l.mu.Unlock()

	for _, pa := range pending {
		pa.op.Finish()
		_ = p.Post(event{Key: key, Op: pa.op, Err: completion.ErrSocketClosed})
	}
	for _, s := range queued {
		_ = s.Close(true)
	}
	return nil
}

func (l *fakeListener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// connect plays a client connecting with data already sent.
func (l *fakeListener) connect(data []byte) *fakeSocket {
	s := newFakeSocket(l.d, data)

	l.mu.Lock()
	if l.port == nil {
		l.mu.Unlock()
		select {
		case l.syncq <- s:
		case <-l.done:
			_ = s.Close(true)
		}
		return s
	}
	if l.closed {
		l.mu.Unlock()
		_ = s.Close(true)
		return s
	}
	if len(l.pending) > 0 {
		pa := l.pending[0]
		l.pending = l.pending[1:]
		l.completeLocked(pa, s)
	} else {
		l.queued = append(l.queued, s)
	}
	l.mu.Unlock()
	return s
}

type fakeSocket struct {
	d      *fakeDriver
	remote net.Addr

	mu        sync.Mutex
	port      *port
	key       completion.Key
	inbox     []byte
	eof       bool
	out       bytes.Buffer
	recvSizes []int
	sendSizes []int
	recv      *pendingIO
	updated   bool
	closed    bool
	abortive  bool
}

func newFakeSocket(d *fakeDriver, data []byte) *fakeSocket {
	d.mu.Lock()
	d.conns++
	n := d.conns
	d.mu.Unlock()
	return &fakeSocket{
		d:      d,
		remote: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000 + n},
		inbox:  append([]byte(nil), data...),
	}
}

func (s *fakeSocket) Associate(p *port, key completion.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return completion.ErrSocketClosed
	}
	if s.d.associateErr != nil {
		return s.d.associateErr
	}
	if s.port != nil {
		return completion.ErrAlreadyAssociated
	}
	s.port, s.key = p, key
	return nil
}

func (s *fakeSocket) begin(op *Operation) error {
	if s.port == nil {
		return completion.ErrNotAssociated
	}
	if s.closed {
		return completion.ErrSocketClosed
	}
	return op.Start()
}

func (s *fakeSocket) completeLocked(op *Operation, n int, err error) {
	op.Finish()
	if s.port != nil {
		_ = s.port.Post(event{Key: s.key, Op: op, Bytes: n, Err: err})
	}
}

func (s *fakeSocket) deliverLocked() {
	p := s.recv
	if p == nil {
		return
	}
	switch {
	case len(s.inbox) > 0:
		n := copy(p.buf, s.inbox)
		s.inbox = s.inbox[n:]
		s.recvSizes = append(s.recvSizes, n)
		s.recv = nil
		s.completeLocked(p.op, n, nil)
	case s.eof:
		s.recv = nil
		s.completeLocked(p.op, 0, nil)
	}
}

func (s *fakeSocket) Recv(buf []byte, op *Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(op); err != nil {
		return err
	}
	s.recv = &pendingIO{buf: buf, op: op}
	s.deliverLocked()
	return nil
}

func (s *fakeSocket) Send(buf []byte, op *Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(op); err != nil {
		return err
	}
	s.sendSizes = append(s.sendSizes, len(buf))
	n := len(buf)
	if s.d.chunk > 0 && n > s.d.chunk {
		n = s.d.chunk
	}
	s.out.Write(buf[:n])
	s.completeLocked(op, n, nil)
	return nil
}

func (s *fakeSocket) UpdateAcceptContext(l listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.d.updateErr != nil {
		return s.d.updateErr
	}
	s.updated = true
	return nil
}

func (s *fakeSocket) Close(abortive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return completion.ErrSocketClosed
	}
	s.closed, s.abortive = true, abortive
	if p := s.recv; p != nil {
		s.recv = nil
		s.completeLocked(p.op, 0, completion.ErrSocketClosed)
	}
	return nil
}

func (s *fakeSocket) RemoteAddr() net.Addr { return s.remote }

// write plays the client sending data.
func (s *fakeSocket) write(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbox = append(s.inbox, data...)
	s.deliverLocked()
}

// closeWrite plays the client half-closing its side.
func (s *fakeSocket) closeWrite() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eof = true
	s.deliverLocked()
}

func (s *fakeSocket) output() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.out.Bytes())
}

func (s *fakeSocket) state() (closed, abortive bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed, s.abortive
}

func (s *fakeSocket) sizes() (recvs, sends []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.recvSizes...), append([]int(nil), s.sendSizes...)
}

func (s *fakeSocket) wasUpdated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updated
}

// harness runs a Server on a fakeDriver.
type harness struct {
	srv  *Server
	d    *fakeDriver
	l    *fakeListener
	done chan struct{}
	err  error
}

const waitFor = 5 * time.Second

func startFake(t *testing.T, cfg Config, d *fakeDriver) *harness {
	t.Helper()
	if cfg.Workers == 0 {
		cfg.Workers = 2
	}
	srv, err := New(cfg, d, nil)
	require.NoError(t, err)

	h := &harness{srv: srv, d: d, done: make(chan struct{})}
	go func() {
		h.err = srv.Run(context.Background())
		close(h.done)
	}()
	t.Cleanup(func() {
		srv.Terminate()
		select {
		case <-h.done:
		case <-time.After(waitFor):
			t.Error("server did not stop")
		}
	})

	h.l = h.nextListener(t)
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	_, err = srv.WaitRunning(ctx, 1)
	require.NoError(t, err)
	return h
}

func (h *harness) nextListener(t *testing.T) *fakeListener {
	t.Helper()
	select {
	case l := <-h.d.listened:
		return l
	case <-time.After(waitFor):
		t.Fatal("listener was not created")
		return nil
	}
}

// stop terminates the server and returns Run's error.
func (h *harness) stop(t *testing.T) error {
	t.Helper()
	h.srv.Terminate()
	return h.wait(t)
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case <-h.done:
		return h.err
	case <-time.After(waitFor):
		t.Fatal("server did not stop")
		return nil
	}
}
