package completion

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
)

// NetDriver runs every posted operation on its own goroutine over the net
// package. It works on every platform Go supports.
type NetDriver[O Op] struct {
	opts Options
}

// NewNetDriver returns a portable driver.
func NewNetDriver[O Op](opts Options) *NetDriver[O] {
	return &NetDriver[O]{opts: opts}
}

func (d *NetDriver[O]) Name() string { return DriverNet }

// Listen opens a TCP listener on address.
func (d *NetDriver[O]) Listen(ctx context.Context, address string) (Listener[O], error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return &netListener[O]{ln: ln.(*net.TCPListener), opts: d.opts}, nil
}

type netListener[O Op] struct {
	assoc[O]
	ln     *net.TCPListener
	opts   Options
	closed atomic.Bool
}

func (l *netListener[O]) Associate(port *Port[O], key Key) error {
	if l.closed.Load() {
		return ErrSocketClosed
	}
	return l.set(port, key)
}

func (l *netListener[O]) Addr() net.Addr { return l.ln.Addr() }

func (l *netListener[O]) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	return l.ln.Close()
}

func (l *netListener[O]) wrapErr(err error) error {
	if errors.Is(err, net.ErrClosed) || l.closed.Load() {
		return ErrSocketClosed
	}
	return err
}

func (l *netListener[O]) Accept() (Socket[O], error) {
	c, err := l.ln.AcceptTCP()
	if err != nil {
		return nil, l.wrapErr(err)
	}
	return newNetSocket[O](c, l.opts), nil
}

func (l *netListener[O]) PostAccept(buf []byte, op O) error {
	port, key, err := l.get()
	if err != nil {
		return err
	}
	if l.closed.Load() {
		return ErrSocketClosed
	}
	if err := op.overlapped().Start(); err != nil {
		return err
	}

	go func() {
		c, err := l.ln.AcceptTCP()
		if err != nil {
			complete(port, Completion[O]{Key: key, Op: op, Err: l.wrapErr(err)})
			return
		}

		n := 0
		if l.opts.AcceptWithData && len(buf) > 0 {
			n = readAvailable(c, buf)
		}
		complete(port, Completion[O]{Key: key, Op: op, Bytes: n, Accepted: newNetSocket[O](c, l.opts)})
	}()
	return nil
}

type netSocket[O Op] struct {
	assoc[O]
	conn   *net.TCPConn
	opts   Options
	remote net.Addr

	closeOnce sync.Once
	closed    atomic.Bool
}

func newNetSocket[O Op](c *net.TCPConn, opts Options) *netSocket[O] {
	return &netSocket[O]{conn: c, opts: opts, remote: c.RemoteAddr()}
}

func (s *netSocket[O]) Associate(port *Port[O], key Key) error {
	if s.closed.Load() {
		return ErrSocketClosed
	}
	return s.set(port, key)
}

func (s *netSocket[O]) RemoteAddr() net.Addr { return s.remote }

func (s *netSocket[O]) UpdateAcceptContext(l Listener[O]) error {
	if s.closed.Load() {
		return ErrSocketClosed
	}
	if _, ok := l.(*netListener[O]); !ok {
		return errors.New("completion: listener from a different driver")
	}
	if err := s.conn.SetNoDelay(s.opts.NoDelay); err != nil {
		return err
	}
	switch {
	case s.opts.KeepAlive > 0:
		if err := s.conn.SetKeepAlive(true); err != nil {
			return err
		}
		return s.conn.SetKeepAlivePeriod(s.opts.KeepAlive)
	case s.opts.KeepAlive < 0:
		return s.conn.SetKeepAlive(false)
	}
	return nil
}

func (s *netSocket[O]) post(op O) (*Port[O], Key, error) {
	port, key, err := s.get()
	if err != nil {
		return nil, 0, err
	}
	if s.closed.Load() {
		return nil, 0, ErrSocketClosed
	}
	if err := op.overlapped().Start(); err != nil {
		return nil, 0, err
	}
	return port, key, nil
}

func (s *netSocket[O]) wrapErr(err error) error {
	if errors.Is(err, net.ErrClosed) || s.closed.Load() {
		return ErrSocketClosed
	}
	return err
}

func (s *netSocket[O]) Recv(buf []byte, op O) error {
	port, key, err := s.post(op)
	if err != nil {
		return err
	}
	go func() {
		n, err := s.conn.Read(buf)
		if errors.Is(err, io.EOF) {
			n, err = 0, nil
		} else if err != nil {
			n, err = 0, s.wrapErr(err)
		}
		complete(port, Completion[O]{Key: key, Op: op, Bytes: n, Err: err})
	}()
	return nil
}

func (s *netSocket[O]) Send(buf []byte, op O) error {
	port, key, err := s.post(op)
	if err != nil {
		return err
	}
	chunk := buf[:s.opts.sendLen(len(buf))]
	go func() {
		n, err := s.conn.Write(chunk)
		if err != nil {
			err = s.wrapErr(err)
		}
		complete(port, Completion[O]{Key: key, Op: op, Bytes: n, Err: err})
	}()
	return nil
}

func (s *netSocket[O]) Close(abortive bool) error {
	err := ErrSocketClosed
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if abortive {
			_ = s.conn.SetLinger(0)
		}
		err = s.conn.Close()
	})
	return err
}
