//go:build linux

package completion

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// EpollDriver drives raw non-blocking sockets through a Linux epoll instance.
// Sends report the byte count of a single write(2), so partial sends surface
// exactly as the kernel produces them.
type EpollDriver[O Op] struct {
	opts Options
}

func newEpollDriver[O Op](opts Options) (Driver[O], error) {
	return &EpollDriver[O]{opts: opts}, nil
}

func (d *EpollDriver[O]) Name() string { return DriverEpoll }

// Listen opens a non-blocking listening socket on address. An empty host
// binds all IPv4 interfaces.
func (d *EpollDriver[O]) Listen(ctx context.Context, address string) (Listener[O], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tcpAddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, err
	}

	family, sa := sockaddrOf(tcpAddr)
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	fail := func(op string, err error) (Listener[O], error) {
		_ = unix.Close(fd)
		return nil, &net.OpError{Op: "listen", Net: "tcp", Addr: tcpAddr, Err: fmt.Errorf("%s: %w", op, err)}
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("setsockopt", err)
	}
	if family == unix.AF_INET6 {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0)
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fail("bind", err)
	}
	backlog := d.opts.Backlog
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return fail("listen", err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		return fail("getsockname", err)
	}

	p, err := newPoller()
	if err != nil {
		return fail("epoll", err)
	}
	pfd, err := p.add(fd)
	if err != nil {
		return fail("epoll", err)
	}

	return &epollListener[O]{pfd: pfd, opts: d.opts, addr: tcpAddrOf(bound)}, nil
}

func sockaddrOf(a *net.TCPAddr) (int, unix.Sockaddr) {
	if a.IP == nil || a.IP.To4() != nil {
		sa := &unix.SockaddrInet4{Port: a.Port}
		if a.IP != nil {
			copy(sa.Addr[:], a.IP.To4())
		}
		return unix.AF_INET, sa
	}
	sa := &unix.SockaddrInet6{Port: a.Port}
	copy(sa.Addr[:], a.IP.To16())
	return unix.AF_INET6, sa
}

func tcpAddrOf(sa unix.Sockaddr) *net.TCPAddr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]).To16(), Port: sa.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]), Port: sa.Port}
	}
	return &net.TCPAddr{}
}

func temporary(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR)
}

type epollListener[O Op] struct {
	assoc[O]
	pfd  *pollFD
	opts Options
	addr *net.TCPAddr
}

func (l *epollListener[O]) Associate(port *Port[O], key Key) error {
	l.pfd.mu.Lock()
	closed := l.pfd.closed
	l.pfd.mu.Unlock()
	if closed {
		return ErrSocketClosed
	}
	return l.set(port, key)
}

func (l *epollListener[O]) Addr() net.Addr { return l.addr }

// acceptOnce is called with l.pfd.mu held.
func (l *epollListener[O]) acceptOnce() (*epollSocket[O], error) {
	for {
		nfd, sa, err := unix.Accept4(l.pfd.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if errors.Is(err, unix.EINTR) || errors.Is(err, unix.ECONNABORTED) {
			continue
		}
		if err != nil {
			return nil, err
		}
		pfd, err := l.pfd.p.add(nfd)
		if err != nil {
			_ = unix.Close(nfd)
			return nil, err
		}
		return &epollSocket[O]{pfd: pfd, opts: l.opts, remote: tcpAddrOf(sa)}, nil
	}
}

// enqueue runs try immediately and queues it for readiness if it did not
// finish. Caller holds l.pfd.mu.
func (l *epollListener[O]) enqueue(try attempt) error {
	if len(l.pfd.reads) == 0 && try() {
		return nil
	}
	l.pfd.reads = append(l.pfd.reads, try)
	return l.pfd.arm()
}

func (l *epollListener[O]) Accept() (Socket[O], error) {
	type result struct {
		s   *epollSocket[O]
		err error
	}
	ch := make(chan result, 1)

	l.pfd.mu.Lock()
	if l.pfd.closed {
		l.pfd.mu.Unlock()
		return nil, ErrSocketClosed
	}
	err := l.enqueue(func() bool {
		if l.pfd.closed {
			ch <- result{err: ErrSocketClosed}
			return true
		}
		s, err := l.acceptOnce()
		if temporary(err) {
			return false
		}
		ch <- result{s, err}
		return true
	})
	l.pfd.mu.Unlock()
	if err != nil {
		return nil, err
	}

	r := <-ch
	if r.err != nil {
		return nil, r.err
	}
	return r.s, nil
}

func (l *epollListener[O]) PostAccept(buf []byte, op O) error {
	port, key, err := l.get()
	if err != nil {
		return err
	}

	l.pfd.mu.Lock()
	defer l.pfd.mu.Unlock()
	if l.pfd.closed {
		return ErrSocketClosed
	}
	if err := op.overlapped().Start(); err != nil {
		return err
	}

	err = l.enqueue(func() bool {
		if l.pfd.closed {
			complete(port, Completion[O]{Key: key, Op: op, Err: ErrSocketClosed})
			return true
		}
		s, err := l.acceptOnce()
		if temporary(err) {
			return false
		}
		if err != nil {
			complete(port, Completion[O]{Key: key, Op: op, Err: err})
			return true
		}
		n := 0
		if l.opts.AcceptWithData && len(buf) > 0 {
			if r, err := unix.Read(s.pfd.fd, buf); err == nil && r > 0 {
				n = r
			}
		}
		complete(port, Completion[O]{Key: key, Op: op, Bytes: n, Accepted: s})
		return true
	})
	if err != nil {
		op.overlapped().Finish()
	}
	return err
}

// Close closes the listening socket and fails every pending accept.
func (l *epollListener[O]) Close() error {
	f := l.pfd
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	pending := f.reads
	f.reads = nil
	f.p.remove(f)
	err := unix.Close(f.fd)
	for _, try := range pending {
		try() // sees closed and reports ErrSocketClosed
	}
	f.mu.Unlock()
	return err
}

type epollSocket[O Op] struct {
	assoc[O]
	pfd    *pollFD
	opts   Options
	remote *net.TCPAddr
}

func (s *epollSocket[O]) Associate(port *Port[O], key Key) error {
	s.pfd.mu.Lock()
	closed := s.pfd.closed
	s.pfd.mu.Unlock()
	if closed {
		return ErrSocketClosed
	}
	return s.set(port, key)
}

func (s *epollSocket[O]) RemoteAddr() net.Addr { return s.remote }

func (s *epollSocket[O]) UpdateAcceptContext(l Listener[O]) error {
	if _, ok := l.(*epollListener[O]); !ok {
		return errors.New("completion: listener from a different driver")
	}
	s.pfd.mu.Lock()
	defer s.pfd.mu.Unlock()
	if s.pfd.closed {
		return ErrSocketClosed
	}

	nodelay := 0
	if s.opts.NoDelay {
		nodelay = 1
	}
	if err := unix.SetsockoptInt(s.pfd.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, nodelay); err != nil {
		return err
	}
	switch {
	case s.opts.KeepAlive > 0:
		secs := int(s.opts.KeepAlive / time.Second)
		if secs < 1 {
			secs = 1
		}
		if err := unix.SetsockoptInt(s.pfd.fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
			return err
		}
		if err := unix.SetsockoptInt(s.pfd.fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, secs); err != nil {
			return err
		}
		return unix.SetsockoptInt(s.pfd.fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, secs)
	case s.opts.KeepAlive < 0:
		return unix.SetsockoptInt(s.pfd.fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 0)
	}
	return nil
}

// begin validates and marks op pending. Caller holds s.pfd.mu.
func (s *epollSocket[O]) begin(op O) (*Port[O], Key, error) {
	port, key, err := s.get()
	if err != nil {
		return nil, 0, err
	}
	if s.pfd.closed {
		return nil, 0, ErrSocketClosed
	}
	if err := op.overlapped().Start(); err != nil {
		return nil, 0, err
	}
	return port, key, nil
}

func (s *epollSocket[O]) Recv(buf []byte, op O) error {
	s.pfd.mu.Lock()
	defer s.pfd.mu.Unlock()

	port, key, err := s.begin(op)
	if err != nil {
		return err
	}

	try := func() bool {
		if s.pfd.closed {
			complete(port, Completion[O]{Key: key, Op: op, Err: ErrSocketClosed})
			return true
		}
		n, err := unix.Read(s.pfd.fd, buf)
		if temporary(err) {
			return false
		}
		if err != nil {
			n = 0
		}
		complete(port, Completion[O]{Key: key, Op: op, Bytes: n, Err: err})
		return true
	}
	if try() {
		return nil
	}
	s.pfd.reads = append(s.pfd.reads, try)
	if err := s.pfd.arm(); err != nil {
		s.pfd.reads = s.pfd.reads[:len(s.pfd.reads)-1]
		op.overlapped().Finish()
		return err
	}
	return nil
}

func (s *epollSocket[O]) Send(buf []byte, op O) error {
	s.pfd.mu.Lock()
	defer s.pfd.mu.Unlock()

	port, key, err := s.begin(op)
	if err != nil {
		return err
	}
	if s.pfd.write != nil {
		op.overlapped().Finish()
		return ErrOperationPending
	}

	chunk := buf[:s.opts.sendLen(len(buf))]
	try := func() bool {
		if s.pfd.closed {
			complete(port, Completion[O]{Key: key, Op: op, Err: ErrSocketClosed})
			return true
		}
		n, err := unix.SendmsgN(s.pfd.fd, chunk, nil, nil, unix.MSG_NOSIGNAL)
		if temporary(err) {
			return false
		}
		if err != nil {
			n = 0
		}
		complete(port, Completion[O]{Key: key, Op: op, Bytes: n, Err: err})
		return true
	}
	if try() {
		return nil
	}
	s.pfd.write = try
	if err := s.pfd.arm(); err != nil {
		s.pfd.write = nil
		op.overlapped().Finish()
		return err
	}
	return nil
}

// Close closes the descriptor and fails pending operations with
// ErrSocketClosed.
func (s *epollSocket[O]) Close(abortive bool) error {
	f := s.pfd
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrSocketClosed
	}
	if abortive {
		_ = unix.SetsockoptLinger(f.fd, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 1, Linger: 0})
	}

	f.closed = true
	reads, write := f.reads, f.write
	f.reads, f.write = nil, nil
	f.p.remove(f)
	err := unix.Close(f.fd)

	for _, try := range reads {
		try()
	}
	if write != nil {
		write()
	}
	return err
}
