//go:build linux

package completion

import (
	"encoding/binary"
	"errors"
	"sync"

	"golang.org/x/sys/unix"
)

var errPollerClosed = errors.New("completion: poller closed")

// attempt retries a pending operation after readiness. It returns true once
// the operation has finished and must be dropped from the pending set.
// Attempts run with the owning pollFD's mutex held.
type attempt func() bool

// pollFD is one non-blocking descriptor with its pending operations. Reads
// (and accepts) queue in FIFO order; at most one write is pending.
type pollFD struct {
	mu         sync.Mutex
	fd         int
	p          *poller
	closed     bool
	registered bool
	reads      []attempt
	write      attempt
}

// arm re-enables one-shot interest for whatever is still pending.
// Caller holds f.mu.
func (f *pollFD) arm() error {
	var ev uint32
	if len(f.reads) > 0 {
		ev |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if f.write != nil {
		ev |= unix.EPOLLOUT
	}
	if ev == 0 {
		return nil
	}
	ev |= unix.EPOLLONESHOT

	op := unix.EPOLL_CTL_MOD
	if !f.registered {
		op = unix.EPOLL_CTL_ADD
	}
	if err := unix.EpollCtl(f.p.epfd, op, f.fd, &unix.EpollEvent{Events: ev, Fd: int32(f.fd)}); err != nil {
		return err
	}
	f.registered = true
	return nil
}

// ready runs the pending attempts matching ev.
func (f *pollFD) ready(ev uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}

	failed := ev&(unix.EPOLLERR|unix.EPOLLHUP) != 0
	if failed || ev&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
		for len(f.reads) > 0 && f.reads[0]() {
			f.reads[0] = nil
			f.reads = f.reads[1:]
		}
	}
	if f.write != nil && (failed || ev&unix.EPOLLOUT != 0) {
		if f.write() {
			f.write = nil
		}
	}
	_ = f.arm()
}

// poller owns one epoll instance and the goroutine waiting on it. It is
// reference counted by the listener and sockets using it and stops when the
// last one is released.
type poller struct {
	epfd   int
	wakefd int

	mu   sync.Mutex
	fds  map[int]*pollFD
	refs int
	done bool
}

func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, err
	}

	p := &poller{epfd: epfd, wakefd: wakefd, fds: make(map[int]*pollFD)}
	go p.run()
	return p, nil
}

// add tracks fd and takes a reference for it.
func (p *poller) add(fd int) (*pollFD, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return nil, errPollerClosed
	}
	f := &pollFD{fd: fd, p: p}
	p.fds[fd] = f
	p.refs++
	return f, nil
}

// remove forgets f and drops its reference. Caller holds f.mu.
func (p *poller) remove(f *pollFD) {
	if f.registered {
		_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, f.fd, nil)
	}
	p.mu.Lock()
	if p.fds[f.fd] == f {
		delete(p.fds, f.fd)
	}
	p.mu.Unlock()
	p.release()
}

// release drops one reference, stopping the poller at zero.
func (p *poller) release() {
	p.mu.Lock()
	p.refs--
	stop := p.refs == 0 && !p.done
	if stop {
		p.done = true
	}
	p.mu.Unlock()

	if stop {
		var one [8]byte
		binary.NativeEndian.PutUint64(one[:], 1)
		_, _ = unix.Write(p.wakefd, one[:])
	}
}

func (p *poller) run() {
	defer func() {
		_ = unix.Close(p.wakefd)
		_ = unix.Close(p.epfd)
	}()

	events := make([]unix.EpollEvent, 128)
	for {
		n, err := unix.EpollWait(p.epfd, events, -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == p.wakefd {
				var buf [8]byte
				_, _ = unix.Read(p.wakefd, buf[:])
				p.mu.Lock()
				done := p.done
				p.mu.Unlock()
				if done {
					return
				}
				continue
			}

			p.mu.Lock()
			f := p.fds[fd]
			p.mu.Unlock()
			if f != nil {
				f.ready(events[i].Events)
			}
		}
	}
}
