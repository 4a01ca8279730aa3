// Package completion provides a completion-port substrate for proactor-style
// servers.
//
// Sockets and listeners are associated with a Port under a caller-chosen Key.
// Every operation posted on them (Recv, Send, PostAccept) runs asynchronously
// and, once finished, queues exactly one Completion on the port carrying the
// key, the operation record, the byte count and the error. Workers call
// Port.Next to receive completions in FIFO order. A completion posted with
// NullKey is a sentinel that no driver ever produces.
//
// Operation records embed Overlapped. A driver marks the record pending when
// the operation is posted and clears it once the I/O no longer touches the
// caller's buffer, before queueing the completion. Overlapped.Wait lets the
// owner block until it is safe to release the buffer.
//
// Two drivers are provided: a portable driver built on the net package and,
// on Linux, an epoll driver built on raw non-blocking sockets.
package completion

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

// Key tags every completion with the association it belongs to.
type Key uint64

// NullKey is reserved for sentinel completions.
const NullKey Key = 0

var (
	// ErrPortClosed is returned by Next and Post after Close.
	ErrPortClosed = errors.New("completion: port closed")

	// ErrSocketClosed is reported for operations on, or pending at the time
	// of closing, a closed socket or listener.
	ErrSocketClosed = errors.New("completion: socket closed")

	// ErrNotAssociated is returned when posting on a socket with no port.
	ErrNotAssociated = errors.New("completion: socket not associated with a port")

	// ErrAlreadyAssociated is returned when associating a socket twice.
	ErrAlreadyAssociated = errors.New("completion: socket already associated")

	// ErrOperationPending is returned when an operation record is reused
	// while still in flight.
	ErrOperationPending = errors.New("completion: operation already pending")

	// ErrUnsupported is returned by NewDriver for drivers unavailable on
	// this platform.
	ErrUnsupported = errors.New("completion: driver not supported on this platform")
)

// Op is the constraint satisfied by any type embedding *Overlapped or
// Overlapped.
type Op interface {
	overlapped() *Overlapped
}

// Completion is one dequeued completion packet.
type Completion[O Op] struct {
	// Bytes transferred. Zero with a nil Err means the peer closed.
	Bytes int
	Key   Key
	Op    O

	// Accepted is the new socket for a PostAccept completion.
	Accepted Socket[O]

	Err error
}

// OK reports whether the operation succeeded.
func (c Completion[O]) OK() bool { return c.Err == nil }

// Sentinel reports whether c carries NullKey.
func (c Completion[O]) Sentinel() bool { return c.Key == NullKey }

// Overlapped tracks whether an operation is in flight. Embed it in the
// operation record; the zero value is idle.
type Overlapped struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending bool
}

func (o *Overlapped) overlapped() *Overlapped { return o }

// Start marks the operation pending. Drivers call it when posting.
func (o *Overlapped) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending {
		return ErrOperationPending
	}
	o.pending = true
	return nil
}

// Finish clears the pending flag and wakes every waiter. Drivers call it
// once the operation no longer touches its buffer.
func (o *Overlapped) Finish() {
	o.mu.Lock()
	o.pending = false
	if o.cond != nil {
		o.cond.Broadcast()
	}
	o.mu.Unlock()
}

// Pending reports whether the operation is in flight.
func (o *Overlapped) Pending() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending
}

// Wait blocks until the operation is no longer pending or ctx is done.
func (o *Overlapped) Wait(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.pending {
		return nil
	}
	if o.cond == nil {
		o.cond = sync.NewCond(&o.mu)
	}

	stop := context.AfterFunc(ctx, func() {
		o.mu.Lock()
		o.cond.Broadcast()
		o.mu.Unlock()
	})
	defer stop()

	for o.pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.cond.Wait()
	}
	return nil
}

// Socket is a connected stream socket driven through a Port.
type Socket[O Op] interface {
	// Associate binds the socket to port; completions carry key.
	Associate(port *Port[O], key Key) error

	// Recv posts a read into buf. The completion reports the bytes read,
	// zero when the peer closed its side.
	Recv(buf []byte, op O) error

	// Send posts a write of buf. The completion may report fewer bytes than
	// len(buf); the caller re-posts the remainder.
	Send(buf []byte, op O) error

	// UpdateAcceptContext applies the listener's socket options to a socket
	// obtained from PostAccept.
	UpdateAcceptContext(l Listener[O]) error

	// Close closes the socket and fails every pending operation. An abortive
	// close discards unsent data and resets the connection.
	Close(abortive bool) error

	RemoteAddr() net.Addr
}

// Listener is a listening socket driven through a Port.
type Listener[O Op] interface {
	Associate(port *Port[O], key Key) error

	// Accept blocks until a connection arrives or the listener is closed.
	Accept() (Socket[O], error)

	// PostAccept posts an asynchronous accept. The completion carries the
	// new socket in Accepted. When accept-with-data is enabled, data the
	// peer already sent is read into buf and reported in Bytes.
	PostAccept(buf []byte, op O) error

	Addr() net.Addr
	Close() error
}

// Driver creates listeners.
type Driver[O Op] interface {
	Name() string
	Listen(ctx context.Context, address string) (Listener[O], error)
}

// Options tune driver behavior.
type Options struct {
	// AcceptWithData folds a non-blocking first read into every
	// PostAccept completion.
	AcceptWithData bool

	// MaxSendChunk caps the bytes written by a single Send. Zero means no cap.
	MaxSendChunk int

	// NoDelay sets TCP_NODELAY on accepted sockets.
	NoDelay bool

	// KeepAlive sets the TCP keepalive period; zero leaves the OS default,
	// negative disables keepalive.
	KeepAlive time.Duration

	// Backlog is the listen backlog for drivers that control it.
	Backlog int
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{AcceptWithData: true, NoDelay: true, Backlog: 1024}
}

// Driver names accepted by NewDriver.
const (
	DriverAuto  = "auto"
	DriverNet   = "net"
	DriverEpoll = "epoll"
)

// NewDriver returns the named driver. DriverAuto picks epoll where available.
func NewDriver[O Op](name string, opts Options) (Driver[O], error) {
	switch name {
	case DriverNet:
		return NewNetDriver[O](opts), nil
	case DriverEpoll:
		return newEpollDriver[O](opts)
	case DriverAuto, "":
		if d, err := newEpollDriver[O](opts); err == nil {
			return d, nil
		}
		return NewNetDriver[O](opts), nil
	default:
		return nil, errors.New("completion: unknown driver " + name)
	}
}

// sendLen returns how many bytes of n a single send may write.
func (o Options) sendLen(n int) int {
	if o.MaxSendChunk > 0 && n > o.MaxSendChunk {
		return o.MaxSendChunk
	}
	return n
}
