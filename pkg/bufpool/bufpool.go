// Package bufpool provides fixed-size operation buffers for the echo server.
//
// Every in-flight I/O operation owns exactly one buffer from the moment it is
// created until the operation is retired, so the pool tracks how many buffers
// are outstanding. After a full drain the count must be back to zero; the
// server tests rely on that to detect buffers freed too early or never freed.
//
// An optional limit bounds the number of outstanding buffers. Get fails with
// ErrExhausted once the limit is reached, which the server treats as a
// resource-exhaustion failure for the one connection being set up.
//
// # Usage
//
//	pool := bufpool.New(8192, 0)
//	buf, err := pool.Get()
//	...
//	pool.Put(buf)
package bufpool

import (
	"errors"
	"sync"
	"sync/atomic"
)

// DefaultSize is the buffer size used when none is configured.
const DefaultSize = 8192

// ErrExhausted is returned by Get when the outstanding limit is reached.
var ErrExhausted = errors.New("bufpool: buffer limit reached")

// Pool hands out buffers of a single size.
type Pool struct {
	size        int
	limit       int64
	pool        sync.Pool
	outstanding atomic.Int64
	allocated   atomic.Int64
}

// New creates a pool of size-byte buffers. A limit of zero or less means
// unlimited.
func New(size int, limit int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	p := &Pool{size: size, limit: int64(limit)}
	p.pool.New = func() any {
		p.allocated.Add(1)
		buf := make([]byte, p.size)
		return &buf
	}
	return p
}

// Size returns the length of every buffer handed out.
func (p *Pool) Size() int { return p.size }

// Get returns a full-length buffer. Contents are unspecified.
func (p *Pool) Get() ([]byte, error) {
	if n := p.outstanding.Add(1); p.limit > 0 && n > p.limit {
		p.outstanding.Add(-1)
		return nil, ErrExhausted
	}
	bp := p.pool.Get().(*[]byte)
	return (*bp)[:p.size], nil
}

// Put returns buf to the pool. Buffers of a foreign size are dropped but
// still counted as returned.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}
	p.outstanding.Add(-1)
	if cap(buf) < p.size {
		return
	}
	buf = buf[:p.size]
	p.pool.Put(&buf)
}

// Outstanding returns the number of buffers handed out and not yet returned.
func (p *Pool) Outstanding() int64 { return p.outstanding.Load() }

// Allocated returns how many buffers the pool has had to allocate.
func (p *Pool) Allocated() int64 { return p.allocated.Load() }
