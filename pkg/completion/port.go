package completion

import "sync"

// Port is an unbounded FIFO of completions shared by any number of
// producers (drivers, Post callers) and consumers (workers).
type Port[O Op] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Completion[O]
	head   int
	closed bool
}

// NewPort returns an open port.
func NewPort[O Op]() *Port[O] {
	p := &Port[O]{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Post queues c. It fails only after Close.
func (p *Port[O]) Post(c Completion[O]) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPortClosed
	}
	p.queue = append(p.queue, c)
	p.cond.Signal()
	return nil
}

// PostSentinel queues a NullKey completion.
func (p *Port[O]) PostSentinel() error {
	return p.Post(Completion[O]{Key: NullKey})
}

// Next blocks until a completion is available and dequeues it. After Close
// it returns ErrPortClosed; completions still queued are discarded.
func (p *Port[O]) Next() (Completion[O], error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for !p.closed && p.head == len(p.queue) {
		p.cond.Wait()
	}
	if p.closed {
		var zero Completion[O]
		return zero, ErrPortClosed
	}

	c := p.queue[p.head]
	p.queue[p.head] = Completion[O]{}
	p.head++
	if p.head == len(p.queue) {
		p.queue = p.queue[:0]
		p.head = 0
	} else if p.head > 64 && p.head*2 > len(p.queue) {
		n := copy(p.queue, p.queue[p.head:])
		clear(p.queue[n:])
		p.queue = p.queue[:n]
		p.head = 0
	}
	return c, nil
}

// Len returns the number of queued completions.
func (p *Port[O]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) - p.head
}

// Close wakes every blocked Next. Accepted sockets carried by discarded
// completions are closed abortively. Closing twice is a no-op.
func (p *Port[O]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	var orphans []Socket[O]
	for _, c := range p.queue[p.head:] {
		if c.Accepted != nil {
			orphans = append(orphans, c.Accepted)
		}
	}
	clear(p.queue)
	p.queue, p.head = nil, 0
	p.cond.Broadcast()
	p.mu.Unlock()

	for _, s := range orphans {
		_ = s.Close(true)
	}
	return nil
}

// Closed reports whether Close has been called.
func (p *Port[O]) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// assoc is the association state shared by driver sockets.
type assoc[O Op] struct {
	mu   sync.Mutex
	port *Port[O]
	key  Key
}

func (a *assoc[O]) set(port *Port[O], key Key) error {
	if port == nil {
		return ErrNotAssociated
	}
	if port.Closed() {
		return ErrPortClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.port != nil {
		return ErrAlreadyAssociated
	}
	a.port, a.key = port, key
	return nil
}

func (a *assoc[O]) get() (*Port[O], Key, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.port == nil {
		return nil, 0, ErrNotAssociated
	}
	return a.port, a.key, nil
}

// complete finishes op and queues its completion. A closed port drops it,
// closing any socket the completion carried.
func complete[O Op](port *Port[O], c Completion[O]) {
	c.Op.overlapped().Finish()
	if err := port.Post(c); err != nil && c.Accepted != nil {
		_ = c.Accepted.Close(true)
	}
}
