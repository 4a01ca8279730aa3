// Package registry holds the live connections of a serve cycle.
//
// Registry is a slot map: entries live in a slice of slots and are addressed
// by a generational key that packs the slot index with the slot's generation.
// Removing an entry bumps the generation, so a stale key held by a late
// completion never resolves to a newer connection that reused the slot. Live
// slots are threaded on a doubly linked list of neighbor indices, newest
// first, which lets DrainAll walk and detach everything in one pass.
//
// All operations are serialized by a single mutex. DrainAll detaches entries
// under the lock and hands them to the caller's callback afterwards, so the
// callback may close sockets or block without holding the registry.
package registry

import (
	"errors"
	"sync"
)

// Key identifies an entry. The zero Key is never issued.
type Key uint64

// ErrNotFound is returned when a key does not name a live entry.
var ErrNotFound = errors.New("registry: entry not found")

const none = -1

// MaxKey is an upper bound on issued keys; callers may reserve values above it.
const MaxKey = Key(1<<63 - 1)

func makeKey(idx int, gen uint32) Key {
	return Key(uint64(gen)<<32 | uint64(uint32(idx)))
}

func (k Key) split() (idx int, gen uint32) {
	return int(uint32(k)), uint32(k >> 32)
}

type slot[T any] struct {
	gen   uint32 // bumped on every insert; 0 only before first use
	live  bool
	value T
	prev  int
	next  int
}

// Registry maps generational keys to values of type T.
type Registry[T any] struct {
	mu    sync.Mutex
	slots []slot[T]
	free  []int
	head  int
	count int
}

// New returns an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{head: none}
}

// Insert stores v at the head of the live list and returns its key.
func (r *Registry[T]) Insert(v T) Key {
	r.mu.Lock()
	defer r.mu.Unlock()

	var idx int
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		r.slots = append(r.slots, slot[T]{gen: 0})
		idx = len(r.slots) - 1
	}

	s := &r.slots[idx]
	s.gen++
	if s.gen == 0 || s.gen > uint32(MaxKey>>32) {
		s.gen = 1
	}
	s.live = true
	s.value = v
	s.prev = none
	s.next = r.head
	if r.head != none {
		r.slots[r.head].prev = idx
	}
	r.head = idx
	r.count++

	return makeKey(idx, s.gen)
}

// lookup returns the slot index for k, or none. Caller holds mu.
func (r *Registry[T]) lookup(k Key) int {
	idx, gen := k.split()
	if k == 0 || idx >= len(r.slots) {
		return none
	}
	if s := &r.slots[idx]; !s.live || s.gen != gen {
		return none
	}
	return idx
}

// unlink detaches slot idx from the live list and frees it. Caller holds mu.
func (r *Registry[T]) unlink(idx int) T {
	s := &r.slots[idx]
	if s.prev != none {
		r.slots[s.prev].next = s.next
	} else {
		r.head = s.next
	}
	if s.next != none {
		r.slots[s.next].prev = s.prev
	}

	v := s.value
	var zero T
	s.value = zero
	s.live = false
	s.prev, s.next = none, none
	r.free = append(r.free, idx)
	r.count--
	return v
}

// Get returns the value stored under k.
func (r *Registry[T]) Get(k Key) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idx := r.lookup(k); idx != none {
		return r.slots[idx].value, true
	}
	var zero T
	return zero, false
}

// Remove unlinks k and returns its value. Removing an unknown or already
// removed key returns ErrNotFound and leaves the registry unchanged.
func (r *Registry[T]) Remove(k Key) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.lookup(k)
	if idx == none {
		var zero T
		return zero, ErrNotFound
	}
	return r.unlink(idx), nil
}

// Len returns the number of live entries.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Range calls fn for each live entry, newest first, while holding the lock.
// fn must not call back into the registry.
func (r *Registry[T]) Range(fn func(Key, T) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for idx := r.head; idx != none; idx = r.slots[idx].next {
		s := &r.slots[idx]
		if !fn(makeKey(idx, s.gen), s.value) {
			return
		}
	}
}

// Entry is a detached key/value pair returned by DrainAll.
type Entry[T any] struct {
	Key   Key
	Value T
}

// DrainAll detaches every live entry, newest first, and then calls fn on each
// outside the lock. The registry is empty when DrainAll returns, apart from
// entries inserted concurrently by fn or other goroutines. It returns the
// number of entries drained.
func (r *Registry[T]) DrainAll(fn func(Key, T)) int {
	r.mu.Lock()
	drained := make([]Entry[T], 0, r.count)
	for r.head != none {
		idx := r.head
		k := makeKey(idx, r.slots[idx].gen)
		drained = append(drained, Entry[T]{Key: k, Value: r.unlink(idx)})
	}
	r.mu.Unlock()

	if fn != nil {
		for _, e := range drained {
			fn(e.Key, e.Value)
		}
	}
	return len(drained)
}
