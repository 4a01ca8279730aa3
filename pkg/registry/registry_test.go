package registry

import (
	"errors"
	"sync"
	"testing"
)

func TestInsertGet(t *testing.T) {
	r := New[string]()

	a := r.Insert("a")
	b := r.Insert("b")

	if a == 0 || b == 0 {
		t.Fatalf("zero key issued: a=%d b=%d", a, b)
	}
	if a == b {
		t.Fatalf("duplicate key %d", a)
	}
	if v, ok := r.Get(a); !ok || v != "a" {
		t.Errorf("Get(a) = %q, %v", v, ok)
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

func TestRemove(t *testing.T) {
	r := New[int]()
	k := r.Insert(1)

	v, err := r.Remove(k)
	if err != nil || v != 1 {
		t.Fatalf("Remove = %d, %v", v, err)
	}
	if _, err := r.Remove(k); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Remove error = %v, want ErrNotFound", err)
	}
	if _, ok := r.Get(k); ok {
		t.Error("removed key still resolves")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestStaleKeyAfterSlotReuse(t *testing.T) {
	r := New[string]()
	old := r.Insert("old")
	if _, err := r.Remove(old); err != nil {
		t.Fatal(err)
	}

	fresh := r.Insert("fresh")
	oldIdx, _ := old.split()
	freshIdx, _ := fresh.split()
	if oldIdx != freshIdx {
		t.Fatalf("slot not reused: %d vs %d", oldIdx, freshIdx)
	}
	if old == fresh {
		t.Fatal("reused slot issued the same key")
	}
	if _, ok := r.Get(old); ok {
		t.Error("stale key resolved to new entry")
	}
	if _, err := r.Remove(old); !errors.Is(err, ErrNotFound) {
		t.Errorf("Remove(stale) = %v", err)
	}
	if v, _ := r.Get(fresh); v != "fresh" {
		t.Errorf("Get(fresh) = %q", v)
	}
}

func TestUnknownKeys(t *testing.T) {
	r := New[int]()
	for _, k := range []Key{0, 1, makeKey(99, 1), MaxKey} {
		if _, ok := r.Get(k); ok {
			t.Errorf("Get(%d) resolved on empty registry", k)
		}
	}
}

func TestRemoveMiddleKeepsLinks(t *testing.T) {
	r := New[int]()
	k1 := r.Insert(1)
	k2 := r.Insert(2)
	k3 := r.Insert(3)

	if _, err := r.Remove(k2); err != nil {
		t.Fatal(err)
	}

	var got []int
	r.Range(func(_ Key, v int) bool {
		got = append(got, v)
		return true
	})
	if len(got) != 2 || got[0] != 3 || got[1] != 1 {
		t.Errorf("Range order = %v, want [3 1]", got)
	}

	if _, err := r.Remove(k3); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Remove(k1); err != nil {
		t.Fatal(err)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d", r.Len())
	}
}

func TestRangeStops(t *testing.T) {
	r := New[int]()
	for i := 0; i < 5; i++ {
		r.Insert(i)
	}
	n := 0
	r.Range(func(Key, int) bool {
		n++
		return n < 2
	})
	if n != 2 {
		t.Errorf("Range visited %d, want 2", n)
	}
}

func TestDrainAll(t *testing.T) {
	r := New[int]()
	keys := map[Key]int{}
	for i := 1; i <= 4; i++ {
		keys[r.Insert(i)] = i
	}

	var order []int
	n := r.DrainAll(func(k Key, v int) {
		if keys[k] != v {
			t.Errorf("key %d drained with %d, want %d", k, v, keys[k])
		}
		// callback runs outside the lock
		if _, ok := r.Get(k); ok {
			t.Errorf("key %d still live during drain", k)
		}
		order = append(order, v)
	})

	if n != 4 {
		t.Errorf("drained %d, want 4", n)
	}
	if want := []int{4, 3, 2, 1}; len(order) != 4 || order[0] != want[0] || order[3] != want[3] {
		t.Errorf("drain order = %v, want %v", order, want)
	}
	if r.Len() != 0 {
		t.Errorf("Len() after drain = %d", r.Len())
	}

	// draining twice is a no-op
	if n := r.DrainAll(nil); n != 0 {
		t.Errorf("second drain = %d", n)
	}
}

func TestConcurrentInsertRemove(t *testing.T) {
	r := New[int]()
	var wg sync.WaitGroup

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				k := r.Insert(g*1000 + i)
				if v, ok := r.Get(k); !ok || v != g*1000+i {
					t.Errorf("Get after Insert = %d, %v", v, ok)
					return
				}
				if _, err := r.Remove(k); err != nil {
					t.Errorf("Remove: %v", err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	if r.Len() != 0 {
		t.Errorf("Len() = %d", r.Len())
	}
}

func TestDrainRacesRemove(t *testing.T) {
	r := New[int]()
	keys := make([]Key, 200)
	for i := range keys {
		keys[i] = r.Insert(i)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		removed int
		drained int
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, k := range keys {
			if _, err := r.Remove(k); err == nil {
				mu.Lock()
				removed++
				mu.Unlock()
			}
		}
	}()
	go func() {
		defer wg.Done()
		n := r.DrainAll(nil)
		mu.Lock()
		drained = n
		mu.Unlock()
	}()
	wg.Wait()

	if removed+drained != len(keys) {
		t.Errorf("removed %d + drained %d != %d", removed, drained, len(keys))
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d", r.Len())
	}
}
