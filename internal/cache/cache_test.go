package cache

import (
	"errors"
	"sync"
	"testing"
)

func TestCacheGetOrCreate(t *testing.T) {
	c := New[string, int](0, nil)

	calls := 0
	create := func() (int, error) {
		calls++
		return 42, nil
	}
	for range 3 {
		v, err := c.GetOrCreate("a", create)
		if err != nil || v != 42 {
			t.Fatalf("GetOrCreate() = %d, %v; want 42, nil", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("create called %d times, want 1", calls)
	}
	s := c.Stats()
	if s.Hits != 2 || s.Misses != 1 {
		t.Errorf("Stats() = %+v, want 2 hits 1 miss", s)
	}
}

func TestCacheCreateErrorNotStored(t *testing.T) {
	c := New[string, int](0, nil)
	wantErr := errors.New("boom")

	if _, err := c.GetOrCreate("a", func() (int, error) { return 0, wantErr }); !errors.Is(err, wantErr) {
		t.Fatalf("GetOrCreate() error = %v, want %v", err, wantErr)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	c := New[string, int](2, func(k string, _ int) { evicted = append(evicted, k) })

	mk := func(v int) func() (int, error) { return func() (int, error) { return v, nil } }
	c.GetOrCreate("a", mk(1))
	c.GetOrCreate("b", mk(2))
	c.Get("a") // b is now oldest
	c.GetOrCreate("c", mk(3))

	if len(evicted) != 1 || evicted[0] != "b" {
		t.Fatalf("evicted = %v, want [b]", evicted)
	}
	if _, ok := c.Get("b"); ok {
		t.Error("b still cached after eviction")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a evicted, want kept")
	}
	if c.Stats().Evictions != 1 {
		t.Errorf("Evictions = %d, want 1", c.Stats().Evictions)
	}
}

func TestCacheDeleteFuncAndClear(t *testing.T) {
	released := map[int]int{}
	c := New[int, int](0, func(k, _ int) { released[k]++ })
	for i := range 6 {
		c.GetOrCreate(i, func() (int, error) { return i * 10, nil })
	}

	n := c.DeleteFunc(func(k, _ int) bool { return k%2 == 0 })
	if n != 3 || c.Len() != 3 {
		t.Fatalf("DeleteFunc removed %d, Len() = %d; want 3, 3", n, c.Len())
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len() after Clear = %d", c.Len())
	}
	for i := range 6 {
		if released[i] != 1 {
			t.Errorf("key %d released %d times, want 1", i, released[i])
		}
	}
}

func TestCacheConcurrent(t *testing.T) {
	c := New[int, int](16, nil)
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				k := (g*7 + i) % 32
				v, err := c.GetOrCreate(k, func() (int, error) { return k, nil })
				if err != nil || v != k {
					t.Errorf("GetOrCreate(%d) = %d, %v", k, v, err)
					return
				}
			}
		}()
	}
	wg.Wait()
	if c.Len() > 16 {
		t.Errorf("Len() = %d, exceeds limit 16", c.Len())
	}
}
