package cache

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestShardedMapGetOrBuild(t *testing.T) {
	m := NewShardedMap[string, int](StringHasher, nil)

	builds := 0
	for range 3 {
		v, err := m.GetOrBuild("a", func() (int, error) {
			builds++
			return 7, nil
		})
		if err != nil || v != 7 {
			t.Fatalf("GetOrBuild() = %d, %v; want 7, nil", v, err)
		}
	}
	if builds != 1 {
		t.Errorf("build ran %d times, want 1", builds)
	}
	if v, ok := m.Load("a"); !ok || v != 7 {
		t.Errorf("Load() = %d, %v", v, ok)
	}
	s := m.Stats()
	if s.Builds != 1 || s.Hits != 2 || s.Len != 1 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestShardedMapFailureNotCached(t *testing.T) {
	m := NewShardedMap[string, int](nil, nil)
	boom := errors.New("boom")

	if _, err := m.GetOrBuild("k", func() (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("error = %v, want boom", err)
	}
	if m.Len() != 0 {
		t.Fatalf("failed build was published")
	}
	v, err := m.GetOrBuild("k", func() (int, error) { return 3, nil })
	if err != nil || v != 3 {
		t.Errorf("retry = %d, %v; want 3, nil", v, err)
	}
}

func TestShardedMapStampede(t *testing.T) {
	m := NewShardedMap[uint64, *int](Uint64Hasher, nil)

	const goroutines = 64
	var builds atomic.Int32
	start := make(chan struct{})
	results := make([]*int, goroutines)
	var wg sync.WaitGroup
	for i := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			v, err := m.GetOrBuild(1, func() (*int, error) {
				builds.Add(1)
				time.Sleep(10 * time.Millisecond)
				n := 42
				return &n, nil
			})
			if err != nil {
				t.Errorf("GetOrBuild() error = %v", err)
			}
			results[i] = v
		}()
	}
	close(start)
	wg.Wait()

	if builds.Load() != 1 {
		t.Fatalf("build ran %d times, want 1", builds.Load())
	}
	for i, r := range results {
		if r != results[0] {
			t.Fatalf("goroutine %d got a different value", i)
		}
	}
	s := m.Stats()
	if s.Hits+s.Waits != goroutines-1 {
		t.Errorf("hits+waits = %d, want %d", s.Hits+s.Waits, goroutines-1)
	}
}

func TestShardedMapFailurePropagatesToWaiters(t *testing.T) {
	m := NewShardedMap[string, int](nil, nil)
	boom := errors.New("compile failed")
	entered := make(chan struct{})
	unblock := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := m.GetOrBuild("k", func() (int, error) {
			close(entered)
			<-unblock
			return 0, boom
		})
		if !errors.Is(err, boom) {
			t.Errorf("builder error = %v", err)
		}
	}()
	<-entered

	errs := make(chan error, 4)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.GetOrBuild("k", func() (int, error) { return 1, nil })
			errs <- err
		}()
	}
	// Let the waiters reach the in-flight slot before failing the build.
	for m.Stats().Waits < 4 {
		time.Sleep(time.Millisecond)
	}
	close(unblock)
	wg.Wait()
	close(errs)
	for err := range errs {
		if !errors.Is(err, boom) {
			t.Errorf("waiter error = %v, want %v", err, boom)
		}
	}
}

func TestShardedMapDeleteKeysReleases(t *testing.T) {
	released := map[string]int{}
	var mu sync.Mutex
	m := NewShardedMap[string, int](StringHasher, func(k string, _ int) {
		mu.Lock()
		released[k]++
		mu.Unlock()
	})
	for i := range 10 {
		k := fmt.Sprintf("dev%d/%d", i%2, i)
		if _, err := m.GetOrBuild(k, func() (int, error) { return i, nil }); err != nil {
			t.Fatal(err)
		}
	}

	n := m.DeleteKeys(func(k string) bool { return k[:4] == "dev0" })
	if n != 5 || m.Len() != 5 {
		t.Fatalf("DeleteKeys removed %d, Len() = %d; want 5, 5", n, m.Len())
	}
	for k, c := range released {
		if c != 1 || k[:4] != "dev0" {
			t.Errorf("released[%s] = %d", k, c)
		}
	}
	m.Range(func(k string, _ int) bool {
		if k[:4] == "dev0" {
			t.Errorf("%s still published", k)
		}
		return true
	})
}

func TestShardedMapInvalidateDuringBuild(t *testing.T) {
	var released atomic.Int32
	m := NewShardedMap[string, int](nil, func(string, int) { released.Add(1) })
	entered := make(chan struct{})
	unblock := make(chan struct{})

	done := make(chan error)
	go func() {
		_, err := m.GetOrBuild("k", func() (int, error) {
			close(entered)
			<-unblock
			return 9, nil
		})
		done <- err
	}()
	<-entered
	if n := m.DeleteKeys(func(string) bool { return true }); n != 0 {
		t.Errorf("DeleteKeys() = %d, want 0 published", n)
	}
	close(unblock)

	if err := <-done; !errors.Is(err, ErrInvalidated) {
		t.Fatalf("error = %v, want ErrInvalidated", err)
	}
	if released.Load() != 1 {
		t.Errorf("released = %d, want 1", released.Load())
	}
	if m.Len() != 0 || m.Stats().Discards != 1 {
		t.Errorf("Len() = %d, Discards = %d", m.Len(), m.Stats().Discards)
	}

	// The key builds again once invalidation is over.
	if v, err := m.GetOrBuild("k", func() (int, error) { return 10, nil }); err != nil || v != 10 {
		t.Errorf("rebuild = %d, %v", v, err)
	}
}

func TestShardedMapPanicWakesWaiters(t *testing.T) {
	m := NewShardedMap[string, int](nil, nil)
	func() {
		defer func() {
			if recover() == nil {
				t.Error("panic not propagated")
			}
		}()
		_, _ = m.GetOrBuild("k", func() (int, error) { panic("bad") })
	}()
	v, err := m.GetOrBuild("k", func() (int, error) { return 1, nil })
	if err != nil || v != 1 {
		t.Errorf("after panic = %d, %v", v, err)
	}
}

func TestShardedMapConcurrentKeys(t *testing.T) {
	m := NewShardedMap[int, int](nil, nil)
	var builds atomic.Int32
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 500 {
				k := (g + i) % 50
				v, err := m.GetOrBuild(k, func() (int, error) {
					builds.Add(1)
					return k * 2, nil
				})
				if err != nil || v != k*2 {
					t.Errorf("GetOrBuild(%d) = %d, %v", k, v, err)
					return
				}
			}
		}()
	}
	wg.Wait()
	if builds.Load() != 50 {
		t.Errorf("builds = %d, want 50", builds.Load())
	}
	total := 0
	for _, n := range m.ShardLen() {
		total += n
	}
	if total != 50 {
		t.Errorf("sum(ShardLen) = %d, want 50", total)
	}
}

func TestHashers(t *testing.T) {
	if StringHasher("a") != StringHasher("a") {
		t.Error("StringHasher not deterministic")
	}
	if StringHasher("a") == StringHasher("b") {
		t.Error("StringHasher collision on trivial keys")
	}
	if Uint64Hasher(17) != 17 {
		t.Error("Uint64Hasher is not identity")
	}
}
