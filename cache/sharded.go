// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cache

import (
	"errors"
	"fmt"
	"hash/fnv"
	"hash/maphash"
	"sync"
	"sync/atomic"
)

// DefaultShardCount is the number of shards. Must be a power of 2 for fast
// modulo via bitwise AND.
const DefaultShardCount = 16

const shardMask = DefaultShardCount - 1

// ErrInvalidated is returned to the builder and all waiters of a key that
// was invalidated while its value was being built. The built value has
// already been released.
var ErrInvalidated = errors.New("cache: key invalidated during build")

// Hasher computes a hash for a key. Used for shard selection.
type Hasher[K any] func(K) uint64

// StringHasher computes the FNV-1a hash of a string key.
func StringHasher(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s)) // fnv.Write never returns an error
	return h.Sum64()
}

// Uint64Hasher returns the key itself as the hash (identity hash).
func Uint64Hasher(u uint64) uint64 {
	return u
}

// ShardedMap is a concurrent build-once map.
//
// Reads of published keys take no lock: each shard publishes an immutable
// snapshot through an atomic pointer and writers replace it copy-on-write.
// On a miss exactly one caller runs the build function for a key while all
// concurrent callers of the same key wait for its result. Failed builds are
// not stored, so the next caller builds again.
//
// Invalidation (DeleteKeys) removes published entries and marks in-flight
// builds of matching keys stale; a stale result is released instead of
// being published. Every value that leaves the map is passed to the
// release function exactly once.
//
// Entries are never evicted.
type ShardedMap[K comparable, V any] struct {
	shards  [DefaultShardCount]shard[K, V]
	hasher  Hasher[K]
	release func(K, V)

	builds   atomic.Uint64
	hits     atomic.Uint64
	waits    atomic.Uint64
	discards atomic.Uint64
}

type shard[K comparable, V any] struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[map[K]V]
	inflight map[K]*call[V]
}

// call is an in-flight build. val and err are written once before done is
// closed.
type call[V any] struct {
	done  chan struct{}
	val   V
	err   error
	stale bool
}

// NewShardedMap creates a map. A nil hasher hashes keys with
// maphash.Comparable; release may be nil.
func NewShardedMap[K comparable, V any](hasher Hasher[K], release func(K, V)) *ShardedMap[K, V] {
	if hasher == nil {
		seed := maphash.MakeSeed()
		hasher = func(k K) uint64 { return maphash.Comparable(seed, k) }
	}
	m := &ShardedMap[K, V]{hasher: hasher, release: release}
	for i := range m.shards {
		empty := make(map[K]V)
		m.shards[i].snapshot.Store(&empty)
		m.shards[i].inflight = make(map[K]*call[V])
	}
	return m
}

func (m *ShardedMap[K, V]) shardFor(key K) *shard[K, V] {
	return &m.shards[m.hasher(key)&shardMask]
}

// Load returns the published value for key without locking.
func (m *ShardedMap[K, V]) Load(key K) (V, bool) {
	v, ok := (*m.shardFor(key).snapshot.Load())[key]
	return v, ok
}

// GetOrBuild returns the published value for key, building it with build
// on a miss. build runs without any lock held and at most once per key at a
// time. Its error is returned to the builder and every waiter.
func (m *ShardedMap[K, V]) GetOrBuild(key K, build func() (V, error)) (V, error) {
	s := m.shardFor(key)
	if v, ok := (*s.snapshot.Load())[key]; ok {
		m.hits.Add(1)
		return v, nil
	}

	s.mu.Lock()
	if v, ok := (*s.snapshot.Load())[key]; ok {
		s.mu.Unlock()
		m.hits.Add(1)
		return v, nil
	}
	if c, ok := s.inflight[key]; ok {
		s.mu.Unlock()
		m.waits.Add(1)
		<-c.done
		return c.val, c.err
	}
	c := &call[V]{done: make(chan struct{})}
	s.inflight[key] = c
	s.mu.Unlock()

	m.builds.Add(1)
	m.runBuild(s, key, c, build)
	return c.val, c.err
}

func (m *ShardedMap[K, V]) runBuild(s *shard[K, V], key K, c *call[V], build func() (V, error)) {
	finished := false
	defer func() {
		if !finished {
			c.err = fmt.Errorf("cache: build panicked: %v", recover())
			m.finish(s, key, c)
			panic(c.err)
		}
	}()
	c.val, c.err = build()
	finished = true
	m.finish(s, key, c)
}

// finish publishes or discards the result of c and wakes its waiters.
func (m *ShardedMap[K, V]) finish(s *shard[K, V], key K, c *call[V]) {
	s.mu.Lock()
	delete(s.inflight, key)
	discard := false
	if c.err == nil {
		old := *s.snapshot.Load()
		if _, exists := old[key]; exists || c.stale {
			discard = true
		} else {
			next := make(map[K]V, len(old)+1)
			for k, v := range old {
				next[k] = v
			}
			next[key] = c.val
			s.snapshot.Store(&next)
		}
	}
	s.mu.Unlock()

	if discard {
		m.discards.Add(1)
		if m.release != nil {
			m.release(key, c.val)
		}
		var zero V
		c.val, c.err = zero, ErrInvalidated
	}
	close(c.done)
}

// DeleteKeys removes every published entry whose key matches pred and
// marks matching in-flight builds stale. Removed values are released after
// the shard locks are dropped. It returns the number of released entries.
func (m *ShardedMap[K, V]) DeleteKeys(pred func(K) bool) int {
	type removed struct {
		key K
		val V
	}
	var out []removed

	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for k, c := range s.inflight {
			if pred(k) {
				c.stale = true
			}
		}
		old := *s.snapshot.Load()
		var next map[K]V
		for k, v := range old {
			if !pred(k) {
				continue
			}
			if next == nil {
				next = make(map[K]V, len(old))
				for k2, v2 := range old {
					next[k2] = v2
				}
			}
			delete(next, k)
			out = append(out, removed{k, v})
		}
		if next != nil {
			s.snapshot.Store(&next)
		}
		s.mu.Unlock()
	}

	if m.release != nil {
		for _, r := range out {
			m.release(r.key, r.val)
		}
	}
	return len(out)
}

// Range calls fn for every published entry until fn returns false.
// It observes one snapshot per shard.
func (m *ShardedMap[K, V]) Range(fn func(K, V) bool) {
	for i := range m.shards {
		for k, v := range *m.shards[i].snapshot.Load() {
			if !fn(k, v) {
				return
			}
		}
	}
}

// Len returns the number of published entries.
func (m *ShardedMap[K, V]) Len() int {
	n := 0
	for i := range m.shards {
		n += len(*m.shards[i].snapshot.Load())
	}
	return n
}

// ShardLen returns the number of published entries in each shard.
// Useful for debugging load distribution.
func (m *ShardedMap[K, V]) ShardLen() [DefaultShardCount]int {
	var lens [DefaultShardCount]int
	for i := range m.shards {
		lens[i] = len(*m.shards[i].snapshot.Load())
	}
	return lens
}

// Stats returns current statistics. Counters are read atomically but not
// as one consistent snapshot.
func (m *ShardedMap[K, V]) Stats() Stats {
	return Stats{
		Len:      m.Len(),
		Builds:   m.builds.Load(),
		Hits:     m.hits.Load(),
		Waits:    m.waits.Load(),
		Discards: m.discards.Load(),
	}
}

// ResetStats resets all statistics counters to zero.
func (m *ShardedMap[K, V]) ResetStats() {
	m.builds.Store(0)
	m.hits.Store(0)
	m.waits.Store(0)
	m.discards.Store(0)
}

// Stats contains map statistics.
type Stats struct {
	// Len is the number of published entries.
	Len int
	// Builds is the number of build functions started.
	Builds uint64
	// Hits is the number of lookups served from a published entry.
	Hits uint64
	// Waits is the number of callers that waited on another caller's build.
	Waits uint64
	// Discards is the number of built values released instead of published.
	Discards uint64
}
