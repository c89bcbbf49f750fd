// Package cache provides a generic sharded build-once map.
//
// [ShardedMap] backs the per-device pipeline cache: published entries are
// read without locks, concurrent misses on one key share a single build,
// and invalidated keys release their values.
package cache
