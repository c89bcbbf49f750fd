// Package cache provides a small LRU cache with an eviction callback.
//
// The wgpu backend caches bind groups per (pipeline, bound resources) and
// destroys them when they fall out of the cache or when a resource they
// reference is destroyed.
package cache
