// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucompute

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucompute/backend"
	"github.com/gogpu/gpucompute/bytecode"
	"github.com/gogpu/gpucompute/internal/parallel"
)

// Engine owns the bytecode provider, the pipeline cache and the worker
// pool used for asynchronous submission. Devices opened through one engine
// share its pipeline cache.
//
// Thread Safety: Engine is safe for concurrent use.
type Engine struct {
	opts      options
	provider  *bytecode.Provider
	pipelines *PipelineCache
	pool      *parallel.WorkerPool

	nextID atomic.Uint64

	mu      sync.Mutex
	devices map[uint64]*Device
	closed  bool
}

// New creates an engine.
func New(opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	provider := bytecode.NewProvider(o.compiler, o.reflector, o.profile)
	return &Engine{
		opts:      o,
		provider:  provider,
		pipelines: NewPipelineCache(provider),
		pool:      parallel.NewWorkerPool(o.asyncWorkers),
		devices:   make(map[uint64]*Device),
	}
}

// Pipelines returns the pipeline cache shared by the engine's devices.
func (e *Engine) Pipelines() *PipelineCache {
	return e.pipelines
}

// Provider returns the bytecode provider.
func (e *Engine) Provider() *bytecode.Provider {
	return e.provider
}

// OpenDevice opens a device on a registered backend. An empty name picks
// the first available backend in priority order.
func (e *Engine) OpenDevice(name string) (*Device, error) {
	var (
		b   backend.Device
		err error
	)
	if name == "" {
		b, err = backend.OpenDefault()
	} else {
		b, err = backend.Open(name)
	}
	if err != nil {
		return nil, fmt.Errorf("gpucompute: open device: %w", err)
	}
	d, err := e.NewDevice(b)
	if err != nil {
		b.Destroy()
		return nil, err
	}
	return d, nil
}

// NewDevice wraps an already opened backend device. The Device takes
// ownership of b.
func (e *Engine) NewDevice(b backend.Device) (*Device, error) {
	if b == nil {
		return nil, fmt.Errorf("gpucompute: nil backend device")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}

	d := &Device{engine: e, id: e.nextID.Add(1), backend: b, info: b.Info()}
	e.devices[d.id] = d
	trackDevice(d)
	propagateLogger(b, slogger())

	slogger().Info("gpucompute: device opened",
		slog.Uint64("id", d.id),
		slog.String("name", d.info.Name),
		slog.String("backend", d.info.Backend))
	return d, nil
}

// Devices returns the open devices ordered by id.
func (e *Engine) Devices() []*Device {
	e.mu.Lock()
	out := make([]*Device, 0, len(e.devices))
	for _, d := range e.devices {
		out = append(out, d)
	}
	e.mu.Unlock()
	slices.SortFunc(out, func(a, b *Device) int { return cmp.Compare(a.id, b.id) })
	return out
}

func (e *Engine) forget(d *Device) {
	e.mu.Lock()
	delete(e.devices, d.id)
	e.mu.Unlock()
}

// waitContext applies the submit timeout to a context without a deadline.
func (e *Engine) waitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.submitTimeout <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.opts.submitTimeout)
}

// Close destroys every open device and stops the async workers after the
// queued submissions drain. Close is idempotent.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.pool.Close()
	for _, d := range e.Devices() {
		d.Destroy()
	}
}
