// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucompute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucompute/backend"
)

// Device is a compute device: a backend device plus the state the engine
// keeps for it.
//
// A device goes through generations. When the backend reports loss, the
// device is marked lost, its pipelines are torn down and every operation
// fails with *DeviceLostError. Recover installs a replacement backend and
// starts a new generation; resources of older generations stay unusable,
// pipelines rebuild on next use.
//
// Thread Safety: Device is safe for concurrent use.
type Device struct {
	engine *Engine
	id     uint64

	mu         sync.RWMutex
	backend    backend.Device
	info       backend.Info
	generation uint64
	lostCause  error

	lost      atomic.Bool
	destroyed atomic.Bool
}

// ID returns the device id, unique within its engine.
func (d *Device) ID() uint64 { return d.id }

// Name returns the adapter name.
func (d *Device) Name() string {
	return d.Info().Name
}

// Info returns the backend description of the current generation.
func (d *Device) Info() backend.Info {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.info
}

// Generation returns the number of successful Recover calls.
func (d *Device) Generation() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.generation
}

// IsLost reports whether the current generation is lost.
func (d *Device) IsLost() bool { return d.lost.Load() }

// String returns "name#id".
func (d *Device) String() string {
	return fmt.Sprintf("%s#%d", d.Name(), d.id)
}

// backendDevice returns the current backend.
func (d *Device) backendDevice() backend.Device {
	b, _ := d.current()
	return b
}

// current returns the backend and generation as one snapshot.
func (d *Device) current() (backend.Device, uint64) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.backend, d.generation
}

// check fails when the device is destroyed or lost.
func (d *Device) check() error {
	if d.destroyed.Load() {
		return &UseAfterDisposeError{Resource: "Device", Label: d.String()}
	}
	if d.lost.Load() {
		return d.lostError()
	}
	return nil
}

func (d *Device) lostError() *DeviceLostError {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return &DeviceLostError{DeviceID: d.id, Name: d.info.Name, Cause: d.lostCause}
}

// wrap maps a backend error of generation gen. Errors wrapping
// backend.ErrDeviceLost mark the device lost.
func (d *Device) wrap(op string, gen uint64, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, backend.ErrDeviceLost) {
		return d.markLost(gen, err)
	}
	return fmt.Errorf("gpucompute: %s: %w", op, err)
}

// markLost marks generation gen lost and tears down its pipelines. Loss
// reported by an older generation is ignored by the current one.
func (d *Device) markLost(gen uint64, cause error) error {
	d.mu.Lock()
	if gen != d.generation {
		d.mu.Unlock()
		return &DeviceLostError{DeviceID: d.id, Name: d.info.Name, Cause: cause}
	}
	first := !d.lost.Load()
	if first {
		d.lostCause = cause
		d.lost.Store(true)
	}
	name := d.info.Name
	d.mu.Unlock()

	if first {
		n := d.engine.pipelines.InvalidateDevice(d)
		slogger().Warn("gpucompute: device lost",
			slog.Uint64("id", d.id),
			slog.String("name", name),
			slog.Uint64("generation", gen),
			slog.Int("pipelines", n),
			slog.Any("cause", cause))
	}
	return &DeviceLostError{DeviceID: d.id, Name: name, Cause: cause}
}

// Recover replaces the backend with b and starts a new generation. The
// old backend is destroyed. Pipelines rebuild against b on next use;
// resources allocated before Recover must be reallocated.
func (d *Device) Recover(b backend.Device) error {
	if b == nil {
		return fmt.Errorf("gpucompute: recover: nil backend device")
	}
	if d.destroyed.Load() {
		return &UseAfterDisposeError{Resource: "Device", Label: d.String()}
	}

	d.mu.Lock()
	old := d.backend
	d.backend = b
	d.info = b.Info()
	d.generation++
	d.lostCause = nil
	d.lost.Store(false)
	gen := d.generation
	d.mu.Unlock()

	d.engine.pipelines.InvalidateDevice(d)
	old.Destroy()
	propagateLogger(b, slogger())

	slogger().Info("gpucompute: device recovered",
		slog.Uint64("id", d.id),
		slog.String("name", b.Info().Name),
		slog.Uint64("generation", gen))
	return nil
}

// Destroy tears down the device's pipelines and destroys the backend.
// Resources must be disposed first. Destroy is idempotent.
func (d *Device) Destroy() {
	if !d.destroyed.CompareAndSwap(false, true) {
		return
	}
	d.engine.pipelines.InvalidateDevice(d)
	d.engine.forget(d)
	untrackDevice(d)
	d.backendDevice().Destroy()
}

// CreateComputeContext returns a context that batches dispatches into one
// submission.
func (d *Device) CreateComputeContext() *ComputeContext {
	return &ComputeContext{device: d}
}

// For dispatches s over x iterations and waits for completion.
func (d *Device) For(ctx context.Context, x uint32, s Shader) error {
	return d.run(ctx, func(c *ComputeContext) error { return c.For(x, s) })
}

// For3D dispatches s over x*y*z iterations and waits for completion.
func (d *Device) For3D(ctx context.Context, x, y, z uint32, s Shader) error {
	return d.run(ctx, func(c *ComputeContext) error { return c.For3D(x, y, z, s) })
}

// ForEach dispatches s once per texel of target and waits for completion.
func (d *Device) ForEach(ctx context.Context, target *Texture, s Shader) error {
	return d.run(ctx, func(c *ComputeContext) error { return c.ForEach(target, s) })
}

// ForAsync dispatches s over x iterations without waiting. Validation and
// pipeline errors are reported through the returned future.
func (d *Device) ForAsync(x uint32, s Shader) *Future {
	c := d.CreateComputeContext()
	if err := c.For(x, s); err != nil {
		c.discard()
		return completedFuture(err)
	}
	return c.SubmitAsync()
}

func (d *Device) run(ctx context.Context, record func(*ComputeContext) error) error {
	c := d.CreateComputeContext()
	if err := record(c); err != nil {
		c.discard()
		return err
	}
	return c.Submit(ctx)
}
