// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucompute

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/gogpu/gpucompute/backend"
	"github.com/gogpu/gpucompute/shader"
)

// ComputeContext batches dispatches into one backend recording that is
// submitted as a unit.
//
// Dispatches of one context execute in program order. Barrier declares an
// explicit ordering point for resources written by one dispatch and read
// by a later one. A context without dispatches submits nothing.
//
// A ComputeContext is used from a single goroutine. After Submit,
// SubmitAsync or Close every method fails with *UseAfterDisposeError.
//
// Example:
//
//	c := dev.CreateComputeContext()
//	defer c.Close()
//	if err := c.For(n, Scale{Data: buf}); err != nil {
//	    return err
//	}
//	c.Barrier(buf)
//	if err := c.For(n, Sum{Data: buf, Out: out}); err != nil {
//	    return err
//	}
//	return c.Submit(ctx)
type ComputeContext struct {
	device *Device

	rec        backend.Recording
	backend    backend.Device
	generation uint64

	dispatches int
	closed     bool
	constants  shader.ConstantWriter
}

// Dispatches returns the number of dispatches recorded so far.
func (c *ComputeContext) Dispatches() int { return c.dispatches }

func (c *ComputeContext) checkOpen() error {
	if c.closed {
		return &UseAfterDisposeError{Resource: "ComputeContext"}
	}
	return nil
}

// For records a dispatch of s over x iterations.
func (c *ComputeContext) For(x uint32, s Shader) error {
	return c.dispatch(s, nil, x, 1, 1)
}

// For3D records a dispatch of s over x*y*z iterations.
func (c *ComputeContext) For3D(x, y, z uint32, s Shader) error {
	return c.dispatch(s, nil, x, y, z)
}

// ForEach records a dispatch of s over every texel of target. target is
// bound to slot 0, which must be a read-write texture range; s supplies
// the remaining slots.
func (c *ComputeContext) ForEach(target *Texture, s Shader) error {
	if target == nil {
		return fmt.Errorf("%w: ForEach target", ErrMissingResource)
	}
	return c.dispatch(s, target, target.width, target.height, 1)
}

func (c *ComputeContext) dispatch(s Shader, target *Texture, x, y, z uint32) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if s == nil {
		return ErrNilShader
	}
	d := c.device
	if err := d.check(); err != nil {
		return err
	}
	if x == 0 || y == 0 || z == 0 {
		return fmt.Errorf("%w: %dx%dx%d", ErrInvalidIterationCount, x, y, z)
	}

	entry, err := d.engine.pipelines.GetOrCreate(d, reflect.TypeOf(s), s.Descriptor)
	if err != nil {
		return err
	}
	desc := entry.descriptor
	groups := groupCounts(desc.ThreadGroup, x, y, z)
	if err := checkGroups(groups, d.Info().MaxGroupsPerDimension); err != nil {
		return err
	}

	resources := s.Resources()
	if target != nil {
		if len(desc.Ranges) == 0 || desc.Ranges[0].Kind != shader.KindReadWrite ||
			desc.Ranges[0].Resource != shader.ResourceTexture2D {
			return fmt.Errorf("%w: %s", ErrForEachTarget, desc.Name)
		}
		resources = append([]Resource{target}, resources...)
	}
	slots, err := bindAll(d, desc, resources)
	if err != nil {
		return err
	}

	c.constants.Reset()
	s.WriteConstants(&c.constants)
	if c.constants.Size() != desc.ConstantBufferSize {
		return fmt.Errorf("%w: %s declares %d bytes, wrote %d",
			ErrConstantSize, desc.Name, desc.ConstantBufferSize, c.constants.Size())
	}
	c.constants.Uint32(x)
	c.constants.Uint32(y)
	c.constants.Uint32(z)

	rec, err := c.recording(entry)
	if err != nil {
		return err
	}

	bindings := make([]backend.Binding, len(slots))
	for i, sl := range slots {
		bindings[i] = sl.handle.binding(sl.rng)
		if sl.handle.Resource != nil && sl.before != sl.after {
			rec.Transition(bindings[i], sl.before, sl.after)
			sl.handle.Resource.base().setState(sl.after)
		}
	}

	err = rec.RecordDispatch(backend.DispatchDesc{
		Pipeline:  entry.pipeline,
		Bindings:  bindings,
		Constants: append([]uint32(nil), c.constants.Words()...),
		Groups:    groups,
	})
	if err != nil {
		return d.wrap("record "+desc.Name, c.generation, err)
	}
	c.dispatches++
	return nil
}

// recording returns the context's recording, beginning it on first use.
// A recording never spans device generations.
func (c *ComputeContext) recording(entry *PipelineEntry) (backend.Recording, error) {
	if c.rec != nil {
		if c.generation != entry.key.generation {
			return nil, &DeviceLostError{DeviceID: c.device.id, Name: c.device.Name()}
		}
		return c.rec, nil
	}
	rec, err := entry.owner.BeginRecording()
	if err != nil {
		return nil, c.device.wrap("begin recording", entry.key.generation, err)
	}
	c.rec, c.backend, c.generation = rec, entry.owner, entry.key.generation
	return rec, nil
}

// Barrier orders the accesses of earlier dispatches to resources before
// those of later ones. Before the first dispatch it only validates.
func (c *ComputeContext) Barrier(resources ...Resource) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	bindings := make([]backend.Binding, 0, len(resources))
	for _, r := range resources {
		h, err := Validate(r, c.device)
		if err != nil {
			return err
		}
		bindings = append(bindings, backend.Binding{
			Resource: resourceType(r),
			Buffer:   h.buffer,
			Texture:  h.texture,
		})
	}
	if c.rec != nil && len(bindings) > 0 {
		c.rec.Barrier(bindings)
	}
	return nil
}

// Submit submits the recorded dispatches and waits for them. When ctx
// ends first Submit returns ctx.Err(); the work still runs. A context
// without dispatches returns nil without submitting.
func (c *ComputeContext) Submit(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	c.closed = true
	if c.rec == nil {
		return nil
	}
	ctx, cancel := c.device.engine.waitContext(ctx)
	defer cancel()
	return c.submitAndWait(ctx)
}

func (c *ComputeContext) submitAndWait(ctx context.Context) error {
	d := c.device
	sub, err := c.backend.Submit(c.rec)
	c.rec = nil
	if err != nil {
		return d.wrap("submit", c.generation, err)
	}
	if err := sub.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return d.wrap("wait", c.generation, err)
	}
	slogger().Debug("gpucompute: submission complete",
		slog.Uint64("device", d.id),
		slog.Int("dispatches", c.dispatches))
	return nil
}

// SubmitAsync submits the recorded dispatches from the engine's worker
// pool and returns immediately.
func (c *ComputeContext) SubmitAsync() *Future {
	if err := c.checkOpen(); err != nil {
		return completedFuture(err)
	}
	c.closed = true
	if c.rec == nil {
		return completedFuture(nil)
	}

	f := newFuture()
	e := c.device.engine
	ok := e.pool.Submit(func() {
		ctx, cancel := e.waitContext(context.Background())
		defer cancel()
		f.complete(c.submitAndWait(ctx))
	})
	if !ok {
		c.rec.Discard()
		c.rec = nil
		f.complete(ErrEngineClosed)
	}
	return f
}

// Close submits pending dispatches and waits for them, like Submit with a
// background context. Close is idempotent and returns nil once closed, so
// it can be deferred next to an explicit Submit.
func (c *ComputeContext) Close() error {
	if c.closed {
		return nil
	}
	return c.Submit(context.Background())
}

// discard drops the recording without submitting it.
func (c *ComputeContext) discard() {
	if c.closed {
		return
	}
	c.closed = true
	if c.rec != nil {
		c.rec.Discard()
		c.rec = nil
	}
}
