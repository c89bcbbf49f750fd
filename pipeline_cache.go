// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucompute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/gogpu/gpucompute/backend"
	"github.com/gogpu/gpucompute/bytecode"
	"github.com/gogpu/gpucompute/cache"
	"github.com/gogpu/gpucompute/shader"
)

// maxBuildAttempts bounds retries of builds invalidated by a concurrent
// Recover. A build of a lost device is never retried.
const maxBuildAttempts = 3

// pipelineKey identifies a pipeline: one per device generation and shader type.
type pipelineKey struct {
	device     uint64
	generation uint64
	shader     reflect.Type
}

// PipelineEntry is a built pipeline. It exclusively owns its backend
// pipeline and signature and, for compiled shaders, the bytecode.
type PipelineEntry struct {
	key        pipelineKey
	descriptor *shader.Descriptor
	owner      backend.Device
	signature  backend.Signature
	pipeline   backend.Pipeline
	bytecode   *bytecode.Compiled
}

// Descriptor returns the descriptor the entry was built from.
func (e *PipelineEntry) Descriptor() *shader.Descriptor { return e.descriptor }

// Pipeline returns the backend pipeline.
func (e *PipelineEntry) Pipeline() backend.Pipeline { return e.pipeline }

// Signature returns the backend binding signature.
func (e *PipelineEntry) Signature() backend.Signature { return e.signature }

// Bytecode returns the resolved bytecode. Its Code is nil once an owned
// blob was released at teardown.
func (e *PipelineEntry) Bytecode() *bytecode.Compiled { return e.bytecode }

// ShaderType returns the shader type the entry was built for.
func (e *PipelineEntry) ShaderType() reflect.Type { return e.key.shader }

// teardown releases the pipeline, then the signature, then owned bytecode.
func (e *PipelineEntry) teardown() {
	if e.pipeline != nil {
		e.owner.DestroyComputePipeline(e.pipeline)
		e.pipeline = nil
	}
	if e.signature != nil {
		e.owner.DestroyBindingSignature(e.signature)
		e.signature = nil
	}
	e.bytecode.Release()
}

// PipelineCache holds one PipelineEntry per (device, shader type).
//
// Lookups of built pipelines take no lock. Concurrent first use of a key
// runs exactly one build; every caller observes the same entry. Failed
// builds are returned to all waiters and not remembered. Entries live
// until their device is lost, recovered or destroyed; nothing is evicted.
type PipelineCache struct {
	provider *bytecode.Provider
	entries  *cache.ShardedMap[pipelineKey, *PipelineEntry]
}

// NewPipelineCache creates an empty cache resolving bytecode with provider.
func NewPipelineCache(provider *bytecode.Provider) *PipelineCache {
	return &PipelineCache{
		provider: provider,
		entries: cache.NewShardedMap[pipelineKey, *PipelineEntry](nil, func(_ pipelineKey, e *PipelineEntry) {
			e.teardown()
		}),
	}
}

// GetOrCreate returns the entry of shaderType on d, building it from
// factory on first use. factory is called at most once per build.
func (c *PipelineCache) GetOrCreate(d *Device, shaderType reflect.Type, factory func() *shader.Descriptor) (*PipelineEntry, error) {
	for attempt := 1; ; attempt++ {
		if err := d.check(); err != nil {
			return nil, err
		}
		be, gen := d.current()
		key := pipelineKey{device: d.id, generation: gen, shader: shaderType}

		e, err := c.entries.GetOrBuild(key, func() (*PipelineEntry, error) {
			return c.buildCurrent(d, be, key, factory)
		})
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, cache.ErrInvalidated) {
			return nil, err
		}
		slogger().Warn("gpucompute: pipeline build discarded",
			slog.String("shader", shaderType.String()),
			slog.Uint64("device", d.id),
			slog.Uint64("generation", gen))
		if d.IsLost() || attempt == maxBuildAttempts {
			if err := d.check(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("gpucompute: build %s: %w", shaderType, err)
		}
	}
}

// buildCurrent builds key unless d was recovered after key was taken. A
// recovery that lands before the key is in flight never sees it, so the
// stale build is refused here and GetOrCreate retries on the new generation.
func (c *PipelineCache) buildCurrent(d *Device, be backend.Device, key pipelineKey, factory func() *shader.Descriptor) (*PipelineEntry, error) {
	if _, gen := d.current(); gen != key.generation {
		return nil, cache.ErrInvalidated
	}
	return c.build(d, be, key, factory)
}

// build resolves bytecode and creates the signature and pipeline. On
// failure everything created so far is released in teardown order.
func (c *PipelineCache) build(d *Device, be backend.Device, key pipelineKey, factory func() *shader.Descriptor) (*PipelineEntry, error) {
	start := time.Now()
	desc := factory()
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("gpucompute: %s: %w", key.shader, err)
	}

	info := be.Info()
	if err := checkThreadGroup(desc, info); err != nil {
		return nil, err
	}

	compiled, err := c.provider.Resolve(context.Background(), desc)
	if err != nil {
		return nil, err
	}
	e := &PipelineEntry{key: key, descriptor: desc, owner: be, bytecode: compiled}

	needsDoubles := desc.RequiresDoublePrecision || compiled.Reflection.RequiresDoublePrecision
	if needsDoubles && !info.SupportsDoublePrecision {
		e.teardown()
		return nil, fmt.Errorf("%w: %s on %s", ErrDoublePrecisionUnsupported, desc.Name, info.Name)
	}

	e.signature, err = be.CreateBindingSignature(backend.SignatureDesc{
		Label:         desc.Name,
		Ranges:        desc.Ranges,
		StaticSampler: desc.RequiresStaticSampler,
		ConstantWords: desc.ConstantWords(),
	})
	if err != nil {
		e.teardown()
		return nil, d.wrap("create binding signature "+desc.Name, key.generation, err)
	}

	e.pipeline, err = be.CreateComputePipeline(backend.PipelineDesc{
		Label:       desc.Name,
		Signature:   e.signature,
		Code:        compiled.Code,
		EntryPoint:  desc.Entry(),
		Source:      desc.Source,
		ThreadGroup: desc.ThreadGroup,
		Kernel:      desc.Kernel,
	})
	if err != nil {
		e.teardown()
		return nil, d.wrap("create compute pipeline "+desc.Name, key.generation, err)
	}

	slogger().Debug("gpucompute: pipeline built",
		slog.String("shader", desc.Name),
		slog.Uint64("device", key.device),
		slog.Bool("embedded", compiled.Embedded),
		slog.Int("ranges", len(desc.Ranges)),
		slog.Duration("elapsed", time.Since(start)))
	return e, nil
}

func checkThreadGroup(desc *shader.Descriptor, info backend.Info) error {
	limit := info.MaxThreadGroupSize
	if limit == [3]uint32{} {
		return nil
	}
	g := desc.ThreadGroup
	if g.X > limit[0] || g.Y > limit[1] || g.Z > limit[2] {
		return fmt.Errorf("%w: %s has %s, %s allows %dx%dx%d",
			ErrThreadGroupTooLarge, desc.Name, g, info.Name, limit[0], limit[1], limit[2])
	}
	return nil
}

// InvalidateDevice tears down every entry of d, of every generation, and
// makes in-flight builds for d discard their result. It returns the number
// of entries torn down.
func (c *PipelineCache) InvalidateDevice(d *Device) int {
	return c.entries.DeleteKeys(func(k pipelineKey) bool { return k.device == d.id })
}

// Lookup returns the built entry of shaderType on the current generation
// of d without building.
func (c *PipelineCache) Lookup(d *Device, shaderType reflect.Type) (*PipelineEntry, bool) {
	_, gen := d.current()
	return c.entries.Load(pipelineKey{device: d.id, generation: gen, shader: shaderType})
}

// Len returns the number of live entries.
func (c *PipelineCache) Len() int {
	return c.entries.Len()
}

// Stats returns build, hit, wait and discard counters.
func (c *PipelineCache) Stats() cache.Stats {
	return c.entries.Stats()
}
