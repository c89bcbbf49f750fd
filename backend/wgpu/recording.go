// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpucompute/backend"
	"github.com/gogpu/gpucompute/shader"
)

// bindGroupKey identifies a cached resource bind group.
type bindGroupKey struct {
	signature uint64
	resources string // comma separated resource ids in slot order
}

func makeBindGroupKey(sig uint64, ids []uint64) bindGroupKey {
	var sb strings.Builder
	for i, id := range ids {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatUint(id, 10))
	}
	return bindGroupKey{signature: sig, resources: sb.String()}
}

// references reports whether the bind group binds resource id.
func (k bindGroupKey) references(id uint64) bool {
	s := strconv.FormatUint(id, 10)
	for part := range strings.SplitSeq(k.resources, ",") {
		if part == s {
			return true
		}
	}
	return false
}

// stateUsage maps a resource state to the texture usage of a barrier.
func stateUsage(s backend.State) gputypes.TextureUsage {
	switch s {
	case backend.StateShaderRead:
		return gputypes.TextureUsageTextureBinding
	case backend.StateUnorderedAccess:
		return gputypes.TextureUsageStorageBinding
	case backend.StateCopySource:
		return gputypes.TextureUsageCopySrc
	case backend.StateCopyDest:
		return gputypes.TextureUsageCopyDst
	default:
		return gputypes.TextureUsage(0)
	}
}

// recording encodes one compute pass per dispatch. The pass boundary
// orders storage writes of one dispatch before reads of the next.
type recording struct {
	d       *Device
	encoder hal.CommandEncoder
	closed  bool

	// Per-dispatch objects released when the submission completes.
	uniforms []hal.Buffer
	groups   []hal.BindGroup

	dispatches  int
	transitions int
	barriers    int

	// working is true while the recording holds a reference that defers
	// destruction of evicted bind groups.
	working bool
}

// BeginRecording implements backend.Device.
func (d *Device) BeginRecording() (backend.Recording, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "gpucompute"})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("gpucompute"); err != nil {
		return nil, fmt.Errorf("wgpu: begin encoding: %w", err)
	}
	return d.newRecording(encoder), nil
}

// newRecording wraps encoder. Bind groups evicted from the cache stay
// alive until the recording is discarded or its submission completes.
func (d *Device) newRecording(encoder hal.CommandEncoder) *recording {
	d.beginWork()
	return &recording{d: d, encoder: encoder, working: true}
}

// Transition implements backend.Recording. Buffers need no transition.
func (r *recording) Transition(b backend.Binding, before, after backend.State) {
	if r.closed || before == after {
		return
	}
	t, ok := b.Texture.(*texture)
	if !ok || t.tex == nil {
		return
	}
	r.encoder.TransitionTextures([]hal.TextureBarrier{{
		Texture: t.tex,
		Usage: hal.TextureUsageTransition{
			OldUsage: stateUsage(before),
			NewUsage: stateUsage(after),
		},
	}})
	r.transitions++
}

// Barrier implements backend.Recording. Dispatches run in separate
// passes, which already synchronize storage access.
func (r *recording) Barrier(bs []backend.Binding) {
	if r.closed || len(bs) == 0 {
		return
	}
	r.barriers++
}

// RecordDispatch implements backend.Recording.
func (r *recording) RecordDispatch(dd backend.DispatchDesc) error {
	if r.closed {
		return ErrRecordingClosed
	}
	p, ok := dd.Pipeline.(*pipeline)
	if !ok {
		return fmt.Errorf("%w: pipeline %T", ErrForeignObject, dd.Pipeline)
	}
	if p.pipe == nil {
		return fmt.Errorf("wgpu: pipeline %s destroyed", p.label)
	}
	d := r.d

	resources, err := d.resourceGroup(p.sig, dd.Bindings)
	if err != nil {
		return err
	}
	constants, err := r.constantGroup(p.sig, dd.Constants)
	if err != nil {
		return err
	}

	pass := r.encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: p.label})
	pass.SetPipeline(p.pipe)
	pass.SetBindGroup(resourceGroup, resources, nil)
	pass.SetBindGroup(constantGroup, constants, nil)
	pass.Dispatch(dd.Groups[0], dd.Groups[1], dd.Groups[2])
	pass.End()
	r.dispatches++
	return nil
}

// resourceGroup returns the cached group 0 bind group for bs.
func (d *Device) resourceGroup(sig *signature, bs []backend.Binding) (hal.BindGroup, error) {
	ids := make([]uint64, len(bs))
	entries := make([]gputypes.BindGroupEntry, len(bs))
	for i, b := range bs {
		switch b.Resource {
		case shader.ResourceBuffer:
			buf, ok := b.Buffer.(*buffer)
			if !ok || buf.buf == nil {
				return nil, fmt.Errorf("%w: slot %d buffer %T", ErrForeignObject, b.Slot, b.Buffer)
			}
			ids[i] = buf.id
			entries[i] = gputypes.BindGroupEntry{
				Binding:  b.Slot,
				Resource: gputypes.BufferBinding{Buffer: buf.buf.NativeHandle(), Offset: 0, Size: max(align4(buf.size), 4)},
			}
		case shader.ResourceTexture2D:
			tex, ok := b.Texture.(*texture)
			if !ok || tex.view == nil {
				return nil, fmt.Errorf("%w: slot %d texture %T", ErrForeignObject, b.Slot, b.Texture)
			}
			ids[i] = tex.id
			entries[i] = gputypes.BindGroupEntry{
				Binding:  b.Slot,
				Resource: gputypes.TextureViewBinding{TextureView: uintptr(tex.view.NativeHandle())},
			}
		case shader.ResourceNone:
			// Sampler slots bind the signature's linear-clamp sampler.
			entries[i] = gputypes.BindGroupEntry{
				Binding:  b.Slot,
				Resource: gputypes.SamplerBinding{Sampler: uintptr(sig.sampler.NativeHandle())},
			}
		default:
			return nil, fmt.Errorf("wgpu: slot %d: unsupported resource %v", b.Slot, b.Resource)
		}
	}

	key := makeBindGroupKey(sig.id, ids)
	return d.bindGroups.GetOrCreate(key, func() (hal.BindGroup, error) {
		bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
			Label:   sig.label + "_resources",
			Layout:  sig.layouts[resourceGroup],
			Entries: entries,
		})
		if err != nil {
			return nil, fmt.Errorf("wgpu: create resource bind group %s: %w", sig.label, err)
		}
		return bg, nil
	})
}

// constantGroup uploads the constants into a fresh uniform buffer and
// returns the group 1 bind group referencing it.
func (r *recording) constantGroup(sig *signature, constants []uint32) (hal.BindGroup, error) {
	d := r.d
	size := max(uniformSize(uint32(len(constants))), 16)
	ub, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: sig.label + "_constants",
		Size:  size,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create constant buffer %s: %w", sig.label, err)
	}
	r.uniforms = append(r.uniforms, ub)

	d.queueMu.Lock()
	d.queue.WriteBuffer(ub, 0, packConstants(constants, size))
	d.queueMu.Unlock()

	entries := []gputypes.BindGroupEntry{{
		Binding:  constantBinding,
		Resource: gputypes.BufferBinding{Buffer: ub.NativeHandle(), Offset: 0, Size: size},
	}}
	if sig.desc.StaticSampler {
		entries = append(entries, gputypes.BindGroupEntry{
			Binding:  samplerBinding,
			Resource: gputypes.SamplerBinding{Sampler: uintptr(sig.sampler.NativeHandle())},
		})
	}
	bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   sig.label + "_constants",
		Layout:  sig.layouts[constantGroup],
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create constant bind group %s: %w", sig.label, err)
	}
	r.groups = append(r.groups, bg)
	return bg, nil
}

// Discard implements backend.Recording.
func (r *recording) Discard() {
	if r.closed {
		return
	}
	r.closed = true
	r.encoder.DiscardEncoding()
	r.release()
}

// release destroys the per-dispatch objects and drops the recording's
// hold on evicted bind groups.
func (r *recording) release() {
	d := r.d
	if d.device != nil {
		for _, bg := range r.groups {
			d.device.DestroyBindGroup(bg)
		}
		for _, ub := range r.uniforms {
			d.device.DestroyBuffer(ub)
		}
	}
	r.groups, r.uniforms = nil, nil
	if r.working {
		r.working = false
		d.endWork()
	}
}
