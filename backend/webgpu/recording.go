// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build webgpu

package webgpu

import (
	"fmt"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/gogpu/gpucompute/backend"
)

// recording encodes one compute pass per dispatch. Storage writes of a
// pass are visible to later passes, so barriers need no commands.
type recording struct {
	d       *Device
	encoder *wgpu.CommandEncoder
	closed  bool

	// Per-dispatch objects released when the submission completes.
	uniforms []*wgpu.Buffer
	groups   []*wgpu.BindGroup

	dispatches int
	barriers   int
}

// BeginRecording implements backend.Device.
func (d *Device) BeginRecording() (backend.Recording, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	d.queueMu.Lock()
	encoder, err := d.device.CreateCommandEncoder(nil)
	d.queueMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("webgpu: create command encoder: %w", err)
	}
	return &recording{d: d, encoder: encoder}, nil
}

// Transition implements backend.Recording. wgpu-native tracks buffer
// states itself.
func (r *recording) Transition(backend.Binding, backend.State, backend.State) {}

// Barrier implements backend.Recording.
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
	if !ok || p.pipe == nil {
		return fmt.Errorf("%w: pipeline %T", ErrForeignObject, dd.Pipeline)
	}
	d := r.d

	entries := make([]wgpu.BindGroupEntry, len(dd.Bindings))
	for i, b := range dd.Bindings {
		buf, ok := b.Buffer.(*buffer)
		if !ok || buf.buf == nil {
			return fmt.Errorf("%w: slot %d: %T", ErrUnsupported, b.Slot, b.Buffer)
		}
		entries[i] = wgpu.BindGroupEntry{Binding: b.Slot, Buffer: buf.buf, Offset: 0, Size: buf.buf.GetSize()}
	}
	resources, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   p.label + "_resources",
		Layout:  p.sig.layouts[resourceGroup],
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("webgpu: create resource bind group %s: %w", p.label, err)
	}
	r.groups = append(r.groups, resources)

	ub, err := d.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Contents: packConstants(dd.Constants),
		Usage:    wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("webgpu: create constant buffer %s: %w", p.label, err)
	}
	r.uniforms = append(r.uniforms, ub)
	constants, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  p.label + "_constants",
		Layout: p.sig.layouts[constantGroup],
		Entries: []wgpu.BindGroupEntry{
			{Binding: constantBinding, Buffer: ub, Offset: 0, Size: ub.GetSize()},
		},
	})
	if err != nil {
		return fmt.Errorf("webgpu: create constant bind group %s: %w", p.label, err)
	}
	r.groups = append(r.groups, constants)

	pass := r.encoder.BeginComputePass(nil)
	pass.SetPipeline(p.pipe)
	pass.SetBindGroup(resourceGroup, resources, nil)
	pass.SetBindGroup(constantGroup, constants, nil)
	pass.DispatchWorkgroups(dd.Groups[0], dd.Groups[1], dd.Groups[2])
	pass.End()
	r.dispatches++
	return nil
}

// Discard implements backend.Recording.
func (r *recording) Discard() {
	if r.closed {
		return
	}
	r.closed = true
	r.encoder.Release()
	r.release()
}

// release drops the per-dispatch objects.
func (r *recording) release() {
	for _, bg := range r.groups {
		bg.Release()
	}
	for _, ub := range r.uniforms {
		ub.Destroy()
		ub.Release()
	}
	r.groups, r.uniforms = nil, nil
}
