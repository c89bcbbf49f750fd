// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpucompute/backend"
	"github.com/gogpu/gpucompute/bytecode"
	"github.com/gogpu/gpucompute/shader"
)

// Bind group indices of a binding signature.
const (
	resourceGroup = 0
	constantGroup = 1

	constantBinding = 0
	samplerBinding  = 1
)

// storageFormat is the format of read-write storage texture slots.
const storageFormat = gputypes.TextureFormatRGBA8Unorm

// resourceEntries returns the group 0 layout: one entry per slot.
func resourceEntries(ranges []shader.ResourceRange) ([]gputypes.BindGroupLayoutEntry, error) {
	entries := make([]gputypes.BindGroupLayoutEntry, 0, len(ranges))
	for _, r := range ranges {
		e := gputypes.BindGroupLayoutEntry{Binding: r.Slot, Visibility: gputypes.ShaderStageCompute}
		switch {
		case r.Kind == shader.KindConstant && r.Resource == shader.ResourceBuffer:
			e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}
		case r.Kind == shader.KindReadOnly && r.Resource == shader.ResourceBuffer:
			e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}
		case r.Kind == shader.KindReadWrite && r.Resource == shader.ResourceBuffer:
			e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}
		case r.Kind == shader.KindReadOnly && r.Resource == shader.ResourceTexture2D:
			e.Texture = &gputypes.TextureBindingLayout{
				SampleType:    gputypes.TextureSampleTypeFloat,
				ViewDimension: gputypes.TextureViewDimension2D,
			}
		case r.Kind == shader.KindReadWrite && r.Resource == shader.ResourceTexture2D:
			e.StorageTexture = &gputypes.StorageTextureBindingLayout{
				Access:        gputypes.StorageTextureAccessReadWrite,
				Format:        storageFormat,
				ViewDimension: gputypes.TextureViewDimension2D,
			}
		case r.Kind == shader.KindSampler:
			e.Sampler = &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering}
		default:
			return nil, fmt.Errorf("wgpu: unsupported range %s", r)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// constantEntries returns the group 1 layout.
func constantEntries(staticSampler bool) []gputypes.BindGroupLayoutEntry {
	entries := []gputypes.BindGroupLayoutEntry{{
		Binding:    constantBinding,
		Visibility: gputypes.ShaderStageCompute,
		Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
	}}
	if staticSampler {
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding:    samplerBinding,
			Visibility: gputypes.ShaderStageCompute,
			Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
		})
	}
	return entries
}

// uniformSize returns the byte size of the constants uniform buffer,
// rounded up to the 16-byte uniform alignment.
func uniformSize(words uint32) uint64 {
	return (uint64(words)*4 + 15) &^ 15
}

// packConstants lays out words little-endian in a zeroed block of size bytes.
func packConstants(words []uint32, size uint64) []byte {
	data := make([]byte, size)
	for i, w := range words {
		binary.LittleEndian.PutUint32(data[i*4:], w)
	}
	return data
}

type signature struct {
	id    uint64
	label string
	desc  backend.SignatureDesc

	layouts [2]hal.BindGroupLayout
	layout  hal.PipelineLayout
	sampler hal.Sampler
}

func (s *signature) Label() string { return s.label }

// CreateBindingSignature implements backend.Device.
func (d *Device) CreateBindingSignature(desc backend.SignatureDesc) (backend.Signature, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	entries, err := resourceEntries(desc.Ranges)
	if err != nil {
		return nil, err
	}

	s := &signature{id: d.ids.Add(1), label: desc.Label, desc: desc}
	s.desc.Ranges = append([]shader.ResourceRange(nil), desc.Ranges...)

	s.layouts[resourceGroup], err = d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: desc.Label + "_resources", Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create resource layout %s: %w", desc.Label, err)
	}
	s.layouts[constantGroup], err = d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: desc.Label + "_constants", Entries: constantEntries(desc.StaticSampler),
	})
	if err != nil {
		d.destroySignature(s)
		return nil, fmt.Errorf("wgpu: create constant layout %s: %w", desc.Label, err)
	}
	s.layout, err = d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: desc.Label + "_layout", BindGroupLayouts: s.layouts[:],
	})
	if err != nil {
		d.destroySignature(s)
		return nil, fmt.Errorf("wgpu: create pipeline layout %s: %w", desc.Label, err)
	}
	if desc.StaticSampler || hasSamplerRange(desc.Ranges) {
		s.sampler, err = d.device.CreateSampler(&hal.SamplerDescriptor{
			Label:        desc.Label + "_sampler",
			AddressModeU: gputypes.AddressModeClampToEdge,
			AddressModeV: gputypes.AddressModeClampToEdge,
			AddressModeW: gputypes.AddressModeClampToEdge,
			MagFilter:    gputypes.FilterModeLinear,
			MinFilter:    gputypes.FilterModeLinear,
			MipmapFilter: gputypes.FilterModeLinear,
		})
		if err != nil {
			d.destroySignature(s)
			return nil, fmt.Errorf("wgpu: create sampler %s: %w", desc.Label, err)
		}
	}
	return s, nil
}

// hasSamplerRange reports whether a sampler slot needs the signature sampler.
func hasSamplerRange(ranges []shader.ResourceRange) bool {
	for _, r := range ranges {
		if r.Kind == shader.KindSampler {
			return true
		}
	}
	return false
}

// DestroyBindingSignature implements backend.Device.
func (d *Device) DestroyBindingSignature(sig backend.Signature) {
	if s, ok := sig.(*signature); ok {
		d.destroySignature(s)
	}
}

func (d *Device) destroySignature(s *signature) {
	d.bindGroups.DeleteFunc(func(k bindGroupKey, _ hal.BindGroup) bool { return k.signature == s.id })
	if d.device == nil {
		return
	}
	if s.sampler != nil {
		d.device.DestroySampler(s.sampler)
		s.sampler = nil
	}
	if s.layout != nil {
		d.device.DestroyPipelineLayout(s.layout)
		s.layout = nil
	}
	for i, l := range s.layouts {
		if l != nil {
			d.device.DestroyBindGroupLayout(l)
			s.layouts[i] = nil
		}
	}
}

type pipeline struct {
	label  string
	sig    *signature
	module hal.ShaderModule
	pipe   hal.ComputePipeline
}

func (p *pipeline) Label() string { return p.label }

// CreateComputePipeline implements backend.Device. Code is SPIR-V.
func (d *Device) CreateComputePipeline(desc backend.PipelineDesc) (backend.Pipeline, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	sig, ok := desc.Signature.(*signature)
	if !ok {
		return nil, fmt.Errorf("%w: signature %T", ErrForeignObject, desc.Signature)
	}
	if len(desc.Code)%4 != 0 || len(desc.Code) == 0 {
		return nil, fmt.Errorf("%w: %s: %d bytes", bytecode.ErrMalformedBytecode, desc.Label, len(desc.Code))
	}

	module, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label,
		Source: hal.ShaderSource{SPIRV: bytecode.Words(desc.Code)},
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create shader module %s: %w", desc.Label, err)
	}
	pipe, err := d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   desc.Label,
		Layout:  sig.layout,
		Compute: hal.ComputeState{Module: module, EntryPoint: desc.EntryPoint},
	})
	if err != nil {
		d.device.DestroyShaderModule(module)
		return nil, fmt.Errorf("wgpu: create compute pipeline %s: %w", desc.Label, err)
	}
	slogger().Debug("wgpu: compute pipeline created",
		"shader", desc.Label, "spirv_bytes", len(desc.Code), "thread_group", desc.ThreadGroup.String())
	return &pipeline{label: desc.Label, sig: sig, module: module, pipe: pipe}, nil
}

// DestroyComputePipeline implements backend.Device.
func (d *Device) DestroyComputePipeline(p backend.Pipeline) {
	wp, ok := p.(*pipeline)
	if !ok || d.device == nil {
		return
	}
	if wp.pipe != nil {
		d.device.DestroyComputePipeline(wp.pipe)
		wp.pipe = nil
	}
	if wp.module != nil {
		d.device.DestroyShaderModule(wp.module)
		wp.module = nil
	}
}
