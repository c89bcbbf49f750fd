// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build webgpu

package webgpu

import (
	"fmt"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/gogpu/gpucompute/backend"
	"github.com/gogpu/gpucompute/shader"
)

type signature struct {
	label   string
	desc    backend.SignatureDesc
	layouts [2]*wgpu.BindGroupLayout
	layout  *wgpu.PipelineLayout
}

func (s *signature) Label() string { return s.label }

// CreateBindingSignature implements backend.Device.
func (d *Device) CreateBindingSignature(desc backend.SignatureDesc) (backend.Signature, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if err := checkRanges(desc.Ranges); err != nil {
		return nil, err
	}

	entries := make([]wgpu.BindGroupLayoutEntry, len(desc.Ranges))
	for i, r := range desc.Ranges {
		typ := wgpu.BufferBindingTypeStorage
		switch r.Kind {
		case shader.KindReadOnly:
			typ = wgpu.BufferBindingTypeReadOnlyStorage
		case shader.KindConstant:
			typ = wgpu.BufferBindingTypeUniform
		}
		entries[i] = wgpu.BindGroupLayoutEntry{
			Binding:    r.Slot,
			Visibility: wgpu.ShaderStageCompute,
			Buffer:     wgpu.BufferBindingLayout{Type: typ},
		}
	}

	s := &signature{label: desc.Label, desc: desc}
	var err error
	s.layouts[resourceGroup], err = d.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   desc.Label + "_resources",
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("webgpu: create resource layout %s: %w", desc.Label, err)
	}
	s.layouts[constantGroup], err = d.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: desc.Label + "_constants",
		Entries: []wgpu.BindGroupLayoutEntry{{
			Binding:    constantBinding,
			Visibility: wgpu.ShaderStageCompute,
			Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform},
		}},
	})
	if err != nil {
		d.destroySignature(s)
		return nil, fmt.Errorf("webgpu: create constant layout %s: %w", desc.Label, err)
	}
	s.layout, err = d.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            desc.Label + "_layout",
		BindGroupLayouts: s.layouts[:],
	})
	if err != nil {
		d.destroySignature(s)
		return nil, fmt.Errorf("webgpu: create pipeline layout %s: %w", desc.Label, err)
	}
	return s, nil
}

// DestroyBindingSignature implements backend.Device.
func (d *Device) DestroyBindingSignature(sig backend.Signature) {
	if s, ok := sig.(*signature); ok {
		d.destroySignature(s)
	}
}

func (d *Device) destroySignature(s *signature) {
	if s.layout != nil {
		s.layout.Release()
		s.layout = nil
	}
	for i, l := range s.layouts {
		if l != nil {
			l.Release()
			s.layouts[i] = nil
		}
	}
}

type pipeline struct {
	label string
	sig   *signature
	pipe  *wgpu.ComputePipeline
}

func (p *pipeline) Label() string { return p.label }

// CreateComputePipeline implements backend.Device. The pipeline is
// compiled from desc.Source; desc.Code is ignored.
func (d *Device) CreateComputePipeline(desc backend.PipelineDesc) (backend.Pipeline, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	sig, ok := desc.Signature.(*signature)
	if !ok || sig.layout == nil {
		return nil, fmt.Errorf("%w: signature %T", ErrForeignObject, desc.Signature)
	}
	if desc.Source == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoSource, desc.Label)
	}

	module, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          desc.Label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: desc.Source},
	})
	if err != nil {
		return nil, fmt.Errorf("webgpu: create shader module %s: %w", desc.Label, err)
	}
	defer module.Release()

	pipe, err := d.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  desc.Label,
		Layout: sig.layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: desc.EntryPoint,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("webgpu: create compute pipeline %s: %w", desc.Label, err)
	}
	return &pipeline{label: desc.Label, sig: sig, pipe: pipe}, nil
}

// DestroyComputePipeline implements backend.Device.
func (d *Device) DestroyComputePipeline(p backend.Pipeline) {
	if pp, ok := p.(*pipeline); ok && pp.pipe != nil {
		pp.pipe.Release()
		pp.pipe = nil
	}
}
