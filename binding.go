// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucompute

import (
	"fmt"

	"github.com/gogpu/gpucompute/backend"
	"github.com/gogpu/gpucompute/shader"
)

// ResourceHandle is a validated, device-bound reference to a resource.
// It borrows the backend object and is valid for one dispatch.
type ResourceHandle struct {
	Resource Resource

	// State is the usage state observed at validation time.
	State backend.State

	buffer  backend.Buffer
	texture backend.Texture
}

// binding returns the backend binding of h for rng.
func (h ResourceHandle) binding(rng shader.ResourceRange) backend.Binding {
	return backend.Binding{
		Slot:     rng.Slot,
		Kind:     rng.Kind,
		Resource: rng.Resource,
		Buffer:   h.buffer,
		Texture:  h.texture,
	}
}

// Validate checks that r may be bound to a dispatch on d.
//
// It fails with *UseAfterDisposeError when r was disposed, with
// *DeviceMismatchError when r was allocated on another device and with
// *DeviceLostError when r belongs to a lost or replaced generation of d.
func Validate(r Resource, d *Device) (ResourceHandle, error) {
	if r == nil {
		return ResourceHandle{}, ErrMissingResource
	}
	rb := r.base()
	if rb.disposed.Load() {
		return ResourceHandle{}, &UseAfterDisposeError{Resource: rb.kind, Label: rb.label}
	}
	if rb.device != d {
		return ResourceHandle{}, &DeviceMismatchError{
			Resource:       rb.kind,
			Label:          rb.label,
			ResourceDevice: rb.device.String(),
			DispatchDevice: d.String(),
		}
	}
	if err := d.check(); err != nil {
		return ResourceHandle{}, err
	}
	if _, gen := d.current(); gen != rb.generation {
		return ResourceHandle{}, &DeviceLostError{DeviceID: d.id, Name: d.Name()}
	}

	h := ResourceHandle{Resource: r, State: rb.State()}
	switch v := r.(type) {
	case *Buffer:
		h.buffer = v.buf
	case *Texture:
		h.texture = v.tex
	}
	return h, nil
}

// ValidateForWrite validates r like Validate and computes the transition
// into target. before == after means no barrier is needed.
func ValidateForWrite(r Resource, d *Device, target backend.State) (h ResourceHandle, before, after backend.State, err error) {
	h, err = Validate(r, d)
	if err != nil {
		return ResourceHandle{}, 0, 0, err
	}
	return h, h.State, target, nil
}

// rangeState returns the state a range accesses its resource in.
func rangeState(k shader.ResourceKind) backend.State {
	if k == shader.KindReadWrite {
		return backend.StateUnorderedAccess
	}
	return backend.StateShaderRead
}

// boundSlot is one validated slot of a pending dispatch.
type boundSlot struct {
	rng           shader.ResourceRange
	handle        ResourceHandle
	before, after backend.State
}

// bindAll validates resources against the ranges of desc in slot order.
// Nothing is recorded; the first failure aborts the whole dispatch.
func bindAll(d *Device, desc *shader.Descriptor, resources []Resource) ([]boundSlot, error) {
	if len(resources) != len(desc.Ranges) {
		return nil, fmt.Errorf("%w: %s declares %d slots, got %d",
			ErrBindingCount, desc.Name, len(desc.Ranges), len(resources))
	}
	slots := make([]boundSlot, len(desc.Ranges))
	for i, rng := range desc.Ranges {
		r := resources[i]
		slots[i].rng = rng
		if rng.Kind == shader.KindSampler {
			if r != nil {
				return nil, fmt.Errorf("%w: %s slot %d is a sampler, got %s",
					ErrResourceKindMismatch, desc.Name, rng.Slot, r.base().kind)
			}
			continue
		}
		if r == nil {
			return nil, fmt.Errorf("%w: %s slot %d", ErrMissingResource, desc.Name, rng.Slot)
		}
		if got := resourceType(r); got != rng.Resource {
			return nil, fmt.Errorf("%w: %s slot %d wants %s, got %s",
				ErrResourceKindMismatch, desc.Name, rng.Slot, rng.Resource, got)
		}
		h, before, after, err := ValidateForWrite(r, d, rangeState(rng.Kind))
		if err != nil {
			if dm, ok := err.(*DeviceMismatchError); ok {
				dm.Shader = desc.Name
			}
			return nil, err
		}
		slots[i].handle, slots[i].before, slots[i].after = h, before, after
	}
	return slots, nil
}
