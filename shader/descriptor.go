// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package shader

import (
	"errors"
	"fmt"
)

// Descriptor validation errors.
var (
	// ErrInvalidThreadGroup is returned when a thread-group extent is zero.
	ErrInvalidThreadGroup = errors.New("shader: thread-group extents must be positive")

	// ErrConstantSizeAlignment is returned when ConstantBufferSize is not a multiple of 4.
	ErrConstantSizeAlignment = errors.New("shader: constant buffer size must be a multiple of 4")

	// ErrSlotsNotContiguous is returned when resource slots do not run 0..n-1 in order.
	ErrSlotsNotContiguous = errors.New("shader: resource slots must be contiguous from 0")

	// ErrInvalidRange is returned for a range with an unknown kind or resource type.
	ErrInvalidRange = errors.New("shader: invalid resource range")

	// ErrNoBytecodeSource is returned when neither Source nor EmbeddedBytecode is set.
	ErrNoBytecodeSource = errors.New("shader: descriptor has neither source nor embedded bytecode")
)

// DefaultEntryPoint is the entry point used when Descriptor.EntryPoint is empty.
const DefaultEntryPoint = "main"

// ThreadGroupSize is the number of threads per group along each axis.
type ThreadGroupSize struct {
	X, Y, Z uint32
}

// Threads returns the total number of threads in one group.
func (t ThreadGroupSize) Threads() uint32 {
	return t.X * t.Y * t.Z
}

// String returns "XxYxZ".
func (t ThreadGroupSize) String() string {
	return fmt.Sprintf("%dx%dx%d", t.X, t.Y, t.Z)
}

// ResourceKind is the access class of a binding slot.
type ResourceKind uint8

const (
	// KindConstant is a constant (uniform) buffer bound by the caller.
	KindConstant ResourceKind = iota + 1

	// KindReadOnly is a read-only buffer or sampled texture.
	KindReadOnly

	// KindReadWrite is a read-write (unordered access) buffer or storage texture.
	KindReadWrite

	// KindSampler is a sampler slot.
	KindSampler
)

// String returns the kind name.
func (k ResourceKind) String() string {
	switch k {
	case KindConstant:
		return "Constant"
	case KindReadOnly:
		return "ReadOnly"
	case KindReadWrite:
		return "ReadWrite"
	case KindSampler:
		return "Sampler"
	default:
		return fmt.Sprintf("ResourceKind(%d)", uint8(k))
	}
}

// ResourceType is the shape of the resource exposed through a slot.
type ResourceType uint8

const (
	// ResourceBuffer is a linear buffer.
	ResourceBuffer ResourceType = iota

	// ResourceTexture2D is a two-dimensional texture.
	ResourceTexture2D

	// ResourceNone is used by sampler slots.
	ResourceNone
)

// String returns the resource type name.
func (r ResourceType) String() string {
	switch r {
	case ResourceBuffer:
		return "Buffer"
	case ResourceTexture2D:
		return "Texture2D"
	case ResourceNone:
		return "None"
	default:
		return fmt.Sprintf("ResourceType(%d)", uint8(r))
	}
}

// ResourceRange declares one binding slot of a shader.
type ResourceRange struct {
	Kind     ResourceKind
	Resource ResourceType
	Slot     uint32

	// Count is always 1.
	Count uint32
}

// String returns a compact description such as "t0:ReadOnly Buffer".
func (r ResourceRange) String() string {
	return fmt.Sprintf("%d:%s %s", r.Slot, r.Kind, r.Resource)
}

// Descriptor is the immutable contract describing one shader type.
//
// A Descriptor is built once per shader type, usually in a package-level
// variable, and must not be modified afterwards. Pipeline caches key on the
// shader type, not on the Descriptor value, so mutating a descriptor after
// first dispatch has no effect on already built pipelines.
type Descriptor struct {
	// Name identifies the shader type in labels and errors.
	Name string

	// ThreadGroup is the number of threads per group on each axis.
	ThreadGroup ThreadGroupSize

	// ConstantBufferSize is the size in bytes of the user constants.
	// The dispatch engine appends three 32-bit dispatch-size words after them.
	ConstantBufferSize uint32

	// Ranges lists the binding slots in slot order.
	Ranges []ResourceRange

	RequiresStaticSampler   bool
	RequiresDoublePrecision bool

	// Source is the shader source compiled when EmbeddedBytecode is empty.
	Source string

	// EntryPoint defaults to DefaultEntryPoint.
	EntryPoint string

	// EmbeddedBytecode is a precompiled blob. It is borrowed, never copied.
	EmbeddedBytecode []byte

	// Kernel is the CPU implementation run by the software backend.
	// Nil when the shader has no CPU path.
	Kernel Kernel
}

// Entry returns the entry point, applying the default.
func (d *Descriptor) Entry() string {
	if d.EntryPoint == "" {
		return DefaultEntryPoint
	}
	return d.EntryPoint
}

// ConstantWords returns the number of 32-bit constant words including
// the three implicit dispatch-size words.
func (d *Descriptor) ConstantWords() uint32 {
	return d.ConstantBufferSize/4 + DispatchSizeWords
}

// HasTextures reports whether any range binds a texture.
func (d *Descriptor) HasTextures() bool {
	for _, r := range d.Ranges {
		if r.Resource == ResourceTexture2D {
			return true
		}
	}
	return false
}

// Validate checks the descriptor invariants.
func (d *Descriptor) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil descriptor", ErrInvalidRange)
	}
	if d.ThreadGroup.X == 0 || d.ThreadGroup.Y == 0 || d.ThreadGroup.Z == 0 {
		return fmt.Errorf("%w: %s has %s", ErrInvalidThreadGroup, d.Name, d.ThreadGroup)
	}
	if d.ConstantBufferSize%4 != 0 {
		return fmt.Errorf("%w: %s has %d bytes", ErrConstantSizeAlignment, d.Name, d.ConstantBufferSize)
	}
	if d.Source == "" && len(d.EmbeddedBytecode) == 0 {
		return fmt.Errorf("%w: %s", ErrNoBytecodeSource, d.Name)
	}
	for i, r := range d.Ranges {
		if r.Slot != uint32(i) { //nolint:gosec // slot counts are tiny
			return fmt.Errorf("%w: %s range %d has slot %d", ErrSlotsNotContiguous, d.Name, i, r.Slot)
		}
		if r.Count != 1 {
			return fmt.Errorf("%w: %s slot %d has count %d", ErrInvalidRange, d.Name, r.Slot, r.Count)
		}
		if err := validateRange(r); err != nil {
			return fmt.Errorf("%w: %s slot %d", err, d.Name, r.Slot)
		}
	}
	return nil
}

func validateRange(r ResourceRange) error {
	switch r.Kind {
	case KindSampler:
		if r.Resource != ResourceNone {
			return ErrInvalidRange
		}
	case KindConstant:
		if r.Resource != ResourceBuffer {
			return ErrInvalidRange
		}
	case KindReadOnly, KindReadWrite:
		if r.Resource != ResourceBuffer && r.Resource != ResourceTexture2D {
			return ErrInvalidRange
		}
	default:
		return ErrInvalidRange
	}
	return nil
}
