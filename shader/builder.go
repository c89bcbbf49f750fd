// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package shader

// Builder assembles a Descriptor. Slots are assigned in call order.
//
// Example:
//
//	var doubleDesc = shader.NewBuilder("Double").
//	    ThreadGroup(64, 1, 1).
//	    ReadWriteBuffer().
//	    Source(doubleWGSL).
//	    MustBuild()
type Builder struct {
	d Descriptor
}

// NewBuilder starts a descriptor with a 1x1x1 thread group.
func NewBuilder(name string) *Builder {
	return &Builder{d: Descriptor{
		Name:        name,
		ThreadGroup: ThreadGroupSize{X: 1, Y: 1, Z: 1},
	}}
}

// ThreadGroup sets the thread-group extents.
func (b *Builder) ThreadGroup(x, y, z uint32) *Builder {
	b.d.ThreadGroup = ThreadGroupSize{X: x, Y: y, Z: z}
	return b
}

// Constants sets the user constant-buffer size in bytes.
func (b *Builder) Constants(size uint32) *Builder {
	b.d.ConstantBufferSize = size
	return b
}

func (b *Builder) add(kind ResourceKind, res ResourceType) *Builder {
	b.d.Ranges = append(b.d.Ranges, ResourceRange{
		Kind:     kind,
		Resource: res,
		Slot:     uint32(len(b.d.Ranges)), //nolint:gosec // slot counts are tiny
		Count:    1,
	})
	return b
}

// ConstantBuffer appends a caller-bound constant buffer slot.
func (b *Builder) ConstantBuffer() *Builder { return b.add(KindConstant, ResourceBuffer) }

// ReadOnlyBuffer appends a read-only buffer slot.
func (b *Builder) ReadOnlyBuffer() *Builder { return b.add(KindReadOnly, ResourceBuffer) }

// ReadWriteBuffer appends a read-write buffer slot.
func (b *Builder) ReadWriteBuffer() *Builder { return b.add(KindReadWrite, ResourceBuffer) }

// ReadOnlyTexture appends a sampled 2D texture slot.
func (b *Builder) ReadOnlyTexture() *Builder { return b.add(KindReadOnly, ResourceTexture2D) }

// ReadWriteTexture appends a storage 2D texture slot.
func (b *Builder) ReadWriteTexture() *Builder { return b.add(KindReadWrite, ResourceTexture2D) }

// StaticSampler requests a linear-clamp static sampler.
func (b *Builder) StaticSampler() *Builder {
	b.d.RequiresStaticSampler = true
	return b
}

// DoublePrecision declares that the shader uses 64-bit floats.
func (b *Builder) DoublePrecision() *Builder {
	b.d.RequiresDoublePrecision = true
	return b
}

// Source sets the shader source text.
func (b *Builder) Source(src string) *Builder {
	b.d.Source = src
	return b
}

// EntryPoint overrides DefaultEntryPoint.
func (b *Builder) EntryPoint(name string) *Builder {
	b.d.EntryPoint = name
	return b
}

// Bytecode sets precompiled bytecode.
func (b *Builder) Bytecode(code []byte) *Builder {
	b.d.EmbeddedBytecode = code
	return b
}

// Kernel sets the CPU implementation.
func (b *Builder) Kernel(k Kernel) *Builder {
	b.d.Kernel = k
	return b
}

// Build validates and returns the descriptor.
func (b *Builder) Build() (*Descriptor, error) {
	d := b.d
	d.Ranges = append([]ResourceRange(nil), b.d.Ranges...)
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// MustBuild is like Build but panics on error. Intended for package-level
// descriptor variables.
func (b *Builder) MustBuild() *Descriptor {
	d, err := b.Build()
	if err != nil {
		panic(err)
	}
	return d
}
