// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package shader

import (
	"encoding/binary"
	"math"
)

// Kernel is a CPU implementation of a shader body. It is invoked once per
// thread, including the threads of the last partial group, so kernels must
// bounds-check against Invocation.DispatchSize exactly like GPU code does.
type Kernel func(inv *Invocation)

// Invocation is the per-thread view handed to a Kernel.
type Invocation struct {
	// ID is the global thread id.
	ID [3]uint32

	// Constants holds the user constants followed by the dispatch size.
	Constants []uint32

	// Memory holds the backing bytes of each slot, indexed by slot.
	// Texture slots expose their texels row by row.
	Memory [][]byte

	// Widths holds the texture width of each slot, or 0 for buffers.
	Widths []uint32
}

// DispatchSize returns the X, Y, Z iteration counts of the dispatch.
func (inv *Invocation) DispatchSize() [3]uint32 {
	n := len(inv.Constants)
	return [3]uint32{inv.Constants[n-3], inv.Constants[n-2], inv.Constants[n-1]}
}

// InBounds reports whether ID lies inside the dispatch size.
func (inv *Invocation) InBounds() bool {
	s := inv.DispatchSize()
	return inv.ID[0] < s[0] && inv.ID[1] < s[1] && inv.ID[2] < s[2]
}

// Constant returns user constant word i.
func (inv *Invocation) Constant(i int) uint32 {
	return inv.Constants[i]
}

// ConstantFloat32 returns user constant word i as a float.
func (inv *Invocation) ConstantFloat32(i int) float32 {
	return math.Float32frombits(inv.Constants[i])
}

// Uint32 loads element i of slot as uint32.
func (inv *Invocation) Uint32(slot, i int) uint32 {
	return binary.LittleEndian.Uint32(inv.Memory[slot][i*4:])
}

// SetUint32 stores element i of slot.
func (inv *Invocation) SetUint32(slot, i int, v uint32) {
	binary.LittleEndian.PutUint32(inv.Memory[slot][i*4:], v)
}

// Float32 loads element i of slot as float32.
func (inv *Invocation) Float32(slot, i int) float32 {
	return math.Float32frombits(inv.Uint32(slot, i))
}

// SetFloat32 stores element i of slot.
func (inv *Invocation) SetFloat32(slot, i int, v float32) {
	inv.SetUint32(slot, i, math.Float32bits(v))
}

// Float64 loads element i of slot as float64.
func (inv *Invocation) Float64(slot, i int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(inv.Memory[slot][i*8:]))
}

// SetFloat64 stores element i of slot.
func (inv *Invocation) SetFloat64(slot, i int, v float64) {
	binary.LittleEndian.PutUint64(inv.Memory[slot][i*8:], math.Float64bits(v))
}

// Texel returns the 4-byte RGBA8 texel at (x, y) of a texture slot.
func (inv *Invocation) Texel(slot int, x, y uint32) [4]uint8 {
	off := (y*inv.Widths[slot] + x) * 4
	m := inv.Memory[slot]
	return [4]uint8{m[off], m[off+1], m[off+2], m[off+3]}
}

// SetTexel stores an RGBA8 texel at (x, y) of a texture slot.
func (inv *Invocation) SetTexel(slot int, x, y uint32, c [4]uint8) {
	off := (y*inv.Widths[slot] + x) * 4
	copy(inv.Memory[slot][off:off+4], c[:])
}
