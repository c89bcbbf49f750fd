// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package shader

import "math"

// DispatchSizeWords is the number of implicit constant words appended after
// the user constants: the X, Y and Z iteration counts of the dispatch.
const DispatchSizeWords = 3

// ConstantWriter packs shader-instance fields into 32-bit words.
//
// Fields are written in declaration order with no padding other than the
// 8-byte alignment of 64-bit values. The zero value is ready to use.
type ConstantWriter struct {
	words []uint32
}

// Reset clears the writer, keeping its storage.
func (w *ConstantWriter) Reset() {
	w.words = w.words[:0]
}

// Uint32 appends an unsigned integer.
func (w *ConstantWriter) Uint32(v uint32) {
	w.words = append(w.words, v)
}

// Int32 appends a signed integer.
func (w *ConstantWriter) Int32(v int32) {
	w.words = append(w.words, uint32(v)) //nolint:gosec // bit reinterpretation
}

// Float32 appends a float.
func (w *ConstantWriter) Float32(v float32) {
	w.words = append(w.words, math.Float32bits(v))
}

// Bool appends a 32-bit boolean (0 or 1), matching HLSL and WGSL layouts.
func (w *ConstantWriter) Bool(v bool) {
	if v {
		w.words = append(w.words, 1)
	} else {
		w.words = append(w.words, 0)
	}
}

// Float64 appends a double, padding to an 8-byte boundary first.
func (w *ConstantWriter) Float64(v float64) {
	if len(w.words)%2 != 0 {
		w.words = append(w.words, 0)
	}
	bits := math.Float64bits(v)
	w.words = append(w.words, uint32(bits), uint32(bits>>32)) //nolint:gosec // split halves
}

// Vec2 appends two floats.
func (w *ConstantWriter) Vec2(x, y float32) {
	w.Float32(x)
	w.Float32(y)
}

// Vec4 appends four floats.
func (w *ConstantWriter) Vec4(x, y, z, v float32) {
	w.Float32(x)
	w.Float32(y)
	w.Float32(z)
	w.Float32(v)
}

// Words returns the packed words. The slice aliases the writer storage.
func (w *ConstantWriter) Words() []uint32 {
	return w.words
}

// Size returns the packed size in bytes.
func (w *ConstantWriter) Size() uint32 {
	return uint32(len(w.words)) * 4 //nolint:gosec // constant buffers are small
}
