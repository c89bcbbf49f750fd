// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucompute

import (
	"fmt"

	"github.com/gogpu/gpucompute/shader"
)

// Shader is a shader instance: the per-dispatch values of one shader type.
//
// The concrete Go type is the shader type: pipelines are cached per
// (device, reflect.TypeOf(shader)). Descriptor must return the same
// descriptor for every instance of a type, usually a package-level value.
//
// Example:
//
//	var doubleDesc = shader.NewBuilder("Double").
//		ThreadGroup(64, 1, 1).
//		ReadWriteBuffer().
//		Source(doubleWGSL).
//		MustBuild()
//
//	type Double struct{ Data *gpucompute.Buffer }
//
//	func (Double) Descriptor() *shader.Descriptor          { return doubleDesc }
//	func (s Double) Resources() []gpucompute.Resource      { return []gpucompute.Resource{s.Data} }
//	func (Double) WriteConstants(*shader.ConstantWriter)   {}
type Shader interface {
	// Descriptor returns the immutable descriptor of the shader type.
	Descriptor() *shader.Descriptor

	// Resources returns the resources bound to the descriptor's slots in
	// slot order, with nil at sampler slots. Under ForEach the target
	// texture occupies slot 0 and Resources supplies slots 1 and up.
	Resources() []Resource

	// WriteConstants writes the user constants in declaration order. The
	// written size must equal Descriptor().ConstantBufferSize.
	WriteConstants(w *shader.ConstantWriter)
}

// GroupCount returns ceil(iterations / extent) without overflowing near
// math.MaxUint32.
func GroupCount(iterations, extent uint32) uint32 {
	n := iterations / extent
	if iterations%extent != 0 {
		n++
	}
	return n
}

// groupCounts returns the thread groups covering x, y, z iterations.
func groupCounts(g shader.ThreadGroupSize, x, y, z uint32) [3]uint32 {
	return [3]uint32{GroupCount(x, g.X), GroupCount(y, g.Y), GroupCount(z, g.Z)}
}

// checkGroups rejects group counts above the device's per-axis limit.
func checkGroups(groups [3]uint32, limit uint32) error {
	if limit == 0 {
		return nil
	}
	for _, n := range groups {
		if n > limit {
			return fmt.Errorf("%w: %dx%dx%d groups exceed the limit of %d per axis",
				ErrInvalidIterationCount, groups[0], groups[1], groups[2], limit)
		}
	}
	return nil
}
