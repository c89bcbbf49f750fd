// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package webgpu provides a compute backend over wgpu-native through the
// openfluke/webgpu bindings.
//
// The backend is compiled only with the "webgpu" build tag, since the
// bindings load the wgpu-native library at run time:
//
//	// Build with: go build -tags webgpu
//	import _ "github.com/gogpu/gpucompute/backend/webgpu"
//
// Without the tag the package registers a factory that fails with
// backend.ErrBackendNotAvailable, so backend.OpenDefault moves on to the
// next backend.
//
// # Shaders
//
// wgpu-native compiles WGSL itself, so pipelines are created from the
// descriptor source rather than from SPIR-V. Descriptors that only carry
// embedded bytecode fail with ErrNoSource. The bind group layout matches
// the wgpu backend: group 0 holds the resource slots in slot order and
// group 1 binding 0 the uniform block of user constants followed by the
// dispatch size.
//
// # Limitations
//
// Only buffer slots are supported. Texture and sampler slots fail at
// signature creation with ErrUnsupported, and textures cannot be created.
// Double precision is reported unsupported.
package webgpu
