// Package backend defines the native graphics API contract used by the
// compute engine.
//
// A [Device] creates binding signatures, compute pipelines, buffers and
// textures, and records dispatches into a [Recording] that is submitted as a
// unit. Implementations live in sub-packages:
//
//   - backend/wgpu: GPU execution through gogpu/wgpu HAL (Vulkan by default)
//   - backend/webgpu: GPU execution through wgpu-native (build tag "webgpu")
//   - backend/software: CPU execution of shader kernels
//
// # Backend Registration
//
// Backends register a [Factory] from init() functions and are selected at
// runtime:
//
//	import _ "github.com/gogpu/gpucompute/backend/software"
//
//	dev, err := backend.Open(backend.BackendSoftware)
//
// [OpenDefault] tries wgpu, then webgpu, and falls back to software.
//
// Errors caused by device loss wrap [ErrDeviceLost].
package backend
