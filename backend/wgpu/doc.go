// Package wgpu implements backend.Device on top of the gogpu/wgpu HAL.
//
// The device runs compiled SPIR-V through hal compute pipelines. A binding
// signature maps to a pipeline layout with two bind groups:
//
//   - group 0 holds the resource slots at bindings 0..n-1 in slot order
//   - group 1 holds the constants uniform at binding 0 and, when requested,
//     the static linear-clamp sampler at binding 1
//
// Each recorded dispatch gets its own compute pass, which orders storage
// accesses between consecutive dispatches of one recording. Resource bind
// groups are cached per pipeline layout and bound resources and destroyed
// with the resources they reference.
//
// Importing the package registers backend "wgpu", which opens the first
// Vulkan adapter, preferring discrete GPUs:
//
//	import _ "github.com/gogpu/gpucompute/backend/wgpu"
//
// Hosts that already own a device share it with [NewFromProvider].
package wgpu
