// Package gpucompute turns compute shader descriptors into cached GPU
// pipelines and dispatches them with minimal per-call overhead.
//
// # Overview
//
// A shader type is a Go type implementing [Shader]. Its immutable
// [shader.Descriptor] lists thread-group extents, the constant-buffer size,
// the binding slots and either WGSL source or precompiled SPIR-V. The first
// dispatch of a shader type on a device resolves the bytecode, creates a
// binding signature and a compute pipeline, and publishes them in the
// [PipelineCache]. Later dispatches reuse the entry without locking.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/gpucompute"
//	    _ "github.com/gogpu/gpucompute/backend/software"
//	    _ "github.com/gogpu/gpucompute/backend/wgpu"
//	)
//
//	e := gpucompute.New()
//	defer e.Close()
//
//	dev, err := e.OpenDevice("") // wgpu first, CPU fallback
//	if err != nil {
//	    log.Fatal(err)
//	}
//	buf, _ := gpucompute.NewBufferFrom(dev, "data", values)
//	defer buf.Dispose()
//
//	if err := dev.For(ctx, uint32(len(values)), Double{Data: buf}); err != nil {
//	    log.Fatal(err)
//	}
//	out, _ := buf.ReadFloat32s()
//
// # Dispatch
//
// [Device.For], [Device.For3D] and [Device.ForEach] record one dispatch and
// wait for it. A [ComputeContext] batches many dispatches into a single
// submission, in program order, with explicit [ComputeContext.Barrier]
// points. [ComputeContext.SubmitAsync] returns a [Future] and waits on a
// background worker.
//
// Every resource is validated before anything is recorded: disposed
// resources, resources of another device and resources of a lost device
// generation abort the dispatch.
//
// # Device Loss
//
// A backend error wrapping backend.ErrDeviceLost marks the device lost and
// tears down its pipelines. Every later operation fails with
// [DeviceLostError] until [Device.Recover] installs a replacement backend.
//
// # Logging
//
// gpucompute is silent by default. [SetLogger] enables structured logging
// through log/slog for this package, the bytecode package and the backends.
package gpucompute
