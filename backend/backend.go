// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpucompute/shader"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not available.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrDeviceLost is wrapped by every error caused by a lost or removed device.
	ErrDeviceLost = errors.New("backend: device lost")

	// ErrUnsupportedFormat is returned for texture formats a backend cannot store.
	ErrUnsupportedFormat = errors.New("backend: unsupported texture format")

	// ErrOutOfRange is returned when a read or write exceeds a resource.
	ErrOutOfRange = errors.New("backend: access out of range")
)

// Info describes a device.
type Info struct {
	// Name is the adapter name.
	Name string

	// Backend is the registered backend name, e.g. "wgpu" or "software".
	Backend string

	SupportsDoublePrecision bool

	// MaxThreadGroupSize is the per-axis workgroup size limit.
	MaxThreadGroupSize [3]uint32

	// MaxGroupsPerDimension is the per-axis dispatch group limit.
	// 0 means unlimited.
	MaxGroupsPerDimension uint32
}

// State is the usage state of a resource as seen by the GPU.
type State uint8

const (
	// StateCommon is the state of a freshly created resource.
	StateCommon State = iota

	// StateShaderRead is read-only shader access.
	StateShaderRead

	// StateUnorderedAccess is read-write shader access.
	StateUnorderedAccess

	// StateCopySource is the source of a copy.
	StateCopySource

	// StateCopyDest is the destination of a copy or upload.
	StateCopyDest
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCommon:
		return "Common"
	case StateShaderRead:
		return "ShaderRead"
	case StateUnorderedAccess:
		return "UnorderedAccess"
	case StateCopySource:
		return "CopySource"
	case StateCopyDest:
		return "CopyDest"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Buffer is a backend buffer.
type Buffer interface {
	Size() uint64
}

// Texture is a backend 2D texture.
type Texture interface {
	Width() uint32
	Height() uint32
	Format() gputypes.TextureFormat
}

// Signature is a backend binding signature (root signature or pipeline layout).
type Signature interface {
	Label() string
}

// Pipeline is a backend compute pipeline.
type Pipeline interface {
	Label() string
}

// BufferDesc describes a buffer.
type BufferDesc struct {
	Label string
	Size  uint64
}

// TextureDesc describes a 2D texture.
type TextureDesc struct {
	Label  string
	Width  uint32
	Height uint32
	Format gputypes.TextureFormat
}

// SignatureDesc describes a binding signature.
type SignatureDesc struct {
	Label string

	// Ranges are the resource slots in slot order.
	Ranges []shader.ResourceRange

	// StaticSampler appends a linear-clamp sampler after the constants.
	StaticSampler bool

	// ConstantWords is the number of 32-bit root constants, including the
	// three dispatch-size words.
	ConstantWords uint32
}

// PipelineDesc describes a compute pipeline.
type PipelineDesc struct {
	Label       string
	Signature   Signature
	Code        []byte
	EntryPoint  string
	ThreadGroup shader.ThreadGroupSize

	// Source is the shader source text, for backends that compile WGSL
	// themselves instead of consuming Code.
	Source string

	// Kernel is the CPU body, used only by backends that execute on the host.
	Kernel shader.Kernel
}

// Binding is one validated resource bound to a slot.
type Binding struct {
	Slot     uint32
	Kind     shader.ResourceKind
	Resource shader.ResourceType
	Buffer   Buffer
	Texture  Texture
}

// DispatchDesc is one recorded dispatch.
type DispatchDesc struct {
	Pipeline  Pipeline
	Bindings  []Binding
	Constants []uint32
	Groups    [3]uint32
}

// Recording is an open command list. A Recording is used from one
// goroutine and either submitted once or discarded.
type Recording interface {
	// Transition records a state transition of a bound resource.
	Transition(b Binding, before, after State)

	// Barrier records an unordered-access barrier on the given resources.
	Barrier(bs []Binding)

	// RecordDispatch binds the pipeline, resources and constants and records
	// one dispatch of Groups thread groups.
	RecordDispatch(d DispatchDesc) error

	// Discard drops the recording without submitting it.
	Discard()
}

// Submission is submitted GPU work.
type Submission interface {
	// Wait blocks until the work completes or ctx is done. A ctx error only
	// stops waiting; the work still runs.
	Wait(ctx context.Context) error
}

// Device is the native graphics API contract the compute engine needs.
// All methods are safe for concurrent use except where noted on Recording.
type Device interface {
	Info() Info

	CreateBindingSignature(desc SignatureDesc) (Signature, error)
	DestroyBindingSignature(s Signature)

	CreateComputePipeline(desc PipelineDesc) (Pipeline, error)
	DestroyComputePipeline(p Pipeline)

	CreateBuffer(desc BufferDesc) (Buffer, error)
	DestroyBuffer(b Buffer)
	WriteBuffer(b Buffer, offset uint64, data []byte) error
	ReadBuffer(b Buffer, offset uint64, data []byte) error

	// CreateTexture creates a texture usable as both sampled and storage texture.
	CreateTexture(desc TextureDesc) (Texture, error)
	DestroyTexture(t Texture)

	// WriteTexture uploads tightly packed rows.
	WriteTexture(t Texture, data []byte) error

	// ReadTexture reads back tightly packed rows.
	ReadTexture(t Texture, data []byte) error

	BeginRecording() (Recording, error)

	// Submit closes and submits r. r must not be used afterwards.
	Submit(r Recording) (Submission, error)

	// Destroy releases the device. Resources must be destroyed first.
	Destroy()
}

// BytesPerPixel returns the texel size of the formats backends store,
// or 0 for unsupported formats.
func BytesPerPixel(f gputypes.TextureFormat) uint32 {
	switch f {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatR32Float:
		return 4
	case gputypes.TextureFormatRGBA32Float:
		return 16
	default:
		return 0
	}
}

// TextureSize returns the byte size of tightly packed texture data.
func TextureSize(t Texture) int {
	return int(t.Width()) * int(t.Height()) * int(BytesPerPixel(t.Format()))
}
