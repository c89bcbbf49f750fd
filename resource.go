// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucompute

import (
	"encoding/binary"
	"fmt"
	"image"
	"math"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"golang.org/x/image/draw"

	"github.com/gogpu/gpucompute/backend"
	"github.com/gogpu/gpucompute/shader"
)

// Resource is a buffer or texture that can be bound to a shader slot.
// It is implemented by *Buffer and *Texture.
type Resource interface {
	// Label returns the debug label.
	Label() string

	// Device returns the allocating device.
	Device() *Device

	// Disposed reports whether Dispose was called.
	Disposed() bool

	base() *resourceBase
}

// resourceBase is the state shared by buffers and textures.
type resourceBase struct {
	kind       string
	label      string
	device     *Device
	generation uint64
	state      atomic.Uint32 // backend.State
	disposed   atomic.Bool
}

func (r *resourceBase) Label() string   { return r.label }
func (r *resourceBase) Device() *Device { return r.device }
func (r *resourceBase) Disposed() bool  { return r.disposed.Load() }
func (r *resourceBase) base() *resourceBase {
	return r
}

// State returns the last recorded usage state.
func (r *resourceBase) State() backend.State {
	return backend.State(r.state.Load()) //nolint:gosec // stored from a State
}

func (r *resourceBase) setState(s backend.State) {
	r.state.Store(uint32(s))
}

// usable fails when the resource or its device generation is gone and
// returns the backend of the resource's generation otherwise.
func (r *resourceBase) usable() (backend.Device, error) {
	if r.disposed.Load() {
		return nil, &UseAfterDisposeError{Resource: r.kind, Label: r.label}
	}
	if err := r.device.check(); err != nil {
		return nil, err
	}
	b, gen := r.device.current()
	if gen != r.generation {
		return nil, &DeviceLostError{DeviceID: r.device.id, Name: r.device.Name()}
	}
	return b, nil
}

// dispose marks the resource disposed and reports whether the backend
// object still belongs to the live generation.
func (r *resourceBase) dispose() (backend.Device, bool) {
	if !r.disposed.CompareAndSwap(false, true) {
		return nil, false
	}
	if r.device.destroyed.Load() {
		return nil, false
	}
	b, gen := r.device.current()
	return b, gen == r.generation
}

// Buffer is a linear GPU buffer.
type Buffer struct {
	resourceBase
	buf    backend.Buffer
	size   uint64
	stride uint32
}

var _ Resource = (*Buffer)(nil)

// Size returns the size in bytes.
func (b *Buffer) Size() uint64 { return b.size }

// Stride returns the element size in bytes, or 0 for raw buffers.
func (b *Buffer) Stride() uint32 { return b.stride }

// Len returns the element count for typed buffers and the byte size otherwise.
func (b *Buffer) Len() int {
	if b.stride == 0 {
		return int(b.size) //nolint:gosec // buffer sizes fit int
	}
	return int(b.size / uint64(b.stride)) //nolint:gosec // buffer sizes fit int
}

// NewBuffer allocates a zeroed buffer of size bytes.
func (d *Device) NewBuffer(label string, size uint64) (*Buffer, error) {
	return d.newBuffer(label, size, 0)
}

func (d *Device) newBuffer(label string, size uint64, stride uint32) (*Buffer, error) {
	if size == 0 {
		return nil, fmt.Errorf("gpucompute: buffer %q: zero size", label)
	}
	if err := d.check(); err != nil {
		return nil, err
	}
	be, gen := d.current()
	buf, err := be.CreateBuffer(backend.BufferDesc{Label: label, Size: size})
	if err != nil {
		return nil, d.wrap("create buffer", gen, err)
	}
	b := &Buffer{buf: buf, size: size, stride: stride}
	b.kind, b.label, b.device, b.generation = "Buffer", label, d, gen
	return b, nil
}

// Element is a fixed-size value that NewBufferFrom can upload.
type Element interface {
	~int32 | ~uint32 | ~float32 | ~int64 | ~uint64 | ~float64
}

// NewBufferFrom allocates a typed buffer holding data.
func NewBufferFrom[T Element](d *Device, label string, data []T) (*Buffer, error) {
	stride := binary.Size(*new(T))
	b, err := d.newBuffer(label, uint64(len(data)*stride), uint32(stride)) //nolint:gosec // element sizes are 4 or 8
	if err != nil {
		return nil, err
	}
	raw, err := binary.Append(nil, binary.LittleEndian, data)
	if err != nil {
		b.Dispose()
		return nil, fmt.Errorf("gpucompute: encode %q: %w", label, err)
	}
	if err := b.Write(0, raw); err != nil {
		b.Dispose()
		return nil, err
	}
	return b, nil
}

// Write uploads data at offset.
func (b *Buffer) Write(offset uint64, data []byte) error {
	be, err := b.usable()
	if err != nil {
		return err
	}
	return b.device.wrap("write buffer", b.generation, be.WriteBuffer(b.buf, offset, data))
}

// Read reads len(data) bytes at offset. It waits for no GPU work itself:
// call it after the dispatches that write the buffer were submitted and
// waited for.
func (b *Buffer) Read(offset uint64, data []byte) error {
	be, err := b.usable()
	if err != nil {
		return err
	}
	return b.device.wrap("read buffer", b.generation, be.ReadBuffer(b.buf, offset, data))
}

// Bytes reads the whole buffer.
func (b *Buffer) Bytes() ([]byte, error) {
	out := make([]byte, b.size)
	if err := b.Read(0, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadFloat32s reads the buffer as little-endian float32 values.
func (b *Buffer) ReadFloat32s() ([]float32, error) {
	words, err := b.ReadUint32s()
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(words))
	for i, w := range words {
		out[i] = math.Float32frombits(w)
	}
	return out, nil
}

// ReadUint32s reads the buffer as little-endian uint32 values.
func (b *Buffer) ReadUint32s() ([]uint32, error) {
	raw, err := b.Bytes()
	if err != nil {
		return nil, err
	}
	out := make([]uint32, len(raw)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return out, nil
}

// Dispose releases the buffer. Dispose is idempotent.
func (b *Buffer) Dispose() {
	if be, ok := b.dispose(); ok {
		be.DestroyBuffer(b.buf)
	}
}

// Texture is a 2D GPU texture.
type Texture struct {
	resourceBase
	tex    backend.Texture
	width  uint32
	height uint32
	format gputypes.TextureFormat
}

var _ Resource = (*Texture)(nil)

// Width returns the width in texels.
func (t *Texture) Width() uint32 { return t.width }

// Height returns the height in texels.
func (t *Texture) Height() uint32 { return t.height }

// Format returns the texel format.
func (t *Texture) Format() gputypes.TextureFormat { return t.format }

// NewTexture allocates a texture usable both as a sampled and a storage texture.
func (d *Device) NewTexture(label string, width, height uint32, format gputypes.TextureFormat) (*Texture, error) {
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("gpucompute: texture %q: zero size %dx%d", label, width, height)
	}
	if err := d.check(); err != nil {
		return nil, err
	}
	be, gen := d.current()
	tex, err := be.CreateTexture(backend.TextureDesc{Label: label, Width: width, Height: height, Format: format})
	if err != nil {
		return nil, d.wrap("create texture", gen, err)
	}
	t := &Texture{tex: tex, width: width, height: height, format: format}
	t.kind, t.label, t.device, t.generation = "Texture", label, d, gen
	return t, nil
}

// NewTextureFromImage allocates an RGBA8 texture holding img.
func (d *Device) NewTextureFromImage(label string, img image.Image) (*Texture, error) {
	bounds := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != bounds.Dx()*4 || bounds.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	}
	t, err := d.NewTexture(label, uint32(bounds.Dx()), uint32(bounds.Dy()), gputypes.TextureFormatRGBA8Unorm) //nolint:gosec // image sizes fit uint32
	if err != nil {
		return nil, err
	}
	if err := t.Write(rgba.Pix); err != nil {
		t.Dispose()
		return nil, err
	}
	return t, nil
}

// Write uploads tightly packed rows.
func (t *Texture) Write(data []byte) error {
	be, err := t.usable()
	if err != nil {
		return err
	}
	return t.device.wrap("write texture", t.generation, be.WriteTexture(t.tex, data))
}

// Read reads back tightly packed rows.
func (t *Texture) Read(data []byte) error {
	be, err := t.usable()
	if err != nil {
		return err
	}
	return t.device.wrap("read texture", t.generation, be.ReadTexture(t.tex, data))
}

// Image reads an RGBA8 or BGRA8 texture back as an image.
func (t *Texture) Image() (*image.RGBA, error) {
	if t.format != gputypes.TextureFormatRGBA8Unorm && t.format != gputypes.TextureFormatBGRA8Unorm {
		return nil, fmt.Errorf("%w: %v has no image form", backend.ErrUnsupportedFormat, t.format)
	}
	img := image.NewRGBA(image.Rect(0, 0, int(t.width), int(t.height)))
	if err := t.Read(img.Pix); err != nil {
		return nil, err
	}
	if t.format == gputypes.TextureFormatBGRA8Unorm {
		for i := 0; i < len(img.Pix); i += 4 {
			img.Pix[i], img.Pix[i+2] = img.Pix[i+2], img.Pix[i]
		}
	}
	return img, nil
}

// Dispose releases the texture. Dispose is idempotent.
func (t *Texture) Dispose() {
	if be, ok := t.dispose(); ok {
		be.DestroyTexture(t.tex)
	}
}

// resourceType returns the slot resource type r binds as.
func resourceType(r Resource) shader.ResourceType {
	switch r.(type) {
	case *Buffer:
		return shader.ResourceBuffer
	case *Texture:
		return shader.ResourceTexture2D
	default:
		return shader.ResourceNone
	}
}
