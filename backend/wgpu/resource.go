// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpucompute/backend"
)

// copyRowAlignment is the required BytesPerRow alignment of texture copies.
const copyRowAlignment = 256

const bufferUsage = gputypes.BufferUsageStorage | gputypes.BufferUsageUniform |
	gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst

const textureUsage = gputypes.TextureUsageTextureBinding | gputypes.TextureUsageStorageBinding |
	gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst

type buffer struct {
	id   uint64
	buf  hal.Buffer
	size uint64
}

func (b *buffer) Size() uint64 { return b.size }

type texture struct {
	id     uint64
	tex    hal.Texture
	view   hal.TextureView
	width  uint32
	height uint32
	format gputypes.TextureFormat
}

func (t *texture) Width() uint32                  { return t.width }
func (t *texture) Height() uint32                 { return t.height }
func (t *texture) Format() gputypes.TextureFormat { return t.format }

// align4 rounds n up to a multiple of 4, the granularity of buffer copies.
func align4(n uint64) uint64 { return (n + 3) &^ 3 }

// alignedBytesPerRow returns the padded row pitch of a texture readback.
func alignedBytesPerRow(width, bpp uint32) uint32 {
	return (width*bpp + copyRowAlignment - 1) &^ (copyRowAlignment - 1)
}

// CreateBuffer implements backend.Device.
func (d *Device) CreateBuffer(desc backend.BufferDesc) (backend.Buffer, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  max(align4(desc.Size), 4),
		Usage: bufferUsage,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create buffer %s: %w", desc.Label, err)
	}
	return &buffer{id: d.ids.Add(1), buf: buf, size: desc.Size}, nil
}

// DestroyBuffer implements backend.Device. Cached bind groups that
// reference the buffer are destroyed first.
func (d *Device) DestroyBuffer(b backend.Buffer) {
	wb, ok := b.(*buffer)
	if !ok || wb.buf == nil {
		return
	}
	d.bindGroups.DeleteFunc(func(k bindGroupKey, _ hal.BindGroup) bool { return k.references(wb.id) })
	if d.device != nil {
		d.device.DestroyBuffer(wb.buf)
	}
	wb.buf = nil
}

// CreateTexture implements backend.Device.
func (d *Device) CreateTexture(desc backend.TextureDesc) (backend.Texture, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if backend.BytesPerPixel(desc.Format) == 0 {
		return nil, fmt.Errorf("%w: %v", backend.ErrUnsupportedFormat, desc.Format)
	}
	tex, err := d.device.CreateTexture(&hal.TextureDescriptor{
		Label:         desc.Label,
		Size:          hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        desc.Format,
		Usage:         textureUsage,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create texture %s: %w", desc.Label, err)
	}
	view, err := d.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         desc.Label + "_view",
		Format:        desc.Format,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		d.device.DestroyTexture(tex)
		return nil, fmt.Errorf("wgpu: create texture view %s: %w", desc.Label, err)
	}
	return &texture{
		id: d.ids.Add(1), tex: tex, view: view,
		width: desc.Width, height: desc.Height, format: desc.Format,
	}, nil
}

// DestroyTexture implements backend.Device.
func (d *Device) DestroyTexture(t backend.Texture) {
	wt, ok := t.(*texture)
	if !ok || wt.tex == nil {
		return
	}
	d.bindGroups.DeleteFunc(func(k bindGroupKey, _ hal.BindGroup) bool { return k.references(wt.id) })
	if d.device != nil {
		d.device.DestroyTextureView(wt.view)
		d.device.DestroyTexture(wt.tex)
	}
	wt.view, wt.tex = nil, nil
}

func (d *Device) buffer(b backend.Buffer) (*buffer, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	wb, ok := b.(*buffer)
	if !ok {
		return nil, fmt.Errorf("%w: buffer %T", ErrForeignObject, b)
	}
	return wb, nil
}

func (d *Device) texture(t backend.Texture) (*texture, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	wt, ok := t.(*texture)
	if !ok {
		return nil, fmt.Errorf("%w: texture %T", ErrForeignObject, t)
	}
	return wt, nil
}

// WriteBuffer implements backend.Device. Writes are padded to 4 bytes by
// preserving the bytes past the end of data.
func (d *Device) WriteBuffer(b backend.Buffer, offset uint64, data []byte) error {
	wb, err := d.buffer(b)
	if err != nil {
		return err
	}
	if offset+uint64(len(data)) > wb.size {
		return fmt.Errorf("%w: write %d bytes at %d into %d", backend.ErrOutOfRange, len(data), offset, wb.size)
	}
	if offset%4 != 0 || len(data)%4 != 0 {
		return d.writeUnaligned(wb, offset, data)
	}
	d.queueMu.Lock()
	d.queue.WriteBuffer(wb.buf, offset, data)
	d.queueMu.Unlock()
	return nil
}

// writeUnaligned widens the write to 4-byte boundaries with a read-modify-write.
func (d *Device) writeUnaligned(wb *buffer, offset uint64, data []byte) error {
	start := offset &^ 3
	end := align4(offset + uint64(len(data)))
	window := make([]byte, end-start)
	if err := d.readBuffer(wb, start, window); err != nil {
		return err
	}
	copy(window[offset-start:], data)
	d.queueMu.Lock()
	d.queue.WriteBuffer(wb.buf, start, window)
	d.queueMu.Unlock()
	return nil
}

// ReadBuffer implements backend.Device.
func (d *Device) ReadBuffer(b backend.Buffer, offset uint64, data []byte) error {
	wb, err := d.buffer(b)
	if err != nil {
		return err
	}
	if offset+uint64(len(data)) > wb.size {
		return fmt.Errorf("%w: read %d bytes at %d from %d", backend.ErrOutOfRange, len(data), offset, wb.size)
	}
	start := offset &^ 3
	end := align4(offset + uint64(len(data)))
	if start == offset && end == offset+uint64(len(data)) {
		return d.readBuffer(wb, offset, data)
	}
	window := make([]byte, end-start)
	if err := d.readBuffer(wb, start, window); err != nil {
		return err
	}
	copy(data, window[offset-start:])
	return nil
}

// readBuffer copies an aligned range through a staging buffer.
func (d *Device) readBuffer(wb *buffer, offset uint64, data []byte) error {
	size := uint64(len(data))
	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "gpucompute_readback", Size: size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("wgpu: create staging buffer: %w", err)
	}
	defer d.device.DestroyBuffer(staging)

	err = d.runCopy("gpucompute_read_buffer", func(enc hal.CommandEncoder) {
		enc.CopyBufferToBuffer(wb.buf, staging, []hal.BufferCopy{{SrcOffset: offset, DstOffset: 0, Size: size}})
	})
	if err != nil {
		return err
	}
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	if err := d.queue.ReadBuffer(staging, 0, data); err != nil {
		return fmt.Errorf("wgpu: readback: %w", err)
	}
	return nil
}

// WriteTexture implements backend.Device.
func (d *Device) WriteTexture(t backend.Texture, data []byte) error {
	wt, err := d.texture(t)
	if err != nil {
		return err
	}
	if len(data) != backend.TextureSize(wt) {
		return fmt.Errorf("%w: texture holds %d bytes, got %d", backend.ErrOutOfRange, backend.TextureSize(wt), len(data))
	}
	bpp := backend.BytesPerPixel(wt.format)
	d.queueMu.Lock()
	d.queue.WriteTexture(
		&hal.ImageCopyTexture{Texture: wt.tex, MipLevel: 0},
		data,
		&hal.ImageDataLayout{Offset: 0, BytesPerRow: wt.width * bpp, RowsPerImage: wt.height},
		&hal.Extent3D{Width: wt.width, Height: wt.height, DepthOrArrayLayers: 1},
	)
	d.queueMu.Unlock()
	return nil
}

// ReadTexture implements backend.Device. Rows are copied with a 256-byte
// aligned pitch and repacked tightly into data.
func (d *Device) ReadTexture(t backend.Texture, data []byte) error {
	wt, err := d.texture(t)
	if err != nil {
		return err
	}
	if len(data) != backend.TextureSize(wt) {
		return fmt.Errorf("%w: texture holds %d bytes, got %d", backend.ErrOutOfRange, backend.TextureSize(wt), len(data))
	}
	bpp := backend.BytesPerPixel(wt.format)
	pitch := alignedBytesPerRow(wt.width, bpp)
	size := uint64(pitch) * uint64(wt.height)

	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "gpucompute_texture_readback", Size: size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("wgpu: create staging buffer: %w", err)
	}
	defer d.device.DestroyBuffer(staging)

	err = d.runCopy("gpucompute_read_texture", func(enc hal.CommandEncoder) {
		enc.CopyTextureToBuffer(wt.tex, staging, []hal.BufferTextureCopy{{
			BufferLayout: hal.ImageDataLayout{Offset: 0, BytesPerRow: pitch, RowsPerImage: wt.height},
			TextureBase:  hal.ImageCopyTexture{Texture: wt.tex, MipLevel: 0},
			Size:         hal.Extent3D{Width: wt.width, Height: wt.height, DepthOrArrayLayers: 1},
		}})
	})
	if err != nil {
		return err
	}

	padded := make([]byte, size)
	d.queueMu.Lock()
	err = d.queue.ReadBuffer(staging, 0, padded)
	d.queueMu.Unlock()
	if err != nil {
		return fmt.Errorf("wgpu: readback: %w", err)
	}
	unpackRows(data, padded, int(wt.width*bpp), int(pitch), int(wt.height))
	return nil
}

// unpackRows copies height rows of rowBytes from a pitched source.
func unpackRows(dst, src []byte, rowBytes, pitch, height int) {
	for y := range height {
		copy(dst[y*rowBytes:(y+1)*rowBytes], src[y*pitch:y*pitch+rowBytes])
	}
}

// runCopy encodes one copy command and waits for it.
func (d *Device) runCopy(label string, encode func(hal.CommandEncoder)) error {
	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(label); err != nil {
		return fmt.Errorf("wgpu: begin encoding: %w", err)
	}
	encode(encoder)
	cmd, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("wgpu: end encoding: %w", err)
	}
	defer d.device.FreeCommandBuffer(cmd)

	fence, err := d.device.CreateFence()
	if err != nil {
		return fmt.Errorf("wgpu: create fence: %w", err)
	}
	defer d.device.DestroyFence(fence)

	d.queueMu.Lock()
	err = d.queue.Submit([]hal.CommandBuffer{cmd}, fence, 1)
	d.queueMu.Unlock()
	if err != nil {
		return d.markLost("submit", err)
	}
	ok, err := d.device.Wait(fence, 1, d.cfg.Timeout)
	if err != nil {
		return d.markLost("wait", err)
	}
	if !ok {
		return d.markLost("wait", fmt.Errorf("%w after %v", ErrTimeout, d.cfg.Timeout))
	}
	return nil
}
