// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build webgpu

package webgpu

import (
	"fmt"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/gogpu/gpucompute/backend"
)

const bufferUsage = wgpu.BufferUsageStorage | wgpu.BufferUsageUniform |
	wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst

type buffer struct {
	buf  *wgpu.Buffer
	size uint64
}

func (b *buffer) Size() uint64 { return b.size }

// CreateBuffer implements backend.Device. The native size is rounded up
// to a multiple of 4 bytes.
func (d *Device) CreateBuffer(desc backend.BufferDesc) (backend.Buffer, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: desc.Label,
		Size:  max(align4(desc.Size), 4),
		Usage: bufferUsage,
	})
	if err != nil {
		return nil, fmt.Errorf("webgpu: create buffer %s: %w", desc.Label, err)
	}
	return &buffer{buf: buf, size: desc.Size}, nil
}

// DestroyBuffer implements backend.Device.
func (d *Device) DestroyBuffer(b backend.Buffer) {
	if buf, ok := b.(*buffer); ok && buf.buf != nil {
		buf.buf.Destroy()
		buf.buf.Release()
		buf.buf = nil
	}
}

func (d *Device) buffer(b backend.Buffer) (*buffer, error) {
	buf, ok := b.(*buffer)
	if !ok || buf.buf == nil {
		return nil, fmt.Errorf("%w: buffer %T", ErrForeignObject, b)
	}
	return buf, nil
}

// WriteBuffer implements backend.Device. Unaligned writes read back the
// surrounding words first.
func (d *Device) WriteBuffer(b backend.Buffer, offset uint64, data []byte) error {
	if err := d.check(); err != nil {
		return err
	}
	buf, err := d.buffer(b)
	if err != nil {
		return err
	}
	n := uint64(len(data))
	if offset+n > buf.size {
		return fmt.Errorf("%w: write %d bytes at %d into %d", backend.ErrOutOfRange, n, offset, buf.size)
	}
	if n == 0 {
		return nil
	}

	start, size := window(offset, n)
	if start != offset || size != n {
		old, err := d.readBuffer(buf.buf, start, size)
		if err != nil {
			return err
		}
		copy(old[offset-start:], data)
		data = old
		offset = start
	}
	d.queueMu.Lock()
	d.queue.WriteBuffer(buf.buf, offset, data)
	d.queueMu.Unlock()
	return nil
}

// ReadBuffer implements backend.Device.
func (d *Device) ReadBuffer(b backend.Buffer, offset uint64, data []byte) error {
	if err := d.check(); err != nil {
		return err
	}
	buf, err := d.buffer(b)
	if err != nil {
		return err
	}
	n := uint64(len(data))
	if offset+n > buf.size {
		return fmt.Errorf("%w: read %d bytes at %d from %d", backend.ErrOutOfRange, n, offset, buf.size)
	}
	if n == 0 {
		return nil
	}
	start, size := window(offset, n)
	raw, err := d.readBuffer(buf.buf, start, size)
	if err != nil {
		return err
	}
	copy(data, raw[offset-start:])
	return nil
}

// readBuffer copies [offset, offset+size) of src into a staging buffer
// and maps it. offset and size must be 4-byte aligned.
func (d *Device) readBuffer(src *wgpu.Buffer, offset, size uint64) ([]byte, error) {
	staging, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "gpucompute_readback",
		Size:  size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("webgpu: create staging buffer: %w", err)
	}
	defer func() {
		staging.Destroy()
		staging.Release()
	}()

	d.queueMu.Lock()
	enc, err := d.device.CreateCommandEncoder(nil)
	if err != nil {
		d.queueMu.Unlock()
		return nil, fmt.Errorf("webgpu: create command encoder: %w", err)
	}
	enc.CopyBufferToBuffer(src, offset, staging, 0, size)
	cmd, err := enc.Finish(nil)
	enc.Release()
	if err != nil {
		d.queueMu.Unlock()
		return nil, fmt.Errorf("webgpu: finish readback: %w", err)
	}
	d.queue.Submit(cmd)
	cmd.Release()
	d.queueMu.Unlock()

	return d.mapRead(staging, size)
}

// CreateTexture implements backend.Device. Textures are not supported.
func (d *Device) CreateTexture(desc backend.TextureDesc) (backend.Texture, error) {
	return nil, fmt.Errorf("%w: webgpu: texture %s", backend.ErrUnsupportedFormat, desc.Label)
}

// DestroyTexture implements backend.Device.
func (d *Device) DestroyTexture(backend.Texture) {}

// WriteTexture implements backend.Device.
func (d *Device) WriteTexture(t backend.Texture, _ []byte) error {
	return fmt.Errorf("%w: texture %T", ErrForeignObject, t)
}

// ReadTexture implements backend.Device.
func (d *Device) ReadTexture(t backend.Texture, _ []byte) error {
	return fmt.Errorf("%w: texture %T", ErrForeignObject, t)
}
