// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package software

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpucompute/backend"
)

// buffer is host memory. mu guards data against host reads and writes
// racing with a running submission.
type buffer struct {
	mu   sync.RWMutex
	data []byte
}

func (b *buffer) Size() uint64 { return uint64(len(b.data)) }

type texture struct {
	mu     sync.RWMutex
	width  uint32
	height uint32
	format gputypes.TextureFormat
	data   []byte
}

func (t *texture) Width() uint32                  { return t.width }
func (t *texture) Height() uint32                 { return t.height }
func (t *texture) Format() gputypes.TextureFormat { return t.format }

// CreateBuffer implements backend.Device.
func (d *Device) CreateBuffer(desc backend.BufferDesc) (backend.Buffer, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	return &buffer{data: make([]byte, desc.Size)}, nil
}

// DestroyBuffer implements backend.Device.
func (d *Device) DestroyBuffer(backend.Buffer) {}

// CreateTexture implements backend.Device.
func (d *Device) CreateTexture(desc backend.TextureDesc) (backend.Texture, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	bpp := backend.BytesPerPixel(desc.Format)
	if bpp == 0 {
		return nil, fmt.Errorf("%w: %v", backend.ErrUnsupportedFormat, desc.Format)
	}
	return &texture{
		width:  desc.Width,
		height: desc.Height,
		format: desc.Format,
		data:   make([]byte, int(desc.Width)*int(desc.Height)*int(bpp)),
	}, nil
}

// DestroyTexture implements backend.Device.
func (d *Device) DestroyTexture(backend.Texture) {}

func (d *Device) buffer(b backend.Buffer) (*buffer, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	sb, ok := b.(*buffer)
	if !ok {
		return nil, fmt.Errorf("%w: buffer %T", ErrForeignObject, b)
	}
	return sb, nil
}

func (d *Device) texture(t backend.Texture) (*texture, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	st, ok := t.(*texture)
	if !ok {
		return nil, fmt.Errorf("%w: texture %T", ErrForeignObject, t)
	}
	return st, nil
}

// WriteBuffer implements backend.Device.
func (d *Device) WriteBuffer(b backend.Buffer, offset uint64, data []byte) error {
	sb, err := d.buffer(b)
	if err != nil {
		return err
	}
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if offset+uint64(len(data)) > uint64(len(sb.data)) {
		return fmt.Errorf("%w: write %d bytes at %d into %d", backend.ErrOutOfRange, len(data), offset, len(sb.data))
	}
	copy(sb.data[offset:], data)
	return nil
}

// ReadBuffer implements backend.Device.
func (d *Device) ReadBuffer(b backend.Buffer, offset uint64, data []byte) error {
	sb, err := d.buffer(b)
	if err != nil {
		return err
	}
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	if offset+uint64(len(data)) > uint64(len(sb.data)) {
		return fmt.Errorf("%w: read %d bytes at %d from %d", backend.ErrOutOfRange, len(data), offset, len(sb.data))
	}
	copy(data, sb.data[offset:])
	return nil
}

// WriteTexture implements backend.Device.
func (d *Device) WriteTexture(t backend.Texture, data []byte) error {
	st, err := d.texture(t)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(data) != len(st.data) {
		return fmt.Errorf("%w: texture holds %d bytes, got %d", backend.ErrOutOfRange, len(st.data), len(data))
	}
	copy(st.data, data)
	return nil
}

// ReadTexture implements backend.Device.
func (d *Device) ReadTexture(t backend.Texture, data []byte) error {
	st, err := d.texture(t)
	if err != nil {
		return err
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	if len(data) != len(st.data) {
		return fmt.Errorf("%w: texture holds %d bytes, got %d", backend.ErrOutOfRange, len(st.data), len(data))
	}
	copy(data, st.data)
	return nil
}
