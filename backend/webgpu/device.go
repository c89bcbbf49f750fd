// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build webgpu

package webgpu

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/gogpu/gpucompute/backend"
)

// Default configuration values.
const (
	// DefaultTimeout bounds one wait for submitted work.
	DefaultTimeout = 5 * time.Second

	pollInterval = time.Millisecond
)

// Config configures device creation.
type Config struct {
	// LowPower requests the low-power adapter instead of the
	// high-performance one.
	LowPower bool

	// Timeout bounds one wait for submitted work. Defaults to DefaultTimeout.
	Timeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}

func init() {
	backend.Register(backend.BackendWebGPU, func() (backend.Device, error) {
		return New(Config{})
	})
}

// Device is a backend.Device over a wgpu-native device.
//
// Thread Safety: Device is safe for concurrent use. Encoder creation and
// queue operations are serialized by an internal mutex.
type Device struct {
	cfg    Config
	name   string
	limits [3]uint32
	groups uint32

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	// marker is copied into a mappable buffer at the end of every
	// submission; mapping it completes once the submission has run.
	marker *wgpu.Buffer

	queueMu sync.Mutex
	lost    atomic.Bool
}

var _ backend.Device = (*Device)(nil)

// New opens a device on the preferred adapter.
func New(cfg Config) (*Device, error) {
	cfg.applyDefaults()

	instance := wgpu.CreateInstance(nil)
	if instance == nil {
		return nil, fmt.Errorf("%w: webgpu: create instance", backend.ErrBackendNotAvailable)
	}
	pref := wgpu.PowerPreferenceHighPerformance
	if cfg.LowPower {
		pref = wgpu.PowerPreferenceLowPower
	}
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{PowerPreference: pref})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("%w: %w", ErrNoAdapter, err)
	}
	if adapter == nil {
		instance.Release()
		return nil, ErrNoAdapter
	}

	info := adapter.GetInfo()
	limits := adapter.GetLimits()
	device, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: request device: %w", err)
	}

	d := &Device{
		cfg:  cfg,
		name: strings.TrimSpace(info.Name),
		limits: [3]uint32{
			limits.Limits.MaxComputeWorkgroupSizeX,
			limits.Limits.MaxComputeWorkgroupSizeY,
			limits.Limits.MaxComputeWorkgroupSizeZ,
		},
		groups:   limits.Limits.MaxComputeWorkgroupsPerDimension,
		instance: instance,
		adapter:  adapter,
		device:   device,
		queue:    device.GetQueue(),
	}
	d.marker, err = device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "gpucompute_marker",
		Size:  4,
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc,
	})
	if err != nil {
		d.Destroy()
		return nil, fmt.Errorf("webgpu: create marker buffer: %w", err)
	}

	slogger().Info("webgpu: device opened",
		slog.String("adapter", d.name),
		slog.String("vendor", info.VendorName))
	return d, nil
}

// Info implements backend.Device.
func (d *Device) Info() backend.Info {
	return backend.Info{
		Name:                  d.name,
		Backend:               backend.BackendWebGPU,
		MaxThreadGroupSize:    d.limits,
		MaxGroupsPerDimension: d.groups,
	}
}

// SetLogger sets the logger for the webgpu backend.
func (d *Device) SetLogger(l *slog.Logger) {
	SetLogger(l)
}

func (d *Device) check() error {
	if d.lost.Load() || d.device == nil {
		return fmt.Errorf("webgpu: %s: %w", d.name, backend.ErrDeviceLost)
	}
	return nil
}

// markLost records device loss caused by err and returns a wrapped error.
func (d *Device) markLost(op string, err error) error {
	if d.lost.CompareAndSwap(false, true) {
		slogger().Warn("webgpu: device lost", slog.String("device", d.name), slog.String("op", op), slog.Any("err", err))
	}
	return fmt.Errorf("webgpu: %s: %w: %w", op, backend.ErrDeviceLost, err)
}

// Destroy implements backend.Device.
func (d *Device) Destroy() {
	if d.marker != nil {
		d.marker.Destroy()
		d.marker.Release()
		d.marker = nil
	}
	if d.device != nil {
		d.device.Release()
		d.device = nil
	}
	if d.adapter != nil {
		d.adapter.Release()
		d.adapter = nil
	}
	if d.instance != nil {
		d.instance.Release()
		d.instance = nil
	}
	d.queue = nil
}

// mapRead maps buf, which must have MapRead usage, and copies out its
// first size bytes.
func (d *Device) mapRead(buf *wgpu.Buffer, size uint64) ([]byte, error) {
	status := make(chan wgpu.BufferMapAsyncStatus, 1)
	if err := buf.MapAsync(wgpu.MapModeRead, 0, size, func(s wgpu.BufferMapAsyncStatus) {
		status <- s
	}); err != nil {
		return nil, fmt.Errorf("webgpu: map: %w", err)
	}

	deadline := time.Now().Add(d.cfg.Timeout)
	for {
		d.device.Poll(false, nil)
		select {
		case s := <-status:
			if s != wgpu.BufferMapAsyncStatusSuccess {
				return nil, d.markLost("map", fmt.Errorf("map status %v", s))
			}
			out := make([]byte, size)
			copy(out, buf.GetMappedRange(0, uint(size)))
			buf.Unmap()
			return out, nil
		default:
		}
		if time.Now().After(deadline) {
			return nil, d.markLost("map", fmt.Errorf("%w after %v", ErrTimeout, d.cfg.Timeout))
		}
		time.Sleep(pollInterval)
	}
}
