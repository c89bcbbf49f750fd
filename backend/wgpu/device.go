// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gogpu/gpucompute/backend"
	"github.com/gogpu/gpucompute/internal/cache"
)

// Errors returned by the wgpu backend.
var (
	// ErrNoAdapter is returned when no GPU adapter is found.
	ErrNoAdapter = errors.New("wgpu: no GPU adapters found")

	// ErrForeignObject is returned when an object of another backend is passed in.
	ErrForeignObject = errors.New("wgpu: object belongs to another backend")

	// ErrProvider is returned when a device provider does not expose HAL objects.
	ErrProvider = errors.New("wgpu: provider does not expose HAL device and queue")

	// ErrRecordingClosed is returned when a recording is used after Submit or Discard.
	ErrRecordingClosed = errors.New("wgpu: recording already closed")

	// ErrTimeout is returned when submitted work does not complete within Config.Timeout.
	ErrTimeout = errors.New("wgpu: timed out waiting for GPU")
)

// Default configuration values.
const (
	// DefaultTimeout bounds one wait for submitted work.
	DefaultTimeout = 5 * time.Second

	// DefaultBindGroupCacheSize is the number of cached resource bind groups.
	DefaultBindGroupCacheSize = 256
)

// Config configures device creation.
type Config struct {
	// Backend is the HAL backend. Defaults to Vulkan.
	Backend gputypes.Backend

	// PreferDiscrete selects a discrete GPU over an integrated one when both
	// exist. The zero value prefers the first discrete or integrated GPU.
	PreferDiscrete bool

	// Timeout bounds one wait for submitted work. Defaults to DefaultTimeout.
	Timeout time.Duration

	// BindGroupCacheSize defaults to DefaultBindGroupCacheSize.
	BindGroupCacheSize int
}

func (c *Config) applyDefaults() {
	if c.Backend == 0 {
		c.Backend = gputypes.BackendVulkan
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.BindGroupCacheSize <= 0 {
		c.BindGroupCacheSize = DefaultBindGroupCacheSize
	}
}

func init() {
	backend.Register(backend.BackendWGPU, func() (backend.Device, error) {
		return New(Config{})
	})
}

// Device is a backend.Device over a HAL device and queue.
//
// Thread Safety: Device is safe for concurrent use. Queue operations are
// serialized by an internal mutex.
type Device struct {
	cfg  Config
	name string

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	external bool // shared device, not destroyed by Destroy

	queueMu sync.Mutex
	ids     atomic.Uint64
	lost    atomic.Bool

	// bindGroups caches group 0 per (layout, bound resources).
	bindGroups *cache.Cache[bindGroupKey, hal.BindGroup]

	// Evicted bind groups wait here while recordings are open or their
	// submissions are in flight.
	retireMu sync.Mutex
	inflight int
	retired  []hal.BindGroup
}

var _ backend.Device = (*Device)(nil)

// New opens a device on the first suitable adapter of cfg.Backend.
func New(cfg Config) (*Device, error) {
	cfg.applyDefaults()

	halBackend, ok := hal.GetBackend(cfg.Backend)
	if !ok {
		return nil, fmt.Errorf("%w: wgpu: HAL backend %v", backend.ErrBackendNotAvailable, cfg.Backend)
	}
	instance, err := halBackend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}
	selected := selectAdapter(adapters, cfg.PreferDiscrete)

	open, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: open device: %w", err)
	}

	d := newDevice(cfg, selected.Info.Name, open.Device, open.Queue)
	d.instance = instance
	slogger().Info("wgpu: device opened",
		slog.String("adapter", selected.Info.Name),
		slog.String("type", fmt.Sprint(selected.Info.DeviceType)))
	return d, nil
}

// selectAdapter picks a GPU adapter, falling back to the first one.
func selectAdapter(adapters []hal.ExposedAdapter, preferDiscrete bool) *hal.ExposedAdapter {
	var selected *hal.ExposedAdapter
	for i := range adapters {
		switch adapters[i].Info.DeviceType {
		case gputypes.DeviceTypeDiscreteGPU:
			return &adapters[i]
		case gputypes.DeviceTypeIntegratedGPU:
			if selected == nil {
				selected = &adapters[i]
				if !preferDiscrete {
					return selected
				}
			}
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	return selected
}

// NewFromProvider shares the HAL device of a host application, e.g. a
// gogpu window. The provider must implement HalDevice() any and
// HalQueue() any returning hal.Device and hal.Queue. Destroy does not
// destroy a shared device.
func NewFromProvider(provider gpucontext.DeviceProvider, cfg Config) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrProvider
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is %T", ErrProvider, hp.HalDevice())
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is %T", ErrProvider, hp.HalQueue())
	}

	cfg.applyDefaults()
	d := newDevice(cfg, "shared", device, queue)
	d.external = true
	slogger().Info("wgpu: using shared GPU device")
	return d, nil
}

func newDevice(cfg Config, name string, device hal.Device, queue hal.Queue) *Device {
	d := &Device{cfg: cfg, name: name, device: device, queue: queue}
	d.bindGroups = cache.New(cfg.BindGroupCacheSize, func(_ bindGroupKey, bg hal.BindGroup) {
		d.retire(bg)
	})
	return d
}

// Info implements backend.Device. The HAL path compiles WGSL through naga,
// which does not emit Float64, so double precision is reported unsupported.
func (d *Device) Info() backend.Info {
	limits := gputypes.DefaultLimits()
	return backend.Info{
		Name:    d.name,
		Backend: backend.BackendWGPU,
		MaxThreadGroupSize: [3]uint32{
			limits.MaxComputeWorkgroupSizeX,
			limits.MaxComputeWorkgroupSizeY,
			limits.MaxComputeWorkgroupSizeZ,
		},
		MaxGroupsPerDimension: limits.MaxComputeWorkgroupsPerDimension,
	}
}

// SetLogger sets the logger for the wgpu backend.
func (d *Device) SetLogger(l *slog.Logger) {
	setLogger(l)
}

func (d *Device) check() error {
	if d.lost.Load() {
		return fmt.Errorf("wgpu: %s: %w", d.name, backend.ErrDeviceLost)
	}
	return nil
}

// markLost records device loss caused by err and returns a wrapped error.
func (d *Device) markLost(op string, err error) error {
	if d.lost.CompareAndSwap(false, true) {
		slogger().Warn("wgpu: device lost", slog.String("device", d.name), slog.String("op", op), slog.Any("err", err))
	}
	return fmt.Errorf("wgpu: %s: %w: %w", op, backend.ErrDeviceLost, err)
}

// retire destroys bg now or, while a recording is open or in flight,
// once the last one is released.
func (d *Device) retire(bg hal.BindGroup) {
	d.retireMu.Lock()
	if d.inflight > 0 {
		d.retired = append(d.retired, bg)
		d.retireMu.Unlock()
		return
	}
	d.retireMu.Unlock()
	if d.device != nil {
		d.device.DestroyBindGroup(bg)
	}
}

func (d *Device) beginWork() {
	d.retireMu.Lock()
	d.inflight++
	d.retireMu.Unlock()
}

func (d *Device) endWork() {
	d.retireMu.Lock()
	d.inflight--
	var retired []hal.BindGroup
	if d.inflight == 0 {
		retired, d.retired = d.retired, nil
	}
	d.retireMu.Unlock()
	if d.device == nil {
		return
	}
	for _, bg := range retired {
		d.device.DestroyBindGroup(bg)
	}
}

// Destroy implements backend.Device.
func (d *Device) Destroy() {
	d.bindGroups.Clear()
	d.retireMu.Lock()
	retired := d.retired
	d.retired = nil
	d.retireMu.Unlock()
	if d.device != nil {
		for _, bg := range retired {
			d.device.DestroyBindGroup(bg)
		}
	}
	if d.external {
		d.device = nil
		d.queue = nil
		return
	}
	if d.device != nil {
		d.device.Destroy()
		d.device = nil
	}
	if d.instance != nil {
		d.instance.Destroy()
		d.instance = nil
	}
	d.queue = nil
}
