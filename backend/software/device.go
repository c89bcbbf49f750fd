// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package software

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucompute/backend"
	"github.com/gogpu/gpucompute/internal/parallel"
	"github.com/gogpu/gpucompute/shader"
)

// Errors returned by the software backend.
var (
	// ErrNoKernel is returned when a pipeline is created for a shader without a CPU kernel.
	ErrNoKernel = errors.New("software: shader has no CPU kernel")

	// ErrForeignObject is returned when an object of another backend is passed in.
	ErrForeignObject = errors.New("software: object belongs to another backend")

	// ErrRecordingClosed is returned when a recording is used after Submit or Discard.
	ErrRecordingClosed = errors.New("software: recording already closed")
)

// Config configures a software device.
type Config struct {
	// Name is reported in Info. Defaults to "cpu".
	Name string

	// Workers is the number of kernel goroutines. 0 means GOMAXPROCS.
	Workers int

	// MaxThreadGroupSize defaults to 1024x1024x64.
	MaxThreadGroupSize [3]uint32

	// MaxGroupsPerDimension defaults to 65535, the WebGPU default limit.
	MaxGroupsPerDimension uint32
}

func init() {
	backend.Register(backend.BackendSoftware, func() (backend.Device, error) {
		return New(Config{}), nil
	})
}

// Device executes shader kernels on the CPU.
//
// Buffers and textures are plain byte slices. Recordings are replayed in
// program order at Submit; the thread groups of one dispatch run in
// parallel on an internal worker pool.
type Device struct {
	cfg  Config
	pool *parallel.WorkerPool

	// exec serializes submissions so dispatches of one recording, and
	// recordings submitted in order, never overlap.
	exec sync.Mutex

	lost      atomic.Bool
	destroyed atomic.Bool

	submissions atomic.Uint64
	dispatches  atomic.Uint64
}

var _ backend.Device = (*Device)(nil)

// New creates a software device.
func New(cfg Config) *Device {
	if cfg.Name == "" {
		cfg.Name = "cpu"
	}
	if cfg.MaxThreadGroupSize == [3]uint32{} {
		cfg.MaxThreadGroupSize = [3]uint32{1024, 1024, 64}
	}
	if cfg.MaxGroupsPerDimension == 0 {
		cfg.MaxGroupsPerDimension = 65535
	}
	d := &Device{cfg: cfg, pool: parallel.NewWorkerPool(cfg.Workers)}
	slogger().Debug("software: device created",
		slog.String("name", cfg.Name),
		slog.Int("workers", d.pool.Workers()))
	return d
}

// Info implements backend.Device.
func (d *Device) Info() backend.Info {
	return backend.Info{
		Name:                    d.cfg.Name,
		Backend:                 backend.BackendSoftware,
		SupportsDoublePrecision: true,
		MaxThreadGroupSize:      d.cfg.MaxThreadGroupSize,
		MaxGroupsPerDimension:   d.cfg.MaxGroupsPerDimension,
	}
}

// Lose simulates device removal: every later call fails with an error
// wrapping backend.ErrDeviceLost.
func (d *Device) Lose() {
	if d.lost.CompareAndSwap(false, true) {
		slogger().Warn("software: device lost", slog.String("name", d.cfg.Name))
	}
}

// Submissions returns the number of recordings submitted so far.
func (d *Device) Submissions() uint64 { return d.submissions.Load() }

// Dispatches returns the number of dispatches executed so far.
func (d *Device) Dispatches() uint64 { return d.dispatches.Load() }

func (d *Device) check() error {
	if d.lost.Load() || d.destroyed.Load() {
		return fmt.Errorf("software: %s: %w", d.cfg.Name, backend.ErrDeviceLost)
	}
	return nil
}

type signature struct {
	label string
	desc  backend.SignatureDesc
}

func (s *signature) Label() string { return s.label }

// CreateBindingSignature implements backend.Device.
func (d *Device) CreateBindingSignature(desc backend.SignatureDesc) (backend.Signature, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	desc.Ranges = append([]shader.ResourceRange(nil), desc.Ranges...)
	return &signature{label: desc.Label, desc: desc}, nil
}

// DestroyBindingSignature implements backend.Device.
func (d *Device) DestroyBindingSignature(backend.Signature) {}

type pipeline struct {
	label  string
	sig    *signature
	kernel shader.Kernel
	group  shader.ThreadGroupSize
}

func (p *pipeline) Label() string { return p.label }

// CreateComputePipeline implements backend.Device. The bytecode is ignored;
// the descriptor's kernel is executed instead.
func (d *Device) CreateComputePipeline(desc backend.PipelineDesc) (backend.Pipeline, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	sig, ok := desc.Signature.(*signature)
	if !ok {
		return nil, fmt.Errorf("%w: signature %T", ErrForeignObject, desc.Signature)
	}
	if desc.Kernel == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoKernel, desc.Label)
	}
	return &pipeline{label: desc.Label, sig: sig, kernel: desc.Kernel, group: desc.ThreadGroup}, nil
}

// DestroyComputePipeline implements backend.Device.
func (d *Device) DestroyComputePipeline(backend.Pipeline) {}

// Destroy implements backend.Device. It stops the kernel workers.
func (d *Device) Destroy() {
	if d.destroyed.CompareAndSwap(false, true) {
		d.pool.Close()
	}
}

// BeginRecording implements backend.Device.
func (d *Device) BeginRecording() (backend.Recording, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	return &recording{}, nil
}

// Submit implements backend.Device. The recorded dispatches run before
// Submit returns, so the returned submission is already complete.
func (d *Device) Submit(r backend.Recording) (backend.Submission, error) {
	rec, ok := r.(*recording)
	if !ok {
		return nil, fmt.Errorf("%w: recording %T", ErrForeignObject, r)
	}
	if rec.closed {
		return nil, ErrRecordingClosed
	}
	rec.closed = true
	if err := d.check(); err != nil {
		return nil, err
	}

	d.exec.Lock()
	defer d.exec.Unlock()
	for i := range rec.ops {
		if err := d.check(); err != nil {
			return nil, err
		}
		d.execute(&rec.ops[i])
	}
	d.submissions.Add(1)
	return submission{}, nil
}

type submission struct{}

// Wait returns immediately; CPU work is complete when Submit returns.
func (submission) Wait(context.Context) error {
	return nil
}

// SetLogger sets the logger of the software backend.
func (d *Device) SetLogger(l *slog.Logger) {
	SetLogger(l)
}
