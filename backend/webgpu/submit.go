// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build webgpu

package webgpu

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/gogpu/gpucompute/backend"
)

// Submit implements backend.Device. The recording ends with a copy of the
// device marker into a mappable buffer; the submission is complete once
// that buffer maps.
func (d *Device) Submit(r backend.Recording) (backend.Submission, error) {
	rec, ok := r.(*recording)
	if !ok {
		return nil, fmt.Errorf("%w: recording %T", ErrForeignObject, r)
	}
	if rec.closed {
		return nil, ErrRecordingClosed
	}
	if err := d.check(); err != nil {
		rec.Discard()
		return nil, err
	}
	rec.closed = true

	fence, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "gpucompute_fence",
		Size:  4,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		rec.encoder.Release()
		rec.release()
		return nil, fmt.Errorf("webgpu: create fence buffer: %w", err)
	}
	rec.encoder.CopyBufferToBuffer(d.marker, 0, fence, 0, 4)

	s := &submission{d: d, rec: rec, fence: fence, start: time.Now(), status: make(chan wgpu.BufferMapAsyncStatus, 1)}

	d.queueMu.Lock()
	cmd, err := rec.encoder.Finish(nil)
	rec.encoder.Release()
	if err != nil {
		d.queueMu.Unlock()
		s.finish(fmt.Errorf("webgpu: finish encoding: %w", err))
		return nil, s.err
	}
	d.queue.Submit(cmd)
	cmd.Release()
	d.queueMu.Unlock()

	if err := fence.MapAsync(wgpu.MapModeRead, 0, 4, func(st wgpu.BufferMapAsyncStatus) {
		s.status <- st
	}); err != nil {
		s.finish(d.markLost("map fence", err))
		return nil, s.err
	}
	slogger().Debug("webgpu: submitted", slog.Int("dispatches", rec.dispatches), slog.Int("barriers", rec.barriers))
	return s, nil
}

// submission waits for its fence buffer to map. The first completed wait
// releases the fence and the per-dispatch objects.
type submission struct {
	d      *Device
	rec    *recording
	fence  *wgpu.Buffer
	start  time.Time
	status chan wgpu.BufferMapAsyncStatus

	mu       sync.Mutex
	done     bool
	err      error
	draining bool
}

// Wait implements backend.Submission. When ctx ends first, polling and
// cleanup continue in the background.
func (s *submission) Wait(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.done {
		if err := ctx.Err(); err != nil {
			if !s.draining {
				s.draining = true
				go s.drain()
			}
			return err
		}
		s.poll()
	}
	return s.err
}

// poll advances the device once and finishes the submission when the
// fence mapped or the timeout passed.
func (s *submission) poll() {
	s.d.device.Poll(false, nil)
	select {
	case st := <-s.status:
		if st != wgpu.BufferMapAsyncStatusSuccess {
			s.finish(s.d.markLost("wait", fmt.Errorf("fence map status %v", st)))
			return
		}
		s.fence.Unmap()
		s.finish(nil)
		return
	default:
	}
	if time.Since(s.start) > s.d.cfg.Timeout {
		s.finish(s.d.markLost("wait", fmt.Errorf("%w after %v", ErrTimeout, s.d.cfg.Timeout)))
		return
	}
	time.Sleep(pollInterval)
}

// drain finishes a submission abandoned by a cancelled waiter.
func (s *submission) drain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.done {
		s.poll()
	}
}

// finish records the result and releases native objects. Called with mu
// held, or before the submission is published.
func (s *submission) finish(err error) {
	if s.done {
		return
	}
	s.done = true
	s.err = err
	s.fence.Destroy()
	s.fence.Release()
	s.rec.release()
}
