// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpucompute/backend"
)

// waitSlice is the longest single fence wait, so ctx is observed promptly.
const waitSlice = 10 * time.Millisecond

// Submit implements backend.Device.
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

	cmd, err := rec.encoder.EndEncoding()
	if err != nil {
		rec.release()
		return nil, fmt.Errorf("wgpu: end encoding: %w", err)
	}
	fence, err := d.device.CreateFence()
	if err != nil {
		d.device.FreeCommandBuffer(cmd)
		rec.release()
		return nil, fmt.Errorf("wgpu: create fence: %w", err)
	}

	d.queueMu.Lock()
	err = d.queue.Submit([]hal.CommandBuffer{cmd}, fence, 1)
	d.queueMu.Unlock()

	s := &submission{d: d, rec: rec, cmd: cmd, fence: fence, start: time.Now()}
	if err != nil {
		s.finish(d.markLost("submit", err))
		return nil, s.err
	}
	slogger().Debug("wgpu: submitted",
		slog.Int("dispatches", rec.dispatches),
		slog.Int("transitions", rec.transitions))
	return s, nil
}

// submission tracks one fence. The first completed wait releases the
// command buffer, the fence and the per-dispatch objects.
type submission struct {
	d     *Device
	rec   *recording
	cmd   hal.CommandBuffer
	fence hal.Fence
	start time.Time

	mu       sync.Mutex
	done     bool
	err      error
	draining bool
}

// Wait implements backend.Submission. When ctx ends first, the remaining
// wait and cleanup continue in the background.
func (s *submission) Wait(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return s.err
	}

	for {
		if err := ctx.Err(); err != nil {
			if !s.draining {
				s.draining = true
				go s.drain()
			}
			return err
		}
		complete, err := s.poll()
		if complete || err != nil {
			s.finish(err)
			return s.err
		}
	}
}

// poll waits for one slice and reports completion.
func (s *submission) poll() (bool, error) {
	remaining := s.d.cfg.Timeout - time.Since(s.start)
	if remaining <= 0 {
		return false, s.d.markLost("wait", fmt.Errorf("%w after %v", ErrTimeout, s.d.cfg.Timeout))
	}
	ok, err := s.d.device.Wait(s.fence, 1, min(remaining, waitSlice))
	if err != nil {
		return false, s.d.markLost("wait", err)
	}
	return ok, nil
}

// drain finishes a submission abandoned by a cancelled waiter.
func (s *submission) drain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.done {
		complete, err := s.poll()
		if complete || err != nil {
			s.finish(err)
		}
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
	d := s.d
	if d.device != nil {
		d.device.DestroyFence(s.fence)
		d.device.FreeCommandBuffer(s.cmd)
	}
	s.rec.release()
}
