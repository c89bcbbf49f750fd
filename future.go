// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucompute

import "context"

// Future is the completion token of an asynchronous submission.
//
// Not waiting is the only way to cancel: recorded work runs to completion
// whether or not anyone waits for it.
type Future struct {
	done chan struct{}
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func completedFuture(err error) *Future {
	f := newFuture()
	f.complete(err)
	return f
}

// complete records err and wakes waiters. Called exactly once.
func (f *Future) complete(err error) {
	f.err = err
	close(f.done)
}

// Done returns a channel closed when the work has completed.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the work completes and returns its error. When ctx
// ends first Wait returns ctx.Err(); the work keeps running.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the result of completed work, or nil while it is pending.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}
