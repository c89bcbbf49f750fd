// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package webgpu

import "errors"

// Errors returned by the webgpu backend.
var (
	// ErrNoAdapter is returned when no GPU adapter is available.
	ErrNoAdapter = errors.New("webgpu: no GPU adapter available")

	// ErrUnsupported is returned for slots and resources the backend cannot bind.
	ErrUnsupported = errors.New("webgpu: not supported by this backend")

	// ErrNoSource is returned for pipelines without WGSL source.
	ErrNoSource = errors.New("webgpu: pipeline needs WGSL source")

	// ErrForeignObject is returned when an object of another backend is passed in.
	ErrForeignObject = errors.New("webgpu: object belongs to another backend")

	// ErrRecordingClosed is returned when a recording is used after Submit or Discard.
	ErrRecordingClosed = errors.New("webgpu: recording already closed")

	// ErrTimeout is returned when submitted work does not complete within Config.Timeout.
	ErrTimeout = errors.New("webgpu: timed out waiting for GPU")
)
