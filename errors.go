// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucompute

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpucompute/backend"
	"github.com/gogpu/gpucompute/bytecode"
)

// Errors returned by the engine.
var (
	// ErrUseAfterDispose is the sentinel wrapped by UseAfterDisposeError.
	ErrUseAfterDispose = errors.New("gpucompute: use after dispose")

	// ErrDeviceMismatch is the sentinel wrapped by DeviceMismatchError.
	ErrDeviceMismatch = errors.New("gpucompute: resource belongs to another device")

	// ErrDeviceLost is the sentinel wrapped by DeviceLostError.
	// It wraps backend.ErrDeviceLost.
	ErrDeviceLost = fmt.Errorf("gpucompute: %w", backend.ErrDeviceLost)

	// ErrDoublePrecisionUnsupported is returned when a shader needs doubles
	// and the device cannot run them.
	ErrDoublePrecisionUnsupported = errors.New("gpucompute: device does not support double precision")

	// ErrThreadGroupTooLarge is returned when a thread-group extent exceeds the device limit.
	ErrThreadGroupTooLarge = errors.New("gpucompute: thread group exceeds device limit")

	// ErrResourceKindMismatch is returned when a resource does not fit its slot,
	// e.g. a texture passed for a buffer range.
	ErrResourceKindMismatch = errors.New("gpucompute: resource does not match slot")

	// ErrMissingResource is returned when a non-sampler slot has no resource.
	ErrMissingResource = errors.New("gpucompute: slot has no resource")

	// ErrBindingCount is returned when a shader supplies the wrong number of resources.
	ErrBindingCount = errors.New("gpucompute: wrong number of resources")

	// ErrConstantSize is returned when written constants do not match ConstantBufferSize.
	ErrConstantSize = errors.New("gpucompute: constant size mismatch")

	// ErrInvalidIterationCount is returned for a dispatch with zero iterations
	// on an axis or more thread groups than the device allows.
	ErrInvalidIterationCount = errors.New("gpucompute: invalid iteration count")

	// ErrForEachTarget is returned when a shader used with ForEach does not
	// declare a read-write texture in slot 0.
	ErrForEachTarget = errors.New("gpucompute: ForEach needs a read-write texture in slot 0")

	// ErrEngineClosed is returned when work is submitted to a closed engine.
	ErrEngineClosed = errors.New("gpucompute: engine closed")

	// ErrNilShader is returned when a nil shader is dispatched.
	ErrNilShader = errors.New("gpucompute: nil shader")
)

// Errors produced while resolving bytecode.
type (
	// ShaderCompilationError carries compiler diagnostics verbatim.
	ShaderCompilationError = bytecode.ShaderCompilationError

	// DoublePrecisionNotDeclaredError reports bytecode that uses doubles
	// without the descriptor declaring them.
	DoublePrecisionNotDeclaredError = bytecode.DoublePrecisionNotDeclaredError
)

// UseAfterDisposeError reports a resource, context or device used after release.
type UseAfterDisposeError struct {
	// Resource is the object kind: "Buffer", "Texture", "ComputeContext" or "Device".
	Resource string
	Label    string
}

func (e *UseAfterDisposeError) Error() string {
	if e.Label == "" {
		return fmt.Sprintf("gpucompute: %s used after dispose", e.Resource)
	}
	return fmt.Sprintf("gpucompute: %s %q used after dispose", e.Resource, e.Label)
}

func (e *UseAfterDisposeError) Unwrap() error { return ErrUseAfterDispose }

// DeviceMismatchError reports a resource bound to a dispatch on a device
// other than the one that allocated it.
type DeviceMismatchError struct {
	Resource       string
	Label          string
	ResourceDevice string
	DispatchDevice string
	Shader         string
}

func (e *DeviceMismatchError) Error() string {
	msg := fmt.Sprintf("gpucompute: %s %q allocated on %s bound on %s",
		e.Resource, e.Label, e.ResourceDevice, e.DispatchDevice)
	if e.Shader != "" {
		msg += " by " + e.Shader
	}
	return msg
}

func (e *DeviceMismatchError) Unwrap() error { return ErrDeviceMismatch }

// DeviceLostError reports a device that became unusable. Every operation
// on the device fails with it until Device.Recover installs a replacement.
type DeviceLostError struct {
	DeviceID uint64
	Name     string
	Cause    error
}

func (e *DeviceLostError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("gpucompute: device %d (%s) lost", e.DeviceID, e.Name)
	}
	return fmt.Sprintf("gpucompute: device %d (%s) lost: %v", e.DeviceID, e.Name, e.Cause)
}

func (e *DeviceLostError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrDeviceLost}
	}
	return []error{ErrDeviceLost, e.Cause}
}
