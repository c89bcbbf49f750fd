// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package bytecode

import (
	"errors"
	"fmt"
)

// Package errors.
var (
	// ErrCompilation is the sentinel wrapped by ShaderCompilationError.
	ErrCompilation = errors.New("bytecode: shader compilation failed")

	// ErrDoublePrecisionNotDeclared is the sentinel wrapped by DoublePrecisionNotDeclaredError.
	ErrDoublePrecisionNotDeclared = errors.New("bytecode: bytecode uses doubles but descriptor does not declare them")

	// ErrNoCompiler is returned when a descriptor needs compilation and no compiler is configured.
	ErrNoCompiler = errors.New("bytecode: no compiler configured")

	// ErrMalformedBytecode is returned by reflection on a blob that is not a valid module.
	ErrMalformedBytecode = errors.New("bytecode: malformed bytecode")
)

// ShaderCompilationError carries the compiler diagnostics verbatim.
// Compilation is deterministic, so the error is never retried.
type ShaderCompilationError struct {
	Shader      string
	Profile     string
	Diagnostics string
}

func (e *ShaderCompilationError) Error() string {
	return fmt.Sprintf("bytecode: compiling %s for %s: %s", e.Shader, e.Profile, e.Diagnostics)
}

func (e *ShaderCompilationError) Unwrap() error { return ErrCompilation }

// DoublePrecisionNotDeclaredError reports a shader whose bytecode uses
// 64-bit floats while its descriptor does not declare RequiresDoublePrecision.
type DoublePrecisionNotDeclaredError struct {
	Shader string
}

func (e *DoublePrecisionNotDeclaredError) Error() string {
	return fmt.Sprintf("bytecode: %s uses double precision but does not declare it", e.Shader)
}

func (e *DoublePrecisionNotDeclaredError) Unwrap() error { return ErrDoublePrecisionNotDeclared }
