// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package bytecode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gogpu/gpucompute/shader"
)

// Compiler turns shader source into bytecode for a target profile.
// Implementations must be safe for concurrent use. On failure the error
// text is surfaced to callers verbatim.
type Compiler interface {
	Compile(ctx context.Context, source, entryPoint, profile string) ([]byte, error)
}

// Reflection is what the provider learns from a bytecode blob.
type Reflection struct {
	RequiresDoublePrecision bool
}

// Reflector inspects bytecode. Implementations must be safe for concurrent use.
type Reflector interface {
	Reflect(code []byte) (Reflection, error)
}

// Compiled is resolved bytecode. It is never modified after Resolve returns,
// apart from Release dropping an owned blob at pipeline teardown.
type Compiled struct {
	// Code is the bytecode. For embedded blobs it aliases the descriptor.
	Code []byte

	// Embedded is true when Code is borrowed from the descriptor.
	Embedded bool

	// Profile is the compiler target, empty for embedded blobs.
	Profile string

	Reflection Reflection

	released atomic.Bool
}

// Release drops an owned blob. Embedded blobs live as long as the process
// and are left untouched. Release is idempotent.
func (c *Compiled) Release() {
	if c == nil || c.Embedded {
		return
	}
	if c.released.CompareAndSwap(false, true) {
		c.Code = nil
	}
}

// Released reports whether Release dropped the blob.
func (c *Compiled) Released() bool {
	return c != nil && c.released.Load()
}

// Provider resolves the final bytecode of a shader descriptor.
//
// Provider does not cache: callers that need build-once semantics wrap it
// (the pipeline cache does). Provider is safe for concurrent use.
type Provider struct {
	compiler  Compiler
	reflector Reflector
	profile   string
}

// NewProvider creates a provider. A nil reflector selects SPIRVReflector.
// A nil compiler restricts the provider to embedded bytecode.
func NewProvider(compiler Compiler, reflector Reflector, profile string) *Provider {
	if reflector == nil {
		reflector = SPIRVReflector{}
	}
	if profile == "" {
		profile = DefaultProfile
	}
	return &Provider{compiler: compiler, reflector: reflector, profile: profile}
}

// Profile returns the fixed compile profile.
func (p *Provider) Profile() string {
	return p.profile
}

// Resolve returns the bytecode for d.
//
// Embedded bytecode is returned by reference without touching the compiler.
// Otherwise Source is compiled against the provider profile. Either way the
// result is reflected once; bytecode that needs doubles while d does not
// declare RequiresDoublePrecision fails with DoublePrecisionNotDeclaredError.
func (p *Provider) Resolve(ctx context.Context, d *shader.Descriptor) (*Compiled, error) {
	if d == nil {
		return nil, fmt.Errorf("bytecode: nil descriptor")
	}

	var c *Compiled
	if len(d.EmbeddedBytecode) > 0 {
		c = &Compiled{Code: d.EmbeddedBytecode, Embedded: true}
	} else {
		code, err := p.compile(ctx, d)
		if err != nil {
			return nil, err
		}
		c = &Compiled{Code: code, Profile: p.profile}
	}

	refl, err := p.reflector.Reflect(c.Code)
	if err != nil {
		return nil, fmt.Errorf("bytecode: reflect %s: %w", d.Name, err)
	}
	c.Reflection = refl

	if refl.RequiresDoublePrecision && !d.RequiresDoublePrecision {
		return nil, &DoublePrecisionNotDeclaredError{Shader: d.Name}
	}
	return c, nil
}

func (p *Provider) compile(ctx context.Context, d *shader.Descriptor) ([]byte, error) {
	if d.Source == "" {
		return nil, fmt.Errorf("%w: %s", shader.ErrNoBytecodeSource, d.Name)
	}
	if p.compiler == nil {
		return nil, fmt.Errorf("%w: %s has no embedded bytecode", ErrNoCompiler, d.Name)
	}

	start := time.Now()
	code, err := p.compiler.Compile(ctx, d.Source, d.Entry(), p.profile)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("bytecode: compile %s: %w", d.Name, err)
		}
		var ce *ShaderCompilationError
		if errors.As(err, &ce) {
			return nil, ce
		}
		return nil, &ShaderCompilationError{Shader: d.Name, Profile: p.profile, Diagnostics: err.Error()}
	}

	slogger().Debug("bytecode: compiled shader",
		slog.String("shader", d.Name),
		slog.String("profile", p.profile),
		slog.Int("bytes", len(code)),
		slog.Duration("elapsed", time.Since(start)))
	return code, nil
}
