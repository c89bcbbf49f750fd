// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package bytecode

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/spirv"
)

// DefaultProfile is the SPIR-V target used when no profile is configured.
const DefaultProfile = "spirv1.3"

var spirvProfiles = map[string]spirv.Version{
	"spirv1.0": spirv.Version1_0,
	"spirv1.3": spirv.Version1_3,
	"spirv1.4": spirv.Version1_4,
	"spirv1.5": spirv.Version1_5,
	"spirv1.6": spirv.Version1_6,
}

// NagaCompiler compiles WGSL to SPIR-V with the pure Go naga compiler.
//
// All entry points of the module are emitted; the entry point is selected
// when the pipeline is created.
type NagaCompiler struct {
	// Debug includes OpName/OpLine debug info.
	Debug bool

	// SkipValidation disables IR validation before code generation.
	SkipValidation bool
}

var _ Compiler = NagaCompiler{}

// Compile compiles WGSL source for a "spirvX.Y" profile.
func (c NagaCompiler) Compile(ctx context.Context, source, _, profile string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	version, ok := spirvProfiles[profile]
	if !ok {
		return nil, fmt.Errorf("unsupported profile %q", profile)
	}
	return naga.CompileWithOptions(source, naga.CompileOptions{
		SPIRVVersion: version,
		Debug:        c.Debug,
		Validate:     !c.SkipValidation,
	})
}

// Words converts little-endian SPIR-V bytes into 32-bit words.
func Words(code []byte) []uint32 {
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	return words
}
