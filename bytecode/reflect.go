// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package bytecode

import (
	"fmt"

	"github.com/gogpu/naga/spirv"
)

// capabilityFloat64 is the SPIR-V Float64 capability.
const capabilityFloat64 spirv.Capability = 10

// spirvHeaderWords is the size of the SPIR-V module header.
const spirvHeaderWords = 5

// SPIRVReflector reflects SPIR-V modules.
//
// A module requires double precision when it declares the Float64
// capability or a 64-bit OpTypeFloat.
type SPIRVReflector struct{}

var _ Reflector = SPIRVReflector{}

// Reflect scans the instruction stream once.
func (SPIRVReflector) Reflect(code []byte) (Reflection, error) {
	if len(code)%4 != 0 || len(code) < spirvHeaderWords*4 {
		return Reflection{}, fmt.Errorf("%w: %d bytes", ErrMalformedBytecode, len(code))
	}
	words := Words(code)
	if words[0] != spirv.MagicNumber {
		return Reflection{}, fmt.Errorf("%w: bad magic 0x%08x", ErrMalformedBytecode, words[0])
	}

	var r Reflection
	for i := spirvHeaderWords; i < len(words); {
		count := int(words[i] >> 16)
		op := spirv.OpCode(words[i] & 0xFFFF)
		if count == 0 || i+count > len(words) {
			return Reflection{}, fmt.Errorf("%w: instruction at word %d overruns module", ErrMalformedBytecode, i)
		}
		switch op {
		case spirv.OpCapability:
			if count >= 2 && spirv.Capability(words[i+1]) == capabilityFloat64 {
				r.RequiresDoublePrecision = true
			}
		case spirv.OpTypeFloat:
			if count >= 3 && words[i+2] == 64 {
				r.RequiresDoublePrecision = true
			}
		}
		i += count
	}
	return r, nil
}
