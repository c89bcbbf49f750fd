// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package webgpu

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gpucompute/shader"
)

// Bind group indices of a binding signature.
const (
	resourceGroup = 0
	constantGroup = 1

	constantBinding = 0
)

// checkRanges rejects slots other than buffers.
func checkRanges(ranges []shader.ResourceRange) error {
	for _, r := range ranges {
		if r.Kind == shader.KindSampler || r.Resource != shader.ResourceBuffer {
			return fmt.Errorf("%w: slot %s", ErrUnsupported, r)
		}
	}
	return nil
}

// uniformSize returns the byte size of the constants uniform block,
// rounded up to the 16-byte uniform alignment.
func uniformSize(words uint32) uint64 {
	return max((uint64(words)*4+15)&^15, 16)
}

func align4(n uint64) uint64 { return (n + 3) &^ 3 }

// window returns the 4-byte aligned range covering [offset, offset+n).
func window(offset, n uint64) (start, size uint64) {
	start = offset &^ 3
	return start, align4(offset+n) - start
}

// packConstants lays out words little-endian in a uniform block.
func packConstants(words []uint32) []byte {
	data := make([]byte, uniformSize(uint32(len(words)))) //nolint:gosec // constant counts are small
	for i, w := range words {
		binary.LittleEndian.PutUint32(data[i*4:], w)
	}
	return data
}
