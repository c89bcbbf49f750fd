// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package software

import (
	"fmt"

	"github.com/gogpu/gpucompute/backend"
	"github.com/gogpu/gpucompute/shader"
)

// op is one recorded dispatch with its resources resolved to host memory.
type op struct {
	pipeline  *pipeline
	slots     []slot
	constants []uint32
	groups    [3]uint32
}

type slot struct {
	buf   *buffer
	tex   *texture
	width uint32
}

func (s slot) lock(write bool) {
	switch {
	case s.buf != nil && write:
		s.buf.mu.Lock()
	case s.buf != nil:
		s.buf.mu.RLock()
	case s.tex != nil && write:
		s.tex.mu.Lock()
	case s.tex != nil:
		s.tex.mu.RLock()
	}
}

func (s slot) unlock(write bool) {
	switch {
	case s.buf != nil && write:
		s.buf.mu.Unlock()
	case s.buf != nil:
		s.buf.mu.RUnlock()
	case s.tex != nil && write:
		s.tex.mu.Unlock()
	case s.tex != nil:
		s.tex.mu.RUnlock()
	}
}

func (s slot) memory() []byte {
	if s.buf != nil {
		return s.buf.data
	}
	if s.tex != nil {
		return s.tex.data
	}
	return nil
}

// recording is an ordered list of dispatches. Transitions and barriers are
// no-ops on the CPU since dispatches already run one after another.
type recording struct {
	ops    []op
	closed bool

	transitions int
	barriers    int
}

func (r *recording) Transition(backend.Binding, backend.State, backend.State) {
	r.transitions++
}

func (r *recording) Barrier([]backend.Binding) {
	r.barriers++
}

func (r *recording) Discard() {
	r.closed = true
	r.ops = nil
}

func (r *recording) RecordDispatch(desc backend.DispatchDesc) error {
	if r.closed {
		return ErrRecordingClosed
	}
	p, ok := desc.Pipeline.(*pipeline)
	if !ok {
		return fmt.Errorf("%w: pipeline %T", ErrForeignObject, desc.Pipeline)
	}
	if len(desc.Bindings) != len(p.sig.desc.Ranges) {
		return fmt.Errorf("software: %s expects %d bindings, got %d", p.label, len(p.sig.desc.Ranges), len(desc.Bindings))
	}

	slots := make([]slot, len(desc.Bindings))
	for _, b := range desc.Bindings {
		if int(b.Slot) >= len(slots) {
			return fmt.Errorf("software: %s has no slot %d", p.label, b.Slot)
		}
		var s slot
		switch {
		case b.Buffer != nil:
			buf, ok := b.Buffer.(*buffer)
			if !ok {
				return fmt.Errorf("%w: buffer %T", ErrForeignObject, b.Buffer)
			}
			s.buf = buf
		case b.Texture != nil:
			tex, ok := b.Texture.(*texture)
			if !ok {
				return fmt.Errorf("%w: texture %T", ErrForeignObject, b.Texture)
			}
			s.tex, s.width = tex, tex.width
		}
		slots[b.Slot] = s
	}

	r.ops = append(r.ops, op{
		pipeline:  p,
		slots:     slots,
		constants: append([]uint32(nil), desc.Constants...),
		groups:    desc.Groups,
	})
	return nil
}

// execute runs every thread of o. Groups are spread over the worker pool;
// the threads of one group run sequentially on one worker.
func (d *Device) execute(o *op) {
	ranges := o.pipeline.sig.desc.Ranges
	locked := lockSlots(o.slots, ranges)
	defer unlockSlots(o.slots, ranges, locked)

	memory := make([][]byte, len(o.slots))
	widths := make([]uint32, len(o.slots))
	for i, s := range o.slots {
		memory[i] = s.memory()
		widths[i] = s.width
	}

	g := o.pipeline.group
	total := int(o.groups[0]) * int(o.groups[1]) * int(o.groups[2])
	kernel := o.pipeline.kernel

	d.pool.For(total, 1, func(lo, hi int) {
		inv := shader.Invocation{Constants: o.constants, Memory: memory, Widths: widths}
		for gi := lo; gi < hi; gi++ {
			gx := uint32(gi) % o.groups[0]                  //nolint:gosec // group counts fit uint32
			gy := uint32(gi) / o.groups[0] % o.groups[1]    //nolint:gosec // group counts fit uint32
			gz := uint32(gi) / (o.groups[0] * o.groups[1]) //nolint:gosec // group counts fit uint32
			for z := range g.Z {
				for y := range g.Y {
					for x := range g.X {
						inv.ID = [3]uint32{gx*g.X + x, gy*g.Y + y, gz*g.Z + z}
						kernel(&inv)
					}
				}
			}
		}
	})
	d.dispatches.Add(1)
}

// lockSlots takes each distinct resource once, write-locked for read-write
// ranges. It returns the write flag used per slot, or nil for a slot that
// aliases an earlier one.
func lockSlots(slots []slot, ranges []shader.ResourceRange) []*bool {
	seen := make(map[any]int, len(slots))
	write := make([]bool, len(slots))
	for i, s := range slots {
		key := s.key()
		if key == nil {
			continue
		}
		w := ranges[i].Kind == shader.KindReadWrite
		if j, ok := seen[key]; ok {
			write[j] = write[j] || w
			continue
		}
		seen[key] = i
		write[i] = w
	}

	out := make([]*bool, len(slots))
	for _, i := range seen {
		out[i] = &write[i]
	}
	for i, s := range slots {
		if out[i] != nil {
			s.lock(*out[i])
		}
	}
	return out
}

func unlockSlots(slots []slot, _ []shader.ResourceRange, locked []*bool) {
	for i, s := range slots {
		if locked[i] != nil {
			s.unlock(*locked[i])
		}
	}
}

// key identifies the underlying resource so aliased slots lock once.
func (s slot) key() any {
	if s.buf != nil {
		return s.buf
	}
	if s.tex != nil {
		return s.tex
	}
	return nil
}
