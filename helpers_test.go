package gpucompute

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gogpu/gpucompute/backend"
	"github.com/gogpu/gpucompute/backend/software"
	"github.com/gogpu/gpucompute/shader"
)

// testModule is a header-only SPIR-V module. The software backend runs the
// descriptor kernels and only needs the blob to pass reflection.
var testModule = spirv()

// doubleModule declares the Float64 capability.
var doubleModule = spirv(2<<16|17, 10)

func spirv(instructions ...uint32) []byte {
	words := append([]uint32{0x07230203, 0x00010300, 0, 8, 0}, instructions...)
	out := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

var doubleDesc = shader.NewBuilder("Double").
	ThreadGroup(64, 1, 1).
	ReadWriteBuffer().
	Bytecode(testModule).
	Kernel(func(inv *shader.Invocation) {
		if !inv.InBounds() {
			return
		}
		i := int(inv.ID[0])
		inv.SetUint32(0, i, inv.Uint32(0, i)*2)
	}).
	MustBuild()

// Double multiplies every element of Data by 2.
type Double struct{ Data Resource }

func (Double) Descriptor() *shader.Descriptor        { return doubleDesc }
func (s Double) Resources() []Resource               { return []Resource{s.Data} }
func (Double) WriteConstants(*shader.ConstantWriter) {}

var addDesc = shader.NewBuilder("Add").
	ThreadGroup(32, 1, 1).
	ReadOnlyBuffer().
	ReadWriteBuffer().
	Constants(4).
	Bytecode(testModule).
	Kernel(func(inv *shader.Invocation) {
		if !inv.InBounds() {
			return
		}
		i := int(inv.ID[0])
		inv.SetUint32(1, i, inv.Uint32(0, i)+inv.Constant(0))
	}).
	MustBuild()

// Add writes In[i] + Amount to Out[i].
type Add struct {
	In, Out Resource
	Amount  uint32
}

func (Add) Descriptor() *shader.Descriptor            { return addDesc }
func (s Add) Resources() []Resource                   { return []Resource{s.In, s.Out} }
func (s Add) WriteConstants(w *shader.ConstantWriter) { w.Uint32(s.Amount) }

var fillDesc = shader.NewBuilder("Fill").
	ThreadGroup(8, 8, 1).
	ReadWriteTexture().
	Constants(4).
	Bytecode(testModule).
	Kernel(func(inv *shader.Invocation) {
		if !inv.InBounds() {
			return
		}
		c := inv.Constant(0)
		inv.SetTexel(0, inv.ID[0], inv.ID[1], [4]uint8{byte(c), byte(c >> 8), byte(inv.ID[0]), byte(inv.ID[1])})
	}).
	MustBuild()

// Fill writes a color and the texel coordinates into every texel.
type Fill struct{ Color uint32 }

func (Fill) Descriptor() *shader.Descriptor            { return fillDesc }
func (Fill) Resources() []Resource                     { return nil }
func (s Fill) WriteConstants(w *shader.ConstantWriter) { w.Uint32(s.Color) }

var volumeDesc = shader.NewBuilder("Volume").
	ThreadGroup(4, 4, 4).
	ReadWriteBuffer().
	Bytecode(testModule).
	Kernel(func(inv *shader.Invocation) {
		if !inv.InBounds() {
			return
		}
		s := inv.DispatchSize()
		i := int((inv.ID[2]*s[1]+inv.ID[1])*s[0] + inv.ID[0])
		inv.SetUint32(0, i, uint32(i)+1) //nolint:gosec // test sizes are small
	}).
	MustBuild()

// Volume writes index+1 into a linearised 3D buffer.
type Volume struct{ Data Resource }

func (Volume) Descriptor() *shader.Descriptor        { return volumeDesc }
func (s Volume) Resources() []Resource               { return []Resource{s.Data} }
func (Volume) WriteConstants(*shader.ConstantWriter) {}

// newEngine returns an engine with one software device.
func newEngine(t *testing.T, opts ...Option) (*Engine, *Device) {
	t.Helper()
	e := New(opts...)
	t.Cleanup(e.Close)
	dev, err := e.NewDevice(software.New(software.Config{Workers: 4}))
	require.NoError(t, err)
	return e, dev
}

// countingDevice is a software device that records what the engine asks of it.
type countingDevice struct {
	*software.Device

	signatures atomic.Int32
	pipelines  atomic.Int32
	recordings atomic.Int32
	submits    atomic.Int32

	mu          sync.Mutex
	log         []string
	groups      [][3]uint32
	pipelineErr error
	delay       time.Duration
	noDoubles   bool
}

func newCountingDevice() *countingDevice {
	return &countingDevice{Device: software.New(software.Config{Name: "counting", Workers: 2})}
}

func (c *countingDevice) record(format string, args ...any) {
	c.mu.Lock()
	c.log = append(c.log, fmt.Sprintf(format, args...))
	c.mu.Unlock()
}

func (c *countingDevice) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.log...)
}

func (c *countingDevice) recordedGroups() [][3]uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][3]uint32(nil), c.groups...)
}

func (c *countingDevice) setPipelineErr(err error) {
	c.mu.Lock()
	c.pipelineErr = err
	c.mu.Unlock()
}

func (c *countingDevice) Info() backend.Info {
	info := c.Device.Info()
	if c.noDoubles {
		info.SupportsDoublePrecision = false
	}
	return info
}

func (c *countingDevice) CreateBindingSignature(desc backend.SignatureDesc) (backend.Signature, error) {
	c.signatures.Add(1)
	c.record("create signature %s", desc.Label)
	return c.Device.CreateBindingSignature(desc)
}

func (c *countingDevice) DestroyBindingSignature(s backend.Signature) {
	c.record("destroy signature %s", s.Label())
	c.Device.DestroyBindingSignature(s)
}

func (c *countingDevice) CreateComputePipeline(desc backend.PipelineDesc) (backend.Pipeline, error) {
	c.pipelines.Add(1)
	c.mu.Lock()
	delay, err := c.delay, c.pipelineErr
	c.mu.Unlock()
	time.Sleep(delay)
	if err != nil {
		return nil, err
	}
	c.record("create pipeline %s", desc.Label)
	return c.Device.CreateComputePipeline(desc)
}

func (c *countingDevice) DestroyComputePipeline(p backend.Pipeline) {
	c.record("destroy pipeline %s", p.Label())
	c.Device.DestroyComputePipeline(p)
}

func (c *countingDevice) BeginRecording() (backend.Recording, error) {
	rec, err := c.Device.BeginRecording()
	if err != nil {
		return nil, err
	}
	c.recordings.Add(1)
	return &countingRecording{Recording: rec, dev: c}, nil
}

func (c *countingDevice) Submit(r backend.Recording) (backend.Submission, error) {
	c.submits.Add(1)
	return c.Device.Submit(r.(*countingRecording).Recording)
}

type countingRecording struct {
	backend.Recording
	dev *countingDevice
}

func (r *countingRecording) Transition(b backend.Binding, before, after backend.State) {
	r.dev.record("transition %d %s->%s", b.Slot, before, after)
	r.Recording.Transition(b, before, after)
}

func (r *countingRecording) Barrier(bs []backend.Binding) {
	r.dev.record("barrier %d", len(bs))
	r.Recording.Barrier(bs)
}

func (r *countingRecording) RecordDispatch(d backend.DispatchDesc) error {
	r.dev.mu.Lock()
	r.dev.groups = append(r.dev.groups, d.Groups)
	r.dev.mu.Unlock()
	r.dev.record("dispatch %s", d.Pipeline.Label())
	return r.Recording.RecordDispatch(d)
}

// countingCompiler returns a fixed module and counts calls.
type countingCompiler struct {
	calls  atomic.Int32
	module []byte
	err    error
}

func (c *countingCompiler) Compile(_ context.Context, _, _, _ string) ([]byte, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return append([]byte(nil), c.module...), nil
}

func uint32Buffer(t *testing.T, d *Device, values []uint32) *Buffer {
	t.Helper()
	b, err := NewBufferFrom(d, "data", values)
	require.NoError(t, err)
	t.Cleanup(b.Dispose)
	return b
}

func sequence(n int) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = uint32(i) //nolint:gosec // test sizes are small
	}
	return out
}
