package gpucompute

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/gpucompute/backend/software"
	"github.com/gogpu/gpucompute/shader"
)

func TestForDoublesEveryElement(t *testing.T) {
	for _, n := range []int{1, 63, 64, 65, 1000} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			_, dev := newEngine(t)
			in := sequence(n)
			buf := uint32Buffer(t, dev, in)

			require.NoError(t, dev.For(t.Context(), uint32(n), Double{Data: buf})) //nolint:gosec // small n

			out, err := buf.ReadUint32s()
			require.NoError(t, err)
			require.Len(t, out, n)
			for i := range out {
				if out[i] != in[i]*2 {
					t.Fatalf("out[%d] = %d, want %d", i, out[i], in[i]*2)
				}
			}
		})
	}
}

func TestGroupCount(t *testing.T) {
	tests := []struct {
		iterations, extent, want uint32
	}{
		{100, 64, 2},
		{64, 64, 1},
		{65, 64, 2},
		{1, 64, 1},
		{1000, 1, 1000},
		{math.MaxUint32, 64, 67108864},
		{math.MaxUint32, 1, math.MaxUint32},
		{math.MaxUint32 - 1, 2, 1 << 31},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, GroupCount(tt.iterations, tt.extent), "%d/%d", tt.iterations, tt.extent)
	}
}

func TestDispatchRejectsTooManyGroups(t *testing.T) {
	e := New()
	t.Cleanup(e.Close)
	cd := &countingDevice{Device: software.New(software.Config{
		Name:                  "counting",
		Workers:               2,
		MaxGroupsPerDimension: 4,
	})}
	dev, err := e.NewDevice(cd)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), dev.Info().MaxGroupsPerDimension)

	buf := uint32Buffer(t, dev, sequence(64*4+1))
	require.NoError(t, dev.For(t.Context(), 64*4, Double{Data: buf}))
	assert.ErrorIs(t, dev.For(t.Context(), 64*4+1, Double{Data: buf}), ErrInvalidIterationCount)
	assert.ErrorIs(t, dev.For(t.Context(), math.MaxUint32, Double{Data: buf}), ErrInvalidIterationCount)
	assert.ErrorIs(t, dev.For3D(t.Context(), 4, 1, 5*4, Volume{Data: buf}), ErrInvalidIterationCount)

	// Only the in-range dispatch reached the backend.
	assert.Equal(t, [][3]uint32{{4, 1, 1}}, cd.recordedGroups())
	out, err := buf.ReadUint32s()
	require.NoError(t, err)
	for i := range 64 * 4 {
		require.Equal(t, uint32(i)*2, out[i], "element %d", i) //nolint:gosec // small i
	}
	assert.Equal(t, uint32(64*4), out[64*4])
}

func TestSoftwareDefaultGroupLimit(t *testing.T) {
	_, dev := newEngine(t)
	assert.Equal(t, uint32(65535), dev.Info().MaxGroupsPerDimension)
}

func TestDispatchGroups(t *testing.T) {
	e := New()
	t.Cleanup(e.Close)
	cd := newCountingDevice()
	dev, err := e.NewDevice(cd)
	require.NoError(t, err)

	buf := uint32Buffer(t, dev, sequence(100))
	require.NoError(t, dev.For(t.Context(), 100, Double{Data: buf}))

	vol := uint32Buffer(t, dev, make([]uint32, 5*6*7))
	require.NoError(t, dev.For3D(t.Context(), 5, 6, 7, Volume{Data: vol}))

	assert.Equal(t, [][3]uint32{{2, 1, 1}, {2, 2, 2}}, cd.recordedGroups())

	out, err := vol.ReadUint32s()
	require.NoError(t, err)
	for i, v := range out {
		require.Equal(t, uint32(i)+1, v, "element %d", i) //nolint:gosec // small i
	}
}

func TestComputeContextProgramOrder(t *testing.T) {
	_, dev := newEngine(t)
	a := uint32Buffer(t, dev, sequence(100))
	b := uint32Buffer(t, dev, make([]uint32, 100))

	c := dev.CreateComputeContext()
	require.NoError(t, c.For(100, Double{Data: a}))
	require.NoError(t, c.For(100, Double{Data: a}))
	// Read-after-write without a Barrier still observes program order.
	require.NoError(t, c.For(100, Add{In: a, Out: b, Amount: 3}))
	assert.Equal(t, 3, c.Dispatches())
	require.NoError(t, c.Submit(t.Context()))

	out, err := b.ReadUint32s()
	require.NoError(t, err)
	for i, v := range out {
		require.Equal(t, uint32(i)*4+3, v, "element %d", i) //nolint:gosec // small i
	}
}

func TestComputeContextBarrier(t *testing.T) {
	e := New()
	t.Cleanup(e.Close)
	cd := newCountingDevice()
	dev, err := e.NewDevice(cd)
	require.NoError(t, err)
	a := uint32Buffer(t, dev, sequence(16))
	b := uint32Buffer(t, dev, make([]uint32, 16))

	c := dev.CreateComputeContext()
	require.NoError(t, c.Barrier(a), "barrier before any dispatch only validates")
	require.NoError(t, c.For(16, Double{Data: a}))
	require.NoError(t, c.Barrier(a))
	require.NoError(t, c.For(16, Add{In: a, Out: b, Amount: 1}))
	require.NoError(t, c.Submit(t.Context()))

	assert.Contains(t, cd.events(), "barrier 1")
	assert.EqualValues(t, 1, cd.submits.Load(), "one submission per context")
	assert.EqualValues(t, 1, cd.recordings.Load())

	out, err := b.ReadUint32s()
	require.NoError(t, err)
	assert.Equal(t, uint32(2*5+1), out[5])
}

func TestComputeContextEmptyDispose(t *testing.T) {
	e := New()
	t.Cleanup(e.Close)
	cd := newCountingDevice()
	dev, err := e.NewDevice(cd)
	require.NoError(t, err)

	c := dev.CreateComputeContext()
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close(), "Close is idempotent")
	assert.Zero(t, cd.submits.Load())
	assert.Zero(t, cd.recordings.Load())

	c = dev.CreateComputeContext()
	assert.NoError(t, c.Submit(t.Context()))
	assert.Zero(t, cd.submits.Load())

	f := dev.CreateComputeContext().SubmitAsync()
	assert.NoError(t, f.Wait(t.Context()))
	assert.Zero(t, cd.submits.Load())
}

func TestComputeContextUseAfterSubmit(t *testing.T) {
	_, dev := newEngine(t)
	buf := uint32Buffer(t, dev, sequence(4))

	c := dev.CreateComputeContext()
	require.NoError(t, c.For(4, Double{Data: buf}))
	require.NoError(t, c.Submit(t.Context()))

	var ud *UseAfterDisposeError
	require.ErrorAs(t, c.For(4, Double{Data: buf}), &ud)
	assert.Equal(t, "ComputeContext", ud.Resource)
	assert.ErrorIs(t, c.Submit(t.Context()), ErrUseAfterDispose)
	assert.ErrorIs(t, c.Barrier(buf), ErrUseAfterDispose)
	assert.NoError(t, c.Close())
}

func TestComputeContextFailedDispatchRecordsNothing(t *testing.T) {
	e := New()
	t.Cleanup(e.Close)
	cd := newCountingDevice()
	dev, err := e.NewDevice(cd)
	require.NoError(t, err)
	a := uint32Buffer(t, dev, sequence(4))
	gone, err := dev.NewBuffer("gone", 16)
	require.NoError(t, err)
	gone.Dispose()

	c := dev.CreateComputeContext()
	require.ErrorIs(t, c.For(4, Add{In: a, Out: gone}), ErrUseAfterDispose)
	assert.Zero(t, cd.recordings.Load())
	assert.NotContains(t, cd.events(), "transition 0 Common->ShaderRead")
	assert.NoError(t, c.Close())
	assert.Zero(t, cd.submits.Load())
}

func TestDispatchValidation(t *testing.T) {
	_, dev := newEngine(t)
	buf := uint32Buffer(t, dev, sequence(4))

	assert.ErrorIs(t, dev.For(t.Context(), 0, Double{Data: buf}), ErrInvalidIterationCount)
	assert.ErrorIs(t, dev.For3D(t.Context(), 4, 0, 1, Double{Data: buf}), ErrInvalidIterationCount)
	assert.ErrorIs(t, dev.For(t.Context(), 4, nil), ErrNilShader)
	assert.ErrorIs(t, dev.For(t.Context(), 4, badConstants{Data: buf}), ErrConstantSize)
}

// badConstants writes one word more than it declares.
type badConstants struct{ Data Resource }

func (badConstants) Descriptor() *shader.Descriptor { return doubleDesc }
func (s badConstants) Resources() []Resource        { return []Resource{s.Data} }
func (badConstants) WriteConstants(w *shader.ConstantWriter) {
	w.Uint32(1)
}

func TestForEachTexture(t *testing.T) {
	_, dev := newEngine(t)
	tex, err := dev.NewTexture("target", 13, 9, gputypes.TextureFormatRGBA8Unorm)
	require.NoError(t, err)
	defer tex.Dispose()

	require.NoError(t, dev.ForEach(t.Context(), tex, Fill{Color: 0xBEEF}))

	img, err := tex.Image()
	require.NoError(t, err)
	for y := range 9 {
		for x := range 13 {
			c := img.RGBAAt(x, y)
			require.Equal(t, [4]uint8{0xEF, 0xBE, uint8(x), uint8(y)}, [4]uint8{c.R, c.G, c.B, c.A}, "texel %d,%d", x, y) //nolint:gosec // small coords
		}
	}

	buf := uint32Buffer(t, dev, sequence(4))
	assert.ErrorIs(t, dev.ForEach(t.Context(), tex, Double{Data: buf}), ErrForEachTarget)
	assert.ErrorIs(t, dev.ForEach(t.Context(), nil, Fill{}), ErrMissingResource)
}

func TestSubmitAsync(t *testing.T) {
	_, dev := newEngine(t)
	buf := uint32Buffer(t, dev, sequence(256))

	c := dev.CreateComputeContext()
	require.NoError(t, c.For(256, Double{Data: buf}))
	f := c.SubmitAsync()
	require.NoError(t, f.Wait(t.Context()))
	<-f.Done()
	assert.NoError(t, f.Err())

	require.NoError(t, dev.ForAsync(256, Double{Data: buf}).Wait(t.Context()))

	out, err := buf.ReadUint32s()
	require.NoError(t, err)
	assert.Equal(t, uint32(4*255), out[255])

	f = dev.ForAsync(0, Double{Data: buf})
	assert.ErrorIs(t, f.Wait(t.Context()), ErrInvalidIterationCount)
}

func TestFutureWaitCancelled(t *testing.T) {
	f := newFuture()
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	assert.ErrorIs(t, f.Wait(ctx), context.Canceled)
	assert.NoError(t, f.Err(), "pending future has no error")

	f.complete(ErrEngineClosed)
	assert.ErrorIs(t, f.Wait(t.Context()), ErrEngineClosed)
}

func TestSubmitAsyncAfterEngineClose(t *testing.T) {
	e, dev := newEngine(t)
	buf := uint32Buffer(t, dev, sequence(4))
	c := dev.CreateComputeContext()
	require.NoError(t, c.For(4, Double{Data: buf}))

	e.pool.Close()
	assert.ErrorIs(t, c.SubmitAsync().Wait(t.Context()), ErrEngineClosed)
}

func TestStaticSamplerWithoutTextures(t *testing.T) {
	_, dev := newEngine(t)
	buf := uint32Buffer(t, dev, sequence(8))
	require.NoError(t, dev.For(t.Context(), 8, Sampled{Data: buf}))

	out, err := buf.ReadUint32s()
	require.NoError(t, err)
	assert.Equal(t, uint32(14), out[7])
}

// Sampled requests a static sampler but binds no texture.
type Sampled struct{ Data Resource }

var sampledDesc = shader.NewBuilder("Sampled").
	ThreadGroup(64, 1, 1).
	ReadWriteBuffer().
	StaticSampler().
	Bytecode(testModule).
	Kernel(doubleDesc.Kernel).
	MustBuild()

func (Sampled) Descriptor() *shader.Descriptor        { return sampledDesc }
func (s Sampled) Resources() []Resource               { return []Resource{s.Data} }
func (Sampled) WriteConstants(*shader.ConstantWriter) {}
