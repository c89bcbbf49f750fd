package gpucompute

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/gpucompute/backend"
	"github.com/gogpu/gpucompute/cache"
	"github.com/gogpu/gpucompute/shader"
)

var doubleType = reflect.TypeOf(Double{})

func TestPipelineCacheStampede(t *testing.T) {
	e := New()
	t.Cleanup(e.Close)
	cd := newCountingDevice()
	cd.delay = 20 * time.Millisecond
	dev, err := e.NewDevice(cd)
	require.NoError(t, err)

	const n = 32
	entries := make([]*PipelineEntry, n)
	errs := make([]error, n)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			entries[i], errs[i] = e.Pipelines().GetOrCreate(dev, doubleType, Double{}.Descriptor)
		}()
	}
	close(start)
	wg.Wait()

	for i := range n {
		require.NoError(t, errs[i])
		assert.Same(t, entries[0], entries[i], "caller %d got a different entry", i)
	}
	assert.EqualValues(t, 1, cd.signatures.Load())
	assert.EqualValues(t, 1, cd.pipelines.Load())
	assert.EqualValues(t, 1, e.Pipelines().Stats().Builds)
	assert.Equal(t, 1, e.Pipelines().Len())
}

func TestPipelineCacheHitIsShared(t *testing.T) {
	e, dev := newEngine(t)
	first, err := e.Pipelines().GetOrCreate(dev, doubleType, Double{}.Descriptor)
	require.NoError(t, err)

	factoryCalls := 0
	second, err := e.Pipelines().GetOrCreate(dev, doubleType, func() *shader.Descriptor {
		factoryCalls++
		return doubleDesc
	})
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Zero(t, factoryCalls, "factory must not run on a hit")

	got, ok := e.Pipelines().Lookup(dev, doubleType)
	assert.True(t, ok)
	assert.Same(t, first, got)
	assert.Equal(t, doubleType, got.ShaderType())
}

func TestPipelineCachePerDevice(t *testing.T) {
	e, a := newEngine(t)
	b, err := e.NewDevice(newCountingDevice())
	require.NoError(t, err)

	ea, err := e.Pipelines().GetOrCreate(a, doubleType, Double{}.Descriptor)
	require.NoError(t, err)
	eb, err := e.Pipelines().GetOrCreate(b, doubleType, Double{}.Descriptor)
	require.NoError(t, err)
	assert.NotSame(t, ea, eb)
	assert.Equal(t, 2, e.Pipelines().Len())
}

func TestPipelineCacheFailureNotCached(t *testing.T) {
	e := New()
	t.Cleanup(e.Close)
	cd := newCountingDevice()
	cd.delay = 10 * time.Millisecond
	boom := errors.New("driver hiccup")
	cd.setPipelineErr(boom)
	dev, err := e.NewDevice(cd)
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.Pipelines().GetOrCreate(dev, doubleType, Double{}.Descriptor)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		assert.ErrorIs(t, err, boom)
	}
	assert.Zero(t, e.Pipelines().Len())
	created, destroyed := 0, 0
	for _, ev := range cd.events() {
		switch ev {
		case "create signature Double":
			created++
		case "destroy signature Double":
			destroyed++
		}
	}
	assert.Positive(t, created)
	assert.Equal(t, created, destroyed, "signatures of failed builds must be released")

	cd.setPipelineErr(nil)
	entry, err := e.Pipelines().GetOrCreate(dev, doubleType, Double{}.Descriptor)
	require.NoError(t, err)
	assert.NotNil(t, entry.Pipeline())
}

func TestPipelineCacheEmbeddedBytecodeNeverCompiles(t *testing.T) {
	cc := &countingCompiler{module: testModule}
	e, dev := newEngine(t, WithCompiler(cc))

	entry, err := e.Pipelines().GetOrCreate(dev, doubleType, Double{}.Descriptor)
	require.NoError(t, err)
	assert.Zero(t, cc.calls.Load())
	assert.True(t, entry.Bytecode().Embedded)
}

// Compiled has only WGSL source, compiled through the engine compiler.
type Compiled struct{ Data Resource }

var compiledDesc = shader.NewBuilder("Compiled").
	ThreadGroup(64, 1, 1).
	ReadWriteBuffer().
	Source("@compute @workgroup_size(64) fn main() {}").
	Kernel(doubleDesc.Kernel).
	MustBuild()

func (Compiled) Descriptor() *shader.Descriptor        { return compiledDesc }
func (s Compiled) Resources() []Resource               { return []Resource{s.Data} }
func (Compiled) WriteConstants(*shader.ConstantWriter) {}

func TestPipelineCacheTeardownOrder(t *testing.T) {
	cc := &countingCompiler{module: testModule}
	e := New(WithCompiler(cc))
	t.Cleanup(e.Close)
	cd := newCountingDevice()
	dev, err := e.NewDevice(cd)
	require.NoError(t, err)

	entry, err := e.Pipelines().GetOrCreate(dev, reflect.TypeOf(Compiled{}), Compiled{}.Descriptor)
	require.NoError(t, err)
	assert.EqualValues(t, 1, cc.calls.Load())
	assert.False(t, entry.Bytecode().Embedded)
	assert.False(t, entry.Bytecode().Released())

	dev.Destroy()
	assert.Zero(t, e.Pipelines().Len())
	assert.True(t, entry.Bytecode().Released(), "owned bytecode is released at teardown")
	assert.Nil(t, entry.Pipeline())
	assert.Nil(t, entry.Signature())

	events := cd.events()
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, []string{"destroy pipeline Compiled", "destroy signature Compiled"}, events[len(events)-2:])
}

func TestPipelineCacheCompileErrorReachesCaller(t *testing.T) {
	cc := &countingCompiler{err: errors.New("1:5: expected '('")}
	e, dev := newEngine(t, WithCompiler(cc))

	_, err := e.Pipelines().GetOrCreate(dev, reflect.TypeOf(Compiled{}), Compiled{}.Descriptor)
	var ce *ShaderCompilationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "1:5: expected '('", ce.Diagnostics)
	assert.Equal(t, "Compiled", ce.Shader)
	assert.Zero(t, e.Pipelines().Len())
}

// Doubles declares double precision.
type Doubles struct{ Data Resource }

var doublesDesc = shader.NewBuilder("Doubles").
	ThreadGroup(64, 1, 1).
	ReadWriteBuffer().
	DoublePrecision().
	Bytecode(doubleModule).
	Kernel(func(*shader.Invocation) {}).
	MustBuild()

func (Doubles) Descriptor() *shader.Descriptor        { return doublesDesc }
func (s Doubles) Resources() []Resource               { return []Resource{s.Data} }
func (Doubles) WriteConstants(*shader.ConstantWriter) {}

// Undeclared uses doubles without declaring them.
type Undeclared struct{ Data Resource }

var undeclaredDesc = shader.NewBuilder("Undeclared").
	ThreadGroup(64, 1, 1).
	ReadWriteBuffer().
	Bytecode(doubleModule).
	Kernel(func(*shader.Invocation) {}).
	MustBuild()

func (Undeclared) Descriptor() *shader.Descriptor        { return undeclaredDesc }
func (s Undeclared) Resources() []Resource               { return []Resource{s.Data} }
func (Undeclared) WriteConstants(*shader.ConstantWriter) {}

func TestPipelineCacheDoublePrecision(t *testing.T) {
	e := New()
	t.Cleanup(e.Close)
	cd := newCountingDevice()
	cd.noDoubles = true
	noDoubles, err := e.NewDevice(cd)
	require.NoError(t, err)
	_, doubles := newEngine(t)

	_, err = e.Pipelines().GetOrCreate(noDoubles, reflect.TypeOf(Doubles{}), Doubles{}.Descriptor)
	assert.ErrorIs(t, err, ErrDoublePrecisionUnsupported)
	assert.Zero(t, cd.signatures.Load(), "no GPU objects for an unsupported shader")

	_, err = doubles.engine.Pipelines().GetOrCreate(doubles, reflect.TypeOf(Doubles{}), Doubles{}.Descriptor)
	assert.NoError(t, err)

	_, err = doubles.engine.Pipelines().GetOrCreate(doubles, reflect.TypeOf(Undeclared{}), Undeclared{}.Descriptor)
	var dp *DoublePrecisionNotDeclaredError
	assert.ErrorAs(t, err, &dp)
}

// Wide exceeds the software device's Z limit.
type Wide struct{ Data Resource }

var wideDesc = shader.NewBuilder("Wide").
	ThreadGroup(1, 1, 128).
	ReadWriteBuffer().
	Bytecode(testModule).
	Kernel(func(*shader.Invocation) {}).
	MustBuild()

func (Wide) Descriptor() *shader.Descriptor        { return wideDesc }
func (s Wide) Resources() []Resource               { return []Resource{s.Data} }
func (Wide) WriteConstants(*shader.ConstantWriter) {}

func TestPipelineCacheThreadGroupLimit(t *testing.T) {
	e, dev := newEngine(t)
	_, err := e.Pipelines().GetOrCreate(dev, reflect.TypeOf(Wide{}), Wide{}.Descriptor)
	assert.ErrorIs(t, err, ErrThreadGroupTooLarge)
}

func TestPipelineCacheInvalidDescriptor(t *testing.T) {
	e, dev := newEngine(t)
	bad := &shader.Descriptor{Name: "Bad", ThreadGroup: shader.ThreadGroupSize{X: 1, Y: 1, Z: 1}}
	_, err := e.Pipelines().GetOrCreate(dev, reflect.TypeOf(struct{ bad int }{}), func() *shader.Descriptor { return bad })
	assert.ErrorIs(t, err, shader.ErrNoBytecodeSource)
}

func TestPipelineCacheStaleGenerationNotBuilt(t *testing.T) {
	e := New()
	t.Cleanup(e.Close)
	cd := newCountingDevice()
	dev, err := e.NewDevice(cd)
	require.NoError(t, err)

	// Take the key, then recover before the build starts.
	be, gen := dev.current()
	key := pipelineKey{device: dev.id, generation: gen, shader: doubleType}
	fresh := newCountingDevice()
	require.NoError(t, dev.Recover(fresh))

	pc := e.Pipelines()
	_, err = pc.entries.GetOrBuild(key, func() (*PipelineEntry, error) {
		return pc.buildCurrent(dev, be, key, Double{}.Descriptor)
	})
	assert.ErrorIs(t, err, cache.ErrInvalidated)
	assert.Zero(t, cd.pipelines.Load())
	assert.Zero(t, pc.Len())

	entry, err := pc.GetOrCreate(dev, doubleType, Double{}.Descriptor)
	require.NoError(t, err)
	assert.Equal(t, backend.Device(fresh), entry.owner)
	assert.Equal(t, gen+1, entry.key.generation)
	assert.Equal(t, int32(1), fresh.pipelines.Load())
	assert.Equal(t, 1, pc.Len())
}
