package gpucompute

import (
	"time"

	"github.com/gogpu/gpucompute/bytecode"
)

// Option configures an Engine during creation.
//
// Example:
//
//	// WGSL compiled by naga (default)
//	e := gpucompute.New()
//
//	// Precompiled shaders only
//	e := gpucompute.New(gpucompute.WithCompiler(nil))
type Option func(*options)

// options holds Engine configuration.
type options struct {
	compiler      bytecode.Compiler
	reflector     bytecode.Reflector
	profile       string
	asyncWorkers  int
	submitTimeout time.Duration
}

// defaultOptions returns the default engine options.
func defaultOptions() options {
	return options{
		compiler: bytecode.NagaCompiler{},
		profile:  bytecode.DefaultProfile,
	}
}

// WithCompiler sets the shader compiler. A nil compiler restricts the
// engine to descriptors with embedded bytecode.
func WithCompiler(c bytecode.Compiler) Option {
	return func(o *options) {
		o.compiler = c
	}
}

// WithReflector replaces the SPIR-V reflector, e.g. for another bytecode format.
func WithReflector(r bytecode.Reflector) Option {
	return func(o *options) {
		o.reflector = r
	}
}

// WithProfile sets the fixed compile profile, e.g. "spirv1.5".
func WithProfile(profile string) Option {
	return func(o *options) {
		if profile != "" {
			o.profile = profile
		}
	}
}

// WithAsyncWorkers sets the number of goroutines that submit and wait
// for asynchronous work. 0 means GOMAXPROCS.
func WithAsyncWorkers(n int) Option {
	return func(o *options) {
		o.asyncWorkers = n
	}
}

// WithSubmitTimeout bounds every wait the engine performs on behalf of a
// caller whose context carries no deadline. 0 disables the bound.
func WithSubmitTimeout(d time.Duration) Option {
	return func(o *options) {
		o.submitTimeout = d
	}
}
