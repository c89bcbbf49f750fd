// Package bytecode resolves the final GPU bytecode of a shader descriptor.
//
// A [Provider] returns embedded bytecode by reference or compiles the
// descriptor source with a [Compiler], then reflects the result once with a
// [Reflector] to catch undeclared double-precision use. [NagaCompiler]
// compiles WGSL to SPIR-V with github.com/gogpu/naga and [SPIRVReflector]
// inspects SPIR-V capabilities.
//
// Provider does not cache; build-once semantics belong to the pipeline cache.
package bytecode
