// Package shader defines the immutable description of a compute shader type.
//
// A [Descriptor] is the contract between host code and the dispatch engine:
// thread-group extents, the size of the user constant buffer, the ordered
// binding slots, and either source text or precompiled bytecode. Descriptors
// are built once per shader type with [Builder] and never mutated.
//
// Shader instances write their scalar and vector fields through a
// [ConstantWriter]; the engine appends the three dispatch-size words.
//
// A [Kernel] is an optional CPU implementation of the same shader body,
// executed by the software backend.
package shader
