// Package software implements backend.Device on the CPU.
//
// Pipelines execute the shader.Kernel attached to a descriptor instead of
// GPU bytecode, one call per thread with the same global ids and the same
// dispatch-size constants a GPU would see. Hosts without a GPU and tests use
// it to run compute code unchanged.
//
// Importing the package registers it as backend "software".
package software
