// Command shaderc precompiles WGSL compute shaders for gpucompute.
//
// It compiles the source to SPIR-V with naga, reflects the result, writes the
// bytecode next to a generated Go file that embeds it, and optionally emits
// the HLSL translation of the module.
//
// Usage:
//
//	shaderc [options] <input.wgsl>
//
// Examples:
//
//	shaderc -pkg kernels -name Blur blur.wgsl       # writes blur.spv and blur_spirv.go
//	shaderc -hlsl blur.hlsl blur.wgsl               # also emits HLSL
//	shaderc -profile spirv1.5 -dir out blur.wgsl    # target SPIR-V 1.5
//
// The generated variable is meant for shader.Descriptor.EmbeddedBytecode,
// which makes pipeline builds skip compilation entirely.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("shaderc", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var cfg config
	fs.StringVar(&cfg.pkg, "pkg", "", "package of the generated file (default: output directory name)")
	fs.StringVar(&cfg.name, "name", "", "exported name prefix (default: derived from the input file)")
	fs.StringVar(&cfg.dir, "dir", "", "output directory (default: directory of the input)")
	fs.StringVar(&cfg.profile, "profile", "", "SPIR-V profile, e.g. spirv1.3")
	fs.StringVar(&cfg.hlsl, "hlsl", "", "also write the HLSL translation to this file")
	fs.BoolVar(&cfg.debug, "debug", false, "include debug info in the SPIR-V")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: shaderc [options] <input.wgsl>\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "shaderc: exactly one input file required")
		fs.Usage()
		return 2
	}
	cfg.input = fs.Arg(0)

	res, err := build(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "shaderc: %v\n", err)
		return 1
	}
	for _, f := range res.written {
		fmt.Fprintf(stdout, "wrote %s\n", f)
	}
	return 0
}
