// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"bytes"
	"context"
	"fmt"
	"go/format"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"unicode"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/hlsl"

	"github.com/gogpu/gpucompute/bytecode"
)

type config struct {
	input   string
	pkg     string
	name    string
	dir     string
	profile string
	hlsl    string
	debug   bool
}

type result struct {
	code       []byte
	reflection bytecode.Reflection
	written    []string
}

// build compiles cfg.input and writes the bytecode, the Go embed file and
// optionally the HLSL translation.
func build(ctx context.Context, cfg config) (*result, error) {
	src, err := os.ReadFile(cfg.input)
	if err != nil {
		return nil, err
	}
	if cfg.profile == "" {
		cfg.profile = bytecode.DefaultProfile
	}
	if cfg.dir == "" {
		cfg.dir = filepath.Dir(cfg.input)
	}
	base := strings.TrimSuffix(filepath.Base(cfg.input), filepath.Ext(cfg.input))
	if cfg.name == "" {
		cfg.name = exportedName(base)
	}
	if !token.IsIdentifier(cfg.name) || !token.IsExported(cfg.name) {
		return nil, fmt.Errorf("name %q is not an exported identifier", cfg.name)
	}
	if cfg.pkg == "" {
		abs, err := filepath.Abs(cfg.dir)
		if err != nil {
			return nil, err
		}
		cfg.pkg = packageName(filepath.Base(abs))
	}

	code, err := bytecode.NagaCompiler{Debug: cfg.debug}.Compile(ctx, string(src), "", cfg.profile)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", cfg.input, err)
	}
	refl, err := bytecode.SPIRVReflector{}.Reflect(code)
	if err != nil {
		return nil, fmt.Errorf("reflect %s: %w", cfg.input, err)
	}
	res := &result{code: code, reflection: refl}

	if err := os.MkdirAll(cfg.dir, 0o755); err != nil {
		return nil, err
	}
	spv := base + ".spv"
	if err := res.write(filepath.Join(cfg.dir, spv), code); err != nil {
		return nil, err
	}

	gen, err := generate(embedFile{
		Source:                  filepath.Base(cfg.input),
		Package:                 cfg.pkg,
		Name:                    cfg.name,
		Profile:                 cfg.profile,
		Blob:                    spv,
		Size:                    len(code),
		RequiresDoublePrecision: refl.RequiresDoublePrecision,
	})
	if err != nil {
		return nil, err
	}
	if err := res.write(filepath.Join(cfg.dir, base+"_spirv.go"), gen); err != nil {
		return nil, err
	}

	if cfg.hlsl != "" {
		text, err := translateHLSL(string(src))
		if err != nil {
			return nil, err
		}
		if err := res.write(cfg.hlsl, []byte(text)); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r *result) write(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // generated sources are world readable
		return err
	}
	r.written = append(r.written, path)
	return nil
}

// translateHLSL lowers the WGSL module and emits HLSL for every entry point.
func translateHLSL(src string) (string, error) {
	ast, err := naga.Parse(src)
	if err != nil {
		return "", err
	}
	module, err := naga.LowerWithSource(ast, src)
	if err != nil {
		return "", err
	}
	text, _, err := hlsl.Compile(module, hlsl.DefaultOptions())
	if err != nil {
		return "", fmt.Errorf("hlsl: %w", err)
	}
	return text, nil
}

type embedFile struct {
	Source                  string
	Package                 string
	Name                    string
	Profile                 string
	Blob                    string
	Size                    int
	RequiresDoublePrecision bool
}

var embedTemplate = template.Must(template.New("embed").Parse(`// Code generated by shaderc from {{.Source}}. DO NOT EDIT.

package {{.Package}}

import _ "embed"

// {{.Name}}SPIRV is the {{.Profile}} bytecode of {{.Source}} ({{.Size}} bytes).
//
//go:embed {{.Blob}}
var {{.Name}}SPIRV []byte

// {{.Name}}RequiresDoublePrecision reports whether the bytecode uses 64-bit floats.
const {{.Name}}RequiresDoublePrecision = {{.RequiresDoublePrecision}}
`))

func generate(f embedFile) ([]byte, error) {
	var buf bytes.Buffer
	if err := embedTemplate.Execute(&buf, f); err != nil {
		return nil, err
	}
	return format.Source(buf.Bytes())
}

// exportedName turns a file stem such as "gaussian_blur" into "GaussianBlur".
func exportedName(stem string) string {
	var b strings.Builder
	upper := true
	for _, r := range stem {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	name := b.String()
	if name == "" || !unicode.IsLetter(rune(name[0])) {
		name = "Shader" + name
	}
	return name
}

func packageName(dir string) string {
	name := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, dir)
	if name == "" || !unicode.IsLetter(rune(name[0])) {
		return "shaders"
	}
	return name
}
