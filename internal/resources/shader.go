// Copyright (C) 2013 dividuum. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package resources

import (
	"fmt"

	"github.com/hajimehoshi/ebiten/v2"
)

// Shader implements the §6 shader interface: `compile(vs, fs) -> program`,
// `use(uniforms_map)`, `deactivate()`. Uniform values are numbers,
// 2/3/4-vectors, or texture-like handles (§9).
//
// Ebitengine's GPU backend compiles a single Kage program rather than
// separate vertex/fragment stages (SPEC_FULL.md Open Question 4); vs is
// accepted for interface fidelity with the original two-string signature
// and ignored, fs is compiled as the Kage fragment program.
type Shader struct {
	program *ebiten.Shader
	active  map[string]interface{}
}

// CompileShader compiles fs (a Kage fragment program) into a Shader.
// Compiler/linker diagnostics surface as the returned error, which the
// sandbox propagates to the script per §4.C ("compiler/linker diagnostic
// surfaces as error").
func CompileShader(vs, fs string) (*Shader, error) {
	program, err := ebiten.NewShader([]byte(fs))
	if err != nil {
		return nil, fmt.Errorf("resources: compile shader: %w", err)
	}
	return &Shader{program: program}, nil
}

// Use stages the uniform values for the next draw using this shader.
// Texture-like values (anything satisfying Texture) are resolved to their
// TexID via the accessor described in §9; everything else is passed
// through as-is (number, or a []float64 vector).
func (s *Shader) Use(uniforms map[string]interface{}) {
	resolved := make(map[string]interface{}, len(uniforms))
	for k, v := range uniforms {
		if tex, ok := v.(Texture); ok {
			resolved[k] = tex.TexID()
			continue
		}
		resolved[k] = v
	}
	s.active = resolved
}

// Deactivate clears the staged uniforms.
func (s *Shader) Deactivate() {
	s.active = nil
}

// DrawOptions returns the compiled program and its currently staged
// uniforms, for the caller (internal/sandbox's drawTexturer, which owns
// every texture-like draw dispatch) to pass to ebiten.DrawRectShader in
// place of the plain DrawImage path used when no shader is active.
func (s *Shader) DrawOptions() (*ebiten.Shader, map[string]interface{}) {
	return s.program, s.active
}
