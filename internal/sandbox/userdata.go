// Copyright (C) 2013 dividuum. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package sandbox

import (
	"image/color"

	"github.com/hajimehoshi/ebiten/v2"
	lua "github.com/yuin/gopher-lua"

	"github.com/dividuum/info-beamer/internal/compositor"
	"github.com/dividuum/info-beamer/internal/resources"
)

const (
	texTypeName    = "ib_texture"
	fontTypeName   = "ib_font"
	shaderTypeName = "ib_shader"
	vncTypeName    = "ib_vnc"
)

func colorRGBA(r, g, b, a float32) color.Color {
	clamp := func(v float32) uint8 {
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		return uint8(v * 255)
	}
	return color.RGBA{clamp(r), clamp(g), clamp(b), clamp(a)}
}

// pushTexture wraps any drawable handle (a loaded image, a render_child/
// render_self/create_snapshot result) as userdata with draw()/size().
func (s *Sandbox) pushTexture(L *lua.LState, t texturer) {
	ud := L.NewUserData()
	ud.Value = t
	L.SetMetatable(ud, L.GetTypeMetatable(texTypeName))
	L.Push(ud)
}

func (s *Sandbox) registerTextureType() {
	L := s.L
	mt := L.NewTypeMetatable(texTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"draw": s.texDraw,
		"size": s.texSize,
	}))
}

func checkTexturer(L *lua.LState) texturer {
	ud := L.CheckUserData(1)
	t, ok := ud.Value.(texturer)
	if !ok {
		L.RaiseError("not a texture")
	}
	return t
}

func (s *Sandbox) texDraw(L *lua.LState) int {
	t := checkTexturer(L)
	x1 := float64(L.CheckNumber(2))
	y1 := float64(L.CheckNumber(3))
	x2 := float64(L.CheckNumber(4))
	y2 := float64(L.CheckNumber(5))
	alpha := float64(L.OptNumber(6, 1))
	s.drawTexturer(t, x1, y1, x2, y2, alpha)
	return 0
}

func (s *Sandbox) texSize(L *lua.LState) int {
	t := checkTexturer(L)
	w, h := t.Size()
	L.Push(lua.LNumber(w))
	L.Push(lua.LNumber(h))
	return 2
}

// stackGeoM converts the active render dispatch's current modelview matrix
// (as maintained by gl.push/pop/translate/rotate/scale, §4.C) to an
// ebiten.GeoM, so every draw call composes on top of it rather than
// ignoring it. Affine2D collapses the 4x4 modelview to the 2D component
// ebiten's GeoM can represent (see matrix.go's doc comment).
func stackGeoM(st *compositor.Stack) ebiten.GeoM {
	var m ebiten.GeoM
	if st == nil {
		return m
	}
	a, b, c, d, tx, ty := st.Affine2D()
	m.SetElement(0, 0, a)
	m.SetElement(0, 1, c)
	m.SetElement(0, 2, tx)
	m.SetElement(1, 0, b)
	m.SetElement(1, 1, d)
	m.SetElement(1, 2, ty)
	return m
}

// drawTexturer issues the actual draw against the currently bound render
// target, implementing the image handle's draw(x1,y1,x2,y2,alpha) method
// (§4.C, §9 "texture-like" trait). The local (x1,y1,x2,y2) placement is
// composed with the render dispatch's current gl stack transform, and
// routed through the active shader program when one is staged via
// shader:use (§4.C).
func (s *Sandbox) drawTexturer(t texturer, x1, y1, x2, y2, alpha float64) {
	dst := s.compositor.Current()
	src := t.Ebiten()
	w, h := t.Size()

	var geom ebiten.GeoM
	if w > 0 && h > 0 {
		geom.Scale((x2-x1)/float64(w), (y2-y1)/float64(h))
	}
	geom.Translate(x1, y1)
	geom.Concat(stackGeoM(s.compositor.Stack()))

	if sh := s.activeShader; sh != nil {
		program, uniforms := sh.DrawOptions()
		op := &ebiten.DrawRectShaderOptions{GeoM: geom, Uniforms: uniforms}
		op.Images[0] = src
		op.ColorScale.ScaleAlpha(float32(alpha))
		dst.DrawRectShader(int(x2-x1), int(y2-y1), program, op)
		return
	}

	op := &ebiten.DrawImageOptions{GeoM: geom}
	op.ColorScale.ScaleAlpha(float32(alpha))
	dst.DrawImage(src, op)
}

func (s *Sandbox) pushFont(L *lua.LState, f *resources.Font) {
	ud := L.NewUserData()
	ud.Value = f
	L.SetMetatable(ud, L.GetTypeMetatable(fontTypeName))
	L.Push(ud)
}

func (s *Sandbox) registerFontType() {
	L := s.L
	mt := L.NewTypeMetatable(fontTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"write": s.fontWrite,
	}))
}

// fontWrite implements font:write(x, y, text, size, r, g, b, a) -> advance
// (§4.C load_font / §6 font interface).
func (s *Sandbox) fontWrite(L *lua.LState) int {
	ud := L.CheckUserData(1)
	f, ok := ud.Value.(*resources.Font)
	if !ok {
		L.RaiseError("not a font")
	}
	x := float64(L.CheckNumber(2))
	y := float64(L.CheckNumber(3))
	str := L.CheckString(4)
	size := float64(L.CheckNumber(5))
	r := float32(L.OptNumber(6, 1))
	g := float32(L.OptNumber(7, 1))
	b := float32(L.OptNumber(8, 1))
	a := float32(L.OptNumber(9, 1))

	adv, err := f.Write(s.compositor.Current(), stackGeoM(s.compositor.Stack()), x, y, str, size, colorRGBA(r, g, b, a))
	if err != nil {
		L.RaiseError("%s", err.Error())
	}
	L.Push(lua.LNumber(adv))
	return 1
}

func (s *Sandbox) pushShader(L *lua.LState, sh *resources.Shader) {
	ud := L.NewUserData()
	ud.Value = sh
	L.SetMetatable(ud, L.GetTypeMetatable(shaderTypeName))
	L.Push(ud)
}

func (s *Sandbox) registerShaderType() {
	L := s.L
	mt := L.NewTypeMetatable(shaderTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"use":        s.shaderUse,
		"deactivate": s.shaderDeactivate,
	}))
}

// shaderUse implements shader:use({name=value, ...}) (§6 shader interface,
// §9 uniform dynamic typing: numbers, vectors as Lua tables, texture-like
// handles resolved via TexID).
func (s *Sandbox) shaderUse(L *lua.LState) int {
	sh := checkShader(L)
	uniforms := map[string]interface{}{}
	if L.GetTop() >= 2 {
		tbl := L.CheckTable(2)
		tbl.ForEach(func(k, v lua.LValue) {
			name := k.String()
			uniforms[name] = luaUniformValue(v)
		})
	}
	sh.Use(uniforms)
	s.activeShader = sh
	return 0
}

func (s *Sandbox) shaderDeactivate(L *lua.LState) int {
	sh := checkShader(L)
	sh.Deactivate()
	if s.activeShader == sh {
		s.activeShader = nil
	}
	return 0
}

func checkShader(L *lua.LState) *resources.Shader {
	ud := L.CheckUserData(1)
	sh, ok := ud.Value.(*resources.Shader)
	if !ok {
		L.RaiseError("not a shader")
	}
	return sh
}

// luaUniformValue converts a Lua uniform value to the representation
// resources.Shader.Use expects: a plain number, a texture-like userdata
// (left as-is so Shader.Use can resolve its TexID), or a []float64 vector
// decoded from a Lua array table (one element per array entry).
func luaUniformValue(v lua.LValue) interface{} {
	switch x := v.(type) {
	case lua.LNumber:
		return float64(x)
	case *lua.LUserData:
		if t, ok := x.Value.(texturer); ok {
			return texAdapter{t}
		}
		return x.Value
	case *lua.LTable:
		n := x.Len()
		vec := make([]float64, n)
		for i := 1; i <= n; i++ {
			vec[i-1] = float64(lua.LVAsNumber(x.RawGetInt(i)))
		}
		return vec
	default:
		return x.String()
	}
}

// texAdapter makes a texturer satisfy resources.Texture (TexID+Size) for
// resources.Shader.Use's uniform resolution.
type texAdapter struct{ texturer }

func (t texAdapter) TexID() uint64 {
	type idable interface{ TexID() uint64 }
	if i, ok := t.texturer.(idable); ok {
		return i.TexID()
	}
	return 0
}

func (s *Sandbox) pushVNC(L *lua.LState, v *resources.VNC) {
	ud := L.NewUserData()
	ud.Value = v
	L.SetMetatable(ud, L.GetTypeMetatable(vncTypeName))
	L.Push(ud)
}

func (s *Sandbox) registerVNCType() {
	L := s.L
	mt := L.NewTypeMetatable(vncTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"draw":  s.vncDraw,
		"size":  s.vncSize,
		"alive": s.vncAlive,
		"close": s.vncClose,
	}))
}

func checkVNC(L *lua.LState) *resources.VNC {
	ud := L.CheckUserData(1)
	v, ok := ud.Value.(*resources.VNC)
	if !ok {
		L.RaiseError("not a vnc handle")
	}
	return v
}

func (s *Sandbox) vncDraw(L *lua.LState) int {
	v := checkVNC(L)
	x1 := float64(L.CheckNumber(2))
	y1 := float64(L.CheckNumber(3))
	x2 := float64(L.CheckNumber(4))
	y2 := float64(L.CheckNumber(5))
	alpha := float64(L.OptNumber(6, 1))
	v.Draw(s.compositor.Current(), stackGeoM(s.compositor.Stack()), x1, y1, x2, y2, alpha)
	return 0
}

func (s *Sandbox) vncSize(L *lua.LState) int {
	w, h := checkVNC(L).Size()
	L.Push(lua.LNumber(w))
	L.Push(lua.LNumber(h))
	return 2
}

func (s *Sandbox) vncAlive(L *lua.LState) int {
	L.Push(lua.LBool(checkVNC(L).Alive()))
	return 1
}

func (s *Sandbox) vncClose(L *lua.LState) int {
	if err := checkVNC(L).Close(); err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}
