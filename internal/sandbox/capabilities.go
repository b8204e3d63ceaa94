// Copyright (C) 2013 dividuum. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package sandbox

import (
	"path/filepath"
	"runtime"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	lua "github.com/yuin/gopher-lua"

	"github.com/dividuum/info-beamer/internal/resources"
	"github.com/dividuum/info-beamer/internal/tree"
)

// maxMatrixDepth bounds gl.push() nesting (§4.C: "a script may not push
// more than a bounded number of frames"), grounded on main.c's MAX_GL_PUSH.
const maxMatrixDepth = 64

// texturer is satisfied by every handle the draw()/size() capability
// methods need: a loaded image, a video's current frame, or a compositor
// render-to-image result.
type texturer interface {
	Ebiten() *ebiten.Image
	Size() (int, int)
}

// registerCapabilities installs the full node capability surface of §4.C
// into s.L's global table.
func (s *Sandbox) registerCapabilities() {
	L := s.L

	L.SetGlobal("now", L.NewFunction(s.luaNow))
	L.SetGlobal("setup", L.NewFunction(s.luaSetup))
	L.SetGlobal("print", L.NewFunction(s.luaPrint))
	L.SetGlobal("set_alias", L.NewFunction(s.luaSetAlias))
	L.SetGlobal("render_self", L.NewFunction(s.luaRenderSelf))
	L.SetGlobal("render_child", L.NewFunction(s.luaRenderChild))
	L.SetGlobal("load_image", L.NewFunction(s.luaLoadImage))
	L.SetGlobal("load_video", L.NewFunction(s.luaLoadVideo))
	L.SetGlobal("load_font", L.NewFunction(s.luaLoadFont))
	L.SetGlobal("load_file", L.NewFunction(s.luaLoadFile))
	L.SetGlobal("create_snapshot", L.NewFunction(s.luaCreateSnapshot))
	L.SetGlobal("create_shader", L.NewFunction(s.luaCreateShader))
	L.SetGlobal("create_vnc", L.NewFunction(s.luaCreateVnc))
	L.SetGlobal("send_child", L.NewFunction(s.luaSendChild))

	gl := L.NewTable()
	L.SetFuncs(gl, map[string]lua.LGFunction{
		"clear":       s.luaGlClear,
		"push":        s.luaGlPush,
		"pop":         s.luaGlPop,
		"rotate":      s.luaGlRotate,
		"translate":   s.luaGlTranslate,
		"scale":       s.luaGlScale,
		"ortho":       s.luaGlOrtho,
		"perspective": s.luaGlPerspective,
	})
	L.SetGlobal("gl", gl)

	s.registerTextureType()
	s.registerFontType()
	s.registerShaderType()
	s.registerVNCType()
}

// requireRendering raises a Lua error unless called from within this
// node's render dispatch (main.c's get_rendering_node assertion).
func (s *Sandbox) requireRendering(L *lua.LState) {
	if s.node.MatrixDepth == tree.NotRendering {
		L.RaiseError("only callable from render")
	}
}

// processStart is the base now() counts seconds from.
var processStart = time.Now()

func (s *Sandbox) luaNow(L *lua.LState) int {
	L.Push(lua.LNumber(s.now.Sub(processStart).Seconds()))
	return 1
}

func (s *Sandbox) luaSetup(L *lua.LState) int {
	w := int(L.CheckNumber(1))
	h := int(L.CheckNumber(2))
	if err := s.node.Setup(w, h); err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

func (s *Sandbox) luaPrint(L *lua.LState) int {
	n := L.GetTop()
	line := ""
	for i := 1; i <= n; i++ {
		if i > 1 {
			line += "\t"
		}
		line += L.ToStringMeta(L.Get(i)).String()
	}
	s.node.Print(line)
	return 0
}

func (s *Sandbox) luaSetAlias(L *lua.LState) int {
	if L.GetTop() == 0 {
		L.Push(lua.LString(s.node.Alias))
		return 1
	}
	alias := L.CheckString(1)
	if err := s.node.Tree.SetAlias(s.node, alias); err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

func (s *Sandbox) luaRenderSelf(L *lua.LState) int {
	img := s.compositor.RenderToImage(s.node, s.now)
	s.pushTexture(L, img)
	return 1
}

func (s *Sandbox) luaRenderChild(L *lua.LState) int {
	name := L.CheckString(1)
	if s.node.RenderChildRemaining <= 0 {
		L.RaiseError("too many childs rendered")
	}
	s.node.RenderChildRemaining--
	child := s.node.ChildByName(name)
	if child == nil {
		L.RaiseError("child %s not found", name)
	}
	img := s.compositor.RenderToImage(child, s.now)
	s.pushTexture(L, img)
	return 1
}

// luaSendChild implements send_child(name, string) (§4.G "Intra-tree
// messaging": "a parent may call send_child(name, string) which delivers
// event('msg', string) into the named child's sandbox").
func (s *Sandbox) luaSendChild(L *lua.LState) int {
	name := L.CheckString(1)
	payload := L.CheckString(2)
	child := s.node.ChildByName(name)
	if child == nil {
		L.RaiseError("child %s not found", name)
	}
	if child.Sandbox == nil {
		return 0
	}
	if err := child.Sandbox.Event("msg", payload); err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

func (s *Sandbox) luaCreateSnapshot(L *lua.LState) int {
	s.requireRendering(L)
	if s.node.SnapshotRemaining <= 0 {
		L.RaiseError("too many snapshots")
	}
	s.node.SnapshotRemaining--
	s.node.ResourceInitCounter++
	img := s.compositor.Snapshot(s.node.Width, s.node.Height)
	s.pushTexture(L, img)
	return 1
}

func (s *Sandbox) luaLoadImage(L *lua.LState) int {
	p := filepath.Join(s.dir, L.CheckString(1))
	img, err := resources.LoadImage(p)
	if err != nil {
		L.RaiseError("%s", err.Error())
	}
	w, h := img.Size()
	size := int64(w) * int64(h) * 4
	if err := s.arena.Reserve(size); err != nil {
		img.Dispose()
		L.RaiseError("%s", err.Error())
	}
	s.images = append(s.images, img)
	s.node.ResourceInitCounter++

	// Release the reservation when the script drops its last reference and
	// the image becomes unreachable, same gopher-lua-has-no-__gc rationale
	// as compositor.wrapImage's finalizer (see DESIGN.md); teardown() also
	// disposes any image still live at reboot, independent of this path.
	arena := s.arena
	runtime.SetFinalizer(img, func(*resources.Image) {
		arena.Release(size)
	})

	s.pushTexture(L, img)
	return 1
}

// luaLoadVideo implements the load_video() seam (§6 video interface); no
// container/codec decoder ships in this build (decoding itself is an
// out-of-scope external concern, §1), so it always reports the resource
// as unavailable rather than silently returning a blank texture.
func (s *Sandbox) luaLoadVideo(L *lua.LState) int {
	L.RaiseError("video decoding unavailable: no decoder configured for %s", L.CheckString(1))
	return 0
}

func (s *Sandbox) luaLoadFont(L *lua.LState) int {
	p := filepath.Join(s.dir, L.CheckString(1))
	f, err := resources.LoadFont(p)
	if err != nil {
		L.RaiseError("%s", err.Error())
	}
	s.fonts = append(s.fonts, f)
	s.node.ResourceInitCounter++
	s.pushFont(L, f)
	return 1
}

func (s *Sandbox) luaLoadFile(L *lua.LState) int {
	p := filepath.Join(s.dir, L.CheckString(1))
	data, err := resources.LoadFile(p)
	if err != nil {
		L.RaiseError("%s", err.Error())
	}
	s.node.ResourceInitCounter++
	if err := s.arena.Reserve(int64(len(data))); err != nil {
		L.RaiseError("%s", err.Error())
	}
	L.Push(lua.LString(string(data)))
	return 1
}

func (s *Sandbox) luaCreateShader(L *lua.LState) int {
	vs := L.CheckString(1)
	fs := L.CheckString(2)
	sh, err := resources.CompileShader(vs, fs)
	if err != nil {
		L.RaiseError("%s", err.Error())
	}
	s.shaders = append(s.shaders, sh)
	s.node.ResourceInitCounter++
	s.pushShader(L, sh)
	return 1
}

func (s *Sandbox) luaCreateVnc(L *lua.LState) int {
	host := L.CheckString(1)
	port := int(L.OptNumber(2, 5900))
	v, err := resources.OpenVNC(host, port)
	if err != nil {
		L.RaiseError("%s", err.Error())
	}
	s.vncs = append(s.vncs, v)
	s.node.ResourceInitCounter++
	s.pushVNC(L, v)
	return 1
}

func (s *Sandbox) luaGlClear(L *lua.LState) int {
	s.requireRendering(L)
	r := float32(L.CheckNumber(1))
	g := float32(L.CheckNumber(2))
	b := float32(L.CheckNumber(3))
	a := float32(L.CheckNumber(4))
	s.compositor.Current().Fill(colorRGBA(r, g, b, a))
	return 0
}

func (s *Sandbox) luaGlPush(L *lua.LState) int {
	s.requireRendering(L)
	if s.compositor.Stack().Depth() >= maxMatrixDepth {
		L.RaiseError("too many pushes")
	}
	s.compositor.Stack().Push()
	s.node.MatrixDepth++
	return 0
}

func (s *Sandbox) luaGlPop(L *lua.LState) int {
	s.requireRendering(L)
	if !s.compositor.Stack().Pop() {
		L.RaiseError("nothing to pop")
	}
	s.node.MatrixDepth--
	return 0
}

func (s *Sandbox) luaGlRotate(L *lua.LState) int {
	s.requireRendering(L)
	angle := float64(L.CheckNumber(1))
	// x, y, z axis components are accepted for interface fidelity with the
	// original's arbitrary-axis glRotated, but only Z-axis rotation is
	// actually representable by the 2D compositing stack (DESIGN.md, Open
	// Question resolutions: matrix stack dimensionality).
	_ = L.CheckNumber(2)
	_ = L.CheckNumber(3)
	_ = L.CheckNumber(4)
	s.compositor.Stack().Rotate(angle * (3.141592653589793 / 180))
	return 0
}

func (s *Sandbox) luaGlTranslate(L *lua.LState) int {
	s.requireRendering(L)
	x := float64(L.CheckNumber(1))
	y := float64(L.CheckNumber(2))
	z := float64(L.OptNumber(3, 0))
	s.compositor.Stack().Translate(x, y, z)
	return 0
}

func (s *Sandbox) luaGlScale(L *lua.LState) int {
	s.requireRendering(L)
	x := float64(L.CheckNumber(1))
	y := float64(L.CheckNumber(2))
	z := float64(L.OptNumber(3, 1))
	s.compositor.Stack().Scale(x, y, z)
	return 0
}

func (s *Sandbox) luaGlOrtho(L *lua.LState) int {
	s.requireRendering(L)
	left := float64(L.CheckNumber(1))
	right := float64(L.CheckNumber(2))
	bottom := float64(L.CheckNumber(3))
	top := float64(L.CheckNumber(4))
	near := float64(L.CheckNumber(5))
	far := float64(L.CheckNumber(6))
	s.compositor.Stack().SetOrtho(left, right, bottom, top, near, far)
	return 0
}

func (s *Sandbox) luaGlPerspective(L *lua.LState) int {
	s.requireRendering(L)
	fovy := float64(L.CheckNumber(1))
	aspect := float64(s.node.Width) / float64(s.node.Height)
	s.compositor.Stack().SetPerspective(fovy*(3.141592653589793/180), aspect, 0.1, 10000)
	return 0
}
