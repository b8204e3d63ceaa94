// Copyright (C) 2013 dividuum. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package compositor implements the render-to-image pipeline of §4.F: the
// matrix/attribute stack discipline, the bounded offscreen-target pool
// (§3 "Resource pool"), and the recursive render_to_image walk. The
// matrix math below generalizes the teacher's 2D affine stack
// (transform.go's [6]float64 composition) to the 4x4 projection/modelview
// pair the GPU matrix stack capability (§4.C gl.*) requires, including
// the z-range ±1000 orthographic projection §4.F step 4 specifies.
package compositor

import "math"

// Mat4 is a column-major 4x4 matrix, matching the layout a GL-style
// uniform upload expects.
type Mat4 [16]float64

// Identity4 returns the identity matrix.
func Identity4() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Mul4 multiplies two column-major 4x4 matrices: result = a * b.
func Mul4(a, b Mat4) Mat4 {
	var r Mat4
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += a[k*4+row] * b[col*4+k]
			}
			r[col*4+row] = sum
		}
	}
	return r
}

func translation(x, y, z float64) Mat4 {
	m := Identity4()
	m[12], m[13], m[14] = x, y, z
	return m
}

func scaling(x, y, z float64) Mat4 {
	m := Identity4()
	m[0], m[5], m[10] = x, y, z
	return m
}

// rotationZ builds a rotation about the Z axis (the only rotation a 2D
// compositing node issues in practice — §4.C gl.rotate).
func rotationZ(radians float64) Mat4 {
	s, c := math.Sin(radians), math.Cos(radians)
	m := Identity4()
	m[0], m[1] = c, s
	m[4], m[5] = -s, c
	return m
}

// Ortho builds an orthographic projection matching (w,h) with the z-range
// ±1000 that §4.F step 4 specifies.
func Ortho(w, h int) Mat4 {
	return orthoRect(0, float64(w), float64(h), 0, -1000, 1000)
}

func orthoRect(left, right, bottom, top, near, far float64) Mat4 {
	m := Identity4()
	m[0] = 2 / (right - left)
	m[5] = 2 / (top - bottom)
	m[10] = -2 / (far - near)
	m[12] = -(right + left) / (right - left)
	m[13] = -(top + bottom) / (top - bottom)
	m[14] = -(far + near) / (far - near)
	return m
}

// Perspective builds a standard perspective projection (§4.C
// gl.perspective), fovy in radians.
func Perspective(fovy, aspect, near, far float64) Mat4 {
	f := 1 / math.Tan(fovy/2)
	var m Mat4
	m[0] = f / aspect
	m[5] = f
	m[10] = (far + near) / (near - far)
	m[11] = -1
	m[14] = (2 * far * near) / (near - far)
	return m
}

// Stack implements the push/pop/rotate/translate/scale modelview
// discipline of §4.C, plus a separate (non-stacked) projection matrix set
// by ortho/perspective. §3 invariant: depth is NotRendering outside the
// render callback, >=0 within it, and must return to its entry value
// before exit — the compositor enforces the "return to entry value" half
// by popping any leftover frames (§4.F step 6); Depth reports the current
// value so callers can assert the rest.
type Stack struct {
	modelview  []Mat4
	projection Mat4
}

// NewStack returns a Stack reset for a fresh render dispatch: depth 0,
// identity modelview, ortho projection matching (w,h).
func NewStack(w, h int) *Stack {
	return &Stack{
		modelview:  []Mat4{Identity4()},
		projection: Ortho(w, h),
	}
}

// Depth returns the current push depth (0 right after NewStack).
func (s *Stack) Depth() int { return len(s.modelview) - 1 }

// Top returns the current modelview matrix.
func (s *Stack) Top() Mat4 { return s.modelview[len(s.modelview)-1] }

// Projection returns the current projection matrix.
func (s *Stack) Projection() Mat4 { return s.projection }

// Push duplicates the top of the modelview stack (§4.C gl.push).
func (s *Stack) Push() {
	s.modelview = append(s.modelview, s.Top())
}

// Pop removes the top of the modelview stack. Returns false if the stack
// is already at its base (push/pop must balance within render — §4.C);
// the caller decides whether that's a script error or, during the
// compositor's own cleanup pass, something to simply stop at.
func (s *Stack) Pop() bool {
	if len(s.modelview) <= 1 {
		return false
	}
	s.modelview = s.modelview[:len(s.modelview)-1]
	return true
}

// PopAllExtra pops every frame above the base, for §4.F step 6 ("the
// script may have unbalanced pushes — this is recovered, not fatal").
// Returns the number of frames popped.
func (s *Stack) PopAllExtra() int {
	n := 0
	for s.Pop() {
		n++
	}
	return n
}

func (s *Stack) replaceTop(m Mat4) {
	s.modelview[len(s.modelview)-1] = Mul4(s.Top(), m)
}

func (s *Stack) Translate(x, y, z float64) { s.replaceTop(translation(x, y, z)) }
func (s *Stack) Scale(x, y, z float64)     { s.replaceTop(scaling(x, y, z)) }
func (s *Stack) Rotate(radians float64)    { s.replaceTop(rotationZ(radians)) }

// SetOrtho overrides the projection with a custom orthographic matrix
// (§4.C gl.ortho, usable by scripts implementing a custom camera).
func (s *Stack) SetOrtho(left, right, bottom, top, near, far float64) {
	s.projection = orthoRect(left, right, bottom, top, near, far)
}

// SetPerspective overrides the projection with a perspective matrix
// (§4.C gl.perspective).
func (s *Stack) SetPerspective(fovy, aspect, near, far float64) {
	s.projection = Perspective(fovy, aspect, near, far)
}

// Affine2D extracts the 2D affine components (a,b,c,d,tx,ty) of the
// current modelview for 2D draw calls, mirroring the teacher's
// [6]float64 convention (transform.go) for the common case where a node's
// render only ever uses translate/scale/rotate in the XY plane.
func (s *Stack) Affine2D() (a, b, c, d, tx, ty float64) {
	m := s.Top()
	return m[0], m[1], m[4], m[5], m[12], m[13]
}
