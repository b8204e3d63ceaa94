// Copyright (C) 2013 dividuum. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package compositor

import (
	"image/color"
	"runtime"
	"time"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/dividuum/info-beamer/internal/glog"
	"github.com/dividuum/info-beamer/internal/resources"
	"github.com/dividuum/info-beamer/internal/tree"
)

// Compositor is the single-threaded render loop of §4.F: it walks from
// the root, calling each Node's render entry point, and owns the
// render-to-image primitives (offscreen target acquisition, matrix-stack
// discipline, GL-state save/restore).
//
// Ebitengine's draw model targets an explicit destination image per call
// rather than a global GL binding, so "capture/restore GL state" (§4.F
// step 1) collapses to tracking which *ebiten.Image is the "current
// render target" a node's draw capabilities implicitly draw onto —
// Current/bind below is that seam.
type Compositor struct {
	Pool    *Pool
	current *resources.Framebuffer // nil while bound to the window
	window  *ebiten.Image
	stack   *Stack
}

// NewCompositor creates a Compositor with the given pool capacity.
func NewCompositor(poolCapacity int) *Compositor {
	return &Compositor{Pool: NewPool(poolCapacity)}
}

// Current returns the *ebiten.Image currently bound as the render target:
// the window during root direct-paint, or a node's offscreen target
// during render_to_image.
func (c *Compositor) Current() *ebiten.Image {
	if c.current != nil {
		return c.current.Image
	}
	return c.window
}

// Stack returns the matrix stack active for the in-progress render
// dispatch, or nil outside one.
func (c *Compositor) Stack() *Stack { return c.stack }

// Image is the handle a render_to_image operation returns (§3 "Resource
// pool entry" wrapped for script use, §4.F step 8 "return an image handle
// wrapping (tex, fbo, w, h)"). The script owns it; when it becomes
// unreachable the backing framebuffer is returned to the pool via a
// finalizer (gopher-lua has no __gc metamethod to hook a deterministic
// release, so this is the closest faithful approximation — see
// DESIGN.md).
type Image struct {
	fb   *resources.Framebuffer
	pool *Pool
	w, h int
}

func (img *Image) TexID() uint64    { return img.fb.TexID() }
func (img *Image) Size() (int, int) { return img.w, img.h }
func (img *Image) Ebiten() *ebiten.Image { return img.fb.Image }

// Draw draws img into dst's rectangle (x1,y1)-(x2,y2) at the given alpha,
// without applying any gl stack transform. The draw() method scripts call
// on render_child/render_self/create_snapshot results does not use it; it
// goes through internal/sandbox's drawTexturer.
func (img *Image) Draw(dst *ebiten.Image, x1, y1, x2, y2, alpha float64) {
	op := &ebiten.DrawImageOptions{}
	w, h := x2-x1, y2-y1
	if img.w > 0 {
		op.GeoM.Scale(w/float64(img.w), h/float64(img.h))
	}
	op.GeoM.Translate(x1, y1)
	op.ColorScale.ScaleAlpha(float32(alpha))
	dst.DrawImage(img.fb.Image, op)
}

func wrapImage(pool *Pool, fb *resources.Framebuffer, w, h int) *Image {
	img := &Image{fb: fb, pool: pool, w: w, h: h}
	runtime.SetFinalizer(img, func(i *Image) {
		i.pool.Release(i.fb)
	})
	return img
}

// fallbackImage builds the 1x1 diagnostic surface §3/§4.F describe: grey
// for "setup not completed", red for "blacklisted".
func fallbackImage(pool *Pool, blacklisted bool) *Image {
	fb := pool.Acquire(1, 1)
	fillColor := color.RGBA{128, 128, 128, 255}
	if blacklisted {
		fillColor = color.RGBA{220, 30, 30, 255}
	}
	fb.Image.Fill(fillColor)
	return wrapImage(pool, fb, 1, 1)
}

// RenderToImage implements §4.F in full.
func (c *Compositor) RenderToImage(n *tree.Node, now time.Time) *Image {
	// Steps 1 handled implicitly (see type doc); save the caller's bound
	// target/stack so a recursive render_child call restores correctly.
	savedTarget, savedStack := c.current, c.stack

	// Step 2: short-circuit for an incomplete or blacklisted node.
	if !n.IsSetup() {
		glog.Debugf("%s: render_to_image: setup not completed, using fallback", n.Path)
		c.current, c.stack = savedTarget, savedStack
		return fallbackImage(c.Pool, false)
	}
	if n.IsBlacklisted(now) {
		c.current, c.stack = savedTarget, savedStack
		if n.StaticCache != nil && n.StaticCache.Valid {
			if cached, ok := n.StaticCache.Texture.(*Image); ok {
				glog.Debugf("%s: render_to_image: blacklisted until %s, reusing cached frame", n.Path, n.BlacklistedUntil)
				return cached
			}
		}
		glog.Warnf("%s: render_to_image: blacklisted until %s, using fallback", n.Path, n.BlacklistedUntil)
		return fallbackImage(c.Pool, true)
	}

	// Step 3: acquire an offscreen target of size (w,h).
	fb := c.Pool.Acquire(n.Width, n.Height)

	// Step 4: bind, orthographic projection, identity modelview, clear to
	// transparent white.
	c.current = fb
	c.stack = NewStack(n.Width, n.Height)
	fb.Image.Clear()
	fb.Image.Fill(color.RGBA{255, 255, 255, 0})

	// Step 5: matrix depth 0, frame counter, dispatch event("render").
	n.MatrixDepth = 0
	n.FrameCounter++
	n.RenderChildRemaining = renderChildQuota
	n.SnapshotRemaining = snapshotQuota

	_, err := n.Sandbox.RenderSelf(n.Width, n.Height)
	if err != nil {
		// Runtime/memory/error-handler failures are already logged and
		// swallowed by the sandbox's "enter" wrapper (§4.B point 3); a
		// non-nil error here means the dispatch itself could not run
		// (e.g. the node has no sandbox yet), which we treat the same as
		// an incomplete setup.
		glog.Debugf("%s: render dispatch: %v", n.Path, err)
	}

	// Step 6: pop any leftover matrix frames, reset depth sentinel.
	if extra := c.stack.PopAllExtra(); extra > 0 {
		glog.Debugf("%s: render left %d unbalanced gl.push() frame(s), popped", n.Path, extra)
	}
	n.MatrixDepth = tree.NotRendering

	// Step 7: mipmap generation is delegated to ebiten's GPU backend,
	// which regenerates filtering data on demand; no explicit call is
	// exposed through the public API.

	// Step 8: restore caller state, cache the result for a future
	// blacklisted dispatch (Node.StaticCache), return the wrapped handle.
	c.current, c.stack = savedTarget, savedStack
	img := wrapImage(c.Pool, fb, n.Width, n.Height)
	n.StaticCache = &tree.StaticCache{Texture: img, Valid: true}
	return img
}

// Snapshot copies the currently bound render target into a freshly pooled
// (w,h) image, implementing create_snapshot() (§4.C): "a snapshot of the
// framebuffer as it stands at the point of the call."
func (c *Compositor) Snapshot(w, h int) *Image {
	fb := c.Pool.Acquire(w, h)
	fb.Image.Clear()
	fb.Image.DrawImage(c.Current(), &ebiten.DrawImageOptions{})
	return wrapImage(c.Pool, fb, w, h)
}

// RenderRoot implements host-loop step 5: the root Node paints directly
// into the window-sized destination image, without going through the
// pooled render_to_image path (§4.H point 5: "the root paints directly;
// it does not compose via render_to_image").
func (c *Compositor) RenderRoot(n *tree.Node, dst *ebiten.Image, w, h int, now time.Time) error {
	c.window = dst
	c.current = nil
	c.stack = NewStack(w, h)

	n.MatrixDepth = 0
	n.FrameCounter++
	n.RenderChildRemaining = renderChildQuota
	n.SnapshotRemaining = snapshotQuota

	_, err := n.Sandbox.RenderSelf(w, h)

	if extra := c.stack.PopAllExtra(); extra > 0 {
		glog.Debugf("%s: render left %d unbalanced gl.push() frame(s), popped", n.Path, extra)
	}
	n.MatrixDepth = tree.NotRendering
	c.stack = nil
	return err
}

// these are overridden by internal/config at process startup via SetQuotas;
// kept as package vars so tests can construct a Compositor without
// depending on internal/config.
var (
	renderChildQuota = 20
	snapshotQuota    = 5
)

// SetQuotas configures the per-frame render_child/create_snapshot quotas
// (§4.C), normally called once from main with config.Keys' values.
func SetQuotas(renderChild, snapshot int) {
	renderChildQuota, snapshotQuota = renderChild, snapshot
}
