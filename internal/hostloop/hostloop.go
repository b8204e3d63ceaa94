// Copyright (C) 2013 dividuum. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package hostloop drives the per-tick sequence of §4.H on top of
// Ebitengine's game loop, grounded on willow/scene.go's Run/gameShell
// pattern: a thin ebiten.Game implementation delegating Update/Draw to
// the owning type, with the window configured once ahead of RunGame.
package hostloop

import (
	"image/color"
	"time"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/dividuum/info-beamer/internal/compositor"
	"github.com/dividuum/info-beamer/internal/glog"
	"github.com/dividuum/info-beamer/internal/router"
	"github.com/dividuum/info-beamer/internal/tree"
	"github.com/dividuum/info-beamer/internal/watcher"
)

// activityWindow bounds which nodes receive a GC step per tick (§4.H step
// 7: "now - last_activity < 2s").
const activityWindow = 2 * time.Second

// Loop implements ebiten.Game, running the host loop of §4.H once per
// tick: steps 1-3 and 7 in Update, steps 4-6 in Draw (the destination
// image Ebitengine hands Draw is the natural place to bind/clear/present
// the window surface).
type Loop struct {
	tr      *tree.Tree
	comp    *compositor.Compositor
	watcher *watcher.Watcher
	router  *router.Router

	width, height int
}

// New creates a Loop wiring the Tree, Compositor, Watcher, and Router
// together for cmd/beamer.
func New(tr *tree.Tree, comp *compositor.Compositor, w *watcher.Watcher, r *router.Router, width, height int) *Loop {
	return &Loop{tr: tr, comp: comp, watcher: w, router: r, width: width, height: height}
}

// Update implements host-loop steps 1-3 and 7.
func (l *Loop) Update() error {
	now := time.Now()

	// Step 1: propagate the wall-clock timestamp to every node's sandbox.
	tree.Walk(l.tr.Root, func(n *tree.Node) {
		if n.Sandbox != nil {
			n.Sandbox.SetNow(now)
		}
	})

	// Step 2: drain the filesystem event queue, non-blocking.
	l.watcher.Drain()

	// Step 3: drain the I/O event queue, non-blocking.
	l.router.Drain()

	// Step 7: bounded GC step for nodes active in the last 2s.
	tree.Walk(l.tr.Root, func(n *tree.Node) {
		if n.Sandbox != nil && now.Sub(n.LastActivity) < activityWindow {
			n.Sandbox.GCStep()
		}
	})

	return nil
}

// Draw implements host-loop steps 4-6: initialize top-level GL state,
// invoke render_self on the root with window dimensions, present.
func (l *Loop) Draw(screen *ebiten.Image) {
	// Step 4: blend on (Ebitengine's default DrawImage blend mode is
	// already source-over, so there is nothing further to toggle), depth
	// off (this compositor never uses a depth buffer), viewport to
	// window (screen already is the full window surface), load identity,
	// clear screen.
	screen.Fill(color.Black)

	// Step 5: root paints directly; it does not compose via render_to_image.
	if err := l.comp.RenderRoot(l.tr.Root, screen, l.width, l.height, time.Now()); err != nil {
		glog.Debugf("hostloop: root render: %v", err)
	}

	// Step 6: presenting the frame is Ebitengine's responsibility once
	// Draw returns.
}

// Layout reports the fixed logical screen size; info-beamer trees are
// authored against one declared window size, not a resizable viewport.
func (l *Loop) Layout(outsideWidth, outsideHeight int) (int, int) {
	return l.width, l.height
}

// Run configures the window and starts Ebitengine's game loop.
func Run(l *Loop, title string, fullscreen bool) error {
	ebiten.SetWindowSize(l.width, l.height)
	ebiten.SetWindowTitle(title)
	ebiten.SetFullscreen(fullscreen)
	return ebiten.RunGame(l)
}
