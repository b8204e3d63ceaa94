package hostloop

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/dividuum/info-beamer/internal/compositor"
	"github.com/dividuum/info-beamer/internal/router"
	"github.com/dividuum/info-beamer/internal/tree"
	"github.com/dividuum/info-beamer/internal/watcher"
)

func newTestLoop(t *testing.T) *Loop {
	t.Helper()
	base := t.TempDir()
	script := `
function boot() setup(64,64) end
function render(w, h) end
`
	if err := os.WriteFile(filepath.Join(base, "node.lua"), []byte(script), 0644); err != nil {
		t.Fatal(err)
	}

	root := tree.NewRoot(filepath.Base(base))
	tr := tree.NewTree(root)
	comp := compositor.NewCompositor(4)

	w, err := watcher.New(tr, comp, filepath.Dir(base))
	if err != nil {
		t.Fatalf("watcher.New: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	if err := w.SeedRoot(); err != nil {
		t.Fatalf("SeedRoot: %v", err)
	}

	r, err := router.New(tr, 0)
	if err != nil {
		t.Fatalf("router.New: %v", err)
	}
	t.Cleanup(func() { r.Close() })

	return New(tr, comp, w, r, 320, 240)
}

func TestUpdateDoesNotError(t *testing.T) {
	l := newTestLoop(t)
	if err := l.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
}

func TestDrawInvokesRootRender(t *testing.T) {
	l := newTestLoop(t)
	dst := ebiten.NewImage(320, 240)
	defer dst.Deallocate()

	l.Draw(dst)
	if l.tr.Root.FrameCounter != 1 {
		t.Fatalf("FrameCounter = %d, want 1", l.tr.Root.FrameCounter)
	}
}

func TestLayoutReturnsFixedSize(t *testing.T) {
	l := newTestLoop(t)
	w, h := l.Layout(1920, 1080)
	if w != 320 || h != 240 {
		t.Fatalf("Layout = (%d,%d), want (320,240)", w, h)
	}
}

func TestDrawTouchesLastActivity(t *testing.T) {
	l := newTestLoop(t)
	before := time.Now()

	if err := l.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	dst := ebiten.NewImage(320, 240)
	defer dst.Deallocate()
	l.Draw(dst)

	if l.tr.Root.LastActivity.Before(before.Add(-time.Second)) {
		t.Fatalf("last_activity was not recently touched: %v", l.tr.Root.LastActivity)
	}
}
