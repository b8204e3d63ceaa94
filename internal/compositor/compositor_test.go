package compositor

import (
	"testing"
	"time"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/dividuum/info-beamer/internal/tree"
)

// fakeSandbox is a minimal tree.Sandbox stand-in for exercising the
// compositor's render_to_image contract without an embedded interpreter.
type fakeSandbox struct {
	renderErr   error
	sawW, sawH  int
	renderCalls int
}

func (f *fakeSandbox) Boot() error                                 { return nil }
func (f *fakeSandbox) ContentUpdate(name string, added bool) error { return nil }
func (f *fakeSandbox) ChildUpdate(name string, added bool) error   { return nil }
func (f *fakeSandbox) Event(name string, args ...interface{}) error { return nil }
func (f *fakeSandbox) SetNow(now time.Time)                        {}
func (f *fakeSandbox) GCStep()                                     {}
func (f *fakeSandbox) Close()                                      {}

func (f *fakeSandbox) RenderSelf(w, h int) (tree.Texture, error) {
	f.renderCalls++
	f.sawW, f.sawH = w, h
	return nil, f.renderErr
}

func newTestNode(w, h int, sb *fakeSandbox) *tree.Node {
	n := tree.NewRoot("root")
	n.Width, n.Height = w, h
	n.Sandbox = sb
	return n
}

func TestRenderToImageSetupIncompleteUsesFallback(t *testing.T) {
	c := NewCompositor(4)
	n := tree.NewRoot("root")
	n.Sandbox = &fakeSandbox{}
	img := c.RenderToImage(n, time.Now())
	if w, h := img.Size(); w != 1 || h != 1 {
		t.Fatalf("expected 1x1 fallback image, got %dx%d", w, h)
	}
}

func TestRenderToImageBlacklistedUsesFallback(t *testing.T) {
	c := NewCompositor(4)
	sb := &fakeSandbox{}
	n := newTestNode(64, 64, sb)
	n.BlacklistedUntil = time.Now().Add(time.Hour)
	img := c.RenderToImage(n, time.Now())
	if w, h := img.Size(); w != 1 || h != 1 {
		t.Fatalf("expected 1x1 fallback image, got %dx%d", w, h)
	}
	if sb.renderCalls != 0 {
		t.Fatalf("render dispatched on a blacklisted node")
	}
}

func TestRenderToImageDispatchesAndSizesMatch(t *testing.T) {
	c := NewCompositor(4)
	sb := &fakeSandbox{}
	n := newTestNode(64, 32, sb)

	img := c.RenderToImage(n, time.Now())
	if sb.sawW != 64 || sb.sawH != 32 {
		t.Fatalf("RenderSelf saw (%d,%d), want (64,32)", sb.sawW, sb.sawH)
	}
	if w, h := img.Size(); w != 64 || h != 32 {
		t.Fatalf("image size = (%d,%d), want (64,32)", w, h)
	}
	if n.MatrixDepth != tree.NotRendering {
		t.Fatalf("MatrixDepth after render = %d, want %d", n.MatrixDepth, tree.NotRendering)
	}
	if n.FrameCounter != 1 {
		t.Fatalf("FrameCounter = %d, want 1", n.FrameCounter)
	}
}

func TestRenderToImageRecoversUnbalancedPush(t *testing.T) {
	c := NewCompositor(4)
	sb := &fakeSandboxWithStack{compositor: c, pushExtra: 3}
	n := newTestNode(32, 32, nil)
	n.Sandbox = sb

	img := c.RenderToImage(n, time.Now())
	if img == nil {
		t.Fatal("expected a non-nil image despite unbalanced push")
	}
	if n.MatrixDepth != tree.NotRendering {
		t.Fatalf("MatrixDepth after unbalanced push = %d, want %d", n.MatrixDepth, tree.NotRendering)
	}
}

// fakeSandboxWithStack pushes onto the compositor's live stack during
// RenderSelf, exercising the "leftover frame" recovery path of step 6.
type fakeSandboxWithStack struct {
	compositor *Compositor
	pushExtra  int
}

func (f *fakeSandboxWithStack) Boot() error                                 { return nil }
func (f *fakeSandboxWithStack) ContentUpdate(name string, added bool) error { return nil }
func (f *fakeSandboxWithStack) ChildUpdate(name string, added bool) error   { return nil }
func (f *fakeSandboxWithStack) Event(name string, args ...interface{}) error {
	return nil
}
func (f *fakeSandboxWithStack) SetNow(now time.Time) {}
func (f *fakeSandboxWithStack) GCStep()              {}
func (f *fakeSandboxWithStack) Close()               {}

func (f *fakeSandboxWithStack) RenderSelf(w, h int) (tree.Texture, error) {
	for i := 0; i < f.pushExtra; i++ {
		f.compositor.Stack().Push()
	}
	return nil, nil
}

func TestRenderRootDoesNotAcquireFromPool(t *testing.T) {
	c := NewCompositor(4)
	sb := &fakeSandbox{}
	n := newTestNode(0, 0, sb) // root never calls setup(); that's fine for direct paint
	dst := ebiten.NewImage(320, 240)
	defer dst.Deallocate()
	if err := c.RenderRoot(n, dst, 320, 240, time.Now()); err != nil {
		t.Fatalf("RenderRoot: %v", err)
	}
	if c.Pool.Len() != 0 {
		t.Fatalf("RenderRoot must not touch the pool, got %d pooled entries", c.Pool.Len())
	}
	if sb.sawW != 320 || sb.sawH != 240 {
		t.Fatalf("RenderSelf saw (%d,%d), want (320,240)", sb.sawW, sb.sawH)
	}
}
