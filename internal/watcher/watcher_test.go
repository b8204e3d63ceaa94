package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dividuum/info-beamer/internal/compositor"
	"github.com/dividuum/info-beamer/internal/sandbox"
	"github.com/dividuum/info-beamer/internal/tree"
)

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("condition was never satisfied")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func writeNodeLua(t *testing.T, dir, code string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "node.lua"), []byte(code), 0644); err != nil {
		t.Fatal(err)
	}
}

func newTestWatcher(t *testing.T) (*Watcher, *tree.Tree, string) {
	t.Helper()
	base := t.TempDir()
	writeNodeLua(t, base, `function boot() setup(64,64) end`)

	root := tree.NewRoot(filepath.Base(base))
	tr := tree.NewTree(root)
	comp := compositor.NewCompositor(4)

	w, err := New(tr, comp, filepath.Dir(base))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	if err := w.SeedRoot(); err != nil {
		t.Fatalf("SeedRoot: %v", err)
	}
	return w, tr, base
}

func TestSeedRootBootsAndIsSetup(t *testing.T) {
	_, tr, _ := newTestWatcher(t)
	if !tr.Root.IsSetup() {
		t.Fatal("root should be set up after SeedRoot's boot dispatch")
	}
}

func TestCreateDirectoryAddsChildNode(t *testing.T) {
	w, tr, base := newTestWatcher(t)

	childDir := filepath.Join(base, "child")
	if err := os.Mkdir(childDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeNodeLua(t, childDir, `function boot() setup(32,32) end`)

	waitUntil(t, time.Second, func() bool {
		w.Drain()
		return tr.Root.ChildByName("child") != nil
	})

	child := tr.Root.ChildByName("child")
	if child == nil {
		t.Fatal("child node was not created")
	}
	waitUntil(t, time.Second, func() bool {
		w.Drain()
		return child.IsSetup()
	})
}

func TestRemoveDirectoryDisposesChildNode(t *testing.T) {
	w, tr, base := newTestWatcher(t)

	childDir := filepath.Join(base, "child")
	if err := os.Mkdir(childDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeNodeLua(t, childDir, `function boot() setup(32,32) end`)
	waitUntil(t, time.Second, func() bool {
		w.Drain()
		return tr.Root.ChildByName("child") != nil
	})

	if err := os.RemoveAll(childDir); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, time.Second, func() bool {
		w.Drain()
		return tr.Root.ChildByName("child") == nil
	})
}

func TestContentUpdateFiresForNonCodeFile(t *testing.T) {
	w, tr, base := newTestWatcher(t)
	writeNodeLua(t, base, `
function boot() setup(64,64) end
function content_update(name, added)
	last_name = name
	last_added = added
end
`)
	if err := tr.Root.Sandbox.Boot(); err != nil {
		t.Fatalf("Boot: %v", err)
	}

	if err := os.WriteFile(filepath.Join(base, "data.txt"), []byte("hi"), 0644); err != nil {
		t.Fatal(err)
	}

	sb := tr.Root.Sandbox.(*sandbox.Sandbox)
	waitUntil(t, time.Second, func() bool {
		w.Drain()
		return sb.L.GetGlobal("last_name").String() == "data.txt"
	})
}

func TestCodeFileRewriteReboots(t *testing.T) {
	w, tr, base := newTestWatcher(t)
	if !tr.Root.IsSetup() {
		t.Fatal("expected initial boot to complete setup")
	}

	// Rewriting node.lua without calling setup() must clear the prior
	// setup state once the sandbox reboots (§4.E).
	writeNodeLua(t, base, `function boot() end`)

	waitUntil(t, 2*time.Second, func() bool {
		w.Drain()
		return !tr.Root.IsSetup()
	})
}
