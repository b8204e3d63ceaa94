package tree

import "testing"

func newTestTree() *Tree {
	root := NewRoot("root")
	return NewTree(root)
}

func TestInsertChildRegistersPath(t *testing.T) {
	tr := newTestTree()
	child, err := tr.InsertChild(tr.Root, "a")
	if err != nil {
		t.Fatalf("InsertChild: %v", err)
	}
	if got := tr.FindByPath("root/a"); got != child {
		t.Fatalf("FindByPath returned %v, want %v", got, child)
	}
	if tr.Root.NumChildren() != 1 || tr.Root.Children()[0] != child {
		t.Fatalf("root children not updated")
	}
}

func TestInsertChildDuplicateNameFails(t *testing.T) {
	tr := newTestTree()
	if _, err := tr.InsertChild(tr.Root, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.InsertChild(tr.Root, "a"); err == nil {
		t.Fatal("expected error on duplicate child name")
	}
}

func TestSetAliasUniqueAndIdempotent(t *testing.T) {
	tr := newTestTree()
	a, _ := tr.InsertChild(tr.Root, "a")
	b, _ := tr.InsertChild(tr.Root, "b")

	if err := tr.SetAlias(a, "top"); err != nil {
		t.Fatalf("SetAlias: %v", err)
	}
	if err := tr.SetAlias(a, "top"); err != nil {
		t.Fatalf("idempotent SetAlias should succeed: %v", err)
	}
	if err := tr.SetAlias(b, "top"); err == nil {
		t.Fatal("expected alias conflict error")
	}
	if got := tr.FindByAlias("top"); got != a {
		t.Fatalf("FindByAlias = %v, want %v", got, a)
	}
}

func TestFindByPathOrAliasPrefersPath(t *testing.T) {
	tr := newTestTree()
	a, _ := tr.InsertChild(tr.Root, "a")
	b, _ := tr.InsertChild(tr.Root, "b")
	_ = tr.SetAlias(b, "a") // alias named "a" should not shadow the path "a"

	if got := tr.FindByPathOrAlias("root/a"); got != a {
		t.Fatalf("expected path match to win, got %v", got)
	}
}

func TestRemoveChildByNamePostorderDisposesAndUnregisters(t *testing.T) {
	tr := newTestTree()
	parent, _ := tr.InsertChild(tr.Root, "p")
	child, _ := tr.InsertChild(parent, "c")
	_ = tr.SetAlias(child, "leaf")
	tr.SetWatchDescriptor(child, 7)

	removed := tr.RemoveChildByName(tr.Root, "p")
	if removed != parent {
		t.Fatalf("RemoveChildByName returned %v, want %v", removed, parent)
	}
	if tr.FindByPath("root/p") != nil || tr.FindByPath("root/p/c") != nil {
		t.Fatal("removed subtree still present in path index")
	}
	if tr.FindByAlias("leaf") != nil {
		t.Fatal("removed node's alias not unregistered")
	}
	if tr.FindByWatchDescriptor(7) != nil {
		t.Fatal("removed node's watch descriptor not unregistered")
	}
}

func TestSetupValidation(t *testing.T) {
	n := NewRoot("root")
	if err := n.Setup(16, 16); err == nil {
		t.Fatal("expected error for dimension below MinDim")
	}
	if err := n.Setup(640, 480); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if !n.IsSetup() {
		t.Fatal("expected IsSetup true after valid Setup")
	}
	n.MatrixDepth = 0
	if err := n.Setup(100, 100); err == nil {
		t.Fatal("expected setup to be forbidden during render")
	}
}
