// Copyright (C) 2013 dividuum. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package tree

import "fmt"

// Tree owns the root Node plus the three lookup indices named in §3: by
// watch-descriptor, by canonical path, by alias. Ordering of children is
// insertion order (§4.D), preserved by Node.children.
type Tree struct {
	Root *Node

	byWatch map[int]*Node
	byPath  map[string]*Node
	byAlias map[string]*Node
}

// NewTree creates a Tree with the given root Node already inserted into the
// path index.
func NewTree(root *Node) *Tree {
	t := &Tree{
		Root:    root,
		byWatch: make(map[int]*Node),
		byPath:  make(map[string]*Node),
		byAlias: make(map[string]*Node),
	}
	root.Tree = t
	t.byPath[root.Path] = root
	return t
}

// InsertChild creates and links a new child Node named name under parent,
// registers it in the path index, and returns it. The caller is
// responsible for installing the watch descriptor (SetWatchDescriptor) and
// driving the rest of the Created lifecycle (§3 "Created").
func (t *Tree) InsertChild(parent *Node, name string) (*Node, error) {
	if parent.ChildByName(name) != nil {
		return nil, fmt.Errorf("tree: %s already has a child named %q", parent.Path, name)
	}
	child := newChild(parent, name)
	parent.children = append(parent.children, child)
	t.byPath[child.Path] = child
	return child, nil
}

// SetWatchDescriptor registers (or re-registers) a Node's watch-descriptor
// index entry.
func (t *Tree) SetWatchDescriptor(n *Node, wd int) {
	if n.WatchDescriptor >= 0 {
		delete(t.byWatch, n.WatchDescriptor)
	}
	n.WatchDescriptor = wd
	if wd >= 0 {
		t.byWatch[wd] = n
	}
}

// SetAlias assigns alias to n, failing if another live Node already holds
// it (§4.C set_alias: "fails if already held by another Node"). Calling
// SetAlias(n, n.Alias) — including the empty string twice — is a no-op
// success, satisfying the idempotence property in §8.
func (t *Tree) SetAlias(n *Node, alias string) error {
	if alias == n.Alias {
		return nil
	}
	if alias != "" {
		if existing, ok := t.byAlias[alias]; ok && existing != n {
			return fmt.Errorf("tree: alias %q already held by %s", alias, existing.Path)
		}
	}
	if n.Alias != "" {
		delete(t.byAlias, n.Alias)
	}
	n.Alias = alias
	if alias != "" {
		t.byAlias[alias] = n
	}
	return nil
}

func (t *Tree) unregisterAlias(alias string) {
	delete(t.byAlias, alias)
}

// FindByPath resolves the exact canonical path string to a Node, or nil.
func (t *Tree) FindByPath(path string) *Node {
	return t.byPath[path]
}

// FindByAlias resolves the exact alias string to a Node, or nil.
func (t *Tree) FindByAlias(alias string) *Node {
	return t.byAlias[alias]
}

// FindByPathOrAlias looks up path first, then alias (§4.D: "path lookup
// first, then alias").
func (t *Tree) FindByPathOrAlias(addr string) *Node {
	if n := t.FindByPath(addr); n != nil {
		return n
	}
	return t.FindByAlias(addr)
}

// FindByWatchDescriptor resolves a watch-descriptor to its Node, or nil.
func (t *Tree) FindByWatchDescriptor(wd int) *Node {
	return t.byWatch[wd]
}

// RemoveChildByName detaches and postorder-disposes the named child of
// parent, returning it. Returns nil if no such child exists. Notifies
// parent with ChildUpdate(name, false) (§4.D "On removal, the parent is
// notified child_update(name, false)").
func (t *Tree) RemoveChildByName(parent *Node, name string) *Node {
	for i, c := range parent.children {
		if c.Name == name {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			t.disposeSubtree(c)
			if parent.Sandbox != nil {
				if err := parent.Sandbox.ChildUpdate(name, false); err != nil {
					// Logged by the caller (watcher/hostloop) which has the
					// node path and a logger; tree stays dependency-free.
					_ = err
				}
			}
			return c
		}
	}
	return nil
}

// disposeSubtree removes descendants before the node itself (§3
// "Destroyed": "children are removed bottom-up (postorder)").
func (t *Tree) disposeSubtree(n *Node) {
	for _, c := range n.children {
		t.disposeSubtree(c)
	}
	n.children = nil
	n.closeSubscribers()
	if n.Sandbox != nil {
		n.Sandbox.Close()
		n.Sandbox = nil
	}
	if n.WatchDescriptor >= 0 {
		delete(t.byWatch, n.WatchDescriptor)
	}
	delete(t.byPath, n.Path)
	if n.Alias != "" {
		delete(t.byAlias, n.Alias)
	}
}

// Walk calls fn for n and every descendant, parent before children
// (preorder), siblings in insertion order.
func Walk(n *Node, fn func(*Node)) {
	fn(n)
	for _, c := range n.children {
		Walk(c, fn)
	}
}

// WalkPostorder calls fn for every descendant before n itself.
func WalkPostorder(n *Node, fn func(*Node)) {
	for _, c := range n.children {
		WalkPostorder(c, fn)
	}
	fn(n)
}
