// Copyright (C) 2013 dividuum. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package watcher converts filesystem events into Node lifecycle
// operations (§4.E), grounded on cc-backend's fswatcher.go: an fsnotify
// goroutine feeds a pending queue, drained once per host-loop tick so
// every Node mutation still happens on the single cooperative thread
// (§5 "single-threaded cooperative").
//
// fsnotify's cross-platform event model doesn't expose raw inotify watch
// descriptors or paired rename cookies, so two adaptations are made here
// (recorded in DESIGN.md): watch descriptors are synthesized as
// monotonically increasing ints keyed by directory path, and a Rename
// event is treated the same as Remove (MOVED_FROM) — the corresponding
// MOVED_TO is still observed as an ordinary Create on the destination
// directory's own watch, which is the case that matters for a tree
// rooted under one directory.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/dividuum/info-beamer/internal/compositor"
	"github.com/dividuum/info-beamer/internal/glog"
	"github.com/dividuum/info-beamer/internal/sandbox"
	"github.com/dividuum/info-beamer/internal/tree"
)

// codeFileName is the conventional node script name (§6 "a file literally
// named node.lua in a directory is that Node's code").
const codeFileName = "node.lua"

type pendingEvent struct {
	path string
	op   fsnotify.Op
}

// Watcher owns the fsnotify handle and the directory-to-watch-descriptor
// mapping for every live Node.
type Watcher struct {
	fsw     *fsnotify.Watcher
	tr      *tree.Tree
	comp    *compositor.Compositor
	baseDir string

	mu      sync.Mutex
	pending []pendingEvent

	nextWD int
	dirWD  map[string]int
}

// New creates a Watcher for tr, whose root Node's directory is
// filepath.Join(baseDir, tr.Root.Path) (the CLI chdirs to baseDir and
// treats the leaf as the root Node name, §6).
func New(tr *tree.Tree, comp *compositor.Compositor, baseDir string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}
	w := &Watcher{
		fsw:     fsw,
		tr:      tr,
		comp:    comp,
		baseDir: baseDir,
		dirWD:   make(map[string]int),
	}
	go w.pump()
	return w, nil
}

// Close stops the fsnotify goroutine and releases all watches.
func (w *Watcher) Close() error { return w.fsw.Close() }

func (w *Watcher) pump() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.mu.Lock()
			w.pending = append(w.pending, pendingEvent{path: ev.Name, op: ev.Op})
			w.mu.Unlock()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			glog.Errorf("watcher: %v", err)
		}
	}
}

// Drain applies every pending filesystem event (§4.H step 2: "drain the
// filesystem event queue, non-blocking"). Must only be called from the
// host loop's single cooperative thread.
func (w *Watcher) Drain() {
	w.mu.Lock()
	events := w.pending
	w.pending = nil
	w.mu.Unlock()

	for _, ev := range events {
		w.apply(ev)
	}
}

func (w *Watcher) dirFor(n *tree.Node) string {
	return filepath.Join(w.baseDir, filepath.FromSlash(n.Path))
}

func (w *Watcher) nodeFor(dir string) *tree.Node {
	wd, ok := w.dirWD[dir]
	if !ok {
		return nil
	}
	return w.tr.FindByWatchDescriptor(wd)
}

func (w *Watcher) apply(ev pendingEvent) {
	if ev.op&fsnotify.Remove != 0 {
		if node := w.nodeFor(ev.path); node != nil {
			w.handleDeleteSelf(node)
			return
		}
	}

	name := filepath.Base(ev.path)
	if strings.HasPrefix(name, ".") {
		return // dot-prefixed entries are ignored throughout (§4.E)
	}
	owner := w.nodeFor(filepath.Dir(ev.path))
	if owner == nil {
		return // event outside any tracked directory: a race, logged and skipped
	}

	switch {
	case ev.op&fsnotify.Create != 0:
		w.handleCreate(owner, ev.path, name)
	case ev.op&fsnotify.Write != 0:
		w.dispatchContentUpdate(owner, name, true)
	case ev.op&fsnotify.Remove != 0:
		w.handleRemove(owner, name)
	case ev.op&fsnotify.Rename != 0:
		w.handleRemove(owner, name)
	}
}

// handleDeleteSelf implements DELETE_SELF (§4.E): "remove this Node from
// its parent; if this Node is the root, terminate the process."
func (w *Watcher) handleDeleteSelf(node *tree.Node) {
	if node.Parent == nil {
		glog.Errorf("root directory %s removed, exiting", node.Path)
		os.Exit(1)
	}
	w.removeSubtree(node)
}

// removeSubtree unwatches every directory in node's subtree and disposes
// it through the Tree (postorder, §3 "Destroyed").
func (w *Watcher) removeSubtree(node *tree.Node) {
	var dirs []string
	tree.Walk(node, func(n *tree.Node) { dirs = append(dirs, w.dirFor(n)) })
	w.tr.RemoveChildByName(node.Parent, node.Name)
	for _, d := range dirs {
		_ = w.fsw.Remove(d)
		delete(w.dirWD, d)
	}
}

// handleCreate implements CREATE+IS_DIR / CREATE+!IS_DIR / MOVED_TO (§4.E).
// A path reported as created may already be gone by the time it's
// stat'd; that race is tolerated by logging and skipping.
func (w *Watcher) handleCreate(owner *tree.Node, fullPath, name string) {
	info, err := os.Stat(fullPath)
	if err != nil {
		glog.Debugf("watcher: %s vanished before stat: %v", fullPath, err)
		return
	}
	if info.IsDir() {
		if _, err := w.addChildNode(owner, name); err != nil {
			glog.Warnf("watcher: %s: %v", fullPath, err)
		}
		return
	}
	w.dispatchContentUpdate(owner, name, true)
}

// handleRemove implements DELETE+!IS_DIR, MOVED_FROM (§4.E). Whether the
// removed entry was a directory is inferred from whether owner currently
// has a child with that name — fsnotify's Remove/Rename events don't
// carry an IS_DIR flag the way inotify's do.
func (w *Watcher) handleRemove(owner *tree.Node, name string) {
	if child := owner.ChildByName(name); child != nil {
		w.removeSubtree(child)
		return
	}
	w.dispatchContentUpdate(owner, name, false)
}

// dispatchContentUpdate fires content_update(name, added) on owner,
// special-casing the code file: a write to node.lua clears the node's
// blacklist/width/height/alias and reboots the sandbox in place (§4.E
// "Content-update of the code file has two additional effects").
func (w *Watcher) dispatchContentUpdate(owner *tree.Node, name string, added bool) {
	if name == codeFileName {
		if added {
			owner.PrepareReboot()
			if owner.Sandbox != nil {
				if err := owner.Sandbox.Boot(); err != nil {
					glog.Debugf("%s: boot: %v", owner.Path, err)
				}
			}
		}
		return
	}
	if owner.Sandbox == nil {
		return
	}
	if err := owner.Sandbox.ContentUpdate(name, added); err != nil {
		glog.Debugf("%s: content_update(%s,%v): %v", owner.Path, name, added, err)
	}
}

// addChildNode implements the "Created" lifecycle (§3): allocate the
// Node, install its watch, seed its sandbox, recursively discover
// existing children and content, then notify the parent.
func (w *Watcher) addChildNode(owner *tree.Node, name string) (*tree.Node, error) {
	child, err := w.tr.InsertChild(owner, name)
	if err != nil {
		return nil, err
	}
	dir := w.dirFor(child)

	wd := w.nextWD
	w.nextWD++
	w.tr.SetWatchDescriptor(child, wd)
	w.dirWD[dir] = wd
	if err := w.fsw.Add(dir); err != nil {
		glog.Warnf("watcher: add watch %s: %v", dir, err)
	}

	child.Sandbox = sandbox.New(child, w.comp, dir)
	if err := child.Sandbox.Boot(); err != nil {
		glog.Debugf("%s: boot: %v", child.Path, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		glog.Warnf("watcher: read dir %s: %v", dir, err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if e.IsDir() {
			if _, err := w.addChildNode(child, e.Name()); err != nil {
				glog.Warnf("watcher: %s/%s: %v", dir, e.Name(), err)
			}
		} else if e.Name() != codeFileName {
			if err := child.Sandbox.ContentUpdate(e.Name(), true); err != nil {
				glog.Debugf("%s: content_update(%s,true): %v", child.Path, e.Name(), err)
			}
		}
	}

	if owner.Sandbox != nil {
		if err := owner.Sandbox.ChildUpdate(name, true); err != nil {
			glog.Debugf("%s: child_update(%s,true): %v", owner.Path, name, err)
		}
	}
	return child, nil
}

// SeedRoot installs the watch and sandbox for the tree's root Node and
// recursively discovers its existing contents, the same "Created"
// sequence addChildNode runs for a subdirectory discovered at runtime.
func (w *Watcher) SeedRoot() error {
	root := w.tr.Root
	dir := w.dirFor(root)

	wd := w.nextWD
	w.nextWD++
	w.tr.SetWatchDescriptor(root, wd)
	w.dirWD[dir] = wd
	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("watcher: seed root %s: %w", dir, err)
	}

	root.Sandbox = sandbox.New(root, w.comp, dir)
	if err := root.Sandbox.Boot(); err != nil {
		glog.Debugf("%s: boot: %v", root.Path, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("watcher: seed root %s: %w", dir, err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if e.IsDir() {
			if _, err := w.addChildNode(root, e.Name()); err != nil {
				glog.Warnf("watcher: %s/%s: %v", dir, e.Name(), err)
			}
		} else if e.Name() != codeFileName {
			if err := root.Sandbox.ContentUpdate(e.Name(), true); err != nil {
				glog.Debugf("%s: content_update(%s,true): %v", root.Path, e.Name(), err)
			}
		}
	}
	return nil
}
