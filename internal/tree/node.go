// Copyright (C) 2013 dividuum. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package tree implements the Node and Tree data model of §3/§4.C/§4.D:
// a filesystem-bound hierarchy of sandboxed script environments, the
// capability surface a sandbox sees, and the three lookup indices a Tree
// maintains over its Nodes.
package tree

import (
	"fmt"
	"path"
	"time"
)

// NotRendering is the matrix-depth sentinel used outside the render entry
// point (§3 invariants).
const NotRendering = -1

// ProfileBin names one of a Node's three CPU-time accumulators.
type ProfileBin int

const (
	ProfileBoot ProfileBin = iota
	ProfileUpdate
	ProfileEvent
	numProfileBins
)

func (b ProfileBin) String() string {
	switch b {
	case ProfileBoot:
		return "boot"
	case ProfileUpdate:
		return "update"
	case ProfileEvent:
		return "event"
	default:
		return "?"
	}
}

// Subscriber receives a Node's print/diagnostic output stream (§4.G stream
// protocol, "any print/diagnostic output of the linked Node is fanned out
// to the socket"). Implemented by the router's stream connections.
type Subscriber interface {
	WriteLine(line string) error
}

// Sandbox is the contract a Node drives (§4.B). The concrete implementation
// lives in package sandbox and wraps an embedded Lua interpreter; Node only
// depends on this narrow interface to avoid an import cycle (the sandbox
// needs to call back into Node's capability surface).
type Sandbox interface {
	// Boot (re)initializes the interpreter from the node's code file.
	Boot() error
	// ContentUpdate informs the script a non-code file appeared/disappeared.
	ContentUpdate(name string, added bool) error
	// ChildUpdate informs the script a child node appeared/disappeared.
	ChildUpdate(name string, added bool) error
	// Event delivers a generic typed event (msg, raw_data, input, ...).
	Event(name string, args ...interface{}) error
	// RenderSelf invokes the script's render entry at the given dimensions.
	// The script draws onto the currently bound target; the returned
	// Texture is not used by the compositor (package sandbox returns nil).
	RenderSelf(w, h int) (Texture, error)
	// SetNow updates the wall-clock time the now() capability observes
	// (host loop step 1, run once per tick before anything else).
	SetNow(now time.Time)
	// GCStep runs one bounded garbage-collection increment (host loop
	// step 7, only for nodes active in the last 2s).
	GCStep()
	// Close tears down the interpreter and releases its heap arena.
	Close()
}

// Texture is the opaque handle a render-to-image operation returns; its
// concrete type is owned by package compositor. Kept as `any` here so
// tree has no dependency on the GPU backing.
type Texture = interface{}

// Node binds one directory to a Sandbox (§3 "Node").
type Node struct {
	// Name is the directory's leaf, never containing "/".
	Name string
	// Path is the canonical path from the tree root, e.g. "root/child/leaf".
	Path string
	// Alias is an optional, globally unique routing key the node sets at
	// runtime via set_alias. Empty means unset.
	Alias string

	// Parent is nil only for the root.
	Parent *Node
	// Tree is the owning Tree, used to keep the indices in sync.
	Tree *Tree

	children []*Node

	// Width/Height are the declared render size; 0 means setup is not
	// complete (§3 invariant: width>0 ⇔ setup completed).
	Width, Height int

	// MatrixDepth is NotRendering outside the render callback, >=0 inside.
	MatrixDepth int

	// WatchDescriptor is the filesystem watch handle for this node's
	// directory, used as one of the Tree's lookup keys.
	WatchDescriptor int

	// CPUTime accumulates time spent per ProfileBin (§4.B point 4).
	CPUTime [numProfileBins]time.Duration
	// FrameCounter increments once per render-to-image dispatch (§4.F step 5).
	FrameCounter uint64
	// ResourceInitCounter increments on every successful load_image/
	// load_font/load_file call and on create_snapshot/create_shader/
	// create_vnc (§4.C); load_video always fails and does not count.
	ResourceInitCounter uint64
	// AllocCounter is not updated by package sandbox; the bytes charged
	// against the node's heap arena are held by the sandbox's Arena.
	AllocCounter uint64

	LastActivity     time.Time
	BlacklistedUntil time.Time

	// RenderChildRemaining/SnapshotRemaining are the per-frame quotas
	// (§4.F "Per-render quotas"), reset by the sandbox "enter" wrapper on
	// every dispatch and decremented by the render_child/create_snapshot
	// capabilities.
	RenderChildRemaining int
	SnapshotRemaining    int

	Sandbox Sandbox

	subscribers []Subscriber

	// StaticCache holds the compositor's cached offscreen image from this
	// node's last successful render_to_image call, opaque to this package
	// (mirrors the teacher's SetCacheAsTexture / staticCache pattern in
	// rendertarget.go, repurposed from a 2D scene-graph cache to a
	// per-Node rendered-output cache). internal/compositor reads and
	// writes it directly: a blacklisted node's render_to_image reuses the
	// cached frame instead of the grey/red fallback swatch.
	StaticCache *StaticCache
}

// StaticCache caches the result of the last successful render_to_image call
// for a Node so a blacklisted Node keeps showing its last good frame
// instead of a fallback swatch.
type StaticCache struct {
	Texture Texture
	Valid   bool
}

// NewRoot creates the tree's root Node bound to rootName (the leaf of the
// directory the CLI was pointed at).
func NewRoot(rootName string) *Node {
	n := &Node{
		Name:            rootName,
		Path:            rootName,
		MatrixDepth:     NotRendering,
		WatchDescriptor: -1,
		LastActivity:    time.Time{},
	}
	return n
}

// newChild allocates a Node for a subdirectory discovered under parent.
func newChild(parent *Node, name string) *Node {
	n := &Node{
		Name:            name,
		Path:            path.Join(parent.Path, name),
		Parent:          parent,
		Tree:            parent.Tree,
		MatrixDepth:     NotRendering,
		WatchDescriptor: -1,
	}
	return n
}

// Children returns the ordered child list. Callers must not mutate it.
func (n *Node) Children() []*Node { return n.children }

// NumChildren returns the number of children.
func (n *Node) NumChildren() int { return len(n.children) }

// ChildByName returns the child with the given leaf name, or nil.
func (n *Node) ChildByName(name string) *Node {
	for _, c := range n.children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// IsBlacklisted reports whether now is within the node's blacklist window
// (§3 invariant: "blacklisted_until > now suppresses rendering").
func (n *Node) IsBlacklisted(now time.Time) bool {
	return now.Before(n.BlacklistedUntil)
}

// IsSetup reports whether setup(w,h) has completed.
func (n *Node) IsSetup() bool { return n.Width > 0 && n.Height > 0 }

// MinDim and MaxDim bound the setup(w,h) capability (§4.C: "32<=w,h<=2048").
const (
	MinDim = 32
	MaxDim = 2048
)

// Setup implements the setup(w,h) capability (§4.C). It fails if called
// while the node is inside its render entry point, or if either dimension
// is out of [MinDim, MaxDim].
func (n *Node) Setup(w, h int) error {
	if n.MatrixDepth != NotRendering {
		return fmt.Errorf("tree: setup() forbidden during render")
	}
	if w < MinDim || w > MaxDim || h < MinDim || h > MaxDim {
		return fmt.Errorf("tree: setup(%d,%d) out of range [%d,%d]", w, h, MinDim, MaxDim)
	}
	n.Width = w
	n.Height = h
	return nil
}

// Touch updates last_activity to now (§4.B point 4).
func (n *Node) Touch(now time.Time) { n.LastActivity = now }

// AddProfileTime adds d to the accumulator for bin.
func (n *Node) AddProfileTime(bin ProfileBin, d time.Duration) {
	n.CPUTime[bin] += d
}

// Subscribers returns the current subscriber list. Callers must not mutate it.
func (n *Node) Subscribers() []Subscriber { return n.subscribers }

// AddSubscriber links a stream connection to this node's output (§4.G).
func (n *Node) AddSubscriber(s Subscriber) {
	n.subscribers = append(n.subscribers, s)
}

// RemoveSubscriber unlinks a stream connection (called by the subscriber on
// its own close, per §9 "on subscriber close, it unlinks itself").
func (n *Node) RemoveSubscriber(s Subscriber) {
	for i, sub := range n.subscribers {
		if sub == s {
			n.subscribers = append(n.subscribers[:i], n.subscribers[i+1:]...)
			return
		}
	}
}

// Print fans out a line to every subscriber (§4.C print capability: "joins
// args with tabs, appends newline, fans out to subscribers"). The caller is
// responsible for joining args; Print only does the fan-out.
func (n *Node) Print(line string) {
	for _, sub := range n.subscribers {
		_ = sub.WriteLine(line)
	}
}

// closeSubscribers closes every linked subscriber socket (§3 "Destroyed":
// "subscriber sockets closed" before the sandbox is torn down).
func (n *Node) closeSubscribers() {
	for _, sub := range n.subscribers {
		if c, ok := sub.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}
	n.subscribers = nil
}

// PrepareReboot clears width/height/alias/blacklist/cached-frame state
// ahead of a sandbox Boot (Open Question 3 in SPEC_FULL.md: "any write to
// the code file implies boot", and the reset always precedes the boot,
// regardless of which caller triggered it). The static cache is dropped
// since a rebooted node's next render_to_image is a different script
// version and must not resurrect the previous one's stale frame.
func (n *Node) PrepareReboot() {
	n.Width = 0
	n.Height = 0
	n.BlacklistedUntil = time.Time{}
	n.StaticCache = nil
	if n.Alias != "" && n.Tree != nil {
		n.Tree.unregisterAlias(n.Alias)
	}
	n.Alias = ""
}
