// Copyright (C) 2013 dividuum. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package sandbox implements tree.Sandbox with an embedded gopher-lua
// interpreter (§4.B), grounded on original_source/main.c's node_enter /
// lua_timed_pcall dispatch discipline: every call into a node's script
// runs under a CPU-time alarm and a traceback-capturing error handler
// (no per-call GC step is run; see GCStep), with a first budget expiry blacklisting the
// node and a second, back-to-back expiry considered unstoppable runaway
// code.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dividuum/info-beamer/internal/compositor"
	"github.com/dividuum/info-beamer/internal/config"
	"github.com/dividuum/info-beamer/internal/glog"
	"github.com/dividuum/info-beamer/internal/resources"
	"github.com/dividuum/info-beamer/internal/tree"
)

// Sandbox is the gopher-lua-backed implementation of tree.Sandbox bound to
// one Node and the directory backing it.
type Sandbox struct {
	node       *tree.Node
	compositor *compositor.Compositor
	dir        string

	L *lua.LState

	budget    time.Duration
	blacklist time.Duration
	arena     *Arena

	consecutiveTimeouts int
	now                 time.Time

	images  []*resources.Image
	videos  []*resources.Video
	fonts   []*resources.Font
	shaders []*resources.Shader
	vncs    []*resources.VNC

	// activeShader is the shader staged by the most recent shader:use()
	// call still in effect (§4.C "shader:use(...) stages the program for
	// subsequent draws until deactivate() or the next render dispatch").
	activeShader *resources.Shader
}

// New creates a Sandbox for node, backed by the files in dir (the node's
// directory), rendering through comp.
func New(node *tree.Node, comp *compositor.Compositor, dir string) *Sandbox {
	budgetSeconds := config.Keys.CPUBudget
	if config.Keys.Debug {
		budgetSeconds = config.Keys.CPUBudgetDebug
	}
	budget := time.Duration(budgetSeconds * float64(time.Second))
	return &Sandbox{
		node:       node,
		compositor: comp,
		dir:        dir,
		budget:     budget,
		blacklist:  time.Duration(config.Keys.BlacklistDuration * float64(time.Second)),
		arena:      NewArena(config.Keys.ArenaSize),
	}
}

// SetNow updates the wall-clock time capability calls observe (the host
// loop calls this once per tick before dispatching to any node).
func (s *Sandbox) SetNow(now time.Time) { s.now = now }

// Boot (re)initializes the interpreter: any previous state and its
// tracked resources are torn down, a fresh *lua.LState is created and the
// capability surface registered, the node's code file is loaded, and the
// "boot" handler is dispatched (§4.B "(Re)booting").
func (s *Sandbox) Boot() error {
	s.teardown()
	s.arena.Reset()

	s.L = lua.NewState()
	s.registerCapabilities()

	codePath := filepath.Join(s.dir, "node.lua")
	if err := s.L.DoFile(codePath); err != nil {
		glog.NodeLine(s.node.Path, "lua", err.Error(), nodeSinks(s.node.Subscribers())...)
		return fmt.Errorf("sandbox: boot %s: %w", s.node.Path, err)
	}
	_, err := s.enter("boot", tree.ProfileBoot)
	return err
}

// ContentUpdate dispatches content_update(name, added) (§4.C).
func (s *Sandbox) ContentUpdate(name string, added bool) error {
	_, err := s.enter("content_update", tree.ProfileUpdate, lua.LString(name), lua.LBool(added))
	return err
}

// ChildUpdate dispatches child_update(name, added) (§4.C).
func (s *Sandbox) ChildUpdate(name string, added bool) error {
	_, err := s.enter("child_update", tree.ProfileUpdate, lua.LString(name), lua.LBool(added))
	return err
}

// Event dispatches event(name, args...) (§4.C), converting the Go-typed
// args to the dynamically typed Lua values §9 describes (string, number,
// bool — anything else is stringified).
func (s *Sandbox) Event(name string, args ...interface{}) error {
	lvals := make([]lua.LValue, 0, len(args)+1)
	lvals = append(lvals, lua.LString(name))
	for _, a := range args {
		lvals = append(lvals, toLValue(a))
	}
	_, err := s.enter("event", tree.ProfileEvent, lvals...)
	return err
}

// RenderSelf dispatches render(w, h) (§4.F step 5). The node paints by
// issuing draw capability calls against the currently bound target, not
// through a returned value, so the Texture return is always nil; it's
// kept on the interface for symmetry with render_to_image's own return.
func (s *Sandbox) RenderSelf(w, h int) (tree.Texture, error) {
	s.activeShader = nil
	_, err := s.enter("render", tree.ProfileEvent, lua.LNumber(w), lua.LNumber(h))
	return nil, err
}

// GCStep implements host-loop step 7 ("run one bounded GC step") for the
// interface's sake. gopher-lua has no steppable collector to drive: Lua
// values are ordinary Go objects reclaimed by Go's own garbage collector,
// which runs globally and automatically rather than per-interpreter, so
// there is nothing bounded to step here (documented in DESIGN.md).
func (s *Sandbox) GCStep() {}

// Close tears down the interpreter and every resource it opened.
func (s *Sandbox) Close() { s.teardown() }

func (s *Sandbox) teardown() {
	for _, img := range s.images {
		img.Dispose()
	}
	for _, v := range s.videos {
		v.Close()
	}
	for _, v := range s.vncs {
		v.Close()
	}
	s.images, s.videos, s.fonts, s.shaders, s.vncs = nil, nil, nil, nil, nil
	if s.L != nil {
		s.L.Close()
		s.L = nil
	}
}

// enter is the Go analogue of lua_node_enter: look up a global handler
// function, and if the script defines one, call it under the CPU budget,
// profiling the elapsed time into bin and touching last_activity. A
// handler the script hasn't defined is a silent no-op, matching "a node
// need not implement every entry point" (§4.B).
func (s *Sandbox) enter(funcName string, bin tree.ProfileBin, args ...lua.LValue) (lua.LValue, error) {
	fn, ok := s.L.GetGlobal(funcName).(*lua.LFunction)
	if !ok {
		return lua.LNil, nil
	}

	// Per-render quotas are reset on every dispatch.
	s.node.RenderChildRemaining = config.Keys.RenderChildQuota
	s.node.SnapshotRemaining = config.Keys.SnapshotQuota

	ctx, cancel := context.WithTimeout(context.Background(), s.budget)
	defer cancel()
	s.L.SetContext(ctx)

	start := time.Now()
	s.L.Push(fn)
	for _, a := range args {
		s.L.Push(a)
	}
	err := s.L.PCall(len(args), 1, s.tracebackHandler())
	s.node.AddProfileTime(bin, time.Since(start))
	s.node.Touch(s.now)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return lua.LNil, s.handleTimeout()
		}
		s.consecutiveTimeouts = 0
		glog.NodeLine(s.node.Path, "lua", err.Error(), nodeSinks(s.node.Subscribers())...)
		return lua.LNil, fmt.Errorf("sandbox: %s: %w", funcName, err)
	}
	s.consecutiveTimeouts = 0

	ret := s.L.Get(-1)
	s.L.Pop(1)
	return ret, nil
}

// tracebackHandler builds the *lua.LFunction error handler lua.PCall uses
// to enrich a script error with a Lua-level stack traceback, mirroring
// the original's registry "traceback" handler installed ahead of every
// protected call. An error value that is neither a string nor a number
// (e.g. error({code=1})) is reported as "?".
func (s *Sandbox) tracebackHandler() *lua.LFunction {
	return s.L.NewFunction(func(L *lua.LState) int {
		msg := "?"
		switch v := L.Get(1).(type) {
		case lua.LString, lua.LNumber:
			msg = v.String()
		}
		L.Push(lua.LString(L.Where(1) + msg))
		return 1
	})
}

// handleTimeout implements the blacklist / fatal-exit escalation of
// deadline_signal: a first expiry blacklists the node for the configured
// duration; a second expiry with no dispatch returning within its budget
// in between (a script error also resets the count) means
// the script is not yielding control back even across a fresh budget
// window, which the original treats as unrecoverable for the whole
// process.
func (s *Sandbox) handleTimeout() error {
	if s.consecutiveTimeouts == 0 {
		s.consecutiveTimeouts = 1
		s.node.BlacklistedUntil = s.now.Add(s.blacklist)
		glog.Warnf("%s: cpu budget exceeded, blacklisted for %s", s.node.Path, s.blacklist)
		return fmt.Errorf("sandbox: %s: cpu budget exceeded", s.node.Path)
	}
	glog.Errorf("%s: unstoppable runaway code, exiting", s.node.Path)
	os.Exit(1)
	return nil
}

// nodeSinks adapts a Node's linked subscribers to glog.NodeSink, the
// distinct named func type glog.NodeLine's variadic parameter expects (a
// []tree.Subscriber is not directly assignable to []glog.NodeSink even
// though Subscriber's single method matches its signature).
func nodeSinks(subs []tree.Subscriber) []glog.NodeSink {
	sinks := make([]glog.NodeSink, len(subs))
	for i, sub := range subs {
		sub := sub
		sinks[i] = func(line string) { _ = sub.WriteLine(line) }
	}
	return sinks
}

// toLValue converts a small set of Go primitive types to their Lua
// equivalent (§9 "Dynamic typing of sandbox arguments").
func toLValue(v interface{}) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return x
	case string:
		return lua.LString(x)
	case bool:
		return lua.LBool(x)
	case float64:
		return lua.LNumber(x)
	case float32:
		return lua.LNumber(x)
	case int:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case []byte:
		return lua.LString(x)
	default:
		return lua.LString(fmt.Sprint(x))
	}
}
