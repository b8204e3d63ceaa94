// Copyright (C) 2013 dividuum. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package sandbox

import "fmt"

// Arena approximates the per-node heap bound of §4.B ("Heap"). gopher-lua,
// unlike the original's custom lua_Alloc hook (main.c's lua_alloc), does
// not expose an allocator callback a host can intercept, so Lua's own
// table/string/closure memory is not accounted here. Arena instead tracks
// host-mediated allocations charged at their call sites: decoded images
// (load_image) and file buffers (load_file). Fonts, shaders and offscreen
// render targets are not charged. This is a
// documented approximation (see DESIGN.md) rather than a true per-node
// memory ceiling.
type Arena struct {
	limit int64
	used  int64
}

// NewArena creates an Arena bounded at limit bytes.
func NewArena(limit int64) *Arena {
	return &Arena{limit: limit}
}

// Reserve accounts n additional bytes against the arena, failing if doing
// so would exceed the limit.
func (a *Arena) Reserve(n int64) error {
	if a.used+n > a.limit {
		return fmt.Errorf("sandbox: heap arena exceeded (%d/%d bytes)", a.used+n, a.limit)
	}
	a.used += n
	return nil
}

// Release returns n bytes to the arena, e.g. when a resource is disposed.
func (a *Arena) Release(n int64) {
	a.used -= n
	if a.used < 0 {
		a.used = 0
	}
}

// Used reports the currently reserved byte count.
func (a *Arena) Used() int64 { return a.used }

// Reset clears all reservations, called on Boot (§4.B: a fresh interpreter
// gets a fresh arena).
func (a *Arena) Reset() { a.used = 0 }
