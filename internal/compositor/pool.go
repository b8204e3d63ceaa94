// Copyright (C) 2013 dividuum. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package compositor

import (
	"sync"

	"github.com/dividuum/info-beamer/internal/glog"
	"github.com/dividuum/info-beamer/internal/resources"
)

// entry is one (width, height, fbo, texture) tuple (§3 "Resource pool
// entry"), adapted from the teacher's renderTexturePool bucket-by-size
// cache (rendertarget.go) but keeping true (w,h) keys and true insertion
// order instead of power-of-two buckets — §3 requires the exact size and
// oldest-first eviction, not an LRU.
type entry struct {
	w, h int
	fb   *resources.Framebuffer
}

// Pool is the bounded, insertion-ordered Resource pool of §3/§5: "a
// process-wide insertion-ordered list with a capacity bound; on overflow
// the oldest entry is destroyed, not the most recently used."
type Pool struct {
	capacity int

	// mu guards entries: Acquire/Release normally run on the single-
	// threaded render loop, but Release is also invoked from an
	// Image's runtime.SetFinalizer callback, which the Go runtime may run
	// on an arbitrary goroutine.
	mu      sync.Mutex
	entries []entry // index 0 is oldest
}

// NewPool creates a Pool with the given capacity (§6 constants default to
// config.Keys.ResourcePoolCapacity, 30).
func NewPool(capacity int) *Pool {
	return &Pool{capacity: capacity}
}

// Acquire returns an offscreen target of exactly (w,h). If the pool has no
// same-sized entry, a fresh framebuffer is allocated (§4.F step 3).
func (p *Pool) Acquire(w, h int) *resources.Framebuffer {
	p.mu.Lock()
	for i, e := range p.entries {
		if e.w == w && e.h == h {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			p.mu.Unlock()
			return e.fb
		}
	}
	p.mu.Unlock()
	return resources.AllocateFramebuffer(w, h)
}

// Release returns fb to the pool for reuse, evicting the oldest entry if
// the pool is at capacity (§3 "on overflow the oldest entry is
// destroyed").
func (p *Pool) Release(fb *resources.Framebuffer) {
	if fb == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.entries) >= p.capacity {
		oldest := p.entries[0]
		p.entries = p.entries[1:]
		glog.Debugf("compositor: pool at capacity %d, destroying oldest %dx%d entry", p.capacity, oldest.w, oldest.h)
		resources.DestroyFramebuffer(oldest.fb)
	}
	p.entries = append(p.entries, entry{w: fb.W, h: fb.H, fb: fb})
}

// Len reports the number of currently pooled (unleased) entries.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
