// Copyright (C) 2013 dividuum. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config reads the small set of environment variables the host
// honors, plus the defaults for the per-call CPU budget and quotas that
// spec §4.B/§4.C name but leave to "default" values.
package config

import (
	"os"
	"strconv"
)

// Keys holds the process-wide configuration, populated by Load.
var Keys = struct {
	// Port is bound for both the datagram and stream listeners, on all
	// interfaces. INFOBEAMER_PORT, default 4444.
	Port int
	// Fullscreen requests a fullscreen window from the window provider.
	// INFOBEAMER_FULLSCREEN.
	Fullscreen bool
	// Debug relaxes the per-call CPU budget to CPUBudgetDebug, for running
	// under a debugger/profiler where a script legitimately pauses mid-call.
	// INFOBEAMER_DEBUG.
	Debug bool

	// CPUBudget is the per-call virtual-time alarm (§4.B point 1).
	CPUBudget float64 // seconds, default 0.5
	// CPUBudgetDebug is used instead of CPUBudget when Debug is set.
	CPUBudgetDebug float64 // seconds, default 5
	// BlacklistDuration is how long a Node is skipped after a CPU expiry.
	BlacklistDuration float64 // seconds, default 60
	// ArenaSize bounds a sandbox's heap arena (§4.B "Heap").
	ArenaSize int64 // bytes, default ~2GiB
	// RenderChildQuota caps render_child calls per render dispatch.
	RenderChildQuota int // default 20
	// SnapshotQuota caps create_snapshot calls per render dispatch.
	SnapshotQuota int // default 5
	// ResourcePoolCapacity bounds the compositor's offscreen-target pool.
	ResourcePoolCapacity int // default 30
}{
	Port:                 4444,
	Fullscreen:           false,
	Debug:                false,
	CPUBudget:            0.5,
	CPUBudgetDebug:       5.0,
	BlacklistDuration:    60.0,
	ArenaSize:            2 << 30,
	RenderChildQuota:     20,
	SnapshotQuota:        5,
	ResourcePoolCapacity: 30,
}

// Load populates Keys from the environment. Call once at startup, before
// any other package reads Keys.
func Load() {
	if v := os.Getenv("INFOBEAMER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			Keys.Port = p
		}
	}
	if v := os.Getenv("INFOBEAMER_FULLSCREEN"); v != "" {
		Keys.Fullscreen = v != "0" && v != "false"
	}
	if v := os.Getenv("INFOBEAMER_DEBUG"); v != "" {
		Keys.Debug = v != "0" && v != "false"
	}
}
