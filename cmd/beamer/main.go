// Copyright (C) 2013 dividuum. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command beamer is the info-beamer host process (§6 CLI).
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dividuum/info-beamer/internal/compositor"
	"github.com/dividuum/info-beamer/internal/config"
	"github.com/dividuum/info-beamer/internal/glog"
	"github.com/dividuum/info-beamer/internal/hostloop"
	"github.com/dividuum/info-beamer/internal/router"
	"github.com/dividuum/info-beamer/internal/tree"
	"github.com/dividuum/info-beamer/internal/watcher"
)

const (
	versionString = "info-beamer 1.0"
	windowWidth   = 1024
	windowHeight  = 768
)

func main() {
	fmt.Fprintf(os.Stdout, "%s (%s)\n", versionString, router.InfoURL)

	if len(os.Args) != 2 || os.Args[1] == "-h" {
		fmt.Fprintf(os.Stderr,
			"Usage: %s <root-directory>\n\n"+
				"Optional environment variables:\n\n"+
				"  INFOBEAMER_FULLSCREEN=1  # fullscreen mode\n"+
				"  INFOBEAMER_PORT=<port>   # listen on an alternative port (tcp & udp, default %d)\n"+
				"  INFOBEAMER_DEBUG=1       # relax the per-call cpu budget for debugging\n\n",
			os.Args[0], config.Keys.Port)
		os.Exit(1)
	}

	root, err := filepath.Abs(os.Args[1])
	if err != nil {
		glog.Errorf("cannot canonicalize path: %v", err)
		os.Exit(1)
	}
	root, err = filepath.EvalSymlinks(root)
	if err != nil {
		glog.Errorf("cannot canonicalize path: %v", err)
		os.Exit(1)
	}

	baseDir := filepath.Dir(root)
	rootName := filepath.Base(root)
	glog.Infof("chdir %s", baseDir)
	if err := os.Chdir(baseDir); err != nil {
		glog.Errorf("cannot chdir(%s): %v", baseDir, err)
		os.Exit(1)
	}

	config.Load()
	compositor.SetQuotas(config.Keys.RenderChildQuota, config.Keys.SnapshotQuota)
	glog.Infof("tcp/udp port is %d", config.Keys.Port)

	rootNode := tree.NewRoot(rootName)
	tr := tree.NewTree(rootNode)
	comp := compositor.NewCompositor(config.Keys.ResourcePoolCapacity)

	w, err := watcher.New(tr, comp, baseDir)
	if err != nil {
		glog.Errorf("cannot start filesystem watcher: %v", err)
		os.Exit(1)
	}
	defer w.Close()

	r, err := router.New(tr, config.Keys.Port)
	if err != nil {
		glog.Errorf("cannot start router: %v", err)
		os.Exit(1)
	}
	defer r.Close()

	if err := w.SeedRoot(); err != nil {
		glog.Errorf("cannot seed root node %s: %v", rootName, err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sig
		glog.Infof("received %s, shutting down", s)
		w.Close()
		r.Close()
		os.Exit(0)
	}()

	loop := hostloop.New(tr, comp, w, r, windowWidth, windowHeight)
	if err := hostloop.Run(loop, versionString, config.Keys.Fullscreen); err != nil {
		glog.Errorf("%v", err)
		os.Exit(1)
	}
}
