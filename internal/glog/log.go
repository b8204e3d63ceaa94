// Copyright (C) 2013 dividuum. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package glog provides leveled logging for the host and its nodes.
//
// Time/date are omitted by default (the supervising process usually adds
// them); levels are distinguished by a syslog-style numeric prefix so the
// output can be piped through a log collector without reparsing text.
package glog

import (
	"fmt"
	"io"
	"log"
	"os"
)

var (
	DebugWriter io.Writer = os.Stderr
	InfoWriter  io.Writer = os.Stderr
	WarnWriter  io.Writer = os.Stderr
	ErrWriter   io.Writer = os.Stderr
)

var (
	DebugPrefix = "<7>[DEBUG] "
	InfoPrefix  = "<6>[INFO]  "
	WarnPrefix  = "<4>[WARN]  "
	ErrPrefix   = "<3>[ERROR] "
)

var (
	debugLog = log.New(DebugWriter, DebugPrefix, 0)
	infoLog  = log.New(InfoWriter, InfoPrefix, 0)
	warnLog  = log.New(WarnWriter, WarnPrefix, 0)
	errLog   = log.New(ErrWriter, ErrPrefix, 0)
)

// Level selects which severities are emitted.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var current = LevelInfo

// SetLevel sets the minimum severity that will be written.
func SetLevel(l Level) { current = l }

func Debugf(format string, v ...interface{}) {
	if current <= LevelDebug {
		debugLog.Output(2, fmt.Sprintf(format, v...))
	}
}

func Infof(format string, v ...interface{}) {
	if current <= LevelInfo {
		infoLog.Output(2, fmt.Sprintf(format, v...))
	}
}

func Warnf(format string, v ...interface{}) {
	if current <= LevelWarn {
		warnLog.Output(2, fmt.Sprintf(format, v...))
	}
}

func Errorf(format string, v ...interface{}) {
	if current <= LevelError {
		errLog.Output(2, fmt.Sprintf(format, v...))
	}
}

// ANSI colors used for node-prefixed diagnostic lines (§7: "stderr gets a
// colored line prefixed with the offending Node's path").
const (
	colorRed    = "\x1b[31m"
	colorYellow = "\x1b[33m"
	colorReset  = "\x1b[0m"
)

// NodeSink receives one formatted diagnostic line per call. Node attaches
// its subscriber fan-out as a second sink alongside the stderr writer.
type NodeSink func(line string)

// NodeLine formats a single diagnostic line for a node failure, always
// prefixed with the node's canonical path. It is written to stderr with
// ANSI color codes (whether or not stderr is a terminal) and, if sinks are
// given, fanned out unmodified
// (no color codes) to each sink so subscriber sockets get clean text.
func NodeLine(path string, class string, message string, sinks ...NodeSink) {
	plain := fmt.Sprintf("%s: %s: %s", path, class, message)
	color := colorYellow
	if class == "fatal" {
		color = colorRed
	}
	errLog.Output(2, color+plain+colorReset)
	for _, sink := range sinks {
		sink(plain + "\n")
	}
}
