// Copyright (C) 2013 dividuum. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package router implements §4.G: a UDP datagram listener and a TCP
// stream listener sharing the Tree's path/alias address space.
//
// Both listeners only decode bytes and enqueue them; resolving an
// address against the Tree and delivering into a Sandbox only happens
// from Drain, called once per host-loop tick (§4.H step 3: "drain the
// I/O event queue, non-blocking"), so Tree/Node state is never touched
// from the accept/read goroutines — the same discipline internal/watcher
// uses for filesystem events (§5 "single-threaded cooperative").
package router

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/dividuum/info-beamer/internal/glog"
	"github.com/dividuum/info-beamer/internal/tree"
)

// Version and InfoURL are reported in the stream greeting line (§6
// "Server greeting line includes version string, info URL, and process
// id").
const (
	Version = "1.0"
	InfoURL = "https://info-beamer.com"
)

type ioKind int

const (
	ioDatagram ioKind = iota
	ioStreamLine
	ioStreamClosed
)

type ioEvent struct {
	kind ioKind

	addr net.Addr
	raw  []byte

	sc   *streamConn
	line string
}

// Router owns the datagram and stream listeners and the queue bridging
// their goroutines back to the single cooperative thread.
type Router struct {
	tr *tree.Tree

	udpConn  net.PacketConn
	tcpLn    net.Listener
	greeting string

	mu      sync.Mutex
	pending []ioEvent

	connsMu sync.Mutex
	conns   map[*streamConn]struct{}
}

// New starts both listeners on port, bound to all interfaces (§6
// "INFOBEAMER_PORT ... applies to both datagram and stream listeners").
func New(tr *tree.Tree, port int) (*Router, error) {
	udpConn, err := net.ListenPacket("udp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("router: datagram listen: %w", err)
	}
	tcpLn, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("router: stream listen: %w", err)
	}

	r := &Router{
		tr:       tr,
		udpConn:  udpConn,
		tcpLn:    tcpLn,
		greeting: fmt.Sprintf("info-beamer %s %s pid=%d\n", Version, InfoURL, os.Getpid()),
		conns:    make(map[*streamConn]struct{}),
	}
	go r.datagramLoop()
	go r.acceptLoop()
	return r, nil
}

// Close shuts down both listeners and every linked stream connection.
func (r *Router) Close() error {
	r.udpConn.Close()
	r.tcpLn.Close()
	r.connsMu.Lock()
	for sc := range r.conns {
		sc.conn.Close()
	}
	r.connsMu.Unlock()
	return nil
}

func (r *Router) enqueue(ev ioEvent) {
	r.mu.Lock()
	r.pending = append(r.pending, ev)
	r.mu.Unlock()
}

// Drain applies every queued datagram and stream event. Must only be
// called from the host loop's single cooperative thread.
func (r *Router) Drain() {
	r.mu.Lock()
	events := r.pending
	r.pending = nil
	r.mu.Unlock()

	for _, ev := range events {
		switch ev.kind {
		case ioDatagram:
			r.applyDatagram(ev.addr, ev.raw)
		case ioStreamLine:
			r.applyStreamLine(ev.sc, ev.line)
		case ioStreamClosed:
			r.applyStreamClosed(ev.sc)
		}
	}
}

func (r *Router) datagramLoop() {
	buf := make([]byte, 65536)
	for {
		n, addr, err := r.udpConn.ReadFrom(buf)
		if err != nil {
			return // listener closed
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])
		r.enqueue(ioEvent{kind: ioDatagram, addr: addr, raw: raw})
	}
}

// applyDatagram implements §4.G's datagram format and longest-prefix
// resolution.
func (r *Router) applyDatagram(addr net.Addr, raw []byte) {
	address, data, isOSC, errToken := parseDatagram(raw)
	if errToken != "" {
		r.udpConn.WriteTo([]byte(errToken), addr)
		return
	}
	n, suffix, ok := resolveAddress(r.tr, address)
	if !ok {
		r.udpConn.WriteTo([]byte("404\n"), addr)
		return
	}
	if n.Sandbox == nil {
		return
	}
	if err := n.Sandbox.Event("raw_data", string(data), isOSC, suffix); err != nil {
		glog.Debugf("router: %s: raw_data: %v", n.Path, err)
	}
}

// parseDatagram decodes the two datagram dialects (§4.G). errToken is
// non-empty ("fmt\n" or "wtf\n") when the payload is malformed.
func parseDatagram(raw []byte) (address string, data []byte, isOSC bool, errToken string) {
	if len(raw) == 0 {
		return "", nil, false, "fmt\n"
	}
	if raw[0] == '/' {
		nul := bytes.IndexByte(raw, 0)
		if nul == -1 {
			return "", nil, false, "fmt\n"
		}
		start := nul + 1
		aligned := (start + 3) &^ 3
		if aligned > len(raw) {
			return "", nil, false, "wtf\n"
		}
		return string(raw[1:nul]), raw[aligned:], true, ""
	}
	idx := bytes.IndexByte(raw, ':')
	if idx == -1 {
		return "", nil, false, "fmt\n"
	}
	return string(raw[:idx]), raw[idx+1:], false, ""
}

// resolveAddress implements §4.G's longest-prefix resolution: try the
// full address, then progressively strip the last /-segment off the
// end, accumulating what was stripped as suffix, until a Node matches
// or nothing is left to strip.
func resolveAddress(tr *tree.Tree, address string) (n *tree.Node, suffix string, ok bool) {
	addr := address
	for {
		if found := tr.FindByPathOrAlias(addr); found != nil {
			return found, suffix, true
		}
		idx := strings.LastIndexByte(addr, '/')
		if idx == -1 {
			return nil, "", false
		}
		tail := addr[idx+1:]
		if suffix == "" {
			suffix = tail
		} else {
			suffix = tail + "/" + suffix
		}
		addr = addr[:idx]
	}
}

// streamConn wraps one subscribed TCP connection (§4.G "Stream
// protocol"). node is nil until the client's first line matches an
// address; it is only ever written from Drain.
type streamConn struct {
	conn net.Conn
	node *tree.Node
}

// WriteLine implements tree.Subscriber, fanning out a linked Node's
// print/diagnostic output to the socket (§4.G "any print/diagnostic
// output of the linked Node is fanned out to the socket").
func (sc *streamConn) WriteLine(line string) error {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	_, err := sc.conn.Write([]byte(line))
	return err
}

// Close satisfies the optional Close() interface tree.Node's subscriber
// teardown looks for (§3 "Destroyed": subscriber sockets closed).
func (sc *streamConn) Close() error { return sc.conn.Close() }

func (r *Router) acceptLoop() {
	for {
		conn, err := r.tcpLn.Accept()
		if err != nil {
			return // listener closed
		}
		sc := &streamConn{conn: conn}
		r.connsMu.Lock()
		r.conns[sc] = struct{}{}
		r.connsMu.Unlock()

		if _, err := conn.Write([]byte(r.greeting)); err != nil {
			conn.Close()
			continue
		}
		go r.readLoop(sc)
	}
}

func (r *Router) readLoop(sc *streamConn) {
	scanner := bufio.NewScanner(sc.conn)
	for scanner.Scan() {
		r.enqueue(ioEvent{kind: ioStreamLine, sc: sc, line: scanner.Text()})
	}
	r.enqueue(ioEvent{kind: ioStreamClosed, sc: sc})
}

// applyStreamLine implements the subscribe handshake on the first line,
// then event("input", line) delivery on every line after.
func (r *Router) applyStreamLine(sc *streamConn, line string) {
	if sc.node == nil {
		n := r.tr.FindByPathOrAlias(line)
		if n == nil {
			sc.WriteLine("404")
			return
		}
		sc.node = n
		n.AddSubscriber(sc)
		sc.WriteLine("ok!")
		return // sc.node set; subsequent lines are delivered as event("input", line)
	}
	if sc.node.Sandbox == nil {
		return
	}
	if err := sc.node.Sandbox.Event("input", line); err != nil {
		glog.Debugf("router: %s: input: %v", sc.node.Path, err)
	}
}

func (r *Router) applyStreamClosed(sc *streamConn) {
	r.connsMu.Lock()
	delete(r.conns, sc)
	r.connsMu.Unlock()
	if sc.node != nil {
		sc.node.RemoveSubscriber(sc)
	}
	sc.conn.Close()
}
