// Copyright (C) 2013 dividuum. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package resources

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
)

// VNC implements the §6 remote-screen interface: `open(host, port) ->
// vnc_handle`, `size()`, `alive()`, `draw(x1,y1,x2,y2,alpha)`. It speaks
// the RFB handshake and raw-encoding framebuffer-update subset described
// in original_source/vnc.c. Only servers whose native pixel format is
// 32bpp are accepted (§6 "bpp=32 only"); the handshake fails for any
// other depth. After that it requests a fixed 32bpp pixel format with
// known shifts, so every frame update uses the same conversion.
type VNC struct {
	conn       net.Conn
	r          *bufio.Reader
	host       string
	port       int
	width      int
	height     int
	redShift   uint8
	greenShift uint8
	blueShift  uint8

	// mu guards tex and alive, written by readLoop's own goroutine and read
	// by Draw/Alive/Close from the sandbox's single-threaded render dispatch.
	mu    sync.Mutex
	tex   *ebiten.Image
	alive bool
}

const defaultVNCPort = 5900

// OpenVNC connects to host:port (port defaults to 5900, §4.C create_vnc)
// and performs the RFB handshake.
func OpenVNC(host string, port int) (*VNC, error) {
	if port == 0 {
		port = defaultVNCPort
	}
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("resources: vnc dial %s:%d: %w", host, port, err)
	}
	v := &VNC{conn: conn, r: bufio.NewReader(conn), host: host, port: port}
	if err := v.handshake(); err != nil {
		conn.Close()
		return nil, err
	}
	v.alive = true
	go v.readLoop()
	return v, nil
}

func (v *VNC) handshake() error {
	greeting := make([]byte, 12)
	if _, err := readFull(v.r, greeting); err != nil {
		return fmt.Errorf("resources: vnc handshake: %w", err)
	}
	if string(greeting[:3]) != "RFB" {
		return fmt.Errorf("resources: vnc handshake: unexpected protocol version %q", greeting)
	}
	// Reply with the same version, matching the common 3.3/3.8 servers
	// this deployment targets; no authentication is attempted (§1
	// non-goals: the host offers no authentication of its own, and the
	// VNC servers it connects to are assumed pre-authorized on the
	// operator's network).
	if _, err := v.conn.Write(greeting); err != nil {
		return fmt.Errorf("resources: vnc handshake write: %w", err)
	}

	var secType [4]byte
	if _, err := readFull(v.r, secType[:]); err != nil {
		return fmt.Errorf("resources: vnc security negotiation: %w", err)
	}
	// ClientInit: non-shared session.
	if _, err := v.conn.Write([]byte{1}); err != nil {
		return err
	}

	// ServerInit.
	var dims [4]byte
	if _, err := readFull(v.r, dims[:]); err != nil {
		return fmt.Errorf("resources: vnc server init: %w", err)
	}
	v.width = int(binary.BigEndian.Uint16(dims[0:2]))
	v.height = int(binary.BigEndian.Uint16(dims[2:4]))

	pf := make([]byte, 16)
	if _, err := readFull(v.r, pf); err != nil {
		return fmt.Errorf("resources: vnc pixel format: %w", err)
	}
	bpp := pf[0]
	if bpp != 32 {
		return fmt.Errorf("resources: vnc: invalid bpp %d (only 32bit supported)", bpp)
	}
	v.redShift = pf[11]
	v.greenShift = pf[12]
	v.blueShift = pf[13]

	var nameLen [4]byte
	if _, err := readFull(v.r, nameLen[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(nameLen[:])
	if n > 0 {
		name := make([]byte, n)
		if _, err := readFull(v.r, name); err != nil {
			return err
		}
	}

	// Request our own fixed 32bpp/BGRA pixel format so every frame update
	// needs the same conversion regardless of the server's native depth.
	setPF := make([]byte, 20)
	setPF[0] = 0 // SetPixelFormat message type
	setPF[4] = 32
	setPF[5] = 24 // depth
	setPF[6] = 0  // little-endian
	setPF[7] = 1  // true-color
	binary.BigEndian.PutUint16(setPF[8:10], 255)
	binary.BigEndian.PutUint16(setPF[10:12], 255)
	binary.BigEndian.PutUint16(setPF[12:14], 255)
	setPF[14] = 16 // red shift
	setPF[15] = 8  // green shift
	setPF[16] = 0  // blue shift
	v.redShift, v.greenShift, v.blueShift = 16, 8, 0
	if _, err := v.conn.Write(setPF); err != nil {
		return err
	}

	v.tex = ebiten.NewImage(v.width, v.height)
	return v.requestUpdate(false)
}

func (v *VNC) requestUpdate(incremental bool) error {
	req := make([]byte, 10)
	req[0] = 3 // FramebufferUpdateRequest
	if incremental {
		req[1] = 1
	}
	binary.BigEndian.PutUint16(req[2:4], 0)
	binary.BigEndian.PutUint16(req[4:6], 0)
	binary.BigEndian.PutUint16(req[6:8], uint16(v.width))
	binary.BigEndian.PutUint16(req[8:10], uint16(v.height))
	_, err := v.conn.Write(req)
	return err
}

// readLoop processes FramebufferUpdate messages with raw (uncompressed)
// rectangle encoding, the only encoding original_source/vnc.c supports.
// It runs on its own goroutine — remote-screen connections are "internal
// to the resource components and visible to the Node only as delivered
// events" (§5 "Suspension points").
func (v *VNC) readLoop() {
	defer func() {
		v.mu.Lock()
		v.alive = false
		v.mu.Unlock()
		v.conn.Close()
	}()
	for {
		var hdr [2]byte
		if _, err := readFull(v.r, hdr[:]); err != nil {
			return
		}
		if hdr[0] != 0 { // only FramebufferUpdate is handled
			continue
		}
		var countBuf [2]byte
		if _, err := readFull(v.r, countBuf[:]); err != nil {
			return
		}
		count := binary.BigEndian.Uint16(countBuf[:])
		for i := uint16(0); i < count; i++ {
			if err := v.readRect(); err != nil {
				return
			}
		}
		if err := v.requestUpdate(true); err != nil {
			return
		}
	}
}

func (v *VNC) readRect() error {
	var hdr [12]byte
	if _, err := readFull(v.r, hdr[:]); err != nil {
		return err
	}
	x := int(binary.BigEndian.Uint16(hdr[0:2]))
	y := int(binary.BigEndian.Uint16(hdr[2:4]))
	w := int(binary.BigEndian.Uint16(hdr[4:6]))
	h := int(binary.BigEndian.Uint16(hdr[6:8]))
	encoding := int32(binary.BigEndian.Uint32(hdr[8:12]))
	if encoding != 0 { // raw encoding only
		return fmt.Errorf("resources: vnc: unsupported encoding %d", encoding)
	}
	pixels := make([]byte, w*h*4)
	if _, err := readFull(v.r, pixels); err != nil {
		return err
	}
	rgba := make([]byte, len(pixels))
	for i := 0; i < len(pixels); i += 4 {
		px := binary.LittleEndian.Uint32(pixels[i : i+4])
		rgba[i+0] = byte(px >> v.redShift)
		rgba[i+1] = byte(px >> v.greenShift)
		rgba[i+2] = byte(px >> v.blueShift)
		rgba[i+3] = 0xff
	}
	v.mu.Lock()
	v.tex.WritePixels(rectPixels(v.width, v.height, x, y, w, h, rgba))
	v.mu.Unlock()
	return nil
}

// rectPixels expands a w*h RGBA rect into a full width*height image with
// the rect placed at (x,y), matching ebiten's WritePixels contract of
// always covering the whole image.
func rectPixels(width, height, x, y, w, h int, rect []byte) []byte {
	full := make([]byte, width*height*4)
	for row := 0; row < h; row++ {
		srcOff := row * w * 4
		dstOff := ((y+row)*width + x) * 4
		copy(full[dstOff:dstOff+w*4], rect[srcOff:srcOff+w*4])
	}
	return full
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// Size implements the size() capability.
func (v *VNC) Size() (int, int) { return v.width, v.height }

// Alive implements the alive() capability.
func (v *VNC) Alive() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.alive
}

// Draw implements draw(x1,y1,x2,y2,alpha): draws the current framebuffer
// texture into dst, stretched to the given rectangle with the given alpha.
// base is the caller's current gl stack transform (§4.C), composed on top
// of the local placement like every other draw call.
func (v *VNC) Draw(dst *ebiten.Image, base ebiten.GeoM, x1, y1, x2, y2, alpha float64) {
	op := &ebiten.DrawImageOptions{}
	sx := (x2 - x1) / float64(v.width)
	sy := (y2 - y1) / float64(v.height)
	op.GeoM.Scale(sx, sy)
	op.GeoM.Translate(x1, y1)
	op.GeoM.Concat(base)
	op.ColorScale.ScaleAlpha(float32(alpha))
	v.mu.Lock()
	tex := v.tex
	v.mu.Unlock()
	dst.DrawImage(tex, op)
}

// Close disconnects from the server.
func (v *VNC) Close() error {
	v.mu.Lock()
	v.alive = false
	v.mu.Unlock()
	return v.conn.Close()
}

func (v *VNC) TexID() uint64    { return texID(v.tex) }
func (v *VNC) Host() string     { return v.host }
func (v *VNC) Port() int        { return v.port }
