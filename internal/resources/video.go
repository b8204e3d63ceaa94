// Copyright (C) 2013 dividuum. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package resources

import (
	"fmt"

	"github.com/hajimehoshi/ebiten/v2"
)

// Video implements the §6 video interface: `load(path) -> {texture_id,
// width, height, fps}` plus `next() -> bool` advancing one frame into the
// texture, `size()`, `fps()`. Decoding itself (container demux + frame
// decode) is an out-of-scope external concern (§1); Video is the narrow
// seam the core renders through. FrameSource is supplied by whatever
// concrete decoder the deployment wires in (e.g. an ffmpeg pipe).
type Video struct {
	tex    *ebiten.Image
	w, h   int
	fps    float64
	source FrameSource
}

// FrameSource produces successive RGBA frames for a Video. Implementations
// live outside this repo's faithful core; NewVideo accepts any conforming
// decoder.
type FrameSource interface {
	// NextFrame decodes the next frame into dst (len(dst) == w*h*4,
	// tightly packed RGBA) and reports whether one was available.
	NextFrame(dst []byte) (bool, error)
	Size() (w, h int)
	FPS() float64
	Close() error
}

// NewVideo wraps source as a Video, allocating the GPU-backed texture the
// decoded frames are uploaded into.
func NewVideo(source FrameSource) *Video {
	w, h := source.Size()
	return &Video{
		tex:    ebiten.NewImage(w, h),
		w:      w,
		h:      h,
		fps:    source.FPS(),
		source: source,
	}
}

func (v *Video) TexID() uint64    { return texID(v.tex) }
func (v *Video) Size() (int, int) { return v.w, v.h }
func (v *Video) FPS() float64     { return v.fps }
func (v *Video) Ebiten() *ebiten.Image { return v.tex }

// Next decodes one frame and uploads it into the backing texture,
// implementing the `next() -> bool` capability.
func (v *Video) Next() (bool, error) {
	buf := make([]byte, v.w*v.h*4)
	ok, err := v.source.NextFrame(buf)
	if err != nil {
		return false, fmt.Errorf("resources: video frame: %w", err)
	}
	if !ok {
		return false, nil
	}
	v.tex.WritePixels(buf)
	return true, nil
}

// Close releases the texture and the underlying decoder.
func (v *Video) Close() error {
	if v.tex != nil {
		v.tex.Deallocate()
		v.tex = nil
	}
	return v.source.Close()
}
