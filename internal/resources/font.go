// Copyright (C) 2013 dividuum. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package resources

import (
	"fmt"
	"image/color"
	"os"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
)

// Font implements the §6 font interface: `load(path) -> font` plus
// `write(x,y,text,size,color_or_texture) -> advance`. Text is UTF-8
// validated before it reaches the shaping/drawing path, per the node
// capability table (§4.C load_font).
type Font struct {
	face *opentype.Font
}

// LoadFont parses a TTF/OTF file from path.
func LoadFont(path string) (*Font, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("resources: load font %s: %w", path, err)
	}
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("resources: parse font %s: %w", path, err)
	}
	return &Font{face: f}, nil
}

// Write draws text onto dst at (x,y) using size and tint, returning the
// horizontal advance in pixels. base is the caller's current gl stack
// transform (§4.C), composed on top of the local (x,y) placement so
// gl.translate/rotate/scale affect text the same as every other draw. An
// ill-formed UTF-8 string is sanitized (SanitizedUTF8) rather than
// rejected.
func (f *Font) Write(dst *ebiten.Image, base ebiten.GeoM, x, y float64, str string, size float64, tint color.Color) (advance float64, err error) {
	str = SanitizedUTF8(str)
	face, err := opentype.NewFace(f.face, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return 0, fmt.Errorf("resources: font face: %w", err)
	}
	defer face.Close()

	op := &text.DrawOptions{}
	op.GeoM.Translate(x, y)
	op.GeoM.Concat(base)
	op.ColorScale.ScaleWithColor(tint)
	textFace := text.NewGoXFace(face)
	text.Draw(dst, str, textFace, op)

	adv, _ := text.Measure(str, textFace, 0)
	return adv, nil
}
