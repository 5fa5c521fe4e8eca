// Spool is a print dispatch service for networked receipt printers.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"golang.org/x/image/draw"
)

// TargetWidth is the raster line width of an 80mm Star thermal printer in
// dots. Printers reject or crop other widths.
const TargetWidth = 565

// inkThreshold splits grayscale into paper and ink. Dithering is pointless
// on thermal paper; a hard threshold keeps text crisp.
const inkThreshold = 160

// cutSequence follows the PNG: ESC d 2, feed and full cut.
var cutSequence = []byte{0x1B, 0x64, 0x02}

// Finish converts a rendered image into the printer payload: scaled to the
// printer width, thresholded to a two-colour palette PNG, cut sequence
// appended after IEND.
func Finish(img image.Image) ([]byte, error) {
	scaled := resizeToWidth(img, TargetWidth)
	mono := monochrome(scaled, inkThreshold)

	var buf bytes.Buffer
	if err := png.Encode(&buf, mono); err != nil {
		return nil, fmt.Errorf("encode receipt png: %w", err)
	}
	buf.Write(cutSequence)
	return buf.Bytes(), nil
}

func resizeToWidth(img image.Image, width int) image.Image {
	b := img.Bounds()
	if b.Dx() == width {
		return img
	}
	h := int(math.Round(float64(b.Dy()) * float64(width) / float64(b.Dx())))
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func monochrome(img image.Image, threshold uint8) *image.Paletted {
	b := img.Bounds()
	dst := image.NewPaletted(image.Rect(0, 0, b.Dx(), b.Dy()), color.Palette{
		color.White,
		color.Black,
	})
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			gray := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			if gray.Y < threshold {
				dst.SetColorIndex(x-b.Min.X, y-b.Min.Y, 1)
			}
		}
	}
	return dst
}
