package display

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
)

// Palette indexes.
const (
	White uint8 = 0
	Black uint8 = 1
	Red   uint8 = 2
)

// Default panel geometry.
const (
	DefaultWidth  = 250
	DefaultHeight = 122
)

// Palette is the panel's color table, indexed by White, Black and Red.
var Palette = color.Palette{
	color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff},
	color.RGBA{A: 0xff},
	color.RGBA{R: 0xff, A: 0xff},
}

// Frame is a full-panel image in palette indexes.
type Frame struct {
	*image.Paletted
}

// NewFrame returns a white frame of the given size.
func NewFrame(width, height int) *Frame {
	return &Frame{Paletted: image.NewPaletted(image.Rect(0, 0, width, height), Palette)}
}

// FromImage quantizes any image onto the panel palette.
func FromImage(src image.Image) *Frame {
	b := src.Bounds()
	f := NewFrame(b.Dx(), b.Dy())
	draw.Draw(f.Paletted, f.Rect, src, b.Min, draw.Src)
	return f
}

// Width returns the frame width.
func (f *Frame) Width() int { return f.Rect.Dx() }

// Height returns the frame height.
func (f *Frame) Height() int { return f.Rect.Dy() }

// Index returns the palette index at (x, y), White outside the frame.
func (f *Frame) Index(x, y int) uint8 {
	if !(image.Point{X: x, Y: y}.In(f.Rect)) {
		return White
	}
	return f.ColorIndexAt(x, y)
}

// SetIndex stores a palette index; out-of-range points are ignored.
func (f *Frame) SetIndex(x, y int, idx uint8) {
	if !(image.Point{X: x, Y: y}.In(f.Rect)) {
		return
	}
	f.SetColorIndex(x, y, idx)
}

// Fill paints r (clipped) with idx.
func (f *Frame) Fill(r image.Rectangle, idx uint8) {
	r = r.Intersect(f.Rect)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := f.Pix[f.PixOffset(r.Min.X, y):f.PixOffset(r.Max.X, y)]
		for i := range row {
			row[i] = idx
		}
	}
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	c := NewFrame(f.Width(), f.Height())
	copy(c.Pix, f.Pix)
	return c
}

// Count returns how many pixels hold idx.
func (f *Frame) Count(idx uint8) int {
	n := 0
	for _, p := range f.Pix {
		if p == idx {
			n++
		}
	}
	return n
}

// Validate checks that every pixel is a palette index.
func (f *Frame) Validate() error {
	for i, p := range f.Pix {
		if p > Red {
			return fmt.Errorf("pixel %d has index %d outside the palette", i, p)
		}
	}
	return nil
}

// Planes packs the frame into the controller's two 1-bit planes. A set bit
// in black marks a black pixel, in red a red pixel. Rows are MSB-first and
// padded to a whole byte.
func (f *Frame) Planes() (black, red []byte) {
	w, h := f.Width(), f.Height()
	stride := (w + 7) / 8
	black = make([]byte, stride*h)
	red = make([]byte, stride*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			bit := byte(0x80 >> uint(x%8))
			i := y*stride + x/8
			switch f.Pix[f.PixOffset(x+f.Rect.Min.X, y+f.Rect.Min.Y)] {
			case Black:
				black[i] |= bit
			case Red:
				red[i] |= bit
			}
		}
	}
	return black, red
}
