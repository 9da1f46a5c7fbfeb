package render

import (
	"image"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	"github.com/vinayprograms/inkpanel/display"
)

// coverageCutoff is the glyph coverage at which a pixel becomes ink.
const coverageCutoff = 0x80

// Canvas draws onto a frame. Rectangles use inclusive corner coordinates.
type Canvas struct {
	frame *display.Frame
}

// NewCanvas returns a canvas filled with bg.
func NewCanvas(width, height int, bg uint8) *Canvas {
	c := &Canvas{frame: display.NewFrame(width, height)}
	if bg != display.White {
		c.frame.Fill(c.frame.Rect, bg)
	}
	return c
}

// Frame returns the frame being drawn.
func (c *Canvas) Frame() *display.Frame { return c.frame }

// Width returns the canvas width.
func (c *Canvas) Width() int { return c.frame.Width() }

// Height returns the canvas height.
func (c *Canvas) Height() int { return c.frame.Height() }

// FillRect fills the box (x0,y0)-(x1,y1), corners included.
func (c *Canvas) FillRect(x0, y0, x1, y1 int, idx uint8) {
	c.frame.Fill(image.Rect(x0, y0, x1+1, y1+1), idx)
}

// Outline draws a 1px border of the box (x0,y0)-(x1,y1).
func (c *Canvas) Outline(x0, y0, x1, y1 int, idx uint8) {
	c.FillRect(x0, y0, x1, y0, idx)
	c.FillRect(x0, y1, x1, y1, idx)
	c.FillRect(x0, y0, x0, y1, idx)
	c.FillRect(x1, y0, x1, y1, idx)
}

// VLine draws a vertical line of the given width starting at column x.
func (c *Canvas) VLine(x, y0, y1, width int, idx uint8) {
	c.FillRect(x, y0, x+width-1, y1, idx)
}

// Text draws s with its ascender line at y.
func (c *Canvas) Text(face font.Face, x, y int, s string, idx uint8) {
	if s == "" {
		return
	}
	mask := image.NewAlpha(c.frame.Rect)
	d := font.Drawer{
		Dst:  mask,
		Src:  image.Opaque,
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y) + face.Metrics().Ascent},
	}
	d.DrawString(s)

	for py := 0; py < mask.Rect.Dy(); py++ {
		row := mask.Pix[py*mask.Stride : py*mask.Stride+mask.Rect.Dx()]
		for px, a := range row {
			if a >= coverageCutoff {
				c.frame.SetIndex(px, py, idx)
			}
		}
	}
}

// TextWidth returns the advance width of s in pixels.
func TextWidth(face font.Face, s string) int {
	return font.MeasureString(face, s).Round()
}

// Paste paints idx wherever m has ink, with m's origin at (x, y).
// Pixels without ink are left as they are.
func (c *Canvas) Paste(x, y int, m *Bitmap, idx uint8) {
	if m == nil {
		return
	}
	for my := 0; my < m.Height; my++ {
		for mx := 0; mx < m.Width; mx++ {
			if m.Ink(mx, my) {
				c.frame.SetIndex(x+mx, y+my, idx)
			}
		}
	}
}
