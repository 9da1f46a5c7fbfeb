package render

import (
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
)

// ArtPolicy selects how album art is reduced to one ink color.
type ArtPolicy string

const (
	// ArtThreshold forces each pixel to ink or paper at ArtCutoff.
	ArtThreshold ArtPolicy = "threshold"
	// ArtDithered applies Floyd-Steinberg error diffusion.
	ArtDithered ArtPolicy = "dithered"
)

// ArtCutoff is the gray level below which a thresholded pixel is ink.
const ArtCutoff = 128

// ParseArtPolicy parses a policy name; empty means ArtThreshold.
func ParseArtPolicy(s string) (ArtPolicy, error) {
	switch ArtPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case ArtThreshold, "":
		return ArtThreshold, nil
	case ArtDithered:
		return ArtDithered, nil
	default:
		return "", fmt.Errorf("unknown art policy %q", s)
	}
}

// Bitmap is a 1-bit ink mask.
type Bitmap struct {
	Width  int
	Height int
	ink    []bool
}

// NewBitmap returns an empty mask.
func NewBitmap(width, height int) *Bitmap {
	return &Bitmap{Width: width, Height: height, ink: make([]bool, width*height)}
}

// Ink reports whether (x, y) is inked. Out-of-range points are not.
func (b *Bitmap) Ink(x, y int) bool {
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return false
	}
	return b.ink[y*b.Width+x]
}

// Set marks (x, y).
func (b *Bitmap) Set(x, y int, on bool) {
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return
	}
	b.ink[y*b.Width+x] = on
}

// Count returns the number of inked pixels.
func (b *Bitmap) Count() int {
	n := 0
	for _, on := range b.ink {
		if on {
			n++
		}
	}
	return n
}

// ProcessArt fits src to a size x size square (center crop, Lanczos), converts
// it to grayscale and only then reduces it to ink under policy. Dark pixels
// become ink. An empty source yields nil.
func ProcessArt(src image.Image, size int, policy ArtPolicy) *Bitmap {
	if src == nil || src.Bounds().Empty() || size < 1 {
		return nil
	}
	fitted := imaging.Fill(src, size, size, imaging.Center, imaging.Lanczos)
	gray := imaging.Grayscale(fitted)

	levels := make([]int, size*size)
	for i := range levels {
		levels[i] = int(gray.Pix[i*4])
	}

	if policy == ArtDithered {
		return dither(levels, size, size)
	}
	out := NewBitmap(size, size)
	for i, v := range levels {
		out.ink[i] = v < ArtCutoff
	}
	return out
}

// dither runs Floyd-Steinberg error diffusion over gray levels.
func dither(levels []int, width, height int) *Bitmap {
	out := NewBitmap(width, height)
	buf := make([]int, len(levels))
	copy(buf, levels)

	spread := func(x, y, e, weight int) {
		if x < 0 || x >= width || y >= height {
			return
		}
		buf[y*width+x] += e * weight / 16
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			old := clamp8(buf[i])
			level := 255
			if old < ArtCutoff {
				level = 0
				out.ink[i] = true
			}
			e := old - level
			spread(x+1, y, e, 7)
			spread(x-1, y+1, e, 3)
			spread(x, y+1, e, 5)
			spread(x+1, y+1, e, 1)
		}
	}
	return out
}

func clamp8(v int) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
