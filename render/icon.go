package render

import (
	"errors"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"

	"github.com/disintegration/imaging"
	"github.com/spf13/afero"
)

// IconSize is the edge of a weather icon in pixels.
const IconSize = 32

// iconAlphaCutoff is the alpha above which an icon pixel becomes ink.
const iconAlphaCutoff = 128

// IconStatus tells why an icon has no mask.
type IconStatus int

const (
	IconOK IconStatus = iota
	// IconMissing means the icon file does not exist.
	IconMissing
	// IconInvalid means the file exists but could not be decoded.
	IconInvalid
)

// Icon is a prepared icon mask.
type Icon struct {
	Mask   *Bitmap
	Status IconStatus
}

// LoadIcon reads and prepares an icon file.
func LoadIcon(fsys afero.Fs, path string) Icon {
	f, err := fsys.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Icon{Status: IconMissing}
		}
		return Icon{Status: IconInvalid}
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return Icon{Status: IconInvalid}
	}
	return IconFromImage(img)
}

// IconFromImage resizes img to IconSize with nearest-neighbor sampling and
// keeps pixels whose alpha is above the cutoff.
func IconFromImage(img image.Image) Icon {
	resized := imaging.Resize(img, IconSize, IconSize, imaging.NearestNeighbor)
	mask := NewBitmap(IconSize, IconSize)
	for y := 0; y < IconSize; y++ {
		for x := 0; x < IconSize; x++ {
			a := resized.Pix[y*resized.Stride+x*4+3]
			mask.Set(x, y, a > iconAlphaCutoff)
		}
	}
	return Icon{Mask: mask, Status: IconOK}
}
