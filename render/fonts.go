package render

import (
	"fmt"
	"sync"

	"github.com/spf13/afero"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gomedium"
	"golang.org/x/image/font/opentype"
)

// Fonts provides sized faces for the two typographic roles: display (titles,
// temperatures, headers) and text (body copy).
type Fonts struct {
	display *opentype.Font
	text    *opentype.Font

	mu    sync.Mutex
	faces map[faceKey]font.Face
}

type faceKey struct {
	display bool
	size    float64
}

// DefaultFonts returns the built-in Go Bold and Go Medium faces.
func DefaultFonts() *Fonts {
	return &Fonts{
		display: mustParse(gobold.TTF),
		text:    mustParse(gomedium.TTF),
		faces:   make(map[faceKey]font.Face),
	}
}

func mustParse(data []byte) *opentype.Font {
	f, err := opentype.Parse(data)
	if err != nil {
		panic(fmt.Sprintf("render: parse built-in font: %v", err))
	}
	return f
}

// LoadFonts reads TrueType/OpenType overrides. An empty path keeps the
// built-in face for that role.
func LoadFonts(fs afero.Fs, displayPath, textPath string) (*Fonts, error) {
	f := DefaultFonts()
	if displayPath != "" {
		parsed, err := parseFile(fs, displayPath)
		if err != nil {
			return nil, err
		}
		f.display = parsed
	}
	if textPath != "" {
		parsed, err := parseFile(fs, textPath)
		if err != nil {
			return nil, err
		}
		f.text = parsed
	}
	return f, nil
}

func parseFile(fs afero.Fs, path string) (*opentype.Font, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read font %s: %w", path, err)
	}
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font %s: %w", path, err)
	}
	return f, nil
}

// Display returns the display face at size points.
func (f *Fonts) Display(size float64) font.Face {
	return f.face(faceKey{display: true, size: size})
}

// Text returns the body face at size points.
func (f *Fonts) Text(size float64) font.Face {
	return f.face(faceKey{size: size})
}

func (f *Fonts) face(key faceKey) font.Face {
	f.mu.Lock()
	defer f.mu.Unlock()

	if face, ok := f.faces[key]; ok {
		return face
	}
	src := f.text
	if key.display {
		src = f.display
	}
	face, err := opentype.NewFace(src, &opentype.FaceOptions{
		Size:    key.size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return basicfont.Face7x13
	}
	f.faces[key] = face
	return face
}
