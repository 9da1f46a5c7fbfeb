package display

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// ErrNoImage is returned by Show before any SetImage.
var ErrNoImage = errors.New("no image set")

// Driver is the panel hardware contract.
type Driver interface {
	Width() int
	Height() int

	// SetImage stages a frame for the next Show.
	SetImage(f *Frame) error

	// Show refreshes the panel with the staged frame. It may take seconds.
	Show(ctx context.Context) error
}

func checkSize(d Driver, f *Frame) error {
	if f == nil {
		return ErrNoImage
	}
	if f.Width() != d.Width() || f.Height() != d.Height() {
		return fmt.Errorf("frame is %dx%d, panel is %dx%d", f.Width(), f.Height(), d.Width(), d.Height())
	}
	return f.Validate()
}

// MemoryDriver keeps shown frames in memory. Used for previews and tests.
type MemoryDriver struct {
	mu      sync.Mutex
	width   int
	height  int
	staged  *Frame
	shown   *Frame
	shows   int
	showErr error
}

// NewMemoryDriver creates a memory driver of the given size.
func NewMemoryDriver(width, height int) *MemoryDriver {
	return &MemoryDriver{width: width, height: height}
}

func (d *MemoryDriver) Width() int  { return d.width }
func (d *MemoryDriver) Height() int { return d.height }

// SetImage stages a copy of f.
func (d *MemoryDriver) SetImage(f *Frame) error {
	if err := checkSize(d, f); err != nil {
		return err
	}
	d.mu.Lock()
	d.staged = f.Clone()
	d.mu.Unlock()
	return nil
}

// Show makes the staged frame the shown one.
func (d *MemoryDriver) Show(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.showErr != nil {
		return d.showErr
	}
	if d.staged == nil {
		return ErrNoImage
	}
	d.shown = d.staged
	d.shows++
	return nil
}

// Shown returns the last shown frame, or nil.
func (d *MemoryDriver) Shown() *Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shown
}

// Shows returns how many times Show succeeded.
func (d *MemoryDriver) Shows() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shows
}

// FailShows makes every following Show return err (nil restores).
func (d *MemoryDriver) FailShows(err error) {
	d.mu.Lock()
	d.showErr = err
	d.mu.Unlock()
}

// PNGDriver writes every shown frame to a PNG file. The file is replaced
// atomically so readers never see a partial image.
type PNGDriver struct {
	fs     afero.Fs
	path   string
	width  int
	height int

	mu     sync.Mutex
	staged *Frame
}

// NewPNGDriver creates a PNG driver writing to path on fs (nil = OS).
func NewPNGDriver(fs afero.Fs, path string, width, height int) *PNGDriver {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &PNGDriver{fs: fs, path: path, width: width, height: height}
}

func (d *PNGDriver) Width() int  { return d.width }
func (d *PNGDriver) Height() int { return d.height }

// Path returns the output file.
func (d *PNGDriver) Path() string { return d.path }

// SetImage stages a copy of f.
func (d *PNGDriver) SetImage(f *Frame) error {
	if err := checkSize(d, f); err != nil {
		return err
	}
	d.mu.Lock()
	d.staged = f.Clone()
	d.mu.Unlock()
	return nil
}

// Show encodes the staged frame and renames it over the output file.
func (d *PNGDriver) Show(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	f := d.staged
	d.mu.Unlock()
	if f == nil {
		return ErrNoImage
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, f.Paletted); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}

	dir := filepath.Dir(d.path)
	if err := d.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := afero.TempFile(d.fs, dir, "."+filepath.Base(d.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		d.fs.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		d.fs.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := d.fs.Rename(tmpName, d.path); err != nil {
		d.fs.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", d.path, err)
	}
	return nil
}
