// Package raster decodes uploaded images into pixel-addressable rasters.
package raster

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"

	// Registered decoders beyond the imaging defaults.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"
)

// Raster is the read capability every grid consumer needs.
type Raster interface {
	Width() int
	Height() int
	// RGBAAt returns the non-premultiplied pixel at (x, y). Coordinates
	// outside the raster yield a fully transparent pixel.
	RGBAAt(x, y int) color.NRGBA
}

// Image is an immutable decoded raster with its origin at (0, 0).
type Image struct {
	pix *image.NRGBA
}

// DecodeError reports a source image that could not be loaded.
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("decode image: %v", e.Err)
	}
	return fmt.Sprintf("decode image %s: %v", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode reads an image from r. EXIF orientation is applied so the raster
// matches what a browser would display.
func Decode(ctx context.Context, r io.Reader, source string) (*Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, &DecodeError{Source: source, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := FromImage(img)
	if err != nil {
		return nil, &DecodeError{Source: source, Err: err}
	}
	return out, nil
}

// Load opens and decodes the file at path.
func Load(ctx context.Context, path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &DecodeError{Source: path, Err: err}
	}
	defer f.Close()
	return Decode(ctx, f, path)
}

// FromImage copies any image.Image into a raster.
func FromImage(img image.Image) (*Image, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("image has no pixels (%dx%d)", b.Dx(), b.Dy())
	}
	// imaging.Clone normalizes to NRGBA with a zero origin.
	return &Image{pix: imaging.Clone(img)}, nil
}

// FromNRGBA wraps pix without copying. The caller must not modify pix afterwards.
func FromNRGBA(pix *image.NRGBA) *Image {
	if pix.Rect.Min != (image.Point{}) {
		pix = imaging.Clone(pix)
	}
	return &Image{pix: pix}
}

func (m *Image) Width() int  { return m.pix.Rect.Dx() }
func (m *Image) Height() int { return m.pix.Rect.Dy() }

func (m *Image) RGBAAt(x, y int) color.NRGBA {
	return m.pix.NRGBAAt(x, y)
}

// SubImage copies the pixels of r into a new NRGBA sized r.Dx() x r.Dy().
// Parts of r outside the raster are left transparent.
func (m *Image) SubImage(r image.Rectangle) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	src := r.Intersect(m.pix.Rect)
	if src.Empty() {
		return dst
	}
	for y := src.Min.Y; y < src.Max.Y; y++ {
		si := m.pix.PixOffset(src.Min.X, y)
		di := dst.PixOffset(src.Min.X-r.Min.X, y-r.Min.Y)
		copy(dst.Pix[di:di+4*src.Dx()], m.pix.Pix[si:si+4*src.Dx()])
	}
	return dst
}

// NRGBA exposes the backing image for encoders. Treat it as read-only.
func (m *Image) NRGBA() *image.NRGBA { return m.pix }
