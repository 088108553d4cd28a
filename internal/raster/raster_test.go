package raster

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checker(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(0)
			if (x+y)%2 == 0 {
				v = 255
			}
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func TestDecodePNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, checker(4, 3)))

	img, err := Decode(context.Background(), &buf, "checker.png")
	require.NoError(t, err)
	assert.Equal(t, 4, img.Width())
	assert.Equal(t, 3, img.Height())
	assert.Equal(t, color.NRGBA{R: 255, G: 255, B: 255, A: 255}, img.RGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{A: 255}, img.RGBAAt(1, 0))
}

func TestDecodeGarbageIsDecodeError(t *testing.T) {
	_, err := Decode(context.Background(), strings.NewReader("not an image"), "junk.bin")
	var de *DecodeError
	require.True(t, errors.As(err, &de), "expected DecodeError, got %v", err)
	assert.Equal(t, "junk.bin", de.Source)
}

func TestDecodeHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Decode(ctx, strings.NewReader(""), "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.png"))
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOutOfBoundsIsTransparent(t *testing.T) {
	img := FromNRGBA(checker(2, 2))
	assert.Equal(t, color.NRGBA{}, img.RGBAAt(5, 5))
	assert.Equal(t, color.NRGBA{}, img.RGBAAt(-1, 0))
}

func TestFromImageNormalizesOrigin(t *testing.T) {
	src := checker(6, 6).SubImage(image.Rect(2, 2, 5, 4))
	img, err := FromImage(src)
	require.NoError(t, err)
	assert.Equal(t, 3, img.Width())
	assert.Equal(t, 2, img.Height())
	// (2,2) in the source is white and becomes (0,0).
	assert.Equal(t, uint8(255), img.RGBAAt(0, 0).R)
}

func TestFromImageRejectsEmpty(t *testing.T) {
	_, err := FromImage(image.NewNRGBA(image.Rect(0, 0, 0, 5)))
	assert.Error(t, err)
}

func TestSubImageClipsToBounds(t *testing.T) {
	img := FromNRGBA(checker(4, 4))
	sub := img.SubImage(image.Rect(2, 2, 6, 6))
	require.Equal(t, image.Rect(0, 0, 4, 4), sub.Bounds())
	assert.Equal(t, img.RGBAAt(2, 2), sub.NRGBAAt(0, 0))
	assert.Equal(t, img.RGBAAt(3, 3), sub.NRGBAAt(1, 1))
	assert.Equal(t, color.NRGBA{}, sub.NRGBAAt(3, 3))
}
