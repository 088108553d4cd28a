// Package tiles crops an image into grid cells and packages them as PNGs.
package tiles

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"pixgrid/internal/grid"
	"pixgrid/internal/raster"
)

// ErrEmptyBatch is returned when there is nothing to encode or archive.
var ErrEmptyBatch = errors.New("no tiles")

// Source is a raster that can copy out a rectangle.
type Source interface {
	raster.Raster
	SubImage(r image.Rectangle) *image.NRGBA
}

// Tile is one cropped cell.
type Tile struct {
	Row      int
	Col      int
	Filename string
	Cell     grid.CellRect
	Image    *image.NRGBA
	// Data is the PNG encoding, filled in by Encode.
	Data []byte
}

// Filename names the tile at (row, col) of base.
func Filename(base string, row, col int) string {
	return fmt.Sprintf("%s_%02d_%02d.png", base, row, col)
}

// ArchiveName is the zip file name for base.
func ArchiveName(base string) string {
	return base + "-split-images.zip"
}

// BaseName strips the directory and the last extension from name. A name
// without a usable stem becomes "image".
func BaseName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if ext := filepath.Ext(name); ext != "" {
		name = strings.TrimSuffix(name, ext)
	}
	if name == "" || name == "." || name == "/" {
		return "image"
	}
	return name
}

// Crop copies every cell of spec out of src in row-major order. Pixels are
// copied one to one, no resampling.
func Crop(ctx context.Context, src Source, spec grid.Spec, base string) ([]Tile, error) {
	cells, err := grid.Partition(src.Width(), src.Height(), spec)
	if err != nil {
		return nil, err
	}
	out := make([]Tile, 0, len(cells))
	for _, cell := range cells {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, Tile{
			Row:      cell.Row,
			Col:      cell.Col,
			Filename: Filename(base, cell.Row, cell.Col),
			Cell:     cell,
			Image:    src.SubImage(cell.Rect()),
		})
	}
	return out, nil
}

// Encode PNG-encodes tiles in place using up to parallel workers. The first
// failure cancels the rest and no partial result is returned.
func Encode(ctx context.Context, tiles []Tile, parallel int) error {
	if len(tiles) == 0 {
		return ErrEmptyBatch
	}
	if parallel <= 0 {
		parallel = runtime.NumCPU()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	data := make([][]byte, len(tiles))
	for i := range tiles {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := imaging.Encode(&buf, tiles[i].Image, imaging.PNG); err != nil {
				return fmt.Errorf("encode %s: %w", tiles[i].Filename, err)
			}
			data[i] = buf.Bytes()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i := range tiles {
		tiles[i].Data = data[i]
	}
	return nil
}
