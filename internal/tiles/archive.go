package tiles

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cenkalti/dominantcolor"
	"github.com/klauspost/compress/zip"
	"github.com/lucasb-eyer/go-colorful"
)

// ManifestName is the archive entry describing the tiles.
const ManifestName = "manifest.json"

// Manifest lists the tiles of one split.
type Manifest struct {
	Source string          `json:"source"`
	Rows   int             `json:"rows"`
	Cols   int             `json:"cols"`
	Tiles  []ManifestEntry `json:"tiles"`
}

// ManifestEntry describes one tile and where it came from.
type ManifestEntry struct {
	File     string `json:"file"`
	Row      int    `json:"row"`
	Col      int    `json:"col"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Dominant string `json:"dominant,omitempty"`
}

// BuildManifest describes tiles, including each tile's dominant color.
func BuildManifest(base string, tiles []Tile) Manifest {
	m := Manifest{Source: base, Tiles: make([]ManifestEntry, 0, len(tiles))}
	for _, t := range tiles {
		m.Rows = max(m.Rows, t.Row+1)
		m.Cols = max(m.Cols, t.Col+1)
		m.Tiles = append(m.Tiles, ManifestEntry{
			File:     t.Filename,
			Row:      t.Row,
			Col:      t.Col,
			X:        t.Cell.SX,
			Y:        t.Cell.SY,
			Width:    t.Cell.SW,
			Height:   t.Cell.SH,
			Dominant: dominantHex(t),
		})
	}
	return m
}

func dominantHex(t Tile) string {
	if t.Image == nil {
		return ""
	}
	found := dominantcolor.FindWeight(t.Image, 1)
	if len(found) == 0 {
		return ""
	}
	c, ok := colorful.MakeColor(found[0].RGBA)
	if !ok {
		return ""
	}
	return c.Clamped().Hex()
}

// WriteZip archives encoded tiles plus a manifest. PNG entries are stored,
// the manifest is deflated.
func WriteZip(w io.Writer, base string, tiles []Tile) error {
	if len(tiles) == 0 {
		return ErrEmptyBatch
	}
	zw := zip.NewWriter(w)
	for _, t := range tiles {
		if t.Data == nil {
			return fmt.Errorf("tile %s is not encoded", t.Filename)
		}
		f, err := zw.CreateHeader(&zip.FileHeader{Name: t.Filename, Method: zip.Store})
		if err != nil {
			return err
		}
		if _, err := f.Write(t.Data); err != nil {
			return err
		}
	}

	f, err := zw.Create(ManifestName)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(BuildManifest(base, tiles)); err != nil {
		return err
	}
	return zw.Close()
}

// WriteDir writes each encoded tile into dir and returns the file paths.
func WriteDir(dir string, tiles []Tile) ([]string, error) {
	if len(tiles) == 0 {
		return nil, ErrEmptyBatch
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(tiles))
	for _, t := range tiles {
		if t.Data == nil {
			return nil, fmt.Errorf("tile %s is not encoded", t.Filename)
		}
		p := filepath.Join(dir, t.Filename)
		if err := os.WriteFile(p, t.Data, 0o644); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}
