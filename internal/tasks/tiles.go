package tasks

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"pixgrid/internal/fsutil"
	"pixgrid/internal/grid"
	"pixgrid/internal/raster"
	"pixgrid/internal/tiles"
)

// TileRequest describes a split job.
type TileRequest struct {
	Input string
	// Output is the archive path, or the target directory when AsDir is set.
	// Empty means "{base}-split-images.zip" next to the input.
	Output   string
	AsDir    bool
	Spec     grid.Spec
	Parallel int
	Limits   grid.Limits
}

// TileResult lists what was written.
type TileResult struct {
	OutputFile string
	Files      []string
	TileCount  int
	Manifest   tiles.Manifest
}

// SplitTiles crops the input into Spec.Rows x Spec.Cols PNG tiles and writes
// them as a zip archive (default) or loose files.
func SplitTiles(ctx context.Context, req TileRequest) (TileResult, error) {
	if req.Limits == (grid.Limits{}) {
		req.Limits = grid.TilingLimits
	}
	if err := req.Spec.Validate(req.Limits); err != nil {
		return TileResult{}, err
	}
	img, err := raster.Load(ctx, req.Input)
	if err != nil {
		return TileResult{}, err
	}

	base := tiles.BaseName(req.Input)
	batch, err := tiles.Crop(ctx, img, req.Spec, base)
	if err != nil {
		return TileResult{}, err
	}
	if err := tiles.Encode(ctx, batch, req.Parallel); err != nil {
		return TileResult{}, err
	}

	res := TileResult{TileCount: len(batch), Manifest: tiles.BuildManifest(base, batch)}
	if req.AsDir {
		dir := req.Output
		if dir == "" {
			dir = filepath.Join(filepath.Dir(req.Input), base+"-tiles")
		}
		files, err := tiles.WriteDir(dir, batch)
		if err != nil {
			return TileResult{}, err
		}
		res.OutputFile, res.Files = dir, files
		return res, nil
	}

	out := req.Output
	if out == "" {
		out = filepath.Join(filepath.Dir(req.Input), tiles.ArchiveName(base))
	}
	// Build in memory so a failed archive never leaves a partial file.
	var buf bytes.Buffer
	if err := tiles.WriteZip(&buf, base, batch); err != nil {
		return TileResult{}, err
	}
	if err := fsutil.EnsureParent(out); err != nil {
		return TileResult{}, err
	}
	if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
		return TileResult{}, err
	}
	res.OutputFile = out
	for _, t := range batch {
		res.Files = append(res.Files, t.Filename)
	}
	return res, nil
}
