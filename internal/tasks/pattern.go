package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"pixgrid/internal/fsutil"
	"pixgrid/internal/grid"
	"pixgrid/internal/pattern"
	"pixgrid/internal/raster"
)

// DefaultPatternOutput is the file name written next to the input when no
// output path is given.
const DefaultPatternOutput = "pattern.json"

// PatternRequest describes a pattern analysis job.
type PatternRequest struct {
	Input  string
	Output string
	Spec   grid.Spec
	// Auto derives the threshold from the image when Spec has none.
	Auto   bool
	Mode   pattern.Mode
	Limits grid.Limits
}

// PatternResult captures the written pattern file.
type PatternResult struct {
	OutputFile string
	Width      int
	Height     int
	Summary    pattern.Summary
	Grid       *pattern.Grid
}

// AnalyzePattern loads the input image, classifies every cell and writes
// the pattern JSON. Nothing is written if any step fails.
func AnalyzePattern(ctx context.Context, req PatternRequest) (PatternResult, error) {
	if req.Limits == (grid.Limits{}) {
		req.Limits = grid.AnalysisLimits
	}
	if err := req.Spec.Validate(req.Limits); err != nil {
		return PatternResult{}, err
	}
	img, err := raster.Load(ctx, req.Input)
	if err != nil {
		return PatternResult{}, err
	}

	compute := pattern.Compute
	if req.Auto {
		compute = pattern.ComputeAuto
	}
	g, err := compute(ctx, img, req.Spec, req.Mode)
	if err != nil {
		return PatternResult{}, err
	}

	out := req.Output
	if out == "" {
		out = filepath.Join(filepath.Dir(req.Input), DefaultPatternOutput)
	}
	data, err := g.Bytes()
	if err != nil {
		return PatternResult{}, err
	}
	if err := fsutil.EnsureParent(out); err != nil {
		return PatternResult{}, err
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return PatternResult{}, fmt.Errorf("write pattern %s: %w", out, err)
	}

	return PatternResult{
		OutputFile: out,
		Width:      img.Width(),
		Height:     img.Height(),
		Summary:    pattern.Summarize(g),
		Grid:       g,
	}, nil
}
