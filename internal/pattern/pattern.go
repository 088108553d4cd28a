// Package pattern turns a raster into a black/white cell grid and writes it
// in the {"grid": [[...]]} wire format.
package pattern

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"pixgrid/internal/grid"
	"pixgrid/internal/raster"
)

// Grid is a classified pattern. Cells[row][col] is true for black.
type Grid struct {
	Mode      Mode
	Threshold int
	Cells     [][]bool
	// Samples holds the per-cell luminance in row-major order. It is only
	// populated by Compute and never serialized.
	Samples []CellSample
}

// Rows returns the number of grid rows.
func (g *Grid) Rows() int { return len(g.Cells) }

// Cols returns the number of grid columns.
func (g *Grid) Cols() int {
	if len(g.Cells) == 0 {
		return 0
	}
	return len(g.Cells[0])
}

// Black reports whether the cell at (row, col) is black.
func (g *Grid) Black(row, col int) bool {
	if row < 0 || row >= len(g.Cells) || col < 0 || col >= len(g.Cells[row]) {
		return false
	}
	return g.Cells[row][col]
}

// Compute partitions r, samples each cell and classifies it against
// spec.Threshold (default 128). The same inputs always produce the same grid.
func Compute(ctx context.Context, r raster.Raster, spec grid.Spec, mode Mode) (*Grid, error) {
	return compute(ctx, r, spec, mode, false)
}

// ComputeAuto is Compute with the threshold derived from the image when the
// spec does not carry one.
func ComputeAuto(ctx context.Context, r raster.Raster, spec grid.Spec, mode Mode) (*Grid, error) {
	return compute(ctx, r, spec, mode, spec.Threshold == nil)
}

func compute(ctx context.Context, r raster.Raster, spec grid.Spec, mode Mode, auto bool) (*Grid, error) {
	cells, err := grid.Partition(r.Width(), r.Height(), spec)
	if err != nil {
		return nil, err
	}

	samples := make([]CellSample, len(cells))
	for i, cell := range cells {
		if cell.Col == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		samples[i] = Sample(r, cell)
	}

	threshold := spec.ThresholdOr(grid.DefaultThreshold)
	if auto {
		threshold = AutoThreshold(samples)
	}

	g := &Grid{
		Mode:      mode,
		Threshold: threshold,
		Cells:     make([][]bool, spec.Rows),
		Samples:   samples,
	}
	for row := range g.Cells {
		line := make([]bool, spec.Cols)
		for col := range line {
			line[col] = Classify(samples[row*spec.Cols+col].AvgLuminance, threshold)
		}
		g.Cells[row] = line
	}
	return g, nil
}

type wireGrid struct {
	Grid [][]any `json:"grid"`
}

func (g *Grid) wire() wireGrid {
	out := wireGrid{Grid: make([][]any, len(g.Cells))}
	for row, line := range g.Cells {
		vals := make([]any, len(line))
		for col, black := range line {
			vals[col] = g.Mode.Symbol(black)
		}
		out.Grid[row] = vals
	}
	return out
}

// MarshalJSON emits the compact wire form.
func (g *Grid) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.wire())
}

// Encode writes the grid with two-space indentation and no trailing newline.
func (g *Grid) Encode(w io.Writer) error {
	data, err := json.MarshalIndent(g.wire(), "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Bytes is Encode into memory.
func (g *Grid) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := g.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ErrRagged is returned by Decode when rows differ in length.
var ErrRagged = errors.New("pattern rows have different lengths")

// Decode parses a pattern file. The mode is taken from the first cell; mixing
// numbers and labels is an error. Numbers other than 0 decode as black.
func Decode(r io.Reader) (*Grid, error) {
	var raw struct {
		Grid [][]json.RawMessage `json:"grid"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode pattern: %w", err)
	}
	if raw.Grid == nil {
		return nil, errors.New(`decode pattern: missing "grid" key`)
	}

	g := &Grid{Threshold: grid.DefaultThreshold, Cells: make([][]bool, len(raw.Grid))}
	modeSet := false
	for row, line := range raw.Grid {
		if len(line) != len(raw.Grid[0]) {
			return nil, ErrRagged
		}
		g.Cells[row] = make([]bool, len(line))
		for col, cell := range line {
			black, mode, err := decodeCell(cell)
			if err != nil {
				return nil, fmt.Errorf("decode pattern cell (%d,%d): %w", row, col, err)
			}
			if !modeSet {
				g.Mode, modeSet = mode, true
			} else if mode != g.Mode {
				return nil, fmt.Errorf("decode pattern cell (%d,%d): mixed binary and label values", row, col)
			}
			g.Cells[row][col] = black
		}
	}
	return g, nil
}

func decodeCell(raw json.RawMessage) (black bool, mode Mode, err error) {
	// Any nonzero number is a blocked cell, so hand-made maps may use
	// other values for other tile kinds.
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n != 0, ModeBinary, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch s {
		case labelBlack:
			return true, ModeLabel, nil
		case labelWhite:
			return false, ModeLabel, nil
		}
		return false, ModeLabel, fmt.Errorf("label %q is not black or white", s)
	}
	return false, ModeBinary, fmt.Errorf("unsupported value %s", raw)
}
