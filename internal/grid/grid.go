// Package grid partitions an image into rows x cols cell rectangles.
//
// Cell size is computed in floating point; each cell starts at the floor of
// its offset and spans the ceiling of the cell size. Adjacent cells may
// therefore share one pixel column or row. Consumers of the pattern format
// depend on this geometry, so it must not be "tightened".
package grid

import (
	"fmt"
	"image"
	"math"
)

// DefaultThreshold separates dark from light cells when none is given.
const DefaultThreshold = 128

// Spec configures a partition.
type Spec struct {
	Cols int
	Rows int
	// Threshold is only used by classification; nil means the caller's default.
	Threshold *int
}

// Limits bounds a Spec. They are policy, not structure.
type Limits struct {
	MaxCols int
	MaxRows int
}

var (
	// AnalysisLimits matches the pattern analysis form.
	AnalysisLimits = Limits{MaxCols: 500, MaxRows: 500}
	// TilingLimits matches the grid split form.
	TilingLimits = Limits{MaxCols: 10, MaxRows: 10}
)

// SpecError reports a Spec outside its limits.
type SpecError struct {
	Field string
	Value int
	Min   int
	Max   int
}

func (e *SpecError) Error() string {
	if e.Max == 0 {
		return fmt.Sprintf("%s must be at least %d, got %d", e.Field, e.Min, e.Value)
	}
	return fmt.Sprintf("%s must be between %d and %d, got %d", e.Field, e.Min, e.Max, e.Value)
}

// DegenerateGridError reports a grid finer than the source image.
type DegenerateGridError struct {
	Width, Height int
	Cols, Rows    int
}

func (e *DegenerateGridError) Error() string {
	return fmt.Sprintf("degenerate grid: %dx%d cells on a %dx%d image leaves cells without a whole pixel",
		e.Cols, e.Rows, e.Width, e.Height)
}

// ThresholdOr returns s.Threshold or def when it is unset.
func (s Spec) ThresholdOr(def int) int {
	if s.Threshold == nil {
		return def
	}
	return *s.Threshold
}

// WithThreshold returns a copy of s with threshold t.
func (s Spec) WithThreshold(t int) Spec {
	s.Threshold = &t
	return s
}

// Validate checks s against l.
func (s Spec) Validate(l Limits) error {
	if s.Cols < 1 || s.Cols > l.MaxCols {
		return &SpecError{Field: "cols", Value: s.Cols, Min: 1, Max: l.MaxCols}
	}
	if s.Rows < 1 || s.Rows > l.MaxRows {
		return &SpecError{Field: "rows", Value: s.Rows, Min: 1, Max: l.MaxRows}
	}
	if s.Threshold != nil && (*s.Threshold < 0 || *s.Threshold > 255) {
		return &SpecError{Field: "threshold", Value: *s.Threshold, Min: 0, Max: 255}
	}
	return nil
}

// CellRect is the source-pixel rectangle of one grid cell.
type CellRect struct {
	Row, Col int
	SX, SY   int
	SW, SH   int
}

// Rect returns the cell as an image.Rectangle.
func (c CellRect) Rect() image.Rectangle {
	return image.Rect(c.SX, c.SY, c.SX+c.SW, c.SY+c.SH)
}

// Len is the number of cells, Cols * Rows.
func (s Spec) Len() int { return s.Cols * s.Rows }

// Check reports whether a width x height image can be split by s.
func Check(width, height int, s Spec) error {
	if s.Cols < 1 {
		return &SpecError{Field: "cols", Value: s.Cols, Min: 1}
	}
	if s.Rows < 1 {
		return &SpecError{Field: "rows", Value: s.Rows, Min: 1}
	}
	if width < 1 || height < 1 || s.Cols > width || s.Rows > height {
		return &DegenerateGridError{Width: width, Height: height, Cols: s.Cols, Rows: s.Rows}
	}
	return nil
}

// CellAt computes the rectangle for (row, col).
func CellAt(width, height int, s Spec, row, col int) CellRect {
	cellWidth := float64(width) / float64(s.Cols)
	cellHeight := float64(height) / float64(s.Rows)
	return CellRect{
		Row: row,
		Col: col,
		SX:  int(math.Floor(float64(col) * cellWidth)),
		SY:  int(math.Floor(float64(row) * cellHeight)),
		SW:  int(math.Ceil(cellWidth)),
		SH:  int(math.Ceil(cellHeight)),
	}
}

// Partition returns every cell of s over a width x height image in
// row-major order (rows top to bottom, cols left to right).
func Partition(width, height int, s Spec) ([]CellRect, error) {
	if err := Check(width, height, s); err != nil {
		return nil, err
	}
	cells := make([]CellRect, 0, s.Len())
	for row := 0; row < s.Rows; row++ {
		for col := 0; col < s.Cols; col++ {
			c := CellAt(width, height, s, row, col)
			if c.SW == 0 || c.SH == 0 {
				return nil, &DegenerateGridError{Width: width, Height: height, Cols: s.Cols, Rows: s.Rows}
			}
			cells = append(cells, c)
		}
	}
	return cells, nil
}
