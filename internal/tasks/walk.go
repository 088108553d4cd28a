package tasks

import (
	"context"
	"os"

	"pixgrid/internal/gridwalk"
	"pixgrid/internal/pattern"
)

// WalkCheckRequest validates a pattern file as a walk map.
type WalkCheckRequest struct {
	Input string
	// Rows and Cols are the expected dimensions; zero skips the check.
	Rows int
	Cols int
}

// WalkCheckResult reports the map shape and how much of it is reachable.
type WalkCheckResult struct {
	Rows      int
	Cols      int
	Reachable int
	Start     gridwalk.Pos
}

// CheckWalkMap decodes the pattern at req.Input and validates it.
func CheckWalkMap(ctx context.Context, req WalkCheckRequest) (WalkCheckResult, error) {
	if err := ctx.Err(); err != nil {
		return WalkCheckResult{}, err
	}
	f, err := os.Open(req.Input)
	if err != nil {
		return WalkCheckResult{}, err
	}
	defer f.Close()

	g, err := pattern.Decode(f)
	if err != nil {
		return WalkCheckResult{}, err
	}
	m := gridwalk.New(g)
	rows, cols := req.Rows, req.Cols
	if rows == 0 {
		rows = m.Rows()
	}
	if cols == 0 {
		cols = m.Cols()
	}
	res := WalkCheckResult{Rows: m.Rows(), Cols: m.Cols(), Start: gridwalk.Start}
	if err := m.Validate(rows, cols); err != nil {
		return res, err
	}
	res.Reachable = m.Reachable(gridwalk.Start)
	return res, nil
}
