package pipeline

import (
	"context"
	"errors"

	"pixgrid/internal/grid"
	"pixgrid/internal/raster"
)

// stageOf names the step a failed job stopped in, for job metadata.
func stageOf(err error) string {
	var de *raster.DecodeError
	var dg *grid.DegenerateGridError
	var se *grid.SpecError
	switch {
	case errors.As(err, &de):
		return "source"
	case errors.As(err, &dg), errors.As(err, &se):
		return "grid"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "output"
}
