package pattern

import (
	"gonum.org/v1/gonum/stat"
)

// Summary describes a computed grid for job metadata.
type Summary struct {
	Rows          int     `json:"rows"`
	Cols          int     `json:"cols"`
	Threshold     int     `json:"threshold"`
	Mode          string  `json:"mode"`
	BlackCells    int     `json:"black_cells"`
	EmptyCells    int     `json:"empty_cells"`
	BlackRatio    float64 `json:"black_ratio"`
	MeanLuminance float64 `json:"mean_luminance"`
	StdDev        float64 `json:"stddev_luminance"`
}

// Summarize counts black cells and reports luminance statistics. Grids
// without samples (decoded from a file) report zero statistics.
func Summarize(g *Grid) Summary {
	s := Summary{
		Rows:      g.Rows(),
		Cols:      g.Cols(),
		Threshold: g.Threshold,
		Mode:      g.Mode.String(),
	}
	for _, line := range g.Cells {
		for _, black := range line {
			if black {
				s.BlackCells++
			}
		}
	}
	if total := s.Rows * s.Cols; total > 0 {
		s.BlackRatio = float64(s.BlackCells) / float64(total)
	}

	if len(g.Samples) == 0 {
		return s
	}
	lum := make([]float64, len(g.Samples))
	for i, sample := range g.Samples {
		lum[i] = sample.AvgLuminance
		if sample.Empty() {
			s.EmptyCells++
		}
	}
	if len(lum) < 2 {
		s.MeanLuminance = lum[0]
		return s
	}
	s.MeanLuminance, s.StdDev = stat.MeanStdDev(lum, nil)
	return s
}

// Map flattens the summary for job metadata.
func (s Summary) Map() map[string]any {
	return map[string]any{
		"rows":             s.Rows,
		"cols":             s.Cols,
		"threshold":        s.Threshold,
		"mode":             s.Mode,
		"black_cells":      s.BlackCells,
		"empty_cells":      s.EmptyCells,
		"black_ratio":      s.BlackRatio,
		"mean_luminance":   s.MeanLuminance,
		"stddev_luminance": s.StdDev,
	}
}
