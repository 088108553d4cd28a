package pattern

import (
	"image"

	"pixgrid/internal/grid"
	"pixgrid/internal/raster"
)

// Pixels at or below this alpha are treated as background.
const alphaCutoff = 128

// emptyLuminance is reported for cells without a single opaque pixel.
const emptyLuminance = 255.0

// CellSample is the aggregate luminance of one cell.
type CellSample struct {
	AvgLuminance float64
	// PixelCount is the number of pixels that passed the alpha cutoff.
	PixelCount int
}

// Empty reports whether no pixel of the cell was opaque enough to count.
func (s CellSample) Empty() bool { return s.PixelCount == 0 }

// Luminance is the Rec. 601 weighted sum of r, g and b.
func Luminance(r, g, b uint8) float64 {
	return 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
}

// Sample averages the luminance of cell over r. The rectangle is clipped to
// the raster; pixels outside it count as transparent and are skipped.
func Sample(r raster.Raster, cell grid.CellRect) CellSample {
	area := cell.Rect().Intersect(image.Rect(0, 0, r.Width(), r.Height()))

	var sum float64
	var n int
	for y := area.Min.Y; y < area.Max.Y; y++ {
		for x := area.Min.X; x < area.Max.X; x++ {
			c := r.RGBAAt(x, y)
			if c.A <= alphaCutoff {
				continue
			}
			sum += Luminance(c.R, c.G, c.B)
			n++
		}
	}
	if n == 0 {
		return CellSample{AvgLuminance: emptyLuminance}
	}
	return CellSample{AvgLuminance: sum / float64(n), PixelCount: n}
}
