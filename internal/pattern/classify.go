package pattern

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"

	"pixgrid/internal/grid"
)

// Mode selects how cells are written to the pattern file.
type Mode int

const (
	// ModeBinary writes 1 for black and 0 for white.
	ModeBinary Mode = iota
	// ModeLabel writes "black" and "white".
	ModeLabel
)

const (
	labelBlack = "black"
	labelWhite = "white"
)

// ParseMode maps a user supplied name to a Mode. The empty string is binary.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "binary", "0/1", "1/0":
		return ModeBinary, nil
	case "label", "labels", "text":
		return ModeLabel, nil
	}
	return ModeBinary, fmt.Errorf("unknown output mode %q (want binary or label)", s)
}

func (m Mode) String() string {
	if m == ModeLabel {
		return "label"
	}
	return "binary"
}

// Symbol is the JSON value written for a cell.
func (m Mode) Symbol(black bool) any {
	if m == ModeLabel {
		if black {
			return labelBlack
		}
		return labelWhite
	}
	if black {
		return 1
	}
	return 0
}

// Classify reports whether avg is dark. Equality is light.
func Classify(avg float64, threshold int) bool {
	return avg < float64(threshold)
}

// AutoThreshold picks the mean luminance of the non-empty samples. With no
// opaque pixels anywhere it falls back to the default threshold.
func AutoThreshold(samples []CellSample) int {
	values := make([]float64, 0, len(samples))
	for _, s := range samples {
		if !s.Empty() {
			values = append(values, s.AvgLuminance)
		}
	}
	if len(values) == 0 {
		return grid.DefaultThreshold
	}
	t := int(math.Round(stat.Mean(values, nil)))
	return max(0, min(255, t))
}
