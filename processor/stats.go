package processor

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/nci/vegindex/geometry"
)

type GridStats struct {
	Stats
	ValidPixelRatio float64
	ValidCount      int
	EligibleCount   int
}

// Quantile interpolates linearly between the order statistics of sorted.
// An empty slice yields 0.
func Quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	q = math.Min(1, math.Max(0, q))

	pos := float64(n-1) * q
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

// ComputeStats summarises the valid values of grid over the pixels eligible
// under aoi. A nil aoi, or one without a mask, makes every pixel eligible.
func ComputeStats(grid *IndexGrid, aoi *geometry.AoiMask) GridStats {
	var gs GridStats
	values := make([]float64, 0, len(grid.Values))

	for i, v := range grid.Values {
		if !aoi.Eligible(i) {
			continue
		}
		gs.EligibleCount++
		if grid.ValidMask[i] == 1 {
			values = append(values, float64(v))
		}
	}
	gs.ValidCount = len(values)

	if gs.EligibleCount > 0 {
		gs.ValidPixelRatio = float64(gs.ValidCount) / float64(gs.EligibleCount)
	}
	if len(values) == 0 {
		return gs
	}

	sort.Float64s(values)
	gs.Min = values[0]
	gs.Max = values[len(values)-1]
	gs.Mean = stat.Mean(values, nil)
	gs.P10 = Quantile(values, 0.1)
	gs.P90 = Quantile(values, 0.9)
	return gs
}
