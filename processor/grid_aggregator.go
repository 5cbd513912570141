package processor

import (
	"math"

	"github.com/nci/vegindex/geometry"
	"github.com/nci/vegindex/utils"
)

const gridCells = 3

// cellSpan returns the pixel range [lo, hi) of cell idx along an axis of n
// pixels.
func cellSpan(idx, n int) (int, int) {
	lo := int(math.Floor(float64(idx) / gridCells * float64(n)))
	hi := int(math.Floor(float64(idx+1) / gridCells * float64(n)))
	return lo, hi
}

// ClassifyStress maps a cell mean onto a stress level.
func ClassifyStress(mean, validRatio float64, policy utils.StressPolicy) string {
	switch {
	case validRatio < policy.UnknownBelowValidRatio:
		return StressUnknown
	case mean < policy.HighBelow:
		return StressHigh
	case mean < policy.ModerateBelow:
		return StressModerate
	default:
		return StressLow
	}
}

// ComputeGrid3x3 always returns nine cells in row major order. A cell's
// valid ratio counts valid pixels over the AOI eligible pixels it contains.
func ComputeGrid3x3(grid *IndexGrid, aoi *geometry.AoiMask, policy utils.StressPolicy) []GridCellSummary {
	cells := make([]GridCellSummary, 0, gridCells*gridCells)

	for row := 0; row < gridCells; row++ {
		y0, y1 := cellSpan(row, grid.Height)
		for col := 0; col < gridCells; col++ {
			x0, x1 := cellSpan(col, grid.Width)

			cell := GridCellSummary{Row: row, Col: col}
			eligible, valid := 0, 0
			var sum float64
			lo, hi := math.Inf(1), math.Inf(-1)

			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					i := y*grid.Width + x
					if !aoi.Eligible(i) {
						continue
					}
					eligible++
					if grid.ValidMask[i] != 1 {
						continue
					}
					v := float64(grid.Values[i])
					valid++
					sum += v
					lo = math.Min(lo, v)
					hi = math.Max(hi, v)
				}
			}

			if valid > 0 {
				cell.Min, cell.Max, cell.Mean = lo, hi, sum/float64(valid)
			}
			if eligible > 0 {
				cell.ValidPixelRatio = float64(valid) / float64(eligible)
			}
			cell.StressLevel = ClassifyStress(cell.Mean, cell.ValidPixelRatio, policy)
			cells = append(cells, cell)
		}
	}

	return cells
}

// CellFootprints returns the lon/lat outline of each grid cell. With an AOI
// polygon the outline is the polygon clipped to the cell, nil when nothing
// remains; without one it is the whole cell rectangle.
func CellFootprints(width, height int, bbox geometry.BBox, poly *geometry.Polygon, aoi *geometry.AoiMask) []CellFootprint {
	footprints := make([]CellFootprint, 0, gridCells*gridCells)

	var pxLon, pxLat float64
	if width > 0 && height > 0 {
		pxLon = bbox.Width() / float64(width)
		pxLat = bbox.Height() / float64(height)
	}

	for row := 0; row < gridCells; row++ {
		y0, y1 := cellSpan(row, height)
		for col := 0; col < gridCells; col++ {
			x0, x1 := cellSpan(col, width)

			rect := geometry.Rect{
				MinX: bbox[0] + float64(x0)*pxLon,
				MaxX: bbox[0] + float64(x1)*pxLon,
				MinY: bbox[3] - float64(y1)*pxLat,
				MaxY: bbox[3] - float64(y0)*pxLat,
			}

			fp := CellFootprint{Row: row, Col: col, Coverage: 1}
			if poly != nil {
				fp.Polygon = geometry.ClipPolygonToRect(poly.Ring, rect)
			} else {
				fp.Polygon = [][2]float64{
					{rect.MinX, rect.MinY},
					{rect.MaxX, rect.MinY},
					{rect.MaxX, rect.MaxY},
					{rect.MinX, rect.MaxY},
					{rect.MinX, rect.MinY},
				}
			}

			if aoi != nil && aoi.Mask != nil {
				covered, total := 0, 0
				for y := y0; y < y1; y++ {
					for x := x0; x < x1; x++ {
						total++
						if aoi.Mask[y*width+x] == 1 {
							covered++
						}
					}
				}
				fp.Coverage = 0
				if total > 0 {
					fp.Coverage = float64(covered) / float64(total)
				}
			}

			footprints = append(footprints, fp)
		}
	}

	return footprints
}
