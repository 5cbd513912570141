package processor

import (
	"math"
)

// DownsampleGrid reduces a grid so that its longer side is at most
// targetSize. Each output pixel averages the valid pixels of its source box
// and is valid only when at least half of the box is valid. When the grid
// already fits, the input slices are returned as they are.
func DownsampleGrid(values []float32, mask []uint8, w, h, targetSize int) ([]float32, []uint8, int, int) {
	if targetSize >= w && targetSize >= h {
		return values, mask, w, h
	}

	longest := w
	if h > longest {
		longest = h
	}
	ratio := float64(targetSize) / float64(longest)
	outW := int(math.Max(1, math.Round(float64(w)*ratio)))
	outH := int(math.Max(1, math.Round(float64(h)*ratio)))

	outValues := make([]float32, outW*outH)
	outMask := make([]uint8, outW*outH)
	nan := float32(math.NaN())

	for oy := 0; oy < outH; oy++ {
		y0, y1 := oy*h/outH, (oy+1)*h/outH
		for ox := 0; ox < outW; ox++ {
			x0, x1 := ox*w/outW, (ox+1)*w/outW

			var sum float64
			valid, total := 0, 0
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					total++
					i := y*w + x
					if mask[i] == 1 {
						sum += float64(values[i])
						valid++
					}
				}
			}

			o := oy*outW + ox
			if valid > 0 && 2*valid >= total {
				outValues[o] = float32(sum / float64(valid))
				outMask[o] = 1
			} else {
				outValues[o] = nan
			}
		}
	}

	return outValues, outMask, outW, outH
}

// Downsample applies DownsampleGrid to g. The receiver is returned unchanged
// when no reduction is needed.
func (g *IndexGrid) Downsample(targetSize int) *IndexGrid {
	values, mask, w, h := DownsampleGrid(g.Values, g.ValidMask, g.Width, g.Height, targetSize)
	if w == g.Width && h == g.Height {
		return g
	}
	return &IndexGrid{Values: values, ValidMask: mask, Width: w, Height: h}
}
