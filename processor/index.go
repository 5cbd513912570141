package processor

import (
	"math"
)

// DefaultMinSignal is the smallest num+den accepted for a valid pixel.
const DefaultMinSignal = 0.005

// MaxReflectance rejects saturated samples.
const MaxReflectance = 1.5

// ComputeIndexGrid evaluates (num-den)/(num+den) per pixel. A pixel is valid
// only when both bands are in (0, 1.5] and their sum exceeds minSignal.
func ComputeIndexGrid(num, den *BandRaster, minSignal float64) (*IndexGrid, error) {
	if err := CheckDimensions(num, den); err != nil {
		return nil, err
	}

	n := num.Width * num.Height
	grid := &IndexGrid{
		Values:    make([]float32, n),
		ValidMask: make([]uint8, n),
		Width:     num.Width,
		Height:    num.Height,
	}

	nan := float32(math.NaN())
	for i := 0; i < n; i++ {
		a, b := num.Data[i], den.Data[i]
		if !(a > 0 && b > 0 && a <= MaxReflectance && b <= MaxReflectance && a+b > minSignal) {
			grid.Values[i] = nan
			continue
		}
		v := (a - b) / (a + b)
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		grid.Values[i] = float32(v)
		grid.ValidMask[i] = 1
	}

	return grid, nil
}
