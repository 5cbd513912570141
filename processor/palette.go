package processor

import (
	"fmt"
	"image/color"

	"github.com/nci/vegindex/utils"
)

// DefaultIndexPalette runs from bare soil browns through yellow to dense
// canopy green.
var DefaultIndexPalette = &utils.Palette{
	Interpolate: true,
	Colours: []color.RGBA{
		{R: 165, G: 0, B: 38, A: 255},
		{R: 215, G: 48, B: 39, A: 255},
		{R: 244, G: 109, B: 67, A: 255},
		{R: 253, G: 174, B: 97, A: 255},
		{R: 254, G: 224, B: 139, A: 255},
		{R: 217, G: 239, B: 139, A: 255},
		{R: 166, G: 217, B: 106, A: 255},
		{R: 102, G: 189, B: 99, A: 255},
		{R: 26, G: 152, B: 80, A: 255},
		{R: 0, G: 104, B: 55, A: 255},
	},
}

// InterpolateUint8 moves from a to b by i steps out of n.
func InterpolateUint8(a, b uint8, i, n int) uint8 {
	return uint8(int(a) + i*(int(b)-int(a))/n)
}

func InterpolateColor(a, b color.RGBA, i, n int) color.RGBA {
	return color.RGBA{
		R: InterpolateUint8(a.R, b.R, i, n),
		G: InterpolateUint8(a.G, b.G, i, n),
		B: InterpolateUint8(a.B, b.B, i, n),
		A: 255,
	}
}

// spread splits 256 slots into bins runs, handing the remainder to the
// leading runs.
func spread(bins int) []int {
	runs := make([]int, bins)
	for i := range runs {
		runs[i] = 256 / bins
		if i < 256%bins {
			runs[i]++
		}
	}
	return runs
}

// GradientRGBAPalette expands a palette into a 256 entry ramp. Interpolated
// palettes blend between consecutive colours; the others repeat each colour
// over an equal run.
func GradientRGBAPalette(palette *utils.Palette) ([]color.RGBA, error) {
	if palette == nil {
		palette = DefaultIndexPalette
	}
	if len(palette.Colours) < 2 {
		return nil, fmt.Errorf("palette needs at least 2 colours, got %d", len(palette.Colours))
	}

	ramp := make([]color.RGBA, 0, 256)
	if palette.Interpolate {
		runs := spread(len(palette.Colours) - 1)
		for section, upper := range palette.Colours[1:] {
			lower := palette.Colours[section]
			for i := 0; i < runs[section]; i++ {
				ramp = append(ramp, InterpolateColor(lower, upper, i, runs[section]))
			}
		}
	} else {
		runs := spread(len(palette.Colours))
		for section, colour := range palette.Colours {
			for i := 0; i < runs[section]; i++ {
				ramp = append(ramp, colour)
			}
		}
	}

	return ramp, nil
}
