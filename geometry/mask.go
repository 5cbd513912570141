package geometry

// AoiMask flags the pixels of a width x height raster whose centres fall
// inside the AOI polygon. A nil Mask means every pixel is eligible.
type AoiMask struct {
	Mask              []uint8
	Width             int
	Height            int
	Applied           bool
	CoveredPixelRatio float64
}

// Eligible reports whether pixel i takes part in AOI aware statistics.
func (m *AoiMask) Eligible(i int) bool {
	return m == nil || m.Mask == nil || m.Mask[i] == 1
}

// BuildAoiMask rasterises poly over bbox at the given dimensions. Row 0 is
// the northern edge.
func BuildAoiMask(bbox BBox, width, height int, poly *Polygon) *AoiMask {
	if poly == nil {
		return &AoiMask{Width: width, Height: height, CoveredPixelRatio: 1}
	}

	total := width * height
	mask := make([]uint8, total)
	if total == 0 {
		return &AoiMask{Mask: mask, Width: width, Height: height, Applied: true}
	}

	pxLon := bbox.Width() / float64(width)
	pxLat := bbox.Height() / float64(height)
	env := poly.Bounds()

	inside := 0
	for y := 0; y < height; y++ {
		lat := bbox[3] - (float64(y)+0.5)*pxLat
		if lat < env[1] || lat > env[3] {
			continue
		}
		for x := 0; x < width; x++ {
			lon := bbox[0] + (float64(x)+0.5)*pxLon
			if lon < env[0] || lon > env[2] {
				continue
			}
			if PointInPolygon(lon, lat, poly.Ring) {
				mask[y*width+x] = 1
				inside++
			}
		}
	}

	return &AoiMask{
		Mask:              mask,
		Width:             width,
		Height:            height,
		Applied:           true,
		CoveredPixelRatio: float64(inside) / float64(total),
	}
}
