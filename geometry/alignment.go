package geometry

import (
	"math"
)

const (
	CRS = "EPSG:4326"

	// MetersPerDegreeLat is the equirectangular degree length used for all
	// metre approximations. Longitude degrees are scaled by cos(latitude).
	MetersPerDegreeLat = 111320.0

	MinTargetSize = 128
	MaxTargetSize = 1024
)

// Alignment describes the pixel grid of a result raster.
type Alignment struct {
	BBox                  []float64 `json:"bbox"`
	CRS                   string    `json:"crs"`
	Width                 int       `json:"width"`
	Height                int       `json:"height"`
	PixelSizeLon          float64   `json:"pixelSizeLon"`
	PixelSizeLat          float64   `json:"pixelSizeLat"`
	PixelSizeMetersApprox float64   `json:"pixelSizeMetersApprox"`
}

// SpanMeters returns the approximate east-west and north-south extent of b.
func SpanMeters(b BBox) (float64, float64) {
	cosLat := math.Cos(b.MidLat() * math.Pi / 180)
	return b.Width() * MetersPerDegreeLat * cosLat, b.Height() * MetersPerDegreeLat
}

func DeriveAlignment(b BBox, width, height int) Alignment {
	a := Alignment{
		BBox:   b.Slice(),
		CRS:    CRS,
		Width:  width,
		Height: height,
	}
	if width <= 0 || height <= 0 {
		return a
	}

	a.PixelSizeLon = b.Width() / float64(width)
	a.PixelSizeLat = b.Height() / float64(height)

	spanX, spanY := SpanMeters(b)
	a.PixelSizeMetersApprox = (spanX/float64(width) + spanY/float64(height)) / 2
	return a
}

// FetchDimensions sizes the raster requested from a provider so that a pixel
// covers roughly metersPerPixel, keeping the aspect ratio and capping the
// longer side at maxDim.
func FetchDimensions(b BBox, metersPerPixel float64, maxDim int) (int, int) {
	spanX, spanY := SpanMeters(b)
	w := math.Max(1, math.Ceil(spanX/metersPerPixel))
	h := math.Max(1, math.Ceil(spanY/metersPerPixel))

	if longest := math.Max(w, h); maxDim > 0 && longest > float64(maxDim) {
		ratio := float64(maxDim) / longest
		w = math.Max(1, math.Round(w*ratio))
		h = math.Max(1, math.Round(h*ratio))
	}
	return int(w), int(h)
}

// AdaptiveTargetSize picks an output size from the AOI span at 10 m per
// pixel, bounded to the transport range.
func AdaptiveTargetSize(b BBox) int {
	spanX, spanY := SpanMeters(b)
	return ClampTargetSize(math.Max(spanX, spanY) / 10)
}

func ClampTargetSize(v float64) int {
	if math.IsNaN(v) {
		return MinTargetSize
	}
	return int(math.Round(math.Min(MaxTargetSize, math.Max(MinTargetSize, v))))
}
