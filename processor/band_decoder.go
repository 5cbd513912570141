package processor

import (
	"fmt"
)

// CubeBands is the sample order of a four band reflectance cube.
var CubeBands = []string{"blue", "red", "nir", "swir16"}

// ReflectanceFromRaw converts a digital number to surface reflectance.
// Values above 2 are taken as scaled by 10000; negatives are clamped to 0.
func ReflectanceFromRaw(raw float64) float64 {
	r := raw
	if raw > 2 {
		r = raw / 10000
	}
	if r < 0 {
		r = 0
	}
	return r
}

func checkRawRaster(raw *RawRaster) error {
	if raw == nil || raw.Width <= 0 || raw.Height <= 0 || raw.SamplesPerPixel <= 0 {
		return &DecodeError{Code: CodeRasterDecodeFailed, Message: "empty raster"}
	}
	if need := raw.Width * raw.Height * raw.SamplesPerPixel; len(raw.Samples) < need {
		return &DecodeError{
			Code:    CodeRasterDecodeFailed,
			Message: fmt.Sprintf("raster holds %d samples, %dx%dx%d expected", len(raw.Samples), raw.Width, raw.Height, raw.SamplesPerPixel),
		}
	}
	return nil
}

func extractBand(raw *RawRaster, band int) *BandRaster {
	n := raw.Width * raw.Height
	out := &BandRaster{Width: raw.Width, Height: raw.Height, Data: make([]float64, n)}
	for i := 0; i < n; i++ {
		out.Data[i] = ReflectanceFromRaw(raw.Samples[i*raw.SamplesPerPixel+band])
	}
	return out
}

// DecodeBand scales the first sample of every pixel into reflectance.
func DecodeBand(raw *RawRaster) (*BandRaster, error) {
	if err := checkRawRaster(raw); err != nil {
		return nil, err
	}
	return extractBand(raw, 0), nil
}

// DecodeCube splits an interleaved cube into its first four bands, in
// CubeBands order.
func DecodeCube(raw *RawRaster) ([]*BandRaster, error) {
	if err := checkRawRaster(raw); err != nil {
		return nil, err
	}
	if raw.SamplesPerPixel < len(CubeBands) {
		return nil, &DecodeError{
			Code:    CodeCubeMissingBands,
			Message: fmt.Sprintf("cube has %d samples per pixel, %d required", raw.SamplesPerPixel, len(CubeBands)),
		}
	}

	bands := make([]*BandRaster, len(CubeBands))
	for b := range CubeBands {
		bands[b] = extractBand(raw, b)
	}
	return bands, nil
}

// CheckDimensions fails unless every band has the same width and height.
func CheckDimensions(bands ...*BandRaster) error {
	var ref *BandRaster
	for _, b := range bands {
		if b == nil {
			continue
		}
		if ref == nil {
			ref = b
			continue
		}
		if b.Width != ref.Width || b.Height != ref.Height {
			return &DecodeError{
				Code:    CodeBandDimensionMismatch,
				Message: fmt.Sprintf("band is %dx%d, expected %dx%d", b.Width, b.Height, ref.Width, ref.Height),
			}
		}
	}
	return nil
}
