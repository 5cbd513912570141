package processor

import (
	"github.com/nci/vegindex/geometry"
)

// RawRaster is a decoded image before reflectance scaling. Samples are pixel
// interleaved: pixel i band b sits at Samples[i*SamplesPerPixel+b].
type RawRaster struct {
	Width           int
	Height          int
	SamplesPerPixel int
	Samples         []float64
}

// BandRaster holds reflectance values, never negative.
type BandRaster struct {
	Width  int
	Height int
	Data   []float64
}

// IndexGrid is a normalised difference raster. Values[i] is finite and in
// [-1, 1] exactly when ValidMask[i] == 1; invalid pixels hold NaN.
type IndexGrid struct {
	Values    []float32
	ValidMask []uint8
	Width     int
	Height    int
}

type Stats struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
	P10  float64 `json:"p10"`
	P90  float64 `json:"p90"`
}

const (
	StressHigh     = "high"
	StressModerate = "moderate"
	StressLow      = "low"
	StressUnknown  = "unknown"
)

type GridCellSummary struct {
	Row             int     `json:"row"`
	Col             int     `json:"col"`
	Min             float64 `json:"min"`
	Max             float64 `json:"max"`
	Mean            float64 `json:"mean"`
	ValidPixelRatio float64 `json:"validPixelRatio"`
	StressLevel     string  `json:"stressLevel"`
}

type CellFootprint struct {
	Row      int          `json:"row"`
	Col      int          `json:"col"`
	Polygon  [][2]float64 `json:"polygon"`
	Coverage float64      `json:"coverage"`
}

type MetricGrid struct {
	Encoded          string  `json:"encoded"`
	ValidMaskEncoded string  `json:"validMaskEncoded"`
	Width            int     `json:"width"`
	Height           int     `json:"height"`
	Min              float64 `json:"min"`
	Max              float64 `json:"max"`
}

type AoiMaskMeta struct {
	Applied           bool    `json:"applied"`
	CoveredPixelRatio float64 `json:"coveredPixelRatio"`
}

type NDVIBlock struct {
	PreviewPNG      string            `json:"previewPng"`
	Width           int               `json:"width"`
	Height          int               `json:"height"`
	MetricGrid      MetricGrid        `json:"metricGrid"`
	Stats           Stats             `json:"stats"`
	ValidPixelRatio float64           `json:"validPixelRatio"`
	AoiMaskMeta     AoiMaskMeta       `json:"aoiMaskMeta"`
	Grid3x3         []GridCellSummary `json:"grid3x3"`
	CellFootprints  []CellFootprint   `json:"cellFootprints"`
	Warnings        []string          `json:"warnings,omitempty"`
}

type NDMIBlock struct {
	MetricGrid      MetricGrid `json:"metricGrid"`
	Stats           Stats      `json:"stats"`
	ValidPixelRatio float64    `json:"validPixelRatio"`
}

type Imagery struct {
	ID         string  `json:"id"`
	Date       string  `json:"date"`
	CloudCover float64 `json:"cloudCover"`
	Platform   string  `json:"platform"`
}

type SceneRef struct {
	Provider  string `json:"provider"`
	SceneID   string `json:"sceneId"`
	SceneDate string `json:"sceneDate"`
}

type IngestResult struct {
	Provider     string             `json:"provider"`
	FallbackUsed bool               `json:"fallbackUsed"`
	Imagery      Imagery            `json:"imagery"`
	BBox         []float64          `json:"bbox"`
	Alignment    geometry.Alignment `json:"alignment"`
	SceneRef     SceneRef           `json:"sceneRef"`
	NDVI         *NDVIBlock         `json:"ndvi"`
	NDMI         *NDMIBlock         `json:"ndmi,omitempty"`
	Attempts     []ProviderFailure  `json:"attempts,omitempty"`
}
