package processor

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/nci/vegindex/geometry"
	"github.com/nci/vegindex/utils"
)

const dateLayout = "2006-01-02"

// IngestRequest is the wire form accepted by the ingest endpoint.
type IngestRequest struct {
	BBox       []float64       `json:"bbox"`
	Geometry   json.RawMessage `json:"geometry,omitempty"`
	Date       string          `json:"date,omitempty"`
	TargetSize *float64        `json:"targetSize,omitempty"`
	Policy     string          `json:"policy,omitempty"`
}

// NormalizedIngestRequest is a validated request with every optional field
// resolved.
type NormalizedIngestRequest struct {
	BBox        geometry.BBox
	Polygon     *geometry.Polygon
	Start       time.Time
	End         time.Time
	TargetSize  int
	Policy      string
	FetchWidth  int
	FetchHeight int
}

// CacheKey identifies requests that produce the same result.
func (r *NormalizedIngestRequest) CacheKey() string {
	var ring interface{}
	if r.Polygon != nil {
		ring = r.Polygon.Ring
	}
	return utils.CacheKey("ingest", r.BBox, ring, r.Start.Format(dateLayout), r.End.Format(dateLayout), r.TargetSize, r.Policy)
}

type RequestOptions struct {
	DefaultWindowDays int
	NativeResolution  float64
	MaxFetchSize      int
}

func (o RequestOptions) withDefaults() RequestOptions {
	if o.DefaultWindowDays <= 0 {
		o.DefaultWindowDays = utils.DefaultWindowDays
	}
	if o.NativeResolution <= 0 {
		o.NativeResolution = utils.DefaultNativeResolution
	}
	if o.MaxFetchSize <= 0 {
		o.MaxFetchSize = utils.DefaultMaxFetchSize
	}
	return o
}

// NormalizeRequest validates req. Failures are *ValidationError and happen
// before any provider is contacted.
func NormalizeRequest(req *IngestRequest, now time.Time, opts RequestOptions) (*NormalizedIngestRequest, error) {
	opts = opts.withDefaults()

	if len(req.BBox) != 4 {
		return nil, &ValidationError{Code: CodeBBoxRequired, Message: fmt.Sprintf("bbox must hold 4 numbers, got %d", len(req.BBox))}
	}
	var bbox geometry.BBox
	copy(bbox[:], req.BBox)
	if !bbox.Valid() {
		return nil, &ValidationError{Code: CodeBBoxRequired, Message: fmt.Sprintf("bbox %v is not [minLon, minLat, maxLon, maxLat]", req.BBox)}
	}

	poly, err := geometry.ParsePolygon(req.Geometry)
	if err != nil {
		return nil, &ValidationError{Code: CodeInvalidGeometry, Message: err.Error()}
	}

	start, end := ParseDateWindow(req.Date, now, opts.DefaultWindowDays)

	targetSize := geometry.AdaptiveTargetSize(bbox)
	if req.TargetSize != nil && !math.IsNaN(*req.TargetSize) {
		targetSize = geometry.ClampTargetSize(*req.TargetSize)
	}

	fw, fh := geometry.FetchDimensions(bbox, opts.NativeResolution, opts.MaxFetchSize)

	return &NormalizedIngestRequest{
		BBox:        bbox,
		Polygon:     poly,
		Start:       start,
		End:         end,
		TargetSize:  targetSize,
		Policy:      NormalizePolicy(req.Policy),
		FetchWidth:  fw,
		FetchHeight: fh,
	}, nil
}

// ParseDateWindow resolves "YYYY-MM-DD/YYYY-MM-DD" into an inclusive UTC
// range. A single date closes a window of windowDays ending on that day.
// Anything unparseable falls back to the windowDays ending now.
func ParseDateWindow(s string, now time.Time, windowDays int) (time.Time, time.Time) {
	window := time.Duration(windowDays) * 24 * time.Hour
	endOfDay := func(t time.Time) time.Time { return t.Add(24*time.Hour - time.Nanosecond) }

	parts := strings.Split(strings.TrimSpace(s), "/")
	switch len(parts) {
	case 1:
		if end, err := time.Parse(dateLayout, parts[0]); err == nil {
			return end.Add(-window), endOfDay(end)
		}
	case 2:
		start, err1 := time.Parse(dateLayout, strings.TrimSpace(parts[0]))
		end, err2 := time.Parse(dateLayout, strings.TrimSpace(parts[1]))
		if err1 == nil && err2 == nil {
			if end.Before(start) {
				start, end = end, start
			}
			return start, endOfDay(end)
		}
	}

	now = now.UTC()
	return now.Add(-window), now
}
