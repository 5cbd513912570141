package geometry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	geom "github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// BBox is minLon, minLat, maxLon, maxLat in EPSG:4326 degrees.
type BBox [4]float64

func (b BBox) Valid() bool {
	for _, v := range b {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b[2] > b[0] && b[3] > b[1]
}

func (b BBox) Width() float64  { return b[2] - b[0] }
func (b BBox) Height() float64 { return b[3] - b[1] }
func (b BBox) MidLat() float64 { return (b[1] + b[3]) / 2 }

func (b BBox) Slice() []float64 { return []float64{b[0], b[1], b[2], b[3]} }

// Polygon is a validated AOI exterior ring. The ring is always closed and
// holds at least four points.
type Polygon struct {
	Ring [][2]float64 `json:"ring"`
}

// Bounds returns the envelope of the ring.
func (p *Polygon) Bounds() BBox {
	b := BBox{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for _, pt := range p.Ring {
		b[0] = math.Min(b[0], pt[0])
		b[1] = math.Min(b[1], pt[1])
		b[2] = math.Max(b[2], pt[0])
		b[3] = math.Max(b[3], pt[1])
	}
	return b
}

// ErrInvalidPolygon is returned by ParsePolygon for any geometry that does
// not reduce to a usable exterior ring.
var ErrInvalidPolygon = errors.New("invalid polygon")

// ParsePolygon decodes a GeoJSON Polygon, or a Feature wrapping one, into a
// Polygon. Empty input and JSON null yield a nil polygon and no error.
func ParsePolygon(raw json.RawMessage) (*Polygon, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(trimmed, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolygon, err)
	}

	var g geom.T
	switch head.Type {
	case "Feature":
		var f geojson.Feature
		if err := f.UnmarshalJSON(trimmed); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPolygon, err)
		}
		g = f.Geometry
	case "Polygon":
		if err := geojson.Unmarshal(trimmed, &g); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPolygon, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported geometry type %q", ErrInvalidPolygon, head.Type)
	}

	poly, ok := g.(*geom.Polygon)
	if !ok || poly == nil || poly.NumLinearRings() == 0 {
		return nil, fmt.Errorf("%w: missing exterior ring", ErrInvalidPolygon)
	}

	exterior := poly.Coords()[0]
	coords := make([][]float64, len(exterior))
	for i, c := range exterior {
		coords[i] = c
	}

	p := NormalizePolygon(coords)
	if p == nil {
		return nil, fmt.Errorf("%w: exterior ring needs at least 4 numeric positions", ErrInvalidPolygon)
	}
	return p, nil
}

// NormalizePolygon keeps the numeric lon/lat pairs of an exterior ring,
// closes the ring and returns nil when fewer than four points remain.
func NormalizePolygon(coords [][]float64) *Polygon {
	if len(coords) < 4 {
		return nil
	}

	ring := make([][2]float64, 0, len(coords)+1)
	for _, c := range coords {
		if len(c) < 2 || !finite(c[0]) || !finite(c[1]) {
			continue
		}
		ring = append(ring, [2]float64{c[0], c[1]})
	}
	if len(ring) == 0 {
		return nil
	}
	if ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}
	if len(ring) < 4 {
		return nil
	}
	return &Polygon{Ring: ring}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
