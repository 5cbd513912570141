package geometry

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBBoxValid(t *testing.T) {
	assert.True(t, BBox{0, 0, 1, 1}.Valid())
	assert.True(t, BBox{-180, -90, 180, 90}.Valid())
	assert.False(t, BBox{1, 0, 0, 1}.Valid())
	assert.False(t, BBox{0, 1, 1, 1}.Valid())
	assert.False(t, BBox{0, 0, math.NaN(), 1}.Valid())
	assert.False(t, BBox{0, 0, math.Inf(1), 1}.Valid())
}

func TestParsePolygon(t *testing.T) {
	p, err := ParsePolygon(json.RawMessage(`{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}`))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Len(t, p.Ring, 5)
	assert.Equal(t, p.Ring[0], p.Ring[4])

	p, err = ParsePolygon(json.RawMessage(`{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[0,0],[2,0],[2,2],[0,2]]]}}`))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Len(t, p.Ring, 5, "ring is closed")
	assert.Equal(t, [2]float64{0, 0}, p.Ring[4])

	p, err = ParsePolygon(nil)
	assert.NoError(t, err)
	assert.Nil(t, p)

	p, err = ParsePolygon(json.RawMessage(` null `))
	assert.NoError(t, err)
	assert.Nil(t, p)

	bad := []string{
		`{"type":"Point","coordinates":[0,0]}`,
		`{"type":"Polygon","coordinates":[[[0,0],[1,0],[0,0]]]}`,
		`{"type":"Polygon","coordinates":[[["a","b"],[1,0],[1,1],[0,0]]]}`,
		`{"type":"Polygon","coordinates":[]}`,
		`{"type":"Feature","geometry":{"type":"LineString","coordinates":[[0,0],[1,1]]}}`,
		`[1,2,3]`,
		`{`,
	}
	for _, raw := range bad {
		p, err := ParsePolygon(json.RawMessage(raw))
		assert.Nil(t, p, raw)
		assert.True(t, errors.Is(err, ErrInvalidPolygon), raw)
	}
}

func TestNormalizePolygon(t *testing.T) {
	assert.Nil(t, NormalizePolygon([][]float64{{0, 0}, {1, 0}, {0, 0}}))
	assert.Nil(t, NormalizePolygon([][]float64{{0, 0}, {math.NaN(), 0}, {1, 1}, {0, 0}}))

	p := NormalizePolygon([][]float64{{0, 0}, {1, 0}, {1, 1}, {0, 1}})
	require.NotNil(t, p)
	assert.Equal(t, [][2]float64{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}, p.Ring)

	p = NormalizePolygon([][]float64{{0, 0, 12}, {1, 0, 12}, {1, 1, 12}, {0, 0, 12}})
	require.NotNil(t, p)
	assert.Len(t, p.Ring, 4)
}

func centroid(ring [][2]float64) (float64, float64) {
	pts := openRing(ring)
	var x, y float64
	for _, p := range pts {
		x += p[0]
		y += p[1]
	}
	return x / float64(len(pts)), y / float64(len(pts))
}

func TestPointInPolygonConvexCentroid(t *testing.T) {
	rings := [][][2]float64{
		{{0, 0}, {4, 0}, {4, 4}, {0, 4}, {0, 0}},
		{{10, 10}, {12, 10}, {11, 13}, {10, 10}},
		{{-1, 0}, {-0.5, -0.87}, {0.5, -0.87}, {1, 0}, {0.5, 0.87}, {-0.5, 0.87}, {-1, 0}},
		{{149.01, -35.3}, {149.02, -35.31}, {149.035, -35.29}, {149.01, -35.3}},
	}
	for _, ring := range rings {
		x, y := centroid(ring)
		assert.True(t, PointInPolygon(x, y, ring), "%v", ring)
	}

	square := rings[0]
	assert.False(t, PointInPolygon(5, 2, square))
	assert.False(t, PointInPolygon(-0.1, 2, square))
	assert.False(t, PointInPolygon(2, 4.5, square))
}

func TestClipPolygonToRectInsideIsIdempotent(t *testing.T) {
	ring := [][2]float64{{0.2, 0.2}, {0.8, 0.25}, {0.6, 0.9}, {0.2, 0.7}, {0.2, 0.2}}
	r := Rect{0, 0, 1, 1}

	clipped := ClipPolygonToRect(ring, r)
	require.Len(t, clipped, len(ring))
	assert.ElementsMatch(t, openRing(ring), openRing(clipped))
	assert.Equal(t, clipped[0], clipped[len(clipped)-1])

	again := ClipPolygonToRect(clipped, r)
	assert.ElementsMatch(t, openRing(clipped), openRing(again))
}

func TestClipPolygonToRectPartial(t *testing.T) {
	ring := [][2]float64{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}, {-1, -1}}
	clipped := ClipPolygonToRect(ring, Rect{0, 0, 2, 2})
	require.Len(t, clipped, 5)
	assert.ElementsMatch(t, [][2]float64{{0, 0}, {1, 0}, {1, 1}, {0, 1}}, openRing(clipped))
}

func TestClipPolygonToRectOutside(t *testing.T) {
	ring := [][2]float64{{10, 10}, {11, 10}, {11, 11}, {10, 11}, {10, 10}}
	assert.Len(t, ClipPolygonToRect(ring, Rect{0, 0, 1, 1}), 0)
	assert.Len(t, ClipPolygonToRect(ring, Rect{10.5, 12, 11, 13}), 0)
}

func TestBuildAoiMask(t *testing.T) {
	bbox := BBox{0, 0, 4, 4}

	m := BuildAoiMask(bbox, 4, 4, nil)
	assert.Nil(t, m.Mask)
	assert.False(t, m.Applied)
	assert.Equal(t, 1.0, m.CoveredPixelRatio)
	assert.True(t, m.Eligible(3))

	left := &Polygon{Ring: [][2]float64{{0, 0}, {2, 0}, {2, 4}, {0, 4}, {0, 0}}}
	m = BuildAoiMask(bbox, 4, 4, left)
	require.Len(t, m.Mask, 16)
	assert.True(t, m.Applied)
	assert.InDelta(t, 0.5, m.CoveredPixelRatio, 1e-12)
	for y := 0; y < 4; y++ {
		assert.Equal(t, []uint8{1, 1, 0, 0}, m.Mask[y*4:y*4+4])
	}
	assert.False(t, m.Eligible(2))

	// top-left quadrant only: rows 0 and 1 are the northern half
	nw := &Polygon{Ring: [][2]float64{{0, 2}, {2, 2}, {2, 4}, {0, 4}, {0, 2}}}
	m = BuildAoiMask(bbox, 4, 4, nw)
	assert.Equal(t, uint8(1), m.Mask[0])
	assert.Equal(t, uint8(0), m.Mask[12])

	away := &Polygon{Ring: [][2]float64{{10, 10}, {11, 10}, {11, 11}, {10, 10}}}
	m = BuildAoiMask(bbox, 4, 4, away)
	assert.True(t, m.Applied)
	assert.InDelta(t, 0, m.CoveredPixelRatio, 1e-12)
}

func TestDeriveAlignment(t *testing.T) {
	a := DeriveAlignment(BBox{0, 0, 0.01, 0.01}, 10, 20)
	assert.Equal(t, CRS, a.CRS)
	assert.Equal(t, []float64{0, 0, 0.01, 0.01}, a.BBox)
	assert.InDelta(t, 0.001, a.PixelSizeLon, 1e-12)
	assert.InDelta(t, 0.0005, a.PixelSizeLat, 1e-12)
	// about 111.3 m across and 55.7 m down at the equator
	assert.InDelta(t, (111.32+55.66)/2, a.PixelSizeMetersApprox, 0.01)

	south := DeriveAlignment(BBox{0, 59.99, 0.01, 60.01}, 10, 20)
	assert.InDelta(t, (55.66+111.32)/2, south.PixelSizeMetersApprox, 0.05)

	empty := DeriveAlignment(BBox{0, 0, 1, 1}, 0, 0)
	assert.Zero(t, empty.PixelSizeLon)
}

func TestFetchDimensions(t *testing.T) {
	// ~1113 m square at the equator
	w, h := FetchDimensions(BBox{0, 0, 0.01, 0.01}, 10, 2048)
	assert.Equal(t, 112, w)
	assert.Equal(t, 112, h)

	w, h = FetchDimensions(BBox{0, 0, 2, 1}, 10, 2048)
	assert.Equal(t, 2048, w)
	assert.Equal(t, 1024, h)

	w, h = FetchDimensions(BBox{0, 0, 1e-7, 1e-7}, 10, 2048)
	assert.Equal(t, 1, w)
	assert.Equal(t, 1, h)
}

func TestTargetSize(t *testing.T) {
	assert.Equal(t, MinTargetSize, ClampTargetSize(3))
	assert.Equal(t, MaxTargetSize, ClampTargetSize(5000))
	assert.Equal(t, 300, ClampTargetSize(300.2))
	assert.Equal(t, MinTargetSize, ClampTargetSize(math.NaN()))

	assert.Equal(t, MinTargetSize, AdaptiveTargetSize(BBox{0, 0, 0.001, 0.001}))
	assert.Equal(t, MaxTargetSize, AdaptiveTargetSize(BBox{0, 0, 1, 1}))
	assert.Equal(t, 557, AdaptiveTargetSize(BBox{0, 0, 0.05, 0.02}))
}
