package utils

import (
	"math"
	"testing"
)

func assertBytes(t *testing.T, out []uint8, expected []uint8) {
	t.Helper()
	if len(out) != len(expected) {
		t.Fatalf("scaled raster length %d, expecting %d", len(out), len(expected))
	}
	for i := range out {
		if out[i] != expected[i] {
			t.Errorf("scaled raster test failed, expecting %v, actual %v", expected, out)
			return
		}
	}
}

func TestScaleIndex(t *testing.T) {
	values := []float32{-1, 0, 1, 0.5}
	valid := []uint8{1, 1, 1, 1}
	out := ScaleIndex(values, valid, nil, IndexScaleParams)
	assertBytes(t, out, []uint8{0, 127, 254, 190})
}

func TestScaleIndexNoData(t *testing.T) {
	nan := float32(math.NaN())
	values := []float32{nan, 0.2, 0.2, 0.2}
	valid := []uint8{0, 1, 1, 1}
	eligible := []uint8{1, 1, 0, 1}
	out := ScaleIndex(values, valid, eligible, IndexScaleParams)
	assertBytes(t, out, []uint8{NoDataByte, 152, NoDataByte, 152})

	// a stray NaN flagged valid still maps to nodata
	out = ScaleIndex([]float32{nan}, []uint8{1}, nil, IndexScaleParams)
	assertBytes(t, out, []uint8{NoDataByte})
}

func TestScaleIndexClip(t *testing.T) {
	sp := ScaleParams{Offset: 3, Scale: 2, Clip: 4}
	out := ScaleIndex([]float32{-5, 0, 3}, []uint8{1, 1, 1}, nil, sp)
	assertBytes(t, out, []uint8{0, 6, 8})
}
