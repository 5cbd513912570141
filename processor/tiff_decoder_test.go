package processor

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tiffLayout struct {
	bigEndian    bool
	spp          int
	bits         int
	photometric  uint32
	extra        []uint16
	planar       bool
	rowsPerStrip int
	deflate      bool
	predictor    bool
	signed       bool
}

type tiffEntry struct {
	tag  uint16
	typ  uint16
	vals []uint32
}

// writeTIFF lays out a stripped TIFF from pixel interleaved samples.
func writeTIFF(t *testing.T, l tiffLayout, w, h int, samples []int) []byte {
	t.Helper()
	require.Len(t, samples, w*h*l.spp)

	var order binary.ByteOrder = binary.LittleEndian
	if l.bigEndian {
		order = binary.BigEndian
	}
	planes, chunk := 1, l.spp
	if l.planar {
		planes, chunk = l.spp, 1
	}
	rps := l.rowsPerStrip
	if rps <= 0 || rps > h {
		rps = h
	}

	var data bytes.Buffer
	var offsets, counts []uint32
	for plane := 0; plane < planes; plane++ {
		for y0 := 0; y0 < h; y0 += rps {
			var strip []byte
			for y := y0; y < y0+rps && y < h; y++ {
				prev := make([]int, chunk)
				for x := 0; x < w; x++ {
					for c := 0; c < chunk; c++ {
						v := samples[(y*w+x)*l.spp+plane+c]
						out := v
						if l.predictor {
							out = v - prev[c]
							prev[c] = v
						}
						if l.bits == 8 {
							strip = append(strip, byte(out))
						} else {
							b := make([]byte, 2)
							order.PutUint16(b, uint16(out))
							strip = append(strip, b...)
						}
					}
				}
			}
			if l.deflate {
				var z bytes.Buffer
				zw := zlib.NewWriter(&z)
				_, err := zw.Write(strip)
				require.NoError(t, err)
				require.NoError(t, zw.Close())
				strip = z.Bytes()
			}
			offsets = append(offsets, uint32(8+data.Len()))
			counts = append(counts, uint32(len(strip)))
			data.Write(strip)
		}
	}
	if data.Len()%2 == 1 {
		data.WriteByte(0)
	}

	bps := make([]uint32, l.spp)
	format := make([]uint32, l.spp)
	for i := range bps {
		bps[i] = uint32(l.bits)
		format[i] = 2
	}
	compression, photometric, planar := uint32(1), l.photometric, uint32(1)
	if l.deflate {
		compression = 8
	}
	if photometric == 0 {
		photometric = 1
	}
	if l.planar {
		planar = 2
	}

	entries := []tiffEntry{
		{256, 4, []uint32{uint32(w)}},
		{257, 4, []uint32{uint32(h)}},
		{258, 3, bps},
		{259, 3, []uint32{compression}},
		{262, 3, []uint32{photometric}},
		{273, 4, offsets},
		{277, 3, []uint32{uint32(l.spp)}},
		{278, 4, []uint32{uint32(rps)}},
		{279, 4, counts},
		{284, 3, []uint32{planar}},
	}
	if l.predictor {
		entries = append(entries, tiffEntry{317, 3, []uint32{2}})
	}
	if len(l.extra) > 0 {
		extra := make([]uint32, len(l.extra))
		for i, e := range l.extra {
			extra[i] = uint32(e)
		}
		entries = append(entries, tiffEntry{338, 3, extra})
	}
	if l.signed {
		entries = append(entries, tiffEntry{339, 3, format})
	}

	ifdOff := 8 + data.Len()
	valuesOff := ifdOff + 2 + len(entries)*12 + 4
	var ifd, values bytes.Buffer
	require.NoError(t, binary.Write(&ifd, order, uint16(len(entries))))
	for _, e := range entries {
		var payload bytes.Buffer
		for _, v := range e.vals {
			if e.typ == 3 {
				require.NoError(t, binary.Write(&payload, order, uint16(v)))
			} else {
				require.NoError(t, binary.Write(&payload, order, v))
			}
		}
		require.NoError(t, binary.Write(&ifd, order, e.tag))
		require.NoError(t, binary.Write(&ifd, order, e.typ))
		require.NoError(t, binary.Write(&ifd, order, uint32(len(e.vals))))
		if payload.Len() <= 4 {
			inline := make([]byte, 4)
			copy(inline, payload.Bytes())
			ifd.Write(inline)
		} else {
			require.NoError(t, binary.Write(&ifd, order, uint32(valuesOff+values.Len())))
			values.Write(payload.Bytes())
		}
	}
	require.NoError(t, binary.Write(&ifd, order, uint32(0)))

	var out bytes.Buffer
	if l.bigEndian {
		out.WriteString("MM")
	} else {
		out.WriteString("II")
	}
	require.NoError(t, binary.Write(&out, order, uint16(42)))
	require.NoError(t, binary.Write(&out, order, uint32(ifdOff)))
	out.Write(data.Bytes())
	out.Write(ifd.Bytes())
	out.Write(values.Bytes())
	return out.Bytes()
}

func seqSamples(n, spp int) []int {
	s := make([]int, n*spp)
	for i := range s {
		s[i] = 100*(i/spp) + 10*(i%spp) + 1
	}
	return s
}

func toFloat(v []int) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func TestTIFFDecoderMinIsBlackCube(t *testing.T) {
	samples := []int{100, 500, 3000, 1500, 200, 600, 2800, 1400, 300, 700, 2600, 1300, 400, 800, 2400, 1200}
	data := writeTIFF(t, tiffLayout{spp: 4, bits: 16, extra: []uint16{0, 0, 0}}, 2, 2, samples)

	raw, err := TIFFDecoder{}.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 2, raw.Width)
	assert.Equal(t, 2, raw.Height)
	assert.Equal(t, 4, raw.SamplesPerPixel)
	assert.Equal(t, toFloat(samples), raw.Samples)

	bands, err := DecodeCube(raw)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.01, 0.02, 0.03, 0.04}, bands[0].Data)
	assert.Equal(t, []float64{0.3, 0.28, 0.26, 0.24}, bands[2].Data)
}

func TestTIFFDecoderRGBWithoutAlpha(t *testing.T) {
	samples := seqSamples(4, 4)
	data := writeTIFF(t, tiffLayout{spp: 4, bits: 16, photometric: 2, extra: []uint16{0}}, 2, 2, samples)

	raw, err := TIFFDecoder{}.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, toFloat(samples), raw.Samples)
}

func TestTIFFDecoderFiveBandCube(t *testing.T) {
	w, h, spp := 3, 3, 5
	samples := seqSamples(w*h, spp)

	layouts := map[string]tiffLayout{
		"chunky":            {spp: spp, bits: 16},
		"big endian":        {spp: spp, bits: 16, bigEndian: true, rowsPerStrip: 1},
		"planar":            {spp: spp, bits: 16, planar: true, rowsPerStrip: 2},
		"deflate predictor": {spp: spp, bits: 16, deflate: true, predictor: true, rowsPerStrip: 2},
		"planar deflate":    {spp: spp, bits: 16, planar: true, deflate: true, predictor: true},
	}
	for name, l := range layouts {
		t.Run(name, func(t *testing.T) {
			raw, err := TIFFDecoder{}.Decode(writeTIFF(t, l, w, h, samples))
			require.NoError(t, err)
			assert.Equal(t, spp, raw.SamplesPerPixel)
			assert.Equal(t, toFloat(samples), raw.Samples)

			bands, err := DecodeCube(raw)
			require.NoError(t, err)
			require.Len(t, bands, 4)
			assert.Equal(t, ReflectanceFromRaw(float64(samples[spp+1])), bands[1].Data[1])
		})
	}
}

func TestTIFFDecoderByteAndSignedSamples(t *testing.T) {
	bytesCube := []int{1, 2, 3, 4, 250, 251, 252, 253}
	raw, err := TIFFDecoder{}.Decode(writeTIFF(t, tiffLayout{spp: 4, bits: 8, predictor: true}, 2, 1, bytesCube))
	require.NoError(t, err)
	assert.Equal(t, toFloat(bytesCube), raw.Samples)

	signed := []int{-5, 500, 3000, 1500, 100, -200, 2900, 1400}
	raw, err = TIFFDecoder{}.Decode(writeTIFF(t, tiffLayout{spp: 4, bits: 16, signed: true}, 1, 2, signed))
	require.NoError(t, err)
	assert.Equal(t, toFloat(signed), raw.Samples)

	bands, err := DecodeCube(raw)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.01}, bands[0].Data)
}

func TestTIFFDecoderTruncatedStrip(t *testing.T) {
	data := writeTIFF(t, tiffLayout{spp: 4, bits: 16}, 2, 2, seqSamples(4, 4))
	// Shrink the first strip byte count so the strip no longer covers the image.
	d, err := readIFD(data)
	require.NoError(t, err)
	require.Equal(t, uint(32), d.fields[tagStripByteCounts][0])
	patched := bytes.Replace(data, []byte{0x17, 0x01, 0x04, 0x00, 0x01, 0x00, 0x00, 0x00, 0x20, 0x00, 0x00, 0x00},
		[]byte{0x17, 0x01, 0x04, 0x00, 0x01, 0x00, 0x00, 0x00, 0x10, 0x00, 0x00, 0x00}, 1)
	require.NotEqual(t, data, patched)

	_, err = TIFFDecoder{}.Decode(patched)
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, CodeRasterDecodeFailed, de.Code)
}
