package processor

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"image"
	"io/ioutil"

	"golang.org/x/image/tiff"
	"golang.org/x/image/tiff/lzw"
)

// RasterDecoder turns an encoded raster payload into raw samples.
type RasterDecoder interface {
	Decode(data []byte) (*RawRaster, error)
}

// TIFFDecoder reads uncompressed, deflate and LZW TIFFs with 8 or 16 bit
// integer samples. Single band files go through x/image/tiff; files with
// more than one sample per pixel are read straight from their strips or
// tiles, whatever the photometric tag says, so GDAL style MinIsBlack cubes
// with any band count decode.
type TIFFDecoder struct{}

func (TIFFDecoder) Decode(data []byte) (*RawRaster, error) {
	if d, err := readIFD(data); err == nil && d.first(tagSamplesPerPixel, 1) > 1 {
		raw, err := d.decodeSamples(data)
		if err != nil {
			return nil, &DecodeError{Code: CodeRasterDecodeFailed, Message: err.Error()}
		}
		return raw, nil
	}

	img, err := tiff.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Code: CodeRasterDecodeFailed, Message: err.Error()}
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch m := img.(type) {
	case *image.Gray:
		out := newRawRaster(w, h, 1)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out.Samples[y*w+x] = float64(m.Pix[m.PixOffset(b.Min.X+x, b.Min.Y+y)])
			}
		}
		return out, nil

	case *image.Gray16:
		out := newRawRaster(w, h, 1)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				off := m.PixOffset(b.Min.X+x, b.Min.Y+y)
				out.Samples[y*w+x] = float64(uint16(m.Pix[off])<<8 | uint16(m.Pix[off+1]))
			}
		}
		return out, nil

	default:
		return nil, &DecodeError{Code: CodeRasterDecodeFailed, Message: fmt.Sprintf("unsupported tiff layout %T", img)}
	}
}

func newRawRaster(w, h, spp int) *RawRaster {
	return &RawRaster{Width: w, Height: h, SamplesPerPixel: spp, Samples: make([]float64, w*h*spp)}
}

const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339

	compressionNone       = 1
	compressionLZW        = 5
	compressionDeflate    = 8
	compressionDeflateOld = 32946

	predictorHorizontal = 2
	planarSeparate      = 2
	sampleFormatInt     = 2
)

// tiffIFD holds the integer valued fields of the first image directory.
type tiffIFD struct {
	order  binary.ByteOrder
	fields map[uint16][]uint
}

func (d *tiffIFD) first(tag uint16, fallback uint) uint {
	if v, ok := d.fields[tag]; ok && len(v) > 0 {
		return v[0]
	}
	return fallback
}

func readIFD(data []byte) (*tiffIFD, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("tiff: short header")
	}

	d := &tiffIFD{fields: make(map[uint16][]uint)}
	switch string(data[:2]) {
	case "II":
		d.order = binary.LittleEndian
	case "MM":
		d.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("tiff: bad byte order")
	}
	if d.order.Uint16(data[2:4]) != 42 {
		return nil, fmt.Errorf("tiff: only classic tiff is supported")
	}

	off := uint64(d.order.Uint32(data[4:8]))
	if off+2 > uint64(len(data)) {
		return nil, fmt.Errorf("tiff: ifd offset out of range")
	}
	n := uint64(d.order.Uint16(data[off:]))
	start := off + 2
	if start+n*12 > uint64(len(data)) {
		return nil, fmt.Errorf("tiff: truncated ifd")
	}

	for i := uint64(0); i < n; i++ {
		e := data[start+i*12 : start+i*12+12]
		tag := d.order.Uint16(e[0:2])
		count := uint64(d.order.Uint32(e[4:8]))

		var size uint64
		switch d.order.Uint16(e[2:4]) {
		case 1: // BYTE
			size = 1
		case 3: // SHORT
			size = 2
		case 4: // LONG
			size = 4
		default:
			continue
		}

		total := count * size
		var raw []byte
		if total <= 4 {
			raw = e[8 : 8+total]
		} else {
			vo := uint64(d.order.Uint32(e[8:12]))
			if vo+total > uint64(len(data)) {
				return nil, fmt.Errorf("tiff: tag %d values out of range", tag)
			}
			raw = data[vo : vo+total]
		}

		vals := make([]uint, count)
		for j := range vals {
			switch size {
			case 1:
				vals[j] = uint(raw[j])
			case 2:
				vals[j] = uint(d.order.Uint16(raw[j*2:]))
			case 4:
				vals[j] = uint(d.order.Uint32(raw[j*4:]))
			}
		}
		d.fields[tag] = vals
	}
	return d, nil
}

func readBlock(data []byte, off, n, compression uint) ([]byte, error) {
	if uint64(off)+uint64(n) > uint64(len(data)) {
		return nil, fmt.Errorf("tiff: block out of range")
	}
	raw := data[off : off+n]

	switch compression {
	case compressionNone:
		return append([]byte(nil), raw...), nil
	case compressionLZW:
		r := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer r.Close()
		return ioutil.ReadAll(r)
	case compressionDeflate, compressionDeflateOld:
		r, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return ioutil.ReadAll(r)
	default:
		return nil, fmt.Errorf("tiff: unsupported compression %d", compression)
	}
}

// decodeSamples reads every sample of a chunky or planar, stripped or
// tiled image into pixel interleaved order.
func (d *tiffIFD) decodeSamples(data []byte) (*RawRaster, error) {
	w := int(d.first(tagImageWidth, 0))
	h := int(d.first(tagImageLength, 0))
	spp := int(d.first(tagSamplesPerPixel, 1))
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("tiff: empty image")
	}

	bps := d.fields[tagBitsPerSample]
	if len(bps) == 0 {
		return nil, fmt.Errorf("tiff: missing bits per sample")
	}
	bits := bps[0]
	for _, b := range bps {
		if b != bits {
			return nil, fmt.Errorf("tiff: mixed bits per sample %v", bps)
		}
	}
	if bits != 8 && bits != 16 {
		return nil, fmt.Errorf("tiff: unsupported %d bit samples", bits)
	}
	signed := false
	switch d.first(tagSampleFormat, 1) {
	case 1:
	case sampleFormatInt:
		signed = true
	default:
		return nil, fmt.Errorf("tiff: unsupported sample format %d", d.first(tagSampleFormat, 1))
	}

	compression := d.first(tagCompression, compressionNone)
	predictor := d.first(tagPredictor, 1)

	var bw, bh int
	var offsets, counts []uint
	if _, tiled := d.fields[tagTileWidth]; tiled {
		bw = int(d.first(tagTileWidth, 0))
		bh = int(d.first(tagTileLength, 0))
		offsets, counts = d.fields[tagTileOffsets], d.fields[tagTileByteCounts]
	} else {
		bw = w
		bh = int(d.first(tagRowsPerStrip, uint(h)))
		if bh <= 0 || bh > h {
			bh = h
		}
		offsets, counts = d.fields[tagStripOffsets], d.fields[tagStripByteCounts]
	}
	if bw <= 0 || bh <= 0 {
		return nil, fmt.Errorf("tiff: bad block size %dx%d", bw, bh)
	}

	across := (w + bw - 1) / bw
	down := (h + bh - 1) / bh
	planes, chunk := 1, spp
	if d.first(tagPlanarConfig, 1) == planarSeparate {
		planes, chunk = spp, 1
	}
	if len(offsets) < across*down*planes || len(counts) < len(offsets) {
		return nil, fmt.Errorf("tiff: %d blocks listed, %d expected", len(offsets), across*down*planes)
	}

	bytesPer := int(bits / 8)
	rowBytes := bw * chunk * bytesPer
	out := newRawRaster(w, h, spp)

	for plane := 0; plane < planes; plane++ {
		for by := 0; by < down; by++ {
			for bx := 0; bx < across; bx++ {
				i := (plane*down+by)*across + bx
				block, err := readBlock(data, offsets[i], counts[i], compression)
				if err != nil {
					return nil, err
				}

				rows := bh
				if by*bh+rows > h {
					rows = h - by*bh
				}
				if len(block) < rows*rowBytes {
					return nil, fmt.Errorf("tiff: block %d holds %d bytes, %d expected", i, len(block), rows*rowBytes)
				}
				if predictor == predictorHorizontal {
					d.undoPredictor(block, rows, rowBytes, chunk, bytesPer)
				}

				for r := 0; r < rows; r++ {
					y := by*bh + r
					for c := 0; c < bw; c++ {
						x := bx*bw + c
						if x >= w {
							break
						}
						for s := 0; s < chunk; s++ {
							off := r*rowBytes + (c*chunk+s)*bytesPer
							var v float64
							switch {
							case bytesPer == 1 && signed:
								v = float64(int8(block[off]))
							case bytesPer == 1:
								v = float64(block[off])
							case signed:
								v = float64(int16(d.order.Uint16(block[off:])))
							default:
								v = float64(d.order.Uint16(block[off:]))
							}
							out.Samples[(y*w+x)*spp+plane+s] = v
						}
					}
				}
			}
		}
	}
	return out, nil
}

func (d *tiffIFD) undoPredictor(block []byte, rows, rowBytes, chunk, bytesPer int) {
	for r := 0; r < rows; r++ {
		row := block[r*rowBytes : (r+1)*rowBytes]
		if bytesPer == 1 {
			for k := chunk; k < len(row); k++ {
				row[k] += row[k-chunk]
			}
			continue
		}
		step := chunk * 2
		for k := step; k+1 < len(row); k += 2 {
			d.order.PutUint16(row[k:], d.order.Uint16(row[k:])+d.order.Uint16(row[k-step:]))
		}
	}
}
