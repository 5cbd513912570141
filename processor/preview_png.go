package processor

import (
	"bytes"
	"image"
	"image/png"

	"github.com/nci/vegindex/geometry"
	"github.com/nci/vegindex/utils"
)

// EncodePreviewPNG renders grid as a false colour PNG. Invalid pixels and
// pixels outside the AOI are left fully transparent.
func EncodePreviewPNG(grid *IndexGrid, aoi *geometry.AoiMask, palette *utils.Palette) ([]byte, error) {
	ramp, err := GradientRGBAPalette(palette)
	if err != nil {
		return nil, err
	}

	var eligible []uint8
	if aoi != nil {
		eligible = aoi.Mask
	}
	slots := utils.ScaleIndex(grid.Values, grid.ValidMask, eligible, utils.IndexScaleParams)

	canvas := image.NewNRGBA(image.Rect(0, 0, grid.Width, grid.Height))
	for i, slot := range slots {
		if slot == utils.NoDataByte {
			continue
		}
		c := ramp[slot]
		p := i * 4
		canvas.Pix[p] = c.R
		canvas.Pix[p+1] = c.G
		canvas.Pix[p+2] = c.B
		canvas.Pix[p+3] = 0xff
	}

	buf := new(bytes.Buffer)
	if err := png.Encode(buf, canvas); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
