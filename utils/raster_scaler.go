package utils

// NoDataByte marks pixels that receive no palette colour.
const NoDataByte = 0xFF

type ScaleParams struct {
	Offset float64
	Scale  float64
	Clip   float64
}

// IndexScaleParams maps [-1, 1] onto palette slots 0..254.
var IndexScaleParams = ScaleParams{Offset: 1, Scale: 127, Clip: 2}

// ScaleIndex converts index values into palette slots. Pixels with a zero
// valid flag, or a zero flag in eligible when it is given, become
// NoDataByte.
func ScaleIndex(values []float32, valid []uint8, eligible []uint8, params ScaleParams) []uint8 {
	out := make([]uint8, len(values))
	clip := float32(params.Clip)
	scale := float32(params.Scale)
	offset := float32(params.Offset)

	for i, value := range values {
		if valid[i] != 1 || (eligible != nil && eligible[i] != 1) || value != value {
			out[i] = NoDataByte
			continue
		}
		value += offset
		if value > clip {
			value = clip
		}
		if value < 0 {
			value = 0
		}
		b := value * scale
		if b > NoDataByte-1 {
			b = NoDataByte - 1
		}
		out[i] = uint8(b)
	}
	return out
}
