package utils

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeFloat32Base64 packs values as little endian IEEE 754 floats.
func EncodeFloat32Base64(values []float32) string {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func DecodeFloat32Base64(encoded string) ([]float32, error) {
	buf, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("float32 buffer length %d is not a multiple of 4", len(buf))
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out, nil
}

func EncodeMaskBase64(mask []uint8) string {
	return base64.StdEncoding.EncodeToString(mask)
}

func DecodeMaskBase64(encoded string) ([]uint8, error) {
	return base64.StdEncoding.DecodeString(encoded)
}
