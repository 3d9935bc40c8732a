package serialization

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// DType is the element type stored in a SafeTensors file.
type DType string

// Supported element types.
const (
	F32 DType = "F32"
	F16 DType = "F16"
)

// Size returns the size in bytes of one element.
func (d DType) Size() int {
	switch d {
	case F16:
		return 2
	default:
		return 4
	}
}

func parseDType(s string) (DType, error) {
	switch DType(s) {
	case F32, F16:
		return DType(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDType, s)
	}
}

// encode appends the little-endian encoding of data to buf.
func (d DType) encode(buf []byte, data []float32) []byte {
	switch d {
	case F16:
		for _, v := range data {
			buf = binary.LittleEndian.AppendUint16(buf, float16.Fromfloat32(v).Bits())
		}
	default:
		for _, v := range data {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
	}
	return buf
}

// decode converts little-endian bytes back into float32 values.
func (d DType) decode(raw []byte) []float32 {
	n := len(raw) / d.Size()
	out := make([]float32, n)
	switch d {
	case F16:
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[2*i:])).Float32()
		}
	default:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
		}
	}
	return out
}
