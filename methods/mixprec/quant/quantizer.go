// Package quant implements the fake quantizers of mixed-precision search.
//
// A quantizer maps a float tensor to round(x/s)*s, or to the integer codes
// round(x/s) when dequantization is disabled, with a straight-through
// gradient. Weight and activation quantizers derive their scale s from
// their own statistics; the bias quantizer uses the product of the scales of
// its peer quantizers and therefore depends on them.
package quant

import (
	"math"

	"github.com/born-ml/flexnas/internal/autodiff"
	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
	"github.com/born-ml/flexnas/naserr"
	"github.com/pkg/errors"
)

// Quantizer is a fake-quantization module.
type Quantizer[B tensor.Backend] interface {
	nn.Module[B]
	// ScaleFactor returns the current scale, or ErrConfiguration when it
	// cannot be computed yet.
	ScaleFactor() (*tensor.Tensor[B], error)
	NumBits() int
	// Range is the interval of the integer codes.
	Range() (lo, hi float32)
	SetDequantize(dequantize bool)
	Dequantize() bool
	// Summary contains at least "scale_factor".
	Summary() map[string]any
	NamedQuantParameters(prefix string, recurse bool) []nn.NamedParameter[B]
	// Dependencies are the quantizers whose scales this one is derived from.
	Dependencies() []Quantizer[B]
}

// IsQuantizer is a tracer leaf predicate accepting quantizers.
func IsQuantizer[B tensor.Backend](m any) bool {
	_, ok := m.(Quantizer[B])
	return ok
}

// signedMax is the largest code of a symmetric signed range: 2^(bits-1)-1.
func signedMax(bits int) float32 { return float32(int64(1)<<(bits-1) - 1) }

// unsignedMax is 2^bits-1.
func unsignedMax(bits int) float32 { return float32(int64(1)<<bits - 1) }

func maxAbs(data []float32) float32 {
	var m float32
	for _, v := range data {
		m = max(m, float32(math.Abs(float64(v))))
	}
	return m
}

// scaleFrom returns a constant scale tensor; a zero range gets scale 1 so
// that codes stay finite.
func scaleFrom[B tensor.Backend](rng, levels float32, backend B) *tensor.Tensor[B] {
	s := rng / levels
	if s == 0 {
		s = 1
	}
	return tensor.Scalar(s, backend)
}

// fakeQuantize returns clamp(round(x/s), lo, hi), times s when dequantize.
func fakeQuantize[B tensor.Backend](x, s *tensor.Tensor[B], lo, hi float32, dequantize bool) *tensor.Tensor[B] {
	codes := x.Div(s).RoundSTE().Clamp(lo, hi)
	if !dequantize {
		return codes
	}
	return codes.Mul(s)
}

func checkBits(bits int) {
	if bits < 2 || bits > 32 {
		naserr.Panic(naserr.Configurationf("quantizer precision must be in [2, 32] bits, got %d", bits))
	}
}

// summary builds the common summary fields.
func summary[B tensor.Backend](q Quantizer[B]) map[string]any {
	s := map[string]any{"num_bits": q.NumBits(), "scale_factor": nil}
	if sf, err := q.ScaleFactor(); err == nil {
		s["scale_factor"] = sf.Item()
	}
	return s
}

// Calibration pairs a quantizer with the input used to compute its scale.
// A nil Input leaves the current scale untouched.
type Calibration[B tensor.Backend] struct {
	Quantizer Quantizer[B]
	Input     *tensor.Tensor[B]
}

// ResolveScales computes all scales in two phases. Quantizers without
// dependencies are calibrated first by a forward pass over their input.
// Dependent quantizers are resolved second; a dependency whose scale is
// still unset at that point is a configuration error.
func ResolveScales[B tensor.Backend](entries []Calibration[B]) error {
	var dependent []Quantizer[B]
	for _, e := range entries {
		if len(e.Quantizer.Dependencies()) > 0 {
			dependent = append(dependent, e.Quantizer)
			continue
		}
		if e.Input != nil {
			if err := naserr.Catch(func() { calibrate(e.Quantizer, e.Input) }); err != nil {
				return err
			}
		}
	}
	for _, q := range dependent {
		for _, dep := range q.Dependencies() {
			if _, err := dep.ScaleFactor(); err != nil {
				return errors.WithMessagef(err, "%v depends on %v whose scale is unset", q, dep)
			}
		}
		if _, err := q.ScaleFactor(); err != nil {
			return err
		}
	}
	return nil
}

func calibrate[B tensor.Backend](q Quantizer[B], x *tensor.Tensor[B]) {
	defer autodiff.PauseRecording(x.Backend())()
	q.Forward(x)
}
