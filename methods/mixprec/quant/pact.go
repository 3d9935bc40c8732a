package quant

import (
	"fmt"

	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
)

// DefaultPACTClip is the initial clipping value of PACTAct.
const DefaultPACTClip = 6

// PACTAct is an unsigned activation quantizer with a trainable clipping
// value alpha: x is clipped to [0, alpha] and s = alpha / (2^bits-1).
// The clip is written as (|x| - |x-alpha| + alpha) / 2 so that alpha gets a
// gradient.
type PACTAct[B tensor.Backend] struct {
	bits       int
	dequantize bool
	alpha      *nn.Parameter[B]
}

// NewPACTAct creates a PACT quantizer with alpha = DefaultPACTClip.
func NewPACTAct[B tensor.Backend](bits int, backend B) *PACTAct[B] {
	checkBits(bits)
	return &PACTAct[B]{
		bits:       bits,
		dequantize: true,
		alpha:      nn.NewParameter("alpha", tensor.Scalar(DefaultPACTClip, backend)),
	}
}

// Forward clips and quantizes x.
func (q *PACTAct[B]) Forward(x *tensor.Tensor[B]) *tensor.Tensor[B] {
	alpha := q.alpha.Tensor()
	clipped := x.Abs().Sub(x.Sub(alpha).Abs()).Add(alpha).MulScalar(0.5)
	s := alpha.MulScalar(1 / unsignedMax(q.bits))
	return fakeQuantize(clipped, s, 0, unsignedMax(q.bits), q.dequantize)
}

// Alpha returns the clipping parameter.
func (q *PACTAct[B]) Alpha() *nn.Parameter[B] { return q.alpha }

// Parameters returns alpha.
func (q *PACTAct[B]) Parameters() []*nn.Parameter[B] { return []*nn.Parameter[B]{q.alpha} }

// ScaleFactor implements Quantizer. It is always defined.
func (q *PACTAct[B]) ScaleFactor() (*tensor.Tensor[B], error) {
	return q.alpha.Tensor().Detach().MulScalar(1 / unsignedMax(q.bits)), nil
}

// NumBits implements Quantizer.
func (q *PACTAct[B]) NumBits() int { return q.bits }

// Range implements Quantizer.
func (q *PACTAct[B]) Range() (lo, hi float32) { return 0, unsignedMax(q.bits) }

// SetDequantize implements Quantizer.
func (q *PACTAct[B]) SetDequantize(d bool) { q.dequantize = d }

// Dequantize implements Quantizer.
func (q *PACTAct[B]) Dequantize() bool { return q.dequantize }

// Summary implements Quantizer.
func (q *PACTAct[B]) Summary() map[string]any {
	s := summary[B](q)
	s["clip_value"] = q.alpha.Tensor().Item()
	return s
}

// NamedQuantParameters implements Quantizer.
func (q *PACTAct[B]) NamedQuantParameters(prefix string, _ bool) []nn.NamedParameter[B] {
	return []nn.NamedParameter[B]{{Name: nn.JoinName(prefix, "alpha"), Parameter: q.alpha}}
}

// Dependencies implements Quantizer.
func (q *PACTAct[B]) Dependencies() []Quantizer[B] { return nil }

func (q *PACTAct[B]) String() string { return fmt.Sprintf("PACTAct(bits=%d)", q.bits) }
