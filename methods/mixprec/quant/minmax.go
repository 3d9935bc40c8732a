package quant

import (
	"fmt"

	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
	"github.com/born-ml/flexnas/naserr"
)

// MinMaxWeight is a symmetric weight quantizer with
// s = max|W| / (2^(bits-1)-1), recomputed on every forward.
type MinMaxWeight[B tensor.Backend] struct {
	bits       int
	dequantize bool
	scale      *tensor.Tensor[B]
}

// NewMinMaxWeight creates a weight quantizer.
func NewMinMaxWeight[B tensor.Backend](bits int) *MinMaxWeight[B] {
	checkBits(bits)
	return &MinMaxWeight[B]{bits: bits, dequantize: true}
}

// Forward quantizes w.
func (q *MinMaxWeight[B]) Forward(w *tensor.Tensor[B]) *tensor.Tensor[B] {
	q.scale = scaleFrom(maxAbs(w.Data()), signedMax(q.bits), w.Backend())
	lo, hi := q.Range()
	return fakeQuantize(w, q.scale, lo, hi, q.dequantize)
}

// Parameters returns nil: the scale is a statistic.
func (q *MinMaxWeight[B]) Parameters() []*nn.Parameter[B] { return nil }

// ScaleFactor implements Quantizer.
func (q *MinMaxWeight[B]) ScaleFactor() (*tensor.Tensor[B], error) {
	if q.scale == nil {
		return nil, naserr.Configurationf("%v: scale factor not computed yet", q)
	}
	return q.scale, nil
}

// NumBits implements Quantizer.
func (q *MinMaxWeight[B]) NumBits() int { return q.bits }

// Range implements Quantizer.
func (q *MinMaxWeight[B]) Range() (lo, hi float32) { return -signedMax(q.bits), signedMax(q.bits) }

// SetDequantize implements Quantizer.
func (q *MinMaxWeight[B]) SetDequantize(d bool) { q.dequantize = d }

// Dequantize implements Quantizer.
func (q *MinMaxWeight[B]) Dequantize() bool { return q.dequantize }

// Summary implements Quantizer.
func (q *MinMaxWeight[B]) Summary() map[string]any { return summary[B](q) }

// NamedQuantParameters implements Quantizer.
func (q *MinMaxWeight[B]) NamedQuantParameters(string, bool) []nn.NamedParameter[B] { return nil }

// Dependencies implements Quantizer.
func (q *MinMaxWeight[B]) Dependencies() []Quantizer[B] { return nil }

func (q *MinMaxWeight[B]) String() string { return fmt.Sprintf("MinMaxWeight(bits=%d)", q.bits) }

// MinMaxAct is a symmetric activation quantizer. The running max|x| is
// updated in training mode, and on any forward while no scale exists yet.
type MinMaxAct[B tensor.Backend] struct {
	bits       int
	dequantize bool
	training   bool
	runningMax float32
	scale      *tensor.Tensor[B]
}

// NewMinMaxAct creates an activation quantizer in training mode.
func NewMinMaxAct[B tensor.Backend](bits int) *MinMaxAct[B] {
	checkBits(bits)
	return &MinMaxAct[B]{bits: bits, dequantize: true, training: true}
}

// Forward quantizes x, clamping codes to the signed range.
func (q *MinMaxAct[B]) Forward(x *tensor.Tensor[B]) *tensor.Tensor[B] {
	if q.training || q.scale == nil {
		q.runningMax = max(q.runningMax, maxAbs(x.Data()))
		q.scale = scaleFrom(q.runningMax, signedMax(q.bits), x.Backend())
	}
	lo, hi := q.Range()
	return fakeQuantize(x, q.scale, lo, hi, q.dequantize)
}

// SetTraining implements nn.TrainingMode.
func (q *MinMaxAct[B]) SetTraining(training bool) { q.training = training }

// Parameters returns nil.
func (q *MinMaxAct[B]) Parameters() []*nn.Parameter[B] { return nil }

// ScaleFactor implements Quantizer.
func (q *MinMaxAct[B]) ScaleFactor() (*tensor.Tensor[B], error) {
	if q.scale == nil {
		return nil, naserr.Configurationf("%v: scale factor not calibrated yet", q)
	}
	return q.scale, nil
}

// NumBits implements Quantizer.
func (q *MinMaxAct[B]) NumBits() int { return q.bits }

// Range implements Quantizer.
func (q *MinMaxAct[B]) Range() (lo, hi float32) { return -signedMax(q.bits) - 1, signedMax(q.bits) }

// SetDequantize implements Quantizer.
func (q *MinMaxAct[B]) SetDequantize(d bool) { q.dequantize = d }

// Dequantize implements Quantizer.
func (q *MinMaxAct[B]) Dequantize() bool { return q.dequantize }

// Summary implements Quantizer.
func (q *MinMaxAct[B]) Summary() map[string]any { return summary[B](q) }

// NamedQuantParameters implements Quantizer.
func (q *MinMaxAct[B]) NamedQuantParameters(string, bool) []nn.NamedParameter[B] { return nil }

// Dependencies implements Quantizer.
func (q *MinMaxAct[B]) Dependencies() []Quantizer[B] { return nil }

func (q *MinMaxAct[B]) String() string { return fmt.Sprintf("MinMaxAct(bits=%d)", q.bits) }
