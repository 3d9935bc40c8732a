package quant

import (
	"fmt"

	"github.com/born-ml/flexnas/graph"
	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
	"github.com/born-ml/flexnas/naserr"
	"github.com/pkg/errors"
)

// DefaultBiasBits is the usual precision of integer bias accumulators.
const DefaultBiasBits = 32

// MinMaxBias quantizes a bias in the accumulator domain of its layer:
// s_b = s_a * s_w, read live from the input activation and weight
// quantizers.
type MinMaxBias[B tensor.Backend] struct {
	bits       int
	dequantize bool
	act        Quantizer[B]
	weight     Quantizer[B]
	scale      *tensor.Tensor[B]
}

// NewMinMaxBias creates a bias quantizer bound to its peers.
func NewMinMaxBias[B tensor.Backend](bits int, act, weight Quantizer[B]) *MinMaxBias[B] {
	checkBits(bits)
	return &MinMaxBias[B]{bits: bits, dequantize: true, act: act, weight: weight}
}

// ScaleFactor returns s_a * s_w, or ErrConfiguration when a peer scale is
// unset.
func (q *MinMaxBias[B]) ScaleFactor() (*tensor.Tensor[B], error) {
	sa, err := q.act.ScaleFactor()
	if err != nil {
		return nil, errors.WithMessagef(err, "bias scale needs the activation scale")
	}
	sw, err := q.weight.ScaleFactor()
	if err != nil {
		return nil, errors.WithMessagef(err, "bias scale needs the weight scale")
	}
	q.scale = sa.Mul(sw)
	return q.scale, nil
}

// Forward quantizes the bias. It panics with ErrConfiguration when the peer
// scales are not available.
func (q *MinMaxBias[B]) Forward(b *tensor.Tensor[B]) *tensor.Tensor[B] {
	s, err := q.ScaleFactor()
	if err != nil {
		naserr.Panic(err)
	}
	lo, hi := q.Range()
	return fakeQuantize(b, s, lo, hi, q.dequantize)
}

// Parameters returns nil.
func (q *MinMaxBias[B]) Parameters() []*nn.Parameter[B] { return nil }

// NumBits implements Quantizer.
func (q *MinMaxBias[B]) NumBits() int { return q.bits }

// Range implements Quantizer.
func (q *MinMaxBias[B]) Range() (lo, hi float32) { return -signedMax(q.bits) - 1, signedMax(q.bits) }

// SetDequantize implements Quantizer.
func (q *MinMaxBias[B]) SetDequantize(d bool) { q.dequantize = d }

// Dequantize implements Quantizer.
func (q *MinMaxBias[B]) Dequantize() bool { return q.dequantize }

// Summary implements Quantizer.
func (q *MinMaxBias[B]) Summary() map[string]any { return summary[B](q) }

// NamedQuantParameters implements Quantizer.
func (q *MinMaxBias[B]) NamedQuantParameters(string, bool) []nn.NamedParameter[B] { return nil }

// Dependencies returns the activation and weight quantizers.
func (q *MinMaxBias[B]) Dependencies() []Quantizer[B] { return []Quantizer[B]{q.act, q.weight} }

// Export is not supported for bias quantizers: biases are exported by the
// layer owning them.
func (q *MinMaxBias[B]) Export(*graph.Node, *graph.Module[B]) error {
	return naserr.Unimplementedf("export of %v", q)
}

func (q *MinMaxBias[B]) String() string { return fmt.Sprintf("MinMaxBias(bits=%d)", q.bits) }
