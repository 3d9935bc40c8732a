package mixprec

import (
	"fmt"

	"github.com/born-ml/flexnas/graph"
	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
)

// QuantLinear is a fake-quantized nn.Linear.
type QuantLinear[B tensor.Backend] struct {
	base[B]
	inFeatures, outFeatures int
}

// NewQuantLinear wraps l. The parameters are shared with l.
func NewQuantLinear[B tensor.Backend](l *nn.Linear[B], cfg Config) *QuantLinear[B] {
	return &QuantLinear[B]{
		base:        newBase(l.Weight(), l.Bias(), cfg, l.Weight().Tensor().Backend()),
		inFeatures:  l.InFeatures(),
		outFeatures: l.OutFeatures(),
	}
}

// Forward computes the linear layer over quantized operands.
func (l *QuantLinear[B]) Forward(x *tensor.Tensor[B]) *tensor.Tensor[B] {
	xq, wq, bq := l.quantize(x)
	return nn.LinearForward(xq, wq, bq)
}

// InFeatures returns the number of input features.
func (l *QuantLinear[B]) InFeatures() int { return l.inFeatures }

// OutFeatures returns the number of output features.
func (l *QuantLinear[B]) OutFeatures() int { return l.outFeatures }

// Summary implements Layer.
func (l *QuantLinear[B]) Summary() map[string]any {
	return l.summary(map[string]any{"in_features": l.inFeatures, "out_features": l.outFeatures})
}

// Export implements Layer.
func (l *QuantLinear[B]) Export(n *graph.Node, gm *graph.Module[B], factory IntegerFactory[B]) error {
	return export[B](l, n, gm, factory)
}

func (l *QuantLinear[B]) String() string {
	return fmt.Sprintf("QuantLinear(in_features=%d, out_features=%d, %s)", l.inFeatures, l.outFeatures, l.precision())
}
