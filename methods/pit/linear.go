package pit

import (
	"fmt"

	"github.com/born-ml/flexnas/graph"
	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
)

// Linear is a fully connected layer with searchable output features.
type Linear[B tensor.Backend] struct {
	base[B]
	weight *nn.Parameter[B]
	bias   *nn.Parameter[B]
}

// NewLinear wraps a plain linear layer, sharing its parameters.
func NewLinear[B tensor.Backend](l *nn.Linear[B]) *Linear[B] {
	return &Linear[B]{
		base:   newBase(l.InFeatures(), l.OutFeatures(), l.Weight().Tensor().Backend()),
		weight: l.Weight(),
		bias:   l.Bias(),
	}
}

// Forward implements nn.Module.
func (l *Linear[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	return l.finish(nn.LinearForward(input, l.weight.Tensor(), biasOrNil(l.bias)))
}

// NamedChildren implements nn.Container.
func (l *Linear[B]) NamedChildren() []nn.NamedModule[B] { return l.children() }

// Parameters returns the weights and the masker parameters.
func (l *Linear[B]) Parameters() []*nn.Parameter[B] {
	own := []*nn.Parameter[B]{l.weight}
	if l.bias != nil {
		own = append(own, l.bias)
	}
	return l.childParameters(own)
}

// Size implements Layer.
func (l *Linear[B]) Size() *tensor.Tensor[B] {
	outF := l.outFeatures()
	size := l.inFeatures().Mul(outF)
	if l.bias != nil {
		size = size.Add(outF)
	}
	return l.addBNSize(size)
}

// MACs implements Layer.
func (l *Linear[B]) MACs() *tensor.Tensor[B] { return l.inFeatures().Mul(l.outFeatures()) }

// EstimateParams implements cost.Estimator.
func (l *Linear[B]) EstimateParams() int { return l.estimate(l.Size) }

// EstimateMACs implements cost.Estimator.
func (l *Linear[B]) EstimateMACs(tensor.Shape) int { return l.estimate(l.MACs) }

// Summary reports the searched hyperparameters.
func (l *Linear[B]) Summary() map[string]any {
	in, out := l.alive()
	return map[string]any{
		"in_features":  len(in),
		"out_features": len(out),
	}
}

// NamedNASParameters returns the masker parameters.
func (l *Linear[B]) NamedNASParameters(prefix string, _ bool) []nn.NamedParameter[B] {
	return l.nasParameters(prefix)
}

// Export implements Layer.
func (l *Linear[B]) Export(n *graph.Node, gm *graph.Module[B]) error {
	in, out := l.alive()
	w := selectIndex(selectIndex(l.weight.Tensor(), 0, out), 1, in)
	return l.replace(n, gm, nn.NewLinearFrom(w, selectBias(l.bias, out)), out)
}

func (l *Linear[B]) String() string {
	return fmt.Sprintf("pit.Linear(%d, %d, bn=%t)", l.inChannels, l.outChannels, l.bn != nil)
}
