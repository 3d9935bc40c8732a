// Package supernet implements SuperNet search: a module holds alternative
// branches whose outputs a Combiner mixes with trainable weights, and the
// graph passes bind the combiners at import and keep only the best branch at
// export.
package supernet

import (
	"fmt"
	"strconv"

	"github.com/born-ml/flexnas/graph"
	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
)

const (
	// InputLayersName is the child holding the branches.
	InputLayersName = "sn_input_layers"
	// CombinerName is the child holding the combiner.
	CombinerName = "sn_combiner"
)

// Module is a choice between alternative branches with the same input and
// output shapes.
type Module[B tensor.Backend] struct {
	inputLayers *nn.ModuleList[B]
	combiner    *Combiner[B]
}

// NewModule creates a SuperNet module over branches.
func NewModule[B tensor.Backend](backend B, branches ...nn.Module[B]) *Module[B] {
	return &Module[B]{
		inputLayers: nn.NewModuleList(branches...),
		combiner:    NewCombiner(len(branches), backend),
	}
}

// Combiner returns the combiner.
func (m *Module[B]) Combiner() *Combiner[B] { return m.combiner }

// InputLayers returns the branches.
func (m *Module[B]) InputLayers() *nn.ModuleList[B] { return m.inputLayers }

// Forward runs every branch and mixes their outputs.
func (m *Module[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	outs := make([]*tensor.Tensor[B], m.inputLayers.Len())
	for i, b := range m.inputLayers.Modules() {
		outs[i] = b.Forward(input)
	}
	return m.combiner.ForwardMulti(outs...)
}

// Parameters returns the branch parameters followed by alpha.
func (m *Module[B]) Parameters() []*nn.Parameter[B] {
	return append(m.inputLayers.Parameters(), m.combiner.Parameters()...)
}

// NamedChildren implements nn.Container.
func (m *Module[B]) NamedChildren() []nn.NamedModule[B] {
	return []nn.NamedModule[B]{
		{Name: InputLayersName, Module: m.inputLayers},
		{Name: CombinerName, Module: m.combiner},
	}
}

// Trace implements graph.Traceable: every branch is traced on the input and
// the combiner is called on their outputs.
func (m *Module[B]) Trace(tr *graph.Tracer[B], inputs ...*graph.Node) *graph.Node {
	outs := make([]*graph.Node, m.inputLayers.Len())
	for i, b := range m.inputLayers.Modules() {
		outs[i] = tr.Call(b, nn.JoinName(InputLayersName, strconv.Itoa(i)), inputs...)
	}
	return tr.Call(m.combiner, CombinerName, outs...)
}

func (m *Module[B]) String() string {
	return fmt.Sprintf("SuperNet(%v)", m.inputLayers)
}
