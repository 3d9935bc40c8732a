package supernet

import (
	"fmt"

	"github.com/born-ml/flexnas/cost"
	"github.com/born-ml/flexnas/graph"
	"github.com/born-ml/flexnas/internal/autodiff"
	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
	"github.com/born-ml/flexnas/naserr"
)

// Branch is one alternative of a SuperNet as seen in a traced graph: the
// layers called under its qualified name and their output shapes.
type Branch[B tensor.Backend] struct {
	Name   string
	Layers []nn.NamedModule[B]
	Shapes map[string]tensor.Shape
}

// Combiner mixes the outputs of the alternative branches of a SuperNet with
// the softmax of a trainable weight vector alpha.
type Combiner[B tensor.Backend] struct {
	numBranches int
	alpha       *nn.Parameter[B]
	backend     B

	branches []Branch[B]
	sizes    []int
	macs     []int
}

// NewCombiner creates a combiner over n branches with uniform weights.
func NewCombiner[B tensor.Backend](n int, backend B) *Combiner[B] {
	if n < 1 {
		panic(fmt.Sprintf("supernet.NewCombiner: need at least one branch, got %d", n))
	}
	return &Combiner[B]{
		numBranches: n,
		alpha:       nn.NewParameter("alpha", tensor.Full(tensor.Shape{n}, 1/float32(n), backend)),
		backend:     backend,
	}
}

// NumBranches returns the number of alternatives.
func (c *Combiner[B]) NumBranches() int { return c.numBranches }

// Alpha returns the selection weights.
func (c *Combiner[B]) Alpha() *nn.Parameter[B] { return c.alpha }

// Theta returns softmax(alpha), which sums to one.
func (c *Combiner[B]) Theta() *tensor.Tensor[B] { return c.alpha.Tensor().Softmax(0) }

// Forward implements nn.Module for single-branch combiners.
func (c *Combiner[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	return c.ForwardMulti(input)
}

// ForwardMulti returns sum_i theta_i * inputs[i]. All inputs must share one
// shape.
func (c *Combiner[B]) ForwardMulti(inputs ...*tensor.Tensor[B]) *tensor.Tensor[B] {
	if len(inputs) != c.numBranches {
		panic(fmt.Sprintf("supernet.Combiner: expected %d inputs, got %d", c.numBranches, len(inputs)))
	}
	shape := inputs[0].Shape()
	rows := make([]*tensor.Tensor[B], len(inputs))
	for i, in := range inputs {
		if !in.Shape().Equal(shape) {
			panic(fmt.Sprintf("supernet.Combiner: branch %d output shape %v differs from %v", i, in.Shape(), shape))
		}
		rows[i] = in.Reshape(1, shape.NumElements())
	}
	mixed := c.Theta().Reshape(1, c.numBranches).MatMul(tensor.Cat(rows, 0))
	return mixed.Reshape(shape...)
}

// Parameters returns alpha.
func (c *Combiner[B]) Parameters() []*nn.Parameter[B] { return []*nn.Parameter[B]{c.alpha} }

// FeaturesRole implements nn.RoleReporter.
func (c *Combiner[B]) FeaturesRole() nn.FeaturesRole { return nn.RoleCombining }

// UpdateInputLayers binds the branches, in input order.
func (c *Combiner[B]) UpdateInputLayers(branches []Branch[B]) error {
	if len(branches) != c.numBranches {
		return naserr.Structuralf("combiner has %d branches, got %d", c.numBranches, len(branches))
	}
	c.branches = branches
	c.sizes, c.macs = nil, nil
	return nil
}

// Branches returns the bound branches.
func (c *Combiner[B]) Branches() []Branch[B] { return c.branches }

func (c *Combiner[B]) checkBound(op string) error {
	if c.branches == nil {
		return naserr.Structuralf("supernet.Combiner.%s called before UpdateInputLayers", op)
	}
	return nil
}

// ComputeLayersSizes returns the parameters of every branch.
func (c *Combiner[B]) ComputeLayersSizes() ([]int, error) {
	if err := c.checkBound("ComputeLayersSizes"); err != nil {
		return nil, err
	}
	if c.sizes == nil {
		c.sizes = make([]int, c.numBranches)
		for i, b := range c.branches {
			for _, l := range b.Layers {
				c.sizes[i] += cost.Params(l.Module)
			}
		}
	}
	return c.sizes, nil
}

// ComputeLayersMACs returns the MACs of every branch. outShapes overrides the
// shapes recorded in the branches; it may be nil.
func (c *Combiner[B]) ComputeLayersMACs(outShapes map[string]tensor.Shape) ([]int, error) {
	if err := c.checkBound("ComputeLayersMACs"); err != nil {
		return nil, err
	}
	if c.macs == nil || outShapes != nil {
		c.macs = make([]int, c.numBranches)
		for i, b := range c.branches {
			for _, l := range b.Layers {
				shape, ok := outShapes[l.Name]
				if !ok {
					shape, ok = b.Shapes[l.Name]
				}
				if ok {
					c.macs[i] += cost.MACs(l.Module, shape)
				}
			}
		}
	}
	return c.macs, nil
}

// BestLayerIndex returns the index of the largest normalized weight, the
// first one on ties.
func (c *Combiner[B]) BestLayerIndex() int {
	defer autodiff.PauseRecording(c.backend)()
	theta := c.Theta().Data()
	best := 0
	for i, v := range theta {
		if v > theta[best] {
			best = i
		}
	}
	return best
}

// SizeRegularizer returns sum_i theta_i * size_i. Branch layers that report
// a differentiable Size (PIT layers) contribute it, so gradients reach both
// alpha and their masks.
func (c *Combiner[B]) SizeRegularizer() (*tensor.Tensor[B], error) {
	if err := c.checkBound("SizeRegularizer"); err != nil {
		return nil, err
	}
	sizes := make([]*tensor.Tensor[B], c.numBranches)
	for i, b := range c.branches {
		total := tensor.Zeros(tensor.Shape{1}, c.backend)
		for _, l := range b.Layers {
			if s, ok := l.Module.(interface{ Size() *tensor.Tensor[B] }); ok {
				total = total.Add(s.Size())
			} else {
				total = total.AddScalar(float32(cost.Params(l.Module)))
			}
		}
		sizes[i] = total
	}
	return c.Theta().Mul(tensor.Cat(sizes, 0)).Sum(), nil
}

// Export rewires the graph so that the users of the combiner node n read the
// best branch output directly, and erases n. The losing branches are left
// for dead code elimination. It returns the qualified name of the winning
// branch.
func (c *Combiner[B]) Export(n *graph.Node, gm *graph.Module[B]) (string, error) {
	if err := c.checkBound("Export"); err != nil {
		return "", err
	}
	args := n.Args()
	if len(args) != c.numBranches {
		return "", naserr.Structuralf("combiner node %s has %d inputs, want %d", n.Name, len(args), c.numBranches)
	}
	best := c.BestLayerIndex()
	g := gm.Graph()
	g.ReplaceAllUsesWith(n, args[best])
	n.SetArgs()
	if err := g.EraseNode(n); err != nil {
		return "", err
	}
	return c.branches[best].Name, nil
}

// Summary reports the selection weights and the chosen branch.
func (c *Combiner[B]) Summary() map[string]any {
	defer autodiff.PauseRecording(c.backend)()
	s := map[string]any{
		"alpha":            append([]float32(nil), c.alpha.Tensor().Data()...),
		"theta":            append([]float32(nil), c.Theta().Data()...),
		"best_layer_index": c.BestLayerIndex(),
	}
	if c.branches != nil {
		s["best_layer"] = c.branches[c.BestLayerIndex()].Name
		sizes, _ := c.ComputeLayersSizes()
		s["layers_sizes"] = sizes
	}
	return s
}

// NamedNASParameters returns alpha.
func (c *Combiner[B]) NamedNASParameters(prefix string, _ bool) []nn.NamedParameter[B] {
	return []nn.NamedParameter[B]{{Name: nn.JoinName(prefix, "alpha"), Parameter: c.alpha}}
}

func (c *Combiner[B]) String() string {
	return fmt.Sprintf("Combiner(branches=%d)", c.numBranches)
}

// IsCombiner is a tracer leaf predicate accepting combiners.
func IsCombiner[B tensor.Backend](m any) bool {
	_, ok := m.(*Combiner[B])
	return ok
}
