package graph

import (
	"github.com/born-ml/flexnas/features"
	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
	"k8s.io/klog/v2"
)

// AddNodeProperties sets the features flags of every node from the module
// roles and function kinds. Shapes must already be propagated.
func AddNodeProperties[B tensor.Backend](gm *Module[B]) {
	for _, n := range gm.graph.nodes {
		meta := gm.Meta(n)
		meta.FeaturesDefining = false
		meta.FeaturesPropagating = false
		meta.FeaturesConcatenate = false
		meta.SharedInputFeatures = false

		switch n.Kind {
		case KindInput:
			meta.FeaturesDefining = true
		case KindOutput:
			meta.FeaturesPropagating = true
		case KindCallModule:
			mod := gm.ModuleOf(n)
			if _, ok := mod.(*nn.Flatten[B]); ok {
				break
			}
			switch nn.RoleOf(mod) {
			case nn.RolePropagating:
				meta.FeaturesPropagating = true
			case nn.RoleCombining:
				meta.FeaturesDefining = true
				meta.SharedInputFeatures = true
			default:
				meta.FeaturesDefining = true
			}
		case KindCallFunction:
			switch n.Func {
			case FuncAdd, FuncMul:
				meta.FeaturesPropagating = true
				meta.SharedInputFeatures = true
			case FuncCat:
				if n.Dim == 1 {
					meta.FeaturesConcatenate = true
				} else {
					meta.FeaturesPropagating = true
					meta.SharedInputFeatures = true
				}
			case FuncReLU, FuncReLU6:
				meta.FeaturesPropagating = true
			}
		}
	}
}

// IsFlatten reports whether n flattens its input, as a function or a module.
func IsFlatten[B tensor.Backend](gm *Module[B], n *Node) bool {
	if n.Kind == KindCallFunction {
		return n.Func == FuncFlatten
	}
	_, ok := LayerAs[*nn.Flatten[B]](gm, n)
	return ok
}

// CalculatorFunc returns a features calculator for nodes it recognizes, or
// nil to fall back to the generic rules.
type CalculatorFunc[B tensor.Backend] func(n *Node, gm *Module[B]) features.Calculator[B]

// AddFeaturesCalculators attaches a features calculator to every node, in
// topological order from the inputs. The extra functions are tried first.
func AddFeaturesCalculators[B tensor.Backend](gm *Module[B], backend B, extra ...CalculatorFunc[B]) {
	for _, n := range gm.graph.nodes {
		meta := gm.Meta(n)
		meta.FeaturesCalculator = nil
		for _, fn := range extra {
			if calc := fn(n, gm); calc != nil {
				meta.FeaturesCalculator = calc
				break
			}
		}
		if meta.FeaturesCalculator != nil {
			continue
		}
		meta.FeaturesCalculator = genericCalculator(gm, n, meta, backend)
	}
	klog.V(2).Infof("features calculators attached to %d nodes of %s", gm.graph.Len(), gm.Name())
}

func genericCalculator[B tensor.Backend](gm *Module[B], n *Node, meta *Meta[B], backend B) features.Calculator[B] {
	switch {
	case IsFlatten(gm, n):
		in := gm.Meta(n.args[0])
		return features.NewFlatten(in.FeaturesCalculator, in.Shape[2:].NumElements())
	case meta.FeaturesConcatenate:
		prevs := make([]features.Calculator[B], len(n.args))
		for i, a := range n.args {
			prevs[i] = gm.Meta(a).FeaturesCalculator
		}
		return features.NewConcat(prevs)
	case meta.FeaturesPropagating && len(n.args) > 0:
		return gm.Meta(n.args[0]).FeaturesCalculator
	default:
		return features.NewConst(meta.Features(), backend)
	}
}

// FeaturesDefiner returns the node that defines the features flowing out of
// n: n itself for defining, flattening and concatenating nodes, otherwise the
// definer of its first input.
func FeaturesDefiner[B tensor.Backend](gm *Module[B], n *Node) *Node {
	for {
		meta := gm.Meta(n)
		if !meta.FeaturesPropagating || len(n.args) == 0 || IsFlatten(gm, n) {
			return n
		}
		n = n.args[0]
	}
}

// SharedFeatureGroups returns the sets of features-defining nodes whose
// outputs meet at a shared-input node (directly or through propagating
// nodes) and therefore must keep the same features. Groups are returned in
// graph order and only groups with at least two members are reported.
func SharedFeatureGroups[B tensor.Backend](gm *Module[B]) [][]*Node {
	parent := make(map[*Node]*Node)
	var find func(*Node) *Node
	find = func(n *Node) *Node {
		p, ok := parent[n]
		if !ok || p == n {
			parent[n] = n
			return n
		}
		root := find(p)
		parent[n] = root
		return root
	}
	union := func(a, b *Node) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	for _, n := range gm.graph.nodes {
		if !gm.Meta(n).SharedInputFeatures || len(n.args) < 2 {
			continue
		}
		first := FeaturesDefiner(gm, n.args[0])
		for _, a := range n.args[1:] {
			union(first, FeaturesDefiner(gm, a))
		}
	}

	members := make(map[*Node][]*Node)
	var roots []*Node
	for _, n := range gm.graph.nodes {
		if _, ok := parent[n]; !ok {
			continue
		}
		r := find(n)
		if _, seen := members[r]; !seen {
			roots = append(roots, r)
		}
		members[r] = append(members[r], n)
	}
	var groups [][]*Node
	for _, r := range roots {
		if len(members[r]) > 1 {
			groups = append(groups, members[r])
		}
	}
	return groups
}
