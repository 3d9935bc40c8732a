package supernet

import (
	"strconv"
	"strings"

	"github.com/born-ml/flexnas/features"
	"github.com/born-ml/flexnas/graph"
	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
	"github.com/born-ml/flexnas/naserr"
	"k8s.io/klog/v2"
)

// AddCombinerProperties marks combiner nodes as features-defining with
// shared input features: all branches must expose the same features.
func AddCombinerProperties[B tensor.Backend](gm *graph.Module[B]) {
	graph.WalkFromInputs(gm.Graph(), func(n *graph.Node) {
		if _, ok := graph.LayerAs[*Combiner[B]](gm, n); ok {
			meta := gm.Meta(n)
			meta.FeaturesDefining = true
			meta.SharedInputFeatures = true
			meta.FeaturesPropagating = false
		}
	})
}

// CombinerFeaturesCalc is a graph.CalculatorFunc for combiner nodes: their
// features mix the branch features with the combiner weights.
func CombinerFeaturesCalc[B tensor.Backend](n *graph.Node, gm *graph.Module[B]) features.Calculator[B] {
	c, ok := graph.LayerAs[*Combiner[B]](gm, n)
	if !ok {
		return nil
	}
	prevs := make([]features.Calculator[B], len(n.Args()))
	for i, a := range n.Args() {
		prevs[i] = gm.Meta(a).FeaturesCalculator
	}
	return features.NewSoftMax(c.Theta, prevs)
}

// parentName returns the qualified name of the SuperNet module owning the
// combiner called at target.
func parentName(target string) (string, error) {
	parent, name := nn.SplitName(target)
	if name != CombinerName {
		return "", naserr.Structuralf("combiner %q is not the %s of a SuperNet module", target, CombinerName)
	}
	return parent, nil
}

// branchesOf collects, for every branch of the SuperNet at parent, the call
// nodes of gm under the branch name.
func branchesOf[B tensor.Backend](gm *graph.Module[B], parent string, n int) []Branch[B] {
	branches := make([]Branch[B], n)
	for i := range branches {
		name := nn.JoinName(parent, nn.JoinName(InputLayersName, strconv.Itoa(i)))
		b := Branch[B]{Name: name, Shapes: make(map[string]tensor.Shape)}
		seen := make(map[string]bool)
		for _, node := range gm.Graph().Nodes() {
			if node.Kind != graph.KindCallModule || seen[node.Target] {
				continue
			}
			if node.Target != name && !strings.HasPrefix(node.Target, name+".") {
				continue
			}
			seen[node.Target] = true
			b.Layers = append(b.Layers, nn.NamedModule[B]{Name: node.Target, Module: gm.ModuleOf(node)})
			b.Shapes[node.Target] = gm.Meta(node).Shape
		}
		branches[i] = b
	}
	return branches
}

// ImportLayers binds every combiner to its branches, visiting the graph from
// the outputs, and returns the qualified names of the combiners. Each node is
// processed once even when branches share ancestors.
func ImportLayers[B tensor.Backend](gm *graph.Module[B]) ([]string, error) {
	var targets []string
	var err error
	graph.WalkFromOutputs(gm.Graph(), func(n *graph.Node) {
		c, ok := graph.LayerAs[*Combiner[B]](gm, n)
		if !ok || err != nil {
			return
		}
		var parent string
		if parent, err = parentName(n.Target); err != nil {
			return
		}
		if err = c.UpdateInputLayers(branchesOf(gm, parent, c.NumBranches())); err != nil {
			return
		}
		sizes, _ := c.ComputeLayersSizes()
		macs, _ := c.ComputeLayersMACs(nil)
		klog.V(2).Infof("supernet: %s bound, sizes %v, MACs %v", n.Target, sizes, macs)
		targets = append(targets, n.Target)
	})
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("supernet: imported %d combiners in %s", len(targets), gm.Name())
	return targets, nil
}

// ExportGraph replaces every combiner with its best branch, then removes the
// dead nodes and the modules they called. It returns the names of the kept
// branches.
func ExportGraph[B tensor.Backend](gm *graph.Module[B]) ([]string, error) {
	var nodes []*graph.Node
	graph.WalkFromOutputs(gm.Graph(), func(n *graph.Node) {
		if _, ok := graph.LayerAs[*Combiner[B]](gm, n); ok {
			nodes = append(nodes, n)
		}
	})

	var kept []string
	exported := make(map[string]bool)
	for _, n := range nodes {
		if n.Graph() == nil {
			continue
		}
		c, _ := graph.LayerAs[*Combiner[B]](gm, n)
		if c.branches == nil {
			parent, err := parentName(n.Target)
			if err != nil {
				return nil, err
			}
			if err := c.UpdateInputLayers(branchesOf(gm, parent, c.NumBranches())); err != nil {
				return nil, err
			}
		}
		name, err := c.Export(n, gm)
		if err != nil {
			return nil, err
		}
		if !exported[name] {
			exported[name] = true
			kept = append(kept, name)
		}
		klog.V(2).Infof("supernet: %s exported, keeping %s", n.Target, name)
	}
	gm.Graph().EliminateDeadCode()
	deleted := gm.DeleteAllUnusedSubmodules()
	gm.Recompile()
	klog.V(1).Infof("supernet: exported %d combiners in %s, %d submodules removed", len(nodes), gm.Name(), len(deleted))
	return kept, nil
}
