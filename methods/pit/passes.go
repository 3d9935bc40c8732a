package pit

import (
	"github.com/born-ml/flexnas/features"
	"github.com/born-ml/flexnas/graph"
	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
	"github.com/born-ml/flexnas/methods"
	"github.com/born-ml/flexnas/naserr"
	"k8s.io/klog/v2"
)

// ConvertLayers applies a conversion to the layers called by gm and returns
// the qualified names of the PIT layers (none for export).
//
//   - AutoImport replaces Conv1d, ungrouped Conv2d and Linear layers not
//     excluded by ex with PIT layers, and collects the PIT layers already
//     present.
//   - Import only collects the PIT layers already present.
//   - Export replaces every PIT layer with pruned plain layers.
//
// Shapes must be propagated beforehand.
func ConvertLayers[B tensor.Backend](gm *graph.Module[B], conversion methods.ConversionType, ex methods.Exclusions) ([]string, error) {
	if err := conversion.Validate(); err != nil {
		return nil, err
	}
	if conversion == methods.Export {
		return nil, exportLayers(gm)
	}

	var targets []string
	seen := make(map[string]bool)
	for _, n := range gm.Graph().Nodes() {
		if n.Kind != graph.KindCallModule || seen[n.Target] {
			continue
		}
		seen[n.Target] = true
		mod := gm.ModuleOf(n)
		layer, ok := mod.(Layer[B])
		if !ok && conversion == methods.AutoImport && !ex.Excluded(n.Target, mod) {
			layer = autoImport(n, mod)
			if layer != nil {
				if err := gm.SetSubmodule(n.Target, layer); err != nil {
					return nil, err
				}
				ok = true
				klog.V(2).Infof("pit: %s: %T -> %v", n.Target, mod, layer)
			}
		}
		if ok {
			layer.SetOutputShape(gm.Meta(n).Shape)
			targets = append(targets, n.Target)
		}
	}
	klog.V(1).Infof("pit: %s collected %d layers in %s", conversion, len(targets), gm.Name())
	return targets, nil
}

func autoImport[B tensor.Backend](n *graph.Node, mod nn.Module[B]) Layer[B] {
	switch l := mod.(type) {
	case *nn.Conv1d[B]:
		if l.Groups() != 1 {
			klog.Warningf("pit: %s: grouped Conv1d (groups=%d) is not converted", n.Target, l.Groups())
			return nil
		}
		return NewConv1d(l)
	case *nn.Conv2d[B]:
		if l.Groups() != 1 {
			klog.Warningf("pit: %s: grouped Conv2d (groups=%d) is not converted", n.Target, l.Groups())
			return nil
		}
		return NewConv2d(l)
	case *nn.Linear[B]:
		return NewLinear(l)
	}
	return nil
}

func exportLayers[B tensor.Backend](gm *graph.Module[B]) error {
	count := 0
	for _, n := range gm.Graph().Nodes() {
		layer, ok := graph.LayerAs[Layer[B]](gm, n)
		if !ok {
			continue
		}
		klog.V(2).Infof("pit: exporting %s: %v", n.Target, layer.Summary())
		if err := layer.Export(n, gm); err != nil {
			return err
		}
		count++
	}
	klog.V(1).Infof("pit: exported %d layers in %s", count, gm.Name())
	return nil
}

// FuseConvBN lets every PIT layer whose only user is a BatchNorm over the
// same channels absorb it, so that the normalization is pruned with the
// layer.
func FuseConvBN[B tensor.Backend](gm *graph.Module[B]) error {
	g := gm.Graph()
	calls := make(map[string]int)
	for _, n := range g.Nodes() {
		if n.Kind == graph.KindCallModule {
			calls[n.Target]++
		}
	}
	for _, n := range g.Nodes() {
		layer, ok := graph.LayerAs[Layer[B]](gm, n)
		if !ok || calls[n.Target] != 1 {
			continue
		}
		users := n.Users()
		if len(users) != 1 {
			continue
		}
		bnNode := users[0]
		bn, ok := graph.LayerAs[*nn.BatchNorm[B]](gm, bnNode)
		if !ok || calls[bnNode.Target] != 1 {
			continue
		}
		if err := layer.FuseBatchNorm(bn); err != nil {
			klog.V(2).Infof("pit: %s not fused with %s: %v", n.Target, bnNode.Target, err)
			continue
		}
		g.ReplaceAllUsesWith(bnNode, n)
		if err := g.EraseNode(bnNode); err != nil {
			return err
		}
		// Re-register the layer so its new child is reachable by name.
		if err := gm.SetSubmodule(n.Target, layer); err != nil {
			return err
		}
		klog.V(2).Infof("pit: fused %s into %s", bnNode.Target, n.Target)
	}
	gm.Recompile()
	return nil
}

// FeaturesCalc is a graph.CalculatorFunc for PIT layers: their output
// features follow the output channel mask.
func FeaturesCalc[B tensor.Backend](n *graph.Node, gm *graph.Module[B]) features.Calculator[B] {
	if layer, ok := graph.LayerAs[Layer[B]](gm, n); ok {
		return layer.FeaturesCalculator()
	}
	return nil
}

// AssociateInputFeatures makes the PIT layers whose outputs meet at a
// shared-input node (a sum, a SuperNet combiner) share one output channel
// masker. Groups that also contain a non-PIT producer cannot change their
// channels, so their maskers are frozen keeping all channels.
func AssociateInputFeatures[B tensor.Backend](gm *graph.Module[B]) error {
	return naserr.Catch(func() {
		for _, group := range graph.SharedFeatureGroups(gm) {
			var layers []Layer[B]
			rigid := false
			for _, n := range group {
				if layer, ok := graph.LayerAs[Layer[B]](gm, n); ok {
					layers = append(layers, layer)
				} else {
					rigid = true
				}
			}
			if len(layers) == 0 {
				continue
			}
			shared := layers[0].OutChannelMasker()
			for _, l := range layers[1:] {
				l.SetOutChannelMasker(shared)
			}
			if rigid {
				freeze(shared)
			}
			klog.V(2).Infof("pit: %d producers share one channel masker (rigid=%t)", len(layers), rigid)
		}
	})
}

// RegisterInputFeatures gives every PIT layer the features calculator of
// its input, used to prune input channels and to compute costs.
func RegisterInputFeatures[B tensor.Backend](gm *graph.Module[B]) {
	for _, n := range gm.Graph().Nodes() {
		if layer, ok := graph.LayerAs[Layer[B]](gm, n); ok && len(n.Args()) > 0 {
			layer.SetInputFeatures(gm.Meta(n.Args()[0]).FeaturesCalculator)
		}
	}
}

// FreezeRigidProducers freezes, keeping all channels, the output masker of
// PIT layers whose features reach a consumer that cannot follow a change in
// channels: the graph output, a layer that is not a PIT layer, or a
// propagating layer with per-channel parameters (an unfused BatchNorm).
func FreezeRigidProducers[B tensor.Backend](gm *graph.Module[B]) {
	for _, n := range gm.Graph().Nodes() {
		layer, ok := graph.LayerAs[Layer[B]](gm, n)
		if !ok || !reachesRigid(gm, n) {
			continue
		}
		freeze(layer.OutChannelMasker())
		klog.V(2).Infof("pit: %s output channels frozen", n.Target)
	}
}

func reachesRigid[B tensor.Backend](gm *graph.Module[B], from *graph.Node) bool {
	queue := from.Users()
	visited := make(map[*graph.Node]bool)
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		if visited[u] {
			continue
		}
		visited[u] = true
		if u.Kind == graph.KindOutput {
			return true
		}
		if _, ok := graph.LayerAs[Layer[B]](gm, u); ok {
			continue
		}
		meta := gm.Meta(u)
		if meta.FeaturesPropagating && u.Kind == graph.KindCallModule && len(gm.ModuleOf(u).Parameters()) > 0 {
			return true
		}
		if meta.FeaturesPropagating || meta.FeaturesConcatenate || meta.SharedInputFeatures || graph.IsFlatten(gm, u) {
			queue = append(queue, u.Users()...)
			continue
		}
		return true
	}
	return false
}

func freeze[B tensor.Backend](m *ChannelMasker[B]) {
	m.KeepAll()
	m.SetTrainable(false)
}
