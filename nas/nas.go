// Package nas converts eager models into searchable graph modules and back.
//
// Convert with methods.AutoImport traces a model, replaces its Conv1d,
// Conv2d and Linear layers with PIT layers, binds SuperNet combiners to their
// branches and annotates the graph so that channel masks stay consistent
// across layers. The converted model is trained like any other module; the
// masker and combiner parameters are listed by the returned targets.
// Convert with methods.Export turns the trained model back into plain
// layers, keeping only the surviving channels, timesteps and branches.
package nas

import (
	"reflect"

	"github.com/born-ml/flexnas/graph"
	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
	"github.com/born-ml/flexnas/methods"
	"github.com/born-ml/flexnas/methods/pit"
	"github.com/born-ml/flexnas/methods/supernet"
	"github.com/born-ml/flexnas/naserr"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

// TargetLayer is a searchable layer of a converted model.
type TargetLayer[B tensor.Backend] struct {
	// Name is the qualified name of the layer.
	Name string
	// Layer is a pit.Layer or a *supernet.Combiner.
	Layer nn.Module[B]
}

type options struct {
	exclusions methods.Exclusions
}

// Option configures Convert.
type Option func(*options)

// ExcludeNames leaves the layers with the given qualified names untouched by
// autoimport.
func ExcludeNames(names ...string) Option {
	return func(o *options) { o.exclusions.Names = append(o.exclusions.Names, names...) }
}

// ExcludeTypes leaves the layers of the given dynamic types untouched by
// autoimport.
func ExcludeTypes(types ...reflect.Type) Option {
	return func(o *options) { o.exclusions.Types = append(o.exclusions.Types, types...) }
}

// IsLeaf is the tracer leaf predicate of Convert.
func IsLeaf[B tensor.Backend]() graph.LeafFunc {
	return graph.AnyLeaf(graph.StandardLeaf, pit.IsLayer[B], supernet.IsCombiner[B])
}

// Convert applies conversion to model, whose input shape (without the batch
// dimension) is inputShape. The model is switched to inference mode.
//
// Import and AutoImport return the searchable layers; Export returns none.
// On error no model is returned; the model passed in may have been switched
// to inference mode but is otherwise untouched.
func Convert[B tensor.Backend](model nn.Module[B], inputShape tensor.Shape, conversion methods.ConversionType, opts ...Option) (*graph.Module[B], []TargetLayer[B], error) {
	if err := conversion.Validate(); err != nil {
		return nil, nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	backend, err := graph.BackendOf(model)
	if err != nil {
		return nil, nil, err
	}
	nn.SetTraining(model, false)

	gm, err := graph.Trace(model, IsLeaf[B](), 1)
	if err != nil {
		return nil, nil, err
	}
	if err := graph.ShapeProp(gm, backend, inputShape); err != nil {
		return nil, nil, err
	}
	graph.AddNodeProperties(gm)
	supernet.AddCombinerProperties(gm)

	var targets []TargetLayer[B]
	err = naserr.Catch(func() {
		if conversion == methods.Export {
			must.M(exportGraph(gm, backend, o.exclusions))
			return
		}
		targets = must.M1(importGraph(gm, backend, conversion, o.exclusions))
	})
	if err != nil {
		return nil, nil, err
	}

	gm.Graph().EliminateDeadCode()
	removed := gm.DeleteAllUnusedSubmodules()
	if err := gm.Lint(); err != nil {
		return nil, nil, err
	}
	gm.Recompile()
	klog.V(1).Infof("nas: %s of %s done: %d target layers, %d submodules removed", conversion, gm.Name(), len(targets), len(removed))
	return gm, targets, nil
}

func importGraph[B tensor.Backend](gm *graph.Module[B], backend B, conversion methods.ConversionType, ex methods.Exclusions) ([]TargetLayer[B], error) {
	pitTargets, err := pit.ConvertLayers(gm, conversion, ex)
	if err != nil {
		return nil, err
	}
	if err := pit.FuseConvBN(gm); err != nil {
		return nil, err
	}
	graph.AddFeaturesCalculators(gm, backend, pit.FeaturesCalc[B], supernet.CombinerFeaturesCalc[B])
	if err := pit.AssociateInputFeatures(gm); err != nil {
		return nil, err
	}
	pit.RegisterInputFeatures(gm)
	pit.FreezeRigidProducers(gm)
	combiners, err := supernet.ImportLayers(gm)
	if err != nil {
		return nil, err
	}

	var targets []TargetLayer[B]
	for _, name := range append(pitTargets, combiners...) {
		m, _ := gm.Submodule(name)
		targets = append(targets, TargetLayer[B]{Name: name, Layer: m})
	}
	return targets, nil
}

func exportGraph[B tensor.Backend](gm *graph.Module[B], backend B, ex methods.Exclusions) error {
	kept, err := supernet.ExportGraph(gm)
	if err != nil {
		return err
	}
	klog.V(2).Infof("nas: kept branches %v", kept)
	graph.AddFeaturesCalculators(gm, backend, pit.FeaturesCalc[B])
	pit.RegisterInputFeatures(gm)
	_, err = pit.ConvertLayers(gm, methods.Export, ex)
	return err
}
