package mixprec

import (
	"github.com/born-ml/flexnas/graph"
	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
	"github.com/born-ml/flexnas/methods/mixprec/quant"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Quantize traces model and replaces its Linear, Conv1d and Conv2d layers
// not excluded by cfg with fake-quantized layers sharing their parameters.
// The model is switched to inference mode, then the quantizers are
// calibrated on a random batch of inputShape samples. It returns the converted model and the qualified names of its
// quantized layers.
func Quantize[B tensor.Backend](model nn.Module[B], inputShape tensor.Shape, cfg Config) (*graph.Module[B], []string, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	cfg = cfg.withDefaults()
	backend, err := graph.BackendOf(model)
	if err != nil {
		return nil, nil, err
	}
	nn.SetTraining(model, false)

	gm, err := graph.Trace(model, graph.AnyLeaf(graph.StandardLeaf, IsLayer[B]), 1)
	if err != nil {
		return nil, nil, err
	}

	var targets []string
	seen := make(map[string]bool)
	for _, n := range gm.Graph().Nodes() {
		if n.Kind != graph.KindCallModule || seen[n.Target] {
			continue
		}
		seen[n.Target] = true
		mod := gm.ModuleOf(n)
		if IsLayer[B](mod) {
			targets = append(targets, n.Target)
			continue
		}
		if cfg.Exclusions.Excluded(n.Target, mod) {
			continue
		}
		q := quantized(mod, cfg)
		if q == nil {
			continue
		}
		if err := gm.SetSubmodule(n.Target, q); err != nil {
			return nil, nil, err
		}
		klog.V(2).Infof("mixprec: %s: %T -> %v", n.Target, mod, q)
		targets = append(targets, n.Target)
	}
	gm.Recompile()

	if err := graph.ShapeProp(gm, backend, inputShape); err != nil {
		return nil, nil, err
	}
	if err := quant.ResolveScales(Calibrations(gm)); err != nil {
		return nil, nil, err
	}
	klog.V(1).Infof("mixprec: quantized %d layers of %s (%+v)", len(targets), gm.Name(), cfg)
	return gm, targets, nil
}

func quantized[B tensor.Backend](mod nn.Module[B], cfg Config) Layer[B] {
	switch l := mod.(type) {
	case *nn.Linear[B]:
		return NewQuantLinear(l, cfg)
	case *nn.Conv1d[B]:
		return NewQuantConv1d(l, cfg)
	case *nn.Conv2d[B]:
		return NewQuantConv2d(l, cfg)
	}
	return nil
}

// Calibrations lists the quantizers of every quantized layer called by gm,
// without calibration inputs, so that quant.ResolveScales checks that every
// scale can be computed.
func Calibrations[B tensor.Backend](gm *graph.Module[B]) []quant.Calibration[B] {
	var out []quant.Calibration[B]
	seen := make(map[string]bool)
	for _, n := range gm.Graph().Nodes() {
		layer, ok := graph.LayerAs[Layer[B]](gm, n)
		if !ok || seen[n.Target] {
			continue
		}
		seen[n.Target] = true
		for _, q := range layerQuantizers(layer) {
			out = append(out, quant.Calibration[B]{Quantizer: q})
		}
	}
	return out
}

func layerQuantizers[B tensor.Backend](l Layer[B]) []quant.Quantizer[B] {
	qs := []quant.Quantizer[B]{l.InputQuantizer(), l.WeightQuantizer()}
	if b := l.BiasQuantizer(); b != nil {
		qs = append(qs, b)
	}
	return qs
}

// CheckCalibrated returns ErrConfiguration if a quantizer of layer has no
// scale yet.
func CheckCalibrated[B tensor.Backend](layer Layer[B]) error {
	for _, q := range layerQuantizers(layer) {
		if _, err := q.ScaleFactor(); err != nil {
			return errors.WithMessagef(err, "%v is not calibrated", layer)
		}
	}
	return nil
}
