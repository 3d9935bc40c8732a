// Package backends converts fake-quantized models into the integer layers
// of a deployment backend.
package backends

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/born-ml/flexnas/graph"
	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
	"github.com/born-ml/flexnas/methods/mixprec"
	"github.com/born-ml/flexnas/methods/mixprec/backends/dory"
	"github.com/born-ml/flexnas/methods/mixprec/quant"
	"github.com/born-ml/flexnas/naserr"
	"k8s.io/klog/v2"
)

// Backend is a deployment target.
type Backend int

const (
	ONNX Backend = iota
	DORY
	DIANA
)

var backendNames = []string{"ONNX", "DORY", "DIANA"}

// String implements fmt.Stringer.
func (b Backend) String() string {
	if b < 0 || int(b) >= len(backendNames) {
		return fmt.Sprintf("Backend(%d)", int(b))
	}
	return backendNames[b]
}

// ParseBackend parses a backend name, ignoring case.
func ParseBackend(s string) (Backend, error) {
	for i, name := range backendNames {
		if strings.EqualFold(s, name) {
			return Backend(i), nil
		}
	}
	return 0, naserr.Configurationf("unsupported backend %q (known: %s)", s, strings.Join(backendNames, ", "))
}

// LayerMap maps quantized layer types to their integer factories.
type LayerMap[B tensor.Backend] map[reflect.Type]mixprec.IntegerFactory[B]

// Types returns the keys of m.
func (m LayerMap[B]) Types() []reflect.Type {
	types := make([]reflect.Type, 0, len(m))
	for t := range m {
		types = append(types, t)
	}
	return types
}

// Layers returns the layer table of backend.
func Layers[B tensor.Backend](backend Backend) (LayerMap[B], error) {
	switch backend {
	case DORY:
		return dory.Layers[B](), nil
	case ONNX, DIANA:
		return nil, naserr.Configurationf("backend %s has no integer layer table", backend)
	default:
		return nil, naserr.Configurationf("unsupported backend %v", backend)
	}
}

// IntegerizeArch replaces every quantized layer of model with the integer
// layer backend provides for it. The quantizers must be calibrated. The
// model is switched to inference mode.
func IntegerizeArch[B tensor.Backend](model nn.Module[B], backend Backend) (*graph.Module[B], error) {
	layers, err := Layers[B](backend)
	if err != nil {
		return nil, err
	}
	nn.SetTraining(model, false)
	leaf := graph.AnyLeaf(graph.LeafTypes(layers.Types()...), quant.IsQuantizer[B], mixprec.IsLayer[B], graph.StandardLeaf)
	gm, err := graph.Trace(model, leaf, 1)
	if err != nil {
		return nil, err
	}

	done := make(map[string]bool)
	for _, n := range gm.Graph().Nodes() {
		layer, ok := graph.LayerAs[mixprec.Layer[B]](gm, n)
		if !ok || done[n.Target] {
			continue
		}
		done[n.Target] = true
		factory, ok := layers[reflect.TypeOf(layer)]
		if !ok {
			return nil, naserr.Configurationf("layer of type %s is not supported by %s backend", layerTypeName(layer), backend)
		}
		if err := layer.Export(n, gm, factory); err != nil {
			return nil, err
		}
		klog.V(2).Infof("backends: %s: %v -> %v", n.Target, layer, gm.ModuleOf(n))
	}

	gm.Graph().EliminateDeadCode()
	gm.DeleteAllUnusedSubmodules()
	if err := gm.Lint(); err != nil {
		return nil, err
	}
	gm.Recompile()
	klog.V(1).Infof("backends: integerized %d layers of %s for %s", len(done), gm.Name(), backend)
	return gm, nil
}

// layerTypeName returns "pkg.Type" without type arguments.
func layerTypeName(m any) string {
	t := reflect.TypeOf(m)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name, _, _ := strings.Cut(t.Name(), "[")
	pkg := t.PkgPath()
	if i := strings.LastIndexByte(pkg, '/'); i >= 0 {
		pkg = pkg[i+1:]
	}
	return pkg + "." + name
}
