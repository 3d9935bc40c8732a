package graph

import (
	"github.com/born-ml/flexnas/internal/autodiff"
	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
	"github.com/born-ml/flexnas/naserr"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ShapePropBatch is the batch size of the example input used by ShapeProp.
const ShapePropBatch = 32

// ShapeProp runs gm on a batch of ShapePropBatch copies of one random sample
// per input shape (shapes exclude the batch dimension) and stores each
// node's output shape in its Meta. Gradient recording is paused.
func ShapeProp[B tensor.Backend](gm *Module[B], backend B, inputShapes ...tensor.Shape) error {
	defer autodiff.PauseRecording(backend)()

	if len(inputShapes) != gm.NumInputs() {
		return naserr.Structuralf("%s has %d input(s), got %d shape(s)", gm.Name(), gm.NumInputs(), len(inputShapes))
	}
	inputs := make([]*tensor.Tensor[B], len(inputShapes))
	for i, shape := range inputShapes {
		if err := shape.Validate(); err != nil {
			return naserr.Configurationf("invalid input shape %v: %v", shape, err)
		}
		inputs[i] = tensor.Stack(tensor.Rand(shape, backend), ShapePropBatch)
	}

	err := naserr.Catch(func() {
		gm.run(inputs, func(n *Node, out *tensor.Tensor[B]) {
			gm.Meta(n).Shape = out.Shape().Clone()
		})
	})
	if err != nil {
		return errors.WithMessagef(err, "shape propagation of %s failed", gm.Name())
	}
	klog.V(2).Infof("shape propagation of %s: output %v", gm.Name(), gm.Meta(gm.Graph().Output()).Shape)
	return nil
}

// BackendOf returns the backend of the first parameter of m.
func BackendOf[B tensor.Backend](m nn.Module[B]) (B, error) {
	params := m.Parameters()
	if len(params) == 0 {
		var zero B
		return zero, naserr.Structuralf("model %T has no parameters to infer the backend from", m)
	}
	return params[0].Tensor().Backend(), nil
}
