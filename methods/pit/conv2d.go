package pit

import (
	"fmt"

	"github.com/born-ml/flexnas/graph"
	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
	"github.com/born-ml/flexnas/naserr"
)

// Conv2d is a 2D convolution with searchable output channels.
type Conv2d[B tensor.Backend] struct {
	base[B]
	cfg    nn.ConvConfig
	params tensor.ConvParams
	kernel int
	weight *nn.Parameter[B]
	bias   *nn.Parameter[B]
}

// NewConv2d wraps a plain ungrouped convolution, sharing its parameters.
func NewConv2d[B tensor.Backend](conv *nn.Conv2d[B]) *Conv2d[B] {
	if conv.Groups() != 1 {
		panic(naserr.Structuralf("pit.NewConv2d: grouped convolutions are not supported (groups=%d)", conv.Groups()))
	}
	return &Conv2d[B]{
		base:   newBase(conv.InChannels(), conv.OutChannels(), conv.Weight().Tensor().Backend()),
		cfg:    conv.Config(),
		params: conv.ConvParams(),
		kernel: conv.KernelSize(),
		weight: conv.Weight(),
		bias:   conv.Bias(),
	}
}

// Forward implements nn.Module.
func (c *Conv2d[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	return c.finish(nn.Conv2dForward(input, c.weight.Tensor(), biasOrNil(c.bias), c.params))
}

// NamedChildren implements nn.Container.
func (c *Conv2d[B]) NamedChildren() []nn.NamedModule[B] { return c.children() }

// Parameters returns the weights and the masker parameters.
func (c *Conv2d[B]) Parameters() []*nn.Parameter[B] {
	own := []*nn.Parameter[B]{c.weight}
	if c.bias != nil {
		own = append(own, c.bias)
	}
	return c.childParameters(own)
}

// Size implements Layer.
func (c *Conv2d[B]) Size() *tensor.Tensor[B] {
	outF := c.outFeatures()
	size := c.inFeatures().Mul(outF).MulScalar(float32(c.kernel * c.kernel))
	if c.bias != nil {
		size = size.Add(outF)
	}
	return c.addBNSize(size)
}

// MACs implements Layer.
func (c *Conv2d[B]) MACs() *tensor.Tensor[B] {
	return c.inFeatures().Mul(c.outFeatures()).MulScalar(float32(c.kernel * c.kernel * c.outSpatial))
}

// EstimateParams implements cost.Estimator.
func (c *Conv2d[B]) EstimateParams() int { return c.estimate(c.Size) }

// EstimateMACs implements cost.Estimator.
func (c *Conv2d[B]) EstimateMACs(outShape tensor.Shape) int {
	c.SetOutputShape(outShape)
	return c.estimate(c.MACs)
}

// Summary reports the searched hyperparameters.
func (c *Conv2d[B]) Summary() map[string]any {
	in, out := c.alive()
	return map[string]any{
		"in_channels":  len(in),
		"out_channels": len(out),
		"kernel_size":  c.kernel,
	}
}

// NamedNASParameters returns the masker parameters.
func (c *Conv2d[B]) NamedNASParameters(prefix string, _ bool) []nn.NamedParameter[B] {
	return c.nasParameters(prefix)
}

// Export implements Layer.
func (c *Conv2d[B]) Export(n *graph.Node, gm *graph.Module[B]) error {
	in, out := c.alive()
	w := selectIndex(selectIndex(c.weight.Tensor(), 0, out), 1, in)
	return c.replace(n, gm, nn.NewConv2dFrom(w, selectBias(c.bias, out), c.cfg), out)
}

func (c *Conv2d[B]) String() string {
	return fmt.Sprintf("pit.Conv2d(%d, %d, kernel_size=%d, bn=%t)", c.inChannels, c.outChannels, c.kernel, c.bn != nil)
}
