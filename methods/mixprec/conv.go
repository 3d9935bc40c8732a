package mixprec

import (
	"fmt"

	"github.com/born-ml/flexnas/graph"
	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
)

// QuantConv1d is a fake-quantized nn.Conv1d.
type QuantConv1d[B tensor.Backend] struct {
	base[B]
	inChannels, outChannels, kernelSize int
	params                              tensor.ConvParams
}

// NewQuantConv1d wraps conv. The parameters are shared with conv.
func NewQuantConv1d[B tensor.Backend](conv *nn.Conv1d[B], cfg Config) *QuantConv1d[B] {
	return &QuantConv1d[B]{
		base:        newBase(conv.Weight(), conv.Bias(), cfg, conv.Weight().Tensor().Backend()),
		inChannels:  conv.InChannels(),
		outChannels: conv.OutChannels(),
		kernelSize:  conv.KernelSize(),
		params:      conv.ConvParams(),
	}
}

// Forward convolves quantized operands.
func (c *QuantConv1d[B]) Forward(x *tensor.Tensor[B]) *tensor.Tensor[B] {
	xq, wq, bq := c.quantize(x)
	return nn.Conv1dForward(xq, wq, bq, c.params)
}

// ConvParams returns the convolution parameters.
func (c *QuantConv1d[B]) ConvParams() tensor.ConvParams { return c.params }

// Summary implements Layer.
func (c *QuantConv1d[B]) Summary() map[string]any {
	return c.summary(map[string]any{
		"in_channels":  c.inChannels,
		"out_channels": c.outChannels,
		"kernel_size":  c.kernelSize,
	})
}

// Export implements Layer.
func (c *QuantConv1d[B]) Export(n *graph.Node, gm *graph.Module[B], factory IntegerFactory[B]) error {
	return export[B](c, n, gm, factory)
}

func (c *QuantConv1d[B]) String() string {
	return fmt.Sprintf("QuantConv1d(%d, %d, kernel_size=%d, %s)", c.inChannels, c.outChannels, c.kernelSize, c.precision())
}

// QuantConv2d is a fake-quantized nn.Conv2d.
type QuantConv2d[B tensor.Backend] struct {
	base[B]
	inChannels, outChannels, kernelSize int
	cfg                                 nn.ConvConfig
	params                              tensor.ConvParams
}

// NewQuantConv2d wraps conv. The parameters are shared with conv.
func NewQuantConv2d[B tensor.Backend](conv *nn.Conv2d[B], cfg Config) *QuantConv2d[B] {
	return &QuantConv2d[B]{
		base:        newBase(conv.Weight(), conv.Bias(), cfg, conv.Weight().Tensor().Backend()),
		inChannels:  conv.InChannels(),
		outChannels: conv.OutChannels(),
		kernelSize:  conv.KernelSize(),
		cfg:         conv.Config(),
		params:      conv.ConvParams(),
	}
}

// Forward convolves quantized operands.
func (c *QuantConv2d[B]) Forward(x *tensor.Tensor[B]) *tensor.Tensor[B] {
	xq, wq, bq := c.quantize(x)
	return nn.Conv2dForward(xq, wq, bq, c.params)
}

// Config returns the convolution hyperparameters.
func (c *QuantConv2d[B]) Config() nn.ConvConfig { return c.cfg }

// ConvParams returns the backend convolution parameters.
func (c *QuantConv2d[B]) ConvParams() tensor.ConvParams { return c.params }

// Summary implements Layer.
func (c *QuantConv2d[B]) Summary() map[string]any {
	return c.summary(map[string]any{
		"in_channels":  c.inChannels,
		"out_channels": c.outChannels,
		"kernel_size":  c.kernelSize,
	})
}

// Export implements Layer.
func (c *QuantConv2d[B]) Export(n *graph.Node, gm *graph.Module[B], factory IntegerFactory[B]) error {
	return export[B](c, n, gm, factory)
}

func (c *QuantConv2d[B]) String() string {
	return fmt.Sprintf("QuantConv2d(%d, %d, kernel_size=%d, %s)", c.inChannels, c.outChannels, c.kernelSize, c.precision())
}
