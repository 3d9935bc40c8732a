package nn

import (
	"fmt"
	"math"

	"github.com/born-ml/flexnas/internal/tensor"
)

// ConvConfig holds the hyperparameters shared by Conv1d and Conv2d.
// Zero Stride, Dilation and Groups default to 1.
type ConvConfig struct {
	Stride   int
	Padding  int
	Dilation int
	Groups   int
	NoBias   bool
}

func (c ConvConfig) normalized() ConvConfig {
	if c.Stride == 0 {
		c.Stride = 1
	}
	if c.Dilation == 0 {
		c.Dilation = 1
	}
	if c.Groups == 0 {
		c.Groups = 1
	}
	return c
}

// Conv1d applies a 1D convolution over [batch, channels, length] inputs.
//
// Left and right padding may differ (and may be negative, which crops the
// input) so that layers shrunk by receptive-field search keep producing the
// same output alignment.
type Conv1d[B tensor.Backend] struct {
	inChannels, outChannels int
	kernelSize              int
	stride, dilation        int
	groups                  int
	padLeft, padRight       int
	weight                  *Parameter[B]
	bias                    *Parameter[B]
}

// NewConv1d creates a Conv1d layer with Kaiming-uniform weights.
func NewConv1d[B tensor.Backend](inChannels, outChannels, kernelSize int, cfg ConvConfig, backend B) *Conv1d[B] {
	cfg = cfg.normalized()
	checkGroups("NewConv1d", inChannels, outChannels, cfg.Groups)
	fanIn := inChannels / cfg.Groups * kernelSize
	bound := 1 / math.Sqrt(float64(fanIn))
	weight := Uniform(bound, tensor.Shape{outChannels, inChannels / cfg.Groups, kernelSize}, backend)
	var bias *tensor.Tensor[B]
	if !cfg.NoBias {
		bias = Uniform(bound, tensor.Shape{outChannels}, backend)
	}
	return NewConv1dFrom(weight, bias, cfg.Stride, cfg.Padding, cfg.Padding, cfg.Dilation, cfg.Groups)
}

// NewConv1dFrom builds a Conv1d around an existing [out, in/groups, k] weight.
func NewConv1dFrom[B tensor.Backend](weight, bias *tensor.Tensor[B], stride, padLeft, padRight, dilation, groups int) *Conv1d[B] {
	s := weight.Shape()
	if len(s) != 3 {
		panic(fmt.Sprintf("NewConv1dFrom: expected 3D weight, got shape %v", s))
	}
	c := &Conv1d[B]{
		inChannels:  s[1] * groups,
		outChannels: s[0],
		kernelSize:  s[2],
		stride:      stride,
		dilation:    dilation,
		groups:      groups,
		padLeft:     padLeft,
		padRight:    padRight,
		weight:      NewParameter("weight", weight),
	}
	if bias != nil {
		c.bias = NewParameter("bias", bias)
	}
	return c
}

// Forward computes the convolution.
func (c *Conv1d[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	return Conv1dForward(input, c.weight.Tensor(), c.BiasTensor(), c.ConvParams())
}

// Conv1dForward convolves a [N, C, L] input with a [O, C/g, K] weight.
func Conv1dForward[B tensor.Backend](input, weight, bias *tensor.Tensor[B], p tensor.ConvParams) *tensor.Tensor[B] {
	s := input.Shape()
	if len(s) != 3 {
		panic(fmt.Sprintf("Conv1d.Forward: expected 3D input [batch, channels, length], got shape %v", s))
	}
	ws := weight.Shape()
	x := input.Reshape(s[0], s[1], 1, s[2])
	k := weight.Reshape(ws[0], ws[1], 1, ws[2])
	out := x.Conv2D(k, p)
	os := out.Shape()
	out = out.Reshape(os[0], os[1], os[3])
	if bias != nil {
		out = out.Add(bias.Reshape(1, -1, 1))
	}
	return out
}

// ConvParams returns the backend convolution parameters of the layer.
func (c *Conv1d[B]) ConvParams() tensor.ConvParams {
	return tensor.ConvParams{
		StrideH: 1, StrideW: c.stride,
		PadLeft: c.padLeft, PadRight: c.padRight,
		DilationH: 1, DilationW: c.dilation,
		Groups: c.groups,
	}
}

// Parameters returns the weight and, if present, the bias.
func (c *Conv1d[B]) Parameters() []*Parameter[B] {
	if c.bias == nil {
		return []*Parameter[B]{c.weight}
	}
	return []*Parameter[B]{c.weight, c.bias}
}

// InChannels returns the number of input channels.
func (c *Conv1d[B]) InChannels() int { return c.inChannels }

// OutChannels returns the number of output channels.
func (c *Conv1d[B]) OutChannels() int { return c.outChannels }

// KernelSize returns the kernel length.
func (c *Conv1d[B]) KernelSize() int { return c.kernelSize }

// Stride returns the stride.
func (c *Conv1d[B]) Stride() int { return c.stride }

// Dilation returns the dilation.
func (c *Conv1d[B]) Dilation() int { return c.dilation }

// Groups returns the number of groups.
func (c *Conv1d[B]) Groups() int { return c.groups }

// Padding returns the left and right padding.
func (c *Conv1d[B]) Padding() (left, right int) { return c.padLeft, c.padRight }

// SetPadding changes the left and right padding.
func (c *Conv1d[B]) SetPadding(left, right int) {
	c.padLeft, c.padRight = left, right
}

// Weight returns the weight parameter.
func (c *Conv1d[B]) Weight() *Parameter[B] { return c.weight }

// Bias returns the bias parameter, or nil.
func (c *Conv1d[B]) Bias() *Parameter[B] { return c.bias }

// BiasTensor returns the bias tensor, or nil.
func (c *Conv1d[B]) BiasTensor() *tensor.Tensor[B] {
	if c.bias == nil {
		return nil
	}
	return c.bias.Tensor()
}

func (c *Conv1d[B]) String() string {
	return fmt.Sprintf("Conv1d(%d, %d, kernel_size=%d, stride=%d, padding=(%d, %d), dilation=%d, groups=%d, bias=%t)",
		c.inChannels, c.outChannels, c.kernelSize, c.stride, c.padLeft, c.padRight, c.dilation, c.groups, c.bias != nil)
}

// Conv2d applies a 2D convolution over [batch, channels, height, width]
// inputs with a square kernel and symmetric padding.
type Conv2d[B tensor.Backend] struct {
	inChannels, outChannels int
	kernelSize              int
	stride, padding         int
	dilation, groups        int
	weight                  *Parameter[B]
	bias                    *Parameter[B]
}

// NewConv2d creates a Conv2d layer with Kaiming-uniform weights.
func NewConv2d[B tensor.Backend](inChannels, outChannels, kernelSize int, cfg ConvConfig, backend B) *Conv2d[B] {
	cfg = cfg.normalized()
	checkGroups("NewConv2d", inChannels, outChannels, cfg.Groups)
	fanIn := inChannels / cfg.Groups * kernelSize * kernelSize
	bound := 1 / math.Sqrt(float64(fanIn))
	weight := Uniform(bound, tensor.Shape{outChannels, inChannels / cfg.Groups, kernelSize, kernelSize}, backend)
	var bias *tensor.Tensor[B]
	if !cfg.NoBias {
		bias = Uniform(bound, tensor.Shape{outChannels}, backend)
	}
	return NewConv2dFrom(weight, bias, cfg)
}

// NewConv2dFrom builds a Conv2d around an existing [out, in/groups, k, k] weight.
func NewConv2dFrom[B tensor.Backend](weight, bias *tensor.Tensor[B], cfg ConvConfig) *Conv2d[B] {
	cfg = cfg.normalized()
	s := weight.Shape()
	if len(s) != 4 || s[2] != s[3] {
		panic(fmt.Sprintf("NewConv2dFrom: expected square 4D weight, got shape %v", s))
	}
	c := &Conv2d[B]{
		inChannels:  s[1] * cfg.Groups,
		outChannels: s[0],
		kernelSize:  s[2],
		stride:      cfg.Stride,
		padding:     cfg.Padding,
		dilation:    cfg.Dilation,
		groups:      cfg.Groups,
		weight:      NewParameter("weight", weight),
	}
	if bias != nil {
		c.bias = NewParameter("bias", bias)
	}
	return c
}

// Forward computes the convolution.
func (c *Conv2d[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	return Conv2dForward(input, c.weight.Tensor(), c.BiasTensor(), c.ConvParams())
}

// Conv2dForward convolves a [N, C, H, W] input with a [O, C/g, KH, KW] weight.
func Conv2dForward[B tensor.Backend](input, weight, bias *tensor.Tensor[B], p tensor.ConvParams) *tensor.Tensor[B] {
	if s := input.Shape(); len(s) != 4 {
		panic(fmt.Sprintf("Conv2d.Forward: expected 4D input [batch, channels, height, width], got shape %v", s))
	}
	out := input.Conv2D(weight, p)
	if bias != nil {
		out = out.Add(bias.Reshape(1, -1, 1, 1))
	}
	return out
}

// ConvParams returns the backend convolution parameters of the layer.
func (c *Conv2d[B]) ConvParams() tensor.ConvParams {
	return tensor.ConvParams{
		StrideH: c.stride, StrideW: c.stride,
		PadTop: c.padding, PadBottom: c.padding,
		PadLeft: c.padding, PadRight: c.padding,
		DilationH: c.dilation, DilationW: c.dilation,
		Groups: c.groups,
	}
}

// Config returns the hyperparameters of the layer.
func (c *Conv2d[B]) Config() ConvConfig {
	return ConvConfig{
		Stride:   c.stride,
		Padding:  c.padding,
		Dilation: c.dilation,
		Groups:   c.groups,
		NoBias:   c.bias == nil,
	}
}

// Parameters returns the weight and, if present, the bias.
func (c *Conv2d[B]) Parameters() []*Parameter[B] {
	if c.bias == nil {
		return []*Parameter[B]{c.weight}
	}
	return []*Parameter[B]{c.weight, c.bias}
}

// InChannels returns the number of input channels.
func (c *Conv2d[B]) InChannels() int { return c.inChannels }

// OutChannels returns the number of output channels.
func (c *Conv2d[B]) OutChannels() int { return c.outChannels }

// KernelSize returns the kernel side.
func (c *Conv2d[B]) KernelSize() int { return c.kernelSize }

// Groups returns the number of groups.
func (c *Conv2d[B]) Groups() int { return c.groups }

// Weight returns the weight parameter.
func (c *Conv2d[B]) Weight() *Parameter[B] { return c.weight }

// Bias returns the bias parameter, or nil.
func (c *Conv2d[B]) Bias() *Parameter[B] { return c.bias }

// BiasTensor returns the bias tensor, or nil.
func (c *Conv2d[B]) BiasTensor() *tensor.Tensor[B] {
	if c.bias == nil {
		return nil
	}
	return c.bias.Tensor()
}

func (c *Conv2d[B]) String() string {
	return fmt.Sprintf("Conv2d(%d, %d, kernel_size=%d, stride=%d, padding=%d, dilation=%d, groups=%d, bias=%t)",
		c.inChannels, c.outChannels, c.kernelSize, c.stride, c.padding, c.dilation, c.groups, c.bias != nil)
}

func checkGroups(op string, in, out, groups int) {
	if in%groups != 0 || out%groups != 0 {
		panic(fmt.Sprintf("%s: channels (%d, %d) not divisible by groups %d", op, in, out, groups))
	}
}
