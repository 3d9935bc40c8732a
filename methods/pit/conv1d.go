package pit

import (
	"fmt"

	"github.com/born-ml/flexnas/graph"
	"github.com/born-ml/flexnas/internal/autodiff"
	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
	"github.com/born-ml/flexnas/naserr"
)

// Conv1d is a 1D convolution with searchable output channels and receptive
// field.
//
// Timestep mask position 0 is the newest kernel tap (index K-1), so pruning
// the receptive field drops the oldest taps first.
type Conv1d[B tensor.Backend] struct {
	base[B]
	kernelSize        int
	stride, dilation  int
	padLeft, padRight int
	weight            *nn.Parameter[B]
	bias              *nn.Parameter[B]
	timestepMasker    *TimestepMasker[B]
	flip              *tensor.Tensor[B]
}

// NewConv1d wraps a plain ungrouped convolution, sharing its parameters.
func NewConv1d[B tensor.Backend](conv *nn.Conv1d[B]) *Conv1d[B] {
	if conv.Groups() != 1 {
		panic(naserr.Structuralf("pit.NewConv1d: grouped convolutions are not supported (groups=%d)", conv.Groups()))
	}
	backend := conv.Weight().Tensor().Backend()
	padLeft, padRight := conv.Padding()
	k := conv.KernelSize()
	return &Conv1d[B]{
		base:           newBase(conv.InChannels(), conv.OutChannels(), backend),
		kernelSize:     k,
		stride:         conv.Stride(),
		dilation:       conv.Dilation(),
		padLeft:        padLeft,
		padRight:       padRight,
		weight:         conv.Weight(),
		bias:           conv.Bias(),
		timestepMasker: NewTimestepMasker(k, backend),
		flip:           flipMatrix(k, backend),
	}
}

// TimestepMasker returns the receptive field masker.
func (c *Conv1d[B]) TimestepMasker() *TimestepMasker[B] { return c.timestepMasker }

// kernelMask maps the timestep mask onto the kernel taps.
func (c *Conv1d[B]) kernelMask() *tensor.Tensor[B] {
	return c.timestepMasker.Mask().Reshape(1, c.kernelSize).MatMul(c.flip).Reshape(c.kernelSize)
}

// Forward convolves with the masked kernel.
func (c *Conv1d[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	w := c.weight.Tensor().Mul(c.kernelMask().Reshape(1, 1, c.kernelSize))
	p := tensor.ConvParams{
		StrideH: 1, StrideW: c.stride,
		PadLeft: c.padLeft, PadRight: c.padRight,
		DilationH: 1, DilationW: c.dilation,
		Groups: 1,
	}
	return c.finish(nn.Conv1dForward(input, w, biasOrNil(c.bias), p))
}

func (c *Conv1d[B]) extra() nn.NamedModule[B] {
	return nn.NamedModule[B]{Name: "timestep_masker", Module: c.timestepMasker}
}

// NamedChildren implements nn.Container.
func (c *Conv1d[B]) NamedChildren() []nn.NamedModule[B] { return c.children(c.extra()) }

// Parameters returns the weights and the masker parameters.
func (c *Conv1d[B]) Parameters() []*nn.Parameter[B] {
	own := []*nn.Parameter[B]{c.weight}
	if c.bias != nil {
		own = append(own, c.bias)
	}
	return c.childParameters(own, c.extra())
}

// Size implements Layer.
func (c *Conv1d[B]) Size() *tensor.Tensor[B] {
	outF := c.outFeatures()
	size := c.inFeatures().Mul(outF).Mul(c.timestepMasker.Mask().Sum())
	if c.bias != nil {
		size = size.Add(outF)
	}
	return c.addBNSize(size)
}

// MACs implements Layer.
func (c *Conv1d[B]) MACs() *tensor.Tensor[B] {
	return c.inFeatures().Mul(c.outFeatures()).Mul(c.timestepMasker.Mask().Sum()).MulScalar(float32(c.outSpatial))
}

// EstimateParams implements cost.Estimator.
func (c *Conv1d[B]) EstimateParams() int { return c.estimate(c.Size) }

// EstimateMACs implements cost.Estimator.
func (c *Conv1d[B]) EstimateMACs(outShape tensor.Shape) int {
	c.SetOutputShape(outShape)
	return c.estimate(c.MACs)
}

// keptTaps returns the number of kernel taps alive.
func (c *Conv1d[B]) keptTaps() int {
	defer autodiff.PauseRecording(c.backend)()
	return countOnes(c.timestepMasker.Mask().Data())
}

// Summary reports the searched hyperparameters.
func (c *Conv1d[B]) Summary() map[string]any {
	in, out := c.alive()
	return map[string]any{
		"in_channels":  len(in),
		"out_channels": len(out),
		"kernel_size":  c.keptTaps(),
		"dilation":     c.dilation,
	}
}

// NamedNASParameters returns the masker parameters. recurse is accepted for
// uniformity; maskers have no children.
func (c *Conv1d[B]) NamedNASParameters(prefix string, _ bool) []nn.NamedParameter[B] {
	return c.nasParameters(prefix, c.extra())
}

// Export implements Layer.
func (c *Conv1d[B]) Export(n *graph.Node, gm *graph.Module[B]) error {
	in, out := c.alive()
	kept := c.keptTaps()
	dropped := c.kernelSize - kept
	w := selectIndex(selectIndex(selectIndex(c.weight.Tensor(), 0, out), 1, in), 2, span(dropped, c.kernelSize))
	conv := nn.NewConv1dFrom(w, selectBias(c.bias, out), c.stride, c.padLeft-dropped*c.dilation, c.padRight, c.dilation, 1)
	return c.replace(n, gm, conv, out)
}

func (c *Conv1d[B]) String() string {
	return fmt.Sprintf("pit.Conv1d(%d, %d, kernel_size=%d, stride=%d, dilation=%d, padding=(%d, %d), bn=%t)",
		c.inChannels, c.outChannels, c.kernelSize, c.stride, c.dilation, c.padLeft, c.padRight, c.bn != nil)
}
