// Package dory implements the integer layers of the DORY deployment flow.
//
// An integer layer quantizes its input to codes with the input scale s_a,
// accumulates over integer weight codes and a bias already expressed in the
// accumulator domain (scale s_a*s_w), and rescales the accumulator back to
// floats by s_a*s_w.
package dory

import (
	"fmt"
	"reflect"

	"github.com/born-ml/flexnas/internal/autodiff"
	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
	"github.com/born-ml/flexnas/methods/mixprec"
	"github.com/born-ml/flexnas/naserr"
)

// Layers returns the DORY layer table keyed by quantized layer type.
func Layers[B tensor.Backend]() map[reflect.Type]mixprec.IntegerFactory[B] {
	return map[reflect.Type]mixprec.IntegerFactory[B]{
		reflect.TypeOf(&mixprec.QuantConv2d[B]{}): NewConv2d[B],
		reflect.TypeOf(&mixprec.QuantLinear[B]{}): NewLinear[B],
	}
}

// operands are the integer constants of a layer.
type operands[B tensor.Backend] struct {
	inScale  *tensor.Tensor[B]
	lo, hi   float32
	weight   *nn.Parameter[B]
	bias     *nn.Parameter[B]
	outScale *tensor.Tensor[B]
}

func newOperands[B tensor.Backend](l mixprec.Layer[B]) (*operands[B], error) {
	if err := mixprec.CheckCalibrated(l); err != nil {
		return nil, err
	}
	backend := l.Weight().Tensor().Backend()
	defer autodiff.PauseRecording(backend)()

	sa, _ := l.InputQuantizer().ScaleFactor()
	sw, _ := l.WeightQuantizer().ScaleFactor()
	op := &operands[B]{inScale: sa.Clone(), outScale: sa.Mul(sw)}
	op.lo, op.hi = l.InputQuantizer().Range()
	op.weight = constant("weight", mixprec.Codes(l.WeightQuantizer(), l.Weight().Tensor()))
	if l.Bias() != nil {
		op.bias = constant("bias", mixprec.Codes(l.BiasQuantizer(), l.Bias().Tensor()))
	}
	return op, nil
}

func constant[B tensor.Backend](name string, t *tensor.Tensor[B]) *nn.Parameter[B] {
	p := nn.NewParameter(name, t)
	p.SetTrainable(false)
	return p
}

func (op *operands[B]) quantizeInput(x *tensor.Tensor[B]) *tensor.Tensor[B] {
	return x.Div(op.inScale).RoundSTE().Clamp(op.lo, op.hi)
}

func (op *operands[B]) biasCodes() *tensor.Tensor[B] {
	if op.bias == nil {
		return nil
	}
	return op.bias.Tensor()
}

func (op *operands[B]) parameters() []*nn.Parameter[B] {
	if op.bias == nil {
		return []*nn.Parameter[B]{op.weight}
	}
	return []*nn.Parameter[B]{op.weight, op.bias}
}

func (op *operands[B]) summary() map[string]any {
	return map[string]any{
		"input_scale":  op.inScale.Item(),
		"output_scale": op.outScale.Item(),
		"input_range":  [2]float32{op.lo, op.hi},
	}
}

// Conv2d is an integer 2D convolution.
type Conv2d[B tensor.Backend] struct {
	*operands[B]
	params tensor.ConvParams
}

// NewConv2d builds the integer version of a *mixprec.QuantConv2d.
func NewConv2d[B tensor.Backend](l mixprec.Layer[B]) (nn.Module[B], error) {
	q, ok := l.(*mixprec.QuantConv2d[B])
	if !ok {
		return nil, naserr.Structuralf("dory.NewConv2d: expected a QuantConv2d, got %T", l)
	}
	op, err := newOperands(l)
	if err != nil {
		return nil, err
	}
	return &Conv2d[B]{operands: op, params: q.ConvParams()}, nil
}

// Forward implements nn.Module.
func (c *Conv2d[B]) Forward(x *tensor.Tensor[B]) *tensor.Tensor[B] {
	acc := nn.Conv2dForward(c.quantizeInput(x), c.weight.Tensor(), c.biasCodes(), c.params)
	return acc.Mul(c.outScale)
}

// Parameters returns the weight and bias codes. They are not trainable.
func (c *Conv2d[B]) Parameters() []*nn.Parameter[B] { return c.parameters() }

// Summary describes the layer's scales.
func (c *Conv2d[B]) Summary() map[string]any { return c.summary() }

func (c *Conv2d[B]) String() string {
	return fmt.Sprintf("dory.Conv2d(weight=%v)", c.weight.Tensor().Shape())
}

// Linear is an integer fully connected layer.
type Linear[B tensor.Backend] struct {
	*operands[B]
}

// NewLinear builds the integer version of a *mixprec.QuantLinear.
func NewLinear[B tensor.Backend](l mixprec.Layer[B]) (nn.Module[B], error) {
	if _, ok := l.(*mixprec.QuantLinear[B]); !ok {
		return nil, naserr.Structuralf("dory.NewLinear: expected a QuantLinear, got %T", l)
	}
	op, err := newOperands(l)
	if err != nil {
		return nil, err
	}
	return &Linear[B]{operands: op}, nil
}

// Forward implements nn.Module.
func (l *Linear[B]) Forward(x *tensor.Tensor[B]) *tensor.Tensor[B] {
	acc := nn.LinearForward(l.quantizeInput(x), l.weight.Tensor(), l.biasCodes())
	return acc.Mul(l.outScale)
}

// Parameters returns the weight and bias codes. They are not trainable.
func (l *Linear[B]) Parameters() []*nn.Parameter[B] { return l.parameters() }

// Summary describes the layer's scales.
func (l *Linear[B]) Summary() map[string]any { return l.summary() }

func (l *Linear[B]) String() string {
	return fmt.Sprintf("dory.Linear(weight=%v)", l.weight.Tensor().Shape())
}
