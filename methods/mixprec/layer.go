// Package mixprec implements fake-quantized layers for quantization-aware
// training and the pass that substitutes them into a model.
package mixprec

import (
	"fmt"
	"maps"

	"github.com/born-ml/flexnas/graph"
	"github.com/born-ml/flexnas/internal/autodiff"
	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
	"github.com/born-ml/flexnas/methods/mixprec/quant"
	"github.com/born-ml/flexnas/naserr"
)

// Child names of the quantizers of a Layer.
const (
	InputQuantizerName  = "input_quantizer"
	WeightQuantizerName = "weight_quantizer"
	BiasQuantizerName   = "bias_quantizer"
)

// Layer is a fake-quantized layer: its input activations, weights and bias
// pass through quantizers before the float computation.
type Layer[B tensor.Backend] interface {
	nn.Module[B]
	InputQuantizer() quant.Quantizer[B]
	WeightQuantizer() quant.Quantizer[B]
	// BiasQuantizer is nil for layers without bias.
	BiasQuantizer() quant.Quantizer[B]
	Weight() *nn.Parameter[B]
	Bias() *nn.Parameter[B]
	Summary() map[string]any
	NamedQuantParameters(prefix string, recurse bool) []nn.NamedParameter[B]
	// Export replaces the layer called by n with the integer layer built by
	// factory.
	Export(n *graph.Node, gm *graph.Module[B], factory IntegerFactory[B]) error
}

// IntegerFactory builds the integer (deployment) version of a Layer.
type IntegerFactory[B tensor.Backend] func(layer Layer[B]) (nn.Module[B], error)

// IsLayer is a tracer leaf predicate accepting quantized layers.
func IsLayer[B tensor.Backend](m any) bool {
	_, ok := m.(Layer[B])
	return ok
}

// base holds the parameters and quantizers shared by all quantized layers.
type base[B tensor.Backend] struct {
	weight *nn.Parameter[B]
	bias   *nn.Parameter[B]
	inQ    quant.Quantizer[B]
	wQ     quant.Quantizer[B]
	bQ     quant.Quantizer[B]
}

func newBase[B tensor.Backend](weight, bias *nn.Parameter[B], cfg Config, backend B) base[B] {
	cfg = cfg.withDefaults()
	b := base[B]{weight: weight, bias: bias, inQ: newActQuantizer(cfg, backend)}
	b.wQ = quant.NewMinMaxWeight[B](cfg.WeightBits)
	if bias != nil {
		b.bQ = quant.NewMinMaxBias(cfg.BiasBits, b.inQ, b.wQ)
	}
	return b
}

func (l *base[B]) InputQuantizer() quant.Quantizer[B]  { return l.inQ }
func (l *base[B]) WeightQuantizer() quant.Quantizer[B] { return l.wQ }
func (l *base[B]) BiasQuantizer() quant.Quantizer[B]   { return l.bQ }
func (l *base[B]) Weight() *nn.Parameter[B]            { return l.weight }
func (l *base[B]) Bias() *nn.Parameter[B]              { return l.bias }

// quantize returns the fake-quantized input, weight and bias. The order
// matters: the bias scale is read from the two other quantizers.
func (l *base[B]) quantize(x *tensor.Tensor[B]) (xq, wq, bq *tensor.Tensor[B]) {
	xq = l.inQ.Forward(x)
	wq = l.wQ.Forward(l.weight.Tensor())
	if l.bias != nil {
		bq = l.bQ.Forward(l.bias.Tensor())
	}
	return xq, wq, bq
}

// NamedChildren implements nn.Container.
func (l *base[B]) NamedChildren() []nn.NamedModule[B] {
	out := []nn.NamedModule[B]{
		{Name: InputQuantizerName, Module: l.inQ},
		{Name: WeightQuantizerName, Module: l.wQ},
	}
	if l.bQ != nil {
		out = append(out, nn.NamedModule[B]{Name: BiasQuantizerName, Module: l.bQ})
	}
	return out
}

// Parameters returns the weight, the bias and the quantizer parameters.
func (l *base[B]) Parameters() []*nn.Parameter[B] {
	params := []*nn.Parameter[B]{l.weight}
	if l.bias != nil {
		params = append(params, l.bias)
	}
	for _, c := range l.NamedChildren() {
		params = append(params, c.Module.Parameters()...)
	}
	return params
}

// NamedQuantParameters returns the trainable quantizer parameters under
// prefix. recurse is accepted for symmetry with containers: quantized
// layers have no nested layers.
func (l *base[B]) NamedQuantParameters(prefix string, recurse bool) []nn.NamedParameter[B] {
	var out []nn.NamedParameter[B]
	for _, c := range l.NamedChildren() {
		out = append(out, c.Module.(quant.Quantizer[B]).NamedQuantParameters(nn.JoinName(prefix, c.Name), recurse)...)
	}
	return out
}

func (l *base[B]) summary(extra map[string]any) map[string]any {
	s := map[string]any{
		InputQuantizerName:  l.inQ.Summary(),
		WeightQuantizerName: l.wQ.Summary(),
	}
	if l.bQ != nil {
		s[BiasQuantizerName] = l.bQ.Summary()
	}
	maps.Copy(s, extra)
	return s
}

func export[B tensor.Backend](layer Layer[B], n *graph.Node, gm *graph.Module[B], factory IntegerFactory[B]) error {
	if factory == nil {
		return naserr.Configurationf("no integer factory to export %s (%T)", n.Target, layer)
	}
	integer, err := factory(layer)
	if err != nil {
		return err
	}
	return gm.SetSubmodule(n.Target, integer)
}

// Codes returns the integer codes q assigns to x, leaving q's dequantize
// flag untouched.
func Codes[B tensor.Backend](q quant.Quantizer[B], x *tensor.Tensor[B]) *tensor.Tensor[B] {
	defer autodiff.PauseRecording(x.Backend())()
	d := q.Dequantize()
	q.SetDequantize(false)
	defer q.SetDequantize(d)
	return q.Forward(x)
}

// Scale returns the scale factor of q as a float.
func Scale[B tensor.Backend](q quant.Quantizer[B]) (float32, error) {
	s, err := q.ScaleFactor()
	if err != nil {
		return 0, err
	}
	return s.Item(), nil
}

func (l *base[B]) precision() string {
	s := fmt.Sprintf("a%d/w%d", l.inQ.NumBits(), l.wQ.NumBits())
	if l.bQ != nil {
		s += fmt.Sprintf("/b%d", l.bQ.NumBits())
	}
	return s
}
