package mixprec_test

import (
	"reflect"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/flexnas/graph"
	"github.com/born-ml/flexnas/internal/backend/cpu"
	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
	"github.com/born-ml/flexnas/methods"
	"github.com/born-ml/flexnas/methods/mixprec"
	"github.com/born-ml/flexnas/naserr"
)

type B = *cpu.CPUBackend

var inputShape = tensor.Shape{2, 8}

func newNet(backend B) *nn.Sequential[B] {
	return nn.NewSequential[B](
		nn.NewConv1d(2, 3, 3, nn.ConvConfig{Padding: 1}, backend),
		nn.NewReLU[B](),
		nn.NewFlatten[B](),
		nn.NewLinear(3*8, 2, backend),
	)
}

func submodule[T any](t *testing.T, gm *graph.Module[B], name string) T {
	t.Helper()
	m, ok := gm.Submodule(name)
	require.True(t, ok, "no submodule %q", name)
	typed, ok := m.(T)
	require.True(t, ok, "submodule %q is a %T", name, m)
	return typed
}

func TestQuantizeReplacesAndCalibrates(t *testing.T) {
	backend := cpu.New()
	model := newNet(backend)
	x := tensor.Rand(tensor.Shape{4, 2, 8}, backend)
	want := model.Forward(x).Data()

	gm, targets, err := mixprec.Quantize[B](model, inputShape, mixprec.Config{})
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "3"}, targets)

	conv := submodule[*mixprec.QuantConv1d[B]](t, gm, "0")
	fc := submodule[*mixprec.QuantLinear[B]](t, gm, "3")
	orig := model.NamedChildren()[0].Module.(*nn.Conv1d[B])
	assert.Same(t, orig.Weight(), conv.Weight(), "parameters are shared with the float layer")

	for _, l := range []mixprec.Layer[B]{conv, fc} {
		require.NoError(t, mixprec.CheckCalibrated(l))
		assert.Equal(t, 8, l.WeightQuantizer().NumBits())
		assert.Equal(t, 32, l.BiasQuantizer().NumBits())
	}
	sa := must.M1(mixprec.Scale(conv.InputQuantizer()))
	sw := must.M1(mixprec.Scale(conv.WeightQuantizer()))
	sb := must.M1(mixprec.Scale(conv.BiasQuantizer()))
	assert.InDelta(t, sa*sw, sb, 1e-9)

	got := gm.Forward(x).Data()
	assert.InDeltaSlice(t, want, got, 0.05)
}

func TestQuantizeExclusions(t *testing.T) {
	backend := cpu.New()
	cfg := mixprec.Config{Exclusions: methods.Exclusions{Names: []string{"3"}}}
	gm, targets, err := mixprec.Quantize[B](newNet(backend), inputShape, cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"0"}, targets)
	submodule[*nn.Linear[B]](t, gm, "3")

	cfg = mixprec.Config{Exclusions: methods.Exclusions{Types: []reflect.Type{reflect.TypeOf(&nn.Conv1d[B]{})}}}
	_, targets, err = mixprec.Quantize[B](newNet(backend), inputShape, cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"3"}, targets)
}

func TestQuantizeInvalidConfig(t *testing.T) {
	_, _, err := mixprec.Quantize[B](newNet(cpu.New()), inputShape, mixprec.Config{WeightBits: 40})
	assert.True(t, naserr.Is(err, naserr.ErrConfiguration), "got %v", err)
}

func TestPACTLayerParameters(t *testing.T) {
	backend := cpu.New()
	gm, _, err := mixprec.Quantize[B](newNet(backend), inputShape, mixprec.Config{ActBits: 4, PACT: true})
	require.NoError(t, err)
	conv := submodule[*mixprec.QuantConv1d[B]](t, gm, "0")

	named := conv.NamedQuantParameters("0", true)
	require.Len(t, named, 1)
	assert.Equal(t, "0.input_quantizer.alpha", named[0].Name)
	assert.Len(t, conv.Parameters(), 3, "weight, bias and alpha")

	s := conv.Summary()
	assert.Equal(t, 3, s["out_channels"])
	in := s[mixprec.InputQuantizerName].(map[string]any)
	assert.Equal(t, 4, in["num_bits"])
	assert.InDelta(t, 6.0/15, in["scale_factor"], 1e-6)

	// The alpha parameter is reachable under its qualified name.
	var names []string
	for _, np := range nn.NamedParameters[B](gm, "") {
		names = append(names, np.Name)
	}
	assert.Contains(t, names, "0.input_quantizer.alpha")
}

func TestLayerExport(t *testing.T) {
	backend := cpu.New()
	gm, _, err := mixprec.Quantize[B](newNet(backend), inputShape, mixprec.Config{})
	require.NoError(t, err)
	var convNode *graph.Node
	for _, n := range gm.Graph().Nodes() {
		if n.Kind == graph.KindCallModule && n.Target == "0" {
			convNode = n
		}
	}
	require.NotNil(t, convNode)
	conv := submodule[*mixprec.QuantConv1d[B]](t, gm, "0")

	err = conv.Export(convNode, gm, nil)
	assert.True(t, naserr.Is(err, naserr.ErrConfiguration), "got %v", err)

	identity := nn.NewIdentity[B]()
	require.NoError(t, conv.Export(convNode, gm, func(mixprec.Layer[B]) (nn.Module[B], error) {
		return identity, nil
	}))
	m, _ := gm.Submodule("0")
	assert.Same(t, identity, m)
	_, ok := gm.Submodule("0.input_quantizer")
	assert.False(t, ok, "quantizers of the replaced layer are unregistered")
}

func TestCodesKeepsDequantizeFlag(t *testing.T) {
	backend := cpu.New()
	gm, _, err := mixprec.Quantize[B](newNet(backend), inputShape, mixprec.Config{WeightBits: 4})
	require.NoError(t, err)
	fc := submodule[*mixprec.QuantLinear[B]](t, gm, "3")
	codes := mixprec.Codes(fc.WeightQuantizer(), fc.Weight().Tensor())
	assert.True(t, fc.WeightQuantizer().Dequantize())
	for _, c := range codes.Data() {
		assert.LessOrEqual(t, c, float32(7))
		assert.GreaterOrEqual(t, c, float32(-7))
		assert.Equal(t, float32(int(c)), c)
	}
}

func TestQuantizeKeepsBatchNormStatistics(t *testing.T) {
	backend := cpu.New()
	bn := nn.NewBatchNorm1d(3, backend)
	model := nn.NewSequential[B](
		nn.NewConv1d(2, 3, 3, nn.ConvConfig{Padding: 1}, backend),
		bn,
		nn.NewReLU[B](),
		nn.NewFlatten[B](),
		nn.NewLinear(3*8, 2, backend),
	)
	mean := append([]float32(nil), bn.RunningMean()...)
	variance := append([]float32(nil), bn.RunningVar()...)
	require.True(t, bn.Training())

	_, targets, err := mixprec.Quantize[B](model, inputShape, mixprec.Config{})
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "4"}, targets)

	assert.False(t, bn.Training())
	assert.Equal(t, mean, bn.RunningMean())
	assert.Equal(t, variance, bn.RunningVar())
}
