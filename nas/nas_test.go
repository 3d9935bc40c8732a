package nas_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/flexnas/graph"
	"github.com/born-ml/flexnas/internal/backend/cpu"
	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
	"github.com/born-ml/flexnas/methods"
	"github.com/born-ml/flexnas/methods/pit"
	"github.com/born-ml/flexnas/methods/supernet"
	"github.com/born-ml/flexnas/nas"
	"github.com/born-ml/flexnas/naserr"
)

type B = *cpu.CPUBackend

var inputShape = tensor.Shape{3, 8}

func newSimpleNet(backend B) (*nn.Sequential[B], *nn.BatchNorm[B]) {
	bn := nn.NewBatchNorm1d(4, backend)
	copy(bn.Bias().Tensor().Data(), []float32{0.5, -0.25, 0.75, 1})
	return nn.NewSequential[B](
		nn.NewConv1d(3, 4, 3, nn.ConvConfig{Padding: 1}, backend),
		bn,
		nn.NewReLU[B](),
		nn.NewConv1d(4, 5, 3, nn.ConvConfig{Padding: 1}, backend),
		nn.NewFlatten[B](),
		nn.NewLinear(5*8, 2, backend),
	), bn
}

func targetNames(targets []nas.TargetLayer[B]) []string {
	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = t.Name
	}
	return names
}

func callTargets(gm *graph.Module[B]) []string {
	var calls []string
	for _, n := range gm.Graph().Nodes() {
		if n.Kind == graph.KindCallModule {
			calls = append(calls, n.Target)
		}
	}
	return calls
}

func TestConvertRejectsUnknownConversion(t *testing.T) {
	model, bn := newSimpleNet(cpu.New())
	gm, targets, err := nas.Convert[B](model, inputShape, methods.ConversionType(42))
	require.Error(t, err)
	assert.True(t, naserr.Is(err, naserr.ErrConfiguration), "got %v", err)
	assert.Nil(t, gm)
	assert.Nil(t, targets)
	assert.True(t, bn.Training(), "the model is not touched")
}

func TestConvertRoundTrip(t *testing.T) {
	backend := cpu.New()
	model, _ := newSimpleNet(backend)
	gm, targets, err := nas.Convert[B](model, inputShape, methods.AutoImport)
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "3", "5"}, targetNames(targets))
	for _, tl := range targets {
		assert.True(t, pit.IsLayer[B](tl.Layer), "%s is a %T", tl.Name, tl.Layer)
	}
	assert.NotContains(t, callTargets(gm), "1", "the BatchNorm is fused into the conv")

	x := tensor.Randn(tensor.Shape{2, 3, 8}, backend)
	want := model.Forward(x).Data()
	assert.InDeltaSlice(t, want, gm.Forward(x).Data(), 1e-4)

	exported, targets, err := nas.Convert[B](gm, inputShape, methods.Export)
	require.NoError(t, err)
	assert.Empty(t, targets)
	assert.Equal(t, []string{"0", "0_bn", "2", "3", "4", "5"}, callTargets(exported))
	for _, name := range []string{"0", "3"} {
		m, ok := exported.Submodule(name)
		require.True(t, ok)
		assert.IsType(t, &nn.Conv1d[B]{}, m)
	}
	assert.InDeltaSlice(t, want, exported.Forward(x).Data(), 1e-4)
}

func TestConvertExportPrunesChannels(t *testing.T) {
	backend := cpu.New()
	model, _ := newSimpleNet(backend)
	gm, _, err := nas.Convert[B](model, inputShape, methods.AutoImport)
	require.NoError(t, err)
	conv0, _ := gm.Submodule("0")
	copy(conv0.(*pit.Conv1d[B]).OutChannelMasker().Beta().Tensor().Data(), []float32{1, 0, 0.9, 0})

	x := tensor.Randn(tensor.Shape{2, 3, 8}, backend)
	want := gm.Forward(x).Data()

	exported, _, err := nas.Convert[B](gm, inputShape, methods.Export)
	require.NoError(t, err)
	m, _ := exported.Submodule("0")
	assert.Equal(t, 2, m.(*nn.Conv1d[B]).OutChannels())
	m, _ = exported.Submodule("3")
	assert.Equal(t, 2, m.(*nn.Conv1d[B]).InChannels())
	assert.InDeltaSlice(t, want, exported.Forward(x).Data(), 1e-4)
}

func TestConvertExclusions(t *testing.T) {
	backend := cpu.New()
	model, _ := newSimpleNet(backend)
	_, targets, err := nas.Convert[B](model, inputShape, methods.AutoImport, nas.ExcludeNames("3"))
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "5"}, targetNames(targets))

	_, targets, err = nas.Convert[B](model, inputShape, methods.AutoImport,
		nas.ExcludeTypes(reflect.TypeOf(&nn.Linear[B]{})))
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "3"}, targetNames(targets))

	_, targets, err = nas.Convert[B](model, inputShape, methods.Import)
	require.NoError(t, err)
	assert.Empty(t, targets, "import only collects existing searchable layers")
}

func newSuperNet(backend B) (*nn.Sequential[B], *supernet.Module[B]) {
	sn := supernet.NewModule[B](backend,
		nn.NewConv1d(3, 4, 3, nn.ConvConfig{Padding: 1}, backend),
		nn.NewSequential[B](
			nn.NewConv1d(3, 4, 5, nn.ConvConfig{Padding: 2}, backend),
			nn.NewReLU[B](),
		),
	)
	return nn.NewSequential[B](sn, nn.NewReLU[B]()), sn
}

func TestConvertSuperNetKeepsBestBranch(t *testing.T) {
	backend := cpu.New()
	model, sn := newSuperNet(backend)
	shape := tensor.Shape{3, 10}

	gm, targets, err := nas.Convert[B](model, shape, methods.AutoImport)
	require.NoError(t, err)
	assert.Equal(t, []string{"0.sn_input_layers.0", "0.sn_input_layers.1.0", "0.sn_combiner"}, targetNames(targets))

	c := targets[2].Layer.(*supernet.Combiner[B])
	sizes, err := c.ComputeLayersSizes()
	require.NoError(t, err)
	assert.Equal(t, []int{3*4*3 + 4, 3*4*5 + 4}, sizes)

	copy(c.Alpha().Tensor().Data(), []float32{5, 1})
	exported, _, err := nas.Convert[B](gm, shape, methods.Export)
	require.NoError(t, err)
	assert.Equal(t, []string{"0.sn_input_layers.0", "1"}, callTargets(exported))
	for _, name := range exported.SubmoduleNames() {
		assert.NotContains(t, name, "sn_input_layers.1")
		assert.NotContains(t, name, "sn_combiner")
	}

	x := tensor.Randn(tensor.Shape{2, 3, 10}, backend)
	branch0 := sn.InputLayers().At(0)
	assert.InDeltaSlice(t, branch0.Forward(x).ReLU().Data(), exported.Forward(x).Data(), 1e-4)
}

func TestConvertSurfacesForwardPanics(t *testing.T) {
	model, _ := newSimpleNet(cpu.New())
	_, _, err := nas.Convert[B](model, tensor.Shape{7, 8}, methods.AutoImport)
	require.Error(t, err)
	assert.True(t, naserr.Is(err, naserr.ErrStructural), "got %v", err)
}
