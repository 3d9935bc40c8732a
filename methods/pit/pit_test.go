package pit_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/flexnas/graph"
	"github.com/born-ml/flexnas/internal/backend/cpu"
	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
	"github.com/born-ml/flexnas/methods"
	"github.com/born-ml/flexnas/methods/pit"
)

// newSimpleNet is conv(3->4) -> bn -> relu -> conv(4->5) -> flatten -> fc(40->2)
// over sequences of length 8.
func newSimpleNet(backend B) *nn.Sequential[B] {
	bn := nn.NewBatchNorm1d(4, backend)
	copy(bn.Bias().Tensor().Data(), []float32{0.5, -0.25, 0.75, 1})
	model := nn.NewSequential[B](
		nn.NewConv1d(3, 4, 3, nn.ConvConfig{Padding: 1}, backend),
		bn,
		nn.NewReLU[B](),
		nn.NewConv1d(4, 5, 3, nn.ConvConfig{Padding: 1}, backend),
		nn.NewFlatten[B](),
		nn.NewLinear(5*8, 2, backend),
	)
	nn.SetTraining[B](model, false)
	return model
}

func importPIT(t *testing.T, model nn.Module[B], backend B, ex methods.Exclusions, shape tensor.Shape) (*graph.Module[B], []string) {
	t.Helper()
	gm, err := graph.Trace[B](model, graph.AnyLeaf(graph.StandardLeaf, pit.IsLayer[B]), 1)
	require.NoError(t, err)
	require.NoError(t, graph.ShapeProp(gm, backend, shape))
	graph.AddNodeProperties(gm)
	targets, err := pit.ConvertLayers(gm, methods.AutoImport, ex)
	require.NoError(t, err)
	require.NoError(t, pit.FuseConvBN(gm))
	graph.AddFeaturesCalculators(gm, backend, pit.FeaturesCalc[B])
	require.NoError(t, pit.AssociateInputFeatures(gm))
	pit.RegisterInputFeatures(gm)
	pit.FreezeRigidProducers(gm)
	return gm, targets
}

func exportPIT(t *testing.T, gm *graph.Module[B], backend B) {
	t.Helper()
	graph.AddNodeProperties(gm)
	graph.AddFeaturesCalculators(gm, backend, pit.FeaturesCalc[B])
	pit.RegisterInputFeatures(gm)
	_, err := pit.ConvertLayers(gm, methods.Export, methods.Exclusions{})
	require.NoError(t, err)
	gm.Graph().EliminateDeadCode()
	gm.DeleteAllUnusedSubmodules()
	require.NoError(t, gm.Lint())
	gm.Recompile()
}

func submodule[T any](t *testing.T, gm *graph.Module[B], name string) T {
	t.Helper()
	mod, ok := gm.Submodule(name)
	require.True(t, ok, "no submodule %q", name)
	out, ok := mod.(T)
	require.True(t, ok, "submodule %q is a %T", name, mod)
	return out
}

func TestAutoImportReplacesLayers(t *testing.T) {
	backend := cpu.New()
	model := newSimpleNet(backend)
	x := tensor.Randn(tensor.Shape{2, 3, 8}, backend)
	want := model.Forward(x).Data()

	gm, targets := importPIT(t, model, backend, methods.Exclusions{}, tensor.Shape{3, 8})
	assert.Equal(t, []string{"0", "3", "5"}, targets)

	conv0 := submodule[*pit.Conv1d[B]](t, gm, "0")
	require.NotNil(t, conv0.BatchNorm(), "batch norm not fused")
	submodule[*pit.Conv1d[B]](t, gm, "3")
	fc := submodule[*pit.Linear[B]](t, gm, "5")

	for _, n := range gm.Graph().Nodes() {
		assert.NotEqual(t, "1", n.Target, "fused batch norm still called")
	}
	assert.True(t, conv0.OutChannelMasker().Trainable())
	assert.False(t, fc.OutChannelMasker().Trainable(), "output layer channels must be frozen")

	// Keep-all masks leave the function unchanged.
	assert.InDeltaSlice(t, want, gm.Forward(x).Data(), 1e-4)
}

func TestExportKeepAllIsEquivalent(t *testing.T) {
	backend := cpu.New()
	model := newSimpleNet(backend)
	x := tensor.Randn(tensor.Shape{2, 3, 8}, backend)
	want := model.Forward(x).Data()

	gm, _ := importPIT(t, model, backend, methods.Exclusions{}, tensor.Shape{3, 8})
	exportPIT(t, gm, backend)

	conv0 := submodule[*nn.Conv1d[B]](t, gm, "0")
	assert.Equal(t, 4, conv0.OutChannels())
	submodule[*nn.BatchNorm[B]](t, gm, "0_bn")
	submodule[*nn.Linear[B]](t, gm, "5")
	assert.InDeltaSlice(t, want, gm.Forward(x).Data(), 1e-4)
}

func TestExportPrunesMaskedChannelsAndTimesteps(t *testing.T) {
	backend := cpu.New()
	model := newSimpleNet(backend)
	gm, _ := importPIT(t, model, backend, methods.Exclusions{}, tensor.Shape{3, 8})

	conv0 := submodule[*pit.Conv1d[B]](t, gm, "0")
	copy(conv0.OutChannelMasker().Beta().Tensor().Data(), []float32{1, 1, 0, 0})
	copy(conv0.TimestepMasker().Beta().Tensor().Data(), []float32{1, 1, 0})
	conv1 := submodule[*pit.Conv1d[B]](t, gm, "3")
	copy(conv1.OutChannelMasker().Beta().Tensor().Data(), []float32{1, 1, 1, 1, 0.1})

	assert.Equal(t, 3*2*2+2+2*2, conv0.EstimateParams())
	assert.Equal(t, map[string]any{"in_channels": 3, "out_channels": 2, "kernel_size": 2, "dilation": 1}, conv0.Summary())

	x := tensor.Randn(tensor.Shape{2, 3, 8}, backend)
	want := gm.Forward(x).Data()

	exportPIT(t, gm, backend)

	c0 := submodule[*nn.Conv1d[B]](t, gm, "0")
	assert.Equal(t, 3, c0.InChannels())
	assert.Equal(t, 2, c0.OutChannels())
	assert.Equal(t, 2, c0.KernelSize())
	left, right := c0.Padding()
	assert.Equal(t, [2]int{0, 1}, [2]int{left, right})
	assert.Equal(t, 2, submodule[*nn.BatchNorm[B]](t, gm, "0_bn").NumFeatures())

	c1 := submodule[*nn.Conv1d[B]](t, gm, "3")
	assert.Equal(t, 2, c1.InChannels())
	assert.Equal(t, 4, c1.OutChannels())

	fc := submodule[*nn.Linear[B]](t, gm, "5")
	assert.Equal(t, 4*8, fc.InFeatures())
	assert.Equal(t, 2, fc.OutFeatures())

	assert.InDeltaSlice(t, want, gm.Forward(x).Data(), 1e-4)
}

func TestExclusionsAndGroupedConvs(t *testing.T) {
	backend := cpu.New()
	model := nn.NewSequential[B](
		nn.NewConv1d(4, 4, 3, nn.ConvConfig{Padding: 1, Groups: 4}, backend),
		nn.NewConv1d(4, 4, 3, nn.ConvConfig{Padding: 1}, backend),
		nn.NewConv1d(4, 4, 1, nn.ConvConfig{}, backend),
	)
	gm, targets := importPIT(t, model, backend, methods.Exclusions{Names: []string{"2"}}, tensor.Shape{4, 8})
	assert.Equal(t, []string{"1"}, targets)
	submodule[*nn.Conv1d[B]](t, gm, "0")
	submodule[*nn.Conv1d[B]](t, gm, "2")

	// "1" feeds a plain layer, which cannot follow a change of channels.
	assert.False(t, submodule[*pit.Conv1d[B]](t, gm, "1").OutChannelMasker().Trainable())
}

func TestPropagatingLayersWithParametersAreRigid(t *testing.T) {
	backend := cpu.New()
	model := nn.NewSequential[B](
		nn.NewConv1d(2, 3, 3, nn.ConvConfig{Padding: 1}, backend),
		nn.NewReLU[B](),
		nn.NewBatchNorm1d(3, backend),
		nn.NewConv1d(3, 4, 3, nn.ConvConfig{Padding: 1}, backend),
		nn.NewAvgPool1d[B](2, 0),
		nn.NewConv1d(4, 2, 1, nn.ConvConfig{}, backend),
	)
	nn.SetTraining[B](model, false)
	gm, targets := importPIT(t, model, backend, methods.Exclusions{}, tensor.Shape{2, 8})
	assert.Equal(t, []string{"0", "3", "5"}, targets)

	// The BatchNorm after the ReLU is not fused and keeps its 3 channels.
	assert.False(t, submodule[*pit.Conv1d[B]](t, gm, "0").OutChannelMasker().Trainable())
	// Pooling has no parameters and follows any channel count.
	assert.True(t, submodule[*pit.Conv1d[B]](t, gm, "3").OutChannelMasker().Trainable())
}

// branchy is conv0 -> (conv1 + conv2) -> flatten -> fc.
type branchy struct {
	conv0, conv1, conv2 *nn.Conv1d[B]
	fc                  *nn.Linear[B]
}

func (m *branchy) Forward(x *tensor.Tensor[B]) *tensor.Tensor[B] {
	x = m.conv0.Forward(x)
	return m.fc.Forward(m.conv1.Forward(x).Add(m.conv2.Forward(x)).Flatten())
}

func (m *branchy) Parameters() []*nn.Parameter[B] {
	var ps []*nn.Parameter[B]
	for _, c := range m.NamedChildren() {
		ps = append(ps, c.Module.Parameters()...)
	}
	return ps
}

func (m *branchy) NamedChildren() []nn.NamedModule[B] {
	return []nn.NamedModule[B]{
		{Name: "conv0", Module: m.conv0},
		{Name: "conv1", Module: m.conv1},
		{Name: "conv2", Module: m.conv2},
		{Name: "fc", Module: m.fc},
	}
}

func (m *branchy) Trace(tr *graph.Tracer[B], in ...*graph.Node) *graph.Node {
	x := tr.Call(m.conv0, "conv0", in[0])
	y := tr.Add(tr.Call(m.conv1, "conv1", x), tr.Call(m.conv2, "conv2", x))
	return tr.Call(m.fc, "fc", tr.Flatten(y))
}

func TestSharedInputFeaturesShareMasker(t *testing.T) {
	backend := cpu.New()
	model := &branchy{
		conv0: nn.NewConv1d(2, 3, 3, nn.ConvConfig{Padding: 1}, backend),
		conv1: nn.NewConv1d(3, 4, 3, nn.ConvConfig{Padding: 1}, backend),
		conv2: nn.NewConv1d(3, 4, 1, nn.ConvConfig{}, backend),
		fc:    nn.NewLinear(4*6, 2, backend),
	}
	gm, _ := importPIT(t, model, backend, methods.Exclusions{}, tensor.Shape{2, 6})

	c1 := submodule[*pit.Conv1d[B]](t, gm, "conv1")
	c2 := submodule[*pit.Conv1d[B]](t, gm, "conv2")
	assert.Same(t, c1.OutChannelMasker(), c2.OutChannelMasker())
	assert.True(t, c1.OutChannelMasker().Trainable())

	// Masking the shared channel removes it from both branches and from fc.
	copy(c1.OutChannelMasker().Beta().Tensor().Data(), []float32{1, 0, 1, 1})
	x := tensor.Randn(tensor.Shape{3, 2, 6}, backend)
	want := gm.Forward(x).Data()
	exportPIT(t, gm, backend)

	assert.Equal(t, 3, submodule[*nn.Conv1d[B]](t, gm, "conv1").OutChannels())
	assert.Equal(t, 3, submodule[*nn.Conv1d[B]](t, gm, "conv2").OutChannels())
	assert.Equal(t, 3*6, submodule[*nn.Linear[B]](t, gm, "fc").InFeatures())
	assert.InDeltaSlice(t, want, gm.Forward(x).Data(), 1e-4)
}

func TestLayerCostsAreDifferentiable(t *testing.T) {
	backend := newTape()
	conv := pit.NewConv1d(nn.NewConv1d(2, 3, 4, nn.ConvConfig{}, backend))
	conv.SetOutputShape(tensor.Shape{1, 3, 10})
	assert.Equal(t, 2*3*4+3, conv.EstimateParams())
	assert.Equal(t, 2*3*4*10, conv.EstimateMACs(tensor.Shape{1, 3, 10}))

	backend.Tape().StartRecording()
	size := conv.Size()
	grads := autodiffBackward(size, backend)
	assert.NotNil(t, grads[conv.OutChannelMasker().Beta().Tensor().Raw()])
	assert.NotNil(t, grads[conv.TimestepMasker().Beta().Tensor().Raw()])
}

func TestNamedNASParameters(t *testing.T) {
	backend := cpu.New()
	conv := pit.NewConv1d(nn.NewConv1d(2, 3, 4, nn.ConvConfig{}, backend))
	var names []string
	for _, p := range conv.NamedNASParameters("net.conv", true) {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"net.conv.out_channel_masker.beta", "net.conv.timestep_masker.beta"}, names)

	var all []string
	for _, p := range nn.NamedParameters[B](conv, "") {
		all = append(all, p.Name)
	}
	assert.ElementsMatch(t, []string{"weight", "bias", "out_channel_masker.beta", "timestep_masker.beta"}, all)
}
