package graph_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/flexnas/graph"
	"github.com/born-ml/flexnas/internal/backend/cpu"
	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
	"github.com/born-ml/flexnas/naserr"
)

type B = *cpu.CPUBackend

// residual is conv0 -> relu -> (conv1 + conv2) -> flatten -> fc.
type residual struct {
	conv0, conv1, conv2 *nn.Conv1d[B]
	relu                *nn.ReLU[B]
	fc                  *nn.Linear[B]
}

func newResidual(backend B) *residual {
	return &residual{
		conv0: nn.NewConv1d(3, 4, 3, nn.ConvConfig{Padding: 1}, backend),
		conv1: nn.NewConv1d(4, 6, 3, nn.ConvConfig{Padding: 1}, backend),
		conv2: nn.NewConv1d(4, 6, 1, nn.ConvConfig{}, backend),
		relu:  nn.NewReLU[B](),
		fc:    nn.NewLinear(6*8, 2, backend),
	}
}

func (m *residual) Forward(x *tensor.Tensor[B]) *tensor.Tensor[B] {
	x = m.relu.Forward(m.conv0.Forward(x))
	y := m.conv1.Forward(x).Add(m.conv2.Forward(x))
	return m.fc.Forward(y.Flatten())
}

func (m *residual) Parameters() []*nn.Parameter[B] {
	var ps []*nn.Parameter[B]
	for _, c := range m.NamedChildren() {
		ps = append(ps, c.Module.Parameters()...)
	}
	return ps
}

func (m *residual) NamedChildren() []nn.NamedModule[B] {
	return []nn.NamedModule[B]{
		{Name: "conv0", Module: m.conv0},
		{Name: "relu", Module: m.relu},
		{Name: "conv1", Module: m.conv1},
		{Name: "conv2", Module: m.conv2},
		{Name: "fc", Module: m.fc},
	}
}

func (m *residual) Trace(tr *graph.Tracer[B], in ...*graph.Node) *graph.Node {
	x := tr.Call(m.relu, "relu", tr.Call(m.conv0, "conv0", in[0]))
	y := tr.Add(tr.Call(m.conv1, "conv1", x), tr.Call(m.conv2, "conv2", x))
	return tr.Call(m.fc, "fc", tr.Flatten(y))
}

func traceResidual(t *testing.T) (*residual, *graph.Module[B], B) {
	t.Helper()
	backend := cpu.New()
	model := newResidual(backend)
	gm, err := graph.Trace[B](model, graph.StandardLeaf, 1)
	require.NoError(t, err)
	return model, gm, backend
}

func targets(g *graph.Graph) []string {
	var out []string
	for _, n := range g.Nodes() {
		switch n.Kind {
		case graph.KindCallModule:
			out = append(out, n.Target)
		case graph.KindCallFunction:
			out = append(out, n.Func.String())
		}
	}
	return out
}

func TestTraceCustomModule(t *testing.T) {
	model, gm, backend := traceResidual(t)

	assert.Equal(t, "residual", gm.Name())
	assert.Equal(t, []string{"conv0", "relu", "conv1", "conv2", "add", "flatten", "fc"}, targets(gm.Graph()))
	require.NoError(t, gm.Lint())

	x := tensor.Randn(tensor.Shape{2, 3, 8}, backend)
	assert.Equal(t, model.Forward(x).Data(), gm.Forward(x).Data())
	assert.Len(t, gm.Parameters(), 8)
	assert.Equal(t, "conv0.weight", gm.NamedParameters()[0].Name)
}

func TestTraceSequentialIsFlattened(t *testing.T) {
	backend := cpu.New()
	seq := nn.NewSequential[B](
		nn.NewLinear(4, 3, backend),
		nn.NewSequential[B](nn.NewReLU[B](), nn.NewLinear(3, 2, backend)),
	)
	gm, err := graph.Trace[B](seq, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1.0", "1.1"}, targets(gm.Graph()))

	_, ok := gm.Submodule("1")
	assert.True(t, ok, "containers are registered")
}

func TestTraceRejectsOpaqueContainers(t *testing.T) {
	backend := cpu.New()
	list := nn.NewModuleList[B](nn.NewLinear(2, 2, backend))
	_, err := graph.Trace[B](nn.NewSequential[B](list), nil, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, naserr.ErrStructural)
}

func TestShapeProp(t *testing.T) {
	_, gm, backend := traceResidual(t)
	require.NoError(t, graph.ShapeProp(gm, backend, tensor.Shape{3, 8}))

	shapes := map[string]tensor.Shape{}
	for _, n := range gm.Graph().Nodes() {
		shapes[n.Name] = gm.Meta(n).Shape
	}
	assert.Equal(t, tensor.Shape{32, 3, 8}, shapes["x"])
	assert.Equal(t, tensor.Shape{32, 6, 8}, shapes["add"])
	assert.Equal(t, tensor.Shape{32, 48}, shapes["flatten"])
	assert.Equal(t, tensor.Shape{32, 2}, shapes["output"])
}

func TestShapePropReportsStructuralError(t *testing.T) {
	_, gm, backend := traceResidual(t)
	err := graph.ShapeProp(gm, backend, tensor.Shape{5, 8})
	require.Error(t, err)
	assert.ErrorIs(t, err, naserr.ErrStructural)
	assert.Contains(t, err.Error(), "shape propagation of")
	assert.Equal(t, 1, strings.Count(err.Error(), naserr.ErrStructural.Error()), err.Error())
}

func TestNodeProperties(t *testing.T) {
	_, gm, backend := traceResidual(t)
	require.NoError(t, graph.ShapeProp(gm, backend, tensor.Shape{3, 8}))
	graph.AddNodeProperties(gm)
	graph.AddFeaturesCalculators(gm, backend)

	byName := map[string]*graph.Node{}
	for _, n := range gm.Graph().Nodes() {
		byName[n.Name] = n
	}
	assert.True(t, gm.Meta(byName["conv0"]).FeaturesDefining)
	assert.True(t, gm.Meta(byName["relu"]).FeaturesPropagating)
	assert.True(t, gm.Meta(byName["add"]).SharedInputFeatures)

	assert.Equal(t, 4, gm.Meta(byName["relu"]).FeaturesCalculator.NumFeatures())
	assert.Equal(t, 48, gm.Meta(byName["flatten"]).FeaturesCalculator.NumFeatures())
	assert.Same(t, byName["conv0"], graph.FeaturesDefiner(gm, byName["relu"]))

	groups := graph.SharedFeatureGroups(gm)
	require.Len(t, groups, 1)
	assert.Equal(t, []*graph.Node{byName["conv1"], byName["conv2"]}, groups[0])
}

func TestRewrites(t *testing.T) {
	_, gm, backend := traceResidual(t)
	g := gm.Graph()
	var conv2, add *graph.Node
	for _, n := range g.Nodes() {
		switch n.Name {
		case "conv2":
			conv2 = n
		case "add":
			add = n
		}
	}

	// Bypass the sum: its users now read conv1 directly.
	conv1 := add.Args()[0]
	users := g.ReplaceAllUsesWith(add, conv1)
	require.Len(t, users, 1)
	require.Error(t, g.EraseNode(conv1), "conv1 still has users")

	assert.True(t, g.EliminateDeadCode())
	assert.Nil(t, add.Graph())
	assert.Nil(t, conv2.Graph())
	assert.Equal(t, []string{"conv2"}, gm.DeleteAllUnusedSubmodules())

	var relu *graph.Node
	for _, n := range g.Nodes() {
		if n.Name == "relu" {
			relu = n
		}
	}
	g.InsertingAfter(relu, func() {
		id := g.CallFunction(graph.FuncReLU, 0, relu)
		g.ReplaceAllUsesWith(relu, id)
	})
	require.NoError(t, gm.Lint())
	gm.Recompile()

	out := gm.Forward(tensor.Randn(tensor.Shape{1, 3, 8}, backend))
	assert.Equal(t, tensor.Shape{1, 2}, out.Shape())
}

func TestSetSubmodule(t *testing.T) {
	_, gm, backend := traceResidual(t)
	replacement := nn.NewConv1d(4, 6, 3, nn.ConvConfig{Padding: 1}, backend)
	require.NoError(t, gm.SetSubmodule("conv1", replacement))
	mod, _ := gm.Submodule("conv1")
	assert.Same(t, replacement, mod)

	assert.Error(t, gm.SetSubmodule("missing", replacement))
	assert.Error(t, gm.AddSubmodule("conv1", replacement))
}

func TestRetraceGraphModule(t *testing.T) {
	_, gm, backend := traceResidual(t)
	again, err := graph.Trace[B](gm, graph.StandardLeaf, 1)
	require.NoError(t, err)
	assert.Equal(t, targets(gm.Graph()), targets(again.Graph()))

	x := tensor.Randn(tensor.Shape{1, 3, 8}, backend)
	assert.Equal(t, gm.Forward(x).Data(), again.Forward(x).Data())
}

func TestWalkFromOutputsVisitsOnce(t *testing.T) {
	_, gm, _ := traceResidual(t)
	counts := map[string]int{}
	graph.WalkFromOutputs(gm.Graph(), func(n *graph.Node) { counts[n.Name]++ })
	for name, c := range counts {
		assert.Equal(t, 1, c, name)
	}
	assert.Equal(t, 1, counts["relu"], "diamond ancestor visited once")
	assert.Equal(t, 1, counts["x"])
}
