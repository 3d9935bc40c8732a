package nn_test

import (
	"math"
	"testing"

	"github.com/born-ml/flexnas/internal/autodiff"
	"github.com/born-ml/flexnas/internal/backend/cpu"
	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
)

func TestLinearForward(t *testing.T) {
	backend := cpu.New()
	w := tensor.MustFromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3}, backend)
	b := tensor.MustFromSlice([]float32{1, -1}, tensor.Shape{2}, backend)
	layer := nn.NewLinearFrom(w, b)

	x := tensor.MustFromSlice([]float32{1, 1, 1}, tensor.Shape{1, 3}, backend)
	out := layer.Forward(x)

	if !out.Shape().Equal(tensor.Shape{1, 2}) {
		t.Fatalf("expected shape [1 2], got %v", out.Shape())
	}
	if out.At(0, 0) != 7 || out.At(0, 1) != 14 {
		t.Errorf("unexpected output %v", out.Data())
	}
	if len(layer.Parameters()) != 2 {
		t.Errorf("expected 2 parameters, got %d", len(layer.Parameters()))
	}
}

func TestConv1dCausalPadding(t *testing.T) {
	backend := cpu.New()
	// Kernel [0, 0, 1] picks the current sample; causal padding keeps length.
	w := tensor.MustFromSlice([]float32{0, 0, 1}, tensor.Shape{1, 1, 3}, backend)
	conv := nn.NewConv1dFrom(w, nil, 1, 2, 0, 1, 1)

	x := tensor.MustFromSlice([]float32{1, 2, 3, 4}, tensor.Shape{1, 1, 4}, backend)
	out := conv.Forward(x)
	if !out.Shape().Equal(tensor.Shape{1, 1, 4}) {
		t.Fatalf("expected [1 1 4], got %v", out.Shape())
	}
	for i, want := range []float32{1, 2, 3, 4} {
		if out.At(0, 0, i) != want {
			t.Errorf("out[%d] = %v, want %v", i, out.At(0, 0, i), want)
		}
	}

	conv.SetPadding(1, 0)
	if l, r := conv.Padding(); l != 1 || r != 0 {
		t.Errorf("padding not updated: (%d, %d)", l, r)
	}
	if got := conv.Forward(x).Shape(); !got.Equal(tensor.Shape{1, 1, 3}) {
		t.Errorf("expected [1 1 3] after shrinking padding, got %v", got)
	}
}

func TestConv2dShapes(t *testing.T) {
	backend := cpu.New()
	conv := nn.NewConv2d(3, 8, 3, nn.ConvConfig{Padding: 1}, backend)
	out := conv.Forward(tensor.Randn(tensor.Shape{2, 3, 5, 5}, backend))
	if !out.Shape().Equal(tensor.Shape{2, 8, 5, 5}) {
		t.Errorf("expected [2 8 5 5], got %v", out.Shape())
	}
	if conv.Config().Padding != 1 || conv.Groups() != 1 {
		t.Errorf("unexpected config %+v", conv.Config())
	}
}

func TestBatchNormTrainingAndEval(t *testing.T) {
	backend := cpu.New()
	bn := nn.NewBatchNorm1d(2, backend)
	x := tensor.MustFromSlice([]float32{1, 10, 3, 30}, tensor.Shape{2, 2}, backend)

	out := bn.Forward(x)
	// Each channel normalized to zero mean.
	for c := range 2 {
		mean := (out.At(0, c) + out.At(1, c)) / 2
		if math.Abs(float64(mean)) > 1e-5 {
			t.Errorf("channel %d mean %v, want 0", c, mean)
		}
	}
	if bn.RunningMean()[0] == 0 {
		t.Error("running mean not updated in training mode")
	}

	nn.SetTraining[*cpu.CPUBackend](bn, false)
	before := append([]float32(nil), bn.RunningMean()...)
	bn.Forward(x)
	if bn.RunningMean()[0] != before[0] {
		t.Error("running mean changed in eval mode")
	}
}

func TestSequentialChildren(t *testing.T) {
	backend := cpu.New()
	seq := nn.NewSequential[*cpu.CPUBackend](
		nn.NewLinear(4, 3, backend),
		nn.NewReLU[*cpu.CPUBackend](),
		nn.NewSequential[*cpu.CPUBackend](nn.NewLinear(3, 2, backend)),
	)

	var names []string
	nn.Walk[*cpu.CPUBackend](seq, func(name string, _ nn.Module[*cpu.CPUBackend]) {
		names = append(names, name)
	})
	want := []string{"", "0", "1", "2", "2.0"}
	if len(names) != len(want) {
		t.Fatalf("walk visited %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	params := nn.NamedParameters[*cpu.CPUBackend](seq, "")
	if len(params) != 4 || params[0].Name != "0.weight" || params[3].Name != "2.0.bias" {
		t.Errorf("unexpected named parameters: %v", params)
	}

	if !seq.SetChild("1", nn.NewIdentity[*cpu.CPUBackend]()) {
		t.Fatal("SetChild failed")
	}
	if _, ok := seq.Module(1).(*nn.Identity[*cpu.CPUBackend]); !ok {
		t.Error("child not replaced")
	}
	if seq.SetChild("7", nn.NewIdentity[*cpu.CPUBackend]()) {
		t.Error("SetChild out of range should fail")
	}
}

func TestFeaturesRole(t *testing.T) {
	backend := cpu.New()
	if nn.RoleOf(nn.NewLinear(2, 2, backend)) != nn.RoleDefining {
		t.Error("Linear should define features")
	}
	if nn.RoleOf(nn.NewReLU[*cpu.CPUBackend]()) != nn.RolePropagating {
		t.Error("ReLU should propagate features")
	}
	if nn.RoleOf(nn.NewBatchNorm2d(2, backend)) != nn.RolePropagating {
		t.Error("BatchNorm should propagate features")
	}
}

func TestNameHelpers(t *testing.T) {
	if nn.JoinName("", "a") != "a" || nn.JoinName("a", "b") != "a.b" {
		t.Error("JoinName")
	}
	parent, name := nn.SplitName("a.b.c")
	if parent != "a.b" || name != "c" {
		t.Errorf("SplitName: %q %q", parent, name)
	}
}

func TestMSELossGradient(t *testing.T) {
	backend := autodiff.New(cpu.New())
	backend.Tape().StartRecording()

	pred := tensor.MustFromSlice([]float32{1, 2}, tensor.Shape{2}, backend)
	target := tensor.MustFromSlice([]float32{0, 0}, tensor.Shape{2}, backend)
	loss := nn.NewMSELoss[*autodiff.AutodiffBackend[*cpu.CPUBackend]]().Forward(pred, target)

	if loss.Item() != 2.5 {
		t.Fatalf("expected loss 2.5, got %v", loss.Item())
	}
	grads := autodiff.Backward(loss, backend)
	g := grads[pred.Raw()].Data()
	if g[0] != 1 || g[1] != 2 {
		t.Errorf("expected grad [1 2], got %v", g)
	}
}

func TestParameterTrainable(t *testing.T) {
	backend := cpu.New()
	p := nn.NewParameter("w", tensor.Zeros(tensor.Shape{1}, backend))
	if !p.Trainable() {
		t.Error("parameters are trainable by default")
	}
	p.SetTrainable(false)
	if p.Trainable() {
		t.Error("SetTrainable(false) ignored")
	}
}

func TestBatchNormSelectChannels(t *testing.T) {
	backend := cpu.New()
	bn := nn.NewBatchNorm1d(3, backend)
	copy(bn.Weight().Tensor().Data(), []float32{1, 2, 3})
	copy(bn.RunningMean(), []float32{0.1, 0.2, 0.3})
	nn.SetTraining[*cpu.CPUBackend](bn, false)

	sel := bn.SelectChannels([]int{0, 2})
	if sel.NumFeatures() != 2 || sel.Training() {
		t.Fatalf("got %v training=%v", sel, sel.Training())
	}
	if w := sel.Weight().Tensor().Data(); w[0] != 1 || w[1] != 3 {
		t.Errorf("weight = %v, want [1 3]", w)
	}
	if m := sel.RunningMean(); m[1] != 0.3 {
		t.Errorf("running mean = %v", m)
	}
}
