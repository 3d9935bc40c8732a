package optim_test

import (
	"math"
	"testing"

	"github.com/born-ml/flexnas/internal/autodiff"
	"github.com/born-ml/flexnas/internal/backend/cpu"
	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/optim"
	"github.com/born-ml/flexnas/internal/tensor"
)

type testBackend = *autodiff.AutodiffBackend[*cpu.CPUBackend]

// Helper to check float equality with tolerance.
func floatEqual(a, b, eps float32) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < eps
}

func scalarParam(backend testBackend, v float32) *nn.Parameter[testBackend] {
	return nn.NewParameter("x", tensor.MustFromSlice([]float32{v}, tensor.Shape{1}, backend))
}

func gradOf(param *nn.Parameter[testBackend], v float32) map[*tensor.RawTensor]*tensor.RawTensor {
	grad, _ := tensor.RawFromSlice([]float32{v}, tensor.Shape{1}, tensor.CPU)
	return map[*tensor.RawTensor]*tensor.RawTensor{param.Tensor().Raw(): grad}
}

// TestSGD_SimpleUpdate tests SGD without momentum.
func TestSGD_SimpleUpdate(t *testing.T) {
	backend := autodiff.New(cpu.New())
	param := scalarParam(backend, 2.0)

	optimizer := optim.NewSGD([]*nn.Parameter[testBackend]{param}, optim.SGDConfig{LR: 0.1}, backend)
	optimizer.Step(gradOf(param, 1.0))

	// Expected: x_new = x_old - lr * grad = 2.0 - 0.1 * 1.0 = 1.9
	if actual := param.Tensor().Item(); !floatEqual(actual, 1.9, 1e-6) {
		t.Errorf("SGD update: got %f, want %f", actual, 1.9)
	}
}

// TestSGD_WithMomentum tests SGD with momentum.
func TestSGD_WithMomentum(t *testing.T) {
	backend := autodiff.New(cpu.New())
	param := scalarParam(backend, 1.0)

	optimizer := optim.NewSGD([]*nn.Parameter[testBackend]{param}, optim.SGDConfig{LR: 0.1, Momentum: 0.9}, backend)

	// Step 1: v = 1, x = 1 - 0.1 = 0.9
	optimizer.Step(gradOf(param, 1.0))
	if actual := param.Tensor().Item(); !floatEqual(actual, 0.9, 1e-6) {
		t.Errorf("after step 1: got %f, want 0.9", actual)
	}

	// Step 2: v = 0.9 + 1 = 1.9, x = 0.9 - 0.19 = 0.71
	optimizer.Step(gradOf(param, 1.0))
	if actual := param.Tensor().Item(); !floatEqual(actual, 0.71, 1e-6) {
		t.Errorf("after step 2: got %f, want 0.71", actual)
	}

	state := optimizer.StateDict()
	if v := state["velocity.0"]; v == nil || !floatEqual(v.Item(), 1.9, 1e-6) {
		t.Errorf("unexpected velocity state %v", state)
	}
}

func TestSGD_FrozenParameterSkipped(t *testing.T) {
	backend := autodiff.New(cpu.New())
	param := scalarParam(backend, 3.0)
	param.SetTrainable(false)

	optimizer := optim.NewSGD([]*nn.Parameter[testBackend]{param}, optim.SGDConfig{LR: 1}, backend)
	optimizer.Step(gradOf(param, 5.0))

	if actual := param.Tensor().Item(); actual != 3.0 {
		t.Errorf("frozen parameter updated to %f", actual)
	}
}

func TestSGD_GetSetLR(t *testing.T) {
	backend := autodiff.New(cpu.New())
	optimizer := optim.NewSGD[testBackend](nil, optim.SGDConfig{}, backend)
	if optimizer.GetLR() != 0.01 {
		t.Errorf("default LR: got %f, want 0.01", optimizer.GetLR())
	}
	optimizer.SetLR(0.5)
	if optimizer.GetLR() != 0.5 {
		t.Errorf("SetLR: got %f", optimizer.GetLR())
	}
}

// TestAdam_SimpleUpdate checks the first Adam step moves by lr in the gradient sign.
func TestAdam_SimpleUpdate(t *testing.T) {
	backend := autodiff.New(cpu.New())
	param := scalarParam(backend, 1.0)

	optimizer := optim.NewAdam([]*nn.Parameter[testBackend]{param}, optim.AdamConfig{LR: 0.1}, backend)
	optimizer.Step(gradOf(param, 0.5))

	// With bias correction m_hat = g, v_hat = g², so update = lr * g/|g|.
	if actual := param.Tensor().Item(); !floatEqual(actual, 0.9, 1e-5) {
		t.Errorf("Adam update: got %f, want 0.9", actual)
	}
	if optimizer.GetTimestep() != 1 {
		t.Errorf("timestep: got %d, want 1", optimizer.GetTimestep())
	}
}

// TestConvergence_SimpleQuadratic minimizes (x - 3)² with autodiff gradients.
func TestConvergence_SimpleQuadratic(t *testing.T) {
	backend := autodiff.New(cpu.New())
	param := scalarParam(backend, 0.0)
	optimizer := optim.NewAdam([]*nn.Parameter[testBackend]{param}, optim.AdamConfig{LR: 0.1}, backend)

	for range 300 {
		backend.Tape().Clear()
		backend.Tape().StartRecording()
		diff := param.Tensor().AddScalar(-3)
		loss := diff.Mul(diff).Sum()
		grads := autodiff.Backward(loss, backend)
		backend.Tape().StopRecording()
		optimizer.Step(grads)
	}

	if actual := param.Tensor().Item(); math.Abs(float64(actual-3)) > 0.05 {
		t.Errorf("did not converge: x = %f, want 3", actual)
	}
}

func TestSplit(t *testing.T) {
	backend := autodiff.New(cpu.New())
	a := nn.NewParameter("alpha", tensor.Zeros(tensor.Shape{2}, backend))
	w := nn.NewParameter("weight", tensor.Zeros(tensor.Shape{2}, backend))

	arch, weights := optim.Split([]*nn.Parameter[testBackend]{a, w}, func(p *nn.Parameter[testBackend]) bool {
		return p.Name() == "alpha"
	})
	if len(arch) != 1 || arch[0] != a || len(weights) != 1 || weights[0] != w {
		t.Errorf("unexpected split: %v / %v", arch, weights)
	}
}
