package cpu

import (
	"math"
	"testing"

	"github.com/born-ml/flexnas/internal/parallel"
	"github.com/born-ml/flexnas/internal/tensor"
)

func raw(t *testing.T, data []float32, shape ...int) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.RawFromSlice(data, tensor.Shape(shape), tensor.CPU)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func assertClose(t *testing.T, want, got []float32, msg string) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("%s: length %d, want %d", msg, len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(want[i]-got[i])) > 1e-5 {
			t.Fatalf("%s: element %d = %v, want %v (got %v)", msg, i, got[i], want[i], got)
		}
	}
}

func TestAddBroadcast(t *testing.T) {
	b := New()
	a := raw(t, []float32{1, 2, 3}, 3, 1)
	c := raw(t, []float32{10, 20}, 1, 2)
	out := b.Add(a, c)
	if !out.Shape().Equal(tensor.Shape{3, 2}) {
		t.Fatalf("shape %v", out.Shape())
	}
	assertClose(t, []float32{11, 21, 12, 22, 13, 23}, out.Data(), "add")
}

func TestDivScalarTensor(t *testing.T) {
	b := New()
	out := b.Div(raw(t, []float32{2, 4, 6, 8}, 2, 2), raw(t, []float32{2}, 1))
	assertClose(t, []float32{1, 2, 3, 4}, out.Data(), "div")
}

func TestMatMul(t *testing.T) {
	b := New()
	out := b.MatMul(raw(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3), raw(t, []float32{1, 0, 0, 1, 1, 1}, 3, 2))
	assertClose(t, []float32{4, 5, 10, 11}, out.Data(), "matmul")
}

func TestTranspose(t *testing.T) {
	b := New()
	out := b.Transpose(raw(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3))
	if !out.Shape().Equal(tensor.Shape{3, 2}) {
		t.Fatalf("shape %v", out.Shape())
	}
	assertClose(t, []float32{1, 4, 2, 5, 3, 6}, out.Data(), "transpose")
}

func TestCat(t *testing.T) {
	b := New()
	out := b.Cat([]*tensor.RawTensor{
		raw(t, []float32{1, 2}, 2, 1),
		raw(t, []float32{3, 4, 5, 6}, 2, 2),
	}, 1)
	assertClose(t, []float32{1, 3, 4, 2, 5, 6}, out.Data(), "cat")
}

func TestConv2DIdentityKernel(t *testing.T) {
	b := New()
	input := raw(t, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}, 1, 1, 3, 3)
	kernel := raw(t, []float32{0, 0, 0, 0, 1, 0, 0, 0, 0}, 1, 1, 3, 3)
	out := b.Conv2D(input, kernel, tensor.ConvParams{PadTop: 1, PadBottom: 1, PadLeft: 1, PadRight: 1})
	assertClose(t, input.Data(), out.Data(), "identity conv")
}

func TestConv1DAsymmetricPadding(t *testing.T) {
	b := New()
	// Causal conv: pad 2 on the left only, kernel [1, 1, 1] sums the last 3 samples.
	input := raw(t, []float32{1, 2, 3, 4}, 1, 1, 1, 4)
	kernel := raw(t, []float32{1, 1, 1}, 1, 1, 1, 3)
	out := b.Conv2D(input, kernel, tensor.ConvParams{PadLeft: 2})
	assertClose(t, []float32{1, 3, 6, 9}, out.Data(), "causal conv")

	// Negative padding crops the input.
	out = b.Conv2D(input, raw(t, []float32{1}, 1, 1, 1, 1), tensor.ConvParams{PadLeft: -1})
	assertClose(t, []float32{2, 3, 4}, out.Data(), "cropping conv")
}

func TestConv2DGroups(t *testing.T) {
	b := New()
	b.SetParallel(parallel.Config{Enabled: true, NumWorkers: 2, MinChunkSize: 1})
	// Depthwise: each channel scaled by its own 1x1 kernel.
	input := raw(t, []float32{1, 2, 3, 4}, 1, 2, 1, 2)
	kernel := raw(t, []float32{2, 3}, 2, 1, 1, 1)
	out := b.Conv2D(input, kernel, tensor.ConvParams{Groups: 2})
	assertClose(t, []float32{2, 4, 9, 12}, out.Data(), "depthwise conv")
}

func TestConv2DGradients(t *testing.T) {
	b := New()
	input := raw(t, []float32{1, 2, 3, 4}, 1, 1, 1, 4)
	kernel := raw(t, []float32{1, -1}, 1, 1, 1, 2)
	p := tensor.ConvParams{}.Normalized()
	grad := raw(t, []float32{1, 1, 1}, 1, 1, 1, 3)

	gIn := b.Conv2DInputGrad(grad, kernel, input.Shape(), p)
	assertClose(t, []float32{1, 0, 0, -1}, gIn.Data(), "input grad")

	gK := b.Conv2DKernelGrad(input, grad, kernel.Shape(), p)
	assertClose(t, []float32{6, 9}, gK.Data(), "kernel grad")
}

func TestPooling(t *testing.T) {
	b := New()
	input := raw(t, []float32{1, 3, 2, 8}, 1, 1, 1, 4)
	p := tensor.PoolParams{KernelH: 1, KernelW: 2}
	assertClose(t, []float32{2, 5}, b.AvgPool2D(input, p).Data(), "avg")
	assertClose(t, []float32{3, 8}, b.MaxPool2D(input, p).Data(), "max")
	assertClose(t, []float32{0, 1, 0, 1}, b.MaxPool2DGrad(input, raw(t, []float32{1, 1}, 1, 1, 1, 2), p).Data(), "max grad")
}

func TestReductionsAndSoftmax(t *testing.T) {
	b := New()
	x := raw(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	assertClose(t, []float32{21}, b.Sum(x).Data(), "sum")
	assertClose(t, []float32{5, 7, 9}, b.SumDim(x, 0, false).Data(), "sumDim")
	assertClose(t, []float32{2, 5}, b.MeanDim(x, 1, false).Data(), "meanDim")

	sm := b.Softmax(raw(t, []float32{0, 0, 0, 0}, 4), 0)
	assertClose(t, []float32{0.25, 0.25, 0.25, 0.25}, sm.Data(), "softmax")
}

func TestDiscretization(t *testing.T) {
	b := New()
	x := raw(t, []float32{-1.5, -0.4, 0.5, 2.5}, 4)
	assertClose(t, []float32{-2, 0, 1, 3}, b.Round(x).Data(), "round")
	assertClose(t, []float32{0, 0, 1, 1}, b.Binarize(x, raw(t, []float32{0.5}, 1)).Data(), "binarize")
	assertClose(t, []float32{-1, -0.4, 0.5, 1}, b.Clamp(x, -1, 1).Data(), "clamp")
}
