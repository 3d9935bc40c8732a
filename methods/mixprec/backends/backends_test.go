package backends_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/flexnas/internal/backend/cpu"
	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
	"github.com/born-ml/flexnas/methods/mixprec"
	"github.com/born-ml/flexnas/methods/mixprec/backends"
	"github.com/born-ml/flexnas/methods/mixprec/backends/dory"
	"github.com/born-ml/flexnas/naserr"
)

type B = *cpu.CPUBackend

func newNet2d(backend B) *nn.Sequential[B] {
	return nn.NewSequential[B](
		nn.NewConv2d(1, 2, 3, nn.ConvConfig{Padding: 1}, backend),
		nn.NewReLU[B](),
		nn.NewFlatten[B](),
		nn.NewLinear(2*4*4, 3, backend),
	)
}

func TestParseBackend(t *testing.T) {
	b, err := backends.ParseBackend("dory")
	require.NoError(t, err)
	assert.Equal(t, backends.DORY, b)
	assert.Equal(t, "DIANA", backends.DIANA.String())

	_, err = backends.ParseBackend("tflite")
	assert.True(t, naserr.Is(err, naserr.ErrConfiguration))
}

func TestUnsupportedBackends(t *testing.T) {
	model := newNet2d(cpu.New())

	_, err := backends.IntegerizeArch[B](model, backends.Backend(7))
	require.Error(t, err)
	assert.True(t, naserr.Is(err, naserr.ErrConfiguration))
	assert.Contains(t, err.Error(), "unsupported backend")

	for _, b := range []backends.Backend{backends.ONNX, backends.DIANA} {
		_, err = backends.IntegerizeArch[B](model, b)
		require.Error(t, err)
		assert.True(t, naserr.Is(err, naserr.ErrConfiguration))
		assert.Contains(t, err.Error(), b.String())
	}
}

func TestDORYRejectsConv1d(t *testing.T) {
	backend := cpu.New()
	model := nn.NewSequential[B](
		nn.NewConv1d(2, 3, 3, nn.ConvConfig{}, backend),
		nn.NewFlatten[B](),
		nn.NewLinear(3*6, 2, backend),
	)
	gm, _, err := mixprec.Quantize[B](model, tensor.Shape{2, 8}, mixprec.Config{})
	require.NoError(t, err)

	_, err = backends.IntegerizeArch[B](gm, backends.DORY)
	require.Error(t, err)
	assert.True(t, naserr.Is(err, naserr.ErrConfiguration))
	assert.Contains(t, err.Error(), "layer of type mixprec.QuantConv1d is not supported by DORY backend")
}

func TestDORYMatchesFakeQuantization(t *testing.T) {
	backend := cpu.New()
	gm, _, err := mixprec.Quantize[B](newNet2d(backend), tensor.Shape{1, 4, 4}, mixprec.Config{})
	require.NoError(t, err)
	nn.SetTraining[B](gm, false)

	x := tensor.Rand(tensor.Shape{5, 1, 4, 4}, backend)
	want := gm.Forward(x).Data()

	integer, err := backends.IntegerizeArch[B](gm, backends.DORY)
	require.NoError(t, err)
	conv, ok := integer.Submodule("0")
	require.True(t, ok)
	assert.IsType(t, &dory.Conv2d[B]{}, conv)
	fc, _ := integer.Submodule("3")
	assert.IsType(t, &dory.Linear[B]{}, fc)
	_, ok = integer.Submodule("0.input_quantizer")
	assert.False(t, ok)

	for _, p := range conv.Parameters() {
		assert.False(t, p.Trainable())
		for _, v := range p.Tensor().Data() {
			assert.Equal(t, float32(int64(v)), v, "%s holds integer codes", p.Name())
		}
	}
	assert.InDeltaSlice(t, want, integer.Forward(x).Data(), 0.02)
}

func TestIntegerizeNeedsCalibration(t *testing.T) {
	backend := cpu.New()
	fc := mixprec.NewQuantLinear(nn.NewLinear(4, 2, backend), mixprec.Config{})
	_, err := backends.IntegerizeArch[B](nn.NewSequential[B](fc), backends.DORY)
	require.Error(t, err)
	assert.True(t, naserr.Is(err, naserr.ErrConfiguration), "got %v", err)
}

func TestIntegerizeRunsInInferenceMode(t *testing.T) {
	backend := cpu.New()
	bn := nn.NewBatchNorm2d(2, backend)
	model := nn.NewSequential[B](
		nn.NewConv2d(1, 2, 3, nn.ConvConfig{Padding: 1}, backend),
		bn,
		nn.NewFlatten[B](),
		nn.NewLinear(2*4*4, 3, backend),
	)
	gm, _, err := mixprec.Quantize[B](model, tensor.Shape{1, 4, 4}, mixprec.Config{})
	require.NoError(t, err)
	// Back to training, as after quantization-aware training.
	nn.SetTraining[B](gm, true)
	require.True(t, bn.Training())

	integer, err := backends.IntegerizeArch[B](gm, backends.DORY)
	require.NoError(t, err)
	assert.False(t, bn.Training())

	sample := tensor.Rand(tensor.Shape{1, 1, 4, 4}, backend)
	others := tensor.Rand(tensor.Shape{3, 1, 4, 4}, backend).MulScalar(5)
	alone := integer.Forward(sample).Data()
	batched := integer.Forward(tensor.Cat([]*tensor.Tensor[B]{sample, others}, 0)).Data()
	assert.InDeltaSlice(t, alone, batched[:len(alone)], 1e-5)
}
