package quant_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/flexnas/internal/autodiff"
	"github.com/born-ml/flexnas/internal/backend/cpu"
	"github.com/born-ml/flexnas/internal/tensor"
	"github.com/born-ml/flexnas/methods/mixprec/quant"
	"github.com/born-ml/flexnas/naserr"
)

type B = *cpu.CPUBackend

func vec(backend B, data ...float32) *tensor.Tensor[B] {
	return tensor.MustFromSlice(data, tensor.Shape{len(data)}, backend)
}

func TestMinMaxWeight(t *testing.T) {
	backend := cpu.New()
	q := quant.NewMinMaxWeight[B](4)
	_, err := q.ScaleFactor()
	assert.True(t, naserr.Is(err, naserr.ErrConfiguration))

	w := vec(backend, -1.4, 0.6, 0.2, 1.4)
	out := q.Forward(w)
	s, err := q.ScaleFactor()
	require.NoError(t, err)
	assert.InDelta(t, 0.2, s.Item(), 1e-6)
	assert.InDeltaSlice(t, []float32{-1.4, 0.6, 0.2, 1.4}, out.Data(), 1e-5)

	q.SetDequantize(false)
	assert.False(t, q.Dequantize())
	assert.InDeltaSlice(t, []float32{-7, 3, 1, 7}, q.Forward(w).Data(), 1e-6)
	assert.InDelta(t, 0.2, q.Summary()["scale_factor"], 1e-6)
}

func TestMinMaxActRunningMax(t *testing.T) {
	backend := cpu.New()
	q := quant.NewMinMaxAct[B](4)
	q.SetDequantize(false)

	codes := q.Forward(vec(backend, -2, 1, 0.5, 3.5))
	assert.InDeltaSlice(t, []float32{-4, 2, 1, 7}, codes.Data(), 1e-6)

	// A smaller batch does not shrink the running max.
	q.Forward(vec(backend, 1))
	s, err := q.ScaleFactor()
	require.NoError(t, err)
	assert.InDelta(t, 0.5, s.Item(), 1e-6)

	q.SetTraining(false)
	codes = q.Forward(vec(backend, 7, -9))
	assert.InDeltaSlice(t, []float32{7, -8}, codes.Data(), 1e-6, "codes clamp to the signed range")
	s, _ = q.ScaleFactor()
	assert.InDelta(t, 0.5, s.Item(), 1e-6, "eval mode freezes the scale")
}

func TestMinMaxActCalibratesOnceInEval(t *testing.T) {
	q := quant.NewMinMaxAct[B](8)
	q.SetTraining(false)
	q.Forward(vec(cpu.New(), 1.27))
	s, err := q.ScaleFactor()
	require.NoError(t, err)
	assert.InDelta(t, 0.01, s.Item(), 1e-6)
}

func TestPACTAct(t *testing.T) {
	backend := cpu.New()
	q := quant.NewPACTAct(2, backend)
	assert.Equal(t, float32(quant.DefaultPACTClip), q.Alpha().Tensor().Item())

	out := q.Forward(vec(backend, -1, 3, 5, 9))
	assert.InDeltaSlice(t, []float32{0, 4, 6, 6}, out.Data(), 1e-5)
	s, err := q.ScaleFactor()
	require.NoError(t, err)
	assert.InDelta(t, 2, s.Item(), 1e-6)

	named := q.NamedQuantParameters("input_quantizer", true)
	require.Len(t, named, 1)
	assert.Equal(t, "input_quantizer.alpha", named[0].Name)
	assert.Equal(t, float32(6), q.Summary()["clip_value"])
}

func TestPACTAlphaGetsGradient(t *testing.T) {
	backend := autodiff.New(cpu.New())
	q := quant.NewPACTAct(4, backend)
	backend.Tape().StartRecording()
	x := tensor.MustFromSlice([]float32{1, 7, 8}, tensor.Shape{3}, backend)
	grads := autodiff.Backward(q.Forward(x).Sum(), backend)
	g := grads[q.Alpha().Tensor().Raw()]
	require.NotNil(t, g)
	assert.Greater(t, g.Item(), float32(0), "clipped inputs push alpha up")
}

func TestStraightThroughGradient(t *testing.T) {
	backend := autodiff.New(cpu.New())
	q := quant.NewMinMaxWeight[*autodiff.AutodiffBackend[B]](8)
	backend.Tape().StartRecording()
	w := tensor.MustFromSlice([]float32{-0.3, 0.11, 0.5}, tensor.Shape{3}, backend)
	grads := autodiff.Backward(q.Forward(w).Sum(), backend)
	g := grads[w.Raw()]
	require.NotNil(t, g)
	assert.InDeltaSlice(t, []float32{1, 1, 1}, g.Data(), 1e-5)
}

func TestBiasScaleIsProductOfPeers(t *testing.T) {
	backend := cpu.New()
	act := quant.NewMinMaxAct[B](8)
	weight := quant.NewMinMaxWeight[B](8)
	bias := quant.NewMinMaxBias(quant.DefaultBiasBits, quant.Quantizer[B](act), quant.Quantizer[B](weight))
	assert.Len(t, bias.Dependencies(), 2)

	act.Forward(vec(backend, 2.54))
	weight.Forward(vec(backend, -0.127))
	s, err := bias.ScaleFactor()
	require.NoError(t, err)
	assert.InDelta(t, 0.02*0.001, s.Item(), 1e-9)

	bias.SetDequantize(false)
	assert.InDeltaSlice(t, []float32{50, -100}, bias.Forward(vec(backend, 0.001, -0.002)).Data(), 1e-3)
}

func TestBiasWithUnsetPeer(t *testing.T) {
	backend := cpu.New()
	act := quant.NewMinMaxAct[B](8)
	weight := quant.NewMinMaxWeight[B](8)
	bias := quant.NewMinMaxBias(8, quant.Quantizer[B](act), quant.Quantizer[B](weight))

	_, err := bias.ScaleFactor()
	assert.True(t, naserr.Is(err, naserr.ErrConfiguration), "got %v", err)
	assert.Contains(t, err.Error(), "bias scale needs the activation scale")
	assert.Equal(t, 1, strings.Count(err.Error(), naserr.ErrConfiguration.Error()), err.Error())

	err = naserr.Catch(func() { bias.Forward(vec(backend, 1)) })
	require.Error(t, err)
	assert.True(t, naserr.Is(err, naserr.ErrConfiguration), "got %v", err)
	assert.Nil(t, bias.Summary()["scale_factor"])

	assert.True(t, naserr.Is(bias.Export(nil, nil), naserr.ErrUnimplemented))
}

func TestResolveScales(t *testing.T) {
	backend := cpu.New()
	act := quant.NewMinMaxAct[B](8)
	weight := quant.NewMinMaxWeight[B](8)
	bias := quant.NewMinMaxBias(32, quant.Quantizer[B](act), quant.Quantizer[B](weight))

	// Dependent quantizers are resolved after their peers regardless of order.
	err := quant.ResolveScales([]quant.Calibration[B]{
		{Quantizer: bias},
		{Quantizer: act, Input: vec(backend, 1.27)},
		{Quantizer: weight, Input: vec(backend, 0.254)},
	})
	require.NoError(t, err)
	s, err := bias.ScaleFactor()
	require.NoError(t, err)
	assert.InDelta(t, 0.01*0.002, s.Item(), 1e-9)

	lonely := quant.NewMinMaxBias(32, quant.Quantizer[B](quant.NewMinMaxAct[B](8)), quant.Quantizer[B](weight))
	err = quant.ResolveScales([]quant.Calibration[B]{{Quantizer: lonely}})
	assert.True(t, naserr.Is(err, naserr.ErrConfiguration), "got %v", err)
}

func TestInvalidPrecision(t *testing.T) {
	err := naserr.Catch(func() { quant.NewMinMaxWeight[B](1) })
	assert.True(t, naserr.Is(err, naserr.ErrConfiguration), "got %v", err)
}
