package pit_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/flexnas/internal/autodiff"
	"github.com/born-ml/flexnas/internal/backend/cpu"
	"github.com/born-ml/flexnas/internal/tensor"
	"github.com/born-ml/flexnas/methods/pit"
)

type B = *cpu.CPUBackend

type tapeBackend = *autodiff.AutodiffBackend[*cpu.CPUBackend]

func TestTimestepMaskerKeepAliveAndMonotone(t *testing.T) {
	backend := cpu.New()
	betas := [][]float32{
		{0, 0, 0, 0, 0},
		{1, 1, 1, 1, 1},
		{-3, 0.1, 0, 0.3, 0},
		{0, 0.2, 0.2, 0.05, 0.05},
		{5, -0.6, 0, 0, 0},
	}
	for _, beta := range betas {
		m := pit.NewTimestepMasker(len(beta), backend)
		copy(m.Beta().Tensor().Data(), beta)
		mask := m.Mask().Data()
		assert.Equal(t, float32(1), mask[0], "keep-alive bit for beta %v", beta)
		for i := 1; i < len(mask); i++ {
			assert.LessOrEqual(t, mask[i], mask[i-1], "mask %v not monotone", mask)
			assert.Contains(t, []float32{0, 1}, mask[i])
		}
	}
}

func TestTimestepMaskerValues(t *testing.T) {
	m := pit.NewTimestepMasker(4, cpu.New())
	// theta = [1+0.3+0.1+0.05, 0.45, 0.15, 0.05]
	copy(m.Beta().Tensor().Data(), []float32{9, 0.3, 0.1, 0.05})
	assert.Equal(t, []float32{1, 0, 0, 0}, m.Mask().Data())

	copy(m.Beta().Tensor().Data(), []float32{0, 0.3, 0.1, 0.4})
	assert.Equal(t, []float32{1, 1, 1, 0}, m.Mask().Data())
}

func TestChannelMaskerIsIndependent(t *testing.T) {
	m := pit.NewChannelMasker(4, cpu.New())
	assert.Equal(t, []float32{1, 1, 1, 1}, m.Mask().Data())

	copy(m.Beta().Tensor().Data(), []float32{0, 0.2, 0.7, -0.6})
	assert.Equal(t, []float32{1, 0, 1, 1}, m.Mask().Data())

	m.KeepAll()
	assert.Equal(t, []float32{1, 1, 1, 1}, m.Mask().Data())
}

func TestMaskerGradientsAndFreezing(t *testing.T) {
	backend := autodiff.New(cpu.New())
	m := pit.NewChannelMasker(3, backend)
	require.True(t, m.Trainable())

	backend.Tape().StartRecording()
	grads := autodiff.Backward(m.Mask().Sum(), backend)
	g := grads[m.Beta().Tensor().Raw()]
	require.NotNil(t, g)
	// Straight-through: d|beta|/dbeta = 1 for positive beta, 0 on keep-alive.
	assert.Equal(t, []float32{0, 1, 1}, g.Data())
	backend.Tape().Clear()

	m.SetTrainable(false)
	assert.False(t, m.Trainable())
	assert.False(t, m.Beta().Trainable())
	grads = autodiff.Backward(m.Mask().Sum(), backend)
	assert.Nil(t, grads[m.Beta().Tensor().Raw()])
}

func TestChannelMaskerForwardIgnoresInput(t *testing.T) {
	backend := cpu.New()
	m := pit.NewChannelMasker(2, backend)
	out := m.Forward(tensor.Zeros(tensor.Shape{7}, backend))
	assert.Equal(t, tensor.Shape{2}, out.Shape())
	assert.Len(t, m.Parameters(), 1)
}

func newTape() tapeBackend { return autodiff.New(cpu.New()) }

func autodiffBackward(t *tensor.Tensor[tapeBackend], backend tapeBackend) map[*tensor.RawTensor]*tensor.RawTensor {
	return autodiff.Backward(t, backend)
}
