package features_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/flexnas/features"
	"github.com/born-ml/flexnas/internal/autodiff"
	"github.com/born-ml/flexnas/internal/backend/cpu"
	"github.com/born-ml/flexnas/internal/tensor"
)

func TestConst(t *testing.T) {
	backend := cpu.New()
	c := features.NewConst(4, backend)
	assert.Equal(t, 4, c.NumFeatures())
	assert.Equal(t, float32(4), c.Features().Item())
	assert.Equal(t, []float32{1, 1, 1, 1}, c.FeaturesMask().Data())
}

func TestMaskedFollowsMask(t *testing.T) {
	backend := cpu.New()
	mask := tensor.MustFromSlice([]float32{1, 0, 1}, tensor.Shape{3}, backend)
	m := features.NewMasked(3, func() *tensor.Tensor[*cpu.CPUBackend] { return mask })
	assert.Equal(t, float32(2), m.Features().Item())

	mask.Data()[1] = 1
	assert.Equal(t, float32(3), m.Features().Item(), "calculator must be lazy")
	assert.Equal(t, []int{0, 1, 2}, features.AliveIndices(m.FeaturesMask()))
}

func TestFlattenRepeatsChannels(t *testing.T) {
	backend := cpu.New()
	mask := tensor.MustFromSlice([]float32{1, 0}, tensor.Shape{2}, backend)
	f := features.NewFlatten[*cpu.CPUBackend](features.NewMasked(2, func() *tensor.Tensor[*cpu.CPUBackend] { return mask }), 3)

	assert.Equal(t, 6, f.NumFeatures())
	assert.Equal(t, float32(3), f.Features().Item())
	assert.Equal(t, []float32{1, 1, 1, 0, 0, 0}, f.FeaturesMask().Data())
}

func TestConcat(t *testing.T) {
	backend := cpu.New()
	c := features.NewConcat([]features.Calculator[*cpu.CPUBackend]{
		features.NewConst(2, backend),
		features.NewConst(3, backend),
	})
	assert.Equal(t, 5, c.NumFeatures())
	assert.Equal(t, float32(5), c.Features().Item())
	assert.Len(t, c.FeaturesMask().Data(), 5)
}

func TestSoftMaxIsDifferentiable(t *testing.T) {
	backend := autodiff.New(cpu.New())
	backend.Tape().StartRecording()

	alpha := tensor.MustFromSlice([]float32{0, 0}, tensor.Shape{2}, backend)
	s := features.NewSoftMax(
		func() *tensor.Tensor[*autodiff.AutodiffBackend[*cpu.CPUBackend]] { return alpha.Softmax(0) },
		[]features.Calculator[*autodiff.AutodiffBackend[*cpu.CPUBackend]]{
			features.NewConst(2, backend),
			features.NewConst(4, backend),
		})

	feats := s.Features()
	assert.InDelta(t, 3.0, feats.Item(), 1e-6)

	grads := autodiff.Backward(feats, backend)
	g := grads[alpha.Raw()]
	require.NotNil(t, g)
	// d/dalpha of 0.5*2 + 0.5*4 pushes weight towards the larger branch.
	assert.Less(t, g.Data()[0], float32(0))
	assert.Greater(t, g.Data()[1], float32(0))
}
