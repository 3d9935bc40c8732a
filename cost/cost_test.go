package cost_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/born-ml/flexnas/cost"
	"github.com/born-ml/flexnas/internal/backend/cpu"
	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
)

type B = *cpu.CPUBackend

func TestParamsMatchTensorSizes(t *testing.T) {
	backend := cpu.New()
	cases := []struct {
		name  string
		layer nn.Module[B]
	}{
		{"conv1d", nn.NewConv1d(7, 5, 3, nn.ConvConfig{}, backend)},
		{"conv1d no bias", nn.NewConv1d(7, 5, 3, nn.ConvConfig{NoBias: true}, backend)},
		{"conv1d depthwise", nn.NewConv1d(6, 6, 3, nn.ConvConfig{Groups: 6}, backend)},
		{"conv2d", nn.NewConv2d(4, 8, 3, nn.ConvConfig{}, backend)},
		{"conv2d depthwise", nn.NewConv2d(4, 4, 3, nn.ConvConfig{Groups: 4}, backend)},
		{"linear", nn.NewLinear(10, 3, backend)},
		{"linear no bias", nn.NewLinearWithBias(10, 3, false, backend)},
		{"batchnorm", nn.NewBatchNorm1d(5, backend)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, nn.CountParameters(tc.layer), cost.Params(tc.layer))
		})
	}
}

func TestMACs(t *testing.T) {
	backend := cpu.New()
	conv := nn.NewConv1d(3, 4, 5, nn.ConvConfig{}, backend)
	assert.Equal(t, 4*3*5*10, cost.MACs[B](conv, tensor.Shape{32, 4, 10}))

	fc := nn.NewLinear(8, 2, backend)
	assert.Equal(t, 16, cost.MACs[B](fc, tensor.Shape{32, 2}))
	assert.Equal(t, 0, cost.MACs[B](nn.NewReLU[B](), tensor.Shape{32, 2}))
}

func TestTreeCosts(t *testing.T) {
	backend := cpu.New()
	branch := nn.NewSequential[B](
		nn.NewConv1d(2, 2, 3, nn.ConvConfig{Padding: 1}, backend),
		nn.NewReLU[B](),
		nn.NewConv1d(2, 2, 1, nn.ConvConfig{}, backend),
	)
	assert.Equal(t, (2*2*3+2)+(2*2+2), cost.TreeParams[B](branch))

	shapes := map[string]tensor.Shape{
		"b.0": {32, 2, 8},
		"b.2": {32, 2, 8},
	}
	assert.Equal(t, 2*2*3*8+2*2*8, cost.TreeMACs[B](branch, "b", shapes))
}
