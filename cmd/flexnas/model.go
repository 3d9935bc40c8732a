package main

import (
	"github.com/born-ml/flexnas/methods/supernet"
	"github.com/born-ml/flexnas/nn"
	"github.com/born-ml/flexnas/tensor"
)

// newSimpleNN builds the 1D demo network: two conv/bn/pool/relu6 stages, a
// dropout and a classifier.
func newSimpleNN[B tensor.Backend](cfg *Config, backend B) *nn.Sequential[B] {
	channels, length := cfg.InputShape[0], cfg.InputShape[1]
	var conv1 nn.Module[B] = nn.NewConv1d(32, 57, 5, nn.ConvConfig{Padding: 2}, backend)
	if cfg.SuperNet {
		conv1 = supernet.NewModule[B](backend,
			conv1,
			nn.NewConv1d(32, 57, 3, nn.ConvConfig{Padding: 1}, backend),
		)
	}
	return nn.NewSequential[B](
		nn.NewConv1d(channels, 32, 3, nn.ConvConfig{Padding: 1}, backend),
		nn.NewBatchNorm1d(32, backend),
		nn.NewAvgPool1d[B](2, 0),
		nn.NewReLU6[B](),
		conv1,
		nn.NewBatchNorm1d(57, backend),
		nn.NewAvgPool1d[B](2, 0),
		nn.NewReLU6[B](),
		nn.NewDropout[B](0.5),
		nn.NewFlatten[B](),
		nn.NewLinear(57*(length/4), cfg.NumClasses, backend),
	)
}

// newSimpleCNN builds the 2D demo network used for integer deployment,
// taking [1, 16, 16] inputs.
func newSimpleCNN[B tensor.Backend](cfg *Config, backend B) *nn.Sequential[B] {
	return nn.NewSequential[B](
		nn.NewConv2d(1, 8, 3, nn.ConvConfig{Padding: 1}, backend),
		nn.NewReLU[B](),
		nn.NewMaxPool2d[B](2, 0),
		nn.NewConv2d(8, 16, 3, nn.ConvConfig{Padding: 1}, backend),
		nn.NewReLU[B](),
		nn.NewAvgPool2d[B](2, 0),
		nn.NewFlatten[B](),
		nn.NewLinear(16*4*4, cfg.NumClasses, backend),
	)
}
