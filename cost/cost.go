// Package cost estimates the size (parameters) and complexity (multiply
// accumulate operations) of layers.
//
// Estimates follow the layer hyperparameters, not the stored tensors, so they
// also apply to layers whose channels are masked by a NAS method: such layers
// implement Estimator and report their effective cost.
package cost

import (
	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
)

// Estimator is implemented by layers that compute their own cost.
type Estimator interface {
	// EstimateParams returns the number of parameters.
	EstimateParams() int
	// EstimateMACs returns the MACs of one sample producing outShape
	// (batch dimension included and ignored).
	EstimateMACs(outShape tensor.Shape) int
}

// Conv1dParams returns the parameters of a 1D convolution.
func Conv1dParams(in, out, k, groups int, bias bool) int {
	p := out * (in / groups) * k
	if bias {
		p += out
	}
	return p
}

// Conv2dParams returns the parameters of a 2D convolution.
func Conv2dParams(in, out, kh, kw, groups int, bias bool) int {
	p := out * (in / groups) * kh * kw
	if bias {
		p += out
	}
	return p
}

// LinearParams returns the parameters of a fully connected layer.
func LinearParams(in, out int, bias bool) int {
	p := in * out
	if bias {
		p += out
	}
	return p
}

// Params estimates the parameters of a single module. Unknown modules
// report the size of their parameter tensors.
func Params[B tensor.Backend](m nn.Module[B]) int {
	switch l := any(m).(type) {
	case Estimator:
		return l.EstimateParams()
	case *nn.Conv1d[B]:
		return Conv1dParams(l.InChannels(), l.OutChannels(), l.KernelSize(), l.Groups(), l.Bias() != nil)
	case *nn.Conv2d[B]:
		return Conv2dParams(l.InChannels(), l.OutChannels(), l.KernelSize(), l.KernelSize(), l.Groups(), l.Bias() != nil)
	case *nn.Linear[B]:
		return LinearParams(l.InFeatures(), l.OutFeatures(), l.Bias() != nil)
	default:
		return nn.CountParameters(m)
	}
}

// MACs estimates the multiply-accumulate operations of one sample through m
// given its output shape. Modules without weights count as zero.
func MACs[B tensor.Backend](m nn.Module[B], outShape tensor.Shape) int {
	spatial := 1
	if len(outShape) > 2 {
		spatial = outShape[2:].NumElements()
	}
	switch l := any(m).(type) {
	case Estimator:
		return l.EstimateMACs(outShape)
	case *nn.Conv1d[B]:
		return Conv1dParams(l.InChannels(), l.OutChannels(), l.KernelSize(), l.Groups(), false) * spatial
	case *nn.Conv2d[B]:
		return Conv2dParams(l.InChannels(), l.OutChannels(), l.KernelSize(), l.KernelSize(), l.Groups(), false) * spatial
	case *nn.Linear[B]:
		return LinearParams(l.InFeatures(), l.OutFeatures(), false)
	default:
		return 0
	}
}

// TreeParams sums Params over the leaves of m.
func TreeParams[B tensor.Backend](m nn.Module[B]) int {
	total := 0
	nn.Walk(m, func(_ string, mod nn.Module[B]) {
		if len(nn.Children(mod)) == 0 {
			total += Params(mod)
		} else if _, ok := any(mod).(Estimator); ok {
			total += Params(mod)
		}
	})
	return total
}

// TreeMACs sums MACs over the leaves of m, named by their qualified names
// under prefix. outShapes maps qualified names to observed output shapes;
// leaves without a shape are skipped.
func TreeMACs[B tensor.Backend](m nn.Module[B], prefix string, outShapes map[string]tensor.Shape) int {
	total := 0
	nn.Walk(m, func(name string, mod nn.Module[B]) {
		_, isEstimator := any(mod).(Estimator)
		if len(nn.Children(mod)) > 0 && !isEstimator {
			return
		}
		if shape, ok := outShapes[nn.JoinName(prefix, name)]; ok {
			total += MACs(mod, shape)
		}
	})
	return total
}
