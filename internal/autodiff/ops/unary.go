package ops

import "github.com/born-ml/flexnas/internal/tensor"

// AbsOp represents output = |x|; d|x|/dx = sign(x), with 0 at x = 0.
type AbsOp struct{ base }

// NewAbsOp creates a new AbsOp.
func NewAbsOp(input, output *tensor.RawTensor) *AbsOp {
	return &AbsOp{newBase(output, input)}
}

// Backward computes grad * sign(x).
func (op *AbsOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	sign := tensor.MustRaw(op.inputs[0].Shape(), op.inputs[0].Device())
	sd := sign.Data()
	for i, v := range op.inputs[0].Data() {
		switch {
		case v > 0:
			sd[i] = 1
		case v < 0:
			sd[i] = -1
		}
	}
	return []*tensor.RawTensor{backend.Mul(outputGrad, sign)}
}

// ExpOp represents output = e^x.
type ExpOp struct{ base }

// NewExpOp creates a new ExpOp.
func NewExpOp(input, output *tensor.RawTensor) *ExpOp {
	return &ExpOp{newBase(output, input)}
}

// Backward computes grad * e^x.
func (op *ExpOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Mul(outputGrad, op.output)}
}

// SqrtOp represents output = √x.
type SqrtOp struct{ base }

// NewSqrtOp creates a new SqrtOp.
func NewSqrtOp(input, output *tensor.RawTensor) *SqrtOp {
	return &SqrtOp{newBase(output, input)}
}

// Backward computes grad / (2√x).
func (op *SqrtOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Div(backend.MulScalar(outputGrad, 0.5), op.output)}
}

// ReLUOp represents a ReLU (Rectified Linear Unit) activation: output = max(0, x).
//
// Backward pass:
//   - d(ReLU(x))/dx = 1 if x > 0, else 0
type ReLUOp struct{ base }

// NewReLUOp creates a new ReLUOp.
func NewReLUOp(input, output *tensor.RawTensor) *ReLUOp {
	return &ReLUOp{newBase(output, input)}
}

// Backward computes input gradient for ReLU.
func (op *ReLUOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	mask := maskWhere(op.inputs[0], func(v float32) bool { return v > 0 })
	return []*tensor.RawTensor{backend.Mul(outputGrad, mask)}
}

// ClampOp represents output = min(max(x, lo), hi). The gradient flows where
// lo <= x <= hi.
type ClampOp struct {
	base
	lo, hi float32
}

// NewClampOp creates a new ClampOp.
func NewClampOp(input, output *tensor.RawTensor, lo, hi float32) *ClampOp {
	return &ClampOp{base: newBase(output, input), lo: lo, hi: hi}
}

// Backward masks the gradient outside the clamp range.
func (op *ClampOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	mask := maskWhere(op.inputs[0], func(v float32) bool { return v >= op.lo && v <= op.hi })
	return []*tensor.RawTensor{backend.Mul(outputGrad, mask)}
}
