package ops

import "github.com/born-ml/flexnas/internal/tensor"

// ReshapeOp represents a reshape; the gradient is reshaped back.
type ReshapeOp struct{ base }

// NewReshapeOp creates a new ReshapeOp.
func NewReshapeOp(input, output *tensor.RawTensor) *ReshapeOp {
	return &ReshapeOp{newBase(output, input)}
}

// Backward reshapes the gradient to the input shape.
func (op *ReshapeOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Reshape(outputGrad, op.inputs[0].Shape())}
}

// TransposeOp represents a permutation of dimensions.
type TransposeOp struct {
	base
	axes []int
}

// NewTransposeOp creates a new TransposeOp. Empty axes mean full reversal.
func NewTransposeOp(input, output *tensor.RawTensor, axes []int) *TransposeOp {
	return &TransposeOp{base: newBase(output, input), axes: axes}
}

// Backward applies the inverse permutation.
func (op *TransposeOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	if len(op.axes) == 0 {
		return []*tensor.RawTensor{backend.Transpose(outputGrad)}
	}
	inverse := make([]int, len(op.axes))
	for i, ax := range op.axes {
		inverse[ax] = i
	}
	return []*tensor.RawTensor{backend.Transpose(outputGrad, inverse...)}
}

// ExpandOp represents broadcasting to a larger shape.
type ExpandOp struct{ base }

// NewExpandOp creates a new ExpandOp.
func NewExpandOp(input, output *tensor.RawTensor) *ExpandOp {
	return &ExpandOp{newBase(output, input)}
}

// Backward sums the gradient over the broadcast dimensions.
func (op *ExpandOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{reduceBroadcast(outputGrad, op.inputs[0].Shape(), backend)}
}

// CatOp represents concatenation along a dimension.
type CatOp struct {
	base
	dim int
}

// NewCatOp creates a new CatOp. dim must already be normalized.
func NewCatOp(inputs []*tensor.RawTensor, output *tensor.RawTensor, dim int) *CatOp {
	return &CatOp{base: newBase(output, inputs...), dim: dim}
}

// Backward slices the gradient back into one piece per input.
func (op *CatOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	grads := make([]*tensor.RawTensor, len(op.inputs))
	start := 0
	for i, in := range op.inputs {
		length := in.Shape()[op.dim]
		grads[i] = narrow(outputGrad, op.dim, start, length)
		start += length
	}
	return grads
}
