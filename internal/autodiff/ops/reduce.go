package ops

import "github.com/born-ml/flexnas/internal/tensor"

// SumOp represents a full reduction to a [1] tensor.
type SumOp struct{ base }

// NewSumOp creates a new SumOp.
func NewSumOp(input, output *tensor.RawTensor) *SumOp {
	return &SumOp{newBase(output, input)}
}

// Backward broadcasts the scalar gradient to the input shape.
func (op *SumOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Expand(outputGrad, op.inputs[0].Shape())}
}

// SumDimOp represents a sum (or mean, with scale 1/n) along one dimension.
type SumDimOp struct {
	base
	dim     int
	keepDim bool
	scale   float32
}

// NewSumDimOp creates a new SumDimOp. dim must already be normalized.
func NewSumDimOp(input, output *tensor.RawTensor, dim int, keepDim bool) *SumDimOp {
	return &SumDimOp{base: newBase(output, input), dim: dim, keepDim: keepDim, scale: 1}
}

// NewMeanDimOp creates a SumDimOp scaled by 1/size(dim).
func NewMeanDimOp(input, output *tensor.RawTensor, dim int, keepDim bool) *SumDimOp {
	op := NewSumDimOp(input, output, dim, keepDim)
	op.scale = 1 / float32(input.Shape()[dim])
	return op
}

// Backward broadcasts the reduced gradient back along dim.
func (op *SumDimOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	inShape := op.inputs[0].Shape()
	grad := outputGrad
	if !op.keepDim {
		kept := inShape.Clone()
		kept[op.dim] = 1
		grad = backend.Reshape(grad, kept)
	}
	grad = backend.Expand(grad, inShape)
	if op.scale != 1 {
		grad = backend.MulScalar(grad, op.scale)
	}
	return []*tensor.RawTensor{grad}
}

// SoftmaxOp represents softmax along a dimension.
//
// Backward pass: dx = y * (grad - Σ(grad * y)) along dim.
type SoftmaxOp struct {
	base
	dim int
}

// NewSoftmaxOp creates a new SoftmaxOp. dim must already be normalized.
func NewSoftmaxOp(input, output *tensor.RawTensor, dim int) *SoftmaxOp {
	return &SoftmaxOp{base: newBase(output, input), dim: dim}
}

// Backward computes the softmax Jacobian-vector product.
func (op *SoftmaxOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	y := op.output
	dot := backend.SumDim(backend.Mul(outputGrad, y), op.dim, true)
	return []*tensor.RawTensor{backend.Mul(y, backend.Sub(outputGrad, dot))}
}
