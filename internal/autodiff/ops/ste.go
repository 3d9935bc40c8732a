package ops

import "github.com/born-ml/flexnas/internal/tensor"

// RoundOp is rounding with a straight-through estimator: the backward pass
// behaves as if the forward were the identity.
type RoundOp struct{ base }

// NewRoundOp creates a new RoundOp.
func NewRoundOp(input, output *tensor.RawTensor) *RoundOp {
	return &RoundOp{newBase(output, input)}
}

// Backward passes the gradient through unchanged.
func (op *RoundOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{outputGrad}
}

// BinarizeOp is threshold binarization with a straight-through estimator.
//
// Backward pass:
//   - d/dx: identity
//   - d/dthreshold: zero
type BinarizeOp struct{ base }

// NewBinarizeOp creates a new BinarizeOp.
func NewBinarizeOp(input, threshold, output *tensor.RawTensor) *BinarizeOp {
	return &BinarizeOp{newBase(output, input, threshold)}
}

// Backward returns [grad, 0].
func (op *BinarizeOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{outputGrad, zerosLike(op.inputs[1])}
}
