// Package ops defines operation interfaces and implementations for automatic differentiation.
//
// Each operation implements the Operation interface, which provides:
//   - Forward pass: computed by the backend
//   - Backward pass: computes gradients for inputs given output gradient
//
// The discretization operations (RoundOp, BinarizeOp) are straight-through
// estimators: their backward pass treats the forward as the identity for the
// primary input and routes a zero gradient to any auxiliary input.
package ops

import "github.com/born-ml/flexnas/internal/tensor"

// Operation represents a differentiable operation in the computation graph.
// Each operation records its inputs and output during the forward pass,
// and computes input gradients during the backward pass.
type Operation interface {
	// Backward computes gradients for inputs given the output gradient.
	// Returns a slice of gradients corresponding to each input tensor; a nil
	// entry means no gradient flows to that input.
	//
	// Example for AddOp:
	//   inputs: [a, b]
	//   outputGrad: dL/d(a+b)
	//   returns: [dL/d(a+b), dL/d(a+b)] (gradient flows equally to both inputs)
	Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor

	// Inputs returns the input tensors for this operation.
	Inputs() []*tensor.RawTensor

	// Output returns the output tensor produced by this operation.
	Output() *tensor.RawTensor
}

// base stores the recorded inputs and output shared by all operations.
type base struct {
	inputs []*tensor.RawTensor
	output *tensor.RawTensor
}

func newBase(output *tensor.RawTensor, inputs ...*tensor.RawTensor) base {
	return base{inputs: inputs, output: output}
}

// Inputs returns the input tensors.
func (b *base) Inputs() []*tensor.RawTensor { return b.inputs }

// Output returns the output tensor.
func (b *base) Output() *tensor.RawTensor { return b.output }
