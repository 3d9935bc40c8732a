package ops

import "github.com/born-ml/flexnas/internal/tensor"

// Conv2DOp represents a grouped, dilated 2D convolution.
//
// Backward pass:
//   - d/dinput: transposed convolution of the gradient with the kernel
//   - d/dkernel: correlation of the input with the gradient
type Conv2DOp struct {
	base
	params tensor.ConvParams
}

// NewConv2DOp creates a new Conv2DOp.
func NewConv2DOp(input, kernel, output *tensor.RawTensor, params tensor.ConvParams) *Conv2DOp {
	return &Conv2DOp{base: newBase(output, input, kernel), params: params}
}

// Backward computes [dInput, dKernel].
func (op *Conv2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	input, kernel := op.inputs[0], op.inputs[1]
	return []*tensor.RawTensor{
		backend.Conv2DInputGrad(outputGrad, kernel, input.Shape(), op.params),
		backend.Conv2DKernelGrad(input, outputGrad, kernel.Shape(), op.params),
	}
}

// AvgPool2DOp represents average pooling.
type AvgPool2DOp struct {
	base
	params tensor.PoolParams
}

// NewAvgPool2DOp creates a new AvgPool2DOp.
func NewAvgPool2DOp(input, output *tensor.RawTensor, params tensor.PoolParams) *AvgPool2DOp {
	return &AvgPool2DOp{base: newBase(output, input), params: params}
}

// Backward spreads the gradient over each pooling window.
func (op *AvgPool2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.AvgPool2DGrad(outputGrad, op.inputs[0].Shape(), op.params)}
}

// MaxPool2DOp represents max pooling.
type MaxPool2DOp struct {
	base
	params tensor.PoolParams
}

// NewMaxPool2DOp creates a new MaxPool2DOp.
func NewMaxPool2DOp(input, output *tensor.RawTensor, params tensor.PoolParams) *MaxPool2DOp {
	return &MaxPool2DOp{base: newBase(output, input), params: params}
}

// Backward routes the gradient to the maximum of each window.
func (op *MaxPool2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.MaxPool2DGrad(op.inputs[0], outputGrad, op.params)}
}
