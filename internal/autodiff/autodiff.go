// Package autodiff implements automatic differentiation using the decorator pattern.
//
// AutodiffBackend wraps any Backend implementation and adds gradient tracking
// capabilities through a GradientTape.
//
// Architecture:
//   - Decorator pattern: AutodiffBackend[B] wraps any Backend implementation
//   - GradientTape: Records operations during forward pass
//   - Operation interface: Each op implements its backward pass
//   - Reverse-mode AD: Computes gradients efficiently using chain rule
//
// Usage:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//	x := tensor.MustFromSlice([]float32{2.0}, tensor.Shape{1}, backend)
//	y := x.Mul(x) // y = x²
//	grads := autodiff.Backward(y, backend)
//	fmt.Println(grads[x.Raw()]) // dy/dx = 2x = 4.0
package autodiff

import (
	"github.com/born-ml/flexnas/internal/autodiff/ops"
	"github.com/born-ml/flexnas/internal/tensor"
)

// AutodiffBackend wraps a Backend and adds automatic differentiation.
// It implements the tensor.Backend interface and records operations in a GradientTape.
//
// Type parameter B must satisfy the tensor.Backend interface.
type AutodiffBackend[B tensor.Backend] struct {
	inner B             // Wrapped backend
	tape  *GradientTape // Records operations for backpropagation
}

// New creates a new AutodiffBackend wrapping the given backend.
func New[B tensor.Backend](backend B) *AutodiffBackend[B] {
	return &AutodiffBackend[B]{
		inner: backend,
		tape:  NewGradientTape(),
	}
}

// Tape returns the gradient tape for manual control.
func (b *AutodiffBackend[B]) Tape() *GradientTape {
	return b.tape
}

// Inner returns the wrapped backend for direct access.
func (b *AutodiffBackend[B]) Inner() B {
	return b.inner
}

// Name returns the backend name.
func (b *AutodiffBackend[B]) Name() string {
	return "Autodiff(" + b.inner.Name() + ")"
}

// Device returns the compute device.
func (b *AutodiffBackend[B]) Device() tensor.Device {
	return b.inner.Device()
}

func (b *AutodiffBackend[B]) record(op ops.Operation) {
	if b.tape.IsRecording() {
		b.tape.Record(op)
	}
}

// Add performs element-wise addition and records the operation.
func (b *AutodiffBackend[B]) Add(x, y *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Add(x, y)
	b.record(ops.NewAddOp(x, y, result))
	return result
}

// Sub performs element-wise subtraction and records the operation.
func (b *AutodiffBackend[B]) Sub(x, y *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Sub(x, y)
	b.record(ops.NewSubOp(x, y, result))
	return result
}

// Mul performs element-wise multiplication and records the operation.
func (b *AutodiffBackend[B]) Mul(x, y *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Mul(x, y)
	b.record(ops.NewMulOp(x, y, result))
	return result
}

// Div performs element-wise division and records the operation.
func (b *AutodiffBackend[B]) Div(x, y *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Div(x, y)
	b.record(ops.NewDivOp(x, y, result))
	return result
}

// MatMul performs matrix multiplication and records the operation.
func (b *AutodiffBackend[B]) MatMul(x, y *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.MatMul(x, y)
	b.record(ops.NewMatMulOp(x, y, result))
	return result
}

// Conv2D performs a 2D convolution and records the operation.
func (b *AutodiffBackend[B]) Conv2D(input, kernel *tensor.RawTensor, p tensor.ConvParams) *tensor.RawTensor {
	result := b.inner.Conv2D(input, kernel, p)
	b.record(ops.NewConv2DOp(input, kernel, result, p))
	return result
}

// Conv2DInputGrad delegates to the wrapped backend (not recorded).
func (b *AutodiffBackend[B]) Conv2DInputGrad(grad, kernel *tensor.RawTensor, inputShape tensor.Shape, p tensor.ConvParams) *tensor.RawTensor {
	return b.inner.Conv2DInputGrad(grad, kernel, inputShape, p)
}

// Conv2DKernelGrad delegates to the wrapped backend (not recorded).
func (b *AutodiffBackend[B]) Conv2DKernelGrad(input, grad *tensor.RawTensor, kernelShape tensor.Shape, p tensor.ConvParams) *tensor.RawTensor {
	return b.inner.Conv2DKernelGrad(input, grad, kernelShape, p)
}

// AvgPool2D performs average pooling and records the operation.
func (b *AutodiffBackend[B]) AvgPool2D(input *tensor.RawTensor, p tensor.PoolParams) *tensor.RawTensor {
	result := b.inner.AvgPool2D(input, p)
	b.record(ops.NewAvgPool2DOp(input, result, p))
	return result
}

// AvgPool2DGrad delegates to the wrapped backend (not recorded).
func (b *AutodiffBackend[B]) AvgPool2DGrad(grad *tensor.RawTensor, inputShape tensor.Shape, p tensor.PoolParams) *tensor.RawTensor {
	return b.inner.AvgPool2DGrad(grad, inputShape, p)
}

// MaxPool2D performs max pooling and records the operation.
func (b *AutodiffBackend[B]) MaxPool2D(input *tensor.RawTensor, p tensor.PoolParams) *tensor.RawTensor {
	result := b.inner.MaxPool2D(input, p)
	b.record(ops.NewMaxPool2DOp(input, result, p))
	return result
}

// MaxPool2DGrad delegates to the wrapped backend (not recorded).
func (b *AutodiffBackend[B]) MaxPool2DGrad(input, grad *tensor.RawTensor, p tensor.PoolParams) *tensor.RawTensor {
	return b.inner.MaxPool2DGrad(input, grad, p)
}

// Reshape changes the shape and records the operation.
func (b *AutodiffBackend[B]) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	result := b.inner.Reshape(t, newShape)
	b.record(ops.NewReshapeOp(t, result))
	return result
}

// Transpose permutes dimensions and records the operation.
func (b *AutodiffBackend[B]) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	result := b.inner.Transpose(t, axes...)
	b.record(ops.NewTransposeOp(t, result, axes))
	return result
}

// Expand broadcasts to a larger shape and records the operation.
func (b *AutodiffBackend[B]) Expand(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	result := b.inner.Expand(t, newShape)
	b.record(ops.NewExpandOp(t, result))
	return result
}

// Cat concatenates tensors and records the operation.
func (b *AutodiffBackend[B]) Cat(tensors []*tensor.RawTensor, dim int) *tensor.RawTensor {
	result := b.inner.Cat(tensors, dim)
	b.record(ops.NewCatOp(tensors, result, result.Shape().NormalizeDim(dim)))
	return result
}

// MulScalar multiplies by a constant and records the operation.
func (b *AutodiffBackend[B]) MulScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	result := b.inner.MulScalar(x, scalar)
	b.record(ops.NewMulScalarOp(x, result, scalar))
	return result
}

// AddScalar adds a constant and records the operation.
func (b *AutodiffBackend[B]) AddScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	result := b.inner.AddScalar(x, scalar)
	b.record(ops.NewAddScalarOp(x, result))
	return result
}

// Abs computes |x| and records the operation.
func (b *AutodiffBackend[B]) Abs(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Abs(x)
	b.record(ops.NewAbsOp(x, result))
	return result
}

// Exp computes e^x and records the operation.
func (b *AutodiffBackend[B]) Exp(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Exp(x)
	b.record(ops.NewExpOp(x, result))
	return result
}

// Sqrt computes √x and records the operation.
func (b *AutodiffBackend[B]) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Sqrt(x)
	b.record(ops.NewSqrtOp(x, result))
	return result
}

// ReLU computes max(x, 0) and records the operation.
func (b *AutodiffBackend[B]) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.ReLU(x)
	b.record(ops.NewReLUOp(x, result))
	return result
}

// Clamp limits x to [lo, hi] and records the operation.
func (b *AutodiffBackend[B]) Clamp(x *tensor.RawTensor, lo, hi float32) *tensor.RawTensor {
	result := b.inner.Clamp(x, lo, hi)
	b.record(ops.NewClampOp(x, result, lo, hi))
	return result
}

// Round rounds x and records a straight-through operation.
func (b *AutodiffBackend[B]) Round(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Round(x)
	b.record(ops.NewRoundOp(x, result))
	return result
}

// Binarize thresholds x and records a straight-through operation.
func (b *AutodiffBackend[B]) Binarize(x, threshold *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Binarize(x, threshold)
	b.record(ops.NewBinarizeOp(x, threshold, result))
	return result
}

// Softmax normalizes along dim and records the operation.
func (b *AutodiffBackend[B]) Softmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	result := b.inner.Softmax(x, dim)
	b.record(ops.NewSoftmaxOp(x, result, x.Shape().NormalizeDim(dim)))
	return result
}

// Sum reduces all elements and records the operation.
func (b *AutodiffBackend[B]) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Sum(x)
	b.record(ops.NewSumOp(x, result))
	return result
}

// SumDim sums along dim and records the operation.
func (b *AutodiffBackend[B]) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	result := b.inner.SumDim(x, dim, keepDim)
	b.record(ops.NewSumDimOp(x, result, x.Shape().NormalizeDim(dim), keepDim))
	return result
}

// MeanDim averages along dim and records the operation.
func (b *AutodiffBackend[B]) MeanDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	result := b.inner.MeanDim(x, dim, keepDim)
	b.record(ops.NewMeanDimOp(x, result, x.Shape().NormalizeDim(dim), keepDim))
	return result
}
